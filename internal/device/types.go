// Package device holds the in-memory CPE data model: interned paths mapped
// to revisioned timestamps and attributes, plus the helpers the session
// engine uses to mutate, expand, and sanitize it.
package device

import (
	"github.com/joestump/cwmp-acs/internal/path"
	"github.com/joestump/cwmp-acs/internal/vmap"
)

// Attr identifies one attribute kind of a parameter.
type Attr int

const (
	AttrObject Attr = iota
	AttrWritable
	AttrValue
	AttrNotification
	AttrAccessList
)

var attrNames = [...]string{"object", "writable", "value", "notification", "accessList"}

func (a Attr) String() string { return attrNames[a] }

// AttrFromName maps the serialized attribute name back to its Attr.
func AttrFromName(name string) (Attr, bool) {
	for i, n := range attrNames {
		if n == name {
			return Attr(i), true
		}
	}
	return 0, false
}

// Timestamped pairs an attribute payload with the time it was learned.
type Timestamped[T any] struct {
	Timestamp int64
	Value     T
}

// Attributes is the struct-of-options record for one concrete path. A nil
// field means the attribute has never been observed.
type Attributes struct {
	Object       *Timestamped[int]
	Writable     *Timestamped[int]
	Value        *Timestamped[Value]
	Notification *Timestamped[int]
	AccessList   *Timestamped[[]string]
}

// Clone returns a shallow-field copy safe for independent mutation.
func (a *Attributes) Clone() *Attributes {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// Timestamp returns the timestamp recorded for attribute kind k, or 0.
func (a *Attributes) Timestamp(k Attr) int64 {
	if a == nil {
		return 0
	}
	switch k {
	case AttrObject:
		if a.Object != nil {
			return a.Object.Timestamp
		}
	case AttrWritable:
		if a.Writable != nil {
			return a.Writable.Timestamp
		}
	case AttrValue:
		if a.Value != nil {
			return a.Value.Timestamp
		}
	case AttrNotification:
		if a.Notification != nil {
			return a.Notification.Timestamp
		}
	case AttrAccessList:
		if a.AccessList != nil {
			return a.AccessList.Timestamp
		}
	}
	return 0
}

// AttrTimestamps carries per-attribute timestamps for declarations and
// clears; zero means absent.
type AttrTimestamps struct {
	Object       int64
	Writable     int64
	Value        int64
	Notification int64
	AccessList   int64
}

// Get returns the timestamp for kind k.
func (t *AttrTimestamps) Get(k Attr) int64 {
	if t == nil {
		return 0
	}
	switch k {
	case AttrObject:
		return t.Object
	case AttrWritable:
		return t.Writable
	case AttrValue:
		return t.Value
	case AttrNotification:
		return t.Notification
	case AttrAccessList:
		return t.AccessList
	}
	return 0
}

// Set assigns the timestamp for kind k.
func (t *AttrTimestamps) Set(k Attr, ts int64) {
	switch k {
	case AttrObject:
		t.Object = ts
	case AttrWritable:
		t.Writable = ts
	case AttrValue:
		t.Value = ts
	case AttrNotification:
		t.Notification = ts
	case AttrAccessList:
		t.AccessList = ts
	}
}

// MergeMax folds o into t keeping the larger timestamp per attribute.
func (t *AttrTimestamps) MergeMax(o *AttrTimestamps) {
	if o == nil {
		return
	}
	for k := AttrObject; k <= AttrAccessList; k++ {
		if ts := o.Get(k); ts > t.Get(k) {
			t.Set(k, ts)
		}
	}
}

// Empty reports whether no attribute timestamp is set.
func (t *AttrTimestamps) Empty() bool {
	return t == nil || (t.Object == 0 && t.Writable == 0 && t.Value == 0 &&
		t.Notification == 0 && t.AccessList == 0)
}

// AttrValues carries desired attribute values of a declaration's attrSet.
type AttrValues struct {
	Value        *Value
	Notification *int
	AccessList   []string
}

// Merge overlays o onto v, o winning per present field.
func (v *AttrValues) Merge(o *AttrValues) {
	if o == nil {
		return
	}
	if o.Value != nil {
		v.Value = o.Value
	}
	if o.Notification != nil {
		v.Notification = o.Notification
	}
	if o.AccessList != nil {
		v.AccessList = o.AccessList
	}
}

// Bounds is a declaration's desired instance cardinality.
type Bounds struct {
	Min int
	Max int
}

// Declaration is the IR emitted by provisions and virtual parameters: an
// assertion that Path exists (PathGet freshness), has a given cardinality
// (PathSet), and has attributes read no earlier than AttrGet / set to
// AttrSet. Defer suppresses the set side until some provision in the batch
// finishes.
type Declaration struct {
	Path    *path.Path
	PathGet int64
	PathSet *Bounds
	AttrGet *AttrTimestamps
	AttrSet *AttrValues
	Defer   bool
}

// Clear schedules deletion of stale state at or below Path: entries whose
// timestamp is at or before Timestamp, or per-attribute before
// AttrTimestamps.
type Clear struct {
	Path           *path.Path
	Timestamp      int64
	AttrTimestamps *AttrTimestamps
}

// Data is the versioned device data model.
type Data struct {
	Paths      *path.Set
	Timestamps *vmap.VersionedMap[*path.Path, int64]
	Attributes *vmap.VersionedMap[*path.Path, *Attributes]
	Trackers   map[*path.Path]map[string]int
	Changes    map[string]struct{}
}

// New returns an empty data model with the root path interned.
func New() *Data {
	d := &Data{
		Paths:      path.NewSet(),
		Timestamps: vmap.New[*path.Path, int64](),
		Attributes: vmap.New[*path.Path, *Attributes](),
		Trackers:   make(map[*path.Path]map[string]int),
		Changes:    make(map[string]struct{}),
	}
	d.Paths.Add(path.MustParse(""))
	return d
}

// SetRevision points both versioned maps at rev for subsequent reads and
// writes.
func (d *Data) SetRevision(rev int) {
	d.Timestamps.Revision = rev
	d.Attributes.Revision = rev
}

// Collapse folds both maps' history above rev.
func (d *Data) Collapse(rev int) {
	d.Timestamps.Collapse(rev)
	d.Attributes.Collapse(rev)
}
