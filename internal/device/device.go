package device

import (
	"github.com/joestump/cwmp-acs/internal/path"
)

// Set merges attrs into the data model at p, stamping the path timestamp
// monotonically. A nil attrs invalidates the path: the (path, timestamp)
// pair is appended to toClear so the caller sweeps descendants afterwards.
// When the object attribute flips between leaf and interior, children are
// scheduled for clearing the same way. Returns the updated toClear.
func Set(d *Data, p *path.Path, timestamp int64, attrs *Attributes, toClear []Clear) []Clear {
	p = d.Paths.Add(p)

	cur, _ := d.Timestamps.Get(p)
	if attrs == nil {
		if timestamp > cur {
			d.Timestamps.Set(p, timestamp)
		}
		return append(toClear, Clear{Path: p, Timestamp: timestamp})
	}

	if timestamp > cur {
		d.Timestamps.Set(p, timestamp)
	}
	if p.Wildcard() != 0 {
		// Patterns carry timestamps only.
		return toClear
	}

	existing, _ := d.Attributes.Get(p)
	merged := existing.Clone()
	if merged == nil {
		merged = &Attributes{}
	}

	objectFlipped := false
	if attrs.Object != nil {
		if existing == nil || existing.Object == nil || existing.Object.Timestamp <= attrs.Object.Timestamp {
			if existing != nil && existing.Object != nil && existing.Object.Value != attrs.Object.Value {
				objectFlipped = true
			}
			merged.Object = attrs.Object
		}
	}
	if attrs.Writable != nil {
		if existing == nil || existing.Writable == nil || existing.Writable.Timestamp <= attrs.Writable.Timestamp {
			merged.Writable = attrs.Writable
		}
	}
	if attrs.Value != nil {
		if existing == nil || existing.Value == nil || existing.Value.Timestamp <= attrs.Value.Timestamp {
			merged.Value = attrs.Value
		}
	}
	if attrs.Notification != nil {
		if existing == nil || existing.Notification == nil || existing.Notification.Timestamp <= attrs.Notification.Timestamp {
			merged.Notification = attrs.Notification
		}
	}
	if attrs.AccessList != nil {
		if existing == nil || existing.AccessList == nil || existing.AccessList.Timestamp <= attrs.AccessList.Timestamp {
			merged.AccessList = attrs.AccessList
		}
	}

	d.Attributes.Set(p, merged)

	if objectFlipped {
		ts := attrs.Object.Timestamp
		toClear = append(toClear, Clear{Path: p.ConcatName("*"), Timestamp: ts})
	}
	return toClear
}

// ClearPath deletes stale state at and below p. Entries whose path
// timestamp is at or before timestamp are removed entirely; when attrTs is
// given, individual attributes older than the per-attribute threshold are
// dropped. Tracker names attached to affected paths land in d.Changes.
func ClearPath(d *Data, p *path.Path, timestamp int64, attrTs *AttrTimestamps) {
	for _, q := range d.Paths.Find(p, false, true, d.Paths.Depth()-1) {
		affected := false
		if timestamp > 0 {
			if ts, ok := d.Timestamps.Get(q); ok && ts <= timestamp {
				d.Timestamps.Delete(q)
				d.Attributes.Delete(q)
				affected = true
			}
		}
		if attrTs != nil && q.Wildcard() == 0 {
			if attrs, ok := d.Attributes.Get(q); ok {
				next := attrs.Clone()
				changed := false
				if next.Object != nil && next.Object.Timestamp <= attrTs.Object {
					next.Object = nil
					changed = true
				}
				if next.Writable != nil && next.Writable.Timestamp <= attrTs.Writable {
					next.Writable = nil
					changed = true
				}
				if next.Value != nil && next.Value.Timestamp <= attrTs.Value {
					next.Value = nil
					changed = true
				}
				if next.Notification != nil && next.Notification.Timestamp <= attrTs.Notification {
					next.Notification = nil
					changed = true
				}
				if next.AccessList != nil && next.AccessList.Timestamp <= attrTs.AccessList {
					next.AccessList = nil
					changed = true
				}
				if changed {
					d.Attributes.Set(q, next)
					affected = true
				}
			}
		}
		if affected {
			for name := range d.Trackers[q] {
				d.Changes[name] = struct{}{}
			}
		}
	}
}

// Track attaches a named tracker to p so ClearPath can report when state
// the tracker guards gets invalidated.
func Track(d *Data, p *path.Path, marker string) {
	p = d.Paths.Add(p)
	t := d.Trackers[p]
	if t == nil {
		t = make(map[string]int)
		d.Trackers[p] = t
	}
	t[marker]++
}

// ClearTrackers removes the named trackers from every path and from the
// pending change set.
func ClearTrackers(d *Data, markers ...string) {
	for _, m := range markers {
		delete(d.Changes, m)
		for p, t := range d.Trackers {
			delete(t, m)
			if len(t) == 0 {
				delete(d.Trackers, p)
			}
		}
	}
}

// StripAlias returns p with every alias segment replaced by "*".
func StripAlias(p *path.Path) *path.Path {
	if p.Alias() == 0 {
		return p
	}
	out := path.MustParse("")
	for i := 0; i < p.Length(); i++ {
		if p.Segment(i).Alias != nil {
			out = out.ConcatName("*")
		} else {
			out = out.ConcatName(p.Segment(i).Name)
		}
	}
	return out
}

// Unpack expands a wildcard/alias pattern into the concrete interned paths
// that currently satisfy it at revision rev, ordered lexicographically.
// Alias constraints compare the stored value attribute against the literal.
func Unpack(d *Data, p *path.Path, rev int) []*path.Path {
	if p.Wildcard() == 0 {
		if q := d.Paths.Get(p); q != nil {
			return []*path.Path{q}
		}
		return nil
	}
	pattern := StripAlias(p)
	var out []*path.Path
	for _, q := range d.Paths.Find(pattern, false, true, p.Length()) {
		if q.Length() != p.Length() || q.Wildcard() != 0 {
			continue
		}
		if !aliasSatisfied(d, p, q, rev) {
			continue
		}
		out = append(out, q)
	}
	return out
}

func aliasSatisfied(d *Data, pattern, concrete *path.Path, rev int) bool {
	if pattern.Alias() == 0 {
		return true
	}
	for i := 0; i < pattern.Length(); i++ {
		pairs := pattern.Segment(i).Alias
		if pairs == nil {
			continue
		}
		instance := concrete.Slice(0, i+1)
		for _, pair := range pairs {
			kp := d.Paths.Get(instance.Concat(pair.Path))
			if kp == nil {
				return false
			}
			attrs, ok := d.Attributes.GetRevision(kp, rev)
			if !ok || attrs.Value == nil {
				return false
			}
			if ValueString(attrs.Value.Value.Val) != pair.Value {
				return false
			}
		}
	}
	return true
}

// AliasDeclarations expands an aliased path into the declarations that make
// the alias resolvable: a refresh of the wildcard form of the path plus a
// value read for every alias key parameter.
func AliasDeclarations(p *path.Path, timestamp int64) []Declaration {
	stripped := StripAlias(p)
	decs := []Declaration{{Path: stripped, PathGet: timestamp}}
	for i := 0; i < p.Length(); i++ {
		pairs := p.Segment(i).Alias
		if pairs == nil {
			continue
		}
		prefix := stripped.Slice(0, i+1)
		for _, pair := range pairs {
			decs = append(decs, Declaration{
				Path:    prefix.Concat(pair.Path),
				PathGet: timestamp,
				AttrGet: &AttrTimestamps{Value: timestamp},
			})
		}
	}
	return decs
}
