package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/joestump/cwmp-acs/internal/device"
	"github.com/joestump/cwmp-acs/internal/path"
	"github.com/joestump/cwmp-acs/internal/sandbox"
)

// runDeclarations merges one level's declarations into syncState and
// returns the virtual parameter declarations that level produced.
//
// Declarations are grouped into per-path declared timestamps and attribute
// wishes, alias paths are expanded into resolvable form, and then the
// declared path tree is walked against the data model to decide what needs
// discovering, reading, or writing.
func (e *Engine) runDeclarations(s *Session, decs []device.Declaration) []device.Declaration {
	if s.syncState == nil {
		s.syncState = newSyncState()
	}
	d := s.Device
	rev := d.Timestamps.Revision
	vpScripts := e.cache.VirtualParameters(s.CacheSnapshot)

	declTs := make(map[*path.Path]int64)
	declAttrTs := make(map[*path.Path]*device.AttrTimestamps)
	declAttrVals := make(map[*path.Path]*device.AttrValues)

	mergeTs := func(p *path.Path, t int64) {
		if t > declTs[p] {
			declTs[p] = t
		}
	}
	mergeAttrTs := func(p *path.Path, at *device.AttrTimestamps) {
		cur := declAttrTs[p]
		if cur == nil {
			cur = &device.AttrTimestamps{}
			declAttrTs[p] = cur
		}
		cur.MergeMax(at)
	}
	mergeAttrVals := func(p *path.Path, av *device.AttrValues, deferred bool) {
		cur := declAttrVals[p]
		if cur == nil {
			// Deferred writes only pile onto paths another declaration
			// already targets.
			if deferred {
				return
			}
			cur = &device.AttrValues{}
			declAttrVals[p] = cur
		}
		cur.Merge(av)
	}

	queue := make([]device.Declaration, len(decs))
	copy(queue, decs)
	for i := 0; i < len(queue); i++ {
		dec := queue[i]
		if dec.Path == nil {
			continue
		}
		p := dec.Path

		if p.Length() > 0 {
			switch p.Segment(0).Name {
			case "VirtualParameters":
				vp := d.Paths.Add(path.MustParse("VirtualParameters"))
				for name := range vpScripts {
					d.Paths.Add(vp.ConcatName(name))
				}
			case "Reboot", "FactoryReset", "Downloads":
				d.Paths.Add(p.Slice(0, 1))
			}
		}

		pathGet := clampTimestamp(dec.PathGet, s.Timestamp)
		attrGet := clampAttrTimestamps(dec.AttrGet, s.Timestamp)

		if p.Alias() != 0 {
			t := pathGet
			if t == 0 && attrGet != nil {
				for k := device.AttrObject; k <= device.AttrAccessList; k++ {
					if v := attrGet.Get(k); v > t {
						t = v
					}
				}
			}
			if t == 0 {
				t = 1
			}
			queue = append(queue, device.AliasDeclarations(p, t)...)
			e.trackAliasKeys(s, p, rev)
			for _, u := range device.Unpack(d, p, rev) {
				if attrGet != nil {
					mergeAttrTs(u, attrGet)
				}
				if dec.AttrSet != nil {
					mergeAttrVals(u, dec.AttrSet, dec.Defer)
				}
			}
			if dec.PathSet != nil {
				e.processInstances(s, dec, rev)
			}
			continue
		}

		ip := d.Paths.Add(p)
		if pathGet > 0 {
			mergeTs(ip, pathGet)
		}
		if attrGet != nil {
			mergeAttrTs(ip, attrGet)
		}
		if dec.AttrSet != nil {
			mergeAttrVals(ip, dec.AttrSet, dec.Defer)
		}
		if dec.PathSet != nil {
			e.processInstances(s, dec, rev)
		}
	}

	keySet := make(map[*path.Path]struct{})
	for p := range declTs {
		keySet[p] = struct{}{}
	}
	for p := range declAttrTs {
		keySet[p] = struct{}{}
	}
	for p := range declAttrVals {
		keySet[p] = struct{}{}
	}
	keys := make([]*path.Path, 0, len(keySet))
	for p := range keySet {
		keys = append(keys, p)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	root := d.Paths.Add(path.MustParse(""))
	trie := &declNode{pattern: root}
	for _, key := range keys {
		node := trie
		for i := 0; i < key.Length(); i++ {
			name := key.Segment(i).Name
			if node.children == nil {
				node.children = make(map[string]*declNode)
			}
			child := node.children[name]
			if child == nil {
				child = &declNode{pattern: d.Paths.Add(node.pattern.ConcatName(name))}
				node.children[name] = child
			}
			node = child
		}
	}

	w := &declWalk{
		s:            s,
		ss:           s.syncState,
		declTs:       declTs,
		declAttrTs:   declAttrTs,
		declAttrVals: declAttrVals,
		vpScripts:    vpScripts,
	}
	w.walk(trie, root, root, true, w.pathTimestamp(root))
	applyClears(d, w.toClear)
	return w.vpd
}

// trackAliasKeys registers prerequisite trackers on the key parameters an
// alias path depends on, so that invalidating any of them forces a replan.
func (e *Engine) trackAliasKeys(s *Session, p *path.Path, rev int) {
	stripped := device.StripAlias(p)
	for i := 0; i < p.Length(); i++ {
		pairs := p.Segment(i).Alias
		if pairs == nil {
			continue
		}
		for _, inst := range device.Unpack(s.Device, stripped.Slice(0, i+1), rev) {
			for _, pair := range pairs {
				device.Track(s.Device, inst.Concat(pair.Path), "prerequisite")
			}
		}
	}
}

// processInstances reconciles a pathSet cardinality declaration against the
// observed children of each concrete parent, queueing creations and
// deletions.
func (e *Engine) processInstances(s *Session, dec device.Declaration, rev int) {
	ss := s.syncState
	d := s.Device
	p := dec.Path
	n := p.Length()
	if n == 0 {
		return
	}
	parent := p.Slice(0, n-1)
	last := p.Slice(n-1, n)

	keys := make(map[string]string)
	if pairs := p.Segment(n - 1).Alias; pairs != nil {
		for _, pair := range pairs {
			keys[pair.Path.String()] = pair.Value
		}
	}

	for _, cp := range device.Unpack(d, parent, rev) {
		device.Track(d, cp, "prerequisite")
		children := device.Unpack(d, cp.Concat(last), rev)

		if cp.Length() == 1 && cp.Segment(0).Name == "Downloads" {
			pending := len(ss.downloadsToCreate.Superset(keys))
			if len(children) > dec.PathSet.Max {
				for _, c := range children[dec.PathSet.Max:] {
					ss.downloadsToDelete[c] = struct{}{}
				}
			}
			for need := dec.PathSet.Min - len(children) - pending; need > 0; need-- {
				ss.downloadsToCreate.Add(keys)
			}
			continue
		}

		if len(children) > dec.PathSet.Max {
			set := ss.instancesToDelete[cp]
			if set == nil {
				set = make(map[*path.Path]struct{})
				ss.instancesToDelete[cp] = set
			}
			// Unpack orders children lexicographically; the extras at the
			// tail go first.
			for _, c := range children[dec.PathSet.Max:] {
				set[c] = struct{}{}
			}
		}

		if need := dec.PathSet.Min - len(children); need > 0 {
			cs := ss.instancesToCreate[cp]
			if cs == nil {
				cs = path.NewInstanceSet()
				ss.instancesToCreate[cp] = cs
			}
			// A queued selector at least as specific as this one already
			// covers it; a less specific one gets upgraded in place.
			need -= len(cs.Superset(keys))
			for ; need > 0; need-- {
				if sub := cs.Subset(keys); len(sub) > 0 {
					cs.Delete(sub[0])
				}
				cs.Add(keys)
			}
		}
	}
}

// declNode is one node of the declared-path trie; children are keyed by
// segment name with "*" standing for any instance.
type declNode struct {
	pattern  *path.Path
	children map[string]*declNode
}

// declWalk carries the state of one processDeclarations pass.
type declWalk struct {
	s            *Session
	ss           *syncState
	declTs       map[*path.Path]int64
	declAttrTs   map[*path.Path]*device.AttrTimestamps
	declAttrVals map[*path.Path]*device.AttrValues
	vpScripts    map[string]*sandbox.Script
	vpd          []device.Declaration
	toClear      []device.Clear
}

// walk visits a trie node, optionally bound to a concrete instantiation.
// leafParam is the deepest path with known attributes on the way down;
// leafTimestamp is its refresh timestamp.
func (w *declWalk) walk(node *declNode, concrete *path.Path, leafParam *path.Path, leafIsObject bool, leafTimestamp int64) {
	np := node.pattern
	if concrete != nil {
		np = concrete
	}

	curTs := w.pathTimestamp(np)
	var curAttrs *device.Attributes
	if np.Wildcard() == 0 {
		if ip := w.s.Device.Paths.Get(np); ip != nil {
			curAttrs, _ = w.s.Device.Attributes.Get(ip)
		}
	}

	w.dispatch(node, np, curTs, curAttrs, leafParam, leafIsObject, leafTimestamp)

	if curAttrs != nil {
		leafParam = np
		leafIsObject = curAttrs.Object != nil && curAttrs.Object.Value == 1
		leafTimestamp = curTs
	}

	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if (names[i] == "*") != (names[j] == "*") {
			return names[j] == "*"
		}
		return names[i] < names[j]
	})

	for _, name := range names {
		child := node.children[name]
		if name == "*" {
			w.walk(child, nil, leafParam, leafIsObject, leafTimestamp)
			if concrete != nil {
				for _, c := range w.concreteChildren(concrete) {
					w.walk(child, c, leafParam, leafIsObject, leafTimestamp)
				}
			}
			continue
		}
		if concrete != nil {
			cc := concrete.ConcatName(name)
			if ip := w.s.Device.Paths.Get(cc); ip != nil {
				cc = ip
			}
			w.walk(child, cc, leafParam, leafIsObject, leafTimestamp)
			continue
		}
		w.walk(child, nil, leafParam, leafIsObject, leafTimestamp)
	}
}

func (w *declWalk) dispatch(node *declNode, np *path.Path, curTs int64, curAttrs *device.Attributes, leafParam *path.Path, leafIsObject bool, leafTimestamp int64) {
	declTs := w.declTs[node.pattern]
	declAttrTs := w.declAttrTs[node.pattern]
	declAttrVals := w.declAttrVals[node.pattern]
	if declTs == 0 && declAttrTs == nil && declAttrVals == nil {
		return
	}
	if np.Length() == 0 {
		return
	}

	switch np.Segment(0).Name {
	case "Events", "DeviceID":
		// ACS-computed; always fresh.
		return
	case "Tags":
		w.tag(np, declAttrVals)
		return
	case "Reboot":
		if np.Length() == 1 && declAttrVals != nil && declAttrVals.Value != nil {
			if t, ok := epochMillis(*declAttrVals.Value); ok && t > w.ss.reboot {
				w.ss.reboot = t
			}
		}
		return
	case "FactoryReset":
		if np.Length() == 1 && declAttrVals != nil && declAttrVals.Value != nil {
			if t, ok := epochMillis(*declAttrVals.Value); ok && t > w.ss.factoryReset {
				w.ss.factoryReset = t
			}
		}
		return
	case "VirtualParameters":
		w.virtualParameter(np, declTs, declAttrTs, declAttrVals)
		return
	case "Downloads":
		w.download(np, declAttrVals)
		return
	}

	if np.Wildcard() == 0 && curAttrs != nil {
		w.known(np, curAttrs, declAttrTs, declAttrVals)
		if declTs > curTs {
			w.ss.refreshExist[w.intern(np)] = struct{}{}
		}
		return
	}

	// Unknown node or pattern: discovery. Whatever is declared on it, the
	// path has to be found first.
	wanted := declTs
	if declAttrTs != nil {
		for k := device.AttrObject; k <= device.AttrAccessList; k++ {
			if t := declAttrTs.Get(k); t > wanted {
				wanted = t
			}
		}
	}
	if wanted == 0 && declAttrVals != nil {
		wanted = 1
	}
	if wanted <= curTs || wanted <= leafTimestamp {
		return
	}
	if !leafIsObject {
		// The deepest known ancestor is a parameter; the declared path can
		// only exist if that turns out to be an object after all.
		w.ss.refreshAttributes[device.AttrObject][leafParam] = struct{}{}
		return
	}
	w.queueGpn(np, leafParam)
}

// known plans attribute reads and writes for a path with known attributes.
func (w *declWalk) known(np *path.Path, curAttrs *device.Attributes, declAttrTs *device.AttrTimestamps, declAttrVals *device.AttrValues) {
	p := w.intern(np)
	ss := w.ss
	isObject := curAttrs.Object != nil && curAttrs.Object.Value == 1
	objectKnown := curAttrs.Object != nil

	if declAttrTs != nil {
		if declAttrTs.Object > curAttrs.Timestamp(device.AttrObject) {
			ss.refreshAttributes[device.AttrObject][p] = struct{}{}
		}
		if declAttrTs.Writable > curAttrs.Timestamp(device.AttrWritable) {
			ss.refreshAttributes[device.AttrWritable][p] = struct{}{}
		}
		if declAttrTs.Value > curAttrs.Timestamp(device.AttrValue) && !isObject {
			ss.refreshAttributes[device.AttrValue][p] = struct{}{}
			if !objectKnown {
				ss.refreshAttributes[device.AttrObject][p] = struct{}{}
			}
		}
		if declAttrTs.Notification > curAttrs.Timestamp(device.AttrNotification) {
			ss.refreshAttributes[device.AttrNotification][p] = struct{}{}
		}
		if declAttrTs.AccessList > curAttrs.Timestamp(device.AttrAccessList) {
			ss.refreshAttributes[device.AttrAccessList][p] = struct{}{}
		}
	}

	if declAttrVals == nil {
		return
	}

	if declAttrVals.Value != nil && !isObject {
		if curAttrs.Value == nil {
			// Need the current type before a write can be planned.
			ss.refreshAttributes[device.AttrValue][p] = struct{}{}
			if !objectKnown {
				ss.refreshAttributes[device.AttrObject][p] = struct{}{}
			}
		} else {
			declared := *declAttrVals.Value
			if declared.Type == "" {
				declared.Type = curAttrs.Value.Value.Type
			}
			if sv, err := device.SanitizeParameterValue(declared); err == nil {
				if device.ValueEqual(sv, curAttrs.Value.Value) {
					delete(ss.spv, p)
				} else {
					ss.spv[p] = sv
				}
			}
		}
	}

	if declAttrVals.Notification != nil &&
		(curAttrs.Notification == nil || curAttrs.Notification.Value != *declAttrVals.Notification) {
		ent := ss.spa[p]
		if ent == nil {
			ent = &spaEntry{}
			ss.spa[p] = ent
		}
		ent.Notification = declAttrVals.Notification
	}
	if declAttrVals.AccessList != nil &&
		(curAttrs.AccessList == nil || !device.AccessListsEqual(curAttrs.AccessList.Value, declAttrVals.AccessList)) {
		ent := ss.spa[p]
		if ent == nil {
			ent = &spaEntry{}
			ss.spa[p] = ent
		}
		ent.AccessList = declAttrVals.AccessList
	}
}

func (w *declWalk) tag(np *path.Path, declAttrVals *device.AttrValues) {
	if np.Length() != 2 || np.Wildcard() != 0 || declAttrVals == nil || declAttrVals.Value == nil {
		return
	}
	v, err := device.SanitizeParameterValue(device.Value{Val: declAttrVals.Value.Val, Type: "xsd:boolean"})
	if err != nil {
		return
	}
	w.ss.tags[w.intern(np)] = v.Val.(bool)
}

func (w *declWalk) download(np *path.Path, declAttrVals *device.AttrValues) {
	if np.Length() != 3 || np.Wildcard() != 0 || declAttrVals == nil || declAttrVals.Value == nil {
		return
	}
	p := w.intern(np)
	if np.Segment(2).Name == "Download" {
		if t, ok := epochMillis(*declAttrVals.Value); ok && t > w.ss.downloadsDownload[p] {
			w.ss.downloadsDownload[p] = t
		}
		return
	}
	if v, err := inferTypedValue(*declAttrVals.Value); err == nil {
		w.ss.downloadsValues[p] = v
	}
}

// virtualParameter routes declarations under VirtualParameters. Depth 1
// materializes the container object; depth 2 feeds the vparam layer, a
// wildcard fanning out over every stored script name. Anything else is not
// a virtual parameter: the declaration is dropped and stale state at that
// path gets invalidated.
func (w *declWalk) virtualParameter(np *path.Path, declTs int64, declAttrTs *device.AttrTimestamps, declAttrVals *device.AttrValues) {
	d := w.s.Device
	ts := w.s.Timestamp + int64(w.s.Iteration) + 1

	if np.Length() == 1 {
		p := w.intern(np)
		if attrs, _ := d.Attributes.Get(p); attrs == nil {
			w.toClear = device.Set(d, p, ts, &device.Attributes{
				Object:   &device.Timestamped[int]{Timestamp: ts, Value: 1},
				Writable: &device.Timestamped[int]{Timestamp: ts, Value: 0},
			}, w.toClear)
		}
		return
	}
	if np.Length() != 2 {
		if np.Wildcard() == 0 {
			w.toClear = device.Set(d, w.intern(np), ts, nil, w.toClear)
		}
		return
	}
	if seg := np.Segment(1); seg.Alias == nil && seg.Name == "*" {
		names := make([]string, 0, len(w.vpScripts))
		for name := range w.vpScripts {
			names = append(names, name)
		}
		sort.Strings(names)
		base := np.Slice(0, 1)
		for _, name := range names {
			w.virtualParameterLeaf(w.intern(base.ConcatName(name)), declTs, declAttrTs, declAttrVals)
		}
		return
	}
	if np.Wildcard() != 0 {
		return
	}
	if _, ok := w.vpScripts[np.Segment(1).Name]; !ok {
		w.toClear = device.Set(d, w.intern(np), ts, nil, w.toClear)
		return
	}
	w.virtualParameterLeaf(w.intern(np), declTs, declAttrTs, declAttrVals)
}

// virtualParameterLeaf emits vparam-layer declarations for one name whose
// stored state is older than what was declared.
func (w *declWalk) virtualParameterLeaf(p *path.Path, declTs int64, declAttrTs *device.AttrTimestamps, declAttrVals *device.AttrValues) {
	curTs := w.pathTimestamp(p)
	var curAttrs *device.Attributes
	if ip := w.s.Device.Paths.Get(p); ip != nil {
		curAttrs, _ = w.s.Device.Attributes.Get(ip)
	}

	get := &device.AttrTimestamps{}
	if declAttrTs != nil {
		for k := device.AttrObject; k <= device.AttrAccessList; k++ {
			if t := declAttrTs.Get(k); t > curAttrs.Timestamp(k) {
				get.Set(k, t)
			}
		}
	}
	if declTs > curTs && get.Value == 0 {
		get.Value = declTs
	}
	if !get.Empty() {
		w.vpd = append(w.vpd, device.Declaration{Path: p, AttrGet: get})
	}
	if declAttrVals != nil {
		w.vpd = append(w.vpd, device.Declaration{Path: p, AttrSet: declAttrVals})
	}
}

// queueGpn queues discovery at the next undiscovered segment below the
// deepest known object, tagging the declared path length so the planner
// can size the request.
func (w *declWalk) queueGpn(np, leafParam *path.Path) {
	d0 := leafParam.Length()
	if np.Length() <= d0 {
		return
	}
	seg := np.Segment(d0)
	target := leafParam
	if seg.Alias == nil && seg.Name != "*" {
		target = leafParam.ConcatName(seg.Name)
	}
	target = w.intern(target)
	l := np.Length()
	if l > 31 {
		l = 31
	}
	w.ss.gpn[target] |= 1 << uint(l)
}

// pathTimestamp returns the freshest timestamp vouching for np: its own or
// any interned pattern covering it.
func (w *declWalk) pathTimestamp(np *path.Path) int64 {
	d := w.s.Device
	var max int64
	for _, q := range d.Paths.Find(np, true, false, np.Length()) {
		if ts, ok := d.Timestamps.Get(q); ok && ts > max {
			max = ts
		}
	}
	return max
}

// concreteChildren lists the known concrete children of base.
func (w *declWalk) concreteChildren(base *path.Path) []*path.Path {
	d := w.s.Device
	var out []*path.Path
	for _, q := range d.Paths.Find(base.ConcatName("*"), false, true, base.Length()+1) {
		if q.Length() != base.Length()+1 || q.Wildcard() != 0 {
			continue
		}
		if !d.Timestamps.Has(q) && !d.Attributes.Has(q) {
			continue
		}
		out = append(out, q)
	}
	return out
}

func (w *declWalk) intern(p *path.Path) *path.Path {
	return w.s.Device.Paths.Add(p)
}

func clampTimestamp(t, now int64) int64 {
	if t > now {
		return now
	}
	return t
}

func clampAttrTimestamps(at *device.AttrTimestamps, now int64) *device.AttrTimestamps {
	if at == nil {
		return nil
	}
	out := *at
	for k := device.AttrObject; k <= device.AttrAccessList; k++ {
		if out.Get(k) > now {
			out.Set(k, now)
		}
	}
	return &out
}

// epochMillis extracts an epoch-millisecond timestamp from a declared
// value of any reasonable shape.
func epochMillis(v device.Value) (int64, bool) {
	if v.Type == "" {
		v.Type = "xsd:dateTime"
	}
	sv, err := device.SanitizeParameterValue(v)
	if err != nil {
		return 0, false
	}
	t, ok := sv.Val.(int64)
	return t, ok
}

// inferTypedValue fills in a missing XSD type from the Go representation
// and sanitizes the result.
func inferTypedValue(v device.Value) (device.Value, error) {
	if v.Type == "" {
		switch val := v.Val.(type) {
		case bool:
			v.Type = "xsd:boolean"
		case int, int64, float64:
			v.Type = "xsd:int"
		case time.Time:
			v.Val = val.UnixMilli()
			v.Type = "xsd:dateTime"
		case string:
			v.Type = "xsd:string"
		default:
			return v, fmt.Errorf("cannot infer type of %T", v.Val)
		}
	}
	return device.SanitizeParameterValue(v)
}
