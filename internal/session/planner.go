package session

import (
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/joestump/cwmp-acs/internal/device"
	"github.com/joestump/cwmp-acs/internal/path"
	"github.com/joestump/cwmp-acs/internal/rpc"
)

// generateGetRpcRequest returns the next read RPC the plan calls for, or
// nil when everything declared is already known fresh enough. Discovery
// wins over value reads, value reads over attribute reads.
func (e *Engine) generateGetRpcRequest(s *Session) rpc.AcsRequest {
	ss := s.syncState
	d := s.Device

	// Existence, objectness and writability all come from
	// GetParameterNames on the parent.
	for p := range ss.refreshExist {
		promoteGpn(s, p)
	}
	for p := range ss.refreshAttributes[device.AttrObject] {
		promoteGpn(s, p)
	}
	for p := range ss.refreshAttributes[device.AttrWritable] {
		promoteGpn(s, p)
	}

	if len(ss.gpn) > 0 {
		// Deepest queued discovery first so alias keys and instance
		// parameters resolve before their parents get re-swept.
		paths := sortedPaths(ss.gpn)
		sort.SliceStable(paths, func(i, j int) bool {
			return paths[i].Length() > paths[j].Length()
		})
		for _, p := range paths {
			if p.Length() == 0 && e.configBool(s, "cwmp.skipRootGpn") {
				// Pretend the root was enumerated so the plan settles.
				ts := s.Timestamp + int64(s.Iteration) + 1
				d.Timestamps.Set(d.Paths.Add(path.MustParse("*")), ts)
				delete(ss.gpn, p)
				continue
			}
			flags := ss.gpn[p]
			depth := p.Length()
			nextLevel := false
			if depth >= e.configInt(s, "cwmp.gpnNextLevel") {
				shift := 8 - depth
				if shift < 0 {
					shift = 0
				}
				nextLevel = estimateGpnCount(flags, depth) < 1<<uint(shift)
			}
			return rpc.GetParameterNames{ParameterPath: objectName(p), NextLevel: nextLevel}
		}
	}

	batch := e.configInt(s, "cwmp.gpvBatchSize")

	var names []string
	for _, p := range sortedPaths(ss.refreshAttributes[device.AttrValue]) {
		if attrs := knownAttrs(d, p); attrs != nil && attrs.Object != nil && attrs.Object.Value == 1 {
			continue
		}
		names = append(names, p.String())
		if len(names) >= batch {
			break
		}
	}
	if len(names) > 0 {
		return rpc.GetParameterValues{ParameterNames: names}
	}

	attrPaths := make(map[*path.Path]struct{})
	for p := range ss.refreshAttributes[device.AttrNotification] {
		attrPaths[p] = struct{}{}
	}
	for p := range ss.refreshAttributes[device.AttrAccessList] {
		attrPaths[p] = struct{}{}
	}
	names = names[:0]
	for _, p := range sortedPaths(attrPaths) {
		names = append(names, p.String())
		if len(names) >= batch {
			break
		}
	}
	if len(names) > 0 {
		return rpc.GetParameterAttributes{ParameterNames: names}
	}

	return nil
}

// promoteGpn queues discovery of p's parent at p's depth.
func promoteGpn(s *Session, p *path.Path) {
	if p.Length() == 0 {
		return
	}
	parent := s.Device.Paths.Add(p.Slice(0, p.Length()-1))
	l := p.Length()
	if l > 31 {
		l = 31
	}
	s.syncState.gpn[parent] |= 1 << uint(l)
}

// estimateGpnCount guesses how many nodes a recursive walk below depth
// would report, weighting each wanted level by its distance.
func estimateGpnCount(flags uint32, depth int) int {
	est := 0
	for b := depth + 1; b < 32; b++ {
		if flags&(1<<uint(b)) != 0 {
			est += b - depth
		}
	}
	return est
}

// applyLocalWrites flushes the plan's ACS-owned writes straight into the
// data model: tags, download instance bookkeeping, and download parameter
// values. None of these touch the CPE. Reports whether anything was
// written, so the caller can replan against the new state.
func (e *Engine) applyLocalWrites(s *Session) bool {
	ss := s.syncState
	d := s.Device
	ts := s.Timestamp + int64(s.Iteration) + 1
	var toClear []device.Clear
	wrote := false

	object := func(v int) *device.Timestamped[int] {
		return &device.Timestamped[int]{Timestamp: ts, Value: v}
	}
	value := func(v device.Value) *device.Timestamped[device.Value] {
		return &device.Timestamped[device.Value]{Timestamp: ts, Value: v}
	}

	tagsRootWritten := false
	for _, p := range sortedPaths(ss.tags) {
		on := ss.tags[p]
		cur := knownAttrs(d, p)
		curOn := cur != nil && cur.Value != nil && cur.Value.Value.Val == true
		if on == curOn {
			continue
		}
		wrote = true
		if !on {
			toClear = device.Set(d, p, ts, nil, toClear)
			continue
		}
		if !tagsRootWritten {
			toClear = device.Set(d, path.MustParse("Tags"), ts, &device.Attributes{Object: object(1)}, toClear)
			tagsRootWritten = true
		}
		toClear = device.Set(d, p, ts, &device.Attributes{
			Object: object(0),
			Value:  value(device.Value{Val: true, Type: "xsd:boolean"}),
		}, toClear)
	}

	for _, p := range sortedPaths(ss.downloadsToDelete) {
		toClear = device.Set(d, p, ts, nil, toClear)
		wrote = true
	}

	if ss.downloadsToCreate.Size() > 0 {
		wrote = true
		root := d.Paths.Add(path.MustParse("Downloads"))
		toClear = device.Set(d, root, ts, &device.Attributes{Object: object(1)}, toClear)
		next := nextInstanceNumber(d, root)
		for _, keys := range ss.downloadsToCreate.Items() {
			inst := root.ConcatName(strconv.Itoa(next))
			next++
			toClear = device.Set(d, inst, ts, &device.Attributes{Object: object(1)}, toClear)
			names := make([]string, 0, len(keys))
			for k := range keys {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, k := range names {
				kp, err := path.Parse(k)
				if err != nil {
					continue
				}
				toClear = device.Set(d, inst.Concat(kp), ts, &device.Attributes{
					Object: object(0),
					Value:  value(device.Value{Val: keys[k], Type: "xsd:string"}),
				}, toClear)
			}
			toClear = device.Set(d, inst.ConcatName("Download"), ts, &device.Attributes{
				Object: object(0),
				Value:  value(device.Value{Val: int64(0), Type: "xsd:dateTime"}),
			}, toClear)
		}
		ss.downloadsToCreate = path.NewInstanceSet()
	}

	for _, p := range sortedPaths(ss.downloadsValues) {
		v := ss.downloadsValues[p]
		if cur := knownAttrs(d, p); cur != nil && cur.Value != nil && device.ValueEqual(cur.Value.Value, v) {
			continue
		}
		toClear = device.Set(d, p, ts, &device.Attributes{Object: object(0), Value: value(v)}, toClear)
		wrote = true
	}

	applyClears(d, toClear)
	return wrote
}

// generateSetRpcRequest returns the next write RPC the plan calls for, or
// nil when the device already matches. Deletions come before creations so
// cardinality corrections converge, then values, attributes, and finally
// the one-shot commands.
func (e *Engine) generateSetRpcRequest(s *Session) rpc.AcsRequest {
	ss := s.syncState
	d := s.Device
	skipWritable := e.configBool(s, "cwmp.skipWritableCheck")

	writableOK := func(p *path.Path) bool {
		if skipWritable {
			return true
		}
		attrs := knownAttrs(d, p)
		return attrs != nil && attrs.Writable != nil && attrs.Writable.Value == 1
	}

	for _, parent := range sortedPaths(ss.instancesToDelete) {
		for _, inst := range sortedPaths(ss.instancesToDelete[parent]) {
			if !writableOK(inst) {
				continue
			}
			return rpc.DeleteObject{ObjectName: objectName(inst)}
		}
	}

	for _, parent := range sortedPaths(ss.instancesToCreate) {
		cs := ss.instancesToCreate[parent]
		if cs.Size() == 0 || !writableOK(parent) {
			continue
		}
		keys := cs.Items()[0]
		values := make(map[string]string, len(keys))
		for k, v := range keys {
			values[k] = v
		}
		return rpc.AddObject{
			ObjectName:     objectName(parent),
			InstanceValues: values,
			Next:           "getInstanceKeys",
		}
	}

	if len(ss.spv) > 0 {
		opts := e.formatOptions(s)
		var list []rpc.ParameterValue
		for _, p := range sortedPaths(ss.spv) {
			if !writableOK(p) {
				continue
			}
			v := ss.spv[p]
			list = append(list, rpc.ParameterValue{
				Name:  p.String(),
				Value: device.WireString(v, opts),
				Type:  v.Type,
			})
		}
		if len(list) > 0 {
			return rpc.SetParameterValues{
				ParameterList:        list,
				DatetimeMilliseconds: opts.DatetimeMilliseconds,
				BooleanLiteral:       opts.BooleanLiteral,
			}
		}
	}

	if len(ss.spa) > 0 {
		var list []rpc.ParameterAttributes
		for _, p := range sortedPaths(ss.spa) {
			ent := ss.spa[p]
			list = append(list, rpc.ParameterAttributes{
				Name:         p.String(),
				Notification: ent.Notification,
				AccessList:   ent.AccessList,
			})
		}
		return rpc.SetParameterAttributes{ParameterList: list}
	}

	for _, p := range sortedPaths(ss.downloadsDownload) {
		t := ss.downloadsDownload[p]
		if t <= 0 || t > s.Timestamp {
			continue
		}
		if cur, ok := valueInt64(d, p); ok && t <= cur {
			continue
		}
		instance := p.Segment(1).Name
		if downloadPending(s, instance) {
			continue
		}
		base := p.Slice(0, 2)
		return rpc.Download{
			CommandKey:     uuid.NewString(),
			Instance:       instance,
			FileType:       valueStringAt(d, base.ConcatName("FileType")),
			FileName:       valueStringAt(d, base.ConcatName("FileName")),
			TargetFileName: valueStringAt(d, base.ConcatName("TargetFileName")),
		}
	}

	if ss.reboot > 0 {
		if cur, ok := valueInt64(d, path.MustParse("Reboot")); !ok || ss.reboot > cur {
			return rpc.Reboot{}
		}
	}
	if ss.factoryReset > 0 {
		if cur, ok := valueInt64(d, path.MustParse("FactoryReset")); !ok || ss.factoryReset > cur {
			return rpc.FactoryReset{}
		}
	}

	return nil
}

func downloadPending(s *Session, instance string) bool {
	for _, op := range s.Operations {
		if op.Name == "Download" && op.Args.Instance == instance {
			return true
		}
	}
	return false
}

// nextInstanceNumber returns one past the highest numeric child of parent.
func nextInstanceNumber(d *device.Data, parent *path.Path) int {
	next := 1
	for _, q := range d.Paths.Find(parent.ConcatName("*"), false, true, parent.Length()+1) {
		if q.Length() != parent.Length()+1 || q.Wildcard() != 0 {
			continue
		}
		if !d.Timestamps.Has(q) && !d.Attributes.Has(q) {
			continue
		}
		if n, err := strconv.Atoi(q.Segment(parent.Length()).Name); err == nil && n >= next {
			next = n + 1
		}
	}
	return next
}

// sortedPaths returns a map's path keys ordered by their string form.
func sortedPaths[V any](m map[*path.Path]V) []*path.Path {
	out := make([]*path.Path, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// objectName renders a path as a CWMP object name with its trailing dot.
func objectName(p *path.Path) string {
	if p.Length() == 0 {
		return ""
	}
	return p.String() + "."
}

func knownAttrs(d *device.Data, p *path.Path) *device.Attributes {
	ip := d.Paths.Get(p)
	if ip == nil {
		return nil
	}
	attrs, _ := d.Attributes.Get(ip)
	return attrs
}

func valueInt64(d *device.Data, p *path.Path) (int64, bool) {
	attrs := knownAttrs(d, p)
	if attrs == nil || attrs.Value == nil {
		return 0, false
	}
	n, ok := attrs.Value.Value.Val.(int64)
	return n, ok
}

func valueStringAt(d *device.Data, p *path.Path) string {
	attrs := knownAttrs(d, p)
	if attrs == nil || attrs.Value == nil {
		return ""
	}
	return device.ValueString(attrs.Value.Value.Val)
}
