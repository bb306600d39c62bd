package session

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/joestump/cwmp-acs/internal/device"
	"github.com/joestump/cwmp-acs/internal/path"
	"github.com/joestump/cwmp-acs/internal/rpc"
	"github.com/joestump/cwmp-acs/internal/sandbox"
)

// dataReader exposes the device data model to scripts, read-only and
// revision-pinned.
type dataReader struct {
	d *device.Data
}

func (r dataReader) Attributes(p *path.Path, rev int) (*device.Attributes, bool) {
	ip := r.d.Paths.Get(p)
	if ip == nil {
		return nil, false
	}
	return r.d.Attributes.GetRevision(ip, rev)
}

func (r dataReader) Timestamp(p *path.Path, rev int) (int64, bool) {
	ip := r.d.Paths.Get(p)
	if ip == nil {
		return 0, false
	}
	return r.d.Timestamps.GetRevision(ip, rev)
}

func (r dataReader) Unpack(p *path.Path, rev int) []*path.Path {
	return device.Unpack(r.d, p, rev)
}

// provisionOutcome is the combined result of running one layer's scripts.
type provisionOutcome struct {
	fault   *rpc.Fault
	decs    []device.Declaration
	done    bool
	returns []map[string]any
}

// runProvisionLayer runs every queued provision against the data model at
// endRev. Scripts run concurrently; their clears and declarations are
// folded in afterwards, in queue order. The first fault wins.
func (e *Engine) runProvisionLayer(ctx context.Context, s *Session, startRev, endRev int) (*provisionOutcome, error) {
	out := &provisionOutcome{done: true}
	if len(s.Provisions) == 0 {
		return out, nil
	}

	scripts := e.cache.Provisions(s.CacheSnapshot)
	env := sandbox.Env{
		DeviceID:      s.DeviceID,
		Timestamp:     s.Timestamp,
		StartRevision: startRev,
		EndRevision:   endRev,
		Reader:        dataReader{d: s.Device},
		Ext:           s.ExtensionsCache,
	}

	results := make([]*sandbox.Result, len(s.Provisions))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range s.Provisions {
		i, p := i, p
		g.Go(func() error {
			var (
				r   *sandbox.Result
				err error
			)
			switch {
			case scripts[p.Name] != nil:
				// A stored script shadows the built-in of the same name.
				r, err = e.runner.Run(gctx, scripts[p.Name], p.Args, env)
			case sandbox.DefaultProvision(p.Name):
				r, err = sandbox.RunDefaultProvision(p.Name, p.Args, s.Timestamp)
			default:
				r = &sandbox.Result{
					Fault: rpc.ScriptFault("UnknownProvision", "no provision named "+p.Name),
					Done:  true,
				}
			}
			if err != nil {
				return fmt.Errorf("provision %s: %w", p.Name, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.collectResults(s, out, results)
	return out, nil
}

// runVirtualParameterLayer evaluates one stacked level of virtual
// parameter calls. Each return value is shape-checked against what the
// call asked for before it counts.
func (e *Engine) runVirtualParameterLayer(ctx context.Context, s *Session, calls []virtualParameterCall, startRev, endRev int) (*provisionOutcome, error) {
	out := &provisionOutcome{done: true}
	if len(calls) == 0 {
		return out, nil
	}

	scripts := e.cache.VirtualParameters(s.CacheSnapshot)
	env := sandbox.Env{
		DeviceID:      s.DeviceID,
		Timestamp:     s.Timestamp,
		StartRevision: startRev,
		EndRevision:   endRev,
		Reader:        dataReader{d: s.Device},
		Ext:           s.ExtensionsCache,
	}

	results := make([]*sandbox.Result, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range calls {
		i, c := i, c
		script := scripts[c.Name]
		g.Go(func() error {
			if script == nil {
				results[i] = &sandbox.Result{
					Fault: rpc.ScriptFault("UnknownVirtualParameter", "no virtual parameter named "+c.Name),
					Done:  true,
				}
				return nil
			}
			r, err := e.runner.Run(gctx, script, virtualParameterArgs(c), env)
			if err != nil {
				return fmt.Errorf("virtual parameter %s: %w", c.Name, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, r := range results {
		if r.Done && r.Fault == nil {
			ret, fault := normalizeVirtualParameterReturn(calls[i], r.Return)
			if fault != nil {
				r = &sandbox.Result{Fault: fault, Done: true}
			} else {
				cp := *r
				cp.Return = ret
				r = &cp
			}
			results[i] = r
		}
	}

	e.collectResults(s, out, results)
	return out, nil
}

func (e *Engine) collectResults(s *Session, out *provisionOutcome, results []*sandbox.Result) {
	for _, r := range results {
		if r.Fault != nil && out.fault == nil {
			f := *r.Fault
			f.Timestamp = s.Timestamp
			out.fault = &f
		}
		for _, c := range r.Clear {
			device.ClearPath(s.Device, c.Path, c.Timestamp, c.AttrTimestamps)
		}
		out.decs = append(out.decs, r.Declare...)
		if !r.Done {
			out.done = false
		}
		out.returns = append(out.returns, r.Return)
	}
	if out.done {
		// Deferred writes wait for the slowest script in the batch, not
		// forever.
		for i := range out.decs {
			out.decs[i].Defer = false
		}
	}
}

// virtualParameterArgs builds the [name, timestamps, values] argument list
// a virtual parameter script receives.
func virtualParameterArgs(c virtualParameterCall) []any {
	get := make(map[string]int64)
	if c.AttrGet != nil {
		for k := device.AttrObject; k <= device.AttrAccessList; k++ {
			if t := c.AttrGet.Get(k); t > 0 {
				get[k.String()] = t
			}
		}
	}
	set := make(map[string]any)
	if c.AttrSet != nil {
		if c.AttrSet.Value != nil {
			set["value"] = c.AttrSet.Value.Val
		}
		if c.AttrSet.Notification != nil {
			set["notification"] = *c.AttrSet.Notification
		}
		if c.AttrSet.AccessList != nil {
			set["accessList"] = c.AttrSet.AccessList
		}
	}
	return []any{c.Name, get, set}
}

// normalizeVirtualParameterReturn checks a virtual parameter's return
// object: every requested attribute must be present, nothing else may be,
// and the value gets coerced to a typed form.
func normalizeVirtualParameterReturn(c virtualParameterCall, ret map[string]any) (map[string]any, *rpc.Fault) {
	requested := func(k device.Attr) bool {
		if c.AttrGet != nil && c.AttrGet.Get(k) > 0 {
			return true
		}
		if c.AttrSet != nil {
			switch k {
			case device.AttrValue:
				return c.AttrSet.Value != nil
			case device.AttrNotification:
				return c.AttrSet.Notification != nil
			case device.AttrAccessList:
				return c.AttrSet.AccessList != nil
			}
		}
		return false
	}

	out := make(map[string]any)
	for key := range ret {
		if _, ok := device.AttrFromName(key); !ok {
			return nil, rpc.ScriptFault("", fmt.Sprintf("virtual parameter %s returned unknown attribute %q", c.Name, key))
		}
	}
	for k := device.AttrObject; k <= device.AttrAccessList; k++ {
		name := k.String()
		v, present := ret[name]
		if !requested(k) {
			if present {
				return nil, rpc.ScriptFault("", fmt.Sprintf("virtual parameter %s returned unrequested attribute %q", c.Name, name))
			}
			continue
		}
		if !present {
			return nil, rpc.ScriptFault("", fmt.Sprintf("virtual parameter %s did not return attribute %q", c.Name, name))
		}
		switch k {
		case device.AttrValue:
			tv, err := virtualParameterValue(v)
			if err != nil {
				return nil, rpc.ScriptFault("", fmt.Sprintf("virtual parameter %s: %v", c.Name, err))
			}
			out[name] = tv
		case device.AttrWritable, device.AttrObject:
			b, err := toBoolish(v)
			if err != nil {
				return nil, rpc.ScriptFault("", fmt.Sprintf("virtual parameter %s: attribute %q: %v", c.Name, name, err))
			}
			out[name] = b
		case device.AttrNotification:
			n, err := toInt(v)
			if err != nil {
				return nil, rpc.ScriptFault("", fmt.Sprintf("virtual parameter %s: attribute %q: %v", c.Name, name, err))
			}
			out[name] = n
		case device.AttrAccessList:
			l, err := toStringList(v)
			if err != nil {
				return nil, rpc.ScriptFault("", fmt.Sprintf("virtual parameter %s: attribute %q: %v", c.Name, name, err))
			}
			out[name] = l
		}
	}
	return out, nil
}

// virtualParameterValue accepts either a scalar or a [value, type] pair.
func virtualParameterValue(v any) (device.Value, error) {
	if pair, ok := v.([]any); ok {
		if len(pair) == 0 || len(pair) > 2 {
			return device.Value{}, fmt.Errorf("value pair must be [value] or [value, type]")
		}
		val := device.Value{Val: pair[0]}
		if len(pair) == 2 {
			t, ok := pair[1].(string)
			if !ok {
				return device.Value{}, fmt.Errorf("value type must be a string, got %T", pair[1])
			}
			val.Type = t
		}
		return inferTypedValue(val)
	}
	return inferTypedValue(device.Value{Val: v})
}

func toBoolish(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case int:
		return val != 0, nil
	case int64:
		return val != 0, nil
	case float64:
		return val != 0, nil
	}
	return false, fmt.Errorf("expected a boolean, got %T", v)
}

func toInt(v any) (int, error) {
	switch val := v.(type) {
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case float64:
		if val != float64(int(val)) {
			return 0, fmt.Errorf("%v is not an integer", val)
		}
		return int(val), nil
	}
	return 0, fmt.Errorf("expected an integer, got %T", v)
}

func toStringList(v any) ([]string, error) {
	switch val := v.(type) {
	case []string:
		return val, nil
	case []any:
		out := make([]string, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected strings, got %T", item)
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a string list, got %T", v)
}

// generateGetVirtualParameterProvisions turns the level's virtual
// parameter declarations into the read calls whose stored state is still
// stale. An empty result means every declared read is already satisfied.
func (e *Engine) generateGetVirtualParameterProvisions(s *Session, decs []device.Declaration) []virtualParameterCall {
	d := s.Device
	merged := make(map[string]*virtualParameterCall)
	var order []string

	for _, dec := range decs {
		if dec.AttrGet == nil || dec.Path.Length() != 2 {
			continue
		}
		name := dec.Path.Segment(1).Name
		cur := virtualParameterAttributes(d, dec.Path)

		get := &device.AttrTimestamps{}
		for k := device.AttrObject; k <= device.AttrAccessList; k++ {
			if t := dec.AttrGet.Get(k); t > cur.Timestamp(k) {
				get.Set(k, t)
			}
		}
		if get.Empty() {
			continue
		}

		c := merged[name]
		if c == nil {
			c = &virtualParameterCall{Name: name, AttrGet: &device.AttrTimestamps{}, Current: cur}
			merged[name] = c
			order = append(order, name)
		}
		c.AttrGet.MergeMax(get)
	}

	sort.Strings(order)
	out := make([]virtualParameterCall, 0, len(order))
	for _, name := range order {
		out = append(out, *merged[name])
	}
	return out
}

// generateSetVirtualParameterProvisions turns the level's virtual
// parameter writes into calls, skipping writes the stored state already
// satisfies.
func (e *Engine) generateSetVirtualParameterProvisions(s *Session, decs []device.Declaration) []virtualParameterCall {
	d := s.Device
	merged := make(map[string]*virtualParameterCall)
	var order []string

	for _, dec := range decs {
		if dec.AttrSet == nil || dec.Defer || dec.Path.Length() != 2 {
			continue
		}
		name := dec.Path.Segment(1).Name
		cur := virtualParameterAttributes(d, dec.Path)

		set := &device.AttrValues{}
		if dec.AttrSet.Value != nil {
			declared := *dec.AttrSet.Value
			if declared.Type == "" && cur != nil && cur.Value != nil {
				declared.Type = cur.Value.Value.Type
			}
			sv, err := inferTypedValue(declared)
			if err == nil && (cur == nil || cur.Value == nil || !device.ValueEqual(sv, cur.Value.Value)) {
				set.Value = &sv
			}
		}
		if dec.AttrSet.Notification != nil &&
			(cur == nil || cur.Notification == nil || cur.Notification.Value != *dec.AttrSet.Notification) {
			set.Notification = dec.AttrSet.Notification
		}
		if dec.AttrSet.AccessList != nil &&
			(cur == nil || cur.AccessList == nil || !device.AccessListsEqual(cur.AccessList.Value, dec.AttrSet.AccessList)) {
			set.AccessList = dec.AttrSet.AccessList
		}
		if set.Value == nil && set.Notification == nil && set.AccessList == nil {
			continue
		}

		c := merged[name]
		if c == nil {
			c = &virtualParameterCall{Name: name, AttrSet: &device.AttrValues{}, Current: cur}
			merged[name] = c
			order = append(order, name)
		}
		c.AttrSet.Merge(set)
	}

	sort.Strings(order)
	out := make([]virtualParameterCall, 0, len(order))
	for _, name := range order {
		out = append(out, *merged[name])
	}
	return out
}

func virtualParameterAttributes(d *device.Data, p *path.Path) *device.Attributes {
	ip := d.Paths.Get(p)
	if ip == nil {
		return nil
	}
	attrs, _ := d.Attributes.Get(ip)
	return attrs
}

// applyVirtualParameterReturns folds a popped level's returns into the
// data model as VirtualParameters.<name> leaf parameters.
func (e *Engine) applyVirtualParameterReturns(s *Session, calls []virtualParameterCall, returns []map[string]any) {
	ts := s.Timestamp + int64(s.Iteration) + 1
	base := s.Device.Paths.Add(path.MustParse("VirtualParameters"))
	var toClear []device.Clear

	toClear = device.Set(s.Device, base, ts, &device.Attributes{
		Object: &device.Timestamped[int]{Timestamp: ts, Value: 1},
	}, toClear)

	for i, c := range calls {
		if i >= len(returns) || returns[i] == nil {
			continue
		}
		ret := returns[i]
		attrs := &device.Attributes{
			Object: &device.Timestamped[int]{Timestamp: ts, Value: 0},
		}
		if v, ok := ret[device.AttrValue.String()].(device.Value); ok {
			attrs.Value = &device.Timestamped[device.Value]{Timestamp: ts, Value: v}
		}
		if w, ok := ret[device.AttrWritable.String()].(bool); ok {
			writable := 0
			if w {
				writable = 1
			}
			attrs.Writable = &device.Timestamped[int]{Timestamp: ts, Value: writable}
		}
		if n, ok := ret[device.AttrNotification.String()].(int); ok {
			attrs.Notification = &device.Timestamped[int]{Timestamp: ts, Value: n}
		}
		if l, ok := ret[device.AttrAccessList.String()].([]string); ok {
			attrs.AccessList = &device.Timestamped[[]string]{Timestamp: ts, Value: l}
		}
		toClear = device.Set(s.Device, base.ConcatName(c.Name), ts, attrs, toClear)
	}

	applyClears(s.Device, toClear)
}
