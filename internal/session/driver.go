package session

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/joestump/cwmp-acs/internal/device"
	"github.com/joestump/cwmp-acs/internal/path"
	"github.com/joestump/cwmp-acs/internal/rpc"
)

// fixedRoots are the ACS-owned top-level nodes a root walk never
// invalidates.
var fixedRoots = []string{
	"DeviceID", "Events", "Tags", "Reboot", "FactoryReset",
	"VirtualParameters", "Downloads",
}

// RPCRequest returns the next RPC to send to the CPE, with its envelope
// id. decs are host-supplied declarations (presets) folded into the base
// level alongside provision output; the host re-supplies them per call. A
// nil request with a nil fault means the session has nothing left to do.
// Asking again while a request is outstanding returns the same one.
func (e *Engine) RPCRequest(ctx context.Context, s *Session, decs []device.Declaration) (string, rpc.AcsRequest, *rpc.Fault, error) {
	if s.rpcReq != nil {
		return s.rpcReqID, s.rpcReq, nil, nil
	}
	if len(decs) > 0 {
		s.extraDecs = decs
		s.syncState = nil
	}

	if s.Timeout > 0 && nowMillis()-s.Timestamp > s.Timeout {
		return "", nil, &rpc.Fault{
			Code:      rpc.FaultSessionTerminated,
			Message:   "session timed out",
			Timestamp: s.Timestamp,
		}, nil
	}

	req, fault, err := e.nextRequest(ctx, s)
	if err != nil || fault != nil || req == nil {
		return "", nil, fault, err
	}

	s.rpcReq = req
	s.rpcReqID = s.rpcID()
	e.log.Debug("rpc request",
		zap.String("deviceId", s.DeviceID),
		zap.String("id", s.rpcReqID),
		zap.String("name", req.RequestName()))
	return s.rpcReqID, req, nil, nil
}

// nextRequest runs the provision/declaration/plan loop until it produces a
// request, finishes the session, or faults.
func (e *Engine) nextRequest(ctx context.Context, s *Session) (rpc.AcsRequest, *rpc.Fault, error) {
	for {
		if len(s.Provisions) == 0 && len(s.Declarations) == 0 && len(s.extraDecs) == 0 {
			return nil, nil, nil
		}
		if fault := e.checkQuotas(s); fault != nil {
			return nil, fault, nil
		}

		if len(s.Declarations) == 0 {
			s.Declarations = [][]device.Declaration{nil}
			s.Revisions = []int{0}
			delete(s.provisionsRet, 0)
		}
		inception := len(s.Declarations) - 1
		endRev := s.Revisions[inception]
		startRev := 0
		if inception > 0 {
			startRev = s.Revisions[inception-1] + 1
		}

		// Run the level's scripts if this revision hasn't yet. Their
		// clears land in the speculative revision; their reads are pinned
		// at endRev.
		if _, ran := s.provisionsRet[inception]; !ran {
			s.Device.SetRevision(endRev + 1)
			var (
				out *provisionOutcome
				err error
			)
			if inception == 0 {
				out, err = e.runProvisionLayer(ctx, s, startRev, endRev)
			} else {
				out, err = e.runVirtualParameterLayer(ctx, s, s.VirtualParameters[inception-1], startRev, endRev)
			}
			if err != nil {
				return nil, nil, err
			}
			if out.fault != nil {
				return nil, out.fault, nil
			}
			s.Declarations[inception] = out.decs
			s.provisionsRet[inception] = layerResult{Done: out.done, Returns: out.returns}
			s.syncState = nil
		}

		s.Device.SetRevision(endRev + 1)
		if s.syncState == nil {
			level := s.Declarations[inception]
			if inception == 0 && len(s.extraDecs) > 0 {
				level = append(append([]device.Declaration(nil), level...), s.extraDecs...)
			}
			vpd := e.runDeclarations(s, level)
			s.syncState.virtualParameterDeclarations[inception] = vpd
		}
		ss := s.syncState

		// Virtual parameter reads stack a new level on top; its returns
		// fold back into this one when it completes.
		if calls := e.generateGetVirtualParameterProvisions(s, ss.virtualParameterDeclarations[inception]); len(calls) > 0 {
			e.pushLevel(s, calls, endRev+1)
			continue
		}

		if req := e.generateGetRpcRequest(s); req != nil {
			return req, nil, nil
		}

		// Everything read; before writing, make sure nothing the plan
		// depends on got invalidated along the way.
		if _, changed := s.Device.Changes["prerequisite"]; changed {
			device.ClearTrackers(s.Device, "prerequisite")
			s.syncState = nil
			continue
		}

		if e.applyLocalWrites(s) {
			// ACS-owned state changed under the plan; rebuild it before
			// deciding on device writes.
			s.syncState = nil
			continue
		}

		if calls := e.generateSetVirtualParameterProvisions(s, ss.virtualParameterDeclarations[inception]); len(calls) > 0 {
			e.pushLevel(s, calls, endRev+1)
			continue
		}

		if req := e.generateSetRpcRequest(s); req != nil {
			return req, nil, nil
		}

		// Commit round complete for this level.
		s.Iteration += 2
		lr := s.provisionsRet[inception]
		if !lr.Done {
			// Scripts asked for state that only now exists; rerun them one
			// revision up.
			s.Revisions[inception] = endRev + 1
			delete(s.provisionsRet, inception)
			s.Declarations[inception] = nil
			s.syncState = nil
			continue
		}

		if inception == 0 {
			e.commit(s)
			return nil, nil, nil
		}
		e.popLevel(s, inception, startRev, lr)
	}
}

func (e *Engine) pushLevel(s *Session, calls []virtualParameterCall, baseRev int) {
	s.VirtualParameters = append(s.VirtualParameters, calls)
	s.Declarations = append(s.Declarations, nil)
	s.Revisions = append(s.Revisions, baseRev)
	delete(s.provisionsRet, len(s.Declarations)-1)
	s.syncState = nil
}

// popLevel folds a completed virtual parameter level back into its parent:
// speculative history above the parent's revision collapses, stale
// extension cache entries drop, and the level's returns land in the data
// model as VirtualParameters leaves.
func (e *Engine) popLevel(s *Session, inception, target int, lr layerResult) {
	s.Device.Collapse(target)
	s.Device.SetRevision(target)
	for key := range s.ExtensionsCache {
		if i := strings.IndexByte(key, ':'); i > 0 {
			if rev, err := strconv.Atoi(key[:i]); err == nil && rev > target {
				delete(s.ExtensionsCache, key)
			}
		}
	}

	calls := s.VirtualParameters[inception-1]
	s.VirtualParameters = s.VirtualParameters[:inception-1]
	s.Declarations = s.Declarations[:inception]
	s.Revisions = s.Revisions[:inception]
	delete(s.provisionsRet, inception)

	e.applyVirtualParameterReturns(s, calls, lr.Returns)
	s.syncState = nil
}

// commit finishes the session's work: speculative state becomes the
// device's committed state and the layer stack resets.
func (e *Engine) commit(s *Session) {
	s.Device.Collapse(0)
	s.Device.SetRevision(0)
	s.Declarations = nil
	s.VirtualParameters = nil
	s.Revisions = nil
	s.provisionsRet = make(map[int]layerResult)
	s.extraDecs = nil
	s.syncState = nil
	e.log.Debug("session work committed",
		zap.String("deviceId", s.DeviceID),
		zap.Int("iteration", s.Iteration),
		zap.Int("rpcCount", s.RPCCount))
}

func (e *Engine) checkQuotas(s *Session) *rpc.Fault {
	if s.RPCCount >= e.configInt(s, "cwmp.maxRpcCount") {
		return &rpc.Fault{Code: rpc.FaultTooManyRPCs, Message: "too many RPCs in one session", Timestamp: s.Timestamp}
	}
	if len(s.Revisions) > 8 {
		return &rpc.Fault{Code: rpc.FaultDeeplyNestedVPs, Message: "virtual parameters nested too deeply", Timestamp: s.Timestamp}
	}
	if s.Cycle >= 255 {
		return &rpc.Fault{Code: rpc.FaultTooManyCycles, Message: "too many faulted cycles", Timestamp: s.Timestamp}
	}
	if s.Iteration >= e.maxIterations(s)*(s.Cycle+1) {
		return &rpc.Fault{Code: rpc.FaultTooManyCommits, Message: "too many commit iterations", Timestamp: s.Timestamp}
	}
	return nil
}

// RPCResponse assimilates the CPE's reply to the outstanding request. The
// plan is discarded afterwards and rebuilt from the updated data model on
// the next RPCRequest.
func (e *Engine) RPCResponse(ctx context.Context, s *Session, id string, resp rpc.CpeResponse) (*rpc.Fault, error) {
	if s.rpcReq == nil || id != s.rpcReqID {
		return &rpc.Fault{
			Code:      rpc.FaultInvalidResponse,
			Message:   "response does not match the outstanding request",
			Timestamp: s.Timestamp,
		}, nil
	}
	req := s.rpcReq
	if resp.ResponseName() != req.RequestName()+"Response" {
		return &rpc.Fault{
			Code:      rpc.FaultInvalidResponse,
			Message:   fmt.Sprintf("expected %sResponse, got %s", req.RequestName(), resp.ResponseName()),
			Timestamp: s.Timestamp,
		}, nil
	}

	s.rpcReq = nil
	s.rpcReqID = ""
	s.RPCCount++

	inception := len(s.Revisions) - 1
	if inception < 0 {
		return &rpc.Fault{Code: rpc.FaultInvalidResponse, Message: "no level to assimilate into", Timestamp: s.Timestamp}, nil
	}
	s.Device.SetRevision(s.Revisions[inception] + 1)
	ts := s.Timestamp + int64(s.Iteration) + 1

	badPayload := &rpc.Fault{
		Code:      rpc.FaultInvalidResponse,
		Message:   "unexpected response payload",
		Timestamp: s.Timestamp,
	}

	var fault *rpc.Fault
	switch q := req.(type) {
	case rpc.GetParameterNames:
		if r, ok := resp.(*rpc.GetParameterNamesResponse); ok {
			fault = e.assimilateGpn(s, q, r, ts)
		} else {
			fault = badPayload
		}
	case rpc.GetParameterValues:
		if r, ok := resp.(*rpc.GetParameterValuesResponse); ok {
			fault = e.assimilateGpv(s, q, r, ts)
		} else {
			fault = badPayload
		}
	case rpc.GetParameterAttributes:
		if r, ok := resp.(*rpc.GetParameterAttributesResponse); ok {
			fault = e.assimilateGpa(s, q, r, ts)
		} else {
			fault = badPayload
		}
	case rpc.SetParameterValues:
		fault = e.assimilateSpv(s, q, ts)
	case rpc.SetParameterAttributes:
		fault = e.assimilateSpa(s, q, ts)
	case rpc.AddObject:
		if r, ok := resp.(*rpc.AddObjectResponse); ok {
			fault = e.assimilateAddObject(s, q, r, ts)
		} else {
			fault = badPayload
		}
	case rpc.DeleteObject:
		fault = e.assimilateDeleteObject(s, q, ts)
	case rpc.Download:
		if r, ok := resp.(*rpc.DownloadResponse); ok {
			fault = e.assimilateDownload(s, q, r, ts)
		} else {
			fault = badPayload
		}
	case rpc.Reboot:
		fault = e.assimilateCommand(s, "Reboot", ts)
	case rpc.FactoryReset:
		fault = e.assimilateCommand(s, "FactoryReset", ts)
	default:
		fault = &rpc.Fault{Code: rpc.FaultInvalidResponse, Message: "unexpected request kind", Timestamp: s.Timestamp}
	}

	s.syncState = nil
	return fault, nil
}

// RPCFault handles a CWMP fault from the CPE. A 9005 (invalid parameter
// name) on a read is recoverable: the named parameters get invalidated and
// the plan regenerates without them. Everything else faults the session.
func (e *Engine) RPCFault(ctx context.Context, s *Session, id string, detail *rpc.FaultStruct) (*rpc.Fault, error) {
	if s.rpcReq == nil || id != s.rpcReqID {
		return &rpc.Fault{
			Code:      rpc.FaultInvalidResponse,
			Message:   "fault does not match the outstanding request",
			Timestamp: s.Timestamp,
		}, nil
	}
	req := s.rpcReq
	s.rpcReq = nil
	s.rpcReqID = ""
	s.RPCCount++

	if gpv, ok := req.(rpc.GetParameterValues); ok && detail.FaultCode == "9005" {
		inception := len(s.Revisions) - 1
		if inception >= 0 {
			s.Device.SetRevision(s.Revisions[inception] + 1)
		}
		ts := s.Timestamp + int64(s.Iteration) + 1
		var toClear []device.Clear
		for _, name := range gpv.ParameterNames {
			p, err := path.Parse(strings.TrimSuffix(name, "."))
			if err != nil {
				continue
			}
			toClear = device.Set(s.Device, p, ts, nil, toClear)
		}
		applyClears(s.Device, toClear)
		s.syncState = nil
		e.log.Info("invalid parameter names invalidated",
			zap.String("deviceId", s.DeviceID),
			zap.Strings("parameters", gpv.ParameterNames))
		return nil, nil
	}

	fault := rpc.CwmpFault(detail)
	fault.Timestamp = s.Timestamp
	return fault, nil
}

func (e *Engine) assimilateGpn(s *Session, req rpc.GetParameterNames, resp *rpc.GetParameterNamesResponse, ts int64) *rpc.Fault {
	d := s.Device
	base, err := path.Parse(strings.TrimSuffix(req.ParameterPath, "."))
	if err != nil {
		return &rpc.Fault{Code: rpc.FaultInvalidResponse, Message: "bad parameter path", Timestamp: s.Timestamp}
	}
	base = d.Paths.Add(base)

	entries := append([]rpc.ParameterInfo(nil), resp.ParameterList...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	var toClear []device.Clear
	written := make(map[string]bool)
	var objects []*path.Path

	object := func(v int) *device.Timestamped[int] {
		return &device.Timestamped[int]{Timestamp: ts + 1, Value: v}
	}

	for _, pi := range entries {
		isObj := pi.Object || strings.HasSuffix(pi.Name, ".")
		p, err := path.Parse(strings.TrimSuffix(pi.Name, "."))
		if err != nil || p.Wildcard() != 0 || p.Length() <= base.Length() {
			e.log.Warn("discarding malformed reported parameter",
				zap.String("deviceId", s.DeviceID),
				zap.String("parameter", pi.Name))
			continue
		}
		// Interior nodes the CPE skipped are still objects.
		for l := base.Length() + 1; l < p.Length(); l++ {
			anc := p.Slice(0, l)
			if written[anc.String()] {
				continue
			}
			written[anc.String()] = true
			toClear = device.Set(d, anc, ts+1, &device.Attributes{Object: object(1)}, toClear)
			objects = append(objects, d.Paths.Add(anc))
		}
		if written[p.String()] {
			continue
		}
		written[p.String()] = true
		obj, w := 0, 0
		if isObj {
			obj = 1
		}
		if pi.Writable {
			w = 1
		}
		toClear = device.Set(d, p, ts+1, &device.Attributes{
			Object:   object(obj),
			Writable: &device.Timestamped[int]{Timestamp: ts + 1, Value: w},
		}, toClear)
		if isObj {
			objects = append(objects, d.Paths.Add(p))
		}
	}

	if base.Length() > 0 {
		toClear = device.Set(d, base, ts+1, &device.Attributes{Object: object(1)}, toClear)
	} else {
		// The fixed roots are ACS-owned; a root walk never unlists them or
		// anything beneath them.
		for _, name := range fixedRoots {
			root := d.Paths.Add(path.MustParse(name))
			d.Timestamps.Set(root, ts+1)
			for _, q := range d.Paths.Find(root.ConcatName("*"), false, true, d.Paths.Depth()-1) {
				if d.Timestamps.Has(q) {
					d.Timestamps.Set(q, ts+1)
				}
			}
		}
	}

	// Whatever wasn't just re-reported below base is gone.
	toClear = append(toClear, device.Clear{Path: base.ConcatName("*"), Timestamp: ts})
	applyClears(d, toClear)

	// Record which child lists are now complete.
	d.Timestamps.Set(d.Paths.Add(base.ConcatName("*")), ts+1)
	if !req.NextLevel {
		for _, obj := range objects {
			d.Timestamps.Set(d.Paths.Add(obj.ConcatName("*")), ts+1)
		}
	}
	return nil
}

func (e *Engine) assimilateGpv(s *Session, req rpc.GetParameterValues, resp *rpc.GetParameterValuesResponse, ts int64) *rpc.Fault {
	d := s.Device
	var toClear []device.Clear
	reported := make(map[string]rpc.ParameterValueStruct, len(resp.ParameterList))

	for _, pv := range resp.ParameterList {
		p, err := path.Parse(pv.Name)
		if err != nil || p.Wildcard() != 0 {
			e.log.Warn("discarding malformed reported parameter",
				zap.String("deviceId", s.DeviceID),
				zap.String("parameter", pv.Name))
			continue
		}
		v, err := device.SanitizeParameterValue(device.Value{Val: pv.Value, Type: pv.Type})
		if err != nil {
			e.log.Warn("discarding malformed parameter value",
				zap.String("deviceId", s.DeviceID),
				zap.String("parameter", pv.Name),
				zap.Error(err))
			continue
		}
		reported[p.String()] = pv
		toClear = device.Set(d, p, ts+1, &device.Attributes{
			Object: &device.Timestamped[int]{Timestamp: ts + 1, Value: 0},
			Value:  &device.Timestamped[device.Value]{Timestamp: ts + 1, Value: v},
		}, toClear)
	}

	// Parameters the CPE silently dropped are recorded as empty strings so
	// the plan stops asking for them.
	for _, name := range req.ParameterNames {
		if _, ok := reported[name]; ok {
			continue
		}
		p, err := path.Parse(name)
		if err != nil {
			continue
		}
		e.log.Warn("parameter missing from response",
			zap.String("deviceId", s.DeviceID),
			zap.String("parameter", name))
		toClear = device.Set(d, p, ts+1, &device.Attributes{
			Object: &device.Timestamped[int]{Timestamp: ts + 1, Value: 0},
			Value: &device.Timestamped[device.Value]{
				Timestamp: ts + 1,
				Value:     device.Value{Val: "", Type: "xsd:string"},
			},
		}, toClear)
	}
	applyClears(d, toClear)

	if req.Next == "setInstanceKeys" {
		var list []rpc.ParameterValue
		for _, name := range req.ParameterNames {
			want, ok := req.InstanceValues[name]
			if !ok {
				continue
			}
			got := reported[name]
			if got.Value == want {
				continue
			}
			t := got.Type
			if t == "" {
				t = "xsd:string"
			}
			list = append(list, rpc.ParameterValue{Name: name, Value: want, Type: t})
		}
		if len(list) > 0 {
			opts := e.formatOptions(s)
			s.rpcReq = rpc.SetParameterValues{
				ParameterList:        list,
				DatetimeMilliseconds: opts.DatetimeMilliseconds,
				BooleanLiteral:       opts.BooleanLiteral,
			}
			s.rpcReqID = s.rpcID()
		}
	}
	return nil
}

func (e *Engine) assimilateGpa(s *Session, req rpc.GetParameterAttributes, resp *rpc.GetParameterAttributesResponse, ts int64) *rpc.Fault {
	d := s.Device
	var toClear []device.Clear
	for _, pa := range resp.ParameterList {
		p, err := path.Parse(pa.Name)
		if err != nil || p.Wildcard() != 0 {
			continue
		}
		notification := pa.Notification
		toClear = device.Set(d, p, ts+1, &device.Attributes{
			Notification: &device.Timestamped[int]{Timestamp: ts + 1, Value: notification},
			AccessList:   &device.Timestamped[[]string]{Timestamp: ts + 1, Value: pa.AccessList},
		}, toClear)
	}
	applyClears(d, toClear)
	return nil
}

func (e *Engine) assimilateSpv(s *Session, req rpc.SetParameterValues, ts int64) *rpc.Fault {
	d := s.Device
	var toClear []device.Clear
	for _, pv := range req.ParameterList {
		p, err := path.Parse(pv.Name)
		if err != nil {
			continue
		}
		v, err := device.SanitizeParameterValue(device.Value{Val: pv.Value, Type: pv.Type})
		if err != nil {
			continue
		}
		toClear = device.Set(d, p, ts+1, &device.Attributes{
			Object: &device.Timestamped[int]{Timestamp: ts + 1, Value: 0},
			Value:  &device.Timestamped[device.Value]{Timestamp: ts + 1, Value: v},
		}, toClear)
	}
	applyClears(d, toClear)
	return nil
}

func (e *Engine) assimilateSpa(s *Session, req rpc.SetParameterAttributes, ts int64) *rpc.Fault {
	d := s.Device
	var toClear []device.Clear
	for _, pa := range req.ParameterList {
		p, err := path.Parse(pa.Name)
		if err != nil {
			continue
		}
		attrs := &device.Attributes{}
		if pa.Notification != nil {
			attrs.Notification = &device.Timestamped[int]{Timestamp: ts + 1, Value: *pa.Notification}
		}
		if pa.AccessList != nil {
			attrs.AccessList = &device.Timestamped[[]string]{Timestamp: ts + 1, Value: pa.AccessList}
		}
		toClear = device.Set(d, p, ts+1, attrs, toClear)
	}
	applyClears(d, toClear)
	return nil
}

func (e *Engine) assimilateAddObject(s *Session, req rpc.AddObject, resp *rpc.AddObjectResponse, ts int64) *rpc.Fault {
	p, err := path.Parse(strings.TrimSuffix(req.ObjectName, ".") + "." + resp.InstanceNumber)
	if err != nil || p.Wildcard() != 0 {
		return &rpc.Fault{Code: rpc.FaultInvalidResponse, Message: "bad instance number", Timestamp: s.Timestamp}
	}
	toClear := device.Set(s.Device, p, ts+1, &device.Attributes{
		Object: &device.Timestamped[int]{Timestamp: ts + 1, Value: 1},
	}, nil)
	applyClears(s.Device, toClear)

	if len(req.InstanceValues) == 0 || req.Next != "getInstanceKeys" {
		return nil
	}
	// Chain straight into verifying the new instance's key parameters.
	names := make([]string, 0, len(req.InstanceValues))
	values := make(map[string]string, len(req.InstanceValues))
	for k, v := range req.InstanceValues {
		full := p.String() + "." + k
		names = append(names, full)
		values[full] = v
	}
	sort.Strings(names)
	s.rpcReq = rpc.GetParameterValues{
		ParameterNames: names,
		Next:           "setInstanceKeys",
		InstanceValues: values,
	}
	s.rpcReqID = s.rpcID()
	return nil
}

func (e *Engine) assimilateDeleteObject(s *Session, req rpc.DeleteObject, ts int64) *rpc.Fault {
	p, err := path.Parse(strings.TrimSuffix(req.ObjectName, "."))
	if err != nil {
		return &rpc.Fault{Code: rpc.FaultInvalidResponse, Message: "bad object name", Timestamp: s.Timestamp}
	}
	toClear := device.Set(s.Device, p, ts, nil, nil)
	applyClears(s.Device, toClear)
	return nil
}

func (e *Engine) assimilateDownload(s *Session, req rpc.Download, resp *rpc.DownloadResponse, ts int64) *rpc.Fault {
	op := &Operation{
		Name:      "Download",
		Timestamp: s.Timestamp,
		Channels:  make(map[string]bool),
		Retries:   make(map[string]int),
		Args: DownloadArgs{
			Instance:       req.Instance,
			FileType:       req.FileType,
			FileName:       req.FileName,
			TargetFileName: req.TargetFileName,
		},
	}
	for c := range s.Channels {
		op.Channels[c] = true
	}
	for c, r := range s.Retries {
		op.Retries[c] = r
	}

	// The request parameter now reflects this session's transfer, so the
	// plan stops re-issuing it.
	p := path.MustParse("Downloads").ConcatName(req.Instance).ConcatName("Download")
	toClear := device.Set(s.Device, p, ts+1, &device.Attributes{
		Object: &device.Timestamped[int]{Timestamp: ts + 1, Value: 0},
		Value: &device.Timestamped[device.Value]{
			Timestamp: ts + 1,
			Value:     device.Value{Val: s.Timestamp, Type: "xsd:dateTime"},
		},
	}, nil)
	applyClears(s.Device, toClear)

	if resp.Status == 0 {
		// Transfer already happened; no TransferComplete will come.
		e.completeDownload(s, op, resp.StartTime, resp.CompleteTime)
		s.OperationsTouched[req.CommandKey] = true
		return nil
	}
	s.Operations[req.CommandKey] = op
	s.OperationsTouched[req.CommandKey] = true
	return nil
}

func (e *Engine) assimilateCommand(s *Session, name string, ts int64) *rpc.Fault {
	toClear := device.Set(s.Device, path.MustParse(name), ts+1, &device.Attributes{
		Object: &device.Timestamped[int]{Timestamp: ts + 1, Value: 0},
		Value: &device.Timestamped[device.Value]{
			Timestamp: ts + 1,
			Value:     device.Value{Val: s.Timestamp, Type: "xsd:dateTime"},
		},
	}, nil)
	applyClears(s.Device, toClear)
	return nil
}
