package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/joestump/cwmp-acs/internal/device"
	"github.com/joestump/cwmp-acs/internal/path"
	"github.com/joestump/cwmp-acs/internal/rpc"
	"github.com/joestump/cwmp-acs/internal/vmap"
)

// The engine holds no per-device state, so a session serializes completely
// between HTTP exchanges. Interned paths flatten to strings and are
// re-interned on load; the ephemeral plan is never serialized.

type sessionJSON struct {
	DeviceID          string                     `json:"deviceId"`
	CwmpVersion       string                     `json:"cwmpVersion"`
	Timestamp         int64                      `json:"timestamp"`
	Timeout           int64                      `json:"timeout,omitempty"`
	New               bool                       `json:"new,omitempty"`
	Provisions        []Provision                `json:"provisions,omitempty"`
	Channels          map[string]uint64          `json:"channels,omitempty"`
	Revision          int                        `json:"revision"`
	DeviceData        []pathRecordJSON           `json:"deviceData"`
	Declarations      [][]declarationJSON        `json:"declarations,omitempty"`
	VirtualParameters [][]vparamCallJSON         `json:"virtualParameters,omitempty"`
	Revisions         []int                      `json:"revisions,omitempty"`
	ProvisionsRet     map[string]layerResultJSON `json:"provisionsRet,omitempty"`
	Operations        map[string]*Operation      `json:"operations,omitempty"`
	OperationsTouched map[string]bool            `json:"operationsTouched,omitempty"`
	Retries           map[string]int             `json:"retries,omitempty"`
	Iteration         int                        `json:"iteration"`
	Cycle             int                        `json:"cycle"`
	RPCCount          int                        `json:"rpcCount"`
	CacheSnapshot     string                     `json:"cacheSnapshot"`
	ExtensionsCache   map[string]any             `json:"extensionsCache,omitempty"`
	RPCRequest        *rpcRequestJSON            `json:"rpcRequest,omitempty"`
	RPCRequestID      string                     `json:"rpcRequestId,omitempty"`
}

type pathRecordJSON struct {
	Path       string                `json:"path"`
	Trackers   map[string]int        `json:"trackers,omitempty"`
	Timestamps []timestampEntryJSON  `json:"timestamps,omitempty"`
	Attributes []attributesEntryJSON `json:"attributes,omitempty"`
}

type timestampEntryJSON struct {
	Revision int   `json:"revision"`
	Deleted  bool  `json:"deleted,omitempty"`
	Value    int64 `json:"value,omitempty"`
}

type attributesEntryJSON struct {
	Revision int             `json:"revision"`
	Deleted  bool            `json:"deleted,omitempty"`
	Attrs    *attributesJSON `json:"attrs,omitempty"`
}

type attributesJSON struct {
	Object       *tsIntJSON   `json:"object,omitempty"`
	Writable     *tsIntJSON   `json:"writable,omitempty"`
	Value        *tsValueJSON `json:"value,omitempty"`
	Notification *tsIntJSON   `json:"notification,omitempty"`
	AccessList   *tsListJSON  `json:"accessList,omitempty"`
}

type tsIntJSON struct {
	Timestamp int64 `json:"timestamp"`
	Value     int   `json:"value"`
}

type tsValueJSON struct {
	Timestamp int64  `json:"timestamp"`
	Val       any    `json:"val"`
	Type      string `json:"type"`
}

type tsListJSON struct {
	Timestamp int64    `json:"timestamp"`
	Value     []string `json:"value"`
}

type declarationJSON struct {
	Path    string                 `json:"path"`
	PathGet int64                  `json:"pathGet,omitempty"`
	PathSet *device.Bounds         `json:"pathSet,omitempty"`
	AttrGet *device.AttrTimestamps `json:"attrGet,omitempty"`
	AttrSet *attrValuesJSON        `json:"attrSet,omitempty"`
	Defer   bool                   `json:"defer,omitempty"`
}

type attrValuesJSON struct {
	Value        *valueJSON `json:"value,omitempty"`
	Notification *int       `json:"notification,omitempty"`
	AccessList   []string   `json:"accessList,omitempty"`
}

type valueJSON struct {
	Val  any    `json:"val"`
	Type string `json:"type,omitempty"`
}

type vparamCallJSON struct {
	Name    string                 `json:"name"`
	AttrGet *device.AttrTimestamps `json:"attrGet,omitempty"`
	AttrSet *attrValuesJSON        `json:"attrSet,omitempty"`
	Current *attributesJSON        `json:"current,omitempty"`
}

type layerResultJSON struct {
	Done    bool             `json:"done"`
	Returns []map[string]any `json:"returns,omitempty"`
}

type rpcRequestJSON struct {
	Name string          `json:"name"`
	Body json.RawMessage `json:"body"`
}

// Serialize flattens the session to JSON.
func (e *Engine) Serialize(s *Session) ([]byte, error) {
	out := sessionJSON{
		DeviceID:          s.DeviceID,
		CwmpVersion:       s.CwmpVersion,
		Timestamp:         s.Timestamp,
		Timeout:           s.Timeout,
		New:               s.New,
		Provisions:        s.Provisions,
		Channels:          s.Channels,
		Revision:          s.Device.Timestamps.Revision,
		Revisions:         s.Revisions,
		Operations:        s.Operations,
		OperationsTouched: s.OperationsTouched,
		Retries:           s.Retries,
		Iteration:         s.Iteration,
		Cycle:             s.Cycle,
		RPCCount:          s.RPCCount,
		CacheSnapshot:     s.CacheSnapshot,
		ExtensionsCache:   s.ExtensionsCache,
		RPCRequestID:      s.rpcReqID,
	}

	out.DeviceData = marshalDeviceData(s.Device)

	for _, level := range s.Declarations {
		decs := make([]declarationJSON, 0, len(level))
		for _, dec := range level {
			decs = append(decs, marshalDeclaration(dec))
		}
		out.Declarations = append(out.Declarations, decs)
	}

	for _, level := range s.VirtualParameters {
		calls := make([]vparamCallJSON, 0, len(level))
		for _, c := range level {
			calls = append(calls, vparamCallJSON{
				Name:    c.Name,
				AttrGet: c.AttrGet,
				AttrSet: marshalAttrValues(c.AttrSet),
				Current: marshalAttributes(c.Current),
			})
		}
		out.VirtualParameters = append(out.VirtualParameters, calls)
	}

	if len(s.provisionsRet) > 0 {
		out.ProvisionsRet = make(map[string]layerResultJSON, len(s.provisionsRet))
		for level, lr := range s.provisionsRet {
			out.ProvisionsRet[strconv.Itoa(level)] = layerResultJSON{
				Done:    lr.Done,
				Returns: marshalReturns(lr.Returns),
			}
		}
	}

	if s.rpcReq != nil {
		body, err := json.Marshal(s.rpcReq)
		if err != nil {
			return nil, fmt.Errorf("serialize rpc request: %w", err)
		}
		out.RPCRequest = &rpcRequestJSON{Name: s.rpcReq.RequestName(), Body: body}
	}

	return json.Marshal(out)
}

// Deserialize rebuilds a session, re-interning every path.
func (e *Engine) Deserialize(data []byte) (*Session, error) {
	var in sessionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("deserialize session: %w", err)
	}

	s := &Session{
		DeviceID:          in.DeviceID,
		CwmpVersion:       in.CwmpVersion,
		Timestamp:         in.Timestamp,
		Timeout:           in.Timeout,
		New:               in.New,
		Provisions:        in.Provisions,
		Channels:          in.Channels,
		Device:            device.New(),
		Revisions:         in.Revisions,
		Operations:        in.Operations,
		OperationsTouched: in.OperationsTouched,
		Retries:           in.Retries,
		Iteration:         in.Iteration,
		Cycle:             in.Cycle,
		RPCCount:          in.RPCCount,
		CacheSnapshot:     in.CacheSnapshot,
		ExtensionsCache:   in.ExtensionsCache,
		provisionsRet:     make(map[int]layerResult),
		rpcReqID:          in.RPCRequestID,
	}
	if s.Channels == nil {
		s.Channels = make(map[string]uint64)
	}
	if s.Operations == nil {
		s.Operations = make(map[string]*Operation)
	}
	if s.OperationsTouched == nil {
		s.OperationsTouched = make(map[string]bool)
	}
	if s.Retries == nil {
		s.Retries = make(map[string]int)
	}
	if s.ExtensionsCache == nil {
		s.ExtensionsCache = make(map[string]any)
	}

	if err := unmarshalDeviceData(s.Device, in.DeviceData); err != nil {
		return nil, err
	}
	s.Device.SetRevision(in.Revision)

	for _, level := range in.Declarations {
		decs := make([]device.Declaration, 0, len(level))
		for _, dj := range level {
			dec, err := unmarshalDeclaration(dj)
			if err != nil {
				return nil, err
			}
			decs = append(decs, dec)
		}
		s.Declarations = append(s.Declarations, decs)
	}

	for _, level := range in.VirtualParameters {
		calls := make([]virtualParameterCall, 0, len(level))
		for _, cj := range level {
			calls = append(calls, virtualParameterCall{
				Name:    cj.Name,
				AttrGet: cj.AttrGet,
				AttrSet: unmarshalAttrValues(cj.AttrSet),
				Current: unmarshalAttributes(cj.Current),
			})
		}
		s.VirtualParameters = append(s.VirtualParameters, calls)
	}

	for key, lr := range in.ProvisionsRet {
		level, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("deserialize session: bad level %q", key)
		}
		s.provisionsRet[level] = layerResult{
			Done:    lr.Done,
			Returns: unmarshalReturns(lr.Returns),
		}
	}

	if in.RPCRequest != nil {
		req, err := unmarshalRPCRequest(in.RPCRequest)
		if err != nil {
			return nil, err
		}
		s.rpcReq = req
	}

	return s, nil
}

func marshalDeviceData(d *device.Data) []pathRecordJSON {
	seen := make(map[*path.Path]struct{})
	for _, p := range d.Timestamps.Keys() {
		seen[p] = struct{}{}
	}
	for _, p := range d.Attributes.Keys() {
		seen[p] = struct{}{}
	}
	for p := range d.Trackers {
		seen[p] = struct{}{}
	}

	paths := make([]*path.Path, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i].String() < paths[j].String() })

	out := make([]pathRecordJSON, 0, len(paths))
	for _, p := range paths {
		rec := pathRecordJSON{Path: p.String(), Trackers: d.Trackers[p]}
		for _, ent := range d.Timestamps.GetRevisions(p) {
			rec.Timestamps = append(rec.Timestamps, timestampEntryJSON{
				Revision: ent.Revision,
				Deleted:  ent.Deleted,
				Value:    ent.Value,
			})
		}
		for _, ent := range d.Attributes.GetRevisions(p) {
			rec.Attributes = append(rec.Attributes, attributesEntryJSON{
				Revision: ent.Revision,
				Deleted:  ent.Deleted,
				Attrs:    marshalAttributes(ent.Value),
			})
		}
		out = append(out, rec)
	}
	return out
}

func unmarshalDeviceData(d *device.Data, records []pathRecordJSON) error {
	for _, rec := range records {
		p, err := path.Parse(rec.Path)
		if err != nil {
			return fmt.Errorf("deserialize session: bad path %q: %w", rec.Path, err)
		}
		p = d.Paths.Add(p)
		if len(rec.Trackers) > 0 {
			d.Trackers[p] = rec.Trackers
		}
		if len(rec.Timestamps) > 0 {
			hist := make([]vmap.Entry[int64], 0, len(rec.Timestamps))
			for _, ent := range rec.Timestamps {
				hist = append(hist, vmap.Entry[int64]{
					Revision: ent.Revision,
					Deleted:  ent.Deleted,
					Value:    ent.Value,
				})
			}
			d.Timestamps.SetRevisions(p, hist)
		}
		if len(rec.Attributes) > 0 {
			hist := make([]vmap.Entry[*device.Attributes], 0, len(rec.Attributes))
			for _, ent := range rec.Attributes {
				hist = append(hist, vmap.Entry[*device.Attributes]{
					Revision: ent.Revision,
					Deleted:  ent.Deleted,
					Value:    unmarshalAttributes(ent.Attrs),
				})
			}
			d.Attributes.SetRevisions(p, hist)
		}
	}
	return nil
}

func marshalAttributes(a *device.Attributes) *attributesJSON {
	if a == nil {
		return nil
	}
	out := &attributesJSON{}
	if a.Object != nil {
		out.Object = &tsIntJSON{Timestamp: a.Object.Timestamp, Value: a.Object.Value}
	}
	if a.Writable != nil {
		out.Writable = &tsIntJSON{Timestamp: a.Writable.Timestamp, Value: a.Writable.Value}
	}
	if a.Value != nil {
		out.Value = &tsValueJSON{
			Timestamp: a.Value.Timestamp,
			Val:       a.Value.Value.Val,
			Type:      a.Value.Value.Type,
		}
	}
	if a.Notification != nil {
		out.Notification = &tsIntJSON{Timestamp: a.Notification.Timestamp, Value: a.Notification.Value}
	}
	if a.AccessList != nil {
		out.AccessList = &tsListJSON{Timestamp: a.AccessList.Timestamp, Value: a.AccessList.Value}
	}
	return out
}

func unmarshalAttributes(a *attributesJSON) *device.Attributes {
	if a == nil {
		return nil
	}
	out := &device.Attributes{}
	if a.Object != nil {
		out.Object = &device.Timestamped[int]{Timestamp: a.Object.Timestamp, Value: a.Object.Value}
	}
	if a.Writable != nil {
		out.Writable = &device.Timestamped[int]{Timestamp: a.Writable.Timestamp, Value: a.Writable.Value}
	}
	if a.Value != nil {
		out.Value = &device.Timestamped[device.Value]{
			Timestamp: a.Value.Timestamp,
			Value:     reviveValue(device.Value{Val: a.Value.Val, Type: a.Value.Type}),
		}
	}
	if a.Notification != nil {
		out.Notification = &device.Timestamped[int]{Timestamp: a.Notification.Timestamp, Value: a.Notification.Value}
	}
	if a.AccessList != nil {
		out.AccessList = &device.Timestamped[[]string]{Timestamp: a.AccessList.Timestamp, Value: a.AccessList.Value}
	}
	return out
}

// reviveValue undoes JSON's number widening using the recorded type.
func reviveValue(v device.Value) device.Value {
	if v.Type == "" {
		return v
	}
	if sv, err := device.SanitizeParameterValue(v); err == nil {
		return sv
	}
	return v
}

func marshalDeclaration(dec device.Declaration) declarationJSON {
	return declarationJSON{
		Path:    dec.Path.String(),
		PathGet: dec.PathGet,
		PathSet: dec.PathSet,
		AttrGet: dec.AttrGet,
		AttrSet: marshalAttrValues(dec.AttrSet),
		Defer:   dec.Defer,
	}
}

func unmarshalDeclaration(dj declarationJSON) (device.Declaration, error) {
	p, err := path.Parse(dj.Path)
	if err != nil {
		return device.Declaration{}, fmt.Errorf("deserialize session: bad path %q: %w", dj.Path, err)
	}
	return device.Declaration{
		Path:    p,
		PathGet: dj.PathGet,
		PathSet: dj.PathSet,
		AttrGet: dj.AttrGet,
		AttrSet: unmarshalAttrValues(dj.AttrSet),
		Defer:   dj.Defer,
	}, nil
}

func marshalAttrValues(av *device.AttrValues) *attrValuesJSON {
	if av == nil {
		return nil
	}
	out := &attrValuesJSON{Notification: av.Notification, AccessList: av.AccessList}
	if av.Value != nil {
		out.Value = &valueJSON{Val: av.Value.Val, Type: av.Value.Type}
	}
	return out
}

func unmarshalAttrValues(av *attrValuesJSON) *device.AttrValues {
	if av == nil {
		return nil
	}
	out := &device.AttrValues{Notification: av.Notification, AccessList: av.AccessList}
	if av.Value != nil {
		v := reviveValue(device.Value{Val: av.Value.Val, Type: av.Value.Type})
		out.Value = &v
	}
	return out
}

func marshalReturns(returns []map[string]any) []map[string]any {
	out := make([]map[string]any, len(returns))
	for i, ret := range returns {
		if ret == nil {
			continue
		}
		m := make(map[string]any, len(ret))
		for k, v := range ret {
			if val, ok := v.(device.Value); ok {
				m[k] = map[string]any{"val": val.Val, "type": val.Type}
			} else {
				m[k] = v
			}
		}
		out[i] = m
	}
	return out
}

func unmarshalReturns(returns []map[string]any) []map[string]any {
	out := make([]map[string]any, len(returns))
	for i, ret := range returns {
		if ret == nil {
			continue
		}
		m := make(map[string]any, len(ret))
		for k, v := range ret {
			if vm, ok := v.(map[string]any); ok {
				if t, ok := vm["type"].(string); ok {
					m[k] = reviveValue(device.Value{Val: vm["val"], Type: t})
					continue
				}
			}
			switch k {
			case device.AttrNotification.String():
				if f, ok := v.(float64); ok {
					m[k] = int(f)
					continue
				}
			case device.AttrAccessList.String():
				if l, err := toStringList(v); err == nil {
					m[k] = l
					continue
				}
			}
			m[k] = v
		}
		out[i] = m
	}
	return out
}

func unmarshalRPCRequest(rj *rpcRequestJSON) (rpc.AcsRequest, error) {
	decode := func(v rpc.AcsRequest) (rpc.AcsRequest, error) {
		if err := json.Unmarshal(rj.Body, v); err != nil {
			return nil, fmt.Errorf("deserialize rpc request %s: %w", rj.Name, err)
		}
		return v, nil
	}
	switch rj.Name {
	case "GetParameterNames":
		v, err := decode(&rpc.GetParameterNames{})
		if err != nil {
			return nil, err
		}
		return *v.(*rpc.GetParameterNames), nil
	case "GetParameterValues":
		v, err := decode(&rpc.GetParameterValues{})
		if err != nil {
			return nil, err
		}
		return *v.(*rpc.GetParameterValues), nil
	case "GetParameterAttributes":
		v, err := decode(&rpc.GetParameterAttributes{})
		if err != nil {
			return nil, err
		}
		return *v.(*rpc.GetParameterAttributes), nil
	case "SetParameterValues":
		v, err := decode(&rpc.SetParameterValues{})
		if err != nil {
			return nil, err
		}
		return *v.(*rpc.SetParameterValues), nil
	case "SetParameterAttributes":
		v, err := decode(&rpc.SetParameterAttributes{})
		if err != nil {
			return nil, err
		}
		return *v.(*rpc.SetParameterAttributes), nil
	case "AddObject":
		v, err := decode(&rpc.AddObject{})
		if err != nil {
			return nil, err
		}
		return *v.(*rpc.AddObject), nil
	case "DeleteObject":
		v, err := decode(&rpc.DeleteObject{})
		if err != nil {
			return nil, err
		}
		return *v.(*rpc.DeleteObject), nil
	case "Download":
		v, err := decode(&rpc.Download{})
		if err != nil {
			return nil, err
		}
		return *v.(*rpc.Download), nil
	case "Reboot":
		return rpc.Reboot{}, nil
	case "FactoryReset":
		return rpc.FactoryReset{}, nil
	}
	return nil, fmt.Errorf("deserialize rpc request: unknown name %q", rj.Name)
}
