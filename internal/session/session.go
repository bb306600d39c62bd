// Package session implements the CWMP session engine: a reentrant driver
// that turns declarative provision output into the minimal sequence of
// TR-069 RPCs needed to make the device match, assimilating each response
// into a revisioned device data model along the way.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/joestump/cwmp-acs/internal/device"
	"github.com/joestump/cwmp-acs/internal/path"
	"github.com/joestump/cwmp-acs/internal/rpc"
	"github.com/joestump/cwmp-acs/internal/sandbox"
)

// nowMillis is swapped out in tests.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// Cache is the engine's view of the local configuration store. Snapshot
// pins a generation; the read methods answer against that generation for
// the whole session.
type Cache interface {
	Snapshot(ctx context.Context) (string, error)
	Config(token, key string) (string, bool)
	Provisions(token string) map[string]*sandbox.Script
	VirtualParameters(token string) map[string]*sandbox.Script
}

// Defaults for cwmp.* config keys not present in the cache.
var configDefaults = map[string]string{
	"cwmp.maxCommitIterations":      "32",
	"cwmp.maxRpcCount":              "255",
	"cwmp.gpvBatchSize":             "32",
	"cwmp.gpnNextLevel":             "0",
	"cwmp.datetimeMilliseconds":     "false",
	"cwmp.booleanLiteral":           "true",
	"cwmp.downloadTimeout":          "3600",
	"cwmp.downloadSuccessOnTimeout": "false",
	"cwmp.skipRootGpn":              "false",
	"cwmp.skipWritableCheck":        "false",
}

// Provision is one queued provision invocation.
type Provision struct {
	Name string `json:"name"`
	Args []any  `json:"args,omitempty"`
}

func (p Provision) equal(q Provision) bool {
	if p.Name != q.Name {
		return false
	}
	a, _ := json.Marshal(p.Args)
	b, _ := json.Marshal(q.Args)
	return string(a) == string(b)
}

// DownloadArgs carries the parameters of a pending Download operation.
type DownloadArgs struct {
	Instance       string `json:"instance"`
	FileType       string `json:"fileType"`
	FileName       string `json:"fileName,omitempty"`
	TargetFileName string `json:"targetFileName,omitempty"`
}

// Operation is a long-running CPE operation that outlives the session that
// started it, keyed by command key.
type Operation struct {
	Name      string          `json:"name"`
	Timestamp int64           `json:"timestamp"`
	Channels  map[string]bool `json:"channels,omitempty"`
	Retries   map[string]int  `json:"retries,omitempty"`
	Args      DownloadArgs    `json:"args"`
}

// virtualParameterCall is one pending virtual parameter evaluation within a
// stacked layer.
type virtualParameterCall struct {
	Name    string
	AttrGet *device.AttrTimestamps
	AttrSet *device.AttrValues
	Current *device.Attributes
}

// layerResult records the outcome of running one layer's scripts.
type layerResult struct {
	Done    bool
	Returns []map[string]any
}

// Session is the full state of one CWMP session with a device. It is not
// safe for concurrent use; the host serializes calls per device.
type Session struct {
	DeviceID    string
	CwmpVersion string
	Timestamp   int64
	Timeout     int64
	New         bool

	Device *device.Data

	Provisions []Provision
	Channels   map[string]uint64

	Declarations      [][]device.Declaration
	VirtualParameters [][]virtualParameterCall
	Revisions         []int
	provisionsRet     map[int]layerResult

	Operations        map[string]*Operation
	OperationsTouched map[string]bool
	Retries           map[string]int

	Iteration int
	Cycle     int
	RPCCount  int

	CacheSnapshot   string
	ExtensionsCache map[string]any

	// rpcReq is the in-flight ACS request; re-asking for a request while
	// one is outstanding returns it again.
	rpcReq   rpc.AcsRequest
	rpcReqID string

	// extraDecs are host-supplied declarations folded into level 0. The
	// host re-supplies them on every RPCRequest call, so they are never
	// serialized.
	extraDecs []device.Declaration

	syncState *syncState
}

// Engine drives sessions. It holds no per-device state; everything lives
// in the Session so hosts can serialize it between HTTP exchanges.
type Engine struct {
	cache  Cache
	runner sandbox.Runner
	log    *zap.Logger
}

// NewEngine returns an Engine backed by the given cache and script runner.
// A nil runner rejects stored scripts; a nil logger discards logs.
func NewEngine(cache Cache, runner sandbox.Runner, log *zap.Logger) *Engine {
	if runner == nil {
		runner = sandbox.Unsupported{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cache: cache, runner: runner, log: log}
}

// Init creates a session context for a device. timeout is the session
// timeout in milliseconds; isNew marks a device the ACS has never seen,
// whose registration parameters get written on inform.
func (e *Engine) Init(ctx context.Context, deviceID string, cwmpVersion string, timeout int64, isNew bool) (*Session, error) {
	token, err := e.cache.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache snapshot: %w", err)
	}

	s := &Session{
		DeviceID:          deviceID,
		CwmpVersion:       cwmpVersion,
		Timestamp:         nowMillis(),
		Timeout:           timeout,
		New:               isNew,
		Device:            device.New(),
		Channels:          make(map[string]uint64),
		Operations:        make(map[string]*Operation),
		OperationsTouched: make(map[string]bool),
		Retries:           make(map[string]int),
		provisionsRet:     make(map[int]layerResult),
		CacheSnapshot:     token,
		ExtensionsCache:   make(map[string]any),
	}

	e.log.Debug("session initialized",
		zap.String("deviceId", deviceID),
		zap.String("cacheSnapshot", token),
		zap.Bool("new", isNew))

	return s, nil
}

// Inform assimilates the session-opening Inform: device identity, event
// codes, and the reported parameter list all land in the data model before
// any provision runs.
func (e *Engine) Inform(ctx context.Context, s *Session, req *rpc.Inform) (*rpc.InformResponse, error) {
	ts := s.Timestamp + int64(s.Iteration) + 1
	var toClear []device.Clear

	set := func(name string, attrs *device.Attributes) {
		p, err := path.Parse(name)
		if err != nil {
			return
		}
		toClear = device.Set(s.Device, p, ts, attrs, toClear)
	}

	object := func(v int) *device.Timestamped[int] {
		return &device.Timestamped[int]{Timestamp: ts, Value: v}
	}
	strValue := func(v string) *device.Timestamped[device.Value] {
		return &device.Timestamped[device.Value]{
			Timestamp: ts,
			Value:     device.Value{Val: v, Type: "xsd:string"},
		}
	}
	timeValue := func(v int64) *device.Timestamped[device.Value] {
		return &device.Timestamped[device.Value]{
			Timestamp: ts,
			Value:     device.Value{Val: v, Type: "xsd:dateTime"},
		}
	}

	set("DeviceID", &device.Attributes{Object: object(1)})
	set("DeviceID.Manufacturer", &device.Attributes{Object: object(0), Value: strValue(req.DeviceID.Manufacturer)})
	set("DeviceID.OUI", &device.Attributes{Object: object(0), Value: strValue(req.DeviceID.OUI)})
	set("DeviceID.ProductClass", &device.Attributes{Object: object(0), Value: strValue(req.DeviceID.ProductClass)})
	set("DeviceID.SerialNumber", &device.Attributes{Object: object(0), Value: strValue(req.DeviceID.SerialNumber)})

	set("Events", &device.Attributes{Object: object(1)})
	set("Events.Inform", &device.Attributes{Object: object(0), Value: timeValue(s.Timestamp)})
	for _, event := range req.Event {
		set("Events."+encodeEvent(event), &device.Attributes{Object: object(0), Value: timeValue(s.Timestamp)})
	}

	if s.New {
		set("DeviceID.ID", &device.Attributes{Object: object(0), Value: strValue(s.DeviceID)})
		set("Events.Registered", &device.Attributes{Object: object(0), Value: timeValue(s.Timestamp)})
	}

	for _, param := range req.ParameterList {
		v, err := device.SanitizeParameterValue(device.Value{Val: param.Value, Type: param.Type})
		if err != nil {
			e.log.Warn("discarding malformed inform parameter",
				zap.String("deviceId", s.DeviceID),
				zap.String("parameter", param.Name),
				zap.Error(err))
			continue
		}
		set(param.Name, &device.Attributes{
			Object: object(0),
			Value:  &device.Timestamped[device.Value]{Timestamp: ts, Value: v},
		})
	}

	applyClears(s.Device, toClear)

	e.log.Debug("inform assimilated",
		zap.String("deviceId", s.DeviceID),
		zap.Strings("events", req.Event),
		zap.Int("parameters", len(req.ParameterList)))

	return &rpc.InformResponse{MaxEnvelopes: 1}, nil
}

// encodeEvent turns a CWMP event code into a path segment: "0 BOOTSTRAP"
// becomes "0_BOOTSTRAP". Characters that have meaning in paths are mapped
// to underscores too.
func encodeEvent(event string) string {
	var b strings.Builder
	for _, r := range event {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// TransferComplete resolves a pending download operation. The returned
// operation is nil when the command key is unknown; the returned fault is
// non-nil when the CPE reported a transfer failure.
func (e *Engine) TransferComplete(ctx context.Context, s *Session, req *rpc.TransferComplete) (*rpc.TransferCompleteResponse, *Operation, *rpc.Fault, error) {
	resp := &rpc.TransferCompleteResponse{}

	op := s.Operations[req.CommandKey]
	if op == nil {
		e.log.Warn("transfer complete for unknown operation",
			zap.String("deviceId", s.DeviceID),
			zap.String("commandKey", req.CommandKey))
		return resp, nil, nil, nil
	}

	delete(s.Operations, req.CommandKey)
	s.OperationsTouched[req.CommandKey] = true

	if req.FaultStruct != nil && req.FaultStruct.FaultCode != "" && req.FaultStruct.FaultCode != "0" {
		e.revertDownload(s, op)
		fault := rpc.CwmpFault(req.FaultStruct)
		e.log.Info("download failed",
			zap.String("deviceId", s.DeviceID),
			zap.String("commandKey", req.CommandKey),
			zap.String("faultCode", req.FaultStruct.FaultCode))
		return resp, op, fault, nil
	}

	e.completeDownload(s, op, req.StartTime, req.CompleteTime)
	e.log.Info("download complete",
		zap.String("deviceId", s.DeviceID),
		zap.String("commandKey", req.CommandKey))
	return resp, op, nil, nil
}

// TimeoutOperations expires download operations older than the configured
// timeout, returning the expired operations and one fault per expiry
// unless successful completion on timeout is configured.
func (e *Engine) TimeoutOperations(ctx context.Context, s *Session) ([]*Operation, []*rpc.Fault, error) {
	timeout := int64(e.configInt(s, "cwmp.downloadTimeout")) * 1000
	successOnTimeout := e.configBool(s, "cwmp.downloadSuccessOnTimeout")

	var ops []*Operation
	var faults []*rpc.Fault

	for key, op := range s.Operations {
		if op.Name != "Download" {
			return nil, nil, fmt.Errorf("unknown operation %q", op.Name)
		}
		if op.Timestamp+timeout > s.Timestamp {
			continue
		}

		delete(s.Operations, key)
		s.OperationsTouched[key] = true
		ops = append(ops, op)

		if successOnTimeout {
			e.completeDownload(s, op, 0, 0)
			continue
		}

		e.revertDownload(s, op)
		faults = append(faults, &rpc.Fault{
			Code:      rpc.FaultTimeout,
			Message:   "download operation timed out",
			Timestamp: s.Timestamp,
		})
	}

	return ops, faults, nil
}

// completeDownload records a finished transfer on the download instance.
func (e *Engine) completeDownload(s *Session, op *Operation, startTime, completeTime int64) {
	ts := s.Timestamp + int64(s.Iteration) + 1
	base := path.MustParse("Downloads").ConcatName(op.Args.Instance)
	var toClear []device.Clear

	write := func(name string, v device.Value) {
		toClear = device.Set(s.Device, base.ConcatName(name), ts, &device.Attributes{
			Object: &device.Timestamped[int]{Timestamp: ts, Value: 0},
			Value:  &device.Timestamped[device.Value]{Timestamp: ts, Value: v},
		}, toClear)
	}

	write("LastDownload", device.Value{Val: op.Timestamp, Type: "xsd:dateTime"})
	write("LastFileType", device.Value{Val: op.Args.FileType, Type: "xsd:string"})
	write("LastFileName", device.Value{Val: op.Args.FileName, Type: "xsd:string"})
	write("LastTargetFileName", device.Value{Val: op.Args.TargetFileName, Type: "xsd:string"})
	write("StartTime", device.Value{Val: startTime, Type: "xsd:dateTime"})
	write("CompleteTime", device.Value{Val: completeTime, Type: "xsd:dateTime"})

	applyClears(s.Device, toClear)
}

// revertDownload rolls the Download request parameter back to the last
// successful transfer time so the declaration machinery retries it.
func (e *Engine) revertDownload(s *Session, op *Operation) {
	ts := s.Timestamp + int64(s.Iteration) + 1
	base := path.MustParse("Downloads").ConcatName(op.Args.Instance)

	var last int64
	if lp := s.Device.Paths.Get(base.ConcatName("LastDownload")); lp != nil {
		if attrs, ok := s.Device.Attributes.Get(lp); ok && attrs.Value != nil {
			if v, ok := attrs.Value.Value.Val.(int64); ok {
				last = v
			}
		}
	}

	toClear := device.Set(s.Device, base.ConcatName("Download"), ts, &device.Attributes{
		Object: &device.Timestamped[int]{Timestamp: ts, Value: 0},
		Value: &device.Timestamped[device.Value]{
			Timestamp: ts,
			Value:     device.Value{Val: last, Type: "xsd:dateTime"},
		},
	}, nil)
	applyClears(s.Device, toClear)
}

// AddProvisions queues provisions on a channel. Sync state is discarded;
// if the session already made progress, speculative device state is
// committed and a new cycle opens so the new provisions see it.
func (e *Engine) AddProvisions(s *Session, channel string, provisions []Provision) {
	s.syncState = nil
	s.Declarations = nil
	s.VirtualParameters = nil
	s.provisionsRet = make(map[int]layerResult)
	s.extraDecs = nil

	if _, ok := s.Channels[channel]; !ok {
		s.Channels[channel] = 0
	}

	for _, provision := range provisions {
		channels := map[string]bool{channel: true}
		for j, existing := range s.Provisions {
			if !existing.equal(provision) {
				continue
			}
			// Collapse the duplicate: inherit its channels and shift the
			// bitmasks down.
			s.Provisions = append(s.Provisions[:j], s.Provisions[j+1:]...)
			for c, flags := range s.Channels {
				if flags&(1<<uint(j)) != 0 {
					channels[c] = true
				}
				low := flags & ((1 << uint(j)) - 1)
				high := (flags >> uint(j+1)) << uint(j)
				s.Channels[c] = low | high
			}
			break
		}
		bit := uint64(1) << uint(len(s.Provisions))
		s.Provisions = append(s.Provisions, provision)
		for c := range channels {
			s.Channels[c] |= bit
		}
	}

	if len(s.Revisions) > 1 || (len(s.Revisions) == 1 && s.Revisions[0] > 0) {
		s.Device.Collapse(0)
		s.Device.SetRevision(0)
		s.Cycle++
		s.RPCCount = 0
		s.Iteration = s.Cycle * e.maxIterations(s)
	}
	s.Revisions = nil
}

// ClearProvisions resets all queued work: provisions, stacked layers, and
// the extension cache. The same cycle-reset rule as AddProvisions applies.
func (e *Engine) ClearProvisions(s *Session) {
	if len(s.Revisions) > 1 || (len(s.Revisions) == 1 && s.Revisions[0] > 0) {
		s.Device.Collapse(0)
		s.Device.SetRevision(0)
		s.Cycle++
		s.RPCCount = 0
		s.Iteration = s.Cycle * e.maxIterations(s)
	}

	s.Provisions = nil
	s.Channels = make(map[string]uint64)
	s.Declarations = nil
	s.VirtualParameters = nil
	s.Revisions = nil
	s.provisionsRet = make(map[int]layerResult)
	s.ExtensionsCache = make(map[string]any)
	s.extraDecs = nil
	s.syncState = nil
}

// --- Config access ---

func (e *Engine) configStr(s *Session, key string) string {
	if v, ok := e.cache.Config(s.CacheSnapshot, key); ok {
		return v
	}
	return configDefaults[key]
}

func (e *Engine) configInt(s *Session, key string) int {
	v := e.configStr(s, key)
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		n, _ = strconv.Atoi(configDefaults[key])
	}
	return n
}

func (e *Engine) configBool(s *Session, key string) bool {
	switch strings.ToLower(strings.TrimSpace(e.configStr(s, key))) {
	case "true", "1":
		return true
	}
	return false
}

// maxIterations is the commit-round budget of one cycle: every commit
// round advances the iteration counter by two.
func (e *Engine) maxIterations(s *Session) int {
	return 2 * e.configInt(s, "cwmp.maxCommitIterations")
}

func (e *Engine) formatOptions(s *Session) device.FormatOptions {
	return device.FormatOptions{
		DatetimeMilliseconds: e.configBool(s, "cwmp.datetimeMilliseconds"),
		BooleanLiteral:       e.configBool(s, "cwmp.booleanLiteral"),
	}
}

// rpcID is the identifier of the in-flight RPC: session timestamp, cycle,
// and RPC counter in hex, unique within and across a device's sessions.
func (s *Session) rpcID() string {
	return fmt.Sprintf("%x%02x%02x", s.Timestamp, s.Cycle&0xff, s.RPCCount&0xff)
}

func applyClears(d *device.Data, toClear []device.Clear) {
	for _, c := range toClear {
		device.ClearPath(d, c.Path, c.Timestamp, c.AttrTimestamps)
	}
}
