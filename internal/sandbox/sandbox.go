// Package sandbox defines the boundary between the session engine and the
// provision/virtual-parameter script runtime. The engine hands a script a
// read-only snapshot of the device data model and gets back a result
// record; script execution semantics live behind the Runner interface.
package sandbox

import (
	"context"

	"github.com/joestump/cwmp-acs/internal/device"
	"github.com/joestump/cwmp-acs/internal/path"
	"github.com/joestump/cwmp-acs/internal/rpc"
)

// Script is a stored provision or virtual-parameter script.
type Script struct {
	Name   string
	Source string
}

// Reader gives scripts revision-pinned read access to the device data
// model. Implementations must not expose mutation.
type Reader interface {
	// Attributes returns the attributes of a concrete path visible at rev.
	Attributes(p *path.Path, rev int) (*device.Attributes, bool)
	// Timestamp returns the refresh timestamp of a path visible at rev.
	Timestamp(p *path.Path, rev int) (int64, bool)
	// Unpack expands a wildcard/alias pattern at rev.
	Unpack(p *path.Path, rev int) []*path.Path
}

// Env is the execution environment of one script run. Scripts read the
// data model at EndRevision; StartRevision tells reruns what they saw last
// time. Ext is the session's extension cache, keyed "<revision>:<call>".
type Env struct {
	DeviceID      string
	Timestamp     int64
	StartRevision int
	EndRevision   int
	Reader        Reader
	Ext           map[string]any
}

// Result is what a script run produces. Done reports that the script saw
// everything it asked for; when false the engine gathers the declared
// state and reruns the script at a later revision.
type Result struct {
	Fault   *rpc.Fault
	Clear   []device.Clear
	Declare []device.Declaration
	Done    bool
	Return  map[string]any
}

// Runner executes stored scripts. Implementations may not share mutable
// engine state; everything a script needs arrives through Env.
type Runner interface {
	Run(ctx context.Context, script *Script, args []any, env Env) (*Result, error)
}

// Unsupported is the shipped Runner: it rejects every stored script with a
// script fault. Hosts that store JavaScript provisions supply their own
// Runner; the built-in provisions never reach a Runner.
type Unsupported struct{}

func (Unsupported) Run(ctx context.Context, script *Script, args []any, env Env) (*Result, error) {
	return &Result{
		Fault: rpc.ScriptFault("UnsupportedScript",
			"no script runtime is configured for "+script.Name),
		Done: true,
	}, nil
}
