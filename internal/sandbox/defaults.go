package sandbox

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joestump/cwmp-acs/internal/device"
	"github.com/joestump/cwmp-acs/internal/path"
	"github.com/joestump/cwmp-acs/internal/rpc"
)

// refreshDepth bounds how far below a refreshed path descendant wildcards
// are declared. TR-098 and TR-181 trees stay well under this.
const refreshDepth = 16

// DefaultProvision reports whether name is one of the built-in provisions.
// A stored script with the same name shadows the built-in.
func DefaultProvision(name string) bool {
	switch name {
	case "refresh", "value", "tag", "reboot", "reset", "download":
		return true
	}
	return false
}

// RunDefaultProvision evaluates a built-in provision. Built-ins are pure
// declaration generators: they finish in one run and never touch the
// extension cache.
func RunDefaultProvision(name string, args []any, timestamp int64) (*Result, error) {
	var (
		decs []device.Declaration
		err  error
	)
	switch name {
	case "refresh":
		decs, err = defaultRefresh(args, timestamp)
	case "value":
		decs, err = defaultValue(args)
	case "tag":
		decs, err = defaultTag(args)
	case "reboot":
		decs = []device.Declaration{{
			Path:    path.MustParse("Reboot"),
			PathGet: 1,
			AttrSet: &device.AttrValues{
				Value: &device.Value{Val: timestamp, Type: "xsd:dateTime"},
			},
		}}
	case "reset":
		decs = []device.Declaration{{
			Path:    path.MustParse("FactoryReset"),
			PathGet: 1,
			AttrSet: &device.AttrValues{
				Value: &device.Value{Val: timestamp, Type: "xsd:dateTime"},
			},
		}}
	case "download":
		decs, err = defaultDownload(args, timestamp)
	default:
		err = fmt.Errorf("unknown provision %q", name)
	}
	if err != nil {
		return &Result{Fault: rpc.ScriptFault(name, err.Error()), Done: true}, nil
	}
	return &Result{Declare: decs, Done: true}, nil
}

// defaultRefresh declares the given path and every descendant level so that
// the whole subtree gets rediscovered. An optional second argument is a
// maximum age in milliseconds; state fresher than that is left alone.
func defaultRefresh(args []any, timestamp int64) ([]device.Declaration, error) {
	p, err := argPath(args, 0)
	if err != nil {
		return nil, err
	}
	t := timestamp
	if len(args) > 1 {
		age, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		t = timestamp - age
	}

	var decs []device.Declaration
	for l := p.Length(); l <= refreshDepth; l++ {
		decs = append(decs, device.Declaration{
			Path:    p,
			PathGet: t,
			AttrGet: &device.AttrTimestamps{Object: t, Writable: t, Value: t},
		})
		p = p.ConcatName("*")
	}
	return decs, nil
}

// defaultValue declares one parameter's desired value.
func defaultValue(args []any) ([]device.Declaration, error) {
	p, err := argPath(args, 0)
	if err != nil {
		return nil, err
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("value provision requires a value argument")
	}
	return []device.Declaration{{
		Path:    p,
		PathGet: 1,
		AttrGet: &device.AttrTimestamps{Value: 1},
		AttrSet: &device.AttrValues{Value: &device.Value{Val: args[1]}},
	}}, nil
}

// defaultTag sets or clears an ACS tag on the device.
func defaultTag(args []any) ([]device.Declaration, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("tag provision requires a tag name and a boolean")
	}
	tag, ok := args[0].(string)
	if !ok || tag == "" {
		return nil, fmt.Errorf("tag provision requires a tag name string")
	}
	on, ok := args[1].(bool)
	if !ok {
		return nil, fmt.Errorf("tag provision requires a boolean state")
	}
	p, err := path.Parse("Tags." + tag)
	if err != nil {
		return nil, err
	}
	return []device.Declaration{{
		Path:    p,
		PathGet: 1,
		AttrSet: &device.AttrValues{Value: &device.Value{Val: on, Type: "xsd:boolean"}},
	}}, nil
}

// defaultDownload declares a download instance keyed by file type, file
// name and target file name, and requests the transfer itself.
func defaultDownload(args []any, timestamp int64) ([]device.Declaration, error) {
	fileType, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	fileName, _ := optString(args, 1)
	targetFileName, _ := optString(args, 2)

	keys := map[string]string{"FileType": fileType}
	if fileName != "" {
		keys["FileName"] = fileName
	}
	if targetFileName != "" {
		keys["TargetFileName"] = targetFileName
	}

	alias := aliasExpr(keys)
	instance, err := path.Parse("Downloads." + alias)
	if err != nil {
		return nil, err
	}
	download, err := path.Parse("Downloads." + alias + ".Download")
	if err != nil {
		return nil, err
	}

	return []device.Declaration{
		{Path: instance, PathGet: 1, PathSet: &device.Bounds{Min: 1, Max: 1}},
		{
			Path:    download,
			PathGet: 1,
			AttrGet: &device.AttrTimestamps{Value: 1},
			AttrSet: &device.AttrValues{
				Value: &device.Value{Val: timestamp, Type: "xsd:dateTime"},
			},
		},
	}, nil
}

func aliasExpr(keys map[string]string) string {
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = k + "=" + keys[k]
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func argPath(args []any, i int) (*path.Path, error) {
	s, err := argString(args, i)
	if err != nil {
		return nil, err
	}
	return path.Parse(s)
}

func argString(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d must be a string, got %T", i, args[i])
	}
	return s, nil
}

func optString(args []any, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

func argInt(args []any, i int) (int64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	switch v := args[i].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	}
	return 0, fmt.Errorf("argument %d must be a number, got %T", i, args[i])
}
