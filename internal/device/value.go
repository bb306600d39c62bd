package device

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValidTypes is the XSD type vocabulary the engine accepts from scripts and
// CPEs. The lower-case "xsd:datetime" spelling seen in the wild normalizes
// to "xsd:dateTime".
var ValidTypes = map[string]bool{
	"xsd:int":         true,
	"xsd:unsignedInt": true,
	"xsd:boolean":     true,
	"xsd:string":      true,
	"xsd:dateTime":    true,
	"xsd:base64":      true,
	"xsd:hexBinary":   true,
}

// Value is a typed parameter value. Val holds one of string, int64, float64
// or bool; Type is an XSD type name.
type Value struct {
	Val  any
	Type string
}

// NormalizeType canonicalizes XSD type spellings. The second return is
// false for types outside the accepted vocabulary.
func NormalizeType(t string) (string, bool) {
	if strings.EqualFold(t, "xsd:datetime") {
		t = "xsd:dateTime"
	}
	return t, ValidTypes[t]
}

// SanitizeParameterValue coerces v.Val to the Go representation matching
// v.Type: bool for xsd:boolean, int64 for the integer and dateTime types,
// string otherwise. Mismatches are rejected, never stringified silently.
func SanitizeParameterValue(v Value) (Value, error) {
	t, ok := NormalizeType(v.Type)
	if !ok {
		return v, fmt.Errorf("invalid parameter type %q", v.Type)
	}
	v.Type = t
	switch t {
	case "xsd:boolean":
		switch val := v.Val.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(val)) {
			case "true", "1":
				v.Val = true
			case "false", "0":
				v.Val = false
			default:
				return v, fmt.Errorf("cannot interpret %q as boolean", val)
			}
			return v, nil
		case int64:
			v.Val = val != 0
			return v, nil
		case float64:
			v.Val = val != 0
			return v, nil
		}
	case "xsd:int", "xsd:unsignedInt":
		n, err := toInt64(v.Val)
		if err != nil {
			return v, fmt.Errorf("cannot interpret %v as %s: %w", v.Val, t, err)
		}
		if t == "xsd:unsignedInt" && n < 0 {
			return v, fmt.Errorf("negative value %d for xsd:unsignedInt", n)
		}
		v.Val = n
		return v, nil
	case "xsd:dateTime":
		switch val := v.Val.(type) {
		case int64:
			return v, nil
		case float64:
			v.Val = int64(val)
			return v, nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, val)
			if err != nil {
				return v, fmt.Errorf("cannot interpret %q as dateTime: %w", val, err)
			}
			v.Val = ts.UnixMilli()
			return v, nil
		}
	case "xsd:base64":
		s, ok := v.Val.(string)
		if !ok {
			return v, fmt.Errorf("xsd:base64 requires a string, got %T", v.Val)
		}
		if _, err := base64.StdEncoding.DecodeString(s); err != nil {
			return v, fmt.Errorf("invalid base64 value: %w", err)
		}
		return v, nil
	case "xsd:hexBinary":
		s, ok := v.Val.(string)
		if !ok {
			return v, fmt.Errorf("xsd:hexBinary requires a string, got %T", v.Val)
		}
		if _, err := hex.DecodeString(s); err != nil {
			return v, fmt.Errorf("invalid hexBinary value: %w", err)
		}
		return v, nil
	case "xsd:string":
		switch val := v.Val.(type) {
		case string:
			return v, nil
		case bool:
			v.Val = strconv.FormatBool(val)
			return v, nil
		case int64:
			v.Val = strconv.FormatInt(val, 10)
			return v, nil
		case float64:
			v.Val = strconv.FormatFloat(val, 'f', -1, 64)
			return v, nil
		}
	}
	return v, fmt.Errorf("cannot represent %T as %s", v.Val, t)
}

func toInt64(val any) (int64, error) {
	switch v := val.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	case bool:
		return 0, fmt.Errorf("boolean is not an integer")
	}
	return 0, fmt.Errorf("unsupported type %T", val)
}

// FormatOptions controls wire formatting of values.
type FormatOptions struct {
	DatetimeMilliseconds bool
	BooleanLiteral       bool
}

// WireString renders a sanitized value for a SetParameterValues entry.
func WireString(v Value, opts FormatOptions) string {
	switch val := v.Val.(type) {
	case bool:
		if opts.BooleanLiteral {
			return strconv.FormatBool(val)
		}
		if val {
			return "1"
		}
		return "0"
	case int64:
		if v.Type == "xsd:dateTime" {
			t := time.UnixMilli(val).UTC()
			if opts.DatetimeMilliseconds {
				return t.Format("2006-01-02T15:04:05.000Z07:00")
			}
			return t.Truncate(time.Second).Format(time.RFC3339)
		}
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case string:
		return val
	case nil:
		return ""
	}
	return fmt.Sprint(v.Val)
}

// ValueString renders a value for alias-key comparison: a plain, untyped
// string form.
func ValueString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(val)
}

// ValueEqual reports whether two sanitized values are interchangeable: same
// type and same canonical representation.
func ValueEqual(a, b Value) bool {
	return a.Type == b.Type && ValueString(a.Val) == ValueString(b.Val)
}

// AccessListsEqual compares access lists element-wise.
func AccessListsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
