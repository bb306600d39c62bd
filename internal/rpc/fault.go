package rpc

import "fmt"

// Engine fault codes. CPE-reported CWMP faults use "cwmp.<nnnn>" and script
// faults use "script.<ErrorName>"; these constants cover the rest.
const (
	FaultScript            = "script"
	FaultTimeout           = "timeout"
	FaultInvalidResponse   = "invalid_response"
	FaultTooManyRPCs       = "too_many_rpcs"
	FaultDeeplyNestedVPs   = "deeply_nested_vparams"
	FaultTooManyCycles     = "too_many_cycles"
	FaultTooManyCommits    = "too_many_commits"
	FaultSessionTerminated = "session_terminated"
)

// Fault is the engine's classification of a failure. Code strings are
// stable so the host can route and record them per channel.
type Fault struct {
	Code      string
	Message   string
	Detail    *FaultStruct
	Timestamp int64
}

func (f *Fault) Error() string {
	if f.Message == "" {
		return f.Code
	}
	return f.Code + ": " + f.Message
}

// CwmpFault wraps a CPE fault detail as "cwmp.<code>".
func CwmpFault(detail *FaultStruct) *Fault {
	return &Fault{
		Code:    "cwmp." + detail.FaultCode,
		Message: detail.FaultString,
		Detail:  detail,
	}
}

// ScriptFault tags a sandbox error as "script.<name>", or bare "script"
// when the error has no name.
func ScriptFault(name, message string) *Fault {
	code := FaultScript
	if name != "" {
		code = fmt.Sprintf("script.%s", name)
	}
	return &Fault{Code: code, Message: message}
}
