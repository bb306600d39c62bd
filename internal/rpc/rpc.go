// Package rpc defines the CWMP RPC vocabulary exchanged between the session
// engine and its transport: requests the ACS issues, responses and requests
// the CPE produces, and the engine's fault taxonomy. These are payload
// shapes only; the XML wire codec lives with the transport.
package rpc

// AcsRequest is a request the engine asks the transport to send to the CPE.
type AcsRequest interface {
	RequestName() string
}

// GetParameterNames walks the CPE data model from ParameterPath. NextLevel
// limits the reply to immediate children.
type GetParameterNames struct {
	ParameterPath string
	NextLevel     bool
}

func (GetParameterNames) RequestName() string { return "GetParameterNames" }

// GetParameterValues reads parameter values. Next and InstanceValues carry
// the engine's AddObject continuation state and never go on the wire.
type GetParameterValues struct {
	ParameterNames []string
	Next           string
	InstanceValues map[string]string
}

func (GetParameterValues) RequestName() string { return "GetParameterValues" }

// GetParameterAttributes reads notification and access-list attributes.
type GetParameterAttributes struct {
	ParameterNames []string
}

func (GetParameterAttributes) RequestName() string { return "GetParameterAttributes" }

// ParameterValue is one (name, value, type) triple of a SetParameterValues.
type ParameterValue struct {
	Name  string
	Value string
	Type  string
}

// SetParameterValues writes parameter values. DatetimeMilliseconds and
// BooleanLiteral record the formatting decisions the codec must honor.
type SetParameterValues struct {
	ParameterList        []ParameterValue
	DatetimeMilliseconds bool
	BooleanLiteral       bool
}

func (SetParameterValues) RequestName() string { return "SetParameterValues" }

// ParameterAttributes is one entry of a SetParameterAttributes request.
// Nil fields are left unchanged on the device.
type ParameterAttributes struct {
	Name         string
	Notification *int
	AccessList   []string
}

// SetParameterAttributes writes notification/access-list attributes.
type SetParameterAttributes struct {
	ParameterList []ParameterAttributes
}

func (SetParameterAttributes) RequestName() string { return "SetParameterAttributes" }

// AddObject creates a new instance under ObjectName. InstanceValues holds
// the alias key values the engine must enforce on the created instance;
// Next names the continuation step ("getInstanceKeys").
type AddObject struct {
	ObjectName     string
	InstanceValues map[string]string
	Next           string
}

func (AddObject) RequestName() string { return "AddObject" }

// DeleteObject removes the instance at ObjectName.
type DeleteObject struct {
	ObjectName string
}

func (DeleteObject) RequestName() string { return "DeleteObject" }

// Download instructs the CPE to fetch a file. Instance ties the command to
// the engine's Downloads.{i} virtual table.
type Download struct {
	CommandKey     string
	Instance       string
	FileType       string
	FileName       string
	TargetFileName string
}

func (Download) RequestName() string { return "Download" }

// Reboot requests a device reboot.
type Reboot struct{}

func (Reboot) RequestName() string { return "Reboot" }

// FactoryReset requests a factory reset.
type FactoryReset struct{}

func (FactoryReset) RequestName() string { return "FactoryReset" }

// CpeResponse is a CPE reply to an AcsRequest.
type CpeResponse interface {
	ResponseName() string
}

// ParameterInfo is one entry of a GetParameterNamesResponse.
type ParameterInfo struct {
	Name     string
	Object   bool
	Writable bool
}

type GetParameterNamesResponse struct {
	ParameterList []ParameterInfo
}

func (GetParameterNamesResponse) ResponseName() string { return "GetParameterNamesResponse" }

// ParameterValueStruct is one reported value of a GetParameterValuesResponse.
type ParameterValueStruct struct {
	Name  string
	Value string
	Type  string
}

type GetParameterValuesResponse struct {
	ParameterList []ParameterValueStruct
}

func (GetParameterValuesResponse) ResponseName() string { return "GetParameterValuesResponse" }

// ParameterAttributeStruct is one reported entry of a
// GetParameterAttributesResponse.
type ParameterAttributeStruct struct {
	Name         string
	Notification int
	AccessList   []string
}

type GetParameterAttributesResponse struct {
	ParameterList []ParameterAttributeStruct
}

func (GetParameterAttributesResponse) ResponseName() string { return "GetParameterAttributesResponse" }

type SetParameterValuesResponse struct {
	Status int
}

func (SetParameterValuesResponse) ResponseName() string { return "SetParameterValuesResponse" }

type SetParameterAttributesResponse struct{}

func (SetParameterAttributesResponse) ResponseName() string { return "SetParameterAttributesResponse" }

type AddObjectResponse struct {
	InstanceNumber string
	Status         int
}

func (AddObjectResponse) ResponseName() string { return "AddObjectResponse" }

type DeleteObjectResponse struct {
	Status int
}

func (DeleteObjectResponse) ResponseName() string { return "DeleteObjectResponse" }

type RebootResponse struct{}

func (RebootResponse) ResponseName() string { return "RebootResponse" }

type FactoryResetResponse struct{}

func (FactoryResetResponse) ResponseName() string { return "FactoryResetResponse" }

type DownloadResponse struct {
	Status       int
	StartTime    int64
	CompleteTime int64
}

func (DownloadResponse) ResponseName() string { return "DownloadResponse" }

// DeviceID identifies the CPE in an Inform.
type DeviceID struct {
	Manufacturer string
	OUI          string
	ProductClass string
	SerialNumber string
}

// InformParameter is one reported parameter of an Inform.
type InformParameter struct {
	Name  string
	Value string
	Type  string
}

// Inform is the session-opening CPE request.
type Inform struct {
	DeviceID      DeviceID
	Event         []string
	ParameterList []InformParameter
	RetryCount    int
}

// InformResponse acknowledges an Inform.
type InformResponse struct {
	MaxEnvelopes int
}

// FaultStruct is the CWMP fault detail a CPE reports.
type FaultStruct struct {
	FaultCode   string
	FaultString string
}

// TransferComplete is the CPE request closing out a Download.
type TransferComplete struct {
	CommandKey   string
	FaultStruct  *FaultStruct
	StartTime    int64
	CompleteTime int64
}

// TransferCompleteResponse acknowledges a TransferComplete.
type TransferCompleteResponse struct{}
