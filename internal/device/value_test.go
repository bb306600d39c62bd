package device

import "testing"

func TestSanitizeParameterValue(t *testing.T) {
	cases := []struct {
		name string
		in   Value
		want any
	}{
		{"bool literal", Value{Val: true, Type: "xsd:boolean"}, true},
		{"bool from string", Value{Val: "1", Type: "xsd:boolean"}, true},
		{"bool from false string", Value{Val: "false", Type: "xsd:boolean"}, false},
		{"int from string", Value{Val: "42", Type: "xsd:int"}, int64(42)},
		{"int from float", Value{Val: float64(7), Type: "xsd:int"}, int64(7)},
		{"unsigned", Value{Val: "9", Type: "xsd:unsignedInt"}, int64(9)},
		{"string from int", Value{Val: int64(3), Type: "xsd:string"}, "3"},
		{"string from bool", Value{Val: false, Type: "xsd:string"}, "false"},
		{"datetime millis", Value{Val: int64(1700000000000), Type: "xsd:dateTime"}, int64(1700000000000)},
		{"datetime rfc3339", Value{Val: "2023-11-14T22:13:20Z", Type: "xsd:dateTime"}, int64(1700000000000)},
		{"base64", Value{Val: "aGVsbG8=", Type: "xsd:base64"}, "aGVsbG8="},
		{"hex", Value{Val: "deadbeef", Type: "xsd:hexBinary"}, "deadbeef"},
	}
	for _, tc := range cases {
		got, err := SanitizeParameterValue(tc.in)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got.Val != tc.want {
			t.Fatalf("%s: got %v (%T), want %v", tc.name, got.Val, got.Val, tc.want)
		}
	}
}

func TestSanitizeParameterValueRejects(t *testing.T) {
	cases := []Value{
		{Val: "yes", Type: "xsd:boolean"},
		{Val: "4.5", Type: "xsd:int"},
		{Val: "-1", Type: "xsd:unsignedInt"},
		{Val: true, Type: "xsd:int"},
		{Val: "not a date", Type: "xsd:dateTime"},
		{Val: "***", Type: "xsd:base64"},
		{Val: "xyz", Type: "xsd:hexBinary"},
		{Val: "v", Type: "xsd:float"},
	}
	for _, v := range cases {
		if _, err := SanitizeParameterValue(v); err == nil {
			t.Fatalf("expected error for %v %s", v.Val, v.Type)
		}
	}
}

func TestSanitizeNormalizesDatetimeSpelling(t *testing.T) {
	got, err := SanitizeParameterValue(Value{Val: int64(0), Type: "xsd:datetime"})
	if err != nil {
		t.Fatalf("SanitizeParameterValue: %v", err)
	}
	if got.Type != "xsd:dateTime" {
		t.Fatalf("type = %q", got.Type)
	}
}

func TestWireString(t *testing.T) {
	literal := FormatOptions{BooleanLiteral: true}
	numeric := FormatOptions{BooleanLiteral: false}

	if got := WireString(Value{Val: true, Type: "xsd:boolean"}, literal); got != "true" {
		t.Fatalf("boolean literal = %q", got)
	}
	if got := WireString(Value{Val: true, Type: "xsd:boolean"}, numeric); got != "1" {
		t.Fatalf("boolean numeric = %q", got)
	}
	if got := WireString(Value{Val: false, Type: "xsd:boolean"}, numeric); got != "0" {
		t.Fatalf("boolean numeric false = %q", got)
	}

	ms := int64(1700000000123)
	if got := WireString(Value{Val: ms, Type: "xsd:dateTime"}, literal); got != "2023-11-14T22:13:20Z" {
		t.Fatalf("dateTime without millis = %q", got)
	}
	withMs := FormatOptions{DatetimeMilliseconds: true}
	if got := WireString(Value{Val: ms, Type: "xsd:dateTime"}, withMs); got != "2023-11-14T22:13:20.123Z" {
		t.Fatalf("dateTime with millis = %q", got)
	}

	if got := WireString(Value{Val: int64(42), Type: "xsd:int"}, literal); got != "42" {
		t.Fatalf("int = %q", got)
	}
}

func TestValueEqual(t *testing.T) {
	a := Value{Val: int64(1), Type: "xsd:int"}
	b := Value{Val: int64(1), Type: "xsd:int"}
	if !ValueEqual(a, b) {
		t.Fatal("equal values reported unequal")
	}
	if ValueEqual(a, Value{Val: int64(1), Type: "xsd:string"}) {
		t.Fatal("differently typed values reported equal")
	}
	if ValueEqual(a, Value{Val: int64(2), Type: "xsd:int"}) {
		t.Fatal("different values reported equal")
	}
}

func TestAccessListsEqual(t *testing.T) {
	if !AccessListsEqual([]string{"Subscriber"}, []string{"Subscriber"}) {
		t.Fatal("equal lists reported unequal")
	}
	if AccessListsEqual([]string{"Subscriber"}, nil) {
		t.Fatal("different lengths reported equal")
	}
	if AccessListsEqual([]string{"a"}, []string{"b"}) {
		t.Fatal("different elements reported equal")
	}
}
