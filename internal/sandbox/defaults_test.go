package sandbox

import "testing"

func TestDefaultProvisionNames(t *testing.T) {
	for _, name := range []string{"refresh", "value", "tag", "reboot", "reset", "download"} {
		if !DefaultProvision(name) {
			t.Fatalf("%q not recognized as a built-in", name)
		}
	}
	if DefaultProvision("custom") {
		t.Fatal("unknown name recognized as a built-in")
	}
}

func TestRefreshDeclaresSubtree(t *testing.T) {
	r, err := RunDefaultProvision("refresh", []any{"A.B"}, 1000)
	if err != nil {
		t.Fatalf("RunDefaultProvision: %v", err)
	}
	if r.Fault != nil {
		t.Fatalf("fault: %v", r.Fault)
	}
	if !r.Done {
		t.Fatal("built-in not done")
	}
	if len(r.Declare) != refreshDepth-2+1 {
		t.Fatalf("declared %d levels", len(r.Declare))
	}
	first := r.Declare[0]
	if first.Path.String() != "A.B" || first.PathGet != 1000 {
		t.Fatalf("first declaration = %+v", first)
	}
	if first.AttrGet == nil || first.AttrGet.Value != 1000 || first.AttrGet.Object != 1000 {
		t.Fatalf("first attrGet = %+v", first.AttrGet)
	}
	if last := r.Declare[len(r.Declare)-1]; last.Path.Length() != refreshDepth || last.Path.Segment(2).Name != "*" {
		t.Fatalf("last declaration path = %q", last.Path)
	}
}

func TestRefreshWithMaxAge(t *testing.T) {
	r, err := RunDefaultProvision("refresh", []any{"A", int64(300)}, 1000)
	if err != nil {
		t.Fatalf("RunDefaultProvision: %v", err)
	}
	if r.Declare[0].PathGet != 700 {
		t.Fatalf("pathGet = %d", r.Declare[0].PathGet)
	}
}

func TestValueProvision(t *testing.T) {
	r, err := RunDefaultProvision("value", []any{"A.B", "on"}, 1000)
	if err != nil {
		t.Fatalf("RunDefaultProvision: %v", err)
	}
	if len(r.Declare) != 1 {
		t.Fatalf("declarations = %+v", r.Declare)
	}
	dec := r.Declare[0]
	if dec.AttrSet == nil || dec.AttrSet.Value == nil || dec.AttrSet.Value.Val != "on" {
		t.Fatalf("attrSet = %+v", dec.AttrSet)
	}

	r, err = RunDefaultProvision("value", []any{"A.B"}, 1000)
	if err != nil {
		t.Fatalf("RunDefaultProvision: %v", err)
	}
	if r.Fault == nil || r.Fault.Code != "script.value" {
		t.Fatalf("expected script fault, got %+v", r.Fault)
	}
}

func TestTagProvision(t *testing.T) {
	r, err := RunDefaultProvision("tag", []any{"provisioned", true}, 1000)
	if err != nil {
		t.Fatalf("RunDefaultProvision: %v", err)
	}
	dec := r.Declare[0]
	if dec.Path.String() != "Tags.provisioned" {
		t.Fatalf("path = %q", dec.Path)
	}
	if dec.AttrSet.Value.Val != true {
		t.Fatalf("value = %v", dec.AttrSet.Value.Val)
	}
}

func TestRebootAndResetProvisions(t *testing.T) {
	r, err := RunDefaultProvision("reboot", nil, 1000)
	if err != nil {
		t.Fatalf("RunDefaultProvision: %v", err)
	}
	if r.Declare[0].Path.String() != "Reboot" {
		t.Fatalf("path = %q", r.Declare[0].Path)
	}
	if r.Declare[0].AttrSet.Value.Val != int64(1000) {
		t.Fatalf("value = %v", r.Declare[0].AttrSet.Value.Val)
	}

	r, err = RunDefaultProvision("reset", nil, 1000)
	if err != nil {
		t.Fatalf("RunDefaultProvision: %v", err)
	}
	if r.Declare[0].Path.String() != "FactoryReset" {
		t.Fatalf("path = %q", r.Declare[0].Path)
	}
}

func TestDownloadProvision(t *testing.T) {
	r, err := RunDefaultProvision("download", []any{"1 Firmware Upgrade Image", "fw.bin"}, 1000)
	if err != nil {
		t.Fatalf("RunDefaultProvision: %v", err)
	}
	if r.Fault != nil {
		t.Fatalf("fault: %v", r.Fault)
	}
	if len(r.Declare) != 2 {
		t.Fatalf("declarations = %+v", r.Declare)
	}

	inst := r.Declare[0]
	if inst.PathSet == nil || inst.PathSet.Min != 1 || inst.PathSet.Max != 1 {
		t.Fatalf("instance bounds = %+v", inst.PathSet)
	}
	pairs := inst.Path.Segment(1).Alias
	if len(pairs) != 2 {
		t.Fatalf("alias pairs = %+v", pairs)
	}

	dl := r.Declare[1]
	if dl.Path.Segment(2).Name != "Download" {
		t.Fatalf("download path = %q", dl.Path)
	}
	if dl.AttrSet.Value.Val != int64(1000) {
		t.Fatalf("download value = %v", dl.AttrSet.Value.Val)
	}
}
