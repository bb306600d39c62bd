package device

import (
	"testing"

	"github.com/joestump/cwmp-acs/internal/path"
)

func ts(t int64, v int) *Timestamped[int] {
	return &Timestamped[int]{Timestamp: t, Value: v}
}

func tsv(t int64, val any, typ string) *Timestamped[Value] {
	return &Timestamped[Value]{Timestamp: t, Value: Value{Val: val, Type: typ}}
}

func attrsAt(t *testing.T, d *Data, s string) *Attributes {
	t.Helper()
	p := d.Paths.Get(path.MustParse(s))
	if p == nil {
		return nil
	}
	attrs, _ := d.Attributes.Get(p)
	return attrs
}

func TestSetMergesMonotonically(t *testing.T) {
	d := New()
	p := path.MustParse("A.B")

	Set(d, p, 10, &Attributes{Object: ts(10, 0), Value: tsv(10, "x", "xsd:string")}, nil)
	// An older write must not regress the stored attributes.
	Set(d, p, 5, &Attributes{Value: tsv(5, "old", "xsd:string")}, nil)

	attrs := attrsAt(t, d, "A.B")
	if attrs == nil || attrs.Value == nil {
		t.Fatal("attributes missing")
	}
	if attrs.Value.Value.Val != "x" || attrs.Value.Timestamp != 10 {
		t.Fatalf("value regressed: %+v", attrs.Value)
	}

	ip := d.Paths.Get(p)
	if got, _ := d.Timestamps.Get(ip); got != 10 {
		t.Fatalf("path timestamp = %d", got)
	}
}

func TestSetNilAttrsSchedulesClear(t *testing.T) {
	d := New()
	p := path.MustParse("A.B")
	Set(d, p, 10, &Attributes{Object: ts(10, 0)}, nil)

	toClear := Set(d, p, 20, nil, nil)
	if len(toClear) != 1 || toClear[0].Timestamp != 20 {
		t.Fatalf("toClear = %+v", toClear)
	}
	ClearPath(d, toClear[0].Path, toClear[0].Timestamp, toClear[0].AttrTimestamps)

	if attrsAt(t, d, "A.B") != nil {
		t.Fatal("attributes survived invalidation")
	}
	ip := d.Paths.Get(p)
	if d.Timestamps.Has(ip) {
		t.Fatal("timestamp survived invalidation")
	}
}

func TestSetObjectFlipClearsChildren(t *testing.T) {
	d := New()
	Set(d, path.MustParse("A.B"), 10, &Attributes{Object: ts(10, 1)}, nil)
	Set(d, path.MustParse("A.B.C"), 10, &Attributes{Object: ts(10, 0), Value: tsv(10, "x", "xsd:string")}, nil)

	// B turns out to be a parameter after all; its children are stale.
	toClear := Set(d, path.MustParse("A.B"), 20, &Attributes{Object: ts(20, 0)}, nil)
	if len(toClear) != 1 {
		t.Fatalf("toClear = %+v", toClear)
	}
	if toClear[0].Path.String() != "A.B.*" {
		t.Fatalf("clear path = %q", toClear[0].Path)
	}
	ClearPath(d, toClear[0].Path, toClear[0].Timestamp, toClear[0].AttrTimestamps)

	if attrsAt(t, d, "A.B.C") != nil {
		t.Fatal("child attributes survived object flip")
	}
	if attrsAt(t, d, "A.B") == nil {
		t.Fatal("flipped node lost its own attributes")
	}
}

func TestClearPathSweepsDescendants(t *testing.T) {
	d := New()
	Set(d, path.MustParse("A.1"), 10, &Attributes{Object: ts(10, 1)}, nil)
	Set(d, path.MustParse("A.1.Name"), 10, &Attributes{Object: ts(10, 0), Value: tsv(10, "x", "xsd:string")}, nil)
	Set(d, path.MustParse("A.2"), 30, &Attributes{Object: ts(30, 1)}, nil)

	ClearPath(d, path.MustParse("A.*"), 20, nil)

	if attrsAt(t, d, "A.1") != nil || attrsAt(t, d, "A.1.Name") != nil {
		t.Fatal("stale instance survived wildcard clear")
	}
	if attrsAt(t, d, "A.2") == nil {
		t.Fatal("fresh instance was swept")
	}
}

func TestClearPathAttrTimestamps(t *testing.T) {
	d := New()
	Set(d, path.MustParse("A.B"), 10, &Attributes{
		Object: ts(10, 0),
		Value:  tsv(10, "x", "xsd:string"),
	}, nil)

	ClearPath(d, path.MustParse("A.B"), 0, &AttrTimestamps{Value: 15})

	attrs := attrsAt(t, d, "A.B")
	if attrs == nil {
		t.Fatal("attributes removed entirely")
	}
	if attrs.Value != nil {
		t.Fatal("stale value attribute survived")
	}
	if attrs.Object == nil {
		t.Fatal("untargeted attribute was dropped")
	}
}

func TestTrackersReportChanges(t *testing.T) {
	d := New()
	p := path.MustParse("A.B")
	Set(d, p, 10, &Attributes{Object: ts(10, 0), Value: tsv(10, "x", "xsd:string")}, nil)
	Track(d, p, "prerequisite")

	ClearPath(d, p, 20, nil)

	if _, ok := d.Changes["prerequisite"]; !ok {
		t.Fatal("tracker change not recorded")
	}

	ClearTrackers(d, "prerequisite")
	if _, ok := d.Changes["prerequisite"]; ok {
		t.Fatal("ClearTrackers left the change set")
	}
	if len(d.Trackers) != 0 {
		t.Fatalf("trackers remain: %v", d.Trackers)
	}
}

func TestUnpackWildcard(t *testing.T) {
	d := New()
	Set(d, path.MustParse("A.1"), 10, &Attributes{Object: ts(10, 1)}, nil)
	Set(d, path.MustParse("A.2"), 10, &Attributes{Object: ts(10, 1)}, nil)
	d.Paths.Add(path.MustParse("A.*"))

	got := Unpack(d, path.MustParse("A.*"), 0)
	if len(got) != 2 || got[0].String() != "A.1" || got[1].String() != "A.2" {
		t.Fatalf("Unpack = %v", got)
	}
}

func TestUnpackAlias(t *testing.T) {
	d := New()
	Set(d, path.MustParse("A.1"), 10, &Attributes{Object: ts(10, 1)}, nil)
	Set(d, path.MustParse("A.1.Name"), 10, &Attributes{Object: ts(10, 0), Value: tsv(10, "wan0", "xsd:string")}, nil)
	Set(d, path.MustParse("A.2"), 10, &Attributes{Object: ts(10, 1)}, nil)
	Set(d, path.MustParse("A.2.Name"), 10, &Attributes{Object: ts(10, 0), Value: tsv(10, "lan0", "xsd:string")}, nil)

	got := Unpack(d, path.MustParse("A.[Name=wan0]"), 0)
	if len(got) != 1 || got[0].String() != "A.1" {
		t.Fatalf("Unpack = %v", got)
	}

	// An instance whose key parameter is unknown does not match.
	Set(d, path.MustParse("A.3"), 10, &Attributes{Object: ts(10, 1)}, nil)
	got = Unpack(d, path.MustParse("A.[Name=wan0]"), 0)
	if len(got) != 1 {
		t.Fatalf("Unpack with unknown key = %v", got)
	}
}

func TestAliasDeclarations(t *testing.T) {
	decs := AliasDeclarations(path.MustParse("A.[Name=wan0].B"), 99)
	if len(decs) != 2 {
		t.Fatalf("declarations = %+v", decs)
	}
	if decs[0].Path.String() != "A.*.B" || decs[0].PathGet != 99 {
		t.Fatalf("refresh declaration = %+v", decs[0])
	}
	if decs[1].Path.String() != "A.*.Name" {
		t.Fatalf("key declaration = %+v", decs[1])
	}
	if decs[1].AttrGet == nil || decs[1].AttrGet.Value != 99 {
		t.Fatalf("key declaration attrGet = %+v", decs[1].AttrGet)
	}
}

func TestStripAlias(t *testing.T) {
	p := StripAlias(path.MustParse("A.[Name=x].B"))
	if p.String() != "A.*.B" {
		t.Fatalf("StripAlias = %q", p)
	}
	q := path.MustParse("A.B")
	if StripAlias(q) != q {
		t.Fatal("StripAlias copied an alias-free path")
	}
}
