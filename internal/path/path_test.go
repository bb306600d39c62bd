package path

import "testing"

func TestParseRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"InternetGatewayDevice",
		"InternetGatewayDevice.DeviceInfo.SoftwareVersion",
		"InternetGatewayDevice.WANDevice.1.WANConnectionDevice",
		"InternetGatewayDevice.WANDevice.*.WANConnectionDevice",
	}
	for _, s := range cases {
		p, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if p.String() != s {
			t.Fatalf("Parse(%q).String() = %q", s, p.String())
		}
	}
}

func TestParseTrailingDot(t *testing.T) {
	p, err := Parse("InternetGatewayDevice.DeviceInfo.")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Length() != 2 {
		t.Fatalf("expected 2 segments, got %d", p.Length())
	}
	if p.String() != "InternetGatewayDevice.DeviceInfo" {
		t.Fatalf("unexpected string form %q", p.String())
	}
}

func TestParseMasks(t *testing.T) {
	p, err := Parse("A.*.B.[Name=wan0].C")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Wildcard() != (1<<1 | 1<<3) {
		t.Fatalf("wildcard mask = %b", p.Wildcard())
	}
	if p.Alias() != 1<<3 {
		t.Fatalf("alias mask = %b", p.Alias())
	}
}

func TestParseAliasCanonicalOrder(t *testing.T) {
	a, err := Parse("IF.[Name=wan0,Enable=true]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, err := Parse("IF.[Enable=true,Name=wan0]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.String() != b.String() {
		t.Fatalf("alias order not canonical: %q vs %q", a, b)
	}
	pairs := a.Segment(1).Alias
	if len(pairs) != 2 || pairs[0].Path.String() != "Enable" || pairs[1].Path.String() != "Name" {
		t.Fatalf("unexpected alias pairs %v", pairs)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"A..B",
		"A.[Name",
		"A.[Name=x].B]",
		"A.[]",
		"A.[Name]",
		"A.[*=x]",
		"A.[B.*=x]",
	}
	for _, s := range cases {
		if _, err := Parse(s); err == nil {
			t.Fatalf("Parse(%q): expected error", s)
		}
	}
}

func TestSlice(t *testing.T) {
	p := MustParse("A.*.C.[Name=x].E")
	q := p.Slice(1, 4)
	if q.String() != "*.C.[Name=x]" {
		t.Fatalf("Slice = %q", q.String())
	}
	if q.Wildcard() != (1<<0|1<<2) || q.Alias() != 1<<2 {
		t.Fatalf("slice masks wildcard=%b alias=%b", q.Wildcard(), q.Alias())
	}
	if r := p.Slice(3, 1); r.Length() != 0 {
		t.Fatalf("inverted slice length = %d", r.Length())
	}
}

func TestConcat(t *testing.T) {
	p := MustParse("A.*")
	q := MustParse("[Name=x].B")
	r := p.Concat(q)
	if r.String() != "A.*.[Name=x].B" {
		t.Fatalf("Concat = %q", r.String())
	}
	if r.Wildcard() != (1<<1|1<<2) || r.Alias() != 1<<2 {
		t.Fatalf("concat masks wildcard=%b alias=%b", r.Wildcard(), r.Alias())
	}
}

func TestConcatName(t *testing.T) {
	p := MustParse("A.B").ConcatName("*").ConcatName("C")
	if p.String() != "A.B.*.C" {
		t.Fatalf("ConcatName = %q", p.String())
	}
	if p.Wildcard() != 1<<2 {
		t.Fatalf("wildcard mask = %b", p.Wildcard())
	}
}

func TestSetInterning(t *testing.T) {
	s := NewSet()
	a := s.Add(MustParse("A.B.C"))
	b := s.Add(MustParse("A.B.C"))
	if a != b {
		t.Fatal("re-adding an equal path returned a different pointer")
	}
	if got := s.Get(MustParse("A.B.C")); got != a {
		t.Fatal("Get did not return the interned pointer")
	}
	if got := s.Get(MustParse("A.B")); got != nil {
		t.Fatalf("Get of an absent path returned %v", got)
	}
}

func TestSetFind(t *testing.T) {
	s := NewSet()
	for _, str := range []string{"A", "A.1", "A.2", "A.*", "A.1.B", "B"} {
		s.Add(MustParse(str))
	}

	// Subset: the pattern's wildcard covers concrete instances.
	got := pathStrings(s.Find(MustParse("A.*"), false, true, 2))
	want := []string{"A.*", "A.1", "A.2"}
	if !sameStrings(got, want) {
		t.Fatalf("subset find = %v, want %v", got, want)
	}

	// Superset: an interned wildcard covers the concrete pattern.
	got = pathStrings(s.Find(MustParse("A.1"), true, false, 2))
	want = []string{"A.*", "A.1"}
	if !sameStrings(got, want) {
		t.Fatalf("superset find = %v, want %v", got, want)
	}

	// Depth extends matches below the pattern.
	got = pathStrings(s.Find(MustParse("A"), false, true, 3))
	want = []string{"A", "A.*", "A.1", "A.2", "A.1.B"}
	if !sameStrings(got, want) {
		t.Fatalf("deep find = %v, want %v", got, want)
	}
}

func pathStrings(paths []*Path) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p.String()
	}
	return out
}

func sameStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	seen := make(map[string]int)
	for _, s := range got {
		seen[s]++
	}
	for _, s := range want {
		seen[s]--
		if seen[s] < 0 {
			return false
		}
	}
	return true
}
