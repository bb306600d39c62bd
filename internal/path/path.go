// Package path implements interned hierarchical parameter names for the
// TR-069 data model: dot-separated segments where a segment is a literal
// name, an instance number, the wildcard "*", or an alias expression that
// selects instances by content ("[Name=wan0]") instead of by number.
package path

import (
	"fmt"
	"sort"
	"strings"
)

// AliasPair is one equality constraint of an alias segment: the parameter at
// Path (relative to the instance) must have the literal Value.
type AliasPair struct {
	Path  *Path
	Value string
}

// Segment is a single path element. Alias is non-nil for alias segments;
// otherwise Name holds the literal (possibly "*").
type Segment struct {
	Name  string
	Alias []AliasPair
}

func (s Segment) String() string {
	if s.Alias == nil {
		return s.Name
	}
	parts := make([]string, len(s.Alias))
	for i, a := range s.Alias {
		parts[i] = a.Path.String() + "=" + a.Value
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Path is an immutable sequence of segments. Paths obtained from the same
// Set compare equal by pointer; Slice and Concat return fresh, un-interned
// values that must be re-added to a Set before pointer comparison.
type Path struct {
	segments []Segment
	wildcard uint32
	alias    uint32
	str      string
}

// Parse builds a Path from its dot-separated string form. The empty string
// parses to the zero-length root path.
func Parse(s string) (*Path, error) {
	if s == "" {
		return &Path{str: ""}, nil
	}
	segs, err := splitSegments(s)
	if err != nil {
		return nil, err
	}
	p := &Path{segments: make([]Segment, 0, len(segs))}
	for i, raw := range segs {
		if i >= 32 {
			return nil, fmt.Errorf("path %q exceeds 32 segments", s)
		}
		switch {
		case raw == "":
			return nil, fmt.Errorf("path %q has an empty segment", s)
		case raw == "*":
			p.wildcard |= 1 << uint(i)
			p.segments = append(p.segments, Segment{Name: "*"})
		case raw[0] == '[':
			pairs, err := parseAlias(raw)
			if err != nil {
				return nil, fmt.Errorf("path %q: %w", s, err)
			}
			p.alias |= 1 << uint(i)
			p.wildcard |= 1 << uint(i)
			p.segments = append(p.segments, Segment{Alias: pairs})
		default:
			if strings.ContainsAny(raw, "[]") {
				return nil, fmt.Errorf("path %q: malformed segment %q", s, raw)
			}
			p.segments = append(p.segments, Segment{Name: raw})
		}
	}
	p.str = p.render()
	return p, nil
}

// MustParse is Parse for statically known inputs; it panics on error.
func MustParse(s string) *Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// splitSegments splits on dots outside bracket expressions.
func splitSegments(s string) ([]string, error) {
	var segs []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("path %q: unbalanced brackets", s)
			}
		case '.':
			if depth == 0 {
				segs = append(segs, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("path %q: unbalanced brackets", s)
	}
	// A trailing dot (object notation) adds no segment.
	if start < len(s) {
		segs = append(segs, s[start:])
	}
	return segs, nil
}

func parseAlias(raw string) ([]AliasPair, error) {
	inner := raw[1 : len(raw)-1]
	if raw[len(raw)-1] != ']' {
		return nil, fmt.Errorf("malformed alias %q", raw)
	}
	if inner == "" {
		return nil, fmt.Errorf("empty alias expression")
	}
	var pairs []AliasPair
	for _, part := range strings.Split(inner, ",") {
		eq := strings.IndexByte(part, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("alias constraint %q lacks '='", part)
		}
		sub, err := Parse(part[:eq])
		if err != nil {
			return nil, err
		}
		if sub.Length() == 0 || (sub.wildcard|sub.alias) != 0 {
			return nil, fmt.Errorf("alias key %q must be a concrete path", part[:eq])
		}
		pairs = append(pairs, AliasPair{Path: sub, Value: part[eq+1:]})
	}
	// Canonical ordering makes alias identity independent of declaration
	// order.
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Path.str != pairs[j].Path.str {
			return pairs[i].Path.str < pairs[j].Path.str
		}
		return pairs[i].Value < pairs[j].Value
	})
	return pairs, nil
}

func (p *Path) render() string {
	parts := make([]string, len(p.segments))
	for i, s := range p.segments {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

// Length returns the number of segments.
func (p *Path) Length() int { return len(p.segments) }

// Segment returns the i-th segment.
func (p *Path) Segment(i int) Segment { return p.segments[i] }

// Wildcard returns the bitmask of wildcard positions. Alias segments count
// as wildcards: both match any instance number.
func (p *Path) Wildcard() uint32 { return p.wildcard }

// Alias returns the bitmask of alias positions.
func (p *Path) Alias() uint32 { return p.alias }

func (p *Path) String() string { return p.str }

// Slice returns the sub-path [from, to).
func (p *Path) Slice(from, to int) *Path {
	if from < 0 {
		from = 0
	}
	if to > len(p.segments) {
		to = len(p.segments)
	}
	if to < from {
		to = from
	}
	q := &Path{segments: p.segments[from:to]}
	for i := from; i < to; i++ {
		if p.wildcard&(1<<uint(i)) != 0 {
			q.wildcard |= 1 << uint(i-from)
		}
		if p.alias&(1<<uint(i)) != 0 {
			q.alias |= 1 << uint(i-from)
		}
	}
	q.str = q.render()
	return q
}

// Concat returns p followed by q.
func (p *Path) Concat(q *Path) *Path {
	r := &Path{segments: make([]Segment, 0, len(p.segments)+len(q.segments))}
	r.segments = append(r.segments, p.segments...)
	r.segments = append(r.segments, q.segments...)
	r.wildcard = p.wildcard | q.wildcard<<uint(len(p.segments))
	r.alias = p.alias | q.alias<<uint(len(p.segments))
	r.str = r.render()
	return r
}

// ConcatName appends a single literal segment.
func (p *Path) ConcatName(name string) *Path {
	seg := Segment{Name: name}
	r := &Path{segments: make([]Segment, 0, len(p.segments)+1)}
	r.segments = append(r.segments, p.segments...)
	r.segments = append(r.segments, seg)
	r.wildcard = p.wildcard
	r.alias = p.alias
	if name == "*" {
		r.wildcard |= 1 << uint(len(p.segments))
	}
	r.str = r.render()
	return r
}

func segmentEqual(a, b Segment) bool {
	if (a.Alias == nil) != (b.Alias == nil) {
		return false
	}
	if a.Alias == nil {
		return a.Name == b.Name
	}
	return a.String() == b.String()
}

// segmentCovers reports whether pattern segment a matches b: wildcards and
// aliases cover any segment.
func segmentCovers(a, b Segment) bool {
	if a.Alias != nil || a.Name == "*" {
		return true
	}
	return segmentEqual(a, b)
}
