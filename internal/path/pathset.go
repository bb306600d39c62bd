package path

import "sort"

// Set interns paths so that equality is pointer equality. It also answers
// pattern queries over everything interned so far.
type Set struct {
	depth []map[string]*Path
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{}
}

// Add interns p and returns the canonical instance. Re-adding an equal path
// returns the previously interned pointer.
func (s *Set) Add(p *Path) *Path {
	l := p.Length()
	for len(s.depth) <= l {
		s.depth = append(s.depth, make(map[string]*Path))
	}
	if q, ok := s.depth[l][p.str]; ok {
		return q
	}
	s.depth[l][p.str] = p
	return p
}

// Get returns the interned instance equal to p, or nil.
func (s *Set) Get(p *Path) *Path {
	l := p.Length()
	if l >= len(s.depth) {
		return nil
	}
	return s.depth[l][p.str]
}

// Depth returns the length of the longest interned path plus one.
func (s *Set) Depth() int { return len(s.depth) }

// Find returns interned paths whose length is between pattern.Length() and
// depth (inclusive) and whose leading segments match pattern:
//
//   - equal segments always match;
//   - a wildcard or alias in pattern matches any segment when subset is set
//     (the pattern covers the result);
//   - a wildcard or alias in the candidate matches any pattern segment when
//     superset is set (the result covers the pattern).
//
// Results are ordered by length, then lexicographically.
func (s *Set) Find(pattern *Path, superset, subset bool, depth int) []*Path {
	var out []*Path
	if depth >= len(s.depth) {
		depth = len(s.depth) - 1
	}
	for l := pattern.Length(); l <= depth; l++ {
		var keys []string
		for k := range s.depth[l] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			q := s.depth[l][k]
			if matchPrefix(pattern, q, superset, subset) {
				out = append(out, q)
			}
		}
	}
	return out
}

func matchPrefix(pattern, q *Path, superset, subset bool) bool {
	for i := 0; i < pattern.Length(); i++ {
		a, b := pattern.Segment(i), q.Segment(i)
		if segmentEqual(a, b) {
			continue
		}
		if subset && segmentCovers(a, b) {
			continue
		}
		if superset && segmentCovers(b, a) {
			continue
		}
		return false
	}
	return true
}
