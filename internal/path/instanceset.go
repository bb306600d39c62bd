package path

// InstanceSet is a small set of instance key-maps, used by the planner to
// reconcile declared multi-instance objects against observed children.
type InstanceSet struct {
	items []map[string]string
}

// NewInstanceSet returns an empty InstanceSet.
func NewInstanceSet() *InstanceSet {
	return &InstanceSet{}
}

// Add stores a copy of keys.
func (s *InstanceSet) Add(keys map[string]string) {
	m := make(map[string]string, len(keys))
	for k, v := range keys {
		m[k] = v
	}
	s.items = append(s.items, m)
}

// Delete removes the first stored instance equal to keys.
func (s *InstanceSet) Delete(keys map[string]string) {
	for i, item := range s.items {
		if mapsEqual(item, keys) {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

// Size returns the number of stored instances.
func (s *InstanceSet) Size() int { return len(s.items) }

// Items returns the stored instances. Callers must not mutate the maps.
func (s *InstanceSet) Items() []map[string]string { return s.items }

// Superset returns instances whose key-value pairs include all of keys.
func (s *InstanceSet) Superset(keys map[string]string) []map[string]string {
	var out []map[string]string
	for _, item := range s.items {
		if containsAll(item, keys) {
			out = append(out, item)
		}
	}
	return out
}

// Subset returns instances all of whose key-value pairs appear in keys.
func (s *InstanceSet) Subset(keys map[string]string) []map[string]string {
	var out []map[string]string
	for _, item := range s.items {
		if containsAll(keys, item) {
			out = append(out, item)
		}
	}
	return out
}

func containsAll(haystack, needle map[string]string) bool {
	for k, v := range needle {
		if hv, ok := haystack[k]; !ok || hv != v {
			return false
		}
	}
	return true
}

func mapsEqual(a, b map[string]string) bool {
	return len(a) == len(b) && containsAll(a, b)
}
