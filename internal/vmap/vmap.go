// Package vmap provides a revision-stacked map: every write is tagged with
// the map's current revision, reads see the newest entry at or below a
// revision, and Collapse folds history so a session can commit or discard
// speculative state.
package vmap

// Entry is one historical value of a key. Deleted marks a tombstone so that
// deletions are revisioned like writes.
type Entry[V any] struct {
	Revision int
	Value    V
	Deleted  bool
}

// VersionedMap maps K to V with per-key revision history, newest last.
// Revision is write-only: the owner assigns it before a batch of writes and
// reads are interpreted against it.
type VersionedMap[K comparable, V any] struct {
	Revision int
	m        map[K][]Entry[V]
}

// New returns an empty map at revision 0.
func New[K comparable, V any]() *VersionedMap[K, V] {
	return &VersionedMap[K, V]{m: make(map[K][]Entry[V])}
}

// Get returns the value visible at the current revision.
func (v *VersionedMap[K, V]) Get(k K) (V, bool) {
	return v.GetRevision(k, v.Revision)
}

// GetRevision returns the newest value recorded at revision <= rev.
func (v *VersionedMap[K, V]) GetRevision(k K, rev int) (V, bool) {
	var zero V
	hist := v.m[k]
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Revision <= rev {
			if hist[i].Deleted {
				return zero, false
			}
			return hist[i].Value, true
		}
	}
	return zero, false
}

// Has reports whether k has a visible value at the current revision.
func (v *VersionedMap[K, V]) Has(k K) bool {
	_, ok := v.Get(k)
	return ok
}

// Set writes k=value at the current revision, overwriting a same-revision
// entry in place.
func (v *VersionedMap[K, V]) Set(k K, value V) {
	v.put(k, Entry[V]{Revision: v.Revision, Value: value})
}

// Delete records a tombstone for k at the current revision.
func (v *VersionedMap[K, V]) Delete(k K) {
	if len(v.m[k]) == 0 {
		return
	}
	v.put(k, Entry[V]{Revision: v.Revision, Deleted: true})
}

func (v *VersionedMap[K, V]) put(k K, e Entry[V]) {
	hist := v.m[k]
	if n := len(hist); n > 0 && hist[n-1].Revision == e.Revision {
		hist[n-1] = e
		return
	}
	v.m[k] = append(hist, e)
}

// Collapse folds every entry with revision > rev into a single entry at rev.
// History at or below rev is preserved.
func (v *VersionedMap[K, V]) Collapse(rev int) {
	for k, hist := range v.m {
		cut := len(hist)
		for cut > 0 && hist[cut-1].Revision > rev {
			cut--
		}
		if cut == len(hist) {
			continue
		}
		top := hist[len(hist)-1]
		top.Revision = rev
		if cut > 0 && hist[cut-1].Revision == rev {
			cut--
		}
		hist = append(hist[:cut], top)
		if len(hist) == 1 && hist[0].Deleted {
			delete(v.m, k)
			continue
		}
		v.m[k] = hist
	}
}

// GetRevisions returns the full history of k for serialization.
func (v *VersionedMap[K, V]) GetRevisions(k K) []Entry[V] {
	hist := v.m[k]
	out := make([]Entry[V], len(hist))
	copy(out, hist)
	return out
}

// SetRevisions installs a previously serialized history for k, replacing any
// existing entries.
func (v *VersionedMap[K, V]) SetRevisions(k K, hist []Entry[V]) {
	if len(hist) == 0 {
		delete(v.m, k)
		return
	}
	cp := make([]Entry[V], len(hist))
	copy(cp, hist)
	v.m[k] = cp
}

// ForEach calls f for every key with a visible value at the current
// revision. Iteration order is unspecified.
func (v *VersionedMap[K, V]) ForEach(f func(k K, value V) bool) {
	for k := range v.m {
		if val, ok := v.Get(k); ok {
			if !f(k, val) {
				return
			}
		}
	}
}

// Keys returns every key that has history, visible or not.
func (v *VersionedMap[K, V]) Keys() []K {
	out := make([]K, 0, len(v.m))
	for k := range v.m {
		out = append(out, k)
	}
	return out
}
