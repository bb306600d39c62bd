package vmap

import "testing"

func TestGetSeesRevision(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Revision = 1
	m.Set("a", 2)

	if v, ok := m.Get("a"); !ok || v != 2 {
		t.Fatalf("Get at revision 1 = %d, %v", v, ok)
	}
	if v, ok := m.GetRevision("a", 0); !ok || v != 1 {
		t.Fatalf("GetRevision(0) = %d, %v", v, ok)
	}
	if _, ok := m.GetRevision("b", 1); ok {
		t.Fatal("GetRevision of absent key reported ok")
	}
}

func TestSetOverwritesSameRevision(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Set("a", 2)

	if hist := m.GetRevisions("a"); len(hist) != 1 || hist[0].Value != 2 {
		t.Fatalf("history = %v", hist)
	}
}

func TestDeleteTombstone(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Revision = 1
	m.Delete("a")

	if _, ok := m.Get("a"); ok {
		t.Fatal("deleted key still visible at revision 1")
	}
	if v, ok := m.GetRevision("a", 0); !ok || v != 1 {
		t.Fatalf("tombstone hid the revision-0 value: %d, %v", v, ok)
	}

	// Deleting an absent key records nothing.
	m.Delete("b")
	if hist := m.GetRevisions("b"); len(hist) != 0 {
		t.Fatalf("delete of absent key recorded history %v", hist)
	}
}

func TestCollapse(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Revision = 1
	m.Set("a", 2)
	m.Revision = 2
	m.Set("a", 3)

	m.Collapse(0)
	hist := m.GetRevisions("a")
	if len(hist) != 1 || hist[0].Revision != 0 || hist[0].Value != 3 {
		t.Fatalf("collapsed history = %v", hist)
	}
}

func TestCollapsePreservesLowerHistory(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Revision = 1
	m.Set("a", 2)
	m.Revision = 2
	m.Set("a", 3)

	m.Collapse(1)
	hist := m.GetRevisions("a")
	if len(hist) != 2 {
		t.Fatalf("collapsed history = %v", hist)
	}
	if hist[0].Revision != 0 || hist[0].Value != 1 {
		t.Fatalf("revision-0 entry = %v", hist[0])
	}
	if hist[1].Revision != 1 || hist[1].Value != 3 {
		t.Fatalf("revision-1 entry = %v", hist[1])
	}
}

func TestCollapseRemovesDeletedKey(t *testing.T) {
	m := New[string, int]()
	m.Revision = 1
	m.Set("a", 1)
	m.Revision = 2
	m.Delete("a")

	m.Collapse(0)
	if hist := m.GetRevisions("a"); len(hist) != 0 {
		t.Fatalf("collapse kept tombstone-only history %v", hist)
	}
}

func TestRevisionsRoundTrip(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Revision = 3
	m.Set("a", 9)

	hist := m.GetRevisions("a")
	n := New[string, int]()
	n.SetRevisions("a", hist)
	n.Revision = 3

	if v, ok := n.Get("a"); !ok || v != 9 {
		t.Fatalf("restored value = %d, %v", v, ok)
	}
	if v, ok := n.GetRevision("a", 0); !ok || v != 1 {
		t.Fatalf("restored revision-0 value = %d, %v", v, ok)
	}

	n.SetRevisions("a", nil)
	if len(n.GetRevisions("a")) != 0 {
		t.Fatal("SetRevisions(nil) did not remove the key")
	}
}

func TestForEachAndKeys(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Revision = 1
	m.Delete("b")

	seen := make(map[string]int)
	m.ForEach(func(k string, v int) bool {
		seen[k] = v
		return true
	})
	if len(seen) != 1 || seen["a"] != 1 {
		t.Fatalf("ForEach saw %v", seen)
	}

	if keys := m.Keys(); len(keys) != 2 {
		t.Fatalf("Keys = %v", keys)
	}
}
