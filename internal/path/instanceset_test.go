package path

import "testing"

func TestInstanceSetSupersetSubset(t *testing.T) {
	s := NewInstanceSet()
	s.Add(map[string]string{"Name": "wan0"})
	s.Add(map[string]string{"Name": "wan0", "Enable": "true"})
	s.Add(map[string]string{"Name": "lan0"})

	if s.Size() != 3 {
		t.Fatalf("Size = %d", s.Size())
	}

	sup := s.Superset(map[string]string{"Name": "wan0"})
	if len(sup) != 2 {
		t.Fatalf("Superset returned %d items", len(sup))
	}

	sub := s.Subset(map[string]string{"Name": "wan0", "Enable": "true"})
	if len(sub) != 2 {
		t.Fatalf("Subset returned %d items", len(sub))
	}

	if got := s.Superset(map[string]string{"Name": "wan1"}); len(got) != 0 {
		t.Fatalf("Superset of absent keys returned %d items", len(got))
	}
}

func TestInstanceSetDelete(t *testing.T) {
	s := NewInstanceSet()
	s.Add(map[string]string{"Name": "a"})
	s.Add(map[string]string{"Name": "b"})

	s.Delete(map[string]string{"Name": "a"})
	if s.Size() != 1 {
		t.Fatalf("Size after delete = %d", s.Size())
	}
	if s.Items()[0]["Name"] != "b" {
		t.Fatalf("wrong item survived: %v", s.Items()[0])
	}

	// Deleting something absent is a no-op.
	s.Delete(map[string]string{"Name": "c"})
	if s.Size() != 1 {
		t.Fatalf("Size after absent delete = %d", s.Size())
	}
}

func TestInstanceSetAddCopies(t *testing.T) {
	s := NewInstanceSet()
	keys := map[string]string{"Name": "a"}
	s.Add(keys)
	keys["Name"] = "mutated"
	if s.Items()[0]["Name"] != "a" {
		t.Fatal("Add did not copy the key map")
	}
}
