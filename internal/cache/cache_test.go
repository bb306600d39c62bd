package cache

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAndMigrate(t *testing.T) {
	s := openTestStore(t)

	// Verify tables exist by writing and reading back.
	if err := s.SetConfig("cwmp.gpvBatchSize", "16"); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	entries, err := s.ListConfig()
	if err != nil {
		t.Fatalf("ListConfig: %v", err)
	}
	if len(entries) != 1 || entries[0].Key != "cwmp.gpvBatchSize" || entries[0].Value != "16" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestSnapshotPinsGeneration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetConfig("cwmp.maxRpcCount", "100"); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	token, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if v, ok := s.Config(token, "cwmp.maxRpcCount"); !ok || v != "100" {
		t.Fatalf("Config = %q, %v", v, ok)
	}

	// A later mutation bumps the generation but never changes what the
	// pinned token sees.
	if err := s.SetConfig("cwmp.maxRpcCount", "200"); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if v, _ := s.Config(token, "cwmp.maxRpcCount"); v != "100" {
		t.Fatalf("pinned snapshot changed: %q", v)
	}

	token2, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if token2 == token {
		t.Fatal("mutation did not bump the snapshot token")
	}
	if v, _ := s.Config(token2, "cwmp.maxRpcCount"); v != "200" {
		t.Fatalf("new snapshot = %q", v)
	}
}

func TestConfigDelete(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetConfig("k", "v"); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if err := s.DeleteConfig("k"); err != nil {
		t.Fatalf("DeleteConfig: %v", err)
	}
	entries, err := s.ListConfig()
	if err != nil {
		t.Fatalf("ListConfig: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestProvisionScripts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutProvision("wifi", "declare(...)"); err != nil {
		t.Fatalf("PutProvision: %v", err)
	}
	token, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	scripts := s.Provisions(token)
	if scripts["wifi"] == nil || scripts["wifi"].Source != "declare(...)" {
		t.Fatalf("scripts = %+v", scripts)
	}

	entries, err := s.ListProvisions()
	if err != nil {
		t.Fatalf("ListProvisions: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "wifi" {
		t.Fatalf("entries = %+v", entries)
	}

	if err := s.DeleteProvision("wifi"); err != nil {
		t.Fatalf("DeleteProvision: %v", err)
	}
	token, err = s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(s.Provisions(token)) != 0 {
		t.Fatal("provision survived delete")
	}
}

func TestVirtualParameterScripts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutVirtualParameter("MacAddress", "return {...}"); err != nil {
		t.Fatalf("PutVirtualParameter: %v", err)
	}
	token, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	vps := s.VirtualParameters(token)
	if vps["MacAddress"] == nil {
		t.Fatalf("virtual parameters = %+v", vps)
	}

	// Upsert replaces the stored source.
	if err := s.PutVirtualParameter("MacAddress", "updated"); err != nil {
		t.Fatalf("PutVirtualParameter: %v", err)
	}
	token, err = s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got := s.VirtualParameters(token)["MacAddress"].Source; got != "updated" {
		t.Fatalf("source = %q", got)
	}
}
