package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type snapshot struct {
	PlanID   string         `json:"plan_id"`
	Step     int            `json:"step"`
	Outputs  map[int]string `json:"outputs"`
	Question string         `json:"question"`
}

func TestNewStore(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "snapshots"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if store == nil {
		t.Fatal("store is nil")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)

	in := snapshot{PlanID: "srs-001", Step: 2, Outputs: map[int]string{1: "initialized"}, Question: "Which audience?"}
	if err := store.Save("abc", "srs-001 step 2", in); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "abc.json")); err != nil {
		t.Error("checkpoint file not written to disk")
	}

	var out snapshot
	entry, err := store.Load("abc", &out)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if entry.Label != "srs-001 step 2" || entry.SavedAt.IsZero() {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if out.Step != 2 || out.Outputs[1] != "initialized" || out.Question != "Which audience?" {
		t.Errorf("snapshot not restored: %+v", out)
	}
}

func TestLoadMissing(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	var out snapshot
	_, err := store.Load("nope", &out)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInvalidIDs(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	for _, id := range []string{"", "../x", "a/b"} {
		if err := store.Save(id, "", snapshot{}); err == nil {
			t.Errorf("expected error for id %q", id)
		}
	}
}

func TestDeleteAndList(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	store.Save("one", "", snapshot{Step: 1})
	store.Save("two", "", snapshot{Step: 2})

	entries, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	if err := store.Delete("one"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete("one"); err != nil {
		t.Errorf("deleting twice should not fail: %v", err)
	}
	entries, _ = store.List()
	if len(entries) != 1 || entries[0].ID != "two" {
		t.Errorf("unexpected entries after delete: %+v", entries)
	}
}
