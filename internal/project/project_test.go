package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestWithCopies(t *testing.T) {
	base := Context{Name: "Shop", BaseDir: "/work/Shop", Attributes: map[string]string{"lang": "en"}}

	edited := base.WithLastModified("/work/Shop/docs/srs.md")
	if base.LastModified != "" {
		t.Error("original context was modified")
	}
	if edited.LastModified != "/work/Shop/docs/srs.md" {
		t.Errorf("unexpected last modified: %s", edited.LastModified)
	}

	tagged := edited.WithAttribute("lang", "de")
	if edited.Attributes["lang"] != "en" {
		t.Error("attribute map shared between copies")
	}
	if tagged.Attributes["lang"] != "de" {
		t.Error("attribute not set")
	}
}

func TestStaticStore(t *testing.T) {
	s := NewStaticStore(Context{Name: "A"})
	c, err := s.Current(context.Background())
	if err != nil || c.Name != "A" {
		t.Fatalf("unexpected: %+v, %v", c, err)
	}
	s.Set(Context{Name: "B"})
	c, _ = s.Current(context.Background())
	if c.Name != "B" {
		t.Errorf("expected B, got %s", c.Name)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta", "project.json")
	s := NewFileStore(path)

	if err := s.Save(Context{Name: "Shop", BaseDir: dir, Branch: "main"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	c, err := s.Current(context.Background())
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if c.Name != "Shop" || c.Branch != "main" || c.BaseDir != dir {
		t.Errorf("unexpected context: %+v", c)
	}
}

func TestLoadFileRelativeBase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "project.json")
	os.WriteFile(path, []byte(`{"base_dir": "Shop"}`), 0644)

	c, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.BaseDir != filepath.Join(dir, "Shop") {
		t.Errorf("base dir not resolved: %s", c.BaseDir)
	}
	if c.Name != "Shop" {
		t.Errorf("name not derived: %s", c.Name)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
