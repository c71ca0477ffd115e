package plan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveTargetPath(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		project string
		target  string
		want    string
		err     error
	}{
		{"plain relative", "/work/Shop", "Shop", "docs/SRS.md", "/work/Shop/docs/SRS.md", nil},
		{"collapses duplicated project", "/work/Shop", "Shop", "Shop/Sources/App.swift", "/work/Shop/Sources/App.swift", nil},
		{"keeps nested same name", "/work/Shop", "Shop", "Shop/Shop/App.swift", "/work/Shop/Shop/Shop/App.swift", nil},
		{"keeps tests sibling", "/work/Shop", "Shop", "Shop/ShopTests/AppTests.swift", "/work/Shop/Shop/ShopTests/AppTests.swift", nil},
		{"keeps xcodeproj", "/work/Shop", "Shop", "Shop/Shop.xcodeproj/project.pbxproj", "/work/Shop/Shop/Shop.xcodeproj/project.pbxproj", nil},
		{"single segment is a file", "/work/Shop", "Shop", "Shop", "/work/Shop/Shop", nil},
		{"base not named for project", "/work/other", "Shop", "Shop/README.md", "/work/other/Shop/README.md", nil},
		{"dot segments dropped", "/work/Shop", "Shop", "./docs/./SRS.md", "/work/Shop/docs/SRS.md", nil},
		{"absolute passes through", "/work/Shop", "Shop", "/tmp/out/SRS.md", "/tmp/out/SRS.md", nil},
		{"traversal", "/work/Shop", "Shop", "docs/../../secret", "", ErrPathTraversal},
		{"windows traversal", "/work/Shop", "Shop", `docs\..\x`, "", ErrPathTraversal},
		{"denied absolute", "/work/Shop", "Shop", "/etc/passwd", "", ErrDeniedPath},
		{"denied after join", "/", "", "usr/bin/tool", "", ErrDeniedPath},
		{"empty", "/work/Shop", "Shop", "  ", "", ErrEmptyPath},
		{"only dots", "/work/Shop", "Shop", "./.", "", ErrEmptyPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveTargetPath(tt.base, tt.project, tt.target, nil)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("expected %v, got %v (%q)", tt.err, err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != filepath.FromSlash(tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveTargetPathExistingProjectDir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "Shop")
	if err := os.MkdirAll(filepath.Join(base, "Shop"), 0755); err != nil {
		t.Fatal(err)
	}
	got, err := ResolveTargetPath(base, "Shop", "Shop/App.swift", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := filepath.Join(base, "Shop", "App.swift"); got != want {
		t.Errorf("existing project folder should be kept: got %q, want %q", got, want)
	}
}

func TestResolveTargetPathCustomDenylist(t *testing.T) {
	if _, err := ResolveTargetPath("/srv/app", "app", "secrets/key.pem", []string{"/srv/app/secrets"}); !errors.Is(err, ErrDeniedPath) {
		t.Errorf("expected denied path, got %v", err)
	}
	if _, err := ResolveTargetPath("/srv/app", "app", "/etc/hosts", []string{}); err != nil {
		t.Errorf("empty denylist should allow everything: %v", err)
	}
}
