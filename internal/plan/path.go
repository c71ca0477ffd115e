package plan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrPathTraversal is returned for paths that climb out with "..".
	ErrPathTraversal = errors.New("path contains parent directory traversal")
	// ErrDeniedPath is returned for paths inside a denied system directory.
	ErrDeniedPath = errors.New("path points into a system directory")
	// ErrEmptyPath is returned when there is no target path at all.
	ErrEmptyPath = errors.New("empty target path")
)

// DefaultDenylist holds the system directories edits may never touch.
var DefaultDenylist = []string{
	"/bin", "/boot", "/dev", "/etc", "/lib", "/proc", "/sbin", "/sys", "/usr",
	"/System", "/Library", "/private/etc",
}

// intentionalSuffixes are sibling directories a project commonly nests under
// its own name, e.g. Shop/ShopTests.
var intentionalSuffixes = []string{"Tests", "UITests", ".xcodeproj", ".xcworkspace"}

// ResolveTargetPath joins a specialist-supplied target onto the session base
// directory. Absolute targets pass through unless denied. A leading project
// segment duplicating the end of base is dropped, except where the nesting
// is real: the project folder exists under base, or the path continues into
// a same-named or intentional sibling directory.
func ResolveTargetPath(base, project, target string, denylist []string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", ErrEmptyPath
	}
	slashed := strings.ReplaceAll(target, "\\", "/")
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %s", ErrPathTraversal, target)
		}
	}
	if denylist == nil {
		denylist = DefaultDenylist
	}

	if filepath.IsAbs(slashed) || strings.HasPrefix(slashed, "/") {
		resolved := filepath.Clean(filepath.FromSlash(slashed))
		if err := checkDenied(resolved, denylist); err != nil {
			return "", err
		}
		return resolved, nil
	}

	var segs []string
	for _, seg := range strings.Split(slashed, "/") {
		if seg != "" && seg != "." {
			segs = append(segs, seg)
		}
	}
	if len(segs) == 0 {
		return "", ErrEmptyPath
	}
	if shouldCollapse(base, project, segs) {
		segs = segs[1:]
	}

	resolved := filepath.Join(append([]string{base}, segs...)...)
	if err := checkDenied(resolved, denylist); err != nil {
		return "", err
	}
	return resolved, nil
}

func shouldCollapse(base, project string, segs []string) bool {
	if project == "" || base == "" || len(segs) < 2 {
		return false
	}
	if filepath.Base(filepath.Clean(base)) != project || segs[0] != project {
		return false
	}
	next := segs[1]
	if next == project {
		return false
	}
	for _, suffix := range intentionalSuffixes {
		if next == project+suffix {
			return false
		}
	}
	if info, err := os.Stat(filepath.Join(base, project)); err == nil && info.IsDir() {
		return false
	}
	return true
}

func checkDenied(path string, denylist []string) error {
	for _, d := range denylist {
		d = filepath.Clean(d)
		if path == d || strings.HasPrefix(path, d+string(filepath.Separator)) {
			return fmt.Errorf("%w: %s", ErrDeniedPath, path)
		}
	}
	return nil
}
