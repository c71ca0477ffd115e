// Package checkpoint persists resume snapshots between process runs.
//
// The engine hands paused executions back to its caller as values; this
// store is how a caller such as the CLI keeps them until the user replies.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when no snapshot exists under an id.
var ErrNotFound = errors.New("checkpoint not found")

// Entry describes a stored snapshot.
type Entry struct {
	ID      string    `json:"id"`
	Label   string    `json:"label,omitempty"`
	SavedAt time.Time `json:"saved_at"`
}

// envelope is the on-disk layout.
type envelope struct {
	Entry
	Data json.RawMessage `json:"data"`
}

// Store keeps snapshots as JSON files in a directory.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a new checkpoint store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid checkpoint id %q", id)
	}
	return nil
}

// Save writes v under id, replacing any previous snapshot. The write goes
// through a temporary file so readers never see a partial snapshot.
func (s *Store) Save(id, label string, v interface{}) error {
	if err := validID(id); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	env := envelope{Entry: Entry{ID: id, Label: label, SavedAt: time.Now()}, Data: data}
	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path(id) + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return os.Rename(tmp, s.path(id))
}

// Load decodes the snapshot stored under id into v.
func (s *Store) Load(id string, v interface{}) (Entry, error) {
	if err := validID(id); err != nil {
		return Entry{}, err
	}

	s.mu.RLock()
	data, err := os.ReadFile(s.path(id))
	s.mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Entry{}, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Entry{}, fmt.Errorf("failed to parse checkpoint %s: %w", id, err)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return Entry{}, fmt.Errorf("failed to decode checkpoint %s: %w", id, err)
	}
	return env.Entry, nil
}

// Delete removes a snapshot. Deleting a missing snapshot is not an error.
func (s *Store) Delete(id string) error {
	if err := validID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns stored snapshots, newest first. Unreadable files are skipped.
func (s *Store) List() ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Entry
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		out = append(out, env.Entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, nil
}
