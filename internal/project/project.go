// Package project holds the project-wide session context that plan steps read.
package project

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Context describes the active project. It is a value type: every change
// produces a new copy so steps never observe each other's edits in place.
type Context struct {
	Name         string            `json:"name"`
	BaseDir      string            `json:"base_dir"`
	Branch       string            `json:"branch,omitempty"`
	LastModified string            `json:"last_modified,omitempty"` // Most recently edited file
	Attributes   map[string]string `json:"attributes,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Clone returns a deep copy.
func (c Context) Clone() Context {
	out := c
	if c.Attributes != nil {
		out.Attributes = make(map[string]string, len(c.Attributes))
		for k, v := range c.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// WithLastModified returns a copy that records an edited file.
func (c Context) WithLastModified(path string) Context {
	out := c.Clone()
	out.LastModified = path
	out.UpdatedAt = time.Now()
	return out
}

// WithAttribute returns a copy with one attribute set.
func (c Context) WithAttribute(key, value string) Context {
	out := c.Clone()
	if out.Attributes == nil {
		out.Attributes = map[string]string{}
	}
	out.Attributes[key] = value
	out.UpdatedAt = time.Now()
	return out
}

// Store is the session store consulted after session-changing steps.
type Store interface {
	Current(ctx context.Context) (Context, error)
}

// StaticStore always returns the same context.
type StaticStore struct {
	mu  sync.RWMutex
	ctx Context
}

// NewStaticStore creates a store holding c.
func NewStaticStore(c Context) *StaticStore {
	return &StaticStore{ctx: c.Clone()}
}

// Current implements Store.
func (s *StaticStore) Current(ctx context.Context) (Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx.Clone(), nil
}

// Set replaces the stored context.
func (s *StaticStore) Set(c Context) {
	s.mu.Lock()
	s.ctx = c.Clone()
	s.mu.Unlock()
}

// FileStore reads the context from a JSON file on every call, so tools that
// rewrite the file (for example a project initializer) are picked up.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Current implements Store.
func (s *FileStore) Current(ctx context.Context) (Context, error) {
	return LoadFile(s.path)
}

// Save writes c to the store's file.
func (s *FileStore) Save(c Context) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}

// LoadFile reads a context from a JSON file. A relative base_dir is resolved
// against the file's directory.
func LoadFile(path string) (Context, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Context{}, fmt.Errorf("failed to read project file: %w", err)
	}
	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		return Context{}, fmt.Errorf("failed to parse project file: %w", err)
	}
	if c.BaseDir != "" && !filepath.IsAbs(c.BaseDir) {
		c.BaseDir = filepath.Join(filepath.Dir(path), c.BaseDir)
	}
	if c.Name == "" && c.BaseDir != "" {
		c.Name = filepath.Base(c.BaseDir)
	}
	return c, nil
}
