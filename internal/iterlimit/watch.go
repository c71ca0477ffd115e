package iterlimit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/vinayprograms/agentkit/logging"
)

// fileFormat is the on-disk layout of the dynamic limits file:
//
//	[specialists]
//	fr_writer = 14
type fileFormat struct {
	Specialists map[string]int `toml:"specialists"`
}

// FileSource reads per-specialist limits from a TOML file and reloads it on change.
type FileSource struct {
	path    string
	mu      sync.RWMutex
	limits  map[string]int
	watcher *fsnotify.Watcher
	done    chan struct{}
	logger  *logging.Logger

	// OnReload is called after every reload attempt, with the error if it failed.
	OnReload func(error)
}

// NewFileSource loads path once. A missing file is treated as empty.
func NewFileSource(path string) (*FileSource, error) {
	fs := &FileSource{
		path:   path,
		limits: map[string]int{},
		logger: logging.New().WithComponent("iterlimit"),
	}
	if err := fs.Reload(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Lookup implements Source.
func (f *FileSource) Lookup(specialistID string) (int, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, ok := f.limits[specialistID]
	return n, ok
}

// Reload re-reads the file. On a parse error the previous limits stay in effect.
func (f *FileSource) Reload() error {
	var parsed fileFormat
	if _, err := os.Stat(f.path); os.IsNotExist(err) {
		parsed.Specialists = map[string]int{}
	} else if _, err := toml.DecodeFile(f.path, &parsed); err != nil {
		return fmt.Errorf("failed to parse iteration limits %s: %w", f.path, err)
	}

	limits := make(map[string]int, len(parsed.Specialists))
	for id, n := range parsed.Specialists {
		if n > 0 {
			limits[id] = n
		}
	}

	f.mu.Lock()
	f.limits = limits
	f.mu.Unlock()
	return nil
}

// Watch starts reloading the file whenever it is written, created or renamed into place.
// The parent directory is watched so editors that replace the file are handled.
func (f *FileSource) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", f.path, err)
	}
	f.watcher = w
	f.done = make(chan struct{})
	go f.loop()
	return nil
}

func (f *FileSource) loop() {
	defer close(f.done)
	target := filepath.Clean(f.path)
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			err := f.Reload()
			if err != nil {
				f.logger.Warn("iteration limits reload failed", map[string]interface{}{
					"path":  f.path,
					"error": err.Error(),
				})
			} else {
				f.logger.Info("iteration limits reloaded", map[string]interface{}{"path": f.path})
			}
			if f.OnReload != nil {
				f.OnReload(err)
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("iteration limits watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Close stops watching.
func (f *FileSource) Close() error {
	if f.watcher == nil {
		return nil
	}
	err := f.watcher.Close()
	<-f.done
	f.watcher = nil
	return err
}
