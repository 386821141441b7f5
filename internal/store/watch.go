package store

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher signals when the persisted tree changes on disk. The engine
// never cancels work mid-dispatch; operators act between ticks by
// editing the persisted documents (e.g. resetting a blocked unit), and
// the watcher lets a waiting run resume when that happens.
type Watcher struct {
	fsw *fsnotify.Watcher
	// Changes receives one signal per relevant write; coalesced, never blocks.
	Changes chan struct{}
	done    chan struct{}
}

// Watch begins watching the store directory (and its plans subdirectory,
// if present) for document writes.
func (s *Store) Watch() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := fsw.Add(s.dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", s.dir, err)
	}
	plansDir := filepath.Join(s.dir, plansDirName)
	// The plans directory may not exist yet; ignore the error and rely on
	// the parent watch to see its creation.
	_ = fsw.Add(plansDir)

	w := &Watcher{
		fsw:     fsw,
		Changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// loop filters raw fsnotify events down to document writes.
func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			select {
			case w.Changes <- struct{}{}:
			default:
				// A signal is already pending; coalesce.
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// relevant reports whether an fsnotify event touches a tree document.
// Temp files and sidecar backups are ignored so saves don't self-signal
// more than once per document.
func relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.Contains(name, ".tmp-") || strings.HasSuffix(name, backupSuffix) {
		return false
	}
	return name == manifestName || strings.HasSuffix(name, ".json")
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
