// Package store persists the work-breakdown tree and computes change
// diffs between snapshots.
//
// On disk the tree is split the way operators review it: an epic
// manifest (epic.yaml) holding the epic and its roadmaps, each roadmap
// referencing one JSON document per plan under plans/. Loading
// assembles the pieces into a single in-memory models.Tree; saving
// splits the tree back out atomically.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound indicates no persisted tree exists at the store directory.
var ErrNotFound = errors.New("no work-breakdown tree found")

// CorruptError indicates a persisted document failed to parse or
// validate, after a restore from its sidecar backup was attempted.
type CorruptError struct {
	// Path is the offending document.
	Path string
	// Err is the underlying parse or validation failure.
	Err error
}

// Error returns the corrupt document and underlying cause.
func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt state document %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *CorruptError) Unwrap() error {
	return e.Err
}

const (
	// manifestName is the epic manifest file within the store directory.
	manifestName = "epic.yaml"
	// plansDirName holds one JSON document per plan.
	plansDirName = "plans"
	// detailsDirName holds externalized worker output.
	detailsDirName = "details"
	// backupSuffix marks the sidecar backup written before each save.
	backupSuffix = ".bak"
)

// Store reads and writes the persisted tree under a single directory.
// Save is the only place disk writes happen; everything else operates
// on in-memory trees.
type Store struct {
	dir string
}

// New creates a Store rooted at dir. The directory need not exist until
// the first Save.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// ManifestPath returns the path of the epic manifest.
func (s *Store) ManifestPath() string {
	return filepath.Join(s.dir, manifestName)
}

// PlanPath returns the path of a plan document by plan ID.
func (s *Store) PlanPath(planID string) string {
	return filepath.Join(s.dir, plansDirName, planID+".json")
}

// DetailsDir returns the directory for externalized worker output,
// creating it if needed.
func (s *Store) DetailsDir() (string, error) {
	dir := filepath.Join(s.dir, detailsDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create details directory: %w", err)
	}
	return dir, nil
}

// Exists reports whether a tree has been persisted at this store.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.ManifestPath())
	return err == nil
}

// readDocument reads a document, falling back to its sidecar backup once
// if the primary read or parse fails. parse must return the decoded
// document error.
func (s *Store) readDocument(path string, parse func(data []byte) error) error {
	data, err := os.ReadFile(path)
	if err == nil {
		err = parse(data)
		if err == nil {
			return nil
		}
	}

	// One attempt to restore from the sidecar backup.
	backup, berr := os.ReadFile(path + backupSuffix)
	if berr != nil {
		return &CorruptError{Path: path, Err: err}
	}
	if perr := parse(backup); perr != nil {
		return &CorruptError{Path: path, Err: err}
	}
	return nil
}

// writeAtomic writes data to path via a temp file and rename, keeping
// the previous content as a sidecar backup. A crash mid-save never
// leaves a partially written document.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	// Preserve the previous version as the restore point.
	if prev, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+backupSuffix, prev, 0644); err != nil {
			return fmt.Errorf("write backup for %s: %w", path, err)
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
