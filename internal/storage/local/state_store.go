// Package local persists the last-seen fingerprint in a local file.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrStateIO marks an unexpected failure reading or writing the state file.
// A missing file is not an error; it means nothing has been observed yet.
var ErrStateIO = errors.New("state io")

// Config captures the parameters for the file-backed state store.
type Config struct {
	// Path is the file holding the last fingerprint as hex text.
	Path string `mapstructure:"path" yaml:"path"`
}

// StateStore keeps one fingerprint in a text file. It assumes a single writer.
type StateStore struct {
	path string
}

// New creates a state store, creating the parent directory when needed.
func New(cfg Config) (*StateStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("state file path is required")
	}

	dir := filepath.Dir(cfg.Path)
	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat state directory: %w", err)
		}
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("state directory path is not a directory")
	}

	if info, err := os.Stat(cfg.Path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("state file path is a directory")
	}

	return &StateStore{path: cfg.Path}, nil
}

// Path returns the backing file location.
func (s *StateStore) Path() string {
	return s.path
}

// Load returns the stored fingerprint. ok is false when the file does not
// exist or holds only whitespace.
func (s *StateStore) Load(_ context.Context) (string, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: read %s: %v", ErrStateIO, s.path, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", false, nil
	}
	return value, true, nil
}

// Save replaces the stored fingerprint. The value is written to a temporary
// file, synced and renamed over the old one, so readers see either the old
// or the new record in full.
func (s *StateStore) Save(_ context.Context, fingerprint string) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrStateIO, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.WriteString(fingerprint); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: write temp: %v", ErrStateIO, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: sync temp: %v", ErrStateIO, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: close temp: %v", ErrStateIO, err)
	}
	// #nosec G302 -- the fingerprint is not secret; keep it readable by operators.
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("%w: chmod temp: %v", ErrStateIO, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("%w: rename: %v", ErrStateIO, err)
	}
	return nil
}
