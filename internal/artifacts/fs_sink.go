package artifacts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FSSink is a filesystem-backed Sink. Objects live under basePath with
// their key as the relative path.
type FSSink struct {
	basePath string
	mu       sync.RWMutex
}

// NewFSSink creates the sink root if needed.
func NewFSSink(basePath string) (*FSSink, error) {
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact root %s: %w", basePath, err)
	}
	return &FSSink{basePath: basePath}, nil
}

func (s *FSSink) path(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

// Store writes the object atomically (temp file + rename).
func (s *FSSink) Store(_ context.Context, key string, r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact %s: %w", key, err)
	}
	return os.Rename(tmp.Name(), dst)
}

// Exists reports object presence.
func (s *FSSink) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Fetch opens an object for reading.
func (s *FSSink) Fetch(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("fetch artifact %s: %w", key, err)
	}
	return f, nil
}
