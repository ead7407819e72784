package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// FileStorage keeps every key in one JSON document on disk. The document
// is created on first access.
type FileStorage struct {
	mu     sync.Mutex
	path   string
	data   map[string]json.RawMessage
	loaded bool
	logger *logrus.Logger
}

// NewFileStorage opens (or creates) the document at path
func NewFileStorage(path string, logger *logrus.Logger) (*FileStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("file storage path is required")
	}
	s := &FileStorage{path: path, logger: logger}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStorage) loadLocked() error {
	if s.loaded {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	s.data = make(map[string]json.RawMessage)
	raw, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		s.loaded = true
		return s.saveLocked()
	case err != nil:
		return fmt.Errorf("failed to read storage file: %w", err)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			// Keep the broken document for inspection and start over.
			aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
			s.logger.WithError(err).WithField("moved_to", aside).Warn("Storage file is corrupt, starting with defaults")
			if err := os.Rename(s.path, aside); err != nil {
				return fmt.Errorf("failed to move corrupt storage file: %w", err)
			}
			s.data = make(map[string]json.RawMessage)
			s.loaded = true
			return s.saveLocked()
		}
	}
	s.loaded = true
	return nil
}

func (s *FileStorage) saveLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(s.path, raw, 0o600)
}

func (s *FileStorage) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return false, err
	}

	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

func (s *FileStorage) Set(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}

	previous, had := s.data[key]
	s.data[key] = raw
	if err := s.saveLocked(); err != nil {
		if had {
			s.data[key] = previous
		} else {
			delete(s.data, key)
		}
		return fmt.Errorf("failed to write storage file: %w", err)
	}
	return nil
}

func (s *FileStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}

	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.saveLocked()
}

func (s *FileStorage) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStorage) Close() error { return nil }

// WriteFileAtomic writes data next to path and renames it into place, so
// readers never observe a half-written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
