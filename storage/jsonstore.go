package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// JSONStore reads and writes whole JSON documents on disk. Writes go to a
// temp file first and are renamed into place, so readers see either the old
// or the new document.
type JSONStore struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewJSONStore creates a new JSON file store
func NewJSONStore() *JSONStore {
	return &JSONStore{locks: make(map[string]*sync.Mutex)}
}

func (s *JSONStore) lockFor(path string) *sync.Mutex {
	key, err := filepath.Abs(path)
	if err != nil {
		key = path
	}
	key = strings.ToLower(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Read decodes the document at path into v. A missing or blank file leaves v
// untouched and reports found=false.
func (s *JSONStore) Read(path string, v interface{}) (bool, error) {
	l := s.lockFor(path)
	l.Lock()
	defer l.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

// Write encodes v as indented JSON and atomically replaces path.
func (s *JSONStore) Write(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	l := s.lockFor(path)
	l.Lock()
	defer l.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
