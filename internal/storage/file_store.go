package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileStore is a Store persisted as a YAML document, one top-level key per
// setting. The whole file is rewritten on every change, through a temporary
// file and a rename, so a crash never leaves a half-written document.
type FileStore struct {
	mu   sync.Mutex // Serializes writers so file order matches memory order
	path string
	mem  *MemoryStore
}

// OpenFileStore loads path, or starts empty when the file does not exist.
//
// Example settings file:
//
//	booksDirectoryPath: /home/me/novels
//	geminiApiKey: ""
//	translationSettings:
//	    model: flash
//	    temperature: 0.7
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, mem: NewMemoryStore()}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	for key, value := range doc {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("settings %s: key %q: %w", path, key, err)
		}
		if err := s.mem.Put(key, encoded); err != nil {
			return nil, fmt.Errorf("settings %s: key %q: %w", path, key, err)
		}
	}
	return s, nil
}

// Path returns the settings file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(key string) (json.RawMessage, error) {
	return s.mem.Get(key)
}

// Put stores value and rewrites the file. When the write fails the previous
// value is restored, so memory never runs ahead of disk.
func (s *FileStore) Put(key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, prevErr := s.mem.Get(key)
	if err := s.mem.Put(key, value); err != nil {
		return err
	}
	if err := s.persist(); err != nil {
		if prevErr == nil {
			_ = s.mem.Put(key, prev)
		} else {
			_ = s.mem.Delete(key)
		}
		return err
	}
	return nil
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, err := s.mem.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	if err := s.mem.Delete(key); err != nil {
		return err
	}
	if err := s.persist(); err != nil {
		_ = s.mem.Put(key, prev)
		return err
	}
	return nil
}

func (s *FileStore) List() []string { return s.mem.List() }

func (s *FileStore) Stats() StoreStats { return s.mem.Stats() }

func (s *FileStore) persist() error {
	doc := make(map[string]any)
	for key, value := range s.mem.snapshot() {
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("encode setting %q: %w", key, err)
		}
		doc[key] = v
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
