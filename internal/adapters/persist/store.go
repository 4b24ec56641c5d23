// Package persist keeps the protocol session on disk between runs.
package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dkeye/chatcall/internal/domain"
	"gopkg.in/yaml.v3"
)

// FileStore stores the session as a small YAML document.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the zero Session when the file does not exist.
func (s *FileStore) Load() (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Session{}, nil
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("read session: %w", err)
	}
	var sess domain.Session
	if err := yaml.Unmarshal(data, &sess); err != nil {
		return domain.Session{}, fmt.Errorf("parse session %s: %w", s.path, err)
	}
	return sess, nil
}

// Save replaces the file atomically; it is readable by the owner only.
func (s *FileStore) Save(sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace session: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
