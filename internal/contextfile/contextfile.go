// Package contextfile manages the per-feature agent context files under
// .automaker/agents-context. A feature "has context" when its file exists
// and is non-empty; that is what enables Resume instead of a fresh run.
package contextfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/automaker/internal/errors"
)

// Ext is the context file extension.
const Ext = ".md"

// Store reads and writes context files. Safe for concurrent use.
type Store struct {
	mu  sync.Mutex
	fs  afero.Fs
	dir string
}

// New returns a Store rooted at dir.
func New(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

// Dir is the directory holding the context files.
func (s *Store) Dir() string { return s.dir }

// Path returns the context file path for a feature id.
func (s *Store) Path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", errors.NewValidationError("invalid feature id").WithField("id").WithValue(id)
	}
	return filepath.Join(s.dir, id+Ext), nil
}

// FeatureID maps a context file path back to its feature id.
func FeatureID(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, Ext) || base == Ext {
		return "", false
	}
	return strings.TrimSuffix(base, Ext), true
}

// HasContext reports whether a non-empty context file exists for id.
func (s *Store) HasContext(id string) bool {
	p, err := s.Path(id)
	if err != nil {
		return false
	}
	info, err := s.fs.Stat(p)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// Read returns the context for id, or "" when there is none.
func (s *Store) Read(id string) (string, error) {
	p, err := s.Path(id)
	if err != nil {
		return "", err
	}
	data, err := afero.ReadFile(s.fs, p)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read context for %s: %w", id, err)
	}
	return string(data), nil
}

// Append adds text to the end of id's context file, creating it if needed.
func (s *Store) Append(id, text string) error {
	if text == "" {
		return nil
	}
	p, err := s.Path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create context dir: %w", err)
	}
	f, err := s.fs.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open context for %s: %w", id, err)
	}
	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return fmt.Errorf("append context for %s: %w", id, err)
	}
	return f.Close()
}

// Reset truncates id's context file to the given header ("" empties it).
func (s *Store) Reset(id, header string) error {
	p, err := s.Path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create context dir: %w", err)
	}
	if err := afero.WriteFile(s.fs, p, []byte(header), 0o644); err != nil {
		return fmt.Errorf("reset context for %s: %w", id, err)
	}
	return nil
}

// Delete removes id's context file. A missing file is not an error.
func (s *Store) Delete(id string) error {
	p, err := s.Path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete context for %s: %w", id, err)
	}
	return nil
}
