// Package project knows the on-disk layout of an automaker project and how
// to create it.
package project

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/automaker/internal/errors"
)

// DefaultStateDir is the state directory name inside a project.
const DefaultStateDir = ".automaker"

// Layout resolves paths inside a project's state directory.
type Layout struct {
	Root     string // project root
	StateDir string // absolute state directory
}

// NewLayout returns the layout for root. stateDir may be relative to root
// or absolute; empty means DefaultStateDir.
func NewLayout(root, stateDir string) Layout {
	if stateDir == "" {
		stateDir = DefaultStateDir
	}
	if !filepath.IsAbs(stateDir) {
		stateDir = filepath.Join(root, stateDir)
	}
	return Layout{Root: root, StateDir: stateDir}
}

func (l Layout) ContextDir() string       { return filepath.Join(l.StateDir, "context") }
func (l Layout) AgentsContextDir() string { return filepath.Join(l.StateDir, "agents-context") }
func (l Layout) ImagesDir() string        { return filepath.Join(l.StateDir, "images") }
func (l Layout) LogsDir() string          { return filepath.Join(l.StateDir, "logs") }
func (l Layout) FeatureList() string      { return filepath.Join(l.StateDir, "feature_list.json") }

func (l Layout) directories() []string {
	return []string{l.StateDir, l.ContextDir(), l.AgentsContextDir(), l.ImagesDir()}
}

// InitResult reports what Init did. Paths are relative to the project root.
type InitResult struct {
	NewProject    bool
	CreatedFiles  []string
	ExistingFiles []string
}

// Init creates the state directory tree and an empty feature_list.json when
// missing. It never overwrites existing files.
func Init(fs afero.Fs, l Layout) (InitResult, error) {
	var res InitResult
	for _, dir := range l.directories() {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return res, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	files := map[string][]byte{
		l.FeatureList(): []byte("[]"),
	}
	for path, content := range files {
		rel, err := filepath.Rel(l.Root, path)
		if err != nil {
			rel = path
		}
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return res, fmt.Errorf("stat %s: %w", rel, err)
		}
		if exists {
			res.ExistingFiles = append(res.ExistingFiles, rel)
			continue
		}
		if err := afero.WriteFile(fs, path, content, 0o644); err != nil {
			return res, fmt.Errorf("write %s: %w", rel, err)
		}
		res.CreatedFiles = append(res.CreatedFiles, rel)
	}
	res.NewProject = len(res.CreatedFiles) == len(files)
	return res, nil
}

// EnsureInitialized returns ErrNotInitialized when the state directory is
// missing.
func EnsureInitialized(fs afero.Fs, l Layout) error {
	ok, err := afero.DirExists(fs, l.StateDir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", l.StateDir, err)
	}
	if !ok {
		return errors.Wrapf(errors.ErrNotInitialized, "%s (run 'automaker init')", l.Root)
	}
	return nil
}
