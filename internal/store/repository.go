package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/automaker/internal/feature"
)

// File names inside the state directory.
const (
	FeatureListFile = "feature_list.json"
	DatabaseFile    = "automaker.db"
	lockFileName    = "feature_list.lock"
)

// Repository persists the whole feature collection in insertion order.
type Repository interface {
	Load(ctx context.Context) ([]feature.Feature, error)
	Save(ctx context.Context, features []feature.Feature) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Open returns the repository for backend rooted at stateDir.
func Open(fs afero.Fs, stateDir, backend string) (Repository, error) {
	switch backend {
	case "", BackendJSON:
		return NewFileRepository(fs, stateDir), nil
	case BackendSQLite:
		return OpenSQLite(filepath.Join(stateDir, DatabaseFile))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// FileRepository stores features in feature_list.json. Writes go to a
// temporary file that is renamed into place, under a file lock.
type FileRepository struct {
	fs  afero.Fs
	dir string
}

// NewFileRepository creates a repository for dir on fs.
func NewFileRepository(fs afero.Fs, dir string) *FileRepository {
	return &FileRepository{fs: fs, dir: dir}
}

// Path is the location of feature_list.json.
func (r *FileRepository) Path() string {
	return filepath.Join(r.dir, FeatureListFile)
}

func (r *FileRepository) lock() (*fileLock, error) {
	if err := r.fs.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	fl := newFileLock(r.fs, filepath.Join(r.dir, lockFileName))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return fl, nil
}

// Load reads the feature list. A missing file is an empty project.
func (r *FileRepository) Load(ctx context.Context) ([]feature.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fl, err := r.lock()
	if err != nil {
		return nil, err
	}
	defer func() { _ = fl.Unlock() }()

	data, err := afero.ReadFile(r.fs, r.Path())
	if os.IsNotExist(err) {
		return []feature.Feature{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read feature list: %w", err)
	}

	var features []feature.Feature
	if err := json.Unmarshal(data, &features); err != nil {
		return nil, fmt.Errorf("unmarshal feature list: %w", err)
	}
	if features == nil {
		features = []feature.Feature{}
	}
	return features, nil
}

// Save atomically replaces the feature list.
func (r *FileRepository) Save(ctx context.Context, features []feature.Feature) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if features == nil {
		features = []feature.Feature{}
	}
	data, err := json.MarshalIndent(features, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal feature list: %w", err)
	}

	fl, err := r.lock()
	if err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()

	target := r.Path()
	tmp := target + ".tmp"
	if err := afero.WriteFile(r.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := r.fs.Rename(tmp, target); err != nil {
		_ = r.fs.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Close is a no-op; the file is not held open between calls.
func (r *FileRepository) Close() error { return nil }
