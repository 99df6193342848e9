package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/automaker/internal/feature"
)

func sampleFeatures() []feature.Feature {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []feature.Feature{
		{ID: "b", Description: "second by id, first by position", Steps: []string{"x"}, Status: feature.StatusBacklog, CreatedAt: created},
		{ID: "a", Description: "depends on b", Steps: []string{}, Status: feature.StatusVerified, Dependencies: []string{"b"}, CreatedAt: created},
	}
}

func TestFileRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	repo := NewFileRepository(fs, "/proj/.automaker")

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got, "missing file is an empty project")

	require.NoError(t, repo.Save(ctx, sampleFeatures()))

	exists, err := afero.Exists(fs, "/proj/.automaker/feature_list.json.tmp")
	require.NoError(t, err)
	assert.False(t, exists, "temp file must be renamed away")

	got, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleFeatures(), got)
	require.NoError(t, repo.Close())
}

func TestFileRepository_EmptyAndCorrupt(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	repo := NewFileRepository(fs, "/p")

	require.NoError(t, repo.Save(ctx, nil))
	data, err := afero.ReadFile(fs, repo.Path())
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	require.NoError(t, afero.WriteFile(fs, repo.Path(), []byte("{not json"), 0o644))
	_, err = repo.Load(ctx)
	assert.ErrorContains(t, err, "unmarshal feature list")
}

func TestFileRepository_OsFsWithLock(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo := NewFileRepository(afero.NewOsFs(), dir)

	require.NoError(t, repo.Save(ctx, sampleFeatures()))
	got, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.FileExists(t, filepath.Join(dir, lockFileName))
}

func TestFileRepository_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := NewFileRepository(afero.NewMemMapFs(), "/p")
	assert.ErrorIs(t, repo.Save(ctx, nil), context.Canceled)
	_, err := repo.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSQLiteRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", DatabaseFile)

	repo, err := OpenSQLite(path)
	require.NoError(t, err)

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, repo.Save(ctx, sampleFeatures()))
	got, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, []string{got[0].ID, got[1].ID}, "position order, not id order")
	assert.Equal(t, []string{"b"}, got[1].Dependencies)

	// Save replaces, it does not merge.
	require.NoError(t, repo.Save(ctx, sampleFeatures()[:1]))
	got, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	require.NoError(t, repo.Close())

	// Reopen runs migrations idempotently and sees the data.
	repo, err = OpenSQLite(path)
	require.NoError(t, err)
	defer repo.Close()
	got, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpen(t *testing.T) {
	fs := afero.NewMemMapFs()

	r, err := Open(fs, "/p", "")
	require.NoError(t, err)
	assert.IsType(t, &FileRepository{}, r)

	r, err = Open(fs, "/p", BackendJSON)
	require.NoError(t, err)
	assert.IsType(t, &FileRepository{}, r)

	r, err = Open(fs, t.TempDir(), BackendSQLite)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteRepository{}, r)
	require.NoError(t, r.Close())

	_, err = Open(fs, "/p", "postgres")
	assert.ErrorContains(t, err, "unknown storage backend")
}
