package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Iron-Ham/automaker/internal/feature"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// migrations are applied in order; PRAGMA user_version records how many ran.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS features (
		id         TEXT PRIMARY KEY,
		position   INTEGER NOT NULL,
		data       TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_features_position ON features(position)`,
}

// SQLiteRepository stores one row per feature, each holding the feature's
// JSON document and its position in the collection.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// A single connection keeps PRAGMAs and transactions on one handle.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	r := &SQLiteRepository{db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return r, nil
}

func (r *SQLiteRepository) migrate() error {
	var version int
	if err := r.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	for i := version; i < len(migrations); i++ {
		if _, err := r.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if _, err := r.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return err
		}
	}
	return nil
}

// Load returns all features ordered by position.
func (r *SQLiteRepository) Load(ctx context.Context) ([]feature.Feature, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT data FROM features ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("store: query features: %w", err)
	}
	defer rows.Close()

	features := []feature.Feature{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: scan feature: %w", err)
		}
		var f feature.Feature
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			return nil, fmt.Errorf("store: decode feature: %w", err)
		}
		features = append(features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate features: %w", err)
	}
	return features, nil
}

// Save replaces every row in a single transaction.
func (r *SQLiteRepository) Save(ctx context.Context, features []feature.Feature) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM features`); err != nil {
		return fmt.Errorf("store: clear features: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO features (id, position, data, updated_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, f := range features {
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("store: encode feature %s: %w", f.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, f.ID, i, string(data), now); err != nil {
			return fmt.Errorf("store: insert feature %s: %w", f.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
