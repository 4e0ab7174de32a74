package objectstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
	timestampLayout         = time.RFC3339Nano
)

// SQLiteStore keeps artifacts and their metadata in a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLite initializes or connects to the artifact database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("objectstore: sqlite path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteStore{db: db, path: path, now: time.Now}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to recreate it)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Upload stores data under folder and returns the new object id.
func (s *SQLiteStore) Upload(ctx context.Context, data []byte, folder, name string) (string, error) {
	folder, err := validateFolder(folder)
	if err != nil {
		return "", err
	}
	if data == nil {
		data = []byte{}
	}
	id := newObjectID()
	stamp := s.now().UTC().Format(timestampLayout)
	err = s.exec(ctx,
		`INSERT INTO objects (id, folder, name, content, size, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, NULL, ?, ?)`,
		id, folder, sanitizeName(name), data, len(data), stamp, stamp,
	)
	if err != nil {
		return "", fmt.Errorf("insert object: %w", err)
	}
	return id, nil
}

// Download returns the object's content.
func (s *SQLiteStore) Download(ctx context.Context, id string) ([]byte, error) {
	var content []byte
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT content FROM objects WHERE id = ?", id).Scan(&content)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return content, nil
}

// SetMetadata replaces the object's metadata document.
func (s *SQLiteStore) SetMetadata(ctx context.Context, id string, metadata []byte) error {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			"UPDATE objects SET metadata = ?, updated_at = ? WHERE id = ?",
			string(metadata), s.now().UTC().Format(timestampLayout), id,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	return nil
}

// GetMetadata returns the object's metadata, or nil when none was set.
func (s *SQLiteStore) GetMetadata(ctx context.Context, id string) ([]byte, error) {
	var metadata sql.NullString
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT metadata FROM objects WHERE id = ?", id).Scan(&metadata)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	if !metadata.Valid || metadata.String == "" {
		return nil, nil
	}
	return []byte(metadata.String), nil
}

// Exists reports whether id resolves to an object.
func (s *SQLiteStore) Exists(ctx context.Context, id string) (bool, error) {
	var count int
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM objects WHERE id = ?", id).Scan(&count)
	})
	if err != nil {
		return false, fmt.Errorf("check object: %w", err)
	}
	return count > 0, nil
}

// List returns the objects in folder ordered by creation time.
func (s *SQLiteStore) List(ctx context.Context, folder string) ([]Object, error) {
	folder, err := validateFolder(folder)
	if err != nil {
		return nil, err
	}
	var objects []Object
	err = retryOnBusy(ctx, func() error {
		objects = objects[:0]
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, folder, name, size, metadata IS NOT NULL AND metadata <> '', created_at
			 FROM objects WHERE folder = ? ORDER BY created_at, id`, folder)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				obj     Object
				created string
			)
			if err := rows.Scan(&obj.ID, &obj.Folder, &obj.Name, &obj.Size, &obj.HasMetadata, &created); err != nil {
				return err
			}
			if ts, perr := time.Parse(timestampLayout, created); perr == nil {
				obj.CreatedAt = ts
			}
			objects = append(objects, obj)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	return objects, nil
}

func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
