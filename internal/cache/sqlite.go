package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jweiland-net/bynder2/internal/domain"
)

// SQLiteBackend stores entries in two tables, one row per entry and one
// row per (entry, tag).
type SQLiteBackend struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteBackend opens or creates the cache database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite cache path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// A single connection avoids "database is locked" between writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	b := &SQLiteBackend{db: db, now: time.Now}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	_, err := b.db.Exec(`
	CREATE TABLE IF NOT EXISTS cache_entries (
		identifier TEXT PRIMARY KEY,
		content BLOB NOT NULL,
		expires INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS cache_tags (
		identifier TEXT NOT NULL,
		tag TEXT NOT NULL,
		PRIMARY KEY (identifier, tag)
	);

	CREATE INDEX IF NOT EXISTS idx_cache_tags_tag ON cache_tags(tag);
	`)
	return err
}

func (b *SQLiteBackend) Name() string { return string(KindSQLite) }

func (b *SQLiteBackend) Has(ctx context.Context, key string) (bool, error) {
	_, err := b.Get(ctx, key)
	if errors.Is(err, domain.ErrCacheMiss) {
		return false, nil
	}
	return err == nil, err
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var content []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT content FROM cache_entries WHERE identifier = ? AND (expires = 0 OR expires > ?)`,
		key, b.now().UnixNano(),
	).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return content, nil
}

func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte, tags []string, ttl time.Duration) error {
	var expires int64
	if exp := expiresAt(b.now(), ttl); !exp.IsZero() {
		expires = exp.UnixNano()
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (identifier, content, expires) VALUES (?, ?, ?)`,
		key, value, expires,
	); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_tags WHERE identifier = ?`, key); err != nil {
		return fmt.Errorf("failed to reset cache tags: %w", err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO cache_tags (identifier, tag) VALUES (?, ?)`, key, tag,
		); err != nil {
			return fmt.Errorf("failed to write cache tag: %w", err)
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Remove(ctx context.Context, key string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE identifier = ?`, key); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_tags WHERE identifier = ?`, key); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *SQLiteBackend) FlushByTags(ctx context.Context, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tags)), ",")
	args := make([]any, len(tags))
	for i, tag := range tags {
		args[i] = tag
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	victims := `SELECT identifier FROM cache_tags WHERE tag IN (` + placeholders + `)`
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE identifier IN (`+victims+`)`, args...); err != nil {
		return fmt.Errorf("failed to flush cache entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_tags WHERE identifier IN (`+victims+`)`, args...); err != nil {
		return fmt.Errorf("failed to flush cache tags: %w", err)
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Tags(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT DISTINCT t.tag FROM cache_tags t
		JOIN cache_entries e ON e.identifier = t.identifier
		WHERE e.expires = 0 OR e.expires > ?`, b.now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query cache tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// CollectGarbage deletes expired entries and their tags.
func (b *SQLiteBackend) CollectGarbage(ctx context.Context) (int64, error) {
	now := b.now().UnixNano()
	if _, err := b.db.ExecContext(ctx, `
		DELETE FROM cache_tags WHERE identifier IN (
			SELECT identifier FROM cache_entries WHERE expires != 0 AND expires <= ?
		)`, now); err != nil {
		return 0, err
	}
	res, err := b.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires != 0 AND expires <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (b *SQLiteBackend) Flush(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM cache_entries; DELETE FROM cache_tags;`)
	return err
}

func (b *SQLiteBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

var (
	_ Backend          = (*SQLiteBackend)(nil)
	_ GarbageCollector = (*SQLiteBackend)(nil)
)
