// Package index stores the local file index (sys_file and
// sys_file_metadata) that synchronization keeps in step with the remote
// library.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jweiland-net/bynder2/internal/domain"
	"github.com/jweiland-net/bynder2/internal/logger"
)

// DefaultFileName is the database file created under the data directory
const DefaultFileName = "index.db"

// RequiredMetadataColumns must exist in sys_file_metadata before a sync
var RequiredMetadataColumns = []string{
	"bynder2_thumb_mini",
	"bynder2_thumb_thul",
	"bynder2_thumb_webimage",
}

// DB is the sqlite-backed local index.
type DB struct {
	db  *sql.DB
	log logger.Logger
	now func() time.Time
}

// Open opens (and creates when absent) the index database at path.
// Tables that already exist are left untouched.
func Open(path string, log logger.Logger) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("index path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	idx := &DB{db: db, log: logger.OrNull(log), now: time.Now}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sys_file (
		uid INTEGER PRIMARY KEY AUTOINCREMENT,
		storage INTEGER NOT NULL,
		identifier TEXT NOT NULL,
		identifier_hash TEXT NOT NULL,
		folder_hash TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		extension TEXT NOT NULL DEFAULT '',
		mime_type TEXT NOT NULL DEFAULT '',
		size BIGINT NOT NULL DEFAULT 0,
		creation_date INTEGER NOT NULL DEFAULT 0,
		modification_date INTEGER NOT NULL DEFAULT 0,
		missing INTEGER NOT NULL DEFAULT 0,
		tstamp INTEGER NOT NULL DEFAULT 0,
		UNIQUE (storage, identifier)
	);

	CREATE INDEX IF NOT EXISTS idx_sys_file_storage_missing ON sys_file(storage, missing, creation_date DESC);

	CREATE TABLE IF NOT EXISTS sys_file_metadata (
		uid INTEGER PRIMARY KEY AUTOINCREMENT,
		file INTEGER NOT NULL UNIQUE REFERENCES sys_file(uid) ON DELETE CASCADE,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		copyright TEXT NOT NULL DEFAULT '',
		keywords TEXT NOT NULL DEFAULT '',
		bynder2_thumb_mini TEXT NOT NULL DEFAULT '',
		bynder2_thumb_thul TEXT NOT NULL DEFAULT '',
		bynder2_thumb_webimage TEXT NOT NULL DEFAULT ''
	);
	`

	_, err := d.db.Exec(schema)
	return err
}

type column struct {
	name string
	typ  string
}

func (d *DB) columns(ctx context.Context, table string) (map[string]column, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]column)
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		cols[name] = column{name: name, typ: strings.ToUpper(typ)}
	}
	return cols, rows.Err()
}

// CheckSchema verifies the columns synchronization writes to. A failure
// wraps domain.ErrSchemaPrecondition.
func (d *DB) CheckSchema(ctx context.Context) error {
	meta, err := d.columns(ctx, "sys_file_metadata")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSchemaPrecondition, err)
	}
	for _, name := range RequiredMetadataColumns {
		if _, ok := meta[name]; !ok {
			d.log.Warn("Missing columns in sys_file_metadata. Stopped synchronization.", "column", name)
			return fmt.Errorf("%w: missing column sys_file_metadata.%s", domain.ErrSchemaPrecondition, name)
		}
	}

	files, err := d.columns(ctx, "sys_file")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSchemaPrecondition, err)
	}
	size, ok := files["size"]
	if !ok || size.typ != "BIGINT" {
		return fmt.Errorf("%w: column sys_file.size is not of type BIGINT", domain.ErrSchemaPrecondition)
	}
	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}
