package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jweiland-net/bynder2/internal/domain"
)

// DatabaseFile is the history database created under the data directory
const DatabaseFile = "bynder2.db"

// Run statuses
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPartial = "partial"
)

// Manager persists the history of sync runs
type Manager struct {
	db *sql.DB
}

// RunRecord represents one storage synchronization
type RunRecord struct {
	ID         int64
	StorageUID int
	StartTime  time.Time
	EndTime    time.Time
	Status     string // "success", "failed", "partial"
	Created    int
	Updated    int
	Deleted    int
	Failed     int
	Truncated  bool
	Error      string
}

// RecordFromStats derives a run record from engine stats and the run
// error. Truncated listings and per-file failures make a run partial.
func RecordFromStats(stats domain.SyncStats, runErr error) RunRecord {
	record := RunRecord{
		StorageUID: stats.StorageUID,
		StartTime:  stats.StartTime,
		EndTime:    stats.EndTime,
		Status:     StatusSuccess,
		Created:    stats.Created,
		Updated:    stats.Updated,
		Deleted:    stats.Deleted,
		Failed:     stats.Failed,
		Truncated:  stats.Truncated,
	}
	if record.EndTime.IsZero() {
		record.EndTime = time.Now()
	}

	switch {
	case runErr != nil:
		record.Status = StatusFailed
		record.Error = runErr.Error()
	case stats.Truncated:
		record.Status = StatusPartial
		record.Error = domain.ErrTruncatedListing.Error()
	case stats.Failed > 0:
		record.Status = StatusPartial
	}
	return record
}

// NewManager opens the history database in dataDir
func NewManager(dataDir string) (*Manager, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	manager := &Manager{db: db}

	if err := manager.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return manager, nil
}

func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		storage_uid INTEGER NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		created INTEGER DEFAULT 0,
		updated INTEGER DEFAULT 0,
		deleted INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		truncated INTEGER DEFAULT 0,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_storage_time ON sync_runs(storage_uid, start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_sync_runs_status ON sync_runs(status);
	`

	_, err := m.db.Exec(schema)
	return err
}

// SaveRun records a sync run
func (m *Manager) SaveRun(record RunRecord) error {
	if record.Status != StatusSuccess && record.Status != StatusFailed && record.Status != StatusPartial {
		return fmt.Errorf("invalid status: %s (must be 'success', 'failed', or 'partial')", record.Status)
	}

	query := `
		INSERT INTO sync_runs (storage_uid, start_time, end_time, status, created, updated, deleted, failed, truncated, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := m.db.Exec(query,
		record.StorageUID,
		record.StartTime,
		record.EndTime,
		record.Status,
		record.Created,
		record.Updated,
		record.Deleted,
		record.Failed,
		record.Truncated,
		record.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}

	return nil
}

const selectRuns = `
	SELECT id, storage_uid, start_time, end_time, status, created, updated, deleted, failed, truncated, COALESCE(error, '')
	FROM sync_runs
`

func scanRuns(rows *sql.Rows) ([]RunRecord, error) {
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var record RunRecord
		err := rows.Scan(
			&record.ID,
			&record.StorageUID,
			&record.StartTime,
			&record.EndTime,
			&record.Status,
			&record.Created,
			&record.Updated,
			&record.Deleted,
			&record.Failed,
			&record.Truncated,
			&record.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// GetHistory retrieves the run history of one storage
func (m *Manager) GetHistory(storageUID int, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := m.db.Query(selectRuns+`
		WHERE storage_uid = ?
		ORDER BY start_time DESC
		LIMIT ?
	`, storageUID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return scanRuns(rows)
}

// GetLastSuccess retrieves the last complete run of a storage. It returns
// nil when the storage never synchronized successfully.
func (m *Manager) GetLastSuccess(storageUID int) (*RunRecord, error) {
	rows, err := m.db.Query(selectRuns+`
		WHERE storage_uid = ? AND status = 'success'
		ORDER BY start_time DESC
		LIMIT 1
	`, storageUID)
	if err != nil {
		return nil, fmt.Errorf("failed to query last success: %w", err)
	}

	records, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// GetAllHistory retrieves the run history of every storage
func (m *Manager) GetAllHistory(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := m.db.Query(selectRuns+`
		ORDER BY start_time DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query all history: %w", err)
	}
	return scanRuns(rows)
}

// Prune deletes runs that started before cutoff and returns how many
// were removed.
func (m *Manager) Prune(cutoff time.Time) (int64, error) {
	res, err := m.db.Exec("DELETE FROM sync_runs WHERE start_time < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
