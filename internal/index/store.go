package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jweiland-net/bynder2/internal/adapter/bynder"
	"github.com/jweiland-net/bynder2/internal/core/checksum"
	"github.com/jweiland-net/bynder2/internal/domain"
)

// File is one sys_file row joined with its metadata.
type File struct {
	UID              int64
	Storage          int
	Identifier       string
	IdentifierHash   string
	FolderHash       string
	Name             string
	Extension        string
	MimeType         string
	Size             int64
	CreationDate     int64
	ModificationDate int64
	Missing          bool
	Metadata         Metadata
}

// CreateEntry indexes a newly seen asset. A row left behind as missing
// is revived.
func (d *DB) CreateEntry(ctx context.Context, storageUID int, asset domain.AssetRecord) error {
	return d.upsert(ctx, storageUID, asset)
}

// UpdateEntry refreshes the row and metadata of a known asset.
func (d *DB) UpdateEntry(ctx context.Context, storageUID int, asset domain.AssetRecord) error {
	return d.upsert(ctx, storageUID, asset)
}

func (d *DB) upsert(ctx context.Context, storageUID int, asset domain.AssetRecord) error {
	if asset.IsZero() {
		return fmt.Errorf("%w: asset without identifier", domain.ErrInvalidFileName)
	}
	name, err := bynder.FileName(asset)
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", asset.ID, err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sys_file (storage, identifier, identifier_hash, folder_hash, name, extension,
			mime_type, size, creation_date, modification_date, missing, tstamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (storage, identifier) DO UPDATE SET
			identifier_hash = excluded.identifier_hash,
			folder_hash = excluded.folder_hash,
			name = excluded.name,
			extension = excluded.extension,
			mime_type = excluded.mime_type,
			size = excluded.size,
			creation_date = excluded.creation_date,
			modification_date = excluded.modification_date,
			missing = 0,
			tstamp = excluded.tstamp
	`,
		storageUID,
		asset.ID,
		checksum.Identifier(asset.ID),
		checksum.RootFolderHash,
		name,
		asset.FirstExtension(),
		bynder.MimeType(asset),
		asset.FileSize,
		asset.CreatedUnix(),
		asset.ModifiedUnix(),
		d.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to write sys_file row for %s: %w", asset.ID, err)
	}

	var uid int64
	err = tx.QueryRowContext(ctx,
		"SELECT uid FROM sys_file WHERE storage = ? AND identifier = ?",
		storageUID, asset.ID,
	).Scan(&uid)
	if err != nil {
		return fmt.Errorf("failed to read sys_file uid for %s: %w", asset.ID, err)
	}

	meta := Extract(asset)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sys_file_metadata (file, title, description, width, height, copyright, keywords,
			bynder2_thumb_mini, bynder2_thumb_thul, bynder2_thumb_webimage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (file) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			width = excluded.width,
			height = excluded.height,
			copyright = excluded.copyright,
			keywords = excluded.keywords,
			bynder2_thumb_mini = excluded.bynder2_thumb_mini,
			bynder2_thumb_thul = excluded.bynder2_thumb_thul,
			bynder2_thumb_webimage = excluded.bynder2_thumb_webimage
	`,
		uid,
		meta.Title,
		meta.Description,
		meta.Width,
		meta.Height,
		meta.Copyright,
		meta.Keywords,
		meta.ThumbMini,
		meta.ThumbThul,
		meta.ThumbWebImage,
	)
	if err != nil {
		return fmt.Errorf("failed to write metadata for %s: %w", asset.ID, err)
	}

	return tx.Commit()
}

// MarkMissing flags an identifier that no longer exists remotely.
func (d *DB) MarkMissing(ctx context.Context, storageUID int, identifier string) error {
	res, err := d.db.ExecContext(ctx,
		"UPDATE sys_file SET missing = 1, tstamp = ? WHERE storage = ? AND identifier = ?",
		d.now().Unix(), storageUID, identifier,
	)
	if err != nil {
		return fmt.Errorf("failed to mark %s missing: %w", identifier, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s in storage %d", domain.ErrNotFound, identifier, storageUID)
	}
	return nil
}

// ListNonMissingIdentifiers returns every indexed identifier of a storage
// not flagged missing.
func (d *DB) ListNonMissingIdentifiers(ctx context.Context, storageUID int) ([]string, error) {
	return d.Identifiers(ctx, storageUID, 0, 0)
}

// Identifiers returns identifiers of non-missing files, most recently
// created first. limit 0 returns all rows from start.
func (d *DB) Identifiers(ctx context.Context, storageUID, start, limit int) ([]string, error) {
	query := `
		SELECT identifier
		FROM sys_file
		WHERE storage = ? AND missing = 0
		ORDER BY creation_date DESC, uid DESC
		LIMIT ? OFFSET ?
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := d.db.QueryContext(ctx, query, storageUID, limit, max(start, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to query identifiers: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan identifier: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating identifiers: %w", err)
	}
	return ids, nil
}

// CountNonMissing returns the number of non-missing files of a storage.
func (d *DB) CountNonMissing(ctx context.Context, storageUID int) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sys_file WHERE storage = ? AND missing = 0",
		storageUID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return n, nil
}

// HasIdentifier reports whether a row exists, missing or not.
func (d *DB) HasIdentifier(ctx context.Context, storageUID int, identifier string) (bool, error) {
	var uid int64
	err := d.db.QueryRowContext(ctx,
		"SELECT uid FROM sys_file WHERE storage = ? AND identifier = ?",
		storageUID, identifier,
	).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up %s: %w", identifier, err)
	}
	return true, nil
}

// Get returns the indexed file with its metadata.
func (d *DB) Get(ctx context.Context, storageUID int, identifier string) (File, error) {
	var (
		f       File
		missing int
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT f.uid, f.storage, f.identifier, f.identifier_hash, f.folder_hash, f.name, f.extension,
			f.mime_type, f.size, f.creation_date, f.modification_date, f.missing,
			COALESCE(m.title, ''), COALESCE(m.description, ''), COALESCE(m.width, 0), COALESCE(m.height, 0),
			COALESCE(m.copyright, ''), COALESCE(m.keywords, ''), COALESCE(m.bynder2_thumb_mini, ''),
			COALESCE(m.bynder2_thumb_thul, ''), COALESCE(m.bynder2_thumb_webimage, '')
		FROM sys_file f
		LEFT JOIN sys_file_metadata m ON m.file = f.uid
		WHERE f.storage = ? AND f.identifier = ?
	`, storageUID, identifier).Scan(
		&f.UID,
		&f.Storage,
		&f.Identifier,
		&f.IdentifierHash,
		&f.FolderHash,
		&f.Name,
		&f.Extension,
		&f.MimeType,
		&f.Size,
		&f.CreationDate,
		&f.ModificationDate,
		&missing,
		&f.Metadata.Title,
		&f.Metadata.Description,
		&f.Metadata.Width,
		&f.Metadata.Height,
		&f.Metadata.Copyright,
		&f.Metadata.Keywords,
		&f.Metadata.ThumbMini,
		&f.Metadata.ThumbThul,
		&f.Metadata.ThumbWebImage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, fmt.Errorf("%w: %s in storage %d", domain.ErrNotFound, identifier, storageUID)
	}
	if err != nil {
		return File{}, fmt.Errorf("failed to read %s: %w", identifier, err)
	}
	f.Missing = missing != 0
	return f, nil
}

// DeleteFile removes a file row and its metadata.
func (d *DB) DeleteFile(ctx context.Context, storageUID int, identifier string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"DELETE FROM sys_file_metadata WHERE file IN (SELECT uid FROM sys_file WHERE storage = ? AND identifier = ?)",
		storageUID, identifier,
	)
	if err != nil {
		return fmt.Errorf("failed to delete metadata of %s: %w", identifier, err)
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM sys_file WHERE storage = ? AND identifier = ?",
		storageUID, identifier,
	)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", identifier, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s in storage %d", domain.ErrNotFound, identifier, storageUID)
	}
	return tx.Commit()
}

// PurgeMissing deletes every row of a storage flagged missing and returns
// the number removed.
func (d *DB) PurgeMissing(ctx context.Context, storageUID int) (int, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"DELETE FROM sys_file_metadata WHERE file IN (SELECT uid FROM sys_file WHERE storage = ? AND missing = 1)",
		storageUID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge metadata: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sys_file WHERE storage = ? AND missing = 1", storageUID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge missing files: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}
