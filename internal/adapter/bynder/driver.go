// Package bynder presents a Bynder library as a read-only filesystem with
// a single root folder.
package bynder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jweiland-net/bynder2/internal/adapter"
	"github.com/jweiland-net/bynder2/internal/cache"
	"github.com/jweiland-net/bynder2/internal/core/checksum"
	"github.com/jweiland-net/bynder2/internal/domain"
	"github.com/jweiland-net/bynder2/internal/logger"
	"github.com/jweiland-net/bynder2/internal/remote"
)

const (
	// RootFolderName is the display name of the root folder
	RootFolderName = "Bynder Root Folder"

	// DefaultFileBrowserLimit caps unbounded listings in ModeFileBrowser
	DefaultFileBrowserLimit = 100
	maxFileBrowserLimit     = 1000

	fallbackExtension = "jpg"
)

// Config holds the collaborators of a Driver.
type Config struct {
	StorageUID int
	Source     remote.AssetSource
	Items      *cache.ItemCache
	Pages      *cache.PageCache

	// FileBrowserLimit is clamped to 1..1000; 0 selects the default.
	FileBrowserLimit int

	// TempDir receives files copied for local processing.
	TempDir string

	// HTTPClient downloads original files from the CDN.
	HTTPClient *http.Client

	Logger logger.Logger
}

// Driver implements adapter.Driver over an asset source and the item and
// page caches.
type Driver struct {
	uid          int
	source       remote.AssetSource
	items        *cache.ItemCache
	pages        *cache.PageCache
	browserLimit int
	tempDir      string
	http         *http.Client
	log          logger.Logger
	now          func() time.Time

	scope *RequestScope
}

// New creates a driver for one storage.
func New(cfg Config) (*Driver, error) {
	if cfg.Source == nil {
		return nil, errors.New("asset source is required")
	}
	if cfg.Items == nil || cfg.Pages == nil {
		return nil, errors.New("item and page caches are required")
	}

	limit := cfg.FileBrowserLimit
	if limit == 0 {
		limit = DefaultFileBrowserLimit
	}
	limit = max(1, min(limit, maxFileBrowserLimit))

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = remote.NewHTTPClient(remote.DefaultConnectTimeout, remote.DefaultTimeout, nil)
	}

	return &Driver{
		uid:          cfg.StorageUID,
		source:       cfg.Source,
		items:        cfg.Items,
		pages:        cfg.Pages,
		browserLimit: limit,
		tempDir:      cfg.TempDir,
		http:         httpClient,
		log:          logger.OrNull(cfg.Logger).With("storage", cfg.StorageUID),
		now:          time.Now,
	}, nil
}

// Scoped returns a driver that shares d's collaborators and memoizes
// lookups in scope. Use one scope per host request.
func (d *Driver) Scoped(scope *RequestScope) *Driver {
	c := *d
	c.scope = scope
	return &c
}

// StorageUID returns the storage served by d.
func (d *Driver) StorageUID() int {
	return d.uid
}

func normalizeID(identifier string) string {
	return strings.Trim(identifier, "/")
}

// asset resolves an asset cache-first and caches remote answers.
func (d *Driver) asset(ctx context.Context, identifier string) (domain.AssetRecord, error) {
	id := normalizeID(identifier)
	if asset, ok := d.items.Get(ctx, d.uid, id); ok {
		return asset, nil
	}

	asset, err := d.source.GetAsset(ctx, id)
	if err != nil {
		return domain.AssetRecord{}, err
	}
	d.items.Put(ctx, d.uid, asset, cache.NewGeneration(d.uid, d.now()))
	return asset, nil
}

// FileExists checks the item cache, then the remote.
func (d *Driver) FileExists(ctx context.Context, identifier string) bool {
	if identifier == adapter.RootFolder {
		return true
	}
	id := normalizeID(identifier)
	if id == "" {
		return false
	}

	return d.scope.exists(id, func() bool {
		if d.items.Has(ctx, d.uid, id) {
			return true
		}
		_, err := d.asset(ctx, id)
		return err == nil
	})
}

func (d *Driver) rootInfo() adapter.FileInfo {
	now := strconv.FormatInt(d.now().Unix(), 10)
	return adapter.FileInfo{
		"size":            "0",
		"atime":           now,
		"mtime":           now,
		"ctime":           now,
		"name":            adapter.RootFolder,
		"identifier":      adapter.RootFolder,
		"mimetype":        "",
		"identifier_hash": checksum.RootFolderHash,
		"storage":         strconv.Itoa(d.uid),
		"folder_hash":     checksum.RootFolderHash,
	}
}

// FileInfo maps the requested properties of a file.
func (d *Driver) FileInfo(ctx context.Context, identifier string, properties []string) (adapter.FileInfo, error) {
	if identifier == adapter.RootFolder {
		return d.rootInfo(), nil
	}

	asset, err := d.asset(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return d.InfoFromAsset(asset, properties)
}

// InfoFromAsset maps the requested properties of an already resolved
// asset.
func (d *Driver) InfoFromAsset(asset domain.AssetRecord, properties []string) (adapter.FileInfo, error) {
	if len(properties) == 0 {
		properties = DefaultProperties
	}

	info := make(adapter.FileInfo, len(properties))
	for _, p := range properties {
		v, err := Property(asset, d.uid, p)
		if err != nil {
			return nil, err
		}
		info[p] = v
	}
	return info, nil
}

// ListFiles serves one page from the page cache or pulls it from the
// remote, caching every asset of the page individually.
func (d *Driver) ListFiles(ctx context.Context, folder string, start, count int, sort string, reverse bool) ([]string, error) {
	if !d.FolderExists(folder) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFolder, folder)
	}

	order := domain.GetOrdering(sort, reverse)
	if count == 0 && d.scope.mode() == ModeFileBrowser {
		count = d.browserLimit
	}

	if ids, ok := d.pages.Get(ctx, d.uid, start, count, order); ok {
		return ids, nil
	}

	gen := cache.NewGeneration(d.uid, d.now())
	seq, probe := d.source.ListAssets(ctx, start, count, order)

	ids := []string{}
	for asset := range seq {
		ids = append(ids, asset.ID)
		d.items.Put(ctx, d.uid, asset, gen)
	}

	if err := probe(); err != nil {
		d.log.Warn("listing page incomplete, not caching it",
			"start", start,
			"count", count,
			"order", order.String(),
			"error", err,
		)
		return ids, nil
	}

	d.pages.Put(ctx, d.uid, start, count, order, ids, gen)
	return ids, nil
}

// CountFiles returns the number of assets in the library.
func (d *Driver) CountFiles(ctx context.Context, folder string) (int, error) {
	if !d.FolderExists(folder) {
		return 0, nil
	}
	return d.scope.countFiles(func() (int, error) {
		return d.source.CountAssets(ctx)
	})
}

// FileContents streams the original file from the CDN.
func (d *Driver) FileContents(ctx context.Context, identifier string) (io.ReadCloser, error) {
	location := d.source.DownloadLocation(ctx, normalizeID(identifier))
	if location == "" {
		return nil, fmt.Errorf("%w: no download location for %s", domain.ErrNotFound, identifier)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: download returned status %d", domain.ErrRemoteUnavailable, resp.StatusCode)
	}
	return resp.Body, nil
}

// DumpFileContents writes the original file to w.
func (d *Driver) DumpFileContents(ctx context.Context, identifier string, w io.Writer) error {
	r, err := d.FileContents(ctx, identifier)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(w, r)
	return err
}

// TemporaryPath creates an empty temporary file named after the file's
// extension. Files without a known extension get ".jpg".
func (d *Driver) TemporaryPath(ctx context.Context, identifier string) (string, error) {
	ext := fallbackExtension
	if info, err := d.FileInfo(ctx, identifier, []string{"extension"}); err == nil && info["extension"] != "" {
		ext = info["extension"]
	}

	f, err := os.CreateTemp(d.tempDir, "bynder-tempfile-*."+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	f.Close()
	return f.Name(), nil
}

// FileForLocalProcessing copies the original file to a temporary path.
func (d *Driver) FileForLocalProcessing(ctx context.Context, identifier string, _ bool) (string, error) {
	tmp, err := d.TemporaryPath(ctx, identifier)
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := d.DumpFileContents(ctx, identifier, f); err != nil {
		d.log.Warn("failed to copy file for local processing", "id", identifier, "error", err)
		return tmp, nil
	}
	return tmp, nil
}

// PublicURL returns the CDN download location of the original file.
func (d *Driver) PublicURL(ctx context.Context, identifier string) string {
	return d.source.DownloadLocation(ctx, normalizeID(identifier))
}

// ProcessingURL selects a CDN thumbnail for the rendition.
func (d *Driver) ProcessingURL(ctx context.Context, identifier string, cfg adapter.ProcessingConfig) string {
	asset, err := d.asset(ctx, identifier)
	if err != nil {
		return UnavailableImage
	}
	if cfg.Crop {
		return ""
	}
	return SelectThumbnail(cfg.Width, asset)
}

// Hash always returns the sha1 of identifier.
func (d *Driver) Hash(identifier string, algo checksum.Algorithm) string {
	if !checksum.IsSupported(algo) {
		d.log.Debug("hash algorithm not supported, using sha1", "algorithm", algo)
	}
	return checksum.Identifier(identifier)
}

func (d *Driver) Permissions(string) adapter.Permissions {
	return adapter.Permissions{Read: true, Write: false}
}

// ResourceExists reports whether identifier names the root or a file.
func (d *Driver) ResourceExists(ctx context.Context, identifier string) (bool, error) {
	if identifier == "" {
		return false, fmt.Errorf("%w: resource path cannot be empty", domain.ErrInvalidFileName)
	}
	return d.FileExists(ctx, identifier), nil
}

func (d *Driver) RootLevelFolder() string      { return adapter.RootFolder }
func (d *Driver) DefaultFolder() string        { return adapter.RootFolder }
func (d *Driver) ParentFolderOf(string) string { return adapter.RootFolder }

// FolderExists is true for the root folder only.
func (d *Driver) FolderExists(identifier string) bool {
	return identifier == adapter.RootFolder
}

// IsFolderEmpty reports whether the library has no assets.
func (d *Driver) IsFolderEmpty(ctx context.Context, folder string) (bool, error) {
	n, err := d.CountFiles(ctx, folder)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (d *Driver) IsWithin(folder, _ string) bool {
	return folder == adapter.RootFolder || folder == ""
}

func (d *Driver) FolderInfo(string) adapter.FolderInfo {
	return adapter.FolderInfo{
		Identifier: adapter.RootFolder,
		Name:       RootFolderName,
		Storage:    d.uid,
	}
}

// FileInFolder canonicalizes name into a file identifier of the root.
func (d *Driver) FileInFolder(name, _ string) (string, error) {
	if name == "" {
		return "", nil
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", domain.ErrInvalidFileName, name)
		}
	}
	return path.Clean("/" + name), nil
}

func (d *Driver) FileExistsInFolder(ctx context.Context, name, folder string) bool {
	return d.FileExists(ctx, strings.TrimRight(folder, "/")+"/"+name)
}

func (d *Driver) FolderInFolder(string, string) string     { return "" }
func (d *Driver) FolderExistsInFolder(string, string) bool { return false }
func (d *Driver) CountFolders(string) int                  { return 0 }

func (d *Driver) ListFolders(context.Context, string, int, int, string, bool) ([]string, error) {
	return []string{}, nil
}

// Folder operations succeed without effect: the library has no folders.

func (d *Driver) CreateFolder(context.Context, string, string, bool) (string, error) {
	return "", nil
}

func (d *Driver) RenameFolder(context.Context, string, string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (d *Driver) DeleteFolder(context.Context, string, bool) (bool, error) {
	return true, nil
}

func (d *Driver) MoveFolder(context.Context, string, string, string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (d *Driver) CopyFolder(context.Context, string, string, string) (bool, error) {
	return true, nil
}

func (d *Driver) MoveFile(_ context.Context, identifier, _, _ string) (string, error) {
	return identifier, nil
}

func (d *Driver) CopyFile(_ context.Context, identifier, _, _ string) (string, error) {
	return identifier, nil
}

// Mutating file operations are rejected.

func (d *Driver) AddFile(context.Context, string, string, string, bool) (string, error) {
	return "", domain.ErrReadOnly
}

func (d *Driver) CreateFile(context.Context, string, string) (string, error) {
	return "", domain.ErrReadOnly
}

func (d *Driver) RenameFile(context.Context, string, string) (string, error) {
	return "", domain.ErrReadOnly
}

func (d *Driver) ReplaceFile(context.Context, string, string) error {
	return domain.ErrReadOnly
}

func (d *Driver) DeleteFile(context.Context, string) error {
	return domain.ErrReadOnly
}

func (d *Driver) SetFileContents(context.Context, string, io.Reader) (int64, error) {
	return 0, domain.ErrReadOnly
}

func (d *Driver) Close() error {
	return nil
}

var _ adapter.Driver = (*Driver)(nil)
