// Package adapter defines the filesystem contract a storage driver offers
// to the host. Identifiers are strings; the root folder is "/".
package adapter

import (
	"context"
	"io"

	"github.com/jweiland-net/bynder2/internal/core/checksum"
)

// RootFolder is the identifier of the only folder a flat storage has.
const RootFolder = "/"

// FileInfo maps requested property names to their string values.
type FileInfo map[string]string

// FolderInfo describes a folder.
type FolderInfo struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Storage    int    `json:"storage"`
}

// Permissions of an identifier.
type Permissions struct {
	Read  bool `json:"r"`
	Write bool `json:"w"`
}

// ProcessingConfig describes a requested rendition.
type ProcessingConfig struct {
	Width int
	// Crop is set when the rendition needs a crop area; CDN thumbnails
	// cannot serve it.
	Crop bool
}

// Reader is the read side of a driver.
type Reader interface {
	// FileExists reports whether identifier names an existing file.
	// The root folder always exists.
	FileExists(ctx context.Context, identifier string) bool

	// FileInfo returns the requested properties; an empty list selects the
	// default set. Returns domain.ErrNotFound for unknown files and
	// domain.ErrUnknownProperty for properties without a mapping.
	FileInfo(ctx context.Context, identifier string, properties []string) (FileInfo, error)

	// ListFiles returns the file identifiers of one page of folder.
	// count 0 requests every file.
	ListFiles(ctx context.Context, folder string, start, count int, sort string, reverse bool) ([]string, error)

	CountFiles(ctx context.Context, folder string) (int, error)

	// FileContents opens the original file. Caller must close the reader.
	FileContents(ctx context.Context, identifier string) (io.ReadCloser, error)

	// FileForLocalProcessing copies the file to a temporary path and
	// returns it.
	FileForLocalProcessing(ctx context.Context, identifier string, writable bool) (string, error)

	// PublicURL returns a URL to the original file or "".
	PublicURL(ctx context.Context, identifier string) string

	// ProcessingURL returns a pre-rendered URL for the rendition, "" when
	// none fits.
	ProcessingURL(ctx context.Context, identifier string, cfg ProcessingConfig) string

	Hash(identifier string, algo checksum.Algorithm) string
	Permissions(identifier string) Permissions
	ResourceExists(ctx context.Context, identifier string) (bool, error)
}

// Folders is the folder side of a driver.
type Folders interface {
	RootLevelFolder() string
	DefaultFolder() string
	ParentFolderOf(identifier string) string
	FolderExists(identifier string) bool
	IsFolderEmpty(ctx context.Context, folder string) (bool, error)
	IsWithin(folder, identifier string) bool
	FolderInfo(identifier string) FolderInfo
	FileInFolder(name, folder string) (string, error)
	FileExistsInFolder(ctx context.Context, name, folder string) bool
	FolderInFolder(name, folder string) string
	FolderExistsInFolder(name, folder string) bool
	ListFolders(ctx context.Context, folder string, start, count int, sort string, reverse bool) ([]string, error)
	CountFolders(folder string) int

	CreateFolder(ctx context.Context, name, parent string, recursive bool) (string, error)
	RenameFolder(ctx context.Context, folder, newName string) (map[string]string, error)
	DeleteFolder(ctx context.Context, folder string, recursive bool) (bool, error)
	MoveFolder(ctx context.Context, source, target, newName string) (map[string]string, error)
	CopyFolder(ctx context.Context, source, target, newName string) (bool, error)
	MoveFile(ctx context.Context, identifier, target, newName string) (string, error)
	CopyFile(ctx context.Context, identifier, target, newName string) (string, error)
}

// Writer holds the mutating file operations. A read-only driver returns
// domain.ErrReadOnly from each of them.
type Writer interface {
	AddFile(ctx context.Context, localPath, folder, newName string, removeOriginal bool) (string, error)
	CreateFile(ctx context.Context, name, folder string) (string, error)
	RenameFile(ctx context.Context, identifier, newName string) (string, error)
	ReplaceFile(ctx context.Context, identifier, localPath string) error
	DeleteFile(ctx context.Context, identifier string) error
	SetFileContents(ctx context.Context, identifier string, r io.Reader) (int64, error)
}

// Driver is the complete filesystem contract.
type Driver interface {
	Reader
	Folders
	Writer
	Close() error
}
