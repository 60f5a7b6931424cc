package domain

import "errors"

// Remote errors - Bynder API boundary
var (
	// ErrNotFound indicates the requested asset does not exist remotely
	ErrNotFound = errors.New("resource not found")

	// ErrPermissionDenied indicates the token lacks the required scope
	ErrPermissionDenied = errors.New("permission denied")

	// ErrRateLimited indicates the remote rejected the call with 429
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrRemoteUnavailable indicates a transport failure or 5xx response
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrTruncatedListing indicates a listing ended before the last page
	ErrTruncatedListing = errors.New("listing truncated")
)

// Adapter errors - virtual filesystem
var (
	// ErrReadOnly is returned by every mutating file operation
	ErrReadOnly = errors.New("storage is read-only")

	// ErrInvalidFileName indicates a name that sanitizes to nothing
	ErrInvalidFileName = errors.New("invalid file name")

	// ErrUnknownProperty indicates a file info property with no mapping
	ErrUnknownProperty = errors.New("unknown file property")

	// ErrNotFolder indicates a folder identifier other than the root
	ErrNotFolder = errors.New("not a folder")
)

// Cache errors
var (
	// ErrCacheMiss is returned by backends when a key is absent or expired
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheUnavailable indicates the cache backend cannot be reached
	ErrCacheUnavailable = errors.New("cache backend unavailable")
)

// Sync errors
var (
	// ErrSchemaPrecondition indicates the local index schema is incomplete
	ErrSchemaPrecondition = errors.New("schema precondition failed")

	// ErrSyncInProgress indicates another sync holds the storage lock
	ErrSyncInProgress = errors.New("sync already in progress")
)

// Config errors
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")

	// ErrStorageNotFound indicates a referenced storage uid is not configured
	ErrStorageNotFound = errors.New("storage not found")

	// ErrMissingCredentials indicates neither token variant is usable
	ErrMissingCredentials = errors.New("missing credentials")
)
