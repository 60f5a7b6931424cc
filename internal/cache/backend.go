// Package cache implements the tagged item and page caches and their
// storage backends.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Backend is a tagged key/value store with per-entry lifetime. Get returns
// domain.ErrCacheMiss for absent or expired keys. Implementations must be
// safe for concurrent use; concurrent writes to one key resolve last write
// wins.
type Backend interface {
	Name() string
	Has(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, tags []string, ttl time.Duration) error
	Remove(ctx context.Context, key string) error

	// FlushByTags removes every entry carrying at least one of tags.
	FlushByTags(ctx context.Context, tags ...string) error

	// Tags lists the distinct tags of stored entries.
	Tags(ctx context.Context) ([]string, error)

	Flush(ctx context.Context) error
	Close() error
}

// GarbageCollector is implemented by backends that keep expired entries
// or their tags around until collected.
type GarbageCollector interface {
	CollectGarbage(ctx context.Context) (int64, error)
}

// Kind selects a backend implementation
type Kind string

const (
	KindMemory Kind = "memory"
	KindSQLite Kind = "sqlite"
	KindBolt   Kind = "bolt"
	KindRedis  Kind = "redis"
)

// IsValid checks if the kind is a known backend
func (k Kind) IsValid() bool {
	switch k {
	case KindMemory, KindSQLite, KindBolt, KindRedis:
		return true
	}
	return false
}

// Options configures Open.
type Options struct {
	Kind Kind

	// Path is the database file for sqlite and bolt.
	Path string

	// RedisAddress is host:port for the redis backend.
	RedisAddress string
	RedisDB      int
	RedisPrefix  string
}

// Open creates the configured backend.
func Open(opts Options) (Backend, error) {
	switch opts.Kind {
	case KindMemory, "":
		return NewMemoryBackend()
	case KindSQLite:
		return NewSQLiteBackend(opts.Path)
	case KindBolt:
		return NewBoltBackend(opts.Path)
	case KindRedis:
		return NewRedisBackend(RedisConfig{
			Address: opts.RedisAddress,
			DB:      opts.RedisDB,
			Prefix:  opts.RedisPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", opts.Kind)
	}
}

// Generation is the tag shared by all entries written in one listing or
// sync pass. Generations of one storage sort chronologically as strings.
type Generation string

const generationPrefix = "gen-"

// NewGeneration returns the generation tag for storageUID at now.
func NewGeneration(storageUID int, now time.Time) Generation {
	return Generation(fmt.Sprintf("%s%d-%020d", generationPrefix, storageUID, now.UnixNano()))
}

// StorageTag returns the tag carried by every entry of a storage.
func StorageTag(storageUID int) string {
	return fmt.Sprintf("storage-%d", storageUID)
}

func generationPrefixFor(storageUID int) string {
	return fmt.Sprintf("%s%d-", generationPrefix, storageUID)
}

// olderGenerations returns the generation tags of storageUID except the
// most recent one.
func olderGenerations(tags []string, storageUID int) []string {
	prefix := generationPrefixFor(storageUID)

	var gens []string
	latest := ""
	for _, tag := range tags {
		if !strings.HasPrefix(tag, prefix) {
			continue
		}
		gens = append(gens, tag)
		if tag > latest {
			latest = tag
		}
	}

	older := gens[:0]
	for _, tag := range gens {
		if tag != latest {
			older = append(older, tag)
		}
	}
	return older
}

func expiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func isExpired(exp time.Time, now time.Time) bool {
	return !exp.IsZero() && !now.Before(exp)
}
