package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/jweiland-net/bynder2/internal/domain"
)

const memoryTable = "entries"

type memoryEntry struct {
	Key       string
	Value     []byte
	Tags      []string
	ExpiresAt time.Time
}

// MemoryBackend keeps entries in an in-process memdb with a unique key
// index and a multi-value tag index.
type MemoryBackend struct {
	db  *memdb.MemDB
	now func() time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() (*MemoryBackend, error) {
	db, err := memdb.NewMemDB(&memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			memoryTable: {
				Name: memoryTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Key"},
					},
					"tags": {
						Name:         "tags",
						AllowMissing: true,
						Indexer:      &memdb.StringSliceFieldIndex{Field: "Tags"},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}
	return &MemoryBackend{db: db, now: time.Now}, nil
}

func (b *MemoryBackend) Name() string { return string(KindMemory) }

func (b *MemoryBackend) lookup(key string) (*memoryEntry, error) {
	txn := b.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(memoryTable, "id", key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, domain.ErrCacheMiss
	}
	e := raw.(*memoryEntry)
	if isExpired(e.ExpiresAt, b.now()) {
		return nil, domain.ErrCacheMiss
	}
	return e, nil
}

func (b *MemoryBackend) Has(_ context.Context, key string) (bool, error) {
	_, err := b.lookup(key)
	if errors.Is(err, domain.ErrCacheMiss) {
		return false, nil
	}
	return err == nil, err
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	e, err := b.lookup(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(e.Value))
	copy(out, e.Value)
	return out, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, tags []string, ttl time.Duration) error {
	e := &memoryEntry{
		Key:       key,
		Value:     append([]byte(nil), value...),
		Tags:      append([]string(nil), tags...),
		ExpiresAt: expiresAt(b.now(), ttl),
	}

	txn := b.db.Txn(true)
	if err := txn.Insert(memoryTable, e); err != nil {
		txn.Abort()
		return err
	}
	txn.Commit()
	return nil
}

func (b *MemoryBackend) Remove(_ context.Context, key string) error {
	txn := b.db.Txn(true)
	if _, err := txn.DeleteAll(memoryTable, "id", key); err != nil {
		txn.Abort()
		return err
	}
	txn.Commit()
	return nil
}

func (b *MemoryBackend) FlushByTags(_ context.Context, tags ...string) error {
	txn := b.db.Txn(true)
	for _, tag := range tags {
		if _, err := txn.DeleteAll(memoryTable, "tags", tag); err != nil {
			txn.Abort()
			return err
		}
	}
	txn.Commit()
	return nil
}

func (b *MemoryBackend) Tags(_ context.Context) ([]string, error) {
	txn := b.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(memoryTable, "id")
	if err != nil {
		return nil, err
	}

	now := b.now()
	seen := make(map[string]bool)
	var tags []string
	for raw := it.Next(); raw != nil; raw = it.Next() {
		e := raw.(*memoryEntry)
		if isExpired(e.ExpiresAt, now) {
			continue
		}
		for _, tag := range e.Tags {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	return tags, nil
}

func (b *MemoryBackend) Flush(_ context.Context) error {
	txn := b.db.Txn(true)
	if _, err := txn.DeleteAll(memoryTable, "id"); err != nil {
		txn.Abort()
		return err
	}
	txn.Commit()
	return nil
}

func (b *MemoryBackend) Close() error { return nil }

var _ Backend = (*MemoryBackend)(nil)
