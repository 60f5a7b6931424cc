package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jweiland-net/bynder2/internal/domain"
)

var (
	bucketEntries = []byte("entries")
	bucketTags    = []byte("tags")
)

type boltEnvelope struct {
	Value     []byte    `json:"v"`
	Tags      []string  `json:"t,omitempty"`
	ExpiresAt time.Time `json:"e,omitempty"`
}

// BoltBackend stores entries in a bbolt file. The tags bucket holds one
// nested bucket per tag whose keys are the tagged entry keys.
type BoltBackend struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltBackend opens or creates the bolt file at path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt cache path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt cache: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, e := tx.CreateBucketIfNotExists(bucketEntries); e != nil {
			return e
		}
		_, e := tx.CreateBucketIfNotExists(bucketTags)
		return e
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltBackend{db: db, now: time.Now}, nil
}

func (b *BoltBackend) Name() string { return string(KindBolt) }

func (b *BoltBackend) read(key string) (*boltEnvelope, error) {
	var env *boltEnvelope
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketEntries).Get([]byte(key))
		if data == nil {
			return nil
		}
		env = &boltEnvelope{}
		return json.Unmarshal(data, env)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read bolt entry: %w", err)
	}
	if env == nil || isExpired(env.ExpiresAt, b.now()) {
		return nil, domain.ErrCacheMiss
	}
	return env, nil
}

func (b *BoltBackend) Has(_ context.Context, key string) (bool, error) {
	_, err := b.read(key)
	if errors.Is(err, domain.ErrCacheMiss) {
		return false, nil
	}
	return err == nil, err
}

func (b *BoltBackend) Get(_ context.Context, key string) ([]byte, error) {
	env, err := b.read(key)
	if err != nil {
		return nil, err
	}
	return env.Value, nil
}

func (b *BoltBackend) Set(_ context.Context, key string, value []byte, tags []string, ttl time.Duration) error {
	data, err := json.Marshal(boltEnvelope{
		Value:     value,
		Tags:      tags,
		ExpiresAt: expiresAt(b.now(), ttl),
	})
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := untag(tx, key); err != nil {
			return err
		}
		if err := tx.Bucket(bucketEntries).Put([]byte(key), data); err != nil {
			return err
		}
		for _, tag := range tags {
			tb, err := tx.Bucket(bucketTags).CreateBucketIfNotExists([]byte(tag))
			if err != nil {
				return err
			}
			if err := tb.Put([]byte(key), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// untag removes key from the tag buckets of its previous version.
func untag(tx *bbolt.Tx, key string) error {
	data := tx.Bucket(bucketEntries).Get([]byte(key))
	if data == nil {
		return nil
	}
	var old boltEnvelope
	if err := json.Unmarshal(data, &old); err != nil {
		return nil
	}
	for _, tag := range old.Tags {
		if tb := tx.Bucket(bucketTags).Bucket([]byte(tag)); tb != nil {
			if err := tb.Delete([]byte(key)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *BoltBackend) Remove(_ context.Context, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := untag(tx, key); err != nil {
			return err
		}
		return tx.Bucket(bucketEntries).Delete([]byte(key))
	})
}

func (b *BoltBackend) FlushByTags(_ context.Context, tags ...string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, tag := range tags {
			tb := tx.Bucket(bucketTags).Bucket([]byte(tag))
			if tb == nil {
				continue
			}
			var keys []string
			if err := tb.ForEach(func(k, _ []byte) error {
				keys = append(keys, string(k))
				return nil
			}); err != nil {
				return err
			}
			for _, key := range keys {
				if err := untag(tx, key); err != nil {
					return err
				}
				if err := tx.Bucket(bucketEntries).Delete([]byte(key)); err != nil {
					return err
				}
			}
			if err := tx.Bucket(bucketTags).DeleteBucket([]byte(tag)); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
		}
		return nil
	})
}

func (b *BoltBackend) Tags(_ context.Context) ([]string, error) {
	var tags []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTags).ForEachBucket(func(name []byte) error {
			if tx.Bucket(bucketTags).Bucket(name).Stats().KeyN > 0 {
				tags = append(tags, string(name))
			}
			return nil
		})
	})
	return tags, err
}

func (b *BoltBackend) Flush(_ context.Context) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketTags} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}

var _ Backend = (*BoltBackend)(nil)
