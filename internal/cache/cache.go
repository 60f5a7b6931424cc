package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jweiland-net/bynder2/internal/core/checksum"
	"github.com/jweiland-net/bynder2/internal/domain"
	"github.com/jweiland-net/bynder2/internal/logger"
	"github.com/jweiland-net/bynder2/internal/metrics"
)

// DefaultLifetime is the lifetime of item and page entries.
const DefaultLifetime = 86400 * time.Second

// Entry is one cached value with its tags.
type Entry struct {
	Key        string
	Value      []byte
	Tags       []string
	InsertedAt time.Time
	TTL        time.Duration
}

// Cache fronts a Backend. Backend failures on reads and writes are logged
// and reported as misses; maintenance operations return them.
type Cache struct {
	backend Backend
	log     logger.Logger
	now     func() time.Time
}

// New creates a Cache over backend.
func New(backend Backend, log logger.Logger) *Cache {
	return &Cache{
		backend: backend,
		log:     logger.OrNull(log),
		now:     time.Now,
	}
}

// Backend returns the underlying backend.
func (c *Cache) Backend() Backend {
	return c.backend
}

func (c *Cache) degrade(op, key string, err error) {
	metrics.RecordCacheBackendError(c.backend.Name(), op)
	c.log.Warn("cache backend failed, treating as miss",
		"backend", c.backend.Name(),
		"operation", op,
		"key", key,
		"error", err,
	)
}

func (c *Cache) Has(ctx context.Context, key string) bool {
	ok, err := c.backend.Has(ctx, key)
	if err != nil {
		c.degrade("has", key, err)
		return false
	}
	return ok
}

// Get returns the value stored under key and whether it was found.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := c.backend.Get(ctx, key)
	if errors.Is(err, domain.ErrCacheMiss) {
		return nil, false
	}
	if err != nil {
		c.degrade("get", key, err)
		return nil, false
	}
	return value, true
}

func (c *Cache) Set(ctx context.Context, e Entry) {
	if err := c.backend.Set(ctx, e.Key, e.Value, e.Tags, e.TTL); err != nil {
		c.degrade("set", e.Key, err)
	}
}

func (c *Cache) Remove(ctx context.Context, key string) {
	if err := c.backend.Remove(ctx, key); err != nil {
		c.degrade("remove", key, err)
	}
}

func (c *Cache) FlushByTag(ctx context.Context, tag string) error {
	return c.FlushByTags(ctx, tag)
}

func (c *Cache) FlushByTags(ctx context.Context, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}
	if err := c.backend.FlushByTags(ctx, tags...); err != nil {
		return fmt.Errorf("%w: flush by tags: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

// FlushExceptLatest removes the entries of every generation of storageUID
// except the most recent one and returns the flushed generation tags.
func (c *Cache) FlushExceptLatest(ctx context.Context, storageUID int) ([]string, error) {
	tags, err := c.backend.Tags(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list tags: %v", domain.ErrCacheUnavailable, err)
	}
	older := olderGenerations(tags, storageUID)
	if err := c.FlushByTags(ctx, older...); err != nil {
		return nil, err
	}
	if len(older) > 0 {
		c.log.Info("flushed old cache generations", "storage", storageUID, "count", len(older))
	}
	return older, nil
}

// FlushStorage removes every entry of storageUID.
func (c *Cache) FlushStorage(ctx context.Context, storageUID int) error {
	return c.FlushByTag(ctx, StorageTag(storageUID))
}

func (c *Cache) Tags(ctx context.Context) ([]string, error) {
	return c.backend.Tags(ctx)
}

// CollectGarbage purges expired data from backends that retain it and
// returns the number of removed records. Other backends report 0.
func (c *Cache) CollectGarbage(ctx context.Context) (int64, error) {
	gc, ok := c.backend.(GarbageCollector)
	if !ok {
		return 0, nil
	}
	n, err := gc.CollectGarbage(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: collect garbage: %v", domain.ErrCacheUnavailable, err)
	}
	if n > 0 {
		c.log.Info("collected expired cache data", "backend", c.backend.Name(), "count", n)
	}
	return n, nil
}

func (c *Cache) Flush(ctx context.Context) error {
	return c.backend.Flush(ctx)
}

func (c *Cache) Close() error {
	return c.backend.Close()
}

// entryTags returns the tags written with every entry of one generation.
func entryTags(storageUID int, gen Generation) []string {
	tags := []string{StorageTag(storageUID)}
	if gen != "" {
		tags = append(tags, string(gen))
	}
	return tags
}

// ItemCache holds one AssetRecord per (storage, asset id).
type ItemCache struct {
	cache    *Cache
	lifetime time.Duration
}

// NewItemCache creates an item cache. A non-positive lifetime selects
// DefaultLifetime.
func NewItemCache(c *Cache, lifetime time.Duration) *ItemCache {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &ItemCache{cache: c, lifetime: lifetime}
}

// ItemKey returns the backend key of asset id in storageUID.
func ItemKey(storageUID int, id string) string {
	return checksum.StorageKey(storageUID, "file-"+id)
}

func (ic *ItemCache) Has(ctx context.Context, storageUID int, id string) bool {
	return ic.cache.Has(ctx, ItemKey(storageUID, id))
}

func (ic *ItemCache) Get(ctx context.Context, storageUID int, id string) (domain.AssetRecord, bool) {
	data, ok := ic.cache.Get(ctx, ItemKey(storageUID, id))
	if !ok {
		metrics.RecordCacheLookup("item", false)
		return domain.AssetRecord{}, false
	}

	var asset domain.AssetRecord
	if err := json.Unmarshal(data, &asset); err != nil {
		ic.cache.log.Warn("dropping undecodable item cache entry", "storage", storageUID, "id", id, "error", err)
		ic.cache.Remove(ctx, ItemKey(storageUID, id))
		metrics.RecordCacheLookup("item", false)
		return domain.AssetRecord{}, false
	}
	metrics.RecordCacheLookup("item", true)
	return asset, true
}

func (ic *ItemCache) Put(ctx context.Context, storageUID int, asset domain.AssetRecord, gen Generation) {
	data, err := json.Marshal(asset)
	if err != nil {
		ic.cache.log.Warn("failed to encode asset for cache", "storage", storageUID, "id", asset.ID, "error", err)
		return
	}
	ic.cache.Set(ctx, Entry{
		Key:        ItemKey(storageUID, asset.ID),
		Value:      data,
		Tags:       entryTags(storageUID, gen),
		InsertedAt: ic.cache.now(),
		TTL:        ic.lifetime,
	})
}

func (ic *ItemCache) Remove(ctx context.Context, storageUID int, id string) {
	ic.cache.Remove(ctx, ItemKey(storageUID, id))
}

// PageCache holds the ordered identifier list of one listing page.
type PageCache struct {
	cache    *Cache
	lifetime time.Duration
}

// NewPageCache creates a page cache. A non-positive lifetime selects
// DefaultLifetime.
func NewPageCache(c *Cache, lifetime time.Duration) *PageCache {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &PageCache{cache: c, lifetime: lifetime}
}

// PageKey returns the backend key of one listing page.
func PageKey(storageUID, start, count int, order domain.Ordering) string {
	return checksum.StorageKey(storageUID, fmt.Sprintf("page-%d-%d-%s",
		start, count, strings.ReplaceAll(order.String(), " ", "-")))
}

func (pc *PageCache) Get(ctx context.Context, storageUID, start, count int, order domain.Ordering) ([]string, bool) {
	key := PageKey(storageUID, start, count, order)
	data, ok := pc.cache.Get(ctx, key)
	if !ok {
		metrics.RecordCacheLookup("page", false)
		return nil, false
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		pc.cache.log.Warn("dropping undecodable page cache entry", "storage", storageUID, "error", err)
		pc.cache.Remove(ctx, key)
		metrics.RecordCacheLookup("page", false)
		return nil, false
	}
	metrics.RecordCacheLookup("page", true)
	return ids, true
}

func (pc *PageCache) Put(ctx context.Context, storageUID, start, count int, order domain.Ordering, ids []string, gen Generation) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return
	}
	pc.cache.Set(ctx, Entry{
		Key:        PageKey(storageUID, start, count, order),
		Value:      data,
		Tags:       entryTags(storageUID, gen),
		InsertedAt: pc.cache.now(),
		TTL:        pc.lifetime,
	})
}
