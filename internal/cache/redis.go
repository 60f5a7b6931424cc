package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/jweiland-net/bynder2/internal/domain"
)

const (
	defaultRedisConnectTimeout = time.Second
	defaultRedisReadTimeout    = time.Second
	defaultRedisWriteTimeout   = time.Second
	defaultRedisPoolSize       = 16
	defaultRedisPrefix         = "bynder2:"
)

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// RedisBackend stores each entry as a string key with a native expiry.
// Tag membership is kept in one set per tag plus one set per entry.
type RedisBackend struct {
	pool   *redis.Pool
	prefix string
}

// NewRedisBackend creates a pooled redis backend and checks connectivity.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	pool := &redis.Pool{
		MaxIdle:     defaultRedisPoolSize,
		MaxActive:   defaultRedisPoolSize,
		IdleTimeout: 5 * time.Minute,
		Wait:        true,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", cfg.Address,
				redis.DialConnectTimeout(defaultRedisConnectTimeout),
				redis.DialReadTimeout(defaultRedisReadTimeout),
				redis.DialWriteTimeout(defaultRedisWriteTimeout),
				redis.DialPassword(cfg.Password),
				redis.DialDatabase(cfg.DB),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}

	b := &RedisBackend{pool: pool, prefix: prefix}
	conn := pool.Get()
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return b, nil
}

func (b *RedisBackend) Name() string { return string(KindRedis) }

func (b *RedisBackend) entryKey(key string) string { return b.prefix + "entry:" + key }
func (b *RedisBackend) tagKey(tag string) string   { return b.prefix + "tag:" + tag }
func (b *RedisBackend) entryTagsKey(key string) string {
	return b.prefix + "entrytags:" + key
}
func (b *RedisBackend) allTagsKey() string { return b.prefix + "tags" }

func (b *RedisBackend) conn(ctx context.Context) (redis.Conn, error) {
	c, err := b.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return c, nil
}

func (b *RedisBackend) Has(ctx context.Context, key string) (bool, error) {
	c, err := b.conn(ctx)
	if err != nil {
		return false, err
	}
	defer c.Close()
	return redis.Bool(c.Do("EXISTS", b.entryKey(key)))
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	c, err := b.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	value, err := redis.Bytes(c.Do("GET", b.entryKey(key)))
	if err == redis.ErrNil {
		return nil, domain.ErrCacheMiss
	}
	return value, err
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, tags []string, ttl time.Duration) error {
	c, err := b.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := b.untag(c, key); err != nil {
		return err
	}

	c.Send("MULTI")
	if ttl > 0 {
		c.Send("SET", b.entryKey(key), value, "PX", ttl.Milliseconds())
	} else {
		c.Send("SET", b.entryKey(key), value)
	}
	for _, tag := range tags {
		c.Send("SADD", b.tagKey(tag), key)
		c.Send("SADD", b.entryTagsKey(key), tag)
		c.Send("SADD", b.allTagsKey(), tag)
	}
	if ttl > 0 && len(tags) > 0 {
		c.Send("PEXPIRE", b.entryTagsKey(key), ttl.Milliseconds())
	}
	_, err = c.Do("EXEC")
	return err
}

func (b *RedisBackend) untag(c redis.Conn, key string) error {
	tags, err := redis.Strings(c.Do("SMEMBERS", b.entryTagsKey(key)))
	if err != nil {
		return err
	}
	for _, tag := range tags {
		if _, err := c.Do("SREM", b.tagKey(tag), key); err != nil {
			return err
		}
	}
	_, err = c.Do("DEL", b.entryTagsKey(key))
	return err
}

func (b *RedisBackend) Remove(ctx context.Context, key string) error {
	c, err := b.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := b.untag(c, key); err != nil {
		return err
	}
	_, err = c.Do("DEL", b.entryKey(key))
	return err
}

func (b *RedisBackend) FlushByTags(ctx context.Context, tags ...string) error {
	c, err := b.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	for _, tag := range tags {
		keys, err := redis.Strings(c.Do("SMEMBERS", b.tagKey(tag)))
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := b.untag(c, key); err != nil {
				return err
			}
			if _, err := c.Do("DEL", b.entryKey(key)); err != nil {
				return err
			}
		}
		if _, err := c.Do("DEL", b.tagKey(tag)); err != nil {
			return err
		}
		if _, err := c.Do("SREM", b.allTagsKey(), tag); err != nil {
			return err
		}
	}
	return nil
}

func (b *RedisBackend) Tags(ctx context.Context) ([]string, error) {
	c, err := b.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	all, err := redis.Strings(c.Do("SMEMBERS", b.allTagsKey()))
	if err != nil {
		return nil, err
	}
	var tags []string
	for _, tag := range all {
		live, _, err := b.pruneTag(c, tag)
		if err != nil {
			return nil, err
		}
		if live > 0 {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}

// pruneTag drops the members of tag whose entry has expired and returns
// the number of live and removed members. An emptied tag is forgotten.
func (b *RedisBackend) pruneTag(c redis.Conn, tag string) (live, removed int, err error) {
	keys, err := redis.Strings(c.Do("SMEMBERS", b.tagKey(tag)))
	if err != nil {
		return 0, 0, err
	}
	for _, key := range keys {
		ok, err := redis.Bool(c.Do("EXISTS", b.entryKey(key)))
		if err != nil {
			return 0, 0, err
		}
		if ok {
			live++
			continue
		}
		if _, err := c.Do("SREM", b.tagKey(tag), key); err != nil {
			return 0, 0, err
		}
		removed++
	}
	if live == 0 {
		if _, err := c.Do("SREM", b.allTagsKey(), tag); err != nil {
			return 0, 0, err
		}
	}
	return live, removed, nil
}

// CollectGarbage drops tag memberships of expired entries.
func (b *RedisBackend) CollectGarbage(ctx context.Context) (int64, error) {
	c, err := b.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	all, err := redis.Strings(c.Do("SMEMBERS", b.allTagsKey()))
	if err != nil {
		return 0, err
	}
	var total int64
	for _, tag := range all {
		_, removed, err := b.pruneTag(c, tag)
		if err != nil {
			return total, err
		}
		total += int64(removed)
	}
	return total, nil
}

// Flush removes every key under the configured prefix.
func (b *RedisBackend) Flush(ctx context.Context) error {
	c, err := b.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	cursor := 0
	for {
		values, err := redis.Values(c.Do("SCAN", cursor, "MATCH", b.prefix+"*", "COUNT", 500))
		if err != nil {
			return err
		}
		if len(values) != 2 {
			return fmt.Errorf("unexpected SCAN reply")
		}
		cursor, err = redis.Int(values[0], nil)
		if err != nil {
			return err
		}
		keys, err := redis.Strings(values[1], nil)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if _, err := c.Do("DEL", key); err != nil {
				return err
			}
		}
		if cursor == 0 {
			return nil
		}
	}
}

func (b *RedisBackend) Close() error {
	return b.pool.Close()
}

var (
	_ Backend          = (*RedisBackend)(nil)
	_ GarbageCollector = (*RedisBackend)(nil)
)
