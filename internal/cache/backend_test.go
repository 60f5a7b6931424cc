package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/jweiland-net/bynder2/internal/domain"
)

type backendFactory struct {
	name string
	open func(t *testing.T) (Backend, func(time.Time))
}

func backendFactories() []backendFactory {
	return []backendFactory{
		{"memory", func(t *testing.T) (Backend, func(time.Time)) {
			b, err := NewMemoryBackend()
			if err != nil {
				t.Fatalf("NewMemoryBackend failed: %v", err)
			}
			return b, func(now time.Time) { b.now = func() time.Time { return now } }
		}},
		{"sqlite", func(t *testing.T) (Backend, func(time.Time)) {
			b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "cache.db"))
			if err != nil {
				t.Fatalf("NewSQLiteBackend failed: %v", err)
			}
			return b, func(now time.Time) { b.now = func() time.Time { return now } }
		}},
		{"bolt", func(t *testing.T) (Backend, func(time.Time)) {
			b, err := NewBoltBackend(filepath.Join(t.TempDir(), "cache.bolt"))
			if err != nil {
				t.Fatalf("NewBoltBackend failed: %v", err)
			}
			return b, func(now time.Time) { b.now = func() time.Time { return now } }
		}},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b Backend, setNow func(time.Time))) {
	for _, f := range backendFactories() {
		t.Run(f.name, func(t *testing.T) {
			b, setNow := f.open(t)
			defer b.Close()
			fn(t, b, setNow)
		})
	}
}

func TestBackend_SetGetHasRemove(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend, _ func(time.Time)) {
		ctx := context.Background()

		if _, err := b.Get(ctx, "k"); !errors.Is(err, domain.ErrCacheMiss) {
			t.Fatalf("Get on empty backend: expected ErrCacheMiss, got %v", err)
		}
		if err := b.Set(ctx, "k", []byte("v1"), []string{"a"}, 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := b.Set(ctx, "k", []byte("v2"), []string{"a"}, 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		got, err := b.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "v2" {
			t.Errorf("expected last write to win, got %q", got)
		}
		if ok, err := b.Has(ctx, "k"); err != nil || !ok {
			t.Errorf("Has = %v, %v; want true", ok, err)
		}

		if err := b.Remove(ctx, "k"); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if ok, _ := b.Has(ctx, "k"); ok {
			t.Error("expected key to be gone after Remove")
		}
	})
}

func TestBackend_Expiry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend, setNow func(time.Time)) {
		ctx := context.Background()
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		setNow(base)

		if err := b.Set(ctx, "short", []byte("x"), nil, time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := b.Set(ctx, "forever", []byte("y"), nil, 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		setNow(base.Add(30 * time.Second))
		if ok, _ := b.Has(ctx, "short"); !ok {
			t.Error("entry should be visible before its lifetime ends")
		}

		setNow(base.Add(2 * time.Minute))
		if _, err := b.Get(ctx, "short"); !errors.Is(err, domain.ErrCacheMiss) {
			t.Errorf("expired entry: expected ErrCacheMiss, got %v", err)
		}
		if ok, _ := b.Has(ctx, "forever"); !ok {
			t.Error("entry without lifetime should not expire")
		}
	})
}

func TestSQLiteBackend_CollectGarbage(t *testing.T) {
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	defer b.Close()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return base }

	if err := b.Set(ctx, "short", []byte("x"), []string{"gen-old"}, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := b.Set(ctx, "forever", []byte("y"), []string{"gen-new"}, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	b.now = func() time.Time { return base.Add(2 * time.Minute) }
	c := New(b, nil)
	n, err := c.CollectGarbage(ctx)
	if err != nil {
		t.Fatalf("CollectGarbage failed: %v", err)
	}
	if n != 1 {
		t.Errorf("CollectGarbage removed %d entries, want 1", n)
	}

	tags, err := b.Tags(ctx)
	if err != nil {
		t.Fatalf("Tags failed: %v", err)
	}
	if len(tags) != 1 || tags[0] != "gen-new" {
		t.Errorf("Tags() = %v, want [gen-new]", tags)
	}
	if ok, _ := b.Has(ctx, "forever"); !ok {
		t.Error("entry without lifetime must survive garbage collection")
	}
}

func TestCache_CollectGarbageUnsupportedBackend(t *testing.T) {
	b, err := NewMemoryBackend()
	if err != nil {
		t.Fatalf("NewMemoryBackend failed: %v", err)
	}
	n, err := New(b, nil).CollectGarbage(context.Background())
	if err != nil || n != 0 {
		t.Errorf("CollectGarbage() = %d, %v, want 0, nil", n, err)
	}
}

func TestBackend_FlushByTags(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend, _ func(time.Time)) {
		ctx := context.Background()

		entries := map[string][]string{
			"one":   {"gen-1", "storage-1"},
			"two":   {"gen-1", "storage-1"},
			"three": {"gen-2", "storage-1"},
			"four":  {"gen-3"},
		}
		for key, tags := range entries {
			if err := b.Set(ctx, key, []byte(key), tags, 0); err != nil {
				t.Fatalf("Set %s failed: %v", key, err)
			}
		}

		if err := b.FlushByTags(ctx, "gen-1", "gen-3"); err != nil {
			t.Fatalf("FlushByTags failed: %v", err)
		}

		for key, want := range map[string]bool{"one": false, "two": false, "three": true, "four": false} {
			if ok, _ := b.Has(ctx, key); ok != want {
				t.Errorf("Has(%s) = %v, want %v", key, ok, want)
			}
		}

		tags, err := b.Tags(ctx)
		if err != nil {
			t.Fatalf("Tags failed: %v", err)
		}
		sort.Strings(tags)
		want := []string{"gen-2", "storage-1"}
		if len(tags) != len(want) {
			t.Fatalf("Tags = %v, want %v", tags, want)
		}
		for i := range want {
			if tags[i] != want[i] {
				t.Errorf("Tags[%d] = %s, want %s", i, tags[i], want[i])
			}
		}
	})
}

func TestBackend_RetagOnOverwrite(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend, _ func(time.Time)) {
		ctx := context.Background()

		if err := b.Set(ctx, "k", []byte("old"), []string{"gen-1"}, 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := b.Set(ctx, "k", []byte("new"), []string{"gen-2"}, 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := b.FlushByTags(ctx, "gen-1"); err != nil {
			t.Fatalf("FlushByTags failed: %v", err)
		}
		if ok, _ := b.Has(ctx, "k"); !ok {
			t.Error("rewritten entry must not be flushed by its previous tag")
		}
	})
}

func TestBackend_Flush(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend, _ func(time.Time)) {
		ctx := context.Background()
		for _, key := range []string{"a", "b"} {
			if err := b.Set(ctx, key, []byte(key), []string{"t"}, 0); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
		}
		if err := b.Flush(ctx); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		for _, key := range []string{"a", "b"} {
			if ok, _ := b.Has(ctx, key); ok {
				t.Errorf("%s should be gone after Flush", key)
			}
		}
		tags, _ := b.Tags(ctx)
		if len(tags) != 0 {
			t.Errorf("expected no tags after Flush, got %v", tags)
		}
	})
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("BYNDER2_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BYNDER2_TEST_REDIS_ADDR not set")
	}

	b, err := NewRedisBackend(RedisConfig{Address: addr, Prefix: "bynder2-test:"})
	if err != nil {
		t.Fatalf("NewRedisBackend failed: %v", err)
	}
	defer b.Close()
	ctx := context.Background()
	defer b.Flush(ctx)

	if err := b.Set(ctx, "k", []byte("v"), []string{"gen-1"}, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, err := b.Get(ctx, "k"); err != nil || string(got) != "v" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if err := b.FlushByTags(ctx, "gen-1"); err != nil {
		t.Fatalf("FlushByTags failed: %v", err)
	}
	if _, err := b.Get(ctx, "k"); !errors.Is(err, domain.ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss after flush, got %v", err)
	}

	if err := b.Set(ctx, "brief", []byte("v"), []string{"gen-2"}, 50*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	tags, err := b.Tags(ctx)
	if err != nil {
		t.Fatalf("Tags failed: %v", err)
	}
	for _, tag := range tags {
		if tag == "gen-2" {
			t.Error("tag of an expired entry must not be reported")
		}
	}
	conn := b.pool.Get()
	defer conn.Close()
	if ok, _ := redis.Bool(conn.Do("EXISTS", b.entryTagsKey("brief"))); ok {
		t.Error("entry tag set must expire with its entry")
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		opts    Options
		want    string
		wantErr bool
	}{
		{Options{}, "memory", false},
		{Options{Kind: KindSQLite, Path: filepath.Join(dir, "c.db")}, "sqlite", false},
		{Options{Kind: KindBolt, Path: filepath.Join(dir, "c.bolt")}, "bolt", false},
		{Options{Kind: KindSQLite}, "", true},
		{Options{Kind: KindRedis}, "", true},
		{Options{Kind: "mongo"}, "", true},
	}

	for _, tt := range tests {
		b, err := Open(tt.opts)
		if tt.wantErr {
			if err == nil {
				b.Close()
				t.Errorf("Open(%+v): expected error", tt.opts)
			}
			continue
		}
		if err != nil {
			t.Errorf("Open(%+v) failed: %v", tt.opts, err)
			continue
		}
		if b.Name() != tt.want {
			t.Errorf("Open(%+v).Name() = %s, want %s", tt.opts, b.Name(), tt.want)
		}
		b.Close()
	}
}

func TestOlderGenerations(t *testing.T) {
	tags := []string{
		"gen-1-00000000000000000100",
		"gen-1-00000000000000000300",
		"gen-1-00000000000000000200",
		"gen-2-00000000000000000900",
		"storage-1",
	}
	got := olderGenerations(tags, 1)
	sort.Strings(got)
	want := []string{"gen-1-00000000000000000100", "gen-1-00000000000000000200"}
	if len(got) != len(want) {
		t.Fatalf("olderGenerations = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("olderGenerations[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if got := olderGenerations([]string{"gen-1-00000000000000000100"}, 1); len(got) != 0 {
		t.Errorf("single generation must be kept, got %v", got)
	}
}

func TestNewGeneration_SortsChronologically(t *testing.T) {
	t1 := NewGeneration(3, time.Unix(5, 0))
	t2 := NewGeneration(3, time.Unix(40, 0))
	if !(string(t1) < string(t2)) {
		t.Errorf("expected %s < %s", t1, t2)
	}
}
