package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jweiland-net/bynder2/internal/cache"
	"github.com/jweiland-net/bynder2/internal/config"
	"github.com/jweiland-net/bynder2/internal/domain"
	"github.com/jweiland-net/bynder2/internal/index"
	"github.com/jweiland-net/bynder2/internal/lock"
	"github.com/jweiland-net/bynder2/internal/progress"
	"github.com/jweiland-net/bynder2/internal/remote"
	"github.com/jweiland-net/bynder2/internal/retry"
	"github.com/jweiland-net/bynder2/internal/state"
	"github.com/jweiland-net/bynder2/internal/testutil"
)

type fixture struct {
	cfg    *config.Config
	server *testutil.BynderServer
	index  *index.DB
	cache  *cache.Cache
	state  *state.Manager
	svc    *SyncService
}

// newFixture wires a service against one fake library serving storage 1.
func newFixture(t *testing.T, assets []map[string]any, storages ...config.StorageConfig) *fixture {
	t.Helper()
	dir := t.TempDir()

	if len(storages) == 0 {
		storages = []config.StorageConfig{{UID: 1, Name: "Marketing", URL: "example.bynder.com", PermanentToken: "tok"}}
	}
	f := &fixture{
		cfg:    &config.Config{DataDir: dir, Storages: storages},
		server: testutil.NewBynderServer(t, assets),
	}

	var err error
	f.index, err = index.Open(filepath.Join(dir, index.DefaultFileName), nil)
	if err != nil {
		t.Fatalf("Failed to open index: %v", err)
	}
	t.Cleanup(func() { f.index.Close() })

	f.state, err = state.NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to create state manager: %v", err)
	}
	t.Cleanup(func() { f.state.Close() })

	backend, err := cache.NewMemoryBackend()
	if err != nil {
		t.Fatal(err)
	}
	f.cache = cache.New(backend, nil)

	f.svc = f.newService(t, f.index)
	return f
}

func (f *fixture) newService(t *testing.T, idx Index) *SyncService {
	t.Helper()
	svc, err := NewSyncService(f.cfg, Options{
		Index: idx,
		Cache: f.cache,
		State: f.state,
		OpenSource: func(ctx context.Context, storage domain.Storage) (remote.AssetSource, error) {
			return remote.NewClient(f.server.URL, remote.Options{Retry: retry.NoRetry()})
		},
	})
	if err != nil {
		t.Fatalf("Failed to create sync service: %v", err)
	}
	return svc
}

func TestNewSyncService_Validation(t *testing.T) {
	if _, err := NewSyncService(nil, Options{}); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewSyncService(&config.Config{}, Options{}); err == nil {
		t.Error("expected error for nil index")
	}
}

func TestSyncAll_CreatesThenDeletes(t *testing.T) {
	f := newFixture(t, testutil.MakeAssets(3))
	ctx := context.Background()

	summary, err := f.svc.SyncAll(ctx)
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if len(summary.Storages) != 1 {
		t.Fatalf("expected 1 storage result, got %d", len(summary.Storages))
	}
	if got := summary.Storages[0].Stats; got.Created != 3 || got.Deleted != 0 {
		t.Errorf("unexpected first run stats: %+v", got)
	}
	if summary.Err() != nil {
		t.Errorf("unexpected storage error: %v", summary.Err())
	}

	f.server.SetAssets(testutil.MakeAssets(2))
	summary, err = f.svc.SyncAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := summary.Storages[0].Stats; got.Updated != 2 || got.Deleted != 1 {
		t.Errorf("unexpected second run stats: %+v", got)
	}

	if n, _ := f.index.CountNonMissing(ctx, 1); n != 2 {
		t.Errorf("expected 2 indexed files, got %d", n)
	}
	if ok, _ := f.index.HasIdentifier(ctx, 1, "asset-0003"); !ok {
		t.Error("the deleted file should remain as a missing row")
	}

	history, err := f.state.GetHistory(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].Status != state.StatusSuccess || history[0].Deleted != 1 {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestSyncAll_TruncatedListing(t *testing.T) {
	f := newFixture(t, testutil.MakeAssets(600))
	ctx := context.Background()

	if _, err := f.svc.SyncAll(ctx); err != nil {
		t.Fatal(err)
	}

	f.server.FailPage(2)
	summary, err := f.svc.SyncAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	stats := summary.Storages[0].Stats
	if !stats.Truncated || stats.Deleted != 0 || stats.Updated != remote.MaxPageSize {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if n, _ := f.index.CountNonMissing(ctx, 1); n != 600 {
		t.Errorf("truncated listing must not delete, have %d", n)
	}

	last, _ := f.state.GetHistory(1, 1)
	if len(last) != 1 || last[0].Status != state.StatusPartial || !last[0].Truncated {
		t.Errorf("expected a partial run record, got %+v", last)
	}
}

func TestSyncAll_SkipsInvalidStorage(t *testing.T) {
	f := newFixture(t, testutil.MakeAssets(1),
		config.StorageConfig{UID: 1, URL: "broken.bynder.com"},
		config.StorageConfig{UID: 2, URL: "example.bynder.com", PermanentToken: "tok"},
	)

	summary, err := f.svc.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("an invalid storage must not fail the run: %v", err)
	}
	if len(summary.Storages) != 2 {
		t.Fatalf("expected 2 results, got %d", len(summary.Storages))
	}

	broken := summary.Storages[0]
	if !broken.Skipped || !errors.Is(broken.Err, domain.ErrMissingCredentials) {
		t.Errorf("storage 1 should be skipped: %+v", broken)
	}
	if ok := summary.Storages[1]; ok.Err != nil || ok.Stats.Created != 1 {
		t.Errorf("storage 2 should sync: %+v", ok)
	}
	if summary.Err() == nil {
		t.Error("summary should carry the skipped storage error")
	}
}

func TestSyncAll_NoStorages(t *testing.T) {
	f := newFixture(t, nil)
	f.cfg.Storages = nil

	summary, err := f.svc.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if len(summary.Storages) != 0 {
		t.Errorf("expected no results, got %+v", summary.Storages)
	}
}

// legacyIndex fails the schema check.
type legacyIndex struct {
	*index.DB
}

func (legacyIndex) CheckSchema(context.Context) error {
	return fmt.Errorf("%w: column sys_file.size is INTEGER", domain.ErrSchemaPrecondition)
}

func TestSyncAll_SchemaPrecondition(t *testing.T) {
	f := newFixture(t, testutil.MakeAssets(2))
	svc := f.newService(t, legacyIndex{f.index})

	_, err := svc.SyncAll(context.Background())
	if !errors.Is(err, domain.ErrSchemaPrecondition) {
		t.Fatalf("expected ErrSchemaPrecondition, got %v", err)
	}
	if calls := f.server.ListCalls(); len(calls) != 0 {
		t.Errorf("no remote call may happen before the schema check passes, got %d", len(calls))
	}
}

func TestSyncStorage_LockHeld(t *testing.T) {
	f := newFixture(t, testutil.MakeAssets(1))

	held, err := lock.NewFileLock(f.cfg.DataDir, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := held.Acquire("serve"); err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	storage, _ := f.cfg.GetStorage(1)
	result := f.svc.SyncStorage(context.Background(), storage)
	if !errors.Is(result.Err, domain.ErrSyncInProgress) {
		t.Errorf("expected ErrSyncInProgress, got %v", result.Err)
	}
}

func TestSyncStorage_FlushesCache(t *testing.T) {
	f := newFixture(t, testutil.MakeAssets(1))
	ctx := context.Background()

	items := cache.NewItemCache(f.cache, time.Hour)
	items.Put(ctx, 1, domain.AssetRecord{ID: "stale"}, cache.NewGeneration(1, time.Now()))
	items.Put(ctx, 2, domain.AssetRecord{ID: "other"}, cache.NewGeneration(2, time.Now()))

	if err := f.svc.RunSync(ctx, 1); err != nil {
		t.Fatalf("RunSync failed: %v", err)
	}
	if items.Has(ctx, 1, "stale") {
		t.Error("cache of the synchronized storage should be flushed")
	}
	if !items.Has(ctx, 2, "other") {
		t.Error("cache of other storages must survive")
	}
}

func TestRunSync_UnknownStorage(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.svc.RunSync(context.Background(), 42); !errors.Is(err, domain.ErrStorageNotFound) {
		t.Errorf("expected ErrStorageNotFound, got %v", err)
	}
}

func TestSyncAll_ReporterLines(t *testing.T) {
	f := newFixture(t, testutil.MakeAssets(2))
	var buf bytes.Buffer
	f.svc.SetProgressReporter(progress.NewLineReporter(&buf))

	if _, err := f.svc.SyncAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{
		"Start synchronizing files of storage with UID: 1",
		progress.FormatLine("asset-0001", "Created"),
		progress.FormatLine("asset-0002", "Created"),
		"We have synchronized 2 and deleted 0 files.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
