package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jweiland-net/bynder2/internal/cache"
	"github.com/jweiland-net/bynder2/internal/config"
	"github.com/jweiland-net/bynder2/internal/core/reconcile"
	"github.com/jweiland-net/bynder2/internal/domain"
	"github.com/jweiland-net/bynder2/internal/lock"
	"github.com/jweiland-net/bynder2/internal/logger"
	"github.com/jweiland-net/bynder2/internal/progress"
	"github.com/jweiland-net/bynder2/internal/remote"
	"github.com/jweiland-net/bynder2/internal/scheduler"
	"github.com/jweiland-net/bynder2/internal/state"
)

// Index is the local file index the sync writes to
type Index interface {
	reconcile.Indexer
	reconcile.LocalIndex
	CheckSchema(ctx context.Context) error
}

// SourceFactory opens the asset source of one storage
type SourceFactory func(ctx context.Context, storage domain.Storage) (remote.AssetSource, error)

// RemoteSourceFactory returns a factory building authorized API clients
// with the timeouts and retry settings of cfg.
func RemoteSourceFactory(cfg *config.Config, log logger.Logger) SourceFactory {
	return func(ctx context.Context, storage domain.Storage) (remote.AssetSource, error) {
		return remote.Open(ctx, storage, cfg.DataDir, remote.Options{
			HTTPClient: remote.NewHTTPClient(cfg.HTTP.ConnectTimeout, cfg.HTTP.Timeout, nil),
			Retry:      cfg.RetryConfig(),
			Logger:     log,
		})
	}
}

// Options carries the collaborators of a SyncService
type Options struct {
	Index Index
	// Cache is flushed for a storage after a complete sync. Optional.
	Cache *cache.Cache
	// State records every storage run. Optional.
	State *state.Manager
	// OpenSource defaults to RemoteSourceFactory.
	OpenSource SourceFactory
	Logger     logger.Logger
}

// StorageResult is the outcome of one storage within a run
type StorageResult struct {
	StorageUID int
	Stats      domain.SyncStats
	// Skipped is set when no client could be created for the storage
	Skipped bool
	Err     error
}

// Summary is the outcome of a run over all storages
type Summary struct {
	Storages  []StorageResult
	StartTime time.Time
	EndTime   time.Time
}

// Duration returns the wall time of the run
func (s *Summary) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Err joins the errors of every storage
func (s *Summary) Err() error {
	var errs []error
	for _, r := range s.Storages {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("storage %d: %w", r.StorageUID, r.Err))
		}
	}
	return errors.Join(errs...)
}

// SyncService orchestrates the synchronization of configured storages
type SyncService struct {
	config   *config.Config
	index    Index
	cache    *cache.Cache
	state    *state.Manager
	engine   *reconcile.Engine
	open     SourceFactory
	reporter progress.Reporter
	log      logger.Logger
}

// NewSyncService creates a new sync service
func NewSyncService(cfg *config.Config, opts Options) (*SyncService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if opts.Index == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}

	log := logger.OrNull(opts.Logger)
	open := opts.OpenSource
	if open == nil {
		open = RemoteSourceFactory(cfg, log)
	}

	return &SyncService{
		config: cfg,
		index:  opts.Index,
		cache:  opts.Cache,
		state:  opts.State,
		engine: reconcile.New(opts.Index, opts.Index, log),
		open:   open,
		log:    log,
	}, nil
}

// SetProgressReporter sets the progress reporter for sync operations
func (s *SyncService) SetProgressReporter(reporter progress.Reporter) {
	s.reporter = reporter
}

func (s *SyncService) getReporter() progress.Reporter {
	if s.reporter != nil {
		return s.reporter
	}
	return progress.NullReporter{}
}

// EngineState returns the phase of the current or last storage run
func (s *SyncService) EngineState() reconcile.State {
	return s.engine.State()
}

// CheckEnvironment verifies the index schema. A failure stops the whole run.
func (s *SyncService) CheckEnvironment(ctx context.Context) error {
	if err := s.index.CheckSchema(ctx); err != nil {
		s.log.Warn("Index schema incomplete, stopped synchronization", "error", err)
		return err
	}
	return nil
}

// SyncAll synchronizes every configured storage, one after another.
// Storage failures are collected in the summary; only a failed schema
// check is returned as an error.
func (s *SyncService) SyncAll(ctx context.Context) (*Summary, error) {
	summary := &Summary{StartTime: time.Now()}

	if err := s.CheckEnvironment(ctx); err != nil {
		return nil, err
	}

	if len(s.config.Storages) == 0 {
		s.log.Warn("No bynder storages found.")
	}

	for _, sc := range s.config.Storages {
		if err := ctx.Err(); err != nil {
			summary.EndTime = time.Now()
			return summary, err
		}

		storage, err := sc.Resolve()
		if err != nil {
			s.log.Error("Could not create Bynder client because of invalid configuration", "storage", sc.UID, "error", err)
			summary.Storages = append(summary.Storages, StorageResult{StorageUID: sc.UID, Skipped: true, Err: err})
			continue
		}

		summary.Storages = append(summary.Storages, s.SyncStorage(ctx, storage))
	}

	summary.EndTime = time.Now()
	s.log.Info("All files of all bynder storages have been synchronized", "duration", summary.Duration())
	return summary, nil
}

// SyncStorage synchronizes one storage under its lock and records the run.
func (s *SyncService) SyncStorage(ctx context.Context, storage domain.Storage) StorageResult {
	result := StorageResult{StorageUID: storage.UID}
	log := s.log.With("storage", storage.UID)

	fileLock, err := lock.NewFileLock(s.config.DataDir, storage.UID)
	if err != nil {
		result.Err = fmt.Errorf("failed to create file lock: %w", err)
		return result
	}
	if err := fileLock.Acquire("sync"); err != nil {
		log.Error("failed to acquire sync lock", "error", err)
		result.Err = err
		return result
	}
	defer func() {
		if err := fileLock.Release(); err != nil {
			log.Error("failed to release sync lock", "error", err)
		}
	}()

	source, err := s.open(ctx, storage)
	if err != nil {
		log.Error("Could not create Bynder client because of invalid configuration", "error", err)
		result.Skipped = true
		result.Err = err
		return result
	}

	stats, runErr := s.engine.Run(ctx, storage.UID, source, s.getReporter())
	result.Stats = stats
	result.Err = runErr

	if s.state != nil {
		if err := s.state.SaveRun(state.RecordFromStats(stats, runErr)); err != nil {
			log.Error("failed to save run record", "error", err)
		}
	}

	// Cached listings describe the library before this run
	if runErr == nil && !stats.Truncated && s.cache != nil {
		if err := s.cache.FlushStorage(ctx, storage.UID); err != nil {
			log.Warn("failed to flush storage cache", "error", err)
		}
	}

	return result
}

// RunSync implements scheduler.SyncRunner
func (s *SyncService) RunSync(ctx context.Context, storageUID int) error {
	if storageUID == scheduler.AllStorages {
		summary, err := s.SyncAll(ctx)
		if err != nil {
			return err
		}
		return summary.Err()
	}

	if err := s.CheckEnvironment(ctx); err != nil {
		return err
	}
	storage, err := s.config.GetStorage(storageUID)
	if err != nil {
		return err
	}
	return s.SyncStorage(ctx, storage).Err
}
