// Package reconcile brings the local index of one storage in line with
// the remote listing: unseen assets are created, known ones updated and
// indexed identifiers absent from a complete listing marked missing.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jweiland-net/bynder2/internal/core/diff"
	"github.com/jweiland-net/bynder2/internal/domain"
	"github.com/jweiland-net/bynder2/internal/logger"
	"github.com/jweiland-net/bynder2/internal/metrics"
	"github.com/jweiland-net/bynder2/internal/progress"
	"github.com/jweiland-net/bynder2/internal/remote"
)

// Indexer writes index entries
type Indexer interface {
	CreateEntry(ctx context.Context, storageUID int, asset domain.AssetRecord) error
	UpdateEntry(ctx context.Context, storageUID int, asset domain.AssetRecord) error
	MarkMissing(ctx context.Context, storageUID int, identifier string) error
}

// LocalIndex reads index entries
type LocalIndex interface {
	ListNonMissingIdentifiers(ctx context.Context, storageUID int) ([]string, error)
	CountNonMissing(ctx context.Context, storageUID int) (int, error)
	HasIdentifier(ctx context.Context, storageUID int, identifier string) (bool, error)
}

// State is the phase of a reconciliation run
type State int

const (
	StateIdle State = iota
	StateListing
	StateReconciling
	StateDone
)

func (s State) String() string {
	switch s {
	case StateListing:
		return "listing"
	case StateReconciling:
		return "reconciling"
	case StateDone:
		return "done"
	default:
		return "idle"
	}
}

// Engine reconciles one storage at a time.
type Engine struct {
	indexer Indexer
	local   LocalIndex
	log     logger.Logger
	now     func() time.Time

	mu    sync.Mutex
	state State
}

// New creates an engine writing through indexer and reading local.
func New(indexer Indexer, local LocalIndex, log logger.Logger) *Engine {
	return &Engine{
		indexer: indexer,
		local:   local,
		log:     logger.OrNull(log),
		now:     time.Now,
	}
}

// State returns the phase of the current or last run
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Run reconciles storageUID against the full listing of source. Per-file
// failures are counted and reported, not returned. A truncated listing
// skips the deletion phase.
func (e *Engine) Run(ctx context.Context, storageUID int, source remote.AssetSource, reporter progress.Reporter) (domain.SyncStats, error) {
	if reporter == nil {
		reporter = progress.NullReporter{}
	}
	log := e.log.With("storage", storageUID)
	stats := domain.SyncStats{StorageUID: storageUID, StartTime: e.now()}

	e.setState(StateListing)
	defer e.setState(StateDone)

	existing, err := e.local.ListNonMissingIdentifiers(ctx, storageUID)
	if err != nil {
		return stats, fmt.Errorf("listing indexed files: %w", err)
	}
	known := diff.NewSet(existing...)
	seen := make(diff.Set, len(existing))

	reporter.Start(storageUID, -1)
	seq, probe := source.ListAssets(ctx, 0, 0, domain.DefaultOrdering)

	e.setState(StateReconciling)
	for asset := range seq {
		if ctx.Err() != nil {
			break
		}
		if seen.Has(asset.ID) {
			log.Debug("asset listed twice, skipping", "id", asset.ID)
			continue
		}
		seen.Add(asset.ID)

		action := domain.ActionCreated
		write := e.indexer.CreateEntry
		if known.Has(asset.ID) {
			action = domain.ActionUpdated
			write = e.indexer.UpdateEntry
		}

		if err := write(ctx, storageUID, asset); err != nil {
			stats.Failed++
			log.Error("failed to index file", "id", asset.ID, "action", string(action), "error", err)
			reporter.Error(asset.ID, err)
			continue
		}

		if action == domain.ActionCreated {
			stats.Created++
		} else {
			stats.Updated++
		}
		reporter.File(asset.ID, action)
	}

	if err := ctx.Err(); err != nil {
		stats.EndTime = e.now()
		return stats, err
	}

	if listErr := probe(); listErr != nil {
		stats.Truncated = true
		log.Error("remote listing incomplete, skipping deletion phase",
			"seen", len(seen),
			"indexed", len(existing),
			"error", listErr,
		)
	} else {
		for _, id := range diff.Missing(existing, seen) {
			if err := e.indexer.MarkMissing(ctx, storageUID, id); err != nil {
				stats.Failed++
				log.Error("failed to mark file missing", "id", id, "error", err)
				reporter.Error(id, err)
				continue
			}
			stats.Deleted++
			reporter.File(id, domain.ActionDeleted)
		}
	}

	stats.EndTime = e.now()
	record(stats)
	log.Info("storage synchronized",
		"created", stats.Created,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"failed", stats.Failed,
		"truncated", stats.Truncated,
		"duration", stats.Duration(),
	)
	reporter.Done(stats)
	return stats, nil
}

func record(stats domain.SyncStats) {
	metrics.RecordSyncAction(stats.StorageUID, "created", stats.Created)
	metrics.RecordSyncAction(stats.StorageUID, "updated", stats.Updated)
	metrics.RecordSyncAction(stats.StorageUID, "deleted", stats.Deleted)
	metrics.RecordSyncAction(stats.StorageUID, "failed", stats.Failed)
	metrics.RecordSyncRun(stats.StorageUID, stats.Duration(), !stats.Truncated, stats.EndTime)
}
