package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jweiland-net/bynder2/internal/logger"
	"github.com/jweiland-net/bynder2/internal/scheduler"
	"github.com/jweiland-net/bynder2/internal/state"
)

// DaemonService runs scheduled synchronizations next to the gateway
type DaemonService struct {
	mu        sync.RWMutex
	syncSvc   *SyncService
	stateMgr  *state.Manager
	scheduler scheduler.Scheduler
	log       logger.Logger
}

// DaemonStatus represents the current daemon status
type DaemonStatus struct {
	Running        bool
	EngineState    string
	SchedulerStats *scheduler.Status
	LastRun        *state.RunRecord
}

// NewDaemonService creates a daemon driving syncSvc. stateMgr is optional
// and only used for status reporting.
func NewDaemonService(syncSvc *SyncService, stateMgr *state.Manager, log logger.Logger) (*DaemonService, error) {
	if syncSvc == nil {
		return nil, fmt.Errorf("sync service cannot be nil")
	}

	return &DaemonService{
		syncSvc:  syncSvc,
		stateMgr: stateMgr,
		log:      logger.OrNull(log),
	}, nil
}

// Start schedules a synchronization of storages every interval. Empty
// storages means all configured storages. The first run starts at once.
func (d *DaemonService) Start(ctx context.Context, interval time.Duration, storages ...int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.scheduler != nil {
		return fmt.Errorf("daemon is already running")
	}

	sched, err := scheduler.NewIntervalScheduler(scheduler.Config{
		Interval:   interval,
		Storages:   storages,
		RunOnStart: true,
	}, d.syncSvc, d.log)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	d.scheduler = sched

	d.log.Info("Scheduled synchronization started", "interval", interval, "storages", storages)
	return nil
}

// Stop stops the daemon after a running synchronization finished
func (d *DaemonService) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.scheduler == nil {
		return fmt.Errorf("daemon is not running")
	}

	if err := d.scheduler.Stop(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}

	d.scheduler = nil
	d.log.Info("Scheduled synchronization stopped")
	return nil
}

// Status returns the current daemon status
func (d *DaemonService) Status() *DaemonStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := &DaemonStatus{
		Running:     d.scheduler != nil,
		EngineState: d.syncSvc.EngineState().String(),
	}

	if d.scheduler != nil {
		status.SchedulerStats = d.scheduler.Status()
	}

	if d.stateMgr != nil {
		history, err := d.stateMgr.GetAllHistory(1)
		if err == nil && len(history) > 0 {
			status.LastRun = &history[0]
		}
	}

	return status
}

// Close stops a running scheduler. The collaborators stay open; they are
// owned by the caller.
func (d *DaemonService) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.scheduler == nil {
		return nil
	}
	err := d.scheduler.Stop()
	d.scheduler = nil
	return err
}
