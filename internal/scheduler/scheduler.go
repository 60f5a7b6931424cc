package scheduler

import (
	"context"
	"time"
)

// AllStorages asks the runner to synchronize every configured storage
const AllStorages = 0

// Scheduler defines the interface for sync schedulers
type Scheduler interface {
	// Start begins the scheduling loop
	Start(ctx context.Context) error

	// Stop gracefully stops the scheduler
	Stop() error

	// Status returns the current scheduler status
	Status() *Status
}

// Status represents the current state of a scheduler
type Status struct {
	Running        bool
	LastRunTime    time.Time
	LastDuration   time.Duration
	NextRunTime    time.Time
	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int
	LastError      string
	// FailedStorages lists the storages that failed in the last run
	FailedStorages []int
}

// Config contains scheduler configuration
type Config struct {
	// Interval specifies the duration between sync runs
	Interval time.Duration

	// Storages lists the storage UIDs to synchronize (empty = all)
	Storages []int

	// RunOnStart triggers one run as soon as the scheduler starts
	RunOnStart bool
}

// SyncRunner is the interface that schedulers use to execute sync operations
type SyncRunner interface {
	// RunSync synchronizes one storage, or all of them for AllStorages
	RunSync(ctx context.Context, storageUID int) error
}
