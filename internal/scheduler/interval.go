package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jweiland-net/bynder2/internal/logger"
)

// IntervalScheduler triggers synchronizations periodically using time.Ticker
type IntervalScheduler struct {
	config Config
	runner SyncRunner
	log    logger.Logger

	mu          sync.RWMutex
	running     bool
	stopped     bool
	stopOnce    sync.Once
	closeOnce   sync.Once
	stopChan    chan struct{}
	stoppedChan chan struct{}

	stats struct {
		lastRunTime    time.Time
		lastDuration   time.Duration
		nextRunTime    time.Time
		totalRuns      int
		successfulRuns int
		failedRuns     int
		lastError      string
		failedStorages []int
	}
}

// NewIntervalScheduler creates a new interval-based scheduler
func NewIntervalScheduler(config Config, runner SyncRunner, log logger.Logger) (*IntervalScheduler, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", config.Interval)
	}

	if runner == nil {
		return nil, fmt.Errorf("sync runner cannot be nil")
	}

	for _, uid := range config.Storages {
		if uid <= 0 {
			return nil, fmt.Errorf("invalid storage uid %d", uid)
		}
	}

	return &IntervalScheduler{
		config:      config,
		runner:      runner,
		log:         logger.OrNull(log),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}, nil
}

// Start begins the scheduling loop
func (s *IntervalScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	if s.stopped {
		return fmt.Errorf("scheduler cannot be restarted after stop")
	}

	s.running = true
	s.stats.nextRunTime = time.Now().Add(s.config.Interval)
	if s.config.RunOnStart {
		s.stats.nextRunTime = time.Now()
	}

	go s.run(ctx)

	return nil
}

func (s *IntervalScheduler) run(ctx context.Context) {
	defer s.closeOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.running = false
		s.mu.Unlock()
		close(s.stoppedChan)
	})

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.executeSync(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.executeSync(ctx)
		}
	}
}

// executeSync runs one synchronization of every configured storage
func (s *IntervalScheduler) executeSync(ctx context.Context) {
	s.mu.Lock()
	s.stats.lastRunTime = time.Now()
	s.stats.totalRuns++
	s.stats.nextRunTime = time.Now().Add(s.config.Interval)
	s.mu.Unlock()

	storages := s.config.Storages
	if len(storages) == 0 {
		storages = []int{AllStorages}
	}

	start := time.Now()
	var lastErr error
	var failed []int
	for _, uid := range storages {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if err := s.runner.RunSync(ctx, uid); err != nil {
			s.log.Error("Scheduled sync failed", "storage", uid, "error", err)
			lastErr = err
			failed = append(failed, uid)
		}
	}

	s.mu.Lock()
	s.stats.lastDuration = time.Since(start)
	s.stats.failedStorages = failed
	if lastErr != nil {
		s.stats.failedRuns++
		s.stats.lastError = lastErr.Error()
	} else {
		s.stats.successfulRuns++
		s.stats.lastError = ""
	}
	s.mu.Unlock()
}

// Stop gracefully stops the scheduler and waits for a running sync to end
func (s *IntervalScheduler) Stop() error {
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.mu.RUnlock()

	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	<-s.stoppedChan

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	return nil
}

// Status returns the current scheduler status
func (s *IntervalScheduler) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Status{
		Running:        s.running,
		LastRunTime:    s.stats.lastRunTime,
		LastDuration:   s.stats.lastDuration,
		NextRunTime:    s.stats.nextRunTime,
		TotalRuns:      s.stats.totalRuns,
		SuccessfulRuns: s.stats.successfulRuns,
		FailedRuns:     s.stats.failedRuns,
		LastError:      s.stats.lastError,
		FailedStorages: append([]int(nil), s.stats.failedStorages...),
	}
}
