package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Robinemad1/EEETrading/internal/cache"
	"github.com/Robinemad1/EEETrading/internal/model"
)

const (
	// DefaultSyncInterval is the wall-clock cadence of scheduled passes.
	DefaultSyncInterval = time.Hour

	// DefaultSyncDebounce is the quiet period after local changes.
	DefaultSyncDebounce = 5 * time.Minute

	passLockKey = "sync:pass"
	passLockTTL = 15 * time.Minute
)

// PassRunner runs one reconciliation pass.
type PassRunner interface {
	Reconcile(ctx context.Context, trigger model.SyncTrigger, itemIDs []int64) (*model.SyncOutcome, error)
}

// SchedulerConfig holds configuration for the sync scheduler.
type SchedulerConfig struct {
	// Interval aligns scheduled passes to wall-clock multiples, e.g. the
	// top of every hour.
	Interval time.Duration

	// Debounce is how long local changes must be quiet before a pass.
	Debounce time.Duration

	// Enabled turns the timer and change triggers on. Manual passes work
	// either way.
	Enabled bool
}

// SyncScheduler funnels the interval timer, the debounced change signal and
// manual requests into one guarded execution path. At most one pass runs at
// a time; a request made while one is running is dropped and reported as
// skipped.
type SyncScheduler struct {
	runner    PassRunner
	locker    cache.Locker
	debouncer *Debouncer
	config    SchedulerConfig
	logger    *slog.Logger

	running atomic.Bool
	passes  atomic.Int64
	skipped atomic.Int64

	mu        sync.Mutex
	lastPass  *model.SyncOutcome
	lastError string
	nextRun   time.Time
	started   bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	nowFunc func() time.Time
}

// NewSyncScheduler creates a scheduler. locker may be nil; when set, passes
// are also exclusive across processes sharing it.
func NewSyncScheduler(runner PassRunner, locker cache.Locker, config SchedulerConfig, logger *slog.Logger) *SyncScheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultSyncInterval
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultSyncDebounce
	}

	return &SyncScheduler{
		runner:    runner,
		locker:    locker,
		debouncer: NewDebouncer(config.Debounce),
		config:    config,
		logger:    logger,
		stopCh:    make(chan struct{}),
		nowFunc:   time.Now,
	}
}

// Start begins the timer and change triggers. It is a no-op when the
// scheduler is disabled or already started.
func (s *SyncScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || !s.config.Enabled {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)

	s.logger.Info("sync scheduler started",
		slog.Duration("interval", s.config.Interval),
		slog.Duration("debounce", s.config.Debounce),
	)

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		select {
		case <-s.stopCh:
		case <-ctx.Done():
		}
		cancel()
	}()
	go func() {
		defer s.wg.Done()
		s.runTimer(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.debouncer.Run(ctx, func() {
			s.RunPass(ctx, model.TriggerChange, nil)
		})
	}()
}

// runTimer fires a pass at every wall-clock multiple of the interval.
func (s *SyncScheduler) runTimer(ctx context.Context) {
	for {
		now := s.nowFunc()
		next := s.nextAfter(now)

		s.mu.Lock()
		s.nextRun = next
		s.mu.Unlock()

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("sync scheduler stopped")
			return
		case <-timer.C:
			s.RunPass(ctx, model.TriggerTimer, nil)
		}
	}
}

// nextAfter returns the next interval boundary strictly after now.
func (s *SyncScheduler) nextAfter(now time.Time) time.Time {
	return now.Truncate(s.config.Interval).Add(s.config.Interval)
}

// Stop stops the triggers and waits for the background goroutines. A pass
// in progress finishes first.
func (s *SyncScheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

// NotifyChange records a local mutation for the debounced trigger.
func (s *SyncScheduler) NotifyChange() {
	s.debouncer.Signal()
}

// TriggerNow runs a manual pass over itemIDs, or every item when empty.
func (s *SyncScheduler) TriggerNow(ctx context.Context, itemIDs []int64) (*model.SyncOutcome, error) {
	return s.RunPass(ctx, model.TriggerManual, itemIDs)
}

// RunPass runs a pass unless one is already running, in which case it
// returns a skipped outcome without side effects.
func (s *SyncScheduler) RunPass(ctx context.Context, trigger model.SyncTrigger, itemIDs []int64) (*model.SyncOutcome, error) {
	if !s.running.CompareAndSwap(false, true) {
		return s.skip(trigger, "pass already running"), nil
	}
	defer s.running.Store(false)

	if s.locker != nil {
		lock, err := s.locker.TryLock(ctx, passLockKey, passLockTTL)
		if errors.Is(err, cache.ErrLockHeld) {
			return s.skip(trigger, "pass running on another instance"), nil
		}
		if err != nil {
			s.recordPass(nil, err)
			return nil, err
		}
		defer func() {
			if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("releasing sync pass lock", slog.String("error", err.Error()))
			}
		}()
	}

	outcome, err := s.runner.Reconcile(ctx, trigger, itemIDs)
	s.recordPass(outcome, err)
	if err != nil {
		s.logger.Error("reconciliation pass failed",
			slog.String("trigger", string(trigger)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return outcome, nil
}

func (s *SyncScheduler) skip(trigger model.SyncTrigger, reason string) *model.SyncOutcome {
	s.skipped.Add(1)
	s.logger.Info("sync pass skipped",
		slog.String("trigger", string(trigger)),
		slog.String("reason", reason),
	)

	now := s.nowFunc().UTC()
	return &model.SyncOutcome{
		Trigger:    trigger,
		StartedAt:  now,
		FinishedAt: now,
		Skipped:    true,
		Results:    []model.ItemResult{},
	}
}

func (s *SyncScheduler) recordPass(outcome *model.SyncOutcome, err error) {
	s.passes.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if outcome != nil {
		s.lastPass = outcome
	}
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
}

// IsRunning reports whether a pass is executing in this process.
func (s *SyncScheduler) IsRunning() bool {
	return s.running.Load()
}

// Status reports the scheduler state.
func (s *SyncScheduler) Status() model.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := model.SchedulerStatus{
		Enabled:       s.config.Enabled,
		Running:       s.running.Load(),
		Interval:      s.config.Interval.String(),
		Debounce:      s.config.Debounce.String(),
		LastError:     s.lastError,
		PassesRun:     s.passes.Load(),
		PassesSkipped: s.skipped.Load(),
	}
	if !s.nextRun.IsZero() {
		next := s.nextRun
		st.NextRun = &next
	}
	if p := s.lastPass; p != nil {
		started, finished := p.StartedAt, p.FinishedAt
		st.LastTrigger = p.Trigger
		st.LastStartedAt = &started
		st.LastFinishedAt = &finished
		st.LastSucceeded = p.Succeeded()
		st.LastFailed = p.Failed()
	}
	return st
}
