// Package scheduler drives the hourly sync-and-aggregate pipeline across
// all known users.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/daviidltp/looped/internal/db"
	"github.com/daviidltp/looped/internal/stats"
	syncsvc "github.com/daviidltp/looped/internal/sync"
)

// UserStore lists the users the scheduler iterates.
type UserStore interface {
	List(ctx context.Context) ([]db.User, error)
}

// Syncer runs the per-user fetch-and-ingest pipeline.
type Syncer interface {
	SyncRecent(ctx context.Context, user *db.User) (syncsvc.Result, error)
}

// Aggregator writes the roll-up for a completed window.
type Aggregator interface {
	Generate(ctx context.Context, userID string, start, end time.Time, periodType string) (int, error)
}

// Scheduler fires the aggregation pipeline once per interval. It is owned
// and started by the process's top-level lifecycle and can be fired
// manually with RunOnce, which tests use in place of the ticker.
type Scheduler struct {
	users    UserStore
	syncer   Syncer
	stats    Aggregator
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time

	// runMu guarantees at most one concurrent firing: a firing that would
	// overlap a still-running one is skipped, not queued.
	runMu sync.Mutex

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a scheduler firing every interval.
func New(users UserStore, syncer Syncer, aggregator Aggregator, interval time.Duration, log zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		users:    users,
		syncer:   syncer,
		stats:    aggregator,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the periodic worker.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})

	s.wg.Add(1)
	go s.run()

	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	return nil
}

// Stop halts the worker. The in-flight per-user unit, if any, finishes
// before Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopChan:
			return
		}
	}
}

// RunOnce executes one firing: for every known user, ensure credentials,
// fetch, ingest, then roll up the window [now - interval, now). A failure
// for one user is logged and the batch continues. Returns how many users
// were fully processed out of the total. If a previous firing is still in
// progress, this one is skipped and reports 0 of 0.
func (s *Scheduler) RunOnce(ctx context.Context) (processed, total int) {
	if !s.runMu.TryLock() {
		s.log.Warn().Msg("previous firing still running, skipping this one")
		return 0, 0
	}
	defer s.runMu.Unlock()

	end := s.now().UTC()
	start := end.Add(-s.interval)

	users, err := s.users.List(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("listing users failed, firing aborted")
		return 0, 0
	}

	for _, user := range users {
		select {
		case <-s.stopChanOrNil():
			s.log.Info().Int("processed", processed).Int("total", len(users)).Msg("shutdown requested, firing cut short")
			return processed, len(users)
		default:
		}

		if s.processUser(ctx, user, start, end) {
			processed++
		}
	}

	s.log.Info().
		Int("processed", processed).
		Int("total", len(users)).
		Time("window_start", start).
		Time("window_end", end).
		Msg("firing completed")
	return processed, len(users)
}

// processUser runs one user's pipeline, containing any failure so the batch
// continues.
func (s *Scheduler) processUser(ctx context.Context, user db.User, start, end time.Time) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("user_id", user.ID).Any("panic", r).Msg("user processing panicked")
			ok = false
		}
	}()

	if _, err := s.syncer.SyncRecent(ctx, &user); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("sync failed, user skipped this cycle")
		return false
	}

	if _, err := s.stats.Generate(ctx, user.ID, start, end, stats.PeriodHourly); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("rollup generation failed")
		return false
	}
	return true
}

// stopChanOrNil returns the stop channel, or a nil channel (never ready)
// when the scheduler was fired manually without Start.
func (s *Scheduler) stopChanOrNil() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopChan
}
