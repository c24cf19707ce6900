// Package scheduler runs periodic maintenance jobs — idempotency cache
// sweep, equity snapshots, stale bracket reconciliation, the daily risk
// reset — under a priority class so a slow low-priority job
// never starves a high-priority one. Cron expressions schedule
// the jobs; the pool that actually executes them is sized per class,
// the same pattern the order cleanup loop used for its own ticker-driven
// maintenance pass.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bitfinex-trader/internal/core"
	"bitfinex-trader/pkg/concurrency"

	"github.com/robfig/cron/v3"
)

// Priority names a job's execution class. Each class gets its own
// worker pool so a backlog in one never delays another.
type Priority string

const (
	PriorityHigh Priority = "high"
	PriorityLow  Priority = "low"
)

type intervalJob struct {
	name     string
	interval time.Duration
	priority Priority
	fn       func(ctx context.Context) error
}

// Scheduler wires robfig/cron entries to per-priority worker pools.
type Scheduler struct {
	cron   *cron.Cron
	logger core.ILogger

	pools map[Priority]*concurrency.WorkerPool

	mu        sync.Mutex
	intervals []intervalJob

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Scheduler. It does not start running until Run is
// called.
func New(logger core.ILogger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		logger: logger.WithField("component", "scheduler"),
		pools: map[Priority]*concurrency.WorkerPool{
			PriorityHigh: concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "scheduler-high", MaxWorkers: 4, MaxCapacity: 16}, logger),
			PriorityLow:  concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "scheduler-low", MaxWorkers: 1, MaxCapacity: 8}, logger),
		},
	}
}

// RegisterCron registers fn to run on the given cron schedule under
// priority. Satisfies the scheduling half of core.IScheduler; use
// RegisterJob for a fixed-interval job instead of a cron expression.
func (s *Scheduler) RegisterCron(name, schedule string, priority Priority, fn func(ctx context.Context) error) error {
	pool, ok := s.pools[priority]
	if !ok {
		return fmt.Errorf("scheduler: unknown priority class %q", priority)
	}

	_, err := s.cron.AddFunc(schedule, func() {
		s.dispatch(pool, name, fn)
	})
	if err != nil {
		return fmt.Errorf("scheduler: register %q: %w", name, err)
	}
	return nil
}

// defaultJobInterval is how often a job registered through the generic
// core.IScheduler.RegisterJob contract runs, since that interface has no
// room for a schedule expression. Callers that need a specific cadence
// or cron expression should use RegisterInterval or RegisterCron on the
// concrete Scheduler instead.
const defaultJobInterval = time.Minute

// RegisterJob registers fn to run every defaultJobInterval under
// priority, satisfying core.IScheduler's RegisterJob(name, priority, fn)
// shape where priority is passed as a plain string ("high"/"low").
func (s *Scheduler) RegisterJob(name string, priority string, fn func(ctx context.Context) error) error {
	return s.RegisterInterval(name, defaultJobInterval, Priority(priority), fn)
}

// RegisterInterval schedules fn to run every d, dispatched onto
// priority's pool. The ticker only starts once Run is called, so
// registrations made before startup are never lost.
func (s *Scheduler) RegisterInterval(name string, d time.Duration, priority Priority, fn func(ctx context.Context) error) error {
	if _, ok := s.pools[priority]; !ok {
		return fmt.Errorf("scheduler: unknown priority class %q", priority)
	}

	s.mu.Lock()
	s.intervals = append(s.intervals, intervalJob{name: name, interval: d, priority: priority, fn: fn})
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) runInterval(ij intervalJob) {
	pool := s.pools[ij.priority]
	ticker := time.NewTicker(ij.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(pool, ij.name, ij.fn)
		}
	}
}

func (s *Scheduler) dispatch(pool *concurrency.WorkerPool, name string, fn func(ctx context.Context) error) {
	_ = pool.Submit(func() {
		ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Error("scheduled job failed", "job", name, "error", err)
		}
	})
}

// Run starts the cron scheduler and every registered interval job, and
// blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()

	s.mu.Lock()
	intervals := append([]intervalJob(nil), s.intervals...)
	s.mu.Unlock()
	for _, ij := range intervals {
		go s.runInterval(ij)
	}

	<-ctx.Done()

	s.cancel()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	for _, pool := range s.pools {
		pool.Stop()
	}
	return ctx.Err()
}

var _ core.IScheduler = (*Scheduler)(nil)
