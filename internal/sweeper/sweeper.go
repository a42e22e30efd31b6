// Package sweeper removes terminal executions that have aged past their
// retention window, keeping the checkpoint store from growing without bound.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/skein-dev/skein/internal/store"
	"github.com/skein-dev/skein/pkg/schema"
)

// CancelRegistry is the subset of the engine's cancellation registry the
// sweeper needs to drop stale cancel flags for deleted executions.
type CancelRegistry interface {
	ClearCancel(executionID string)
}

// Config controls sweep cadence and retention.
type Config struct {
	// Schedule is a standard 5-field cron expression. Defaults to hourly.
	Schedule string
	// Retention is how long terminal executions are kept after completion.
	// Defaults to 7 days.
	Retention time.Duration
	// BatchSize caps how many executions one sweep deletes per status.
	// Defaults to 500.
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = "0 * * * *"
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	return c
}

// sweptStatuses are the lifecycle states eligible for retention deletion.
// Failed executions are excluded: they stay retryable until an operator
// resolves them.
var sweptStatuses = []schema.ExecutionStatus{
	schema.ExecutionStatusCompleted,
	schema.ExecutionStatusCompletedWithErrors,
	schema.ExecutionStatusCancelled,
}

// Sweeper runs retention sweeps on a cron schedule.
type Sweeper struct {
	cfg      Config
	store    store.CheckpointStore
	cancels  CancelRegistry
	schedule cron.Schedule
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Sweeper. cancels may be nil when no engine shares the
// process.
func New(cfg Config, st store.CheckpointStore, cancels CancelRegistry, logger *slog.Logger) (*Sweeper, error) {
	cfg = cfg.withDefaults()

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", cfg.Schedule, err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cfg:      cfg,
		store:    st,
		cancels:  cancels,
		schedule: sched,
		logger:   logger,
	}, nil
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return fmt.Errorf("sweeper already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx)
	s.logger.Info("sweeper started",
		slog.String("schedule", s.cfg.Schedule),
		slog.Duration("retention", s.cfg.Retention))
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.logger.Error("retention sweep failed", slog.String("error", err.Error()))
			} else if n > 0 {
				s.logger.Info("retention sweep completed", slog.Int("deleted", n))
			}
		}
	}
}

// Sweep deletes terminal executions whose completion timestamp is older than
// the retention window. Returns the number of executions removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.Retention)
	deleted := 0

	for _, status := range sweptStatuses {
		records, err := s.store.ListExecutions(ctx, store.ExecutionFilter{
			Status:          status,
			CompletedBefore: &cutoff,
			Limit:           s.cfg.BatchSize,
		})
		if err != nil {
			return deleted, err
		}

		for _, rec := range records {
			if err := s.store.DeleteExecution(ctx, rec.ExecutionID); err != nil {
				s.logger.Warn("failed to delete expired execution",
					slog.String("execution_id", rec.ExecutionID),
					slog.String("error", err.Error()))
				continue
			}
			if s.cancels != nil {
				s.cancels.ClearCancel(rec.ExecutionID)
			}
			deleted++
		}
	}
	return deleted, nil
}
