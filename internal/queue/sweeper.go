package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StaleBuildStore is the slice of the store the sweeper needs.
type StaleBuildStore interface {
	SweepStaleBuilds(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically force-finishes builds that exceeded their time
// budget, so crashed workers cannot leave builds stuck in a running
// state forever.
type Sweeper struct {
	scheduler gocron.Scheduler
	store     StaleBuildStore
	budget    time.Duration
	interval  time.Duration
}

// NewSweeper creates the sweeper. budget is the per-build time limit,
// interval how often stale builds are checked for.
func NewSweeper(store StaleBuildStore, budget, interval time.Duration) (*Sweeper, error) {
	if budget <= 0 {
		budget = 2 * time.Hour
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Sweeper{scheduler: s, store: store, budget: budget, interval: interval}, nil
}

// Start registers and launches the periodic sweep.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.sweep, ctx),
		gocron.WithName("stale-build-sweep"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule stale build sweep: %w", err)
	}
	s.scheduler.Start()
	slog.Info("Stale build sweeper started", "budget", s.budget, "interval", s.interval)
	return nil
}

// Stop shuts the scheduler down.
func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.budget)
	n, err := s.store.SweepStaleBuilds(ctx, cutoff)
	if err != nil {
		slog.Error("Stale build sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Warn("Terminated stale builds", "count", n)
	}
}
