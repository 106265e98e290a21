package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/fileworks/previewd/internal/metrics"
	"github.com/fileworks/previewd/internal/queue"
	"github.com/fileworks/previewd/internal/sandbox"
)

// Scheduler wraps gocron for the daemon's periodic maintenance: stale-job
// reclaim, volume sweep and queue stats.
type Scheduler struct {
	scheduler gocron.Scheduler
}

// NewScheduler creates a scheduler instance.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

// Schedule registers a named periodic task.
func (s *Scheduler) Schedule(name string, interval time.Duration, task func()) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Start begins running scheduled tasks.
func (s *Scheduler) Start() {
	slog.Info("starting maintenance scheduler")
	s.scheduler.Start()
}

// Stop gracefully shuts the scheduler down.
func (s *Scheduler) Stop() error {
	slog.Info("stopping maintenance scheduler")
	return s.scheduler.Shutdown()
}

// ScheduleMaintenance wires the standard previewd maintenance jobs. The
// reclaim and sweep intervals derive from the stale threshold so leftovers
// are collected within one threshold of appearing.
func (s *Scheduler) ScheduleMaintenance(d *Daemon, recorder metrics.Recorder) error {
	interval := d.cfg.Queue.StaleThreshold / 2
	if interval < time.Minute {
		interval = time.Minute
	}

	if err := s.Schedule("reclaim-stale-jobs", interval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := d.manager.ReclaimStale(ctx, d.cfg.Queue.StaleThreshold); err != nil {
			slog.Error("periodic reclaim failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return err
	}

	if err := s.Schedule("sweep-stale-volumes", interval, func() {
		if _, err := sandbox.SweepStale(d.cfg.Sandbox.VolumeRoot, d.cfg.Queue.StaleThreshold); err != nil {
			slog.Error("periodic volume sweep failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return err
	}

	return s.Schedule("queue-stats", time.Minute, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		stats, err := d.manager.Stats(ctx)
		if err != nil {
			slog.Error("queue stats failed", slog.String("error", err.Error()))
			return
		}
		recorder.SetQueueDepth(stats.Pending)
		logStats(stats)
	})
}

func logStats(stats queue.Stats) {
	slog.Info("queue stats",
		slog.Int("pending", stats.Pending),
		slog.Int("processing", stats.Processing),
		slog.Int("completed", stats.Completed),
		slog.Int("failed", stats.Failed))
}
