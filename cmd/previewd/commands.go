package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fileworks/previewd/internal/audit"
	"github.com/fileworks/previewd/internal/config"
	"github.com/fileworks/previewd/internal/daemon"
	"github.com/fileworks/previewd/internal/events"
	"github.com/fileworks/previewd/internal/metrics"
	"github.com/fileworks/previewd/internal/orchestrator"
	"github.com/fileworks/previewd/internal/queue"
	"github.com/fileworks/previewd/internal/retry"
	"github.com/fileworks/previewd/internal/sandbox"
	"github.com/fileworks/previewd/internal/sanitize"
	"github.com/fileworks/previewd/internal/signalfile"
	"github.com/fileworks/previewd/internal/storage"
)

// openQueueStore selects the queue backend from configuration. SQLite lives
// under the data directory; postgres uses the configured DSN.
func openQueueStore(cfg *config.Config) (*queue.SQLStore, error) {
	if cfg.Queue.Driver == "postgres" {
		return queue.OpenPostgres(cfg.Queue.DSN)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return queue.OpenSQLite(filepath.Join(cfg.DataDir, "queue.db"))
}

func newManager(cfg *config.Config, store *queue.SQLStore) *queue.Manager {
	policy := retry.NewPolicy(
		retry.BackoffMode(cfg.Queue.RetryBackoff),
		cfg.Queue.RetryInitialDelay,
		cfg.Queue.RetryMaxDelay,
		cfg.Queue.MaxAttempts,
	)
	return queue.NewManager(store, policy)
}

// newArtifactStore picks S3 when a bucket is configured, the local filesystem
// otherwise. The same store holds staged sources and sanitized outputs.
func newArtifactStore(ctx context.Context, cfg *config.Config) (storage.ArtifactStore, error) {
	if cfg.Upload.Bucket != "" {
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:    cfg.Upload.Bucket,
			Region:    cfg.Upload.Region,
			Endpoint:  cfg.Upload.Endpoint,
			AccessKey: cfg.Upload.AccessKey,
			SecretKey: cfg.Upload.SecretKey,
		})
	}
	return storage.NewFSStore(filepath.Join(cfg.DataDir, "artifacts"))
}

func runWorker(ctx context.Context, cfg *config.Config) error {
	store, err := openQueueStore(cfg)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer store.Close()
	manager := newManager(cfg, store)

	artifacts, err := newArtifactStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}
	defer artifacts.Close()

	auditStore, err := audit.NewSQLiteStore(filepath.Join(cfg.DataDir, "audit.db"))
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer auditStore.Close()

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.URL != "" {
		nats, err := events.NewNATSPublisher(cfg.Events.URL, cfg.Events.Subject)
		if err != nil {
			return fmt.Errorf("connect event publisher: %w", err)
		}
		defer nats.Close()
		publisher = nats
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	for _, dir := range []string{cfg.Sandbox.VolumeRoot, cfg.Helper.ExchangeDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	executor := &sandbox.Executor{
		Root:             cfg.Sandbox.VolumeRoot,
		Runtime:          cfg.Sandbox.Runtime,
		ToolchainDir:     cfg.Sandbox.ToolchainDir,
		ProcessorCommand: cfg.Sandbox.ProcessorCommand,
		Limits: sandbox.Limits{
			MemoryBytes: cfg.Sandbox.MemoryBytes,
			CPUs:        int(cfg.Sandbox.CPUs),
			MaxPids:     cfg.Sandbox.MaxPids,
			Timeout:     cfg.Sandbox.JobTimeout,
		},
	}

	orch := orchestrator.New(orchestrator.Options{
		Executor:  executor,
		Fetch:     artifacts.Get,
		Exchange:  signalfile.NewProducer(cfg.Helper.ExchangeDir),
		Artifacts: artifacts,
		Audit:     auditStore,
		Recorder:  recorder,
		Config: orchestrator.Config{
			Timeout:         cfg.Sandbox.JobTimeout,
			HelperTick:      cfg.Helper.Tick,
			HelperOutputExt: cfg.Helper.OutputExt,
			Image: sanitize.ImageOptions{
				Width:        cfg.Limits.ThumbnailWidth,
				Height:       cfg.Limits.ThumbnailHeight,
				MaxInputSize: cfg.Limits.MaxImageBytes,
			},
			Text:               sanitize.TextOptions{MaxLength: cfg.Limits.MaxTextLength},
			MinPrintableRatio:  cfg.Limits.MinPrintableRatio,
			MinFreeMemoryBytes: cfg.Sandbox.MinFreeMemoryBytes,
		},
	})

	d := daemon.New(cfg, manager, orch, recorder, publisher, auditStore)

	scheduler, err := daemon.NewScheduler()
	if err != nil {
		return err
	}
	if err := scheduler.ScheduleMaintenance(d, recorder); err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Stop(); err != nil {
			slog.Error("scheduler shutdown failed", "error", err)
		}
	}()

	httpServer := daemon.NewHTTPServer(cfg.Server.Addr, d, registry)
	go httpServer.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown failed", "error", err)
		}
	}()

	slog.Info("worker starting",
		"queue_driver", cfg.Queue.Driver,
		"sandbox_runtime", cfg.Sandbox.Runtime,
		"workers", cfg.Sandbox.MaxConcurrentJobs)
	return d.Run(ctx)
}

// runHelper runs the conversion side of the exchange protocol. It is meant to
// run on the isolated host that has the CAD toolchain installed; its only
// shared surface with the worker is the exchange directory.
func runHelper(ctx context.Context, cfg *config.Config) error {
	if err := os.MkdirAll(cfg.Helper.ExchangeDir, 0o750); err != nil {
		return fmt.Errorf("create exchange dir: %w", err)
	}

	convert := signalfile.CommandConverter(cfg.Helper.ConvertCommand, cfg.Helper.ConvertTimeout)
	consumer := signalfile.NewConsumer(cfg.Helper.ExchangeDir, convert, cfg.Helper.OutputExt, cfg.Helper.Tick)

	slog.Info("helper starting",
		"exchange_dir", cfg.Helper.ExchangeDir,
		"command", cfg.Helper.ConvertCommand)
	return consumer.Run(ctx)
}

// runEnqueue stages a local file into the artifact store and creates a pending
// job for it.
func runEnqueue(ctx context.Context, cfg *config.Config, file, kind, id string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	store, err := openQueueStore(cfg)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer store.Close()

	artifacts, err := newArtifactStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}
	defer artifacts.Close()

	if id == "" {
		id = uuid.NewString()
	}
	key := "uploads/" + id + "/" + filepath.Base(file)
	if _, err := artifacts.Put(ctx, key, "application/octet-stream", data); err != nil {
		return fmt.Errorf("stage source: %w", err)
	}

	job := &queue.Job{ID: id, Artifact: key, Kind: queue.ParseKind(kind)}
	if err := store.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	fmt.Printf("enqueued %s (%s) as %s\n", file, job.Kind, id)
	return nil
}

// runSweep is the one-shot maintenance pass: requeue jobs stuck in processing
// longer than the stale threshold and remove their leftover volumes.
func runSweep(ctx context.Context, cfg *config.Config) error {
	store, err := openQueueStore(cfg)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer store.Close()

	reclaimed, err := newManager(cfg, store).ReclaimStale(ctx, cfg.Queue.StaleThreshold)
	if err != nil {
		return fmt.Errorf("reclaim stale jobs: %w", err)
	}

	swept, err := sandbox.SweepStale(cfg.Sandbox.VolumeRoot, cfg.Queue.StaleThreshold)
	if err != nil {
		return fmt.Errorf("sweep volumes: %w", err)
	}

	fmt.Printf("reclaimed %d stale jobs, removed %d stale volumes\n", reclaimed, swept)
	return nil
}

func runStats(ctx context.Context, cfg *config.Config, asJSON bool) error {
	store, err := openQueueStore(cfg)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer store.Close()

	stats, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("queue stats: %w", err)
	}

	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(stats)
	}
	fmt.Printf("pending:    %d\nprocessing: %d\ncompleted:  %d\nfailed:     %d\n",
		stats.Pending, stats.Processing, stats.Completed, stats.Failed)
	return nil
}
