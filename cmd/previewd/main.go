package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/fileworks/previewd/internal/config"
	"github.com/fileworks/previewd/internal/version"
)

var CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"previewd.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `help:"Print version and exit"`

	Worker struct{} `cmd:"" help:"Run the worker daemon: claim jobs, orchestrate sandboxes, store sanitized results"`

	Helper struct {
		ExchangeDir string `short:"e" help:"Override the exchange directory shared with the worker"`
	} `cmd:"" help:"Run the air-gapped CAD conversion helper loop"`

	Enqueue struct {
		File string `arg:"" help:"Source file to stage and enqueue"`
		Kind string `short:"k" help:"Declared file kind (image|office|cad|pdf|text|unknown)" default:"unknown"`
		ID   string `help:"Job ID (generated when empty)"`
	} `cmd:"" help:"Stage a source file and enqueue a processing job"`

	Sweep struct{} `cmd:"" help:"Reclaim stale processing jobs and destroy leftover sandbox volumes"`

	Stats struct {
		JSON bool `help:"Print statistics as JSON"`
	} `cmd:"" help:"Print queue statistics"`
}

func main() {
	ctx := kong.Parse(&CLI, kong.Vars{"version": version.Version})

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg, CLI.Verbose)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch ctx.Command() {
	case "worker":
		err = runWorker(runCtx, cfg)
	case "helper":
		if CLI.Helper.ExchangeDir != "" {
			cfg.Helper.ExchangeDir = CLI.Helper.ExchangeDir
		}
		err = runHelper(runCtx, cfg)
	case "enqueue <file>":
		err = runEnqueue(runCtx, cfg, CLI.Enqueue.File, CLI.Enqueue.Kind, CLI.Enqueue.ID)
	case "sweep":
		err = runSweep(runCtx, cfg)
	case "stats":
		err = runStats(runCtx, cfg, CLI.Stats.JSON)
	default:
		slog.Error("Unknown command", "command", ctx.Command())
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Command failed", "command", ctx.Command(), "error", err)
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config, verbose bool) {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
