// Package config loads and validates previewd configuration from a YAML file
// with environment variable overrides. All knobs have documented defaults so a
// bare worker can start with nothing but a data directory.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for all previewd subcommands.
type Config struct {
	DataDir string      `yaml:"data_dir"`
	Logging Logging     `yaml:"logging"`
	Queue   QueueConfig `yaml:"queue"`
	Sandbox Sandbox     `yaml:"sandbox"`
	Helper  Helper      `yaml:"helper"`
	Limits  Processing  `yaml:"processing"`
	Server  Server      `yaml:"server"`
	Upload  Upload      `yaml:"upload"`
	Events  Events      `yaml:"events"`
}

// Logging controls slog setup.
type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// QueueConfig selects the queue backend and retry behavior.
type QueueConfig struct {
	// Driver is "sqlite" or "postgres". SQLite is the default and stores the
	// queue under DataDir; postgres requires DSN.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryBackoff      string        `yaml:"retry_backoff"` // fixed|linear|exponential
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`

	// StaleThreshold is how long a job may sit in processing before a restart
	// reclaims it as an implicit failure.
	StaleThreshold time.Duration `yaml:"stale_threshold"`
}

// Sandbox bounds a single job attempt.
type Sandbox struct {
	// Runtime is "bwrap" or "none". "none" skips isolation and is only meant
	// for tests and local development.
	Runtime string `yaml:"runtime"`

	// VolumeRoot is where per-attempt volumes are provisioned. Defaults to
	// <data_dir>/volumes.
	VolumeRoot string `yaml:"volume_root"`

	// ProcessorCommand is the conversion toolchain invoked inside the sandbox.
	ProcessorCommand []string `yaml:"processor_command"`

	// ToolchainDir is bind-mounted read-only into the sandbox.
	ToolchainDir string `yaml:"toolchain_dir"`

	JobTimeout  time.Duration `yaml:"job_timeout"`
	MemoryBytes int64         `yaml:"memory_bytes"`
	CPUs        float64       `yaml:"cpus"`
	MaxPids     int           `yaml:"max_pids"`

	// MaxConcurrentJobs bounds parallel attempts across this worker.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`

	// MinFreeMemoryBytes is the host headroom required before provisioning.
	MinFreeMemoryBytes uint64 `yaml:"min_free_memory_bytes"`
}

// Helper configures the CAD helper exchange on both sides of the protocol.
type Helper struct {
	ExchangeDir string        `yaml:"exchange_dir"`
	Tick        time.Duration `yaml:"tick"`
	// ConvertCommand is the toolchain the helper runs per request. The input
	// and output paths are appended as the last two arguments.
	ConvertCommand []string      `yaml:"convert_command"`
	ConvertTimeout time.Duration `yaml:"convert_timeout"`
	// OutputExt is the extension of the artifact the toolchain produces.
	OutputExt string `yaml:"output_ext"`
}

// Processing holds sanitizer limits.
type Processing struct {
	ThumbnailWidth  int   `yaml:"thumbnail_width"`
	ThumbnailHeight int   `yaml:"thumbnail_height"`
	MaxTextLength   int   `yaml:"max_text_length"`
	MaxImageBytes   int64 `yaml:"max_image_bytes"`
	// MinPrintableRatio gates the unknown-format text fallback.
	MinPrintableRatio float64 `yaml:"min_printable_ratio"`
}

// Server configures the worker's health/metrics HTTP listener.
type Server struct {
	Addr string `yaml:"addr"`
}

// Upload configures the sanitized-thumbnail object store. Empty bucket keeps
// results on the local filesystem only.
type Upload struct {
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Events configures the NATS lifecycle event publisher. Empty URL disables it.
type Events struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Load reads the config file (if present), applies .env files, environment
// overrides, and defaults. A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	// Best effort; absence of .env files is normal.
	_ = godotenv.Load(".env.local", ".env")

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize fills defaults for anything left unset.
func (c *Config) Normalize() {
	if c.DataDir == "" {
		c.DataDir = "./previewd-data"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "sqlite"
	}
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = 5 * time.Second
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.RetryBackoff == "" {
		c.Queue.RetryBackoff = "exponential"
	}
	if c.Queue.RetryInitialDelay <= 0 {
		c.Queue.RetryInitialDelay = 5 * time.Second
	}
	if c.Queue.RetryMaxDelay <= 0 {
		c.Queue.RetryMaxDelay = 5 * time.Minute
	}

	if c.Sandbox.Runtime == "" {
		c.Sandbox.Runtime = "bwrap"
	}
	if c.Sandbox.VolumeRoot == "" {
		c.Sandbox.VolumeRoot = c.DataDir + "/volumes"
	}
	if len(c.Sandbox.ProcessorCommand) == 0 {
		c.Sandbox.ProcessorCommand = []string{"/opt/previewd/processor"}
	}
	if c.Sandbox.JobTimeout <= 0 {
		c.Sandbox.JobTimeout = 10 * time.Minute
	}
	if c.Sandbox.MemoryBytes <= 0 {
		c.Sandbox.MemoryBytes = 2 << 30 // 2 GiB
	}
	if c.Sandbox.CPUs <= 0 {
		c.Sandbox.CPUs = 2
	}
	if c.Sandbox.MaxPids <= 0 {
		c.Sandbox.MaxPids = 200
	}
	if c.Sandbox.MaxConcurrentJobs <= 0 {
		c.Sandbox.MaxConcurrentJobs = 2
	}
	if c.Sandbox.MinFreeMemoryBytes == 0 {
		c.Sandbox.MinFreeMemoryBytes = uint64(c.Sandbox.MemoryBytes) / 2
	}
	if c.Queue.StaleThreshold <= 0 {
		c.Queue.StaleThreshold = 2 * c.Sandbox.JobTimeout
	}

	if c.Helper.ExchangeDir == "" {
		c.Helper.ExchangeDir = c.DataDir + "/exchange"
	}
	if c.Helper.Tick <= 0 {
		c.Helper.Tick = 500 * time.Millisecond
	}
	if len(c.Helper.ConvertCommand) == 0 {
		c.Helper.ConvertCommand = []string{"dwg2bmp", "-a"}
	}
	if c.Helper.ConvertTimeout <= 0 {
		c.Helper.ConvertTimeout = 5 * time.Minute
	}
	if c.Helper.OutputExt == "" {
		c.Helper.OutputExt = "png"
	}

	if c.Limits.ThumbnailWidth <= 0 {
		c.Limits.ThumbnailWidth = 400
	}
	if c.Limits.ThumbnailHeight <= 0 {
		c.Limits.ThumbnailHeight = 300
	}
	if c.Limits.MaxTextLength <= 0 {
		c.Limits.MaxTextLength = 51200
	}
	if c.Limits.MaxImageBytes <= 0 {
		c.Limits.MaxImageBytes = 1 << 20 // 1 MiB
	}
	if c.Limits.MinPrintableRatio <= 0 {
		c.Limits.MinPrintableRatio = 0.99
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":9290"
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "previewd.jobs"
	}
}

// Validate checks cross-field invariants after Normalize.
func (c *Config) Validate() error {
	switch c.Queue.Driver {
	case "sqlite":
	case "postgres":
		if c.Queue.DSN == "" {
			return fmt.Errorf("queue.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown queue driver %q", c.Queue.Driver)
	}

	switch c.Sandbox.Runtime {
	case "bwrap", "none":
	default:
		return fmt.Errorf("unknown sandbox runtime %q", c.Sandbox.Runtime)
	}

	if c.Limits.MinPrintableRatio > 1 {
		return fmt.Errorf("processing.min_printable_ratio must be <= 1")
	}
	if c.Queue.StaleThreshold < c.Sandbox.JobTimeout {
		return fmt.Errorf("queue.stale_threshold must be >= sandbox.job_timeout")
	}
	return nil
}
