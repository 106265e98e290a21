package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnvOverrides lets deployment environments override the file without
// templating YAML. Only the operationally interesting knobs are exposed.
func applyEnvOverrides(c *Config) {
	setString(&c.DataDir, "PREVIEWD_DATA_DIR")
	setString(&c.Logging.Level, "PREVIEWD_LOG_LEVEL")

	setString(&c.Queue.Driver, "PREVIEWD_QUEUE_DRIVER")
	setString(&c.Queue.DSN, "PREVIEWD_QUEUE_DSN")
	setDuration(&c.Queue.PollInterval, "PREVIEWD_POLL_INTERVAL")
	setInt(&c.Queue.MaxAttempts, "PREVIEWD_MAX_ATTEMPTS")

	setString(&c.Sandbox.Runtime, "PREVIEWD_SANDBOX_RUNTIME")
	setString(&c.Sandbox.VolumeRoot, "PREVIEWD_VOLUME_ROOT")
	setDuration(&c.Sandbox.JobTimeout, "PREVIEWD_JOB_TIMEOUT")
	setInt64(&c.Sandbox.MemoryBytes, "PREVIEWD_MEMORY_BYTES")
	setInt(&c.Sandbox.MaxPids, "PREVIEWD_MAX_PIDS")
	setInt(&c.Sandbox.MaxConcurrentJobs, "PREVIEWD_MAX_CONCURRENT_JOBS")

	setString(&c.Helper.ExchangeDir, "PREVIEWD_EXCHANGE_DIR")
	setDuration(&c.Helper.Tick, "PREVIEWD_HELPER_TICK")

	setString(&c.Server.Addr, "PREVIEWD_SERVER_ADDR")

	setString(&c.Upload.Bucket, "PREVIEWD_UPLOAD_BUCKET")
	setString(&c.Upload.Endpoint, "PREVIEWD_UPLOAD_ENDPOINT")
	setString(&c.Upload.Region, "PREVIEWD_UPLOAD_REGION")
	setString(&c.Upload.AccessKey, "PREVIEWD_UPLOAD_ACCESS_KEY")
	setString(&c.Upload.SecretKey, "PREVIEWD_UPLOAD_SECRET_KEY")

	setString(&c.Events.URL, "PREVIEWD_NATS_URL")
	setString(&c.Events.Subject, "PREVIEWD_NATS_SUBJECT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
