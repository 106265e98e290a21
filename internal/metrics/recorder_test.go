package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveAttemptDuration("image", time.Second)
	r.IncJobOutcome("image", OutcomeCompleted)
	r.IncSandboxSetupFailure()
	r.IncSandboxTimeout()
	r.IncHelperConversion("done")
	r.IncSanitizerRejection("binary")
	r.SetActiveJobs(1)
	r.SetQueueDepth(3)
}

func TestPrometheusRecorderRegisters(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.ObserveAttemptDuration("cad", 2*time.Second)
	pr.IncJobOutcome("cad", OutcomeFailed)
	pr.IncSandboxSetupFailure()
	pr.IncHelperConversion("timeout")
	pr.SetActiveJobs(2)
	pr.SetQueueDepth(5)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["previewd_attempt_duration_seconds"])
	assert.True(t, names["previewd_job_outcomes_total"])
	assert.True(t, names["previewd_sandbox_setup_failures_total"])
	assert.True(t, names["previewd_helper_conversions_total"])
	assert.True(t, names["previewd_active_jobs"])
	assert.True(t, names["previewd_queue_pending_jobs"])
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.ObserveAttemptDuration("pdf", time.Second)
	pr.IncJobOutcome("pdf", OutcomeRetried)
	pr.IncSandboxTimeout()
	pr.SetActiveJobs(0)
}
