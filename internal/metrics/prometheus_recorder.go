package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once                sync.Once
	attemptDuration     *prom.HistogramVec
	jobOutcomes         *prom.CounterVec
	sandboxSetupFails   prom.Counter
	sandboxTimeouts     prom.Counter
	helperConversions   *prom.CounterVec
	sanitizerRejections *prom.CounterVec
	activeJobs          prom.Gauge
	queueDepth          prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.attemptDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "previewd",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of individual job attempts",
			Buckets:   prom.DefBuckets,
		}, []string{"kind"})
		pr.jobOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "previewd",
			Name:      "job_outcomes_total",
			Help:      "Job attempt outcomes by kind and result",
		}, []string{"kind", "outcome"})
		pr.sandboxSetupFails = prom.NewCounter(prom.CounterOpts{
			Namespace: "previewd",
			Name:      "sandbox_setup_failures_total",
			Help:      "Sandbox provisioning failures",
		})
		pr.sandboxTimeouts = prom.NewCounter(prom.CounterOpts{
			Namespace: "previewd",
			Name:      "sandbox_timeouts_total",
			Help:      "Job attempts terminated at the wall-clock deadline",
		})
		pr.helperConversions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "previewd",
			Name:      "helper_conversions_total",
			Help:      "CAD helper conversion outcomes",
		}, []string{"result"})
		pr.sanitizerRejections = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "previewd",
			Name:      "sanitizer_rejections_total",
			Help:      "Artifacts rejected at the trusted boundary",
		}, []string{"reason"})
		pr.activeJobs = prom.NewGauge(prom.GaugeOpts{
			Namespace: "previewd",
			Name:      "active_jobs",
			Help:      "Job attempts currently in flight on this worker",
		})
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: "previewd",
			Name:      "queue_pending_jobs",
			Help:      "Pending jobs observed at the last stats poll",
		})
		reg.MustRegister(pr.attemptDuration, pr.jobOutcomes, pr.sandboxSetupFails,
			pr.sandboxTimeouts, pr.helperConversions, pr.sanitizerRejections,
			pr.activeJobs, pr.queueDepth)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveAttemptDuration(kind string, d time.Duration) {
	if p == nil || p.attemptDuration == nil {
		return
	}
	p.attemptDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncJobOutcome(kind string, outcome OutcomeLabel) {
	if p == nil || p.jobOutcomes == nil {
		return
	}
	p.jobOutcomes.WithLabelValues(kind, string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncSandboxSetupFailure() {
	if p == nil || p.sandboxSetupFails == nil {
		return
	}
	p.sandboxSetupFails.Inc()
}

func (p *PrometheusRecorder) IncSandboxTimeout() {
	if p == nil || p.sandboxTimeouts == nil {
		return
	}
	p.sandboxTimeouts.Inc()
}

func (p *PrometheusRecorder) IncHelperConversion(result string) {
	if p == nil || p.helperConversions == nil {
		return
	}
	p.helperConversions.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) IncSanitizerRejection(reason string) {
	if p == nil || p.sanitizerRejections == nil {
		return
	}
	p.sanitizerRejections.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) SetActiveJobs(n int) {
	if p == nil || p.activeJobs == nil {
		return
	}
	p.activeJobs.Set(float64(n))
}

func (p *PrometheusRecorder) SetQueueDepth(pending int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(pending))
}
