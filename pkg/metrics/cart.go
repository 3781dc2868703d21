package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultStale   = "stale"
)

// CartMetrics records sync, reconciliation and mirror activity. A nil
// *CartMetrics is valid and records nothing.
type CartMetrics struct {
	pushes       *prometheus.CounterVec
	pushDuration prometheus.Histogram
	reconciles   *prometheus.CounterVec
	mirrorWrites *prometheus.CounterVec
}

// NewCartMetrics registers the cart metrics on the provided registerer.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	pushes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_sync_push_total",
		Help: "Snapshot pushes attempted by the sync channel.",
	}, []string{"result"})
	pushDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cart_sync_push_duration_seconds",
		Help:    "Duration of snapshot pushes in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	reconciles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_reconcile_total",
		Help: "Login reconciliations by outcome.",
	}, []string{"outcome"})
	mirrorWrites := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mirror_writes_total",
		Help: "Server-side cart replace requests by result.",
	}, []string{"result"})
	reg.MustRegister(pushes, pushDuration, reconciles, mirrorWrites)
	return &CartMetrics{
		pushes:       pushes,
		pushDuration: pushDuration,
		reconciles:   reconciles,
		mirrorWrites: mirrorWrites,
	}
}

// ObservePush records one push attempt.
func (c *CartMetrics) ObservePush(result string, duration time.Duration) {
	if c == nil || c.pushes == nil {
		return
	}
	c.pushes.WithLabelValues(normalizeLabel(result)).Inc()
	c.pushDuration.Observe(duration.Seconds())
}

// IncReconcile counts a reconciliation outcome (merged, degraded, skipped, failed).
func (c *CartMetrics) IncReconcile(outcome string) {
	if c == nil || c.reconciles == nil {
		return
	}
	c.reconciles.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncMirrorWrite counts a server-side replace.
func (c *CartMetrics) IncMirrorWrite(result string) {
	if c == nil || c.mirrorWrites == nil {
		return
	}
	c.mirrorWrites.WithLabelValues(normalizeLabel(result)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
