// Package telemetry records local ingestion metrics.
//
// Nothing is transmitted: collectors are registered on a caller-supplied
// registry and only leave the process if the host mounts an exposition
// endpoint. A nil *Metrics is a valid no-op recorder.
package telemetry

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "capture"

// Metrics holds the ingestion collectors.
type Metrics struct {
	ingested         *prometheus.CounterVec
	aborted          *prometheus.CounterVec
	metadataFailures prometheus.Counter
	cleanupFailures  prometheus.Counter
	duration         *prometheus.HistogramVec
}

// NewMetrics registers the ingestion metrics on reg. A nil registerer
// yields a recorder that drops everything.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_total",
			Help:      "Captures committed to the gallery.",
		}, []string{"kind"}),
		aborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aborted_total",
			Help:      "Ingestions that ended without committing an item.",
		}, []string{"code"}),
		metadataFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_failures_total",
			Help:      "Photos committed without parsed metadata.",
		}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_failures_total",
			Help:      "Source file deletions that failed after embedding.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time from submission to commit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	reg.MustRegister(m.ingested, m.aborted, m.metadataFailures, m.cleanupFailures, m.duration)
	return m
}

// IncIngested counts a committed item.
func (m *Metrics) IncIngested(kind string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncAborted counts an ingestion that ended without a commit.
func (m *Metrics) IncAborted(code string) {
	if m == nil {
		return
	}
	m.aborted.WithLabelValues(normalizeLabel(code)).Inc()
}

// IncMetadataFailure counts a photo whose metadata could not be parsed.
func (m *Metrics) IncMetadataFailure() {
	if m == nil {
		return
	}
	m.metadataFailures.Inc()
}

// IncCleanupFailure counts a failed source deletion.
func (m *Metrics) IncCleanupFailure() {
	if m == nil {
		return
	}
	m.cleanupFailures.Inc()
}

// ObserveIngest records how long an ingestion took.
func (m *Metrics) ObserveIngest(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(kind)).Observe(d.Seconds())
}

func normalizeLabel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}
