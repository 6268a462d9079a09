package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrMetricsUnavailable is returned when no analysis log is configured.
var ErrMetricsUnavailable = errors.New("analysis log is not configured")

// MetricsSummary represents aggregated analysis insights.
type MetricsSummary struct {
	TotalAttempts     int64   `json:"total_attempts"`
	FallbackAttempts  int64   `json:"fallback_attempts"`
	FallbackRate      float64 `json:"fallback_rate"`
	AverageConfidence float64 `json:"average_confidence"`
	AverageLatencyMs  float64 `json:"average_latency_ms"`
}

// GetMetricsSummary aggregates analysis metrics from persisted logs.
func (o *Orchestrator) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if o.repo == nil {
		return nil, ErrMetricsUnavailable
	}
	aggregation, err := o.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalAttempts:     aggregation.TotalCount,
		FallbackAttempts:  aggregation.MockCount,
		AverageConfidence: aggregation.AverageConfidence,
		AverageLatencyMs:  aggregation.AverageLatencyMs,
	}
	if aggregation.TotalCount > 0 {
		summary.FallbackRate = float64(aggregation.MockCount) / float64(aggregation.TotalCount)
	}
	return summary, nil
}

// Metrics are the prometheus collectors updated by the orchestrator.
type Metrics struct {
	attempts  *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	latency   prometheus.Histogram
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skin_analysis",
			Name:      "attempts_total",
			Help:      "Analysis attempts by outcome.",
		}, []string{"outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skin_analysis",
			Name:      "fallbacks_total",
			Help:      "Mock fallbacks by classifier failure reason.",
		}, []string{"reason"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "skin_analysis",
			Name:      "classifier_wait_seconds",
			Help:      "Time spent waiting on the classifier.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.fallbacks, m.latency)
	}
	return m
}

func (m *Metrics) observeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeFallback(reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeWait(d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(d.Seconds())
}
