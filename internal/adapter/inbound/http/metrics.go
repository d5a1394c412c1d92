package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/governed/governor/internal/domain/policy"
	"github.com/governed/governor/internal/service"
)

var _ service.Metrics = (*Metrics)(nil)

// Metrics implements service.Metrics with Prometheus collectors registered
// under the "governor" namespace.
type Metrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	policyCount        prometheus.Gauge
	trustScore         *prometheus.GaugeVec
}

// NewMetrics creates and registers every collector with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		evaluationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "governor",
				Name:      "evaluations_total",
				Help:      "Total policy evaluations by resulting verdict action",
			},
			[]string{"verdict"},
		),
		evaluationDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "governor",
				Name:      "evaluation_duration_seconds",
				Help:      "Evaluation wall time in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14), // 50us .. ~400ms
			},
		),
		policyCount: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "governor",
				Name:      "policy_count",
				Help:      "Number of policies currently published to the index",
			},
		),
		trustScore: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "governor",
				Name:      "trust_score",
				Help:      "Current trust score per agent",
			},
			[]string{"agent"},
		),
	}
}

// ObserveEvaluation records one completed evaluation.
func (m *Metrics) ObserveEvaluation(action policy.Action, evaluationUs int64) {
	m.evaluationsTotal.WithLabelValues(string(action)).Inc()
	m.evaluationDuration.Observe(float64(evaluationUs) / 1e6)
}

// SetPolicyCount reports the currently published policy count.
func (m *Metrics) SetPolicyCount(n int) {
	m.policyCount.Set(float64(n))
}

// SetTrustScore reports one agent's current trust score.
func (m *Metrics) SetTrustScore(agentID string, score int) {
	m.trustScore.WithLabelValues(agentID).Set(float64(score))
}
