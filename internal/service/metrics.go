package service

import (
	"time"

	"storyteller/internal/feed"
	"storyteller/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы операций для метки outcome
const (
	OutcomeSuccess            = "success"
	OutcomeRemoteError        = "remote_error"
	OutcomePersistenceError   = "persistence_error"
	OutcomeStale              = "stale"
	OutcomeRejected           = "rejected"
	OutcomeNotFound           = "not_found"
	OutcomeError              = "error"
	OutcomeSubscriptionFailed = "failed"
)

var _ feed.Observer = (*Metrics)(nil)

// Metrics - метрики клиента. Регистрируются в переданном реестре, а не в глобальном.
// Все методы безопасны для nil.
type Metrics struct {
	generationTotal    *prometheus.CounterVec
	generationDuration prometheus.Histogram
	feedbackTotal      *prometheus.CounterVec
	snapshotsTotal     *prometheus.CounterVec
	feedSize           prometheus.Gauge
}

// NewMetrics создает метрики в реестре reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		generationTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyteller_generation_requests_total",
				Help: "Total number of story generation attempts, partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		generationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "storyteller_generation_duration_seconds",
				Help:    "Histogram of remote story generation call durations.",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 90},
			},
		),
		feedbackTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyteller_feedback_submissions_total",
				Help: "Total number of feedback submissions, partitioned by label and outcome.",
			},
			[]string{"label", "outcome"},
		),
		snapshotsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyteller_feed_snapshots_total",
				Help: "Total number of feed snapshots, partitioned by status.",
			},
			[]string{"status"},
		),
		feedSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "storyteller_feed_records",
				Help: "Number of records in the current feed view.",
			},
		),
	}
}

func (m *Metrics) generationFinished(outcome string) {
	if m == nil {
		return
	}
	m.generationTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeGenerationCall(d time.Duration) {
	if m == nil {
		return
	}
	m.generationDuration.Observe(d.Seconds())
}

func (m *Metrics) feedbackFinished(label, outcome string) {
	if m == nil {
		return
	}
	if !models.FeedbackLabel(label).Valid() {
		label = "invalid"
	}
	m.feedbackTotal.WithLabelValues(label, outcome).Inc()
}

// SnapshotReceived implements feed.Observer.
func (m *Metrics) SnapshotReceived(_ string, size int) {
	if m == nil {
		return
	}
	m.snapshotsTotal.WithLabelValues(OutcomeSuccess).Inc()
	m.feedSize.Set(float64(size))
}

// SnapshotFailed implements feed.Observer.
func (m *Metrics) SnapshotFailed(_ string, _ error) {
	if m == nil {
		return
	}
	m.snapshotsTotal.WithLabelValues(OutcomeSubscriptionFailed).Inc()
}
