package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Export job outcomes.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Metrics holds the service collectors. It satisfies assets.Observer and export.Observer.
type Metrics struct {
	exports  *prometheus.CounterVec
	cards    *prometheus.CounterVec
	assets   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg (skipped when reg is nil).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exports_total",
			Help: "Export jobs by format and final status.",
		}, []string{"format", "status"}),
		cards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cards_rendered_total",
			Help: "Cards rasterized into an artifact, by template.",
		}, []string{"template"}),
		assets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asset_fetch_total",
			Help: "Remote asset fetches by result (ok or fallback).",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "export_duration_seconds",
			Help:    "Wall time of export jobs.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"format"}),
	}
	if reg != nil {
		reg.MustRegister(m.exports, m.cards, m.assets, m.duration)
	}
	return m
}

// AssetFetched counts one resolver network attempt.
func (m *Metrics) AssetFetched(result string) {
	m.assets.WithLabelValues(result).Inc()
}

// CardRendered counts one card added to an artifact.
func (m *Metrics) CardRendered(template string) {
	m.cards.WithLabelValues(template).Inc()
}

// ExportFinished records the outcome and duration of a job.
func (m *Metrics) ExportFinished(format, status string, took time.Duration) {
	m.exports.WithLabelValues(format, status).Inc()
	m.duration.WithLabelValues(format).Observe(took.Seconds())
}
