package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Ticks        *prometheus.CounterVec
	TickDuration prometheus.Histogram
	RuleOutcomes *prometheus.CounterVec
	ChannelSends *prometheus.CounterVec
	TokensPruned prometheus.Counter
	DedupPurged  prometheus.Counter
	DedupEntries prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_ticks_total",
			Help: "Evaluation ticks by trigger and result",
		}, []string{"trigger", "result"}),

		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "reminder_tick_duration_seconds",
			Help:    "Wall time of one evaluation tick",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		RuleOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_rule_outcomes_total",
			Help: "Per-rule evaluation outcomes",
		}, []string{"kind", "status"}),

		// channel: chat or push; result: sent, failed, invalid_token
		ChannelSends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_channel_sends_total",
			Help: "Delivery attempts per channel",
		}, []string{"channel", "result"}),

		TokensPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "reminder_push_tokens_pruned_total",
			Help: "Invalid push tokens removed from the store",
		}),

		DedupPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "reminder_dedup_purged_total",
			Help: "Dedup entries dropped by purges",
		}),

		DedupEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "reminder_dedup_entries",
			Help: "Dedup entries after the last purge",
		}),
	}
}

func (m *Metrics) ObserveTick(trigger, result string, seconds float64) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(trigger, result).Inc()
	m.TickDuration.Observe(seconds)
}

func (m *Metrics) RuleOutcome(kind, status string) {
	if m == nil {
		return
	}
	m.RuleOutcomes.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) ChannelSend(channel, result string) {
	if m == nil {
		return
	}
	m.ChannelSends.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) Pruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensPruned.Add(float64(n))
}

func (m *Metrics) Purged(dropped, remaining int) {
	if m == nil {
		return
	}
	if dropped > 0 {
		m.DedupPurged.Add(float64(dropped))
	}
	m.DedupEntries.Set(float64(remaining))
}
