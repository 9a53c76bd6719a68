// Package metrics exposes Prometheus instruments for the scoring pipeline.
package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config labels every series.
type Config struct {
	ServiceName string
	Environment string
}

// ScoringMetrics holds the scoring counters and histograms. A nil
// *ScoringMetrics is valid and records nothing.
type ScoringMetrics struct {
	scoresComputed  *prometheus.CounterVec
	scoreDuration   *prometheus.HistogramVec
	recordsRejected *prometheus.CounterVec
	recordsAppended prometheus.Counter
	cacheLookups    *prometheus.CounterVec
	historyAppends  *prometheus.CounterVec
}

var (
	scoringOnce    sync.Once
	scoringMetrics *ScoringMetrics
)

// Scoring returns the process-wide metrics registered on the default
// registerer.
func Scoring(cfg Config) *ScoringMetrics {
	scoringOnce.Do(func() {
		scoringMetrics = New(prometheus.DefaultRegisterer, cfg)
	})
	return scoringMetrics
}

// New registers a fresh set of instruments on registerer.
func New(registerer prometheus.Registerer, cfg Config) *ScoringMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "creditscore"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &ScoringMetrics{
		scoresComputed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "creditscore_scores_computed_total",
				Help:        "Scores computed by tier and source.",
				ConstLabels: constLabels,
			},
			[]string{"tier", "source"}, // source: api | stored | worker | cli
		),
		scoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "creditscore_score_duration_seconds",
				Help:        "Time to score one ledger window.",
				Buckets:     []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
				ConstLabels: constLabels,
			},
			[]string{"source"},
		),
		recordsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "creditscore_records_rejected_total",
				Help:        "Raw records excluded by the normalizer.",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		recordsAppended: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "creditscore_records_appended_total",
				Help:        "Transaction records appended to merchant ledgers.",
				ConstLabels: constLabels,
			},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "creditscore_score_cache_lookups_total",
				Help:        "Score cache lookups by result.",
				ConstLabels: constLabels,
			},
			[]string{"result"}, // hit | miss | error
		),
		historyAppends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "creditscore_history_appends_total",
				Help:        "Score history appends by result.",
				ConstLabels: constLabels,
			},
			[]string{"result"}, // recorded | duplicate | failed
		),
	}

	registerer.MustRegister(
		m.scoresComputed,
		m.scoreDuration,
		m.recordsRejected,
		m.recordsAppended,
		m.cacheLookups,
		m.historyAppends,
	)
	return m
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *ScoringMetrics) ObserveScore(source, tier string, d time.Duration) {
	if m == nil {
		return
	}
	m.scoresComputed.WithLabelValues(tier, source).Inc()
	m.scoreDuration.WithLabelValues(source).Observe(d.Seconds())
}

// IncRejected counts one rejected record. Reasons are reduced to their
// leading phrase to keep label cardinality low.
func (m *ScoringMetrics) IncRejected(reason string) {
	if m == nil {
		return
	}
	m.recordsRejected.WithLabelValues(ReasonLabel(reason)).Inc()
}

func (m *ScoringMetrics) AddAppended(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsAppended.Add(float64(n))
}

func (m *ScoringMetrics) IncCache(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *ScoringMetrics) IncHistory(result string) {
	if m == nil {
		return
	}
	m.historyAppends.WithLabelValues(result).Inc()
}

// ReasonLabel maps a rejection reason to a bounded label value.
func ReasonLabel(reason string) string {
	switch {
	case strings.HasSuffix(reason, "in the future"):
		return "future"
	case strings.Contains(reason, "amount"):
		return "amount"
	case strings.Contains(reason, "timestamp"):
		return "timestamp"
	case strings.Contains(reason, "direction"):
		return "direction"
	default:
		return "other"
	}
}
