package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestScoringMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry(), Config{Environment: "test"})

	m.ObserveScore("api", "Good", 2*time.Millisecond)
	m.ObserveScore("api", "Good", time.Millisecond)
	m.ObserveScore("worker", "Poor", time.Millisecond)
	m.IncRejected("negative amount -1")
	m.IncRejected(`unparseable amount "x"`)
	m.AddAppended(12)
	m.AddAppended(-3)
	m.IncCache("hit")
	m.IncHistory("duplicate")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.scoresComputed.WithLabelValues("Good", "api")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scoresComputed.WithLabelValues("Poor", "worker")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.recordsRejected.WithLabelValues("amount")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.recordsAppended))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.historyAppends.WithLabelValues("duplicate")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *ScoringMetrics
	m.ObserveScore("api", "Good", time.Millisecond)
	m.IncRejected("x")
	m.AddAppended(1)
	m.IncCache("miss")
	m.IncHistory("recorded")
}

func TestReasonLabel(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"amount is required", "amount"},
		{"negative amount -5", "amount"},
		{"amount 1.005 has more than 2 decimal places", "amount"},
		{`unparseable timestamp "yesterday"`, "timestamp"},
		{"timestamp 2030-01-01T00:00:00Z is in the future", "future"},
		{`unknown direction "refund"`, "direction"},
		{"something else", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			assert.Equal(t, tt.want, ReasonLabel(tt.reason))
		})
	}
}
