package replenish

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"steward/pkg/monitoring"
)

// Metrics are the job's Prometheus series. A nil *Metrics records nothing.
type Metrics struct {
	runs         *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	chargedCents *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	dbQueries    *prometheus.CounterVec
	dbDuration   *prometheus.HistogramVec
}

// NewMetrics registers the job metrics on the service collector.
func NewMetrics(mc *monitoring.MetricsCollector) *Metrics {
	dbQueries, dbDuration := mc.CreateDatabaseMetrics()
	return &Metrics{
		dbQueries:    dbQueries,
		dbDuration:   dbDuration,
		runs:         mc.NewCounter("replenish_runs_total", "Auto-replenish runs by result", []string{"status"}),
		outcomes:     mc.NewCounter("replenish_outcomes_total", "Auto-replenish candidate outcomes", []string{"type", "status"}),
		chargedCents: mc.NewCounter("replenish_charged_cents_total", "Amount charged by auto-replenish in minor units", []string{"type"}),
		runDuration: mc.NewHistogram("replenish_run_duration_seconds", "Auto-replenish run duration", nil,
			[]float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}),
	}
}

func (m *Metrics) observeRun(ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues().Observe(elapsed.Seconds())
}

func (m *Metrics) observeDetail(d Detail) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(d.Type), d.Status).Inc()
}

func (m *Metrics) observeCharge(typ string, cents int64) {
	if m == nil {
		return
	}
	m.chargedCents.WithLabelValues(typ).Add(float64(cents))
}

func (m *Metrics) observeQuery(queryType string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueries.WithLabelValues(queryType, status).Inc()
	m.dbDuration.WithLabelValues(queryType).Observe(elapsed.Seconds())
}
