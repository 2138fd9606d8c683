package replenish

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"steward/internal/bundles"
	"steward/pkg/monitoring"
)

func TestMetricsRecordOutcomes(t *testing.T) {
	m := NewMetrics(monitoring.NewMetricsCollector("steward", "test", "abc"))

	m.observeDetail(Detail{Type: bundles.TypeSMS, Status: DetailSuccess})
	m.observeDetail(Detail{Type: bundles.TypeSMS, Status: DetailSuccess})
	m.observeDetail(Detail{Type: bundles.TypeMinutes, Status: DetailSkipped})
	m.observeCharge("sms", 500)
	m.observeCharge("sms", 2000)
	m.observeRun(true, time.Second)
	m.observeRun(false, time.Second)

	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("sms", DetailSuccess)); got != 2 {
		t.Fatalf("expected 2 sms successes, got %v", got)
	}
	if got := testutil.ToFloat64(m.chargedCents.WithLabelValues("sms")); got != 2500 {
		t.Fatalf("expected 2500 cents, got %v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed run, got %v", got)
	}
}

func TestMetricsRecordScanQueries(t *testing.T) {
	m := NewMetrics(monitoring.NewMetricsCollector("steward", "test", "abc"))

	m.observeQuery("scan_sms", nil, time.Millisecond)
	m.observeQuery("scan_sms", errors.New("boom"), time.Millisecond)

	if got := testutil.ToFloat64(m.dbQueries.WithLabelValues("scan_sms", "success")); got != 1 {
		t.Fatalf("expected 1 successful scan query, got %v", got)
	}
	if got := testutil.ToFloat64(m.dbQueries.WithLabelValues("scan_sms", "error")); got != 1 {
		t.Fatalf("expected 1 failed scan query, got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.observeDetail(Detail{Type: bundles.TypeSMS, Status: DetailFailed})
	m.observeCharge("sms", 1)
	m.observeRun(true, time.Millisecond)
	m.observeQuery("scan_sms", nil, time.Millisecond)
}
