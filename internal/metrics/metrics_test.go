package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, cv *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(m); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func histogramCount(t *testing.T, hv *prometheus.HistogramVec, labels ...string) uint64 {
	t.Helper()
	m := &dto.Metric{}
	obs, ok := hv.WithLabelValues(labels...).(prometheus.Metric)
	if !ok {
		t.Fatal("histogram observer does not implement prometheus.Metric")
	}
	if err := obs.Write(m); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestObserveRequestRecordsCounterAndDuration(t *testing.T) {
	m := New()

	m.ObserveRequest("finance_agent", "success", 120*time.Millisecond)
	m.ObserveRequest("finance_agent", "success", 80*time.Millisecond)
	m.ObserveRequest("finance_agent", "policy_denied", 5*time.Millisecond)

	if got := counterValue(t, m.RequestsTotal, "finance_agent", "success"); got != 2 {
		t.Errorf("success count = %f, want 2", got)
	}
	if got := counterValue(t, m.RequestsTotal, "finance_agent", "policy_denied"); got != 1 {
		t.Errorf("policy_denied count = %f, want 1", got)
	}
	if got := histogramCount(t, m.RequestDuration, "finance_agent"); got != 3 {
		t.Errorf("duration samples = %d, want 3", got)
	}
}

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics

	// None of these may panic when instrumentation is not wired.
	m.ObserveRequest("a", "success", time.Second)
	m.ObserveRiskScore("a", 0.4)
	m.ObservePolicyTrigger("FIN-001")
	m.ObserveEnforcement("a", "paused")
	m.ObserveSnapshot("terminal_kill")
	m.ObserveHandoff(true)
	m.ObserveWorkflow("wf_new_hire", "completed", time.Second)
	m.ObserveApproval("finance", "approved")
	m.RequestsInFlight(1)
}

func TestIndependentInstancesDoNotCollide(t *testing.T) {
	a := New()
	b := New()

	a.ObserveHandoff(true)
	b.ObserveHandoff(false)

	if got := counterValue(t, a.HandoffsTotal, "allowed"); got != 1 {
		t.Errorf("instance a allowed = %f, want 1", got)
	}
	if got := counterValue(t, a.HandoffsTotal, "blocked"); got != 0 {
		t.Errorf("instance a blocked = %f, want 0", got)
	}
	if got := counterValue(t, b.HandoffsTotal, "blocked"); got != 1 {
		t.Errorf("instance b blocked = %f, want 1", got)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	m := New()
	m.ObserveWorkflow("wf_vendor_onboard", "completed", 2*time.Second)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "intentguard_workflows_total") {
		t.Errorf("exposition missing workflow counter:\n%s", body)
	}
	if !strings.Contains(body, `workflow="wf_vendor_onboard"`) {
		t.Errorf("exposition missing workflow label:\n%s", body)
	}
}
