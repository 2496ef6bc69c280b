// Package metrics defines the Prometheus instrumentation for the
// guardrail runtime. All metrics live on an explicit registry owned by
// the Metrics value, so independent instances (and tests) never fight
// over global registration.
//
// Naming follows Prometheus conventions: an intentguard_ prefix,
// _total for counters, _seconds for duration histograms.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the runtime records into.
type Metrics struct {
	registry *prometheus.Registry

	// Gateway requests.
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	// Compliance.
	PolicyTriggersTotal *prometheus.CounterVec

	// TIRS.
	RiskScores        *prometheus.HistogramVec
	EnforcementsTotal *prometheus.CounterVec
	SnapshotsTotal    *prometheus.CounterVec

	// Orchestration.
	HandoffsTotal    *prometheus.CounterVec
	WorkflowsTotal   *prometheus.CounterVec
	WorkflowDuration *prometheus.HistogramVec

	// Approvals.
	ApprovalsTotal *prometheus.CounterVec
}

// New builds a Metrics value backed by a fresh registry that also
// carries the standard Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intentguard_requests_total",
			Help: "Gateway requests by target agent and outcome.",
		}, []string{"agent", "outcome"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intentguard_request_duration_seconds",
			Help:    "End-to-end gateway request duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent"}),

		ActiveRequests: f.NewGauge(prometheus.GaugeOpts{
			Name: "intentguard_active_requests",
			Help: "Requests currently inside the gateway.",
		}),

		PolicyTriggersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intentguard_policy_triggers_total",
			Help: "Policy verdicts other than allow, by policy id.",
		}, []string{"policy"}),

		RiskScores: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intentguard_risk_score",
			Help:    "Smoothed TIRS risk scores observed per analyzed intent.",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}, []string{"agent"}),

		EnforcementsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intentguard_enforcements_total",
			Help: "Enforcement transitions by agent and resulting status.",
		}, []string{"agent", "status"}),

		SnapshotsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intentguard_snapshots_total",
			Help: "Forensic snapshots captured, by trigger.",
		}, []string{"trigger"}),

		HandoffsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intentguard_handoffs_total",
			Help: "Agent-to-agent handoff verifications by outcome.",
		}, []string{"outcome"}),

		WorkflowsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intentguard_workflows_total",
			Help: "Workflow executions by workflow id and final status.",
		}, []string{"workflow", "status"}),

		WorkflowDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intentguard_workflow_duration_seconds",
			Help:    "Workflow execution duration.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"workflow"}),

		ApprovalsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intentguard_approvals_total",
			Help: "Approval requests by approver type and outcome.",
		}, []string{"type", "outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveRequest records one finished gateway request. A nil receiver
// is a no-op so callers can run without instrumentation wired.
func (m *Metrics) ObserveRequest(agent, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(agent, outcome).Inc()
	m.RequestDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// ObserveRiskScore records one analyzed intent's smoothed score.
func (m *Metrics) ObserveRiskScore(agent string, score float64) {
	if m == nil {
		return
	}
	m.RiskScores.WithLabelValues(agent).Observe(score)
}

// ObservePolicyTrigger counts one non-allow policy verdict.
func (m *Metrics) ObservePolicyTrigger(policyID string) {
	if m == nil {
		return
	}
	m.PolicyTriggersTotal.WithLabelValues(policyID).Inc()
}

// ObserveEnforcement counts one enforcement transition.
func (m *Metrics) ObserveEnforcement(agent, status string) {
	if m == nil {
		return
	}
	m.EnforcementsTotal.WithLabelValues(agent, status).Inc()
}

// ObserveSnapshot counts one captured forensic snapshot.
func (m *Metrics) ObserveSnapshot(trigger string) {
	if m == nil {
		return
	}
	m.SnapshotsTotal.WithLabelValues(trigger).Inc()
}

// ObserveHandoff counts one handoff verification.
func (m *Metrics) ObserveHandoff(allowed bool) {
	if m == nil {
		return
	}
	outcome := "blocked"
	if allowed {
		outcome = "allowed"
	}
	m.HandoffsTotal.WithLabelValues(outcome).Inc()
}

// ObserveWorkflow records one finished workflow run.
func (m *Metrics) ObserveWorkflow(workflowID, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowsTotal.WithLabelValues(workflowID, status).Inc()
	m.WorkflowDuration.WithLabelValues(workflowID).Observe(duration.Seconds())
}

// ObserveApproval counts one resolved approval request.
func (m *Metrics) ObserveApproval(approvalType, outcome string) {
	if m == nil {
		return
	}
	m.ApprovalsTotal.WithLabelValues(approvalType, outcome).Inc()
}

// RequestsInFlight adjusts the active request gauge by delta.
func (m *Metrics) RequestsInFlight(delta float64) {
	if m == nil {
		return
	}
	m.ActiveRequests.Add(delta)
}
