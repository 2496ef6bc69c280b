package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/intentguard/intentguard/internal/agent"
	"github.com/intentguard/intentguard/internal/audit"
	"github.com/intentguard/intentguard/internal/compliance"
	"github.com/intentguard/intentguard/internal/orchestrator"
	"github.com/intentguard/intentguard/internal/tirs/forensic"
)

// --- Gateway ---

func (s *Server) handleProcessRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action  string         `json:"action"`
		Payload map[string]any `json:"payload"`
		Context map[string]any `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	result := s.deps.Gateway.ProcessRequest(r.Context(), req.Action, req.Payload, req.Context)
	s.events.Broadcast("request", result)
	writeJSON(w, result)
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string                  `json:"name"`
		Parallel bool                    `json:"parallel"`
		Steps    []orchestrator.StepSpec `json:"steps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	id, err := s.deps.Gateway.CreateCustomWorkflow(req.Name, req.Steps, req.Parallel)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]string{"workflow_id": id})
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Params are optional; an empty body runs the workflow as defined.
	var req struct {
		Params map[string]any `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.deps.Gateway.ExecuteWorkflow(r.Context(), id, req.Params)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrWorkflowLimit):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case strings.Contains(err.Error(), "not registered"):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.events.Broadcast("workflow", result)
	writeJSON(w, result)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows := s.deps.Gateway.Engine().List()
	writeJSON(w, map[string]any{
		"workflows": workflows,
		"total":     len(workflows),
	})
}

// --- Agents ---

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	registered := s.deps.Gateway.Router().Agents()
	stats := make([]agent.Stats, 0, len(registered))
	for _, a := range registered {
		stats = append(stats, a.Stats())
	}
	writeJSON(w, map[string]any{
		"agents": stats,
		"total":  len(stats),
	})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, ok := s.deps.Gateway.Router().Agent(id)
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}

	resp := map[string]any{
		"agent":          a.Stats(),
		"snapshot_count": len(s.deps.Risk.Snapshots(id)),
	}
	if view, ok := s.deps.Risk.AgentView(id); ok {
		resp["risk"] = view
	}
	writeJSON(w, resp)
}

func (s *Server) handlePauseAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req := decodeAction(r)

	status, err := s.deps.Risk.Pause(id, req.Reason, req.By)
	if err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	writeJSON(w, map[string]any{"agent_id": id, "status": status})
}

func (s *Server) handleResumeAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req := decodeAction(r)

	status, err := s.deps.Risk.Resume(id, req.By)
	if err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	writeJSON(w, map[string]any{"agent_id": id, "status": status})
}

func (s *Server) handleKillAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req := decodeAction(r)
	if req.Reason == "" {
		req.Reason = "manual kill via api"
	}

	snap, err := s.deps.Risk.Kill(id, req.Reason, req.By)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	resp := map[string]any{"agent_id": id, "status": "killed"}
	if snap != nil {
		resp["snapshot_id"] = snap.SnapshotID
	}
	writeJSON(w, resp)
}

func (s *Server) handleResurrectAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req := decodeAction(r)

	status, err := s.deps.Risk.Resurrect(id, req.By)
	if err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	writeJSON(w, map[string]any{"agent_id": id, "status": status})
}

// --- Forensic snapshots ---

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id query parameter is required")
		return
	}

	snapshots := s.deps.Risk.Snapshots(agentID)
	writeJSON(w, map[string]any{
		"agent_id":  agentID,
		"snapshots": snapshots,
		"total":     len(snapshots),
	})
}

func (s *Server) handleVerifySnapshots(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")
	report := s.deps.Risk.VerifyChain(agentID)
	if !report.Valid {
		s.events.Broadcast("chain_integrity", report)
	}
	writeJSON(w, report)
}

func (s *Server) handleExportSnapshots(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")
	snapshots := s.deps.Risk.Snapshots(agentID)
	if len(snapshots) == 0 {
		writeError(w, http.StatusNotFound, "no snapshots recorded for agent")
		return
	}

	report := s.deps.Risk.VerifyChain(agentID)
	export := forensic.ChainExport{
		AgentID:       agentID,
		ExportedAt:    time.Now().UTC(),
		SnapshotCount: len(snapshots),
		ChainValid:    report.Valid,
		Snapshots:     snapshots,
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s-snapshots.json", agentID))
	writeJSON(w, export)
}

// --- Policies ---

// policyView is the wire form of a policy: static identity plus the
// live enabled flag and counters.
type policyView struct {
	compliance.Meta
	Enabled bool             `json:"enabled"`
	Stats   compliance.Stats `json:"stats"`
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	var categories []compliance.Category
	if c := r.URL.Query().Get("category"); c != "" {
		categories = append(categories, compliance.Category(c))
	}

	policies := s.deps.Compliance.Policies(categories...)
	views := make([]policyView, 0, len(policies))
	for _, p := range policies {
		views = append(views, policyView{
			Meta:    p.Meta(),
			Enabled: p.Enabled(),
			Stats:   p.Stats(),
		})
	}
	writeJSON(w, map[string]any{
		"policies": views,
		"total":    len(views),
	})
}

func (s *Server) handlePolicyStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"engine":     s.deps.Compliance.Stats(),
		"violations": s.deps.Compliance.ViolationSummary(),
	})
}

func (s *Server) handleReloadPolicies(w http.ResponseWriter, r *http.Request) {
	if s.deps.ReloadRules == nil {
		writeError(w, http.StatusBadRequest, "no operator rules file configured")
		return
	}
	if err := s.deps.ReloadRules(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reload: "+err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "reloaded"})
}

func (s *Server) handleEnablePolicy(w http.ResponseWriter, r *http.Request) {
	s.setPolicyEnabled(w, r, true)
}

func (s *Server) handleDisablePolicy(w http.ResponseWriter, r *http.Request) {
	s.setPolicyEnabled(w, r, false)
}

func (s *Server) setPolicyEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := r.PathValue("id")
	if !s.deps.Compliance.SetPolicyEnabled(id, enabled) {
		writeError(w, http.StatusNotFound, "policy not found")
		return
	}
	writeJSON(w, map[string]any{"policy_id": id, "enabled": enabled})
}

// --- Approvals ---

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if s.deps.Approvals == nil {
		writeJSON(w, map[string]any{"approvals": []any{}, "total": 0})
		return
	}

	pending := s.deps.Approvals.ListPending()
	writeJSON(w, map[string]any{
		"approvals": pending,
		"total":     len(pending),
	})
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	if s.deps.Approvals == nil {
		writeError(w, http.StatusBadRequest, "approval queue is not enabled")
		return
	}

	id := r.PathValue("id")
	var req struct {
		Approved *bool  `json:"approved"`
		By       string `json:"by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Approved == nil {
		writeError(w, http.StatusBadRequest, "approved is required")
		return
	}
	if req.By == "" {
		req.By = "api"
	}

	if err := s.deps.Approvals.Resolve(id, *req.Approved, req.By); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	status := "denied"
	if *req.Approved {
		status = "approved"
	}
	writeJSON(w, map[string]string{"approval_id": id, "status": status})
}

// --- Audit chain ---

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{
		EventType: audit.EventType(r.URL.Query().Get("event_type")),
		AgentID:   r.URL.Query().Get("agent_id"),
		Limit:     queryInt(r, "limit", 50),
		Offset:    queryInt(r, "offset", 0),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = &t
		}
	}

	entries, total, err := s.deps.Chain.Entries(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{
		"entries": entries,
		"total":   total,
	})
}

func (s *Server) handleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Chain.Verify()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !report.Valid {
		s.events.Broadcast("chain_integrity", report)
	}
	writeJSON(w, report)
}

// --- System ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"system":     s.deps.Gateway.SystemStatus(),
		"ws_clients": s.events.ClientCount(),
	}
	if s.deps.Hub != nil {
		resp["hub"] = s.deps.Hub.Stats()
	}
	if s.deps.Approvals != nil {
		resp["pending_approvals"] = len(s.deps.Approvals.ListPending())
	}
	if summary, err := s.deps.Chain.Summary(); err == nil {
		resp["audit"] = summary
	}
	writeJSON(w, resp)
}

// --- Helpers ---

// actionRequest is the shared body for agent lifecycle endpoints. The
// body is optional; the actor defaults to "api".
type actionRequest struct {
	Reason string `json:"reason"`
	By     string `json:"by"`
}

func decodeAction(r *http.Request) actionRequest {
	var req actionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.By == "" {
		req.By = "api"
	}
	return req
}

// lifecycleStatus maps an enforcement error onto an HTTP status:
// agents without a profile are 404, invalid transitions 409.
func lifecycleStatus(err error) int {
	if strings.Contains(err.Error(), "no profile") {
		return http.StatusNotFound
	}
	return http.StatusConflict
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
