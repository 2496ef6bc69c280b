package drift

import (
	"fmt"
	"sort"
)

// Kill forces an agent to Killed regardless of score. It returns a view
// for forensic snapshotting and whether the status actually changed.
// Unknown agents get a profile first so the kill sticks.
func (d *Detector) Kill(agentID string) (View, bool) {
	p := d.profile(agentID)
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status == StatusKilled {
		return p.viewLocked(), false
	}
	prev := p.status
	p.status = StatusKilled
	p.lastUpdated = d.clock.Now()
	d.logger.Warn("agent killed by admin", "agent_id", agentID, "from", prev)
	return p.viewLocked(), true
}

// Pause moves an agent to Paused without a risk crossing, for operator
// intervention ahead of investigation. Killed agents stay killed.
func (d *Detector) Pause(agentID string) (Status, error) {
	d.mu.RLock()
	p, ok := d.profiles[agentID]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("agent %q has no profile", agentID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status == StatusKilled {
		return StatusKilled, fmt.Errorf("agent %q is killed; use resurrect", agentID)
	}
	p.status = StatusPaused
	p.lastUpdated = d.clock.Now()
	d.logger.Warn("agent paused by admin", "agent_id", agentID)
	return StatusPaused, nil
}

// Resume restores a Throttled or Paused agent to Active. Resuming from
// Paused clears the risk history tail that forced the pause. Killed
// agents must go through Resurrect.
func (d *Detector) Resume(agentID string) (Status, error) {
	d.mu.RLock()
	p, ok := d.profiles[agentID]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("agent %q has no profile", agentID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.status {
	case StatusThrottled:
		p.status = StatusActive
	case StatusPaused:
		p.status = StatusActive
		p.riskHistory = nil
		p.currentRiskScore = 0
		p.lastLevel = LevelNominal
	case StatusKilled:
		return StatusKilled, fmt.Errorf("agent %q is killed; use resurrect", agentID)
	}
	p.lastUpdated = d.clock.Now()
	d.logger.Info("agent resumed", "agent_id", agentID, "status", p.status)
	return p.status, nil
}

// Resurrect moves a Killed agent to Resurrected. The warmup centroid,
// intent history, and risk history reset so the baseline is relearned
// from a clean window; violation and intent counters survive and the
// resurrection counter increments.
func (d *Detector) Resurrect(agentID string) (Status, error) {
	d.mu.RLock()
	p, ok := d.profiles[agentID]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("agent %q has no profile", agentID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != StatusKilled {
		return p.status, fmt.Errorf("agent %q is %s, not killed", agentID, p.status)
	}

	p.status = StatusResurrected
	p.resurrectionCount++
	p.baselineCentroid = nil
	p.warmupSeen = 0
	p.centroidFrozen = false
	p.intentHistory = nil
	p.riskHistory = nil
	p.currentRiskScore = 0
	p.lastLevel = LevelNominal
	p.lastUpdated = d.clock.Now()

	d.velocity.Reset(agentID)

	d.logger.Warn("agent resurrected", "agent_id", agentID, "resurrection_count", p.resurrectionCount)
	return StatusResurrected, nil
}

// StatusOf returns the agent's current status.
func (d *Detector) StatusOf(agentID string) (Status, bool) {
	d.mu.RLock()
	p, ok := d.profiles[agentID]
	d.mu.RUnlock()
	if !ok {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, true
}

// ViewOf returns a copy of the agent's observable profile state.
func (d *Detector) ViewOf(agentID string) (View, bool) {
	d.mu.RLock()
	p, ok := d.profiles[agentID]
	d.mu.RUnlock()
	if !ok {
		return View{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked(), true
}

// SetLastSnapshotHash records the content hash of the most recent
// forensic snapshot on the profile.
func (d *Detector) SetLastSnapshotHash(agentID, hash string) {
	d.mu.RLock()
	p, ok := d.profiles[agentID]
	d.mu.RUnlock()
	if !ok {
		return
	}
	p.mu.Lock()
	p.lastSnapshotHash = hash
	p.mu.Unlock()
}

// AllViews returns profile views for every known agent, sorted by agent
// id for stable output.
func (d *Detector) AllViews() []View {
	d.mu.RLock()
	profiles := make([]*Profile, 0, len(d.profiles))
	for _, p := range d.profiles {
		profiles = append(profiles, p)
	}
	d.mu.RUnlock()

	views := make([]View, 0, len(profiles))
	for _, p := range profiles {
		p.mu.Lock()
		views = append(views, p.viewLocked())
		p.mu.Unlock()
	}
	sort.Slice(views, func(i, j int) bool { return views[i].AgentID < views[j].AgentID })
	return views
}

// AgentRisk is one row in the risk summary.
type AgentRisk struct {
	AgentID   string  `json:"agent_id"`
	RiskScore float64 `json:"risk_score"`
	Status    Status  `json:"status"`
}

// Summary aggregates agent risk for dashboards.
type Summary struct {
	TotalAgents int                  `json:"total_agents"`
	ByStatus    map[Status]int       `json:"by_status"`
	HighRisk    []AgentRisk          `json:"high_risk"`
	Agents      map[string]AgentRisk `json:"agents"`
}

// Summarize builds a system-wide risk summary. Agents at or above the
// base warning threshold are listed as high risk.
func (d *Detector) Summarize() Summary {
	views := d.AllViews()
	s := Summary{
		TotalAgents: len(views),
		ByStatus:    make(map[Status]int),
		Agents:      make(map[string]AgentRisk, len(views)),
	}
	for _, v := range views {
		s.ByStatus[v.Status]++
		row := AgentRisk{AgentID: v.AgentID, RiskScore: v.CurrentRiskScore, Status: v.Status}
		s.Agents[v.AgentID] = row
		if v.CurrentRiskScore >= d.cfg.BaseThresholds.Warning {
			s.HighRisk = append(s.HighRisk, row)
		}
	}
	sort.Slice(s.HighRisk, func(i, j int) bool { return s.HighRisk[i].RiskScore > s.HighRisk[j].RiskScore })
	return s
}

// VelocityStats exposes the current velocity sample for an agent.
func (d *Detector) VelocityStats(agentID string) VelocitySample {
	return d.velocity.Stats(agentID, d.clock.Now())
}
