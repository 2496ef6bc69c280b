package drift

import (
	"sync"
	"time"
)

// VelocityConfig controls action-rate anomaly detection.
type VelocityConfig struct {
	Window          time.Duration `yaml:"window" json:"window"`
	InitialBaseline float64       `yaml:"initial_baseline" json:"initial_baseline"`
	SpikeRatio      float64       `yaml:"spike_ratio" json:"spike_ratio"`
	Alpha           float64       `yaml:"alpha" json:"alpha"`
}

// DefaultVelocityConfig returns a 5-minute window with a 2 actions/minute
// starting baseline; a rate at 3x baseline scores as a full anomaly.
func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{
		Window:          5 * time.Minute,
		InitialBaseline: 2.0,
		SpikeRatio:      3.0,
		Alpha:           0.1,
	}
}

// VelocitySample describes the action rate at one observation.
type VelocitySample struct {
	Rate     float64 `json:"rate"`
	Baseline float64 `json:"baseline"`
	Ratio    float64 `json:"ratio"`
	Anomaly  float64 `json:"anomaly"`
	InWindow int     `json:"in_window"`
}

// VelocityTracker tracks per-agent action rates against an exponentially
// updated baseline. The baseline moves only after the current ratio is
// read, so a single burst does not absorb itself into the baseline.
type VelocityTracker struct {
	mu        sync.Mutex
	cfg       VelocityConfig
	events    map[string][]time.Time
	baselines map[string]float64
}

// NewVelocityTracker creates a tracker, applying defaults for zero
// config fields.
func NewVelocityTracker(cfg VelocityConfig) *VelocityTracker {
	def := DefaultVelocityConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.InitialBaseline <= 0 {
		cfg.InitialBaseline = def.InitialBaseline
	}
	if cfg.SpikeRatio <= 1 {
		cfg.SpikeRatio = def.SpikeRatio
	}
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		cfg.Alpha = def.Alpha
	}
	return &VelocityTracker{
		cfg:       cfg,
		events:    make(map[string][]time.Time),
		baselines: make(map[string]float64),
	}
}

// Record registers one action at now and returns the resulting sample.
func (t *VelocityTracker) Record(agentID string, now time.Time) VelocitySample {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.baselines[agentID]; !ok {
		t.baselines[agentID] = t.cfg.InitialBaseline
	}

	events := append(t.events[agentID], now)
	cutoff := now.Add(-t.cfg.Window)
	pruned := events[:0]
	for _, ts := range events {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	t.events[agentID] = pruned

	sample := t.sampleLocked(agentID, len(pruned))

	baseline := t.baselines[agentID]
	t.baselines[agentID] = t.cfg.Alpha*sample.Rate + (1-t.cfg.Alpha)*baseline
	return sample
}

// Stats returns the current sample without recording an action.
func (t *VelocityTracker) Stats(agentID string, now time.Time) VelocitySample {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.cfg.Window)
	count := 0
	for _, ts := range t.events[agentID] {
		if ts.After(cutoff) {
			count++
		}
	}
	return t.sampleLocked(agentID, count)
}

// Reset drops all recorded state for an agent.
func (t *VelocityTracker) Reset(agentID string) {
	t.mu.Lock()
	delete(t.events, agentID)
	delete(t.baselines, agentID)
	t.mu.Unlock()
}

func (t *VelocityTracker) sampleLocked(agentID string, inWindow int) VelocitySample {
	windowMinutes := t.cfg.Window.Minutes()
	rate := float64(inWindow) / windowMinutes

	baseline, ok := t.baselines[agentID]
	if !ok {
		baseline = t.cfg.InitialBaseline
	}

	ratio := 1.0
	if baseline > 0 {
		ratio = rate / baseline
	}

	anomaly := 0.0
	switch {
	case ratio <= 1:
		anomaly = 0
	case ratio >= t.cfg.SpikeRatio:
		anomaly = 1
	default:
		anomaly = (ratio - 1) / (t.cfg.SpikeRatio - 1)
	}

	return VelocitySample{
		Rate:     rate,
		Baseline: baseline,
		Ratio:    ratio,
		Anomaly:  anomaly,
		InWindow: inWindow,
	}
}
