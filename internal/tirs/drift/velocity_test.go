package drift

import (
	"testing"
	"time"
)

func TestVelocityFirstActionIsCalm(t *testing.T) {
	tr := NewVelocityTracker(VelocityConfig{Window: time.Minute, InitialBaseline: 1.0, SpikeRatio: 3.0, Alpha: 0.1})
	now := time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)

	s := tr.Record("agent-1", now)
	if s.Anomaly != 0 {
		t.Errorf("first record anomaly = %f, want 0", s.Anomaly)
	}
	if s.InWindow != 1 {
		t.Errorf("InWindow = %d, want 1", s.InWindow)
	}
}

func TestVelocityBurstScoresAnomalous(t *testing.T) {
	tr := NewVelocityTracker(VelocityConfig{Window: time.Minute, InitialBaseline: 1.0, SpikeRatio: 3.0, Alpha: 0.1})
	now := time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)

	var peak float64
	for i := 0; i < 10; i++ {
		s := tr.Record("agent-1", now.Add(time.Duration(i)*time.Second))
		if s.Anomaly > peak {
			peak = s.Anomaly
		}
	}
	if peak < 1.0 {
		t.Errorf("burst peak anomaly = %f, want 1.0", peak)
	}
}

func TestVelocityBaselineUpdatesAfterRead(t *testing.T) {
	tr := NewVelocityTracker(VelocityConfig{Window: time.Minute, InitialBaseline: 1.0, SpikeRatio: 3.0, Alpha: 0.1})
	now := time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)

	tr.Record("agent-1", now)
	s := tr.Record("agent-1", now)
	// Second record reads the baseline produced after the first
	// (0.1*1 + 0.9*1 = 1.0), not one inflated by its own rate.
	if s.Baseline != 1.0 {
		t.Errorf("second record baseline = %f, want 1.0", s.Baseline)
	}
	if s.Ratio != 2.0 {
		t.Errorf("second record ratio = %f, want 2.0", s.Ratio)
	}
}

func TestVelocityWindowPrunes(t *testing.T) {
	tr := NewVelocityTracker(VelocityConfig{Window: time.Minute, InitialBaseline: 1.0, SpikeRatio: 3.0, Alpha: 0.1})
	now := time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)

	tr.Record("agent-1", now)
	s := tr.Record("agent-1", now.Add(2*time.Minute))
	if s.InWindow != 1 {
		t.Errorf("InWindow after window elapsed = %d, want 1", s.InWindow)
	}
}

func TestVelocityReset(t *testing.T) {
	tr := NewVelocityTracker(VelocityConfig{})
	now := time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)

	tr.Record("agent-1", now)
	tr.Reset("agent-1")
	s := tr.Stats("agent-1", now)
	if s.InWindow != 0 {
		t.Errorf("InWindow after reset = %d, want 0", s.InWindow)
	}
	if s.Baseline != DefaultVelocityConfig().InitialBaseline {
		t.Errorf("baseline after reset = %f, want initial", s.Baseline)
	}
}
