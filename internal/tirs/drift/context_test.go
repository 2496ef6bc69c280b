package drift

import (
	"math"
	"testing"
	"time"
)

func TestContextAt(t *testing.T) {
	cases := []struct {
		name     string
		at       time.Time
		wantTime TimeOfDay
		wantSea  Season
	}{
		{"weekday business", time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC), TimeBusiness, SeasonNormal},
		{"weekday evening", time.Date(2025, 1, 14, 20, 0, 0, 0, time.UTC), TimeAfterHours, SeasonNormal},
		{"saturday", time.Date(2025, 1, 11, 10, 0, 0, 0, time.UTC), TimeWeekend, SeasonNormal},
		{"quarter end", time.Date(2025, 3, 25, 10, 0, 0, 0, time.UTC), TimeBusiness, SeasonQuarterEnd},
		{"year end", time.Date(2025, 12, 16, 10, 0, 0, 0, time.UTC), TimeBusiness, SeasonYearEnd},
		{"late december counts as quarter end", time.Date(2025, 12, 22, 10, 0, 0, 0, time.UTC), TimeBusiness, SeasonQuarterEnd},
	}
	for _, tc := range cases {
		ctx := ContextAt(tc.at, "general", "standard")
		if ctx.TimeOfDay != tc.wantTime {
			t.Errorf("%s: TimeOfDay = %s, want %s", tc.name, ctx.TimeOfDay, tc.wantTime)
		}
		if ctx.Season != tc.wantSea {
			t.Errorf("%s: Season = %s, want %s", tc.name, ctx.Season, tc.wantSea)
		}
	}
}

func TestContextualMultiplier(t *testing.T) {
	ct := NewContextualThresholds(DefaultThresholds())

	ctx := Context{
		TimeOfDay:  TimeWeekend,
		Season:     SeasonNormal,
		Department: "finance",
		Role:       "admin",
		Sensitive:  true,
	}
	want := 0.75 * 0.90 * 0.90 * 0.85
	if m := ct.Multiplier(ctx); math.Abs(m-want) > 1e-9 {
		t.Errorf("Multiplier = %f, want %f", m, want)
	}

	adj := ct.Adjusted(ctx)
	if math.Abs(adj.Terminal-0.85*want) > 1e-9 {
		t.Errorf("Adjusted terminal = %f, want %f", adj.Terminal, 0.85*want)
	}
}

func TestContextualNeutralContext(t *testing.T) {
	ct := NewContextualThresholds(DefaultThresholds())
	ctx := Context{TimeOfDay: TimeBusiness, Season: SeasonNormal, Department: "general", Role: "standard"}

	if m := ct.Multiplier(ctx); m != 1.0 {
		t.Errorf("neutral multiplier = %f, want 1.0", m)
	}
}

func TestCustomThresholdRule(t *testing.T) {
	ct := NewContextualThresholds(DefaultThresholds())
	ct.AddRule(ThresholdRule{
		Name:       "ops_lockdown",
		Priority:   10,
		Multiplier: 0.5,
		Condition:  func(c Context) bool { return c.Department == "ops" },
	})

	ctx := Context{TimeOfDay: TimeBusiness, Season: SeasonNormal, Department: "ops", Role: "standard"}
	if m := ct.Multiplier(ctx); m != 0.5 {
		t.Errorf("rule multiplier = %f, want 0.5", m)
	}

	ctx.Department = "general"
	if m := ct.Multiplier(ctx); m != 1.0 {
		t.Errorf("non-matching rule multiplier = %f, want 1.0", m)
	}
}

func TestClassifyBoundaries(t *testing.T) {
	th := DefaultThresholds()

	cases := []struct {
		score float64
		want  RiskLevel
	}{
		{0.0, LevelNominal},
		{0.29, LevelNominal},
		{0.3, LevelElevated},
		{0.49, LevelElevated},
		{0.5, LevelWarning},
		{0.69, LevelWarning},
		{0.7, LevelCritical},
		{0.84, LevelCritical},
		{0.85, LevelTerminal},
		{1.0, LevelTerminal},
	}
	for _, tc := range cases {
		if got := th.Classify(tc.score); got != tc.want {
			t.Errorf("Classify(%f) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestRiskLevelOrdering(t *testing.T) {
	if !LevelTerminal.AtLeast(LevelCritical) {
		t.Error("Terminal should be at least Critical")
	}
	if LevelElevated.AtLeast(LevelWarning) {
		t.Error("Elevated should not be at least Warning")
	}
}
