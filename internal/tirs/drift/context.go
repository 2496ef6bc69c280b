package drift

import (
	"sort"
	"sync"
	"time"
)

// TimeOfDay classifies when an action happens.
type TimeOfDay string

const (
	TimeBusiness   TimeOfDay = "business"
	TimeAfterHours TimeOfDay = "after_hours"
	TimeWeekend    TimeOfDay = "weekend"
	TimeHoliday    TimeOfDay = "holiday"
)

// Season classifies the business calendar period.
type Season string

const (
	SeasonNormal     Season = "normal"
	SeasonQuarterEnd Season = "quarter_end"
	SeasonYearEnd    Season = "year_end"
	SeasonAudit      Season = "audit"
	SeasonPeak       Season = "peak"
)

// Context carries the business context of one action. Multipliers below
// 1.0 tighten thresholds; above 1.0 they loosen.
type Context struct {
	TimeOfDay   TimeOfDay          `json:"time_of_day"`
	Season      Season             `json:"season"`
	Department  string             `json:"department"`
	Role        string             `json:"role"`
	Sensitive   bool               `json:"sensitive"`
	Multipliers map[string]float64 `json:"multipliers,omitempty"`
}

// ContextAt derives a Context from a wall-clock time. Business hours are
// 09:00-17:00 on weekdays; the last third of a quarter-end month counts
// as quarter end, and mid-December onward as year end.
func ContextAt(t time.Time, department, role string) Context {
	ctx := Context{
		TimeOfDay:  TimeBusiness,
		Season:     SeasonNormal,
		Department: department,
		Role:       role,
	}

	switch {
	case t.Weekday() == time.Saturday || t.Weekday() == time.Sunday:
		ctx.TimeOfDay = TimeWeekend
	case t.Hour() >= 9 && t.Hour() < 17:
		ctx.TimeOfDay = TimeBusiness
	default:
		ctx.TimeOfDay = TimeAfterHours
	}

	month, day := t.Month(), t.Day()
	switch {
	case (month == time.March || month == time.June || month == time.September || month == time.December) && day >= 20:
		ctx.Season = SeasonQuarterEnd
	case month == time.December && day >= 15:
		ctx.Season = SeasonYearEnd
	}

	return ctx
}

// Thresholds are the score boundaries for Warning, Critical, and
// Terminal classification. Elevated starts at a fixed 0.3.
type Thresholds struct {
	Warning  float64 `yaml:"warning" json:"warning"`
	Critical float64 `yaml:"critical" json:"critical"`
	Terminal float64 `yaml:"terminal" json:"terminal"`
}

// DefaultThresholds returns the base boundaries before context
// adjustment.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 0.5, Critical: 0.7, Terminal: 0.85}
}

// Classify maps a score to a risk level. Boundaries are inclusive on the
// upper side: a score exactly at Terminal classifies as Terminal.
func (t Thresholds) Classify(score float64) RiskLevel {
	switch {
	case score >= t.Terminal:
		return LevelTerminal
	case score >= t.Critical:
		return LevelCritical
	case score >= t.Warning:
		return LevelWarning
	case score >= 0.3:
		return LevelElevated
	default:
		return LevelNominal
	}
}

var timeMultipliers = map[TimeOfDay]float64{
	TimeBusiness:   1.0,
	TimeAfterHours: 0.85,
	TimeWeekend:    0.75,
	TimeHoliday:    0.70,
}

var seasonMultipliers = map[Season]float64{
	SeasonNormal:     1.0,
	SeasonQuarterEnd: 0.90,
	SeasonYearEnd:    0.85,
	SeasonAudit:      0.80,
	SeasonPeak:       0.95,
}

var roleMultipliers = map[string]float64{
	"admin":      0.90,
	"manager":    0.95,
	"standard":   1.0,
	"contractor": 0.85,
	"external":   0.75,
}

var departmentMultipliers = map[string]float64{
	"finance":  0.90,
	"legal":    0.85,
	"hr":       0.90,
	"security": 0.80,
	"it":       0.95,
	"general":  1.0,
}

const sensitiveMultiplier = 0.85

// ThresholdRule is a custom adjustment applied when its condition
// matches. Rules run in descending priority order.
type ThresholdRule struct {
	Name       string
	Priority   int
	Multiplier float64
	Condition  func(Context) bool
}

// ContextualThresholds adjusts base thresholds by the product of all
// applicable multipliers.
type ContextualThresholds struct {
	base Thresholds

	mu    sync.RWMutex
	rules []ThresholdRule
}

// NewContextualThresholds creates an adjuster over the given base.
func NewContextualThresholds(base Thresholds) *ContextualThresholds {
	if base.Warning <= 0 || base.Critical <= 0 || base.Terminal <= 0 {
		base = DefaultThresholds()
	}
	return &ContextualThresholds{base: base}
}

// Base returns the unadjusted thresholds.
func (c *ContextualThresholds) Base() Thresholds { return c.base }

// AddRule registers a custom rule. Rules are kept sorted by priority.
func (c *ContextualThresholds) AddRule(rule ThresholdRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, rule)
	sort.SliceStable(c.rules, func(i, j int) bool {
		return c.rules[i].Priority > c.rules[j].Priority
	})
}

// Multiplier returns the composite multiplier for a context.
func (c *ContextualThresholds) Multiplier(ctx Context) float64 {
	m := 1.0
	if v, ok := timeMultipliers[ctx.TimeOfDay]; ok {
		m *= v
	}
	if v, ok := seasonMultipliers[ctx.Season]; ok {
		m *= v
	}
	if v, ok := roleMultipliers[ctx.Role]; ok {
		m *= v
	}
	if v, ok := departmentMultipliers[ctx.Department]; ok {
		m *= v
	}
	if ctx.Sensitive {
		m *= sensitiveMultiplier
	}
	for _, v := range ctx.Multipliers {
		m *= v
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, rule := range c.rules {
		if rule.Condition != nil && rule.Condition(ctx) {
			m *= rule.Multiplier
		}
	}
	return m
}

// Adjusted returns the thresholds scaled for a context.
func (c *ContextualThresholds) Adjusted(ctx Context) Thresholds {
	m := c.Multiplier(ctx)
	return Thresholds{
		Warning:  c.base.Warning * m,
		Critical: c.base.Critical * m,
		Terminal: c.base.Terminal * m,
	}
}
