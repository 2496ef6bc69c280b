package drift

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/intentguard/intentguard/internal/embedding"
	"github.com/intentguard/intentguard/internal/fault"
)

// Clock abstracts wall time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// Weights are the per-signal multipliers. They must sum to 1.
type Weights struct {
	EmbeddingDrift      float64 `yaml:"embedding_drift" json:"embedding_drift"`
	CapabilitySurprisal float64 `yaml:"capability_surprisal" json:"capability_surprisal"`
	ViolationRate       float64 `yaml:"violation_rate" json:"violation_rate"`
	VelocityAnomaly     float64 `yaml:"velocity_anomaly" json:"velocity_anomaly"`
	ContextDeviation    float64 `yaml:"context_deviation" json:"context_deviation"`
}

// DefaultWeights returns the standard signal weighting.
func DefaultWeights() Weights {
	return Weights{
		EmbeddingDrift:      0.30,
		CapabilitySurprisal: 0.25,
		ViolationRate:       0.20,
		VelocityAnomaly:     0.15,
		ContextDeviation:    0.10,
	}
}

// Validate checks that the weights sum to 1 within floating tolerance.
func (w Weights) Validate() error {
	sum := w.EmbeddingDrift + w.CapabilitySurprisal + w.ViolationRate + w.VelocityAnomaly + w.ContextDeviation
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("signal weights sum to %v, want 1.0", sum)
	}
	return nil
}

// Config holds detector tuning. Zero fields take defaults.
type Config struct {
	Weights          Weights        `yaml:"weights" json:"weights"`
	BaseThresholds   Thresholds     `yaml:"thresholds" json:"thresholds"`
	WarmupIntents    int            `yaml:"warmup_intents" json:"warmup_intents"`
	RiskHistoryCap   int            `yaml:"risk_history_cap" json:"risk_history_cap"`
	IntentHistoryCap int            `yaml:"intent_history_cap" json:"intent_history_cap"`
	ViolationWindow  int            `yaml:"violation_window" json:"violation_window"`
	EmbeddingWindow  int            `yaml:"embedding_window" json:"embedding_window"`
	BlendCurrent     float64        `yaml:"blend_current" json:"blend_current"`
	Decay            DecayConfig    `yaml:"decay" json:"decay"`
	Velocity         VelocityConfig `yaml:"velocity" json:"velocity"`
}

// DefaultConfig returns standard detector tuning: ten warmup intents,
// 200-point risk history, 100-event intent history, a 20-intent
// violation window, and a 0.6/0.4 blend of current score against the
// decayed prior.
func DefaultConfig() Config {
	return Config{
		Weights:          DefaultWeights(),
		BaseThresholds:   DefaultThresholds(),
		WarmupIntents:    10,
		RiskHistoryCap:   200,
		IntentHistoryCap: 100,
		ViolationWindow:  20,
		EmbeddingWindow:  10,
		BlendCurrent:     0.6,
		Decay:            DefaultDecayConfig(),
		Velocity:         DefaultVelocityConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	zero := Weights{}
	if c.Weights == zero {
		c.Weights = def.Weights
	}
	if c.BaseThresholds.Warning <= 0 {
		c.BaseThresholds = def.BaseThresholds
	}
	if c.WarmupIntents <= 0 {
		c.WarmupIntents = def.WarmupIntents
	}
	if c.RiskHistoryCap <= 0 {
		c.RiskHistoryCap = def.RiskHistoryCap
	}
	if c.IntentHistoryCap <= 0 {
		c.IntentHistoryCap = def.IntentHistoryCap
	}
	if c.ViolationWindow <= 0 {
		c.ViolationWindow = def.ViolationWindow
	}
	if c.EmbeddingWindow <= 0 {
		c.EmbeddingWindow = def.EmbeddingWindow
	}
	if c.BlendCurrent <= 0 || c.BlendCurrent > 1 {
		c.BlendCurrent = def.BlendCurrent
	}
	return c
}

// Detector computes drift signals per agent and drives the status state
// machine. Profiles are created on first sight and guarded by their own
// locks; the profiles map itself has a separate read/write lock.
type Detector struct {
	cfg        Config
	oracle     embedding.Oracle
	thresholds *ContextualThresholds
	decay      *Decay
	velocity   *VelocityTracker
	clock      Clock
	logger     *slog.Logger

	mu       sync.RWMutex
	profiles map[string]*Profile

	intentSeq atomic.Uint64
}

// NewDetector creates a detector. A nil oracle falls back to the
// deterministic hashing oracle; a nil logger falls back to slog.Default.
func NewDetector(cfg Config, oracle embedding.Oracle, clock Clock, logger *slog.Logger) (*Detector, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if oracle == nil {
		oracle = embedding.NewHashingOracle(0)
	}
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		cfg:        cfg,
		oracle:     oracle,
		thresholds: NewContextualThresholds(cfg.BaseThresholds),
		decay:      NewDecay(cfg.Decay),
		velocity:   NewVelocityTracker(cfg.Velocity),
		clock:      clock,
		logger:     logger.With("component", "drift.Detector"),
		profiles:   make(map[string]*Profile),
	}, nil
}

// Thresholds exposes the contextual threshold adjuster so callers can
// register custom rules at startup.
func (d *Detector) Thresholds() *ContextualThresholds { return d.thresholds }

func (d *Detector) profile(agentID string) *Profile {
	d.mu.RLock()
	p, ok := d.profiles[agentID]
	d.mu.RUnlock()
	if ok {
		return p
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.profiles[agentID]; ok {
		return p
	}
	p = newProfile(agentID, d.clock.Now())
	d.profiles[agentID] = p
	d.logger.Info("profile created", "agent_id", agentID)
	return p
}

func (d *Detector) nextIntentID(now time.Time) string {
	return fmt.Sprintf("INT-%s-%06d", now.Format("20060102"), d.intentSeq.Add(1))
}

// Analyze scores one intent and advances the agent's status. It returns
// the result and, when the transition entered Paused or Killed, a
// profile view captured under the lock for forensic snapshotting.
//
// The embedding is computed before the profile lock is taken; all
// profile mutations commit together after the signals are known, so a
// deadline breach never leaves a partially updated profile.
func (d *Detector) Analyze(ctx context.Context, agentID, intentText string, capabilities []string, allowed bool, policyTriggered string, bctx Context) (*Result, *View, error) {
	vec, err := d.oracle.Embed(ctx, intentText)
	if err != nil {
		return nil, nil, fault.New(fault.KindExternalUnavailable, "embedding oracle: %v", err)
	}

	now := d.clock.Now()
	p := d.profile(agentID)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, nil, fault.New(fault.KindDeadlineExceeded, "analysis aborted before commit: %v", err)
	}

	adjusted := d.thresholds.Adjusted(bctx)

	if p.status == StatusKilled {
		return &Result{
			AgentID:        agentID,
			Timestamp:      now,
			RiskScore:      1.0,
			RawScore:       1.0,
			RiskLevel:      LevelTerminal,
			Status:         StatusKilled,
			PreviousStatus: StatusKilled,
			Thresholds:     adjusted,
		}, nil, nil
	}

	intentID := d.nextIntentID(now)
	sample := d.velocity.Record(agentID, now)

	warming := !p.centroidFrozen && p.warmupSeen < d.cfg.WarmupIntents

	var signals []Signal
	var raw float64
	var centroidDistance float64

	if warming {
		p.absorbCentroidLocked(vec, d.cfg.WarmupIntents)
		signals = zeroSignals(d.cfg.Weights)
	} else {
		centroidDistance = embedding.CosineDistance(vec, p.baselineCentroid)
		signals = d.computeSignalsLocked(p, centroidDistance, capabilities, sample, bctx, now)
		for _, s := range signals {
			raw += s.Contribution
		}
		raw = clamp01(raw)
	}

	smoothed := d.smoothLocked(p, raw, now)
	level := LevelNominal
	if !warming {
		level = adjusted.Classify(smoothed)
	}

	prev := p.status
	next := transition(prev, level)
	p.status = next
	changed := next != prev

	ev := IntentEvent{
		IntentID:         intentID,
		Timestamp:        now,
		IntentText:       intentText,
		Capabilities:     capabilities,
		Allowed:          allowed,
		PolicyTriggered:  policyTriggered,
		RiskScore:        smoothed,
		RiskLevel:        level,
		CentroidDistance: centroidDistance,
	}
	p.recordLocked(ev, d.cfg.RiskHistoryCap, d.cfg.IntentHistoryCap)

	res := &Result{
		AgentID:        agentID,
		IntentID:       intentID,
		Timestamp:      now,
		RiskScore:      smoothed,
		RawScore:       raw,
		RiskLevel:      level,
		Signals:        signals,
		Status:         next,
		PreviousStatus: prev,
		StatusChanged:  changed,
		Thresholds:     adjusted,
		Warmup:         warming,
	}

	var view *View
	if changed && (next == StatusPaused || next == StatusKilled) {
		v := p.viewLocked()
		view = &v
	}

	if changed {
		d.logger.Warn("agent status changed",
			"agent_id", agentID,
			"from", prev,
			"to", next,
			"risk_score", smoothed,
			"risk_level", level)
	}

	return res, view, nil
}

// transition applies the status state machine for a classified score.
// Killed is absorbing; Paused only worsens; everything else follows the
// level directly.
func transition(from Status, level RiskLevel) Status {
	switch from {
	case StatusKilled:
		return StatusKilled
	case StatusPaused:
		if level == LevelTerminal {
			return StatusKilled
		}
		return StatusPaused
	default:
		switch level {
		case LevelTerminal:
			return StatusKilled
		case LevelCritical:
			return StatusPaused
		case LevelWarning:
			return StatusThrottled
		default:
			return StatusActive
		}
	}
}

func zeroSignals(w Weights) []Signal {
	names := []struct {
		name   string
		weight float64
	}{
		{SignalEmbeddingDrift, w.EmbeddingDrift},
		{SignalCapabilitySurprisal, w.CapabilitySurprisal},
		{SignalViolationRate, w.ViolationRate},
		{SignalVelocityAnomaly, w.VelocityAnomaly},
		{SignalContextDeviation, w.ContextDeviation},
	}
	out := make([]Signal, 0, len(names))
	for _, n := range names {
		out = append(out, Signal{
			Name:        n.name,
			Weight:      n.weight,
			Explanation: "baseline warmup in progress",
		})
	}
	return out
}

func (d *Detector) computeSignalsLocked(p *Profile, distNow float64, capabilities []string, sample VelocitySample, bctx Context, now time.Time) []Signal {
	w := d.cfg.Weights

	points := append(p.recentDistancesLocked(d.cfg.EmbeddingWindow), TimedValue{Time: now, Value: distNow})
	embDrift := clamp01(d.decay.WeightedAverage(points, now))

	surprisal := surprisalLocked(p, capabilities)
	violations := p.violationRateLocked(d.cfg.ViolationWindow)
	contextDev := clamp01(1 - d.thresholds.Multiplier(bctx))

	return []Signal{
		{
			Name:         SignalEmbeddingDrift,
			RawValue:     embDrift,
			Weight:       w.EmbeddingDrift,
			Contribution: embDrift * w.EmbeddingDrift,
			Explanation:  fmt.Sprintf("semantic distance from behavioral centroid: %.3f", embDrift),
		},
		{
			Name:         SignalCapabilitySurprisal,
			RawValue:     surprisal,
			Weight:       w.CapabilitySurprisal,
			Contribution: surprisal * w.CapabilitySurprisal,
			Explanation:  fmt.Sprintf("unusual capability request: %.3f", surprisal),
		},
		{
			Name:         SignalViolationRate,
			RawValue:     violations,
			Weight:       w.ViolationRate,
			Contribution: violations * w.ViolationRate,
			Explanation:  fmt.Sprintf("recent violation rate: %.3f", violations),
		},
		{
			Name:         SignalVelocityAnomaly,
			RawValue:     sample.Anomaly,
			Weight:       w.VelocityAnomaly,
			Contribution: sample.Anomaly * w.VelocityAnomaly,
			Explanation:  fmt.Sprintf("action rate %.1f/min vs baseline %.1f/min", sample.Rate, sample.Baseline),
		},
		{
			Name:         SignalContextDeviation,
			RawValue:     contextDev,
			Weight:       w.ContextDeviation,
			Contribution: contextDev * w.ContextDeviation,
			Explanation:  fmt.Sprintf("context risk factors: %.3f", contextDev),
		},
	}
}

// surprisalLocked averages the normalized self-information of each
// requested capability under the profile's Laplace-smoothed frequency
// distribution. Callers must hold p.mu.
func surprisalLocked(p *Profile, capabilities []string) float64 {
	vocab := len(p.capabilityCounts)
	if vocab == 0 || len(capabilities) == 0 {
		return 0
	}
	total := 0
	for _, c := range p.capabilityCounts {
		total += c
	}
	denom := math.Log2(float64(vocab) + 1)
	if denom <= 0 {
		return 0
	}

	var sum float64
	for _, name := range capabilities {
		count := p.capabilityCounts[name]
		prob := (float64(count) + 1) / (float64(total) + float64(vocab) + 1)
		sum += clamp01(-math.Log2(prob) / denom)
	}
	return clamp01(sum / float64(len(capabilities)))
}

// smoothLocked blends the current composite with the decayed previous
// score. With no prior history the composite stands alone. Callers must
// hold p.mu.
func (d *Detector) smoothLocked(p *Profile, raw float64, now time.Time) float64 {
	if len(p.riskHistory) == 0 {
		return clamp01(raw)
	}
	prior := p.riskHistory[len(p.riskHistory)-1]
	decayed := prior.Score * d.decay.Weight(now.Sub(prior.Time))
	blend := d.cfg.BlendCurrent
	return clamp01(blend*raw + (1-blend)*decayed)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
