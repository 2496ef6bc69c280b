package drift

import (
	"math"
	"time"
)

// DecayConfig controls exponential time decay of historical values.
type DecayConfig struct {
	HalfLife  time.Duration `yaml:"half_life" json:"half_life"`
	MinWeight float64       `yaml:"min_weight" json:"min_weight"`
	MaxWeight float64       `yaml:"max_weight" json:"max_weight"`
}

// DefaultDecayConfig returns a 30-minute half-life with weights clamped
// to [0.1, 1.0] so old events never vanish entirely.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		HalfLife:  30 * time.Minute,
		MinWeight: 0.1,
		MaxWeight: 1.0,
	}
}

// Decay computes exponential temporal weights for timestamped values.
type Decay struct {
	cfg DecayConfig
	k   float64 // ln2 / half-life in seconds
}

// NewDecay creates a Decay from cfg, applying defaults for zero fields.
func NewDecay(cfg DecayConfig) *Decay {
	def := DefaultDecayConfig()
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = def.HalfLife
	}
	if cfg.MinWeight <= 0 {
		cfg.MinWeight = def.MinWeight
	}
	if cfg.MaxWeight <= 0 {
		cfg.MaxWeight = def.MaxWeight
	}
	return &Decay{cfg: cfg, k: math.Ln2 / cfg.HalfLife.Seconds()}
}

// Weight returns the decay weight for an event of the given age, clamped
// to [MinWeight, MaxWeight]. Non-positive ages weigh MaxWeight.
func (d *Decay) Weight(age time.Duration) float64 {
	if age <= 0 {
		return d.cfg.MaxWeight
	}
	w := math.Exp(-d.k * age.Seconds())
	if w < d.cfg.MinWeight {
		return d.cfg.MinWeight
	}
	if w > d.cfg.MaxWeight {
		return d.cfg.MaxWeight
	}
	return w
}

// TimedValue is a value observed at a point in time.
type TimedValue struct {
	Time  time.Time
	Value float64
}

// WeightedAverage returns the decay-weighted average of values as of now.
// An empty slice averages to zero.
func (d *Decay) WeightedAverage(values []TimedValue, now time.Time) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum, total float64
	for _, v := range values {
		w := d.Weight(now.Sub(v.Time))
		sum += w * v.Value
		total += w
	}
	if total == 0 {
		return 0
	}
	return sum / total
}
