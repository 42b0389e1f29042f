// Package probability implements the recovery probability engine: a
// fixed-step decay simulation with once-per-day interaction impulses.
package probability

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Boost is a one-time additive impulse attributed to a specific day.
type Boost struct {
	Day    int     `json:"day"`
	Weight float64 `json:"weight"`
}

// Engine computes recovery probabilities. Pure and safe for concurrent use;
// configuration is fixed at construction.
type Engine struct {
	decayRate   float64
	boostFactor float64
	step        float64
}

// NewEngine creates an engine from explicit configuration. Zero-valued
// fields fall back to the documented defaults (k=0.03/day, boost 0.15,
// step 0.1 day).
func NewEngine(cfg domain.EngineConfig) *Engine {
	if cfg.DecayRate <= 0 {
		cfg.DecayRate = 0.03
	}
	if cfg.BoostFactor <= 0 {
		cfg.BoostFactor = 0.15
	}
	if cfg.Step <= 0 {
		cfg.Step = 0.1
	}
	return &Engine{
		decayRate:   cfg.DecayRate,
		boostFactor: cfg.BoostFactor,
		step:        cfg.Step,
	}
}

// Predict integrates dP/dt = -k*P from t=0 to t=daysOverdue with discrete
// impulses. The step size, impulse ordering, and clamp order are part of the
// observable contract: each step computes the decay delta from the pre-boost
// value, applies at most one boost per integer day, then adds the delta and
// clamps to [0,1]. Given identical inputs the result is bit-for-bit
// reproducible. The result is rounded to 4 decimal places.
func (e *Engine) Predict(initial float64, daysOverdue int, boosts []Boost) (float64, error) {
	if initial < 0 || initial > 1 {
		return 0, fmt.Errorf("%w: initial probability %v outside [0,1]", domain.ErrInvalidInput, initial)
	}
	if daysOverdue < 0 {
		return 0, fmt.Errorf("%w: negative days overdue %d", domain.ErrInvalidInput, daysOverdue)
	}

	// Day-keyed impulse map; when multiple boosts target the same day the
	// last one wins. Boosts past daysOverdue never fire and are ignored.
	byDay := make(map[int]float64, len(boosts))
	for _, b := range boosts {
		if b.Weight < 0 {
			return 0, fmt.Errorf("%w: negative boost weight %v on day %d", domain.ErrInvalidInput, b.Weight, b.Day)
		}
		if b.Day < 0 {
			return 0, fmt.Errorf("%w: negative boost day %d", domain.ErrInvalidInput, b.Day)
		}
		byDay[b.Day] = b.Weight
	}

	p := initial
	steps := int(float64(daysOverdue) / e.step)
	applied := make(map[int]bool, len(byDay))

	for i := 0; i < steps; i++ {
		t := float64(i) * e.step
		day := int(t)

		// Continuous decay, computed before the impulse lands.
		dP := -e.decayRate * p * e.step

		// Discrete impulse, at most once per day.
		if w, ok := byDay[day]; ok && !applied[day] {
			p += e.boostFactor * w
			applied[day] = true
		}

		p += dP

		// Clamp every step to keep the trajectory in range.
		p = clamp(p)
	}

	// An interaction logged on the current day lands exactly at the horizon
	// boundary; its impulse still counts, with no further decay after it.
	if w, ok := byDay[daysOverdue]; ok && !applied[daysOverdue] {
		p += e.boostFactor * w
		p = clamp(p)
	}

	return round4(p), nil
}

func clamp(p float64) float64 {
	return math.Max(0.0, math.Min(p, 1.0))
}

func round4(p float64) float64 {
	return math.Round(p*10000) / 10000
}
