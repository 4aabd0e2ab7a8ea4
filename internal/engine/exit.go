package engine

import (
	"math"
	"time"

	"hedgearb/internal/config"
	"hedgearb/internal/position"
)

// Decision is what the exit policy wants done with an open position right now.
type Decision int

const (
	Hold Decision = iota
	Close
	AddOn
)

func (d Decision) String() string {
	switch d {
	case Close:
		return "close"
	case AddOn:
		return "add-on"
	default:
		return "hold"
	}
}

// ExitPolicy holds the spread thresholds and hold windows that drive entry
// classification and the close/add-on decisions. All spreads are compared as
// absolute values in quote-currency units.
type ExitPolicy struct {
	OpenThreshold         float64
	LowThreshold          float64
	ConvergenceCloseRatio float64
	DivergenceCloseRatio  float64
	AddOnConvergenceRatio float64
	AddOnDivergenceRatio  float64
	MinHold               time.Duration
	MaxHold               time.Duration
}

func PolicyFromConfig(cfg config.Config) ExitPolicy {
	return ExitPolicy{
		OpenThreshold:         cfg.Exit.OpenThreshold,
		LowThreshold:          cfg.Exit.LowThreshold,
		ConvergenceCloseRatio: cfg.Exit.ConvergenceCloseRatio,
		DivergenceCloseRatio:  cfg.Exit.DivergenceCloseRatio,
		AddOnConvergenceRatio: cfg.Exit.AddOnConvergenceRatio,
		AddOnDivergenceRatio:  cfg.Exit.AddOnDivergenceRatio,
		MinHold:               time.Duration(cfg.Exit.MinHoldSeconds) * time.Second,
		MaxHold:               time.Duration(cfg.Exit.MaxHoldSeconds) * time.Second,
	}
}

// Classify maps the observed best spread onto an entry strategy. Wide spreads
// enter convergence (bet on narrowing), tight spreads enter divergence (bet on
// widening); anything in between is no entry.
func (p ExitPolicy) Classify(bestSpread float64) (position.StrategyType, bool) {
	s := math.Abs(bestSpread)
	switch {
	case s >= p.OpenThreshold:
		return position.Convergence, true
	case s <= p.LowThreshold:
		return position.Divergence, true
	default:
		return "", false
	}
}

// Evaluate decides hold/close/add-on for an open position given the current
// spread. Close requires the minimum hold time to have elapsed, except when
// the maximum hold ceiling forces the issue. The add-on fires at most once
// and only while the spread keeps moving in the entry direction.
func (p ExitPolicy) Evaluate(pos *position.ArbitragePosition, current float64, now time.Time) Decision {
	held := pos.HeldFor(now)
	if p.MaxHold > 0 && held >= p.MaxHold {
		return Close
	}
	if held < p.MinHold {
		return Hold
	}

	cur := math.Abs(current)
	entry := pos.EntrySpread
	if entry <= 0 {
		return Hold
	}
	switch pos.Strategy {
	case position.Convergence:
		if cur < entry*p.ConvergenceCloseRatio {
			return Close
		}
		if pos.CanAddOn() && cur >= entry*p.AddOnConvergenceRatio {
			return AddOn
		}
	case position.Divergence:
		if cur > entry*p.DivergenceCloseRatio {
			return Close
		}
		if pos.CanAddOn() && cur <= entry*p.AddOnDivergenceRatio {
			return AddOn
		}
	case position.Volume:
		// Volume positions carry no spread view; min hold elapsed is enough.
		return Close
	}
	return Hold
}
