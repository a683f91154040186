// Package risk holds position sizing and the portfolio-level trackers the
// arbitration pipeline consults: daily limits, per-module performance and
// cooldown, price-level re-entry cooldown and currency exposure.
package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/strategy"
)

var (
	// ErrInvalidStop means the stop is not on the losing side of entry
	ErrInvalidStop = errors.New("stop on wrong side of entry")
	// ErrStopTooTight means the stop distance is under the pip floor
	ErrStopTooTight = errors.New("stop distance below minimum")
	// ErrRiskTooLow means the multiplied risk fraction is below the minimum
	ErrRiskTooLow = errors.New("risk fraction below minimum")
)

// ConfidenceMultiplier scales risk by how clearly the regime score sits
// inside its band. Scores near a boundary are penalised.
func ConfidenceMultiplier(score float64) float64 {
	switch {
	case math.Abs(score-30) <= 5 || math.Abs(score-70) <= 5:
		return 0.7
	case score > 85:
		return 1.2
	case score >= 45 && score <= 55:
		return 0.8
	default:
		return 1.0
	}
}

// PerformanceMultiplier maps a module's summed R over its recent window to
// a risk multiplier
func PerformanceMultiplier(windowR float64) float64 {
	switch {
	case windowR >= 5:
		return 1.3
	case windowR >= 2:
		return 1.1
	case windowR >= 0:
		return 1.0
	case windowR >= -2:
		return 0.8
	default:
		return 0.6
	}
}

// ValidateStop validates that the stop is on the losing side of entry
func ValidateStop(entry, stop float64, dir strategy.Direction) bool {
	if dir == strategy.Sell {
		// For shorts, stop should be above entry
		return stop > entry
	}
	return stop < entry
}

// CalculateLots converts a risk amount into lots, floored to 0.01 and
// clamped to [minLot, maxLot]
func CalculateLots(riskAmount, stopPips, pipValue, minLot, maxLot float64) (float64, error) {
	if riskAmount <= 0 {
		return 0, fmt.Errorf("risk amount must be > 0")
	}
	if stopPips <= 0 || pipValue <= 0 {
		return 0, fmt.Errorf("stop pips and pip value must be > 0")
	}
	lots := math.Floor(riskAmount/(stopPips*pipValue)*100+1e-9) / 100
	if lots > maxLot {
		lots = maxLot
	}
	if lots < minLot {
		lots = minLot
	}
	return lots, nil
}

// Sizing is the outcome of a successful size calculation
type Sizing struct {
	RawRisk      float64 // base x confidence x performance, before clamping
	RiskFraction float64
	Confidence   float64
	Performance  float64
	StopPips     float64
	RiskAmount   float64
	Lots         float64
}

// Sizer computes position size from equity, stop distance and multipliers
type Sizer struct {
	baseRisk    float64
	minRisk     float64
	maxRisk     float64
	floorRisk   float64
	minLot      float64
	maxLot      float64
	minStopPips float64
}

// NewSizer creates a sizer from configuration
func NewSizer(cfg *config.Config) *Sizer {
	return &Sizer{
		baseRisk:    cfg.BaseRiskPct,
		minRisk:     cfg.MinRiskPct,
		maxRisk:     cfg.MaxRiskPct,
		floorRisk:   cfg.BaseRiskPct,
		minLot:      cfg.MinLot,
		maxLot:      cfg.MaxLot,
		minStopPips: cfg.MinStopPips,
	}
}

// MinStopPips returns the stop distance floor
func (s *Sizer) MinStopPips() float64 {
	return s.minStopPips
}

// Size checks the stop and returns the lots to trade. base overrides the
// configured base risk when positive. The checks run in a fixed order: stop
// side, stop distance, then risk fraction before clamping.
func (s *Sizer) Size(inst config.Instrument, dir strategy.Direction, entry, stop, equity, score, windowR, base float64) (Sizing, error) {
	if !ValidateStop(entry, stop, dir) {
		return Sizing{}, fmt.Errorf("%w: %s entry %.5f stop %.5f", ErrInvalidStop, dir, entry, stop)
	}
	stopPips := inst.Pips(math.Abs(entry - stop))
	// one part in 1e9 absorbs float noise at exactly the floor
	if stopPips < s.minStopPips*(1-1e-9) {
		return Sizing{}, fmt.Errorf("%w: %.1f pips < %.1f", ErrStopTooTight, stopPips, s.minStopPips)
	}

	if base <= 0 {
		base = s.baseRisk
	}
	sz := Sizing{
		Confidence:  ConfidenceMultiplier(score),
		Performance: PerformanceMultiplier(windowR),
		StopPips:    stopPips,
	}
	sz.RawRisk = base * sz.Confidence * sz.Performance
	if sz.RawRisk < s.minRisk {
		return Sizing{}, fmt.Errorf("%w: %.4f < %.4f", ErrRiskTooLow, sz.RawRisk, s.minRisk)
	}
	sz.RiskFraction = math.Max(s.floorRisk, math.Min(s.maxRisk, sz.RawRisk))
	sz.RiskAmount = equity * sz.RiskFraction

	lots, err := CalculateLots(sz.RiskAmount, stopPips, inst.PipValuePerLot, s.minLot, s.maxLot)
	if err != nil {
		return Sizing{}, err
	}
	sz.Lots = lots
	return sz, nil
}
