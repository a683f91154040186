// Package strategy holds the decision modules. Each module looks at one
// instrument's history and proposes at most one trade; none of them keep
// performance or cooldown state.
package strategy

import (
	"time"

	"github.com/rangefx-bot/pkg/gating"
	"github.com/rangefx-bot/pkg/regime"
)

// Direction is the side of a trade
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Sign returns +1 for Buy and -1 for Sell
func (d Direction) Sign() float64 {
	if d == Sell {
		return -1
	}
	return 1
}

// Opposite returns the other side
func (d Direction) Opposite() Direction {
	if d == Sell {
		return Buy
	}
	return Sell
}

// DefaultTargetR is the partial-exit trigger in multiples of initial risk
const DefaultTargetR = 1.5

// Signal is a proposed trade. It is consumed by the arbitration pipeline
// and discarded whether admitted or not.
type Signal struct {
	Instrument   string
	Direction    Direction
	Entry        float64
	Stop         float64
	TargetR      float64
	Module       string
	RegimeScore  float64
	Regime       regime.Regime
	RiskFraction float64 // proposed; zero lets the pipeline size it
	BarTime      time.Time
	Session      gating.Session
	Reason       string
}

// RiskDistance is the absolute entry-to-stop distance
func (s Signal) RiskDistance() float64 {
	d := s.Entry - s.Stop
	if d < 0 {
		return -d
	}
	return d
}

// StopOnLosingSide reports whether the stop is below a buy or above a sell
func (s Signal) StopOnLosingSide() bool {
	if s.Direction == Buy {
		return s.Stop < s.Entry
	}
	return s.Stop > s.Entry
}

// TargetPrice is the price at TargetR multiples of risk in the trade's favour
func (s Signal) TargetPrice() float64 {
	return s.Entry + s.Direction.Sign()*s.TargetR*s.RiskDistance()
}
