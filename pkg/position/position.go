// Package position holds the position lifecycle: the two-stage exit state
// machine, the cost model and PnL settlement.
package position

import (
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/gating"
	"github.com/rangefx-bot/pkg/regime"
	"github.com/rangefx-bot/pkg/strategy"
)

// ErrInvariant marks a broken internal invariant. The replay halts on it.
var ErrInvariant = errors.New("invariant violation")

// State is the lifecycle stage of a position
type State string

const (
	StateOpen            State = "OPEN"
	StatePartiallyClosed State = "PARTIALLY_CLOSED"
	StateClosed          State = "CLOSED"
)

// CloseReason explains why a position reached CLOSED
type CloseReason string

const (
	ReasonStopLoss            CloseReason = "STOP_LOSS"
	ReasonTrailingStop        CloseReason = "TRAILING_STOP"
	ReasonRegimeDeterioration CloseReason = "REGIME_DETERIORATION"
	ReasonWeekendClose        CloseReason = "WEEKEND_CLOSE"
	ReasonDailyLossCap        CloseReason = "DAILY_LOSS_CAP"
	ReasonEndOfData           CloseReason = "END_OF_DATA"
)

// PartialFraction returns the share closed at the partial target for a
// regime score frozen at entry
func PartialFraction(entryScore float64) float64 {
	switch {
	case entryScore > 85:
		return 0.60
	case entryScore >= 70:
		return 0.70
	case entryScore >= 30:
		return 0.75
	default:
		return 0.80
	}
}

// TrailPoint is one accepted trailing stop level
type TrailPoint struct {
	Time  time.Time
	Price float64
}

// Position is an open or closed trade. Only the arbitration pipeline creates
// positions and only the exit machine changes them.
type Position struct {
	ID          string
	Instrument  config.Instrument
	Direction   strategy.Direction
	Module      string
	Session     gating.Session
	EntryPrice  float64 // after slippage
	SignalPrice float64
	StopPrice   float64
	Lots        float64
	EntryTime   time.Time
	EntryScore  float64
	EntryRegime regime.Regime
	RiskFrac    float64

	PartialFraction float64
	PartialPrice    float64
	PartialTime     time.Time

	TrailingStop float64
	TrailHistory []TrailPoint

	ClosePrice  float64
	CloseTime   time.Time
	CloseReason CloseReason

	PartialR   float64
	RunnerR    float64
	RealizedR  float64
	Commission decimal.Decimal
	PnL        decimal.Decimal

	State State
}

// New opens a position from an admitted signal. entry is the slipped fill.
func New(id string, inst config.Instrument, sig strategy.Signal, entry, lots, riskFrac float64, commission decimal.Decimal) *Position {
	return &Position{
		ID:              id,
		Instrument:      inst,
		Direction:       sig.Direction,
		Module:          sig.Module,
		Session:         sig.Session,
		EntryPrice:      entry,
		SignalPrice:     sig.Entry,
		StopPrice:       sig.Stop,
		Lots:            lots,
		EntryTime:       sig.BarTime,
		EntryScore:      sig.RegimeScore,
		EntryRegime:     sig.Regime,
		RiskFrac:        riskFrac,
		PartialFraction: PartialFraction(sig.RegimeScore),
		Commission:      commission,
		State:           StateOpen,
	}
}

// RiskDistance is the initial entry-to-stop distance in price
func (p *Position) RiskDistance() float64 {
	return math.Abs(p.EntryPrice - p.StopPrice)
}

// TargetPrice is the price at r multiples of initial risk in the trade's favour
func (p *Position) TargetPrice(r float64) float64 {
	return p.EntryPrice + p.Direction.Sign()*r*p.RiskDistance()
}

// RMultiple returns the signed R of exiting at price
func (p *Position) RMultiple(price float64) float64 {
	d := p.RiskDistance()
	if d == 0 {
		return 0
	}
	return p.Direction.Sign() * (price - p.EntryPrice) / d
}

// Pips returns the signed pip gain of exiting at price
func (p *Position) Pips(price float64) float64 {
	return p.Direction.Sign() * p.Instrument.Pips(price-p.EntryPrice)
}

// IsOpen reports whether the position still carries size
func (p *Position) IsOpen() bool {
	return p.State != StateClosed
}

// HasPartial reports whether the partial leg was taken
func (p *Position) HasPartial() bool {
	return !p.PartialTime.IsZero()
}

// Currencies returns the base and quote currency
func (p *Position) Currencies() (string, string) {
	return p.Instrument.Base, p.Instrument.Quote
}
