package position

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rangefx-bot/pkg/bars"
	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/strategy"
)

// touchEpsilon lets a bar that reaches a level exactly count as a touch
const touchEpsilon = 1e-9

// EventKind says what an exit event did to a position
type EventKind string

const (
	EventPartial EventKind = "PARTIAL"
	EventClose   EventKind = "CLOSE"
)

// Event is one fill produced by the exit machine
type Event struct {
	Kind   EventKind
	Price  float64 // after slippage
	Time   time.Time
	Reason CloseReason
	R      float64 // R of this leg
}

// Machine drives positions through OPEN, PARTIALLY_CLOSED and CLOSED
type Machine struct {
	costs         CostModel
	targetR       float64
	deterioration float64
	logger        *zap.Logger
}

// NewMachine creates an exit machine from configuration
func NewMachine(cfg *config.Config, logger *zap.Logger) *Machine {
	return &Machine{
		costs:         NewCostModel(cfg),
		targetR:       cfg.PartialExitR,
		deterioration: cfg.DeteriorationThreshold,
		logger:        logger,
	}
}

// Costs returns the machine's cost model
func (m *Machine) Costs() CostModel {
	return m.costs
}

// OnBar applies one range bar of the position's instrument. The stop is
// checked before the partial target, so a bar touching both is a loss.
// liveScore is the current raw composite score and atr the range bar ATR14
// in price.
func (m *Machine) OnBar(p *Position, bar bars.Bar, liveScore, atr float64) ([]Event, error) {
	switch p.State {
	case StateClosed:
		return nil, fmt.Errorf("%w: position %s already closed", ErrInvariant, p.ID)
	case StateOpen:
		return m.onOpen(p, bar, atr)
	case StatePartiallyClosed:
		return m.onRunner(p, bar, liveScore, atr)
	}
	return nil, fmt.Errorf("%w: position %s in unknown state %q", ErrInvariant, p.ID, p.State)
}

func (m *Machine) onOpen(p *Position, bar bars.Bar, atr float64) ([]Event, error) {
	if touched(p.Direction.Opposite(), bar, p.StopPrice) {
		ev, err := m.close(p, bar.FillPrice(p.StopPrice), bar.EndTime, ReasonStopLoss)
		return []Event{ev}, err
	}

	target := p.TargetPrice(m.targetR)
	if !touched(p.Direction, bar, target) {
		return nil, nil
	}

	fill := m.costs.ExitFill(p.Instrument, p.Direction, bar.FillPrice(target))
	p.PartialPrice = fill
	p.PartialTime = bar.EndTime
	p.PartialR = p.RMultiple(fill)
	p.State = StatePartiallyClosed

	p.TrailingStop = target - p.Direction.Sign()*m.trailDistance(p, atr)
	p.TrailHistory = append(p.TrailHistory, TrailPoint{Time: bar.EndTime, Price: p.TrailingStop})

	m.logger.Debug("[EXIT] partial taken",
		zap.String("id", p.ID),
		zap.Float64("price", fill),
		zap.Float64("fraction", p.PartialFraction),
		zap.Float64("r", p.PartialR),
		zap.Float64("trail", p.TrailingStop))
	return []Event{{Kind: EventPartial, Price: fill, Time: bar.EndTime, R: p.PartialR}}, nil
}

func (m *Machine) onRunner(p *Position, bar bars.Bar, liveScore, atr float64) ([]Event, error) {
	if p.EntryScore-liveScore > m.deterioration {
		m.logger.Info("[EXIT] regime deterioration",
			zap.String("id", p.ID),
			zap.Float64("entry_score", p.EntryScore),
			zap.Float64("live_score", liveScore))
		ev, err := m.close(p, bar.FillPrice(bar.Close), bar.EndTime, ReasonRegimeDeterioration)
		return []Event{ev}, err
	}

	extreme := bar.High
	if p.Direction == strategy.Sell {
		extreme = bar.Low
	}
	proposed := extreme - p.Direction.Sign()*m.trailDistance(p, atr)
	next := p.TrailingStop
	if p.Direction == strategy.Buy {
		next = math.Max(next, proposed)
	} else {
		next = math.Min(next, proposed)
	}
	if err := m.setTrail(p, next, bar.EndTime); err != nil {
		return nil, err
	}

	if touched(p.Direction.Opposite(), bar, p.TrailingStop) {
		ev, err := m.close(p, bar.FillPrice(p.TrailingStop), bar.EndTime, ReasonTrailingStop)
		return []Event{ev}, err
	}
	return nil, nil
}

// setTrail moves the trailing stop; it may only tighten
func (m *Machine) setTrail(p *Position, next float64, t time.Time) error {
	if p.Direction.Sign()*(next-p.TrailingStop) < 0 {
		return fmt.Errorf("%w: trail on %s loosened from %.5f to %.5f", ErrInvariant, p.ID, p.TrailingStop, next)
	}
	if next != p.TrailingStop {
		p.TrailingStop = next
		p.TrailHistory = append(p.TrailHistory, TrailPoint{Time: t, Price: next})
	}
	return nil
}

// trailDistance is the larger of half the initial risk, the ATR and the
// instrument's pip floor
func (m *Machine) trailDistance(p *Position, atr float64) float64 {
	floor := p.Instrument.TrailFloorPips * p.Instrument.PipSize
	return math.Max(0.5*p.RiskDistance(), math.Max(atr, floor))
}

// ForceClose closes whatever remains of a position at price for an external
// reason such as the weekend rule, the daily loss cap or end of data
func (m *Machine) ForceClose(p *Position, reason CloseReason, price float64, t time.Time) (Event, error) {
	if p.State == StateClosed {
		return Event{}, fmt.Errorf("%w: position %s already closed", ErrInvariant, p.ID)
	}
	return m.close(p, price, t, reason)
}

// close settles the remaining size. price is the raw fill before slippage.
func (m *Machine) close(p *Position, price float64, t time.Time, reason CloseReason) (Event, error) {
	if p.State == StateClosed {
		return Event{}, fmt.Errorf("%w: position %s already closed", ErrInvariant, p.ID)
	}
	fill := m.costs.ExitFill(p.Instrument, p.Direction, price)
	p.ClosePrice = fill
	p.CloseTime = t
	p.CloseReason = reason
	p.RunnerR = p.RMultiple(fill)

	var gross decimal.Decimal
	if p.HasPartial() {
		f := p.PartialFraction
		p.RealizedR = f*p.PartialR + (1-f)*p.RunnerR
		gross = LegPnL(p.Instrument, p.Lots, f, p.Pips(p.PartialPrice)).
			Add(LegPnL(p.Instrument, p.Lots, 1-f, p.Pips(fill)))
	} else {
		p.RealizedR = p.RunnerR
		gross = LegPnL(p.Instrument, p.Lots, 1, p.Pips(fill))
	}
	p.PnL = gross.Sub(p.Commission).Round(2)
	p.State = StateClosed

	m.logger.Debug("[EXIT] position closed",
		zap.String("id", p.ID),
		zap.String("reason", string(reason)),
		zap.Float64("price", fill),
		zap.Float64("r", p.RealizedR),
		zap.String("pnl", p.PnL.String()))
	return Event{Kind: EventClose, Price: fill, Time: t, Reason: reason, R: p.RunnerR}, nil
}

// touched reports whether a bar reached level moving in dir: up for Buy,
// down for Sell
func touched(dir strategy.Direction, bar bars.Bar, level float64) bool {
	if dir == strategy.Buy {
		return bar.High >= level-touchEpsilon
	}
	return bar.Low <= level+touchEpsilon
}
