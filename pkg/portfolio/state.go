// Package portfolio holds the single mutable state of a replay run: the
// equity ledger, open positions in insertion order, and the trackers fed by
// closed trades.
package portfolio

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/position"
	"github.com/rangefx-bot/pkg/risk"
)

// EquityPoint is the equity after a position closes
type EquityPoint struct {
	Time   time.Time
	Equity decimal.Decimal
}

// State is the portfolio of one run. It is owned by the replay goroutine
// and passed by pointer; nothing else mutates it.
type State struct {
	cfg *config.Config

	equity      decimal.Decimal
	peak        decimal.Decimal
	maxDrawdown float64

	open   map[string]*position.Position
	order  []string
	closed []*position.Position
	curve  []EquityPoint
	seq    int

	Daily       *risk.DailyLimits
	Performance *risk.PerformanceTracker
	Levels      *risk.PriceLevelTracker
}

// NewState creates a portfolio funded with the configured initial equity
func NewState(cfg *config.Config) *State {
	eq := decimal.NewFromFloat(cfg.InitialEquity)
	return &State{
		cfg:         cfg,
		equity:      eq,
		peak:        eq,
		open:        make(map[string]*position.Position),
		Daily:       risk.NewDailyLimits(cfg),
		Performance: risk.NewPerformanceTracker(cfg),
		Levels:      risk.NewPriceLevelTracker(cfg),
	}
}

// Equity returns the current account equity
func (s *State) Equity() decimal.Decimal {
	return s.equity
}

// EquityFloat returns equity as a float for sizing decisions
func (s *State) EquityFloat() float64 {
	f, _ := s.equity.Float64()
	return f
}

// NextSequence returns a run-unique, monotonically increasing number
func (s *State) NextSequence() int {
	s.seq++
	return s.seq
}

// Rollover resets daily counters on a new UTC date
func (s *State) Rollover(t time.Time) bool {
	return s.Daily.Rollover(t)
}

// Open adds an admitted position and charges its commission
func (s *State) Open(p *position.Position) error {
	if p.Lots <= 0 {
		return fmt.Errorf("%w: position %s has %.2f lots", position.ErrInvariant, p.ID, p.Lots)
	}
	if _, dup := s.open[p.ID]; dup {
		return fmt.Errorf("%w: position %s opened twice", position.ErrInvariant, p.ID)
	}
	s.open[p.ID] = p
	s.order = append(s.order, p.ID)
	s.equity = s.equity.Sub(p.Commission)
	s.Daily.RecordOpen()
	return nil
}

// Settle books a position the exit machine has closed. Equity receives the
// gross result (commission was taken at open) and the trackers receive the
// outcome.
func (s *State) Settle(p *position.Position) error {
	if p.State != position.StateClosed {
		return fmt.Errorf("%w: settling %s in state %s", position.ErrInvariant, p.ID, p.State)
	}
	if _, ok := s.open[p.ID]; !ok {
		return fmt.Errorf("%w: settling %s which is not open", position.ErrInvariant, p.ID)
	}
	delete(s.open, p.ID)
	for i, id := range s.order {
		if id == p.ID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.closed = append(s.closed, p)

	s.equity = s.equity.Add(p.PnL).Add(p.Commission)
	s.curve = append(s.curve, EquityPoint{Time: p.CloseTime, Equity: s.equity})
	if s.equity.GreaterThan(s.peak) {
		s.peak = s.equity
	} else if s.peak.IsPositive() {
		dd, _ := s.peak.Sub(s.equity).Div(s.peak).Float64()
		if dd > s.maxDrawdown {
			s.maxDrawdown = dd
		}
	}

	s.Daily.RecordClose(p.RealizedR)
	s.Performance.Record(p.Module, risk.Outcome{
		R:       p.RealizedR,
		Time:    p.CloseTime,
		Weekend: p.CloseReason == position.ReasonWeekendClose,
	})
	s.Levels.RecordLoss(p.Instrument.Name, p.Module, p.EntryPrice, p.CloseTime, p.RealizedR)
	return nil
}

// OpenPositions returns open positions in the order they were opened
func (s *State) OpenPositions() []*position.Position {
	out := make([]*position.Position, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.open[id])
	}
	return out
}

// OpenFor returns the open positions of one instrument in opening order
func (s *State) OpenFor(instrument string) []*position.Position {
	var out []*position.Position
	for _, id := range s.order {
		if p := s.open[id]; p.Instrument.Name == instrument {
			out = append(out, p)
		}
	}
	return out
}

// OpenCount returns the number of open positions
func (s *State) OpenCount() int {
	return len(s.open)
}

// Exposure derives the per-currency open position count
func (s *State) Exposure() risk.Exposure {
	insts := make([]config.Instrument, 0, len(s.order))
	for _, id := range s.order {
		insts = append(insts, s.open[id].Instrument)
	}
	return risk.NewExposure(insts)
}

// Closed returns closed positions in close order
func (s *State) Closed() []*position.Position {
	return s.closed
}

// EquityCurve returns equity after each close
func (s *State) EquityCurve() []EquityPoint {
	return s.curve
}

// MaxDrawdown returns the largest peak-to-trough fall as a fraction of peak
func (s *State) MaxDrawdown() float64 {
	return s.maxDrawdown
}
