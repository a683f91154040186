package portfolio

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/position"
	"github.com/rangefx-bot/pkg/strategy"
)

var t0 = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

func openPos(t *testing.T, s *State, m *position.Machine, id, pair string, dir strategy.Direction, entry, stop float64) *position.Position {
	t.Helper()
	inst := config.MustLookup(pair)
	sig := strategy.Signal{Instrument: pair, Direction: dir, Entry: entry, Stop: stop, Module: strategy.RangeRiderName, RegimeScore: 20, BarTime: t0}
	p := position.New(id, inst, sig, entry, 1, 0.01, m.Costs().Commission(1))
	if err := s.Open(p); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return p
}

func TestOpenAndSettle(t *testing.T) {
	cfg := config.Defaults()
	cfg.InitialEquity = 1000
	cfg.SlippagePips = 0
	s := NewState(cfg)
	m := position.NewMachine(cfg, zap.NewNop())

	a := openPos(t, s, m, "a", "EURUSD", strategy.Buy, 1.1000, 1.0980)
	b := openPos(t, s, m, "b", "USDJPY", strategy.Sell, 150.00, 150.30)
	if !s.Equity().Equal(decimal.NewFromInt(986)) {
		t.Errorf("equity after two commissions = %s, want 986", s.Equity())
	}
	if s.Daily.TradeCount() != 2 || s.OpenCount() != 2 {
		t.Errorf("trades = %d open = %d", s.Daily.TradeCount(), s.OpenCount())
	}
	if got := s.OpenPositions(); got[0] != a || got[1] != b {
		t.Error("open positions not in insertion order")
	}
	if ex := s.Exposure(); ex["USD"] != 2 || ex["EUR"] != 1 || ex["JPY"] != 1 {
		t.Errorf("exposure = %v", ex)
	}

	// full stop on EURUSD: -20 pips x $10 - $7
	if _, err := m.ForceClose(a, position.ReasonStopLoss, 1.0980, t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.Settle(a); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !s.Equity().Equal(decimal.NewFromInt(786)) {
		t.Errorf("equity = %s, want 786", s.Equity())
	}
	if s.OpenCount() != 1 || len(s.OpenFor("EURUSD")) != 0 || len(s.OpenFor("USDJPY")) != 1 {
		t.Error("settled position still open")
	}
	if s.Daily.LossR() != 1 {
		t.Errorf("daily loss = %v, want 1R", s.Daily.LossR())
	}
	if s.Performance.WindowR(strategy.RangeRiderName) != -1 {
		t.Error("performance tracker did not record the loss")
	}
	if blocked, _ := s.Levels.Blocked(a.Instrument, a.Module, 1.1005, t0.Add(2*time.Hour)); !blocked {
		t.Error("price level tracker did not record the loss")
	}
	if dd := s.MaxDrawdown(); dd < 0.2 || dd > 0.22 {
		t.Errorf("max drawdown = %v", dd)
	}
	if len(s.EquityCurve()) != 1 || len(s.Closed()) != 1 {
		t.Error("curve or closed list not updated")
	}
}

func TestSettleErrors(t *testing.T) {
	cfg := config.Defaults()
	s := NewState(cfg)
	m := position.NewMachine(cfg, zap.NewNop())
	p := openPos(t, s, m, "a", "EURUSD", strategy.Buy, 1.1000, 1.0980)

	if err := s.Settle(p); !errors.Is(err, position.ErrInvariant) {
		t.Errorf("settling an open position err = %v", err)
	}
	if err := s.Open(p); !errors.Is(err, position.ErrInvariant) {
		t.Errorf("opening twice err = %v", err)
	}
	p.Lots = 0
	p.ID = "zero"
	if err := s.Open(p); !errors.Is(err, position.ErrInvariant) {
		t.Errorf("zero lots err = %v", err)
	}
}

func TestSequenceAndRollover(t *testing.T) {
	s := NewState(config.Defaults())
	if s.NextSequence() != 1 || s.NextSequence() != 2 {
		t.Error("sequence not monotonic")
	}
	s.Rollover(t0)
	if !s.Rollover(t0.Add(24 * time.Hour)) {
		t.Error("next day should roll over")
	}
}
