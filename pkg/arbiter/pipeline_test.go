package arbiter

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/rangefx-bot/pkg/bars"
	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/gating"
	"github.com/rangefx-bot/pkg/metrics"
	"github.com/rangefx-bot/pkg/portfolio"
	"github.com/rangefx-bot/pkg/position"
	"github.com/rangefx-bot/pkg/risk"
	"github.com/rangefx-bot/pkg/strategy"
)

// Monday, London session
var now = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

type fixture struct {
	cfg     *config.Config
	pl      *Pipeline
	st      *portfolio.State
	metrics *metrics.Metrics
	machine *position.Machine
}

func newFixture(equity float64, events ...gating.Event) *fixture {
	cfg := config.Defaults()
	cfg.InitialEquity = equity
	cfg.Pairs = append(cfg.Pairs, "EURJPY", "XAUUSD")
	m := metrics.New()
	machine := position.NewMachine(cfg, zap.NewNop())
	st := portfolio.NewState(cfg)
	st.Rollover(now)
	return &fixture{
		cfg:     cfg,
		pl:      NewPipeline(cfg, gating.NewCalendar(events), strategy.DefaultRegistry(false), machine, m, zap.NewNop()),
		st:      st,
		metrics: m,
		machine: machine,
	}
}

func signal(pair string, dir strategy.Direction, entry, stop, score float64, module string) *strategy.Signal {
	return &strategy.Signal{
		Instrument:  pair,
		Direction:   dir,
		Entry:       entry,
		Stop:        stop,
		TargetR:     strategy.DefaultTargetR,
		Module:      module,
		RegimeScore: score,
		BarTime:     now,
	}
}

func barAt(t time.Time) bars.Bar {
	return bars.Bar{Instrument: "EURUSD", Open: 1.0990, High: 1.1000, Low: 1.0990, Close: 1.1000, StartTime: t.Add(-time.Minute), EndTime: t}
}

func eurBuy(score float64) *strategy.Signal {
	return signal("EURUSD", strategy.Buy, 1.1000, 1.0980, score, strategy.TrendRiderName)
}

func TestTightStopRejected(t *testing.T) {
	f := newFixture(500)
	sig := signal("USDJPY", strategy.Buy, 158.140, 158.138, 80, strategy.TrendRiderName)
	p, rej, err := f.pl.Admit(sig, barAt(now), f.st)
	if err != nil || p != nil || rej == nil || rej.Code != StopTooTight {
		t.Fatalf("Admit = %v, %v, %v; want STOP_TOO_TIGHT", p, rej, err)
	}
	if f.st.OpenCount() != 0 {
		t.Error("rejected signal opened a position")
	}
	if got := testutil.ToFloat64(f.metrics.Rejections.WithLabelValues(string(StopTooTight))); got != 1 {
		t.Errorf("STOP_TOO_TIGHT counter = %v", got)
	}
}

func TestCorrelationGate(t *testing.T) {
	f := newFixture(5000)
	for _, sig := range []*strategy.Signal{
		signal("USDJPY", strategy.Sell, 150.00, 150.30, 80, strategy.TrendRiderName),
		signal("AUDJPY", strategy.Sell, 100.00, 100.30, 80, strategy.TrendRiderName),
	} {
		if _, rej, err := f.pl.Admit(sig, barAt(now), f.st); rej != nil || err != nil {
			t.Fatalf("setup admit %s: %v %v", sig.Instrument, rej, err)
		}
	}
	third := signal("EURJPY", strategy.Sell, 160.00, 160.30, 80, strategy.TrendRiderName)
	_, rej, err := f.pl.Admit(third, barAt(now), f.st)
	if err != nil || rej == nil || rej.Code != CorrelationBlocked {
		t.Fatalf("third JPY position = %v, %v; want CORRELATION_BLOCKED", rej, err)
	}
}

func TestGateOrder(t *testing.T) {
	tests := []struct {
		name   string
		equity float64
		events []gating.Event
		setup  func(f *fixture)
		sig    *strategy.Signal
		bar    bars.Bar
		want   Code
	}{
		{
			name: "unknown instrument",
			sig:  signal("XYZABC", strategy.Buy, 1, 0.9, 80, strategy.TrendRiderName),
			want: InstrumentNotAllowed,
		},
		{
			name: "gold locked",
			sig:  signal("XAUUSD", strategy.Buy, 2300, 2290, 80, strategy.TrendRiderName),
			want: GoldGate,
		},
		{
			name: "max concurrent",
			setup: func(f *fixture) {
				for _, pair := range []string{"GBPUSD", "USDCHF"} {
					sig := signal(pair, strategy.Buy, 1.2, 1.19, 80, strategy.TrendRiderName)
					f.st.Open(position.New(pair, config.MustLookup(pair), *sig, 1.2, 0.01, 0.01, f.machine.Costs().Commission(0.01)))
				}
			},
			sig:  eurBuy(80),
			want: MaxConcurrent,
		},
		{
			name: "daily trades",
			setup: func(f *fixture) {
				for i := 0; i < 5; i++ {
					f.st.Daily.RecordOpen()
				}
			},
			sig:  eurBuy(80),
			want: MaxDailyTrades,
		},
		{
			name:  "daily loss cap",
			setup: func(f *fixture) { f.st.Daily.RecordClose(-2) },
			sig:   eurBuy(80),
			want:  DailyLossCap,
		},
		{
			name:   "news blackout",
			events: []gating.Event{{ID: "nfp", Name: "NFP", Currency: "USD", Impact: gating.ImpactHigh, Time: now.Add(10 * time.Minute)}},
			sig:    eurBuy(80),
			want:   NewsBlocked,
		},
		{
			name:   "post-event cooling",
			events: []gating.Event{{ID: "cpi", Name: "CPI", Currency: "EUR", Impact: gating.ImpactHigh, Time: now.Add(-20 * time.Minute)}},
			sig:    eurBuy(80),
			want:   PostEventCooling,
		},
		{
			name: "phantom bar",
			sig:  eurBuy(80),
			bar: func() bars.Bar {
				b := barAt(now)
				b.IsPhantom = true
				return b
			}(),
			want: PhantomBlocked,
		},
		{
			name: "gap-adjacent breakout",
			sig:  signal("EURUSD", strategy.Buy, 1.1000, 1.0980, 50, strategy.BreakoutRiderName),
			bar: func() bars.Bar {
				b := barAt(now.Add(3 * time.Hour))
				b.IsGapAdjacent = true
				return b
			}(),
			want: GapAdjacentBlocked,
		},
		{
			name: "breakout outside window",
			sig:  signal("EURUSD", strategy.Buy, 1.1000, 1.0980, 50, strategy.BreakoutRiderName),
			want: SessionBlocked,
		},
		{
			name: "strategy cooldown",
			setup: func(f *fixture) {
				for i := 0; i < 5; i++ {
					f.st.Performance.Record(strategy.TrendRiderName, risk.Outcome{R: -1, Time: now.Add(-time.Hour)})
				}
			},
			sig:  eurBuy(80),
			want: StrategyCooldown,
		},
		{
			name: "price level",
			setup: func(f *fixture) {
				f.st.Levels.RecordLoss("EURUSD", strategy.TrendRiderName, 1.1010, now.Add(-time.Hour), -1)
			},
			sig:  eurBuy(80),
			want: PriceLevelCooldown,
		},
		{
			name: "invalid stop",
			sig:  signal("EURUSD", strategy.Buy, 1.1000, 1.1020, 50, strategy.RangeRiderName),
			want: InvalidStop,
		},
		{
			name: "risk too low",
			setup: func(f *fixture) {
				for i := 0; i < 5; i++ {
					f.st.Performance.Record(strategy.RangeRiderName, risk.Outcome{R: -1, Time: now, Weekend: true})
				}
			},
			sig:  signal("EURUSD", strategy.Buy, 1.1000, 1.0980, 28, strategy.RangeRiderName),
			want: RiskTooLow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			equity := tt.equity
			if equity == 0 {
				equity = 500
			}
			f := newFixture(equity, tt.events...)
			if tt.setup != nil {
				tt.setup(f)
			}
			b := tt.bar
			if b.EndTime.IsZero() {
				b = barAt(now)
			}
			p, rej, err := f.pl.Admit(tt.sig, b, f.st)
			if err != nil {
				t.Fatalf("Admit error: %v", err)
			}
			if p != nil || rej == nil || rej.Code != tt.want {
				t.Fatalf("Admit = %v, %v; want %s", p, rej, tt.want)
			}
		})
	}
}

func TestAdmitOpensPosition(t *testing.T) {
	f := newFixture(500)
	p, rej, err := f.pl.Admit(eurBuy(82), barAt(now), f.st)
	if err != nil || rej != nil {
		t.Fatalf("Admit = %v, %v", rej, err)
	}
	// 1 pip of entry slippage
	if p.EntryPrice < 1.10009 || p.EntryPrice > 1.10011 {
		t.Errorf("entry = %v, want 1.1001", p.EntryPrice)
	}
	// $5 over 21 pips at $10/pip floors to 0.02 lots
	if p.Lots != 0.02 || p.PartialFraction != 0.70 || p.State != position.StateOpen {
		t.Errorf("position = lots %v fraction %v state %s", p.Lots, p.PartialFraction, p.State)
	}
	if !p.Commission.Equal(f.machine.Costs().Commission(0.02)) {
		t.Errorf("commission = %s", p.Commission)
	}
	if f.st.OpenCount() != 1 || f.st.Daily.TradeCount() != 1 {
		t.Error("position not recorded in portfolio")
	}
	if p.ID != PositionID("EURUSD", now, strategy.TrendRiderName, 1) {
		t.Errorf("ID %s is not the deterministic ID", p.ID)
	}
	if got := testutil.ToFloat64(f.metrics.Opened.WithLabelValues(strategy.TrendRiderName, "BUY")); got != 1 {
		t.Errorf("opened counter = %v", got)
	}
}

func TestPositionIDDeterministic(t *testing.T) {
	a := PositionID("EURUSD", now, strategy.TrendRiderName, 7)
	b := PositionID("EURUSD", now, strategy.TrendRiderName, 7)
	c := PositionID("EURUSD", now, strategy.TrendRiderName, 8)
	if a != b || a == c {
		t.Errorf("ids: %s %s %s", a, b, c)
	}
}
