package replay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rangefx-bot/pkg/bars"
	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/feed"
	"github.com/rangefx-bot/pkg/gating"
	"github.com/rangefx-bot/pkg/position"
	"github.com/rangefx-bot/pkg/regime"
	"github.com/rangefx-bot/pkg/report"
	"github.com/rangefx-bot/pkg/strategy"
)

// Monday
var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// probe buys every bar with a stop far enough away that positions only end
// through external closes
type probe struct{}

func (probe) Name() string                 { return "Probe" }
func (probe) Active(float64) bool          { return true }
func (probe) AllowsGapAdjacent() bool      { return true }
func (probe) SessionPolicy() gating.Policy { return gating.SoftPolicy{} }

func (probe) Propose(in strategy.Input) (*strategy.Signal, error) {
	last := in.LastBar()
	return &strategy.Signal{
		Instrument:   in.Instrument.Name,
		Direction:    strategy.Buy,
		Entry:        last.Close,
		Stop:         last.Close - 0.0200,
		TargetR:      strategy.DefaultTargetR,
		Module:       "Probe",
		RegimeScore:  in.Score,
		RiskFraction: 0.02,
		Regime:       in.Regime,
		BarTime:      last.EndTime,
	}, nil
}

func syntheticTicks(pair string, base float64, days int) []feed.Tick {
	return syntheticTicksFrom(pair, base, start, days)
}

// syntheticTicksFrom emits a five-minute sine walk starting at from
func syntheticTicksFrom(pair string, base float64, from time.Time, days int) []feed.Tick {
	var ticks []feed.Tick
	n := days * 24 * 12
	for i := 0; i < n; i++ {
		mid := base + 0.0030*math.Sin(float64(i)/40) + 0.0005*math.Sin(float64(i)/7)
		mid = math.Round(mid*1e5) / 1e5
		ticks = append(ticks, feed.Tick{
			Instrument: pair,
			Time:       from.Add(time.Duration(i) * 5 * time.Minute),
			Bid:        mid - 0.00001,
			Ask:        mid + 0.00001,
		})
	}
	return ticks
}

func dataset(t *testing.T) map[string]*Series {
	t.Helper()
	s, err := BuildSeries(config.MustLookup("EURUSD"), syntheticTicks("EURUSD", 1.1000, 14))
	if err != nil {
		t.Fatalf("BuildSeries: %v", err)
	}
	return map[string]*Series{"EURUSD": s}
}

func runProbe(t *testing.T, data map[string]*Series) *Result {
	t.Helper()
	e := NewEngine(config.Defaults(), regime.DefaultCalibration(), nil, zap.NewNop())
	e.SetRegistry(strategy.NewRegistry(probe{}))
	res, err := e.Run(context.Background(), data)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func digest(res *Result) string {
	var b strings.Builder
	for _, p := range res.Closed {
		fmt.Fprintf(&b, "%s|%s|%s|%s|%.5f|%.5f|%.2f|%s|%.5f|%s|%s|%.6f|%s\n",
			p.ID, p.Instrument.Name, p.Direction, p.Module, p.EntryPrice, p.StopPrice, p.Lots,
			p.EntryTime.Format(time.RFC3339Nano), p.ClosePrice, p.CloseTime.Format(time.RFC3339Nano),
			p.CloseReason, p.RealizedR, p.PnL.StringFixed(2))
	}
	fmt.Fprintf(&b, "equity=%s dd=%.6f rej=%v", res.FinalEquity.StringFixed(2), res.MaxDrawdown, res.Rejections)
	return b.String()
}

func TestReplayDeterministic(t *testing.T) {
	a := runProbe(t, dataset(t))
	b := runProbe(t, dataset(t))
	if len(a.Closed) == 0 {
		t.Fatal("probe produced no trades")
	}
	if da, db := digest(a), digest(b); da != db {
		t.Errorf("replays differ:\n%s\n---\n%s", da, db)
	}
}

func TestEndOfDataClosesOpenPositions(t *testing.T) {
	data := dataset(t)
	res := runProbe(t, data)
	lastBar := data["EURUSD"].Bars[len(data["EURUSD"].Bars)-1]

	var eod int
	for _, p := range res.Closed {
		if p.State != position.StateClosed {
			t.Errorf("position %s left in state %s", p.ID, p.State)
		}
		if p.CloseReason == position.ReasonEndOfData {
			eod++
			if !p.CloseTime.Equal(lastBar.EndTime) {
				t.Errorf("END_OF_DATA close at %s, want last bar %s", p.CloseTime, lastBar.EndTime)
			}
		}
	}
	if eod == 0 {
		t.Error("no position was closed at end of data")
	}
	if !res.End.Equal(lastBar.EndTime) || res.Events != len(data["EURUSD"].Bars) {
		t.Errorf("result covers %d events ending %s", res.Events, res.End)
	}
	if res.CalibrationSource != regime.SourceDefault {
		t.Errorf("calibration source = %q", res.CalibrationSource)
	}
}

func TestWeekendClose(t *testing.T) {
	res := runProbe(t, dataset(t))
	var weekend int
	for _, p := range res.Closed {
		if p.CloseReason != position.ReasonWeekendClose {
			continue
		}
		weekend++
		if !inWeekendWindow(p.CloseTime, 20) {
			t.Errorf("weekend close at %s", p.CloseTime)
		}
	}
	if weekend == 0 {
		t.Error("no weekend close in a run spanning a weekend")
	}
	for _, p := range res.Closed {
		if inWeekendWindow(p.EntryTime, 20) {
			t.Errorf("position %s entered inside the weekend window at %s", p.ID, p.EntryTime)
		}
	}
}

func TestRunSkipsInvalidSeries(t *testing.T) {
	data := dataset(t)
	data["GBPUSD"] = &Series{Instrument: config.MustLookup("GBPUSD")}
	res := runProbe(t, data)
	if len(res.Skipped) != 1 || res.Skipped[0] != "GBPUSD" {
		t.Errorf("Skipped = %v", res.Skipped)
	}
	for _, p := range res.Closed {
		if p.Instrument.Name != "EURUSD" {
			t.Errorf("trade on skipped instrument %s", p.Instrument.Name)
		}
	}
}

func TestRunOnce(t *testing.T) {
	e := NewEngine(config.Defaults(), regime.DefaultCalibration(), nil, zap.NewNop())
	if _, err := e.Run(context.Background(), nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := e.Run(context.Background(), nil); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("second Run err = %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := NewEngine(config.Defaults(), regime.DefaultCalibration(), nil, zap.NewNop())
	res, err := e.Run(ctx, dataset(t))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res == nil || res.Events != 0 {
		t.Errorf("cancelled run consumed events: %+v", res)
	}
}

func TestMergerOrder(t *testing.T) {
	at := func(h int) time.Time { return start.Add(time.Duration(h) * time.Hour) }
	series := map[string]*Series{
		"USDJPY": {Bars: []bars.Bar{{EndTime: at(1)}, {EndTime: at(3)}}},
		"EURUSD": {Bars: []bars.Bar{{EndTime: at(1)}, {EndTime: at(2)}, {EndTime: at(3)}}},
	}
	m := newMerger(series)
	var got []string
	for {
		e, ok := m.next()
		if !ok {
			break
		}
		got = append(got, fmt.Sprintf("%s#%d", e.instrument, e.index))
	}
	want := "EURUSD#0 USDJPY#0 EURUSD#1 EURUSD#2 USDJPY#1"
	if strings.Join(got, " ") != want {
		t.Errorf("order = %v, want %s", got, want)
	}
}

func TestCandlesAt(t *testing.T) {
	candles := []bars.Candle{
		{End: start.Add(time.Hour)},
		{End: start.Add(2 * time.Hour)},
		{End: start.Add(3 * time.Hour)},
	}
	tests := []struct {
		now  time.Time
		want int
	}{
		{start, 0},
		{start.Add(time.Hour), 1},
		{start.Add(150 * time.Minute), 2},
		{start.Add(5 * time.Hour), 3},
	}
	for _, tt := range tests {
		if got := len(CandlesAt(candles, tt.now)); got != tt.want {
			t.Errorf("CandlesAt(%s) = %d candles, want %d", tt.now.Format(time.Kitchen), got, tt.want)
		}
	}
}

func TestInWeekendWindow(t *testing.T) {
	fri := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		t    time.Time
		want bool
	}{
		{fri.Add(21*time.Hour + 39*time.Minute), false},
		{fri.Add(21*time.Hour + 40*time.Minute), true},
		{fri.Add(23 * time.Hour), true},
		{fri.Add(36 * time.Hour), true},
		{fri.Add(48 * time.Hour), false},
		{fri.Add(-2 * time.Hour), false},
	}
	for _, tt := range tests {
		if got := inWeekendWindow(tt.t, 20); got != tt.want {
			t.Errorf("inWeekendWindow(%s) = %v, want %v", tt.t, got, tt.want)
		}
	}
}

func TestWalkForwardWindows(t *testing.T) {
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cycles := WalkForwardWindows(start, end, DefaultTrainMonths, DefaultTestMonths)
	if len(cycles) != 2 {
		t.Fatalf("got %d cycles, want 2", len(cycles))
	}
	c := cycles[0]
	if !c.TrainEnd.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) || !c.TestStart.Equal(c.TrainEnd) ||
		!c.TestEnd.Equal(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("first cycle = %s", c)
	}
	if !cycles[1].TrainStart.Equal(c.TestEnd) || !cycles[1].TestEnd.Equal(end) {
		t.Errorf("second cycle = %s", cycles[1])
	}
	if got := WalkForwardWindows(start, start.AddDate(0, 5, 0), 4, 2); len(got) != 0 {
		t.Errorf("short span produced %d cycles", len(got))
	}
}

func TestSeriesValidate(t *testing.T) {
	s := &Series{Instrument: config.MustLookup("EURUSD"), Bars: []bars.Bar{
		{EndTime: start.Add(time.Hour)},
		{EndTime: start},
	}}
	if err := s.Validate(); !errors.Is(err, feed.ErrOutOfOrder) {
		t.Errorf("err = %v, want ErrOutOfOrder", err)
	}
	if err := (&Series{Instrument: config.MustLookup("EURUSD")}).Validate(); !errors.Is(err, feed.ErrNoData) {
		t.Errorf("err = %v, want ErrNoData", err)
	}
}

func TestWalkForwardFlagsDefaultCalibration(t *testing.T) {
	// three days of training history is far too little to calibrate on
	ticks := syntheticTicksFrom("EURUSD", 1.1000, start, 3)
	ticks = append(ticks, syntheticTicksFrom("EURUSD", 1.1000, start.AddDate(0, 1, 0), 30)...)
	s, err := BuildSeries(config.MustLookup("EURUSD"), ticks)
	if err != nil {
		t.Fatalf("BuildSeries: %v", err)
	}

	cycles, err := WalkForward(context.Background(), config.Defaults(), nil, map[string]*Series{"EURUSD": s},
		1, 1, zap.NewNop(), WithRegistry(strategy.NewRegistry(probe{})))
	if err != nil {
		t.Fatalf("WalkForward: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("got %d cycles, want 1", len(cycles))
	}
	cr := cycles[0]
	if !cr.Calibration.IsDefault() {
		t.Fatalf("calibration source = %q, want default", cr.Calibration.Source)
	}
	src := cr.Run.CalibrationSource
	if src != CycleSource(cr.Cycle, cr.Calibration) || !strings.HasSuffix(src, ":"+regime.SourceDefault) {
		t.Fatalf("run calibration source = %q", src)
	}
	if len(cr.TestTrades) == 0 {
		t.Fatal("no trades in the test window")
	}

	path := filepath.Join(t.TempDir(), "walkforward.csv")
	w, err := report.NewCSVWriter(path, src)
	if err != nil {
		t.Fatalf("NewCSVWriter: %v", err)
	}
	recs, err := report.Records(cr.TestTrades, src)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if err := w.Write(recs...); err != nil {
		t.Fatalf("Write: %v", err)
	}
	w.Close()

	back, err := report.ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(back) != len(cr.TestTrades) {
		t.Fatalf("read %d rows, want %d", len(back), len(cr.TestTrades))
	}
	for _, r := range back {
		if !strings.HasSuffix(r.CalibrationSource, ":"+regime.SourceDefault) {
			t.Errorf("row %s calibration_source = %q", r.ID, r.CalibrationSource)
		}
	}
}

func TestCycleSource(t *testing.T) {
	c := WalkForwardWindows(start, start.AddDate(1, 0, 0), 4, 2)[0]
	tests := []struct {
		source string
		want   string
	}{
		{"", c.String() + ":calibrated"},
		{regime.SourceDefault, c.String() + ":default"},
		{regime.SourcePartialPrefix + "EURUSD", c.String() + ":default-partial:EURUSD"},
	}
	for _, tt := range tests {
		if got := CycleSource(c, regime.Calibration{Source: tt.source}); got != tt.want {
			t.Errorf("CycleSource(%q) = %q, want %q", tt.source, got, tt.want)
		}
	}
}
