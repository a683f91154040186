package report

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/gating"
	"github.com/rangefx-bot/pkg/position"
	"github.com/rangefx-bot/pkg/regime"
	"github.com/rangefx-bot/pkg/strategy"
)

var t0 = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

func closedPosition(t *testing.T, id string, exit float64) *position.Position {
	t.Helper()
	cfg := config.Defaults()
	m := position.NewMachine(cfg, zap.NewNop())
	inst := config.MustLookup("EURUSD")
	sig := strategy.Signal{
		Instrument:  "EURUSD",
		Direction:   strategy.Buy,
		Entry:       1.1000,
		Stop:        1.0980,
		TargetR:     strategy.DefaultTargetR,
		Module:      strategy.TrendRiderName,
		RegimeScore: 78,
		Regime:      regime.Trending,
		BarTime:     t0,
		Session:     gating.London,
	}
	p := position.New(id, inst, sig, 1.1001, 0.10, 0.01, m.Costs().Commission(0.10))
	if _, err := m.ForceClose(p, position.ReasonEndOfData, exit, t0.Add(3*time.Hour)); err != nil {
		t.Fatalf("ForceClose: %v", err)
	}
	return p
}

func TestCSVAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results", "trades.csv")
	w, err := NewCSVWriter(path, "data/dcrd_config.yaml")
	if err != nil {
		t.Fatalf("NewCSVWriter: %v", err)
	}
	for i, exit := range []float64{1.1030, 1.0990} {
		if err := w.PositionClosed(closedPosition(t, "p"+string(rune('a'+i)), exit)); err != nil {
			t.Fatalf("PositionClosed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// reopening appends without a second header
	w, err = NewCSVWriter(path, "default")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := w.PositionClosed(closedPosition(t, "pc", 1.1001)); err != nil {
		t.Fatal(err)
	}
	if w.Rows() != 1 {
		t.Errorf("Rows = %d, want 1", w.Rows())
	}
	w.Close()

	recs, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("read %d records, want 3", len(recs))
	}
	want := closedPosition(t, "pa", 1.1030)
	got := recs[0]
	if got.ID != "pa" || got.Module != strategy.TrendRiderName || got.CloseReason != string(position.ReasonEndOfData) {
		t.Errorf("record = %+v", got)
	}
	if !got.PnL.Equal(want.PnL) || !got.Commission.Equal(want.Commission) {
		t.Errorf("pnl %s commission %s, want %s %s", got.PnL, got.Commission, want.PnL, want.Commission)
	}
	if !got.EntryTime.Equal(t0) || !got.CloseTime.Equal(t0.Add(3*time.Hour)) || !got.PartialTime.IsZero() {
		t.Errorf("times = %s %s %s", got.EntryTime, got.CloseTime, got.PartialTime)
	}
	if got.CalibrationSource != "data/dcrd_config.yaml" || recs[2].CalibrationSource != "default" {
		t.Errorf("calibration sources = %q, %q", got.CalibrationSource, recs[2].CalibrationSource)
	}
}

func TestFromPositionRequiresClosed(t *testing.T) {
	sig := strategy.Signal{Instrument: "EURUSD", Direction: strategy.Buy, Entry: 1.1, Stop: 1.09, BarTime: t0}
	p := position.New("open", config.MustLookup("EURUSD"), sig, 1.1, 0.01, 0.01, decimal.Zero)
	if _, err := FromPosition(p, "default"); err == nil {
		t.Error("open position produced a record")
	}
}

func TestParseRowErrors(t *testing.T) {
	if _, err := ParseRow([]string{"too", "short"}); err == nil {
		t.Error("short row parsed")
	}
	rec, err := FromPosition(closedPosition(t, "x", 1.1010), "default")
	if err != nil {
		t.Fatal(err)
	}
	row := rec.Row()
	row[6] = "not-a-price"
	if _, err := ParseRow(row); err == nil || !strings.Contains(err.Error(), "entry_price") {
		t.Errorf("err = %v", err)
	}
}

func TestSummarize(t *testing.T) {
	recs := []Record{
		{Module: "TrendRider", Instrument: "EURUSD", CloseReason: "TRAILING_STOP", RealizedR: 2, PnL: decimal.NewFromInt(40), Commission: decimal.RequireFromString("0.70")},
		{Module: "TrendRider", Instrument: "USDJPY", CloseReason: "STOP_LOSS", RealizedR: -1, PnL: decimal.NewFromInt(-20), Commission: decimal.RequireFromString("0.70")},
		{Module: "RangeRider", Instrument: "EURUSD", CloseReason: "STOP_LOSS", RealizedR: -1, PnL: decimal.NewFromInt(-21), Commission: decimal.RequireFromString("0.70")},
	}
	s := Summarize(recs)
	if s.Total.Trades != 3 || s.Total.Wins != 1 || s.Total.TotalR != 0 || !s.Total.PnL.Equal(decimal.NewFromInt(-1)) {
		t.Errorf("total = %+v", s.Total)
	}
	if !s.Commission.Equal(decimal.RequireFromString("2.10")) {
		t.Errorf("commission = %s", s.Commission)
	}
	if len(s.ByModule) != 2 || s.ByModule[0].Key != "RangeRider" || s.ByModule[1].Trades != 2 {
		t.Errorf("by module = %+v", s.ByModule)
	}
	if len(s.ByReason) != 2 || s.ByReason[0].Key != "STOP_LOSS" || s.ByReason[0].Trades != 2 {
		t.Errorf("by reason = %+v", s.ByReason)
	}
	if got := s.ByModule[1].WinRate(); got != 50 {
		t.Errorf("TrendRider win rate = %v", got)
	}
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, Summarize(nil), &RunStats{
		InitialEquity:     decimal.NewFromInt(500),
		FinalEquity:       decimal.RequireFromString("12345.67"),
		MaxDrawdown:       0.125,
		Rejections:        map[string]int{"STOP_TOO_TIGHT": 2, "CORRELATION_BLOCKED": 1},
		CalibrationSource: "default",
	})
	out := buf.String()
	for _, want := range []string{"$12,345.67", "12.50%", "Calibration: default", "STOP_TOO_TIGHT"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "CORRELATION_BLOCKED") > strings.Index(out, "STOP_TOO_TIGHT") {
		t.Error("rejections not sorted by code")
	}
}

func TestColumnsMatchTable(t *testing.T) {
	var cols int
	inBody := false
	for _, line := range strings.Split(tableDDL("rangefx", "trade_records"), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "CREATE TABLE"):
			inBody = true
		case line == ")":
			inBody = false
		case inBody && line != "":
			cols++
		}
	}
	rec, err := FromPosition(closedPosition(t, "x", 1.1010), "default")
	if err != nil {
		t.Fatal(err)
	}
	if got := len(rec.columns()) + 1; got != cols {
		t.Errorf("insert has %d values, table has %d columns", got, cols)
	}
	if len(rec.Row()) != len(Header) {
		t.Errorf("row has %d fields, header %d", len(rec.Row()), len(Header))
	}
}
