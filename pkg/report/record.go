// Package report turns closed positions into trade records and writes them
// to append-only CSV files, an optional ClickHouse table and a run summary.
package report

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rangefx-bot/pkg/position"
)

// Record is one closed position, flattened for storage
type Record struct {
	ID                string
	Instrument        string
	Direction         string
	Module            string
	Session           string
	EntryTime         time.Time
	EntryPrice        float64
	SignalPrice       float64
	StopPrice         float64
	Lots              float64
	EntryScore        float64
	EntryRegime       string
	RiskFraction      float64
	PartialFraction   float64
	PartialPrice      float64
	PartialTime       time.Time
	TrailingStop      float64
	ClosePrice        float64
	CloseTime         time.Time
	CloseReason       string
	PartialR          float64
	RunnerR           float64
	RealizedR         float64
	Commission        decimal.Decimal
	PnL               decimal.Decimal
	CalibrationSource string
}

// FromPosition builds the record of a closed position
func FromPosition(p *position.Position, calibrationSource string) (Record, error) {
	if p.State != position.StateClosed {
		return Record{}, fmt.Errorf("position %s is %s, not closed", p.ID, p.State)
	}
	return Record{
		ID:                p.ID,
		Instrument:        p.Instrument.Name,
		Direction:         string(p.Direction),
		Module:            p.Module,
		Session:           string(p.Session),
		EntryTime:         p.EntryTime,
		EntryPrice:        p.EntryPrice,
		SignalPrice:       p.SignalPrice,
		StopPrice:         p.StopPrice,
		Lots:              p.Lots,
		EntryScore:        p.EntryScore,
		EntryRegime:       string(p.EntryRegime),
		RiskFraction:      p.RiskFrac,
		PartialFraction:   p.PartialFraction,
		PartialPrice:      p.PartialPrice,
		PartialTime:       p.PartialTime,
		TrailingStop:      p.TrailingStop,
		ClosePrice:        p.ClosePrice,
		CloseTime:         p.CloseTime,
		CloseReason:       string(p.CloseReason),
		PartialR:          p.PartialR,
		RunnerR:           p.RunnerR,
		RealizedR:         p.RealizedR,
		Commission:        p.Commission,
		PnL:               p.PnL,
		CalibrationSource: calibrationSource,
	}, nil
}

// Records converts closed positions in order
func Records(ps []*position.Position, calibrationSource string) ([]Record, error) {
	out := make([]Record, 0, len(ps))
	for _, p := range ps {
		rec, err := FromPosition(p, calibrationSource)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Header is the CSV column order
var Header = []string{
	"id", "instrument", "direction", "module", "session",
	"entry_time", "entry_price", "signal_price", "stop_price", "lots",
	"entry_score", "entry_regime", "risk_fraction",
	"partial_fraction", "partial_price", "partial_time", "trailing_stop",
	"close_price", "close_time", "close_reason",
	"partial_r", "runner_r", "realized_r", "commission", "pnl", "calibration_source",
}

// Row formats the record in Header order
func (r Record) Row() []string {
	return []string{
		r.ID, r.Instrument, r.Direction, r.Module, r.Session,
		formatTime(r.EntryTime), formatPrice(r.EntryPrice), formatPrice(r.SignalPrice), formatPrice(r.StopPrice),
		strconv.FormatFloat(r.Lots, 'f', 2, 64),
		strconv.FormatFloat(r.EntryScore, 'f', 2, 64), r.EntryRegime,
		strconv.FormatFloat(r.RiskFraction, 'f', 4, 64),
		strconv.FormatFloat(r.PartialFraction, 'f', 2, 64), formatPrice(r.PartialPrice), formatTime(r.PartialTime),
		formatPrice(r.TrailingStop),
		formatPrice(r.ClosePrice), formatTime(r.CloseTime), r.CloseReason,
		formatR(r.PartialR), formatR(r.RunnerR), formatR(r.RealizedR),
		r.Commission.StringFixed(2), r.PnL.StringFixed(2), r.CalibrationSource,
	}
}

// ParseRow reads a row written by Row
func ParseRow(row []string) (Record, error) {
	if len(row) != len(Header) {
		return Record{}, fmt.Errorf("record has %d fields, want %d", len(row), len(Header))
	}
	p := &rowParser{row: row}
	rec := Record{
		ID:                row[0],
		Instrument:        row[1],
		Direction:         row[2],
		Module:            row[3],
		Session:           row[4],
		EntryTime:         p.timestamp(5),
		EntryPrice:        p.number(6),
		SignalPrice:       p.number(7),
		StopPrice:         p.number(8),
		Lots:              p.number(9),
		EntryScore:        p.number(10),
		EntryRegime:       row[11],
		RiskFraction:      p.number(12),
		PartialFraction:   p.number(13),
		PartialPrice:      p.number(14),
		PartialTime:       p.timestamp(15),
		TrailingStop:      p.number(16),
		ClosePrice:        p.number(17),
		CloseTime:         p.timestamp(18),
		CloseReason:       row[19],
		PartialR:          p.number(20),
		RunnerR:           p.number(21),
		RealizedR:         p.number(22),
		Commission:        p.money(23),
		PnL:               p.money(24),
		CalibrationSource: row[25],
	}
	if p.err != nil {
		return Record{}, p.err
	}
	return rec, nil
}

// rowParser keeps the first conversion error
type rowParser struct {
	row []string
	err error
}

func (p *rowParser) number(i int) float64 {
	if p.err != nil || p.row[i] == "" {
		return 0
	}
	v, err := strconv.ParseFloat(p.row[i], 64)
	if err != nil {
		p.err = fmt.Errorf("column %s: %v", Header[i], err)
	}
	return v
}

func (p *rowParser) timestamp(i int) time.Time {
	if p.err != nil || p.row[i] == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, p.row[i])
	if err != nil {
		p.err = fmt.Errorf("column %s: %v", Header[i], err)
	}
	return t
}

func (p *rowParser) money(i int) decimal.Decimal {
	if p.err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(p.row[i])
	if err != nil {
		p.err = fmt.Errorf("column %s: %v", Header[i], err)
	}
	return d
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatPrice(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 5, 64)
}

func formatR(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
