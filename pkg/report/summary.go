package report

import (
	"io"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Breakdown aggregates the trades sharing one key
type Breakdown struct {
	Key    string
	Trades int
	Wins   int
	TotalR float64
	PnL    decimal.Decimal
}

// WinRate returns wins over trades in percent
func (b Breakdown) WinRate() float64 {
	if b.Trades == 0 {
		return 0
	}
	return float64(b.Wins) / float64(b.Trades) * 100
}

// AvgR returns the mean realized R
func (b Breakdown) AvgR() float64 {
	if b.Trades == 0 {
		return 0
	}
	return b.TotalR / float64(b.Trades)
}

// Summary is the aggregate view of a set of trade records
type Summary struct {
	Total      Breakdown
	ByModule   []Breakdown
	ByReason   []Breakdown
	ByPair     []Breakdown
	Commission decimal.Decimal
}

// Summarize aggregates records. Breakdowns are sorted by key.
func Summarize(records []Record) Summary {
	s := Summary{Total: Breakdown{Key: "ALL"}}
	modules := make(map[string]*Breakdown)
	reasons := make(map[string]*Breakdown)
	pairs := make(map[string]*Breakdown)
	for _, r := range records {
		for _, b := range []*Breakdown{&s.Total, group(modules, r.Module), group(reasons, r.CloseReason), group(pairs, r.Instrument)} {
			b.Trades++
			if r.PnL.IsPositive() {
				b.Wins++
			}
			b.TotalR += r.RealizedR
			b.PnL = b.PnL.Add(r.PnL)
		}
		s.Commission = s.Commission.Add(r.Commission)
	}
	s.ByModule = flatten(modules)
	s.ByReason = flatten(reasons)
	s.ByPair = flatten(pairs)
	return s
}

func group(m map[string]*Breakdown, key string) *Breakdown {
	b, ok := m[key]
	if !ok {
		b = &Breakdown{Key: key}
		m[key] = b
	}
	return b
}

func flatten(m map[string]*Breakdown) []Breakdown {
	out := make([]Breakdown, 0, len(m))
	for _, b := range m {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// RunStats are the account-level figures printed with a summary
type RunStats struct {
	InitialEquity     decimal.Decimal
	FinalEquity       decimal.Decimal
	MaxDrawdown       float64
	Rejections        map[string]int
	CalibrationSource string
}

// Print writes a human-readable report with grouped thousands
func Print(w io.Writer, s Summary, stats *RunStats) {
	p := message.NewPrinter(language.English)

	p.Fprintf(w, "\n=== BACKTEST RESULTS ===\n")
	if stats != nil {
		p.Fprintf(w, "Calibration: %s\n", stats.CalibrationSource)
		p.Fprintf(w, "Initial Equity: $%.2f\n", stats.InitialEquity.InexactFloat64())
		p.Fprintf(w, "Final Equity: $%.2f\n", stats.FinalEquity.InexactFloat64())
		p.Fprintf(w, "Max Drawdown: %.2f%%\n", stats.MaxDrawdown*100)
	}
	p.Fprintf(w, "Total Trades: %d\n", s.Total.Trades)
	p.Fprintf(w, "Win Rate: %.2f%%\n", s.Total.WinRate())
	p.Fprintf(w, "Total R: %.2f (avg %.3f)\n", s.Total.TotalR, s.Total.AvgR())
	p.Fprintf(w, "Net P&L: $%.2f\n", s.Total.PnL.InexactFloat64())
	p.Fprintf(w, "Commission: $%.2f\n", s.Commission.InexactFloat64())

	printGroup(p, w, "By module", s.ByModule)
	printGroup(p, w, "By close reason", s.ByReason)
	printGroup(p, w, "By instrument", s.ByPair)

	if stats != nil && len(stats.Rejections) > 0 {
		codes := make([]string, 0, len(stats.Rejections))
		for c := range stats.Rejections {
			codes = append(codes, c)
		}
		sort.Strings(codes)
		p.Fprintf(w, "\nRejections:\n")
		for _, c := range codes {
			p.Fprintf(w, "  %-22s %d\n", c, stats.Rejections[c])
		}
	}
}

func printGroup(p *message.Printer, w io.Writer, title string, groups []Breakdown) {
	if len(groups) == 0 {
		return
	}
	p.Fprintf(w, "\n%s:\n", title)
	for _, b := range groups {
		p.Fprintf(w, "  %-22s trades=%d win=%.1f%% R=%.2f pnl=$%.2f\n",
			b.Key, b.Trades, b.WinRate(), b.TotalR, b.PnL.InexactFloat64())
	}
}
