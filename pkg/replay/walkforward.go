package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/gating"
	"github.com/rangefx-bot/pkg/position"
	"github.com/rangefx-bot/pkg/regime"
)

// Default walk-forward cycle lengths in months
const (
	DefaultTrainMonths = 4
	DefaultTestMonths  = 2
)

// Cycle is one walk-forward train/test pair. Intervals are half-open.
type Cycle struct {
	Num        int
	TrainStart time.Time
	TrainEnd   time.Time
	TestStart  time.Time
	TestEnd    time.Time
}

func (c Cycle) String() string {
	return fmt.Sprintf("cycle %d: train %s..%s test %s..%s", c.Num,
		c.TrainStart.Format(time.DateOnly), c.TrainEnd.Format(time.DateOnly),
		c.TestStart.Format(time.DateOnly), c.TestEnd.Format(time.DateOnly))
}

// WalkForwardWindows splits [start, end) into consecutive, non-overlapping
// train+test cycles. A cycle whose test window would run past end is not
// generated.
func WalkForwardWindows(start, end time.Time, trainMonths, testMonths int) []Cycle {
	var cycles []Cycle
	if trainMonths <= 0 || testMonths <= 0 {
		return nil
	}
	for cur := start; ; {
		c := Cycle{Num: len(cycles) + 1, TrainStart: cur}
		c.TrainEnd = cur.AddDate(0, trainMonths, 0)
		c.TestStart = c.TrainEnd
		c.TestEnd = c.TestStart.AddDate(0, testMonths, 0)
		if c.TestEnd.After(end) {
			break
		}
		cycles = append(cycles, c)
		cur = c.TestEnd
	}
	return cycles
}

// CycleSource labels a cycle's calibration for trade records: the cycle,
// then "calibrated" or the fallback source Calibrate reported.
func CycleSource(c Cycle, cal regime.Calibration) string {
	src := cal.Source
	if src == "" {
		src = "calibrated"
	}
	return fmt.Sprintf("%s:%s", c, src)
}

// CycleResult is the out-of-sample outcome of one cycle
type CycleResult struct {
	Cycle
	Calibration regime.Calibration
	TestTrades  []*position.Position
	StartEquity decimal.Decimal
	EndEquity   decimal.Decimal
	Run         *Result
}

// WalkForward calibrates on each cycle's train window, then replays train
// and test together so account state is warm, keeping only trades entered
// in the test window. Equity carries from one cycle to the next. Each
// cycle's result reports its calibration source as CycleSource.
func WalkForward(ctx context.Context, cfg *config.Config, calendar *gating.Calendar, data map[string]*Series,
	trainMonths, testMonths int, logger *zap.Logger, opts ...Option) ([]CycleResult, error) {
	start, end := span(data)
	if start.IsZero() {
		return nil, fmt.Errorf("walk-forward needs data")
	}
	cycles := WalkForwardWindows(start, end, trainMonths, testMonths)
	if len(cycles) == 0 {
		logger.Warn("[WALKFORWARD] no complete cycle fits the data",
			zap.Time("start", start), zap.Time("end", end))
		return nil, nil
	}

	equity := decimal.NewFromFloat(cfg.InitialEquity)
	out := make([]CycleResult, 0, len(cycles))
	for _, c := range cycles {
		train := make(map[string]regime.PairHistory)
		window := make(map[string]*Series)
		for name, s := range data {
			ts := s.Window(c.TrainStart, c.TrainEnd)
			train[name] = regime.PairHistory{Coarse: ts.Coarse, Fine: ts.Fine, Bars: ts.Bars}
			window[name] = s.Window(c.TrainStart, c.TestEnd)
		}
		cal := regime.Calibrate(train, 0)
		if cal.Source != "" {
			logger.Warn("[WALKFORWARD] calibration fell back to defaults",
				zap.String("cycle", c.String()), zap.String("source", cal.Source))
		}
		labeled := cal
		labeled.Source = CycleSource(c, cal)

		cycleCfg := *cfg
		cycleCfg.InitialEquity = equity.InexactFloat64()
		res, err := NewEngine(&cycleCfg, labeled, calendar, logger, opts...).Run(ctx, window)
		if err != nil {
			return out, fmt.Errorf("%s: %w", c, err)
		}

		cr := CycleResult{
			Cycle:       c,
			Calibration: cal,
			StartEquity: equity,
			EndEquity:   res.FinalEquity,
			Run:         res,
		}
		for _, p := range res.Closed {
			if !p.EntryTime.Before(c.TestStart) {
				cr.TestTrades = append(cr.TestTrades, p)
			}
		}
		out = append(out, cr)
		equity = res.FinalEquity

		logger.Info("[WALKFORWARD] cycle complete",
			zap.String("cycle", c.String()),
			zap.Int("test_trades", len(cr.TestTrades)),
			zap.String("start_equity", cr.StartEquity.StringFixed(2)),
			zap.String("end_equity", cr.EndEquity.StringFixed(2)))
	}
	return out, nil
}

// span returns the first bar end and last bar end across the data
func span(data map[string]*Series) (start, end time.Time) {
	for _, s := range data {
		if len(s.Bars) == 0 {
			continue
		}
		first, last := s.Bars[0].EndTime, s.Bars[len(s.Bars)-1].EndTime
		if start.IsZero() || first.Before(start) {
			start = first
		}
		if last.After(end) {
			end = last
		}
	}
	return start, end
}
