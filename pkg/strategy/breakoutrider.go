package strategy

import (
	"fmt"

	"github.com/rangefx-bot/pkg/bars"
	"github.com/rangefx-bot/pkg/gating"
	"github.com/rangefx-bot/pkg/indicators"
	"github.com/rangefx-bot/pkg/regime"
)

// BreakoutRider trades range bar breakouts out of 1H volatility compression
type BreakoutRider struct {
	MinBars         int
	MinFineCandles  int
	BBPeriod        int
	BBStdDev        float64
	WidthHistory    int
	WidthPercentile float64
	KeltnerPeriod   int
	KeltnerMult     float64
	SpeedBars       int
	StopEMAPeriod   int
	Windows         []gating.Window
}

// NewBreakoutRider creates a BreakoutRider with default parameters
func NewBreakoutRider() *BreakoutRider {
	return &BreakoutRider{
		MinBars:         25,
		MinFineCandles:  120,
		BBPeriod:        20,
		BBStdDev:        2,
		WidthHistory:    100,
		WidthPercentile: 20,
		KeltnerPeriod:   20,
		KeltnerMult:     1.5,
		SpeedBars:       3,
		StopEMAPeriod:   20,
		Windows:         []gating.Window{{Start: 7, End: 9}, {Start: 12, End: 14}},
	}
}

func (br *BreakoutRider) Name() string { return BreakoutRiderName }

func (br *BreakoutRider) Active(score float64) bool {
	return score >= regime.TransitionalMin && score < regime.TrendingMin
}

func (br *BreakoutRider) AllowsGapAdjacent() bool { return false }

func (br *BreakoutRider) SessionPolicy() gating.Policy {
	return gating.WindowPolicy{Windows: br.Windows}
}

// Propose fires when 1H Bollinger width is compressed and the last range bar
// closes outside the Keltner channel with accelerating bar speed. The stop is
// the 1H EMA20 and is not checked for side here.
func (br *BreakoutRider) Propose(in Input) (*Signal, error) {
	if len(in.Bars) < br.MinBars {
		return nil, fmt.Errorf("need %d range bars, have %d", br.MinBars, len(in.Bars))
	}
	if len(in.Fine) < br.MinFineCandles {
		return nil, fmt.Errorf("need %d 1H candles, have %d", br.MinFineCandles, len(in.Fine))
	}

	closes := bars.Closes(in.Fine)
	widths := indicators.BollingerWidth(closes, br.BBPeriod, br.BBStdDev)
	width := indicators.Last(widths)
	limit := indicators.Percentile(indicators.Tail(widths, br.WidthHistory), br.WidthPercentile)
	if !(width <= limit) {
		return nil, fmt.Errorf("no compression: BB width %.5f above p%.0f %.5f", width, br.WidthPercentile, limit)
	}

	recent := bars.Tail(in.Bars, br.MinBars)
	upper, _, lower := indicators.Keltner(barHighs(recent), barLows(recent), bars.BarCloses(recent),
		br.KeltnerPeriod, br.KeltnerMult)
	last := recent[len(recent)-1]
	prev := recent[len(recent)-2]

	var dir Direction
	switch {
	case last.Close > upper && last.High > prev.High:
		dir = Buy
	case last.Close < lower && last.Low < prev.Low:
		dir = Sell
	default:
		return nil, fmt.Errorf("no Keltner breakout")
	}

	if !br.accelerating(in.Bars) {
		return nil, fmt.Errorf("bar speed not increasing")
	}

	stop := indicators.Last(indicators.EMA(closes, br.StopEMAPeriod))
	if last.Close == stop {
		return nil, fmt.Errorf("zero risk distance")
	}
	return newSignal(in, br.Name(), dir, last.Close, stop,
		fmt.Sprintf("breakout %s BBw=%.5f KC=[%.5f %.5f]", dir, width, lower, upper)), nil
}

// accelerating reports whether the last bar formed faster than the average
// of the bars before it. Short histories pass.
func (br *BreakoutRider) accelerating(bs []bars.Bar) bool {
	if len(bs) < br.SpeedBars+2 {
		return true
	}
	last := bs[len(bs)-1]
	var sum float64
	for _, b := range bs[len(bs)-1-br.SpeedBars : len(bs)-1] {
		sum += b.EndTime.Sub(b.StartTime).Seconds()
	}
	return last.EndTime.Sub(last.StartTime).Seconds() < sum/float64(br.SpeedBars)
}

func barHighs(bs []bars.Bar) []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i] = b.High
	}
	return out
}

func barLows(bs []bars.Bar) []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i] = b.Low
	}
	return out
}
