package strategy

import (
	"fmt"

	"github.com/rangefx-bot/pkg/bars"
	"github.com/rangefx-bot/pkg/gating"
	"github.com/rangefx-bot/pkg/indicators"
	"github.com/rangefx-bot/pkg/regime"
)

// TrendRider trades pullbacks inside an established trend
type TrendRider struct {
	MinBars          int
	MinFineCandles   int
	EMAPeriod        int
	StaircaseWindow  int
	StaircaseMin     int
	ADXPeriod        int
	ADXMin           float64
	ADXRiseLookback  int
	MomentumLookback int
}

// NewTrendRider creates a TrendRider with default parameters
func NewTrendRider() *TrendRider {
	return &TrendRider{
		MinBars:          20,
		MinFineCandles:   210,
		EMAPeriod:        200,
		StaircaseWindow:  15,
		StaircaseMin:     5,
		ADXPeriod:        14,
		ADXMin:           25,
		ADXRiseLookback:  5,
		MomentumLookback: 5,
	}
}

func (tr *TrendRider) Name() string { return TrendRiderName }

func (tr *TrendRider) Active(score float64) bool { return score >= regime.TrendingMin }

func (tr *TrendRider) AllowsGapAdjacent() bool { return true }

func (tr *TrendRider) SessionPolicy() gating.Policy { return gating.MajorSessionPolicy{} }

// Propose looks for a counter bar followed by a resumption bar in the
// direction of the 1H EMA200 trend.
func (tr *TrendRider) Propose(in Input) (*Signal, error) {
	if len(in.Bars) < tr.MinBars {
		return nil, fmt.Errorf("need %d range bars, have %d", tr.MinBars, len(in.Bars))
	}
	if len(in.Fine) < tr.MinFineCandles {
		return nil, fmt.Errorf("need %d 1H candles, have %d", tr.MinFineCandles, len(in.Fine))
	}

	closes := bars.Closes(in.Fine)
	ema := indicators.Last(indicators.EMA(closes, tr.EMAPeriod))
	dir := Buy
	if closes[len(closes)-1] < ema {
		dir = Sell
	}

	if steps := staircase(bars.Tail(in.Bars, tr.StaircaseWindow), dir); steps < tr.StaircaseMin {
		return nil, fmt.Errorf("staircase of %d steps, need %d", steps, tr.StaircaseMin)
	}

	// Score momentum: a regime that is fading is not a trend worth joining.
	if n := len(in.ScoreHistory); n > tr.MomentumLookback {
		if in.Score-in.ScoreHistory[n-1-tr.MomentumLookback] < 0 {
			return nil, fmt.Errorf("regime score falling")
		}
	}

	adx := indicators.ADX(bars.Highs(in.Fine), bars.Lows(in.Fine), closes, tr.ADXPeriod)
	cur := adx[len(adx)-1]
	past := adx[len(adx)-1-tr.ADXRiseLookback]
	if !(cur > tr.ADXMin) {
		return nil, fmt.Errorf("1H ADX %.1f below %.0f", cur, tr.ADXMin)
	}
	if !(cur > past) {
		return nil, fmt.Errorf("1H ADX not rising (%.1f vs %.1f)", cur, past)
	}

	pullback := in.Bars[len(in.Bars)-2]
	resume := in.Bars[len(in.Bars)-1]
	var stop float64
	switch dir {
	case Buy:
		if !pullback.IsDown() || !(resume.Close >= resume.Open) {
			return nil, fmt.Errorf("no pullback and resumption")
		}
		stop = pullback.Low
	case Sell:
		if !pullback.IsUp() || !(resume.Close <= resume.Open) {
			return nil, fmt.Errorf("no pullback and resumption")
		}
		stop = pullback.High
	}

	entry := resume.Close
	if entry == stop {
		return nil, fmt.Errorf("zero risk distance")
	}
	return newSignal(in, tr.Name(), dir, entry, stop,
		fmt.Sprintf("trend %s EMA200=%.5f ADX=%.1f", dir, ema, cur)), nil
}

// staircase returns the longest run of bars making higher highs and higher
// lows (Buy) or lower lows and lower highs (Sell).
func staircase(window []bars.Bar, dir Direction) int {
	best, run := 0, 0
	for i := 1; i < len(window); i++ {
		prev, cur := window[i-1], window[i]
		var step bool
		if dir == Buy {
			step = cur.High > prev.High && cur.Low > prev.Low
		} else {
			step = cur.Low < prev.Low && cur.High < prev.High
		}
		if step {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 0
		}
	}
	return best
}
