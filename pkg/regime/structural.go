package regime

import (
	"github.com/rangefx-bot/pkg/bars"
	"github.com/rangefx-bot/pkg/indicators"
)

const (
	adxPeriod        = 14
	structLookback   = 20
	atrAvgPeriod     = 20
	emaTrendPeriod   = 200
	persistLookback  = 20
	csmLookback      = 20
	csmMinBasket     = 3
	neutralComponent = 10
)

// StructuralDetail holds the five coarse-timeframe sub-scores
type StructuralDetail struct {
	ADX         int
	Structure   int
	ATR         int
	CSM         int
	Persistence int
}

// Total sums the sub-scores (0..100)
func (sd StructuralDetail) Total() int {
	return sd.ADX + sd.Structure + sd.ATR + sd.CSM + sd.Persistence
}

func structural(in Inputs, cal Calibration) StructuralDetail {
	return StructuralDetail{
		ADX:         adxStrength(in.Coarse, cal),
		Structure:   marketStructure(in.Coarse),
		ATR:         atrExpansion(in.Coarse, cal),
		CSM:         csmAlignment(in.Basket, in.Instrument, trendBias(in.Coarse)),
		Persistence: trendPersistence(in.Coarse),
	}
}

func adxStrength(coarse []bars.Candle, cal Calibration) int {
	if len(coarse) < adxPeriod*3 {
		return neutralComponent
	}
	adx := indicators.ADX(bars.Highs(coarse), bars.Lows(coarse), bars.Closes(coarse), adxPeriod)
	cur := adx[len(adx)-1]
	rising := cur > adx[len(adx)-3]
	switch {
	case cur >= cal.ADX.P75 && rising:
		return 20
	case cur < cal.ADX.P25:
		return 0
	default:
		return 10
	}
}

func marketStructure(coarse []bars.Candle) int {
	if len(coarse) < structLookback+2 {
		return 0
	}
	window := coarse[len(coarse)-structLookback-2:]
	highs, lows := indicators.Pivots(bars.Highs(window), bars.Lows(window))

	up, down := 0, 0
	for i := 1; i < len(highs); i++ {
		if highs[i] > highs[i-1] {
			up++
		} else if highs[i] < highs[i-1] {
			down++
		}
	}
	for i := 1; i < len(lows); i++ {
		if lows[i] > lows[i-1] {
			up++
		} else if lows[i] < lows[i-1] {
			down++
		}
	}
	dominant, recessive := up, down
	if down > up {
		dominant, recessive = down, up
	}
	switch {
	case dominant >= 3 && recessive <= 1:
		return 20
	case dominant >= 2:
		return 10
	default:
		return 0
	}
}

func atrExpansion(coarse []bars.Candle, cal Calibration) int {
	if len(coarse) < adxPeriod+atrAvgPeriod {
		return 0
	}
	atr := indicators.ATR(bars.Highs(coarse), bars.Lows(coarse), bars.Closes(coarse), adxPeriod)
	avg := indicators.Mean(indicators.Tail(atr, atrAvgPeriod))
	if avg <= 0 {
		return 0
	}
	ratio := atr[len(atr)-1] / avg
	switch {
	case ratio >= cal.ATRRatio.P75:
		return 20
	case ratio >= cal.ATRRatio.P25:
		return 10
	default:
		return 0
	}
}

// trendBias is +1 when the instrument rose over the CSM lookback, else -1
func trendBias(coarse []bars.Candle) int {
	if len(coarse) <= csmLookback {
		return 1
	}
	if coarse[len(coarse)-1].Close < coarse[len(coarse)-1-csmLookback].Close {
		return -1
	}
	return 1
}

func csmAlignment(basket map[string][]bars.Candle, instrument string, bias int) int {
	if len(basket) < csmMinBasket || len(instrument) != 6 {
		return neutralComponent
	}
	scores := currencyStrength(basket, csmLookback, 1)
	base, quote := instrument[:3], instrument[3:]
	if _, ok := scores[base]; !ok {
		return neutralComponent
	}
	if _, ok := scores[quote]; !ok {
		return neutralComponent
	}

	var a, b float64
	if bias >= 0 {
		a, b = rankShares(scores, base, quote)
	} else {
		a, b = rankSharesInverse(scores, base, quote)
	}
	alignment := (a + b) / 2
	switch {
	case alignment >= 0.7:
		return 20
	case alignment >= 0.4:
		return 10
	default:
		return 0
	}
}

func trendPersistence(coarse []bars.Candle) int {
	if len(coarse) < emaTrendPeriod+persistLookback {
		return 0
	}
	closes := bars.Closes(coarse)
	ema := indicators.EMA(closes, emaTrendPeriod)
	above, below := 0, 0
	for i := len(closes) - persistLookback; i < len(closes); i++ {
		if closes[i] > ema[i] {
			above++
		} else if closes[i] < ema[i] {
			below++
		}
	}
	dominant := above
	if below > dominant {
		dominant = below
	}
	share := float64(dominant) / persistLookback
	switch {
	case share >= 0.7:
		return 20
	case share >= 0.5:
		return 10
	default:
		return 0
	}
}
