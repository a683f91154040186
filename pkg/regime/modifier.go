package regime

import (
	"github.com/rangefx-bot/pkg/bars"
	"github.com/rangefx-bot/pkg/indicators"
)

const (
	bbPeriod      = 20
	bbStdDev      = 2.0
	adxSlopeBars  = 5
	csmDiffWindow = 10
	modifierLimit = 15
)

// ModifierDetail holds the three fine-timeframe sub-scores (each -5, 0 or +5)
type ModifierDetail struct {
	BBWidth  int
	ADXSlope int
	CSMDiff  int
}

// Total sums the sub-scores clamped to ±15
func (md ModifierDetail) Total() int {
	t := md.BBWidth + md.ADXSlope + md.CSMDiff
	if t > modifierLimit {
		return modifierLimit
	}
	if t < -modifierLimit {
		return -modifierLimit
	}
	return t
}

func modifier(in Inputs, cal Calibration) ModifierDetail {
	return ModifierDetail{
		BBWidth:  bbWidthScore(in.Fine, cal),
		ADXSlope: adxSlopeScore(in.Fine, cal),
		CSMDiff:  csmDiffScore(in.FineBasket, in.Instrument, cal),
	}
}

func bbWidthScore(fine []bars.Candle, cal Calibration) int {
	if len(fine) < bbPeriod+3 {
		return 0
	}
	width := indicators.BollingerWidth(bars.Closes(fine), bbPeriod, bbStdDev)
	cur := width[len(width)-1]
	rising := cur > width[len(width)-3]
	switch {
	case cur >= cal.BBWidth.P80 && rising:
		return 5
	case cur <= cal.BBWidth.P20:
		return -5
	default:
		return 0
	}
}

func adxSlopeScore(fine []bars.Candle, cal Calibration) int {
	if len(fine) < adxPeriod*3+adxSlopeBars {
		return 0
	}
	adx := indicators.ADX(bars.Highs(fine), bars.Lows(fine), bars.Closes(fine), adxPeriod)
	recent := indicators.Tail(adx, adxSlopeBars)
	slope := (recent[len(recent)-1] - recent[0]) / adxSlopeBars
	switch {
	case slope > cal.ADXSlopeThreshold:
		return 5
	case slope < -cal.ADXSlopeThreshold:
		return -5
	default:
		return 0
	}
}

func csmDiffScore(basket map[string][]bars.Candle, instrument string, cal Calibration) int {
	if len(basket) < csmMinBasket || len(instrument) != 6 {
		return 0
	}
	base, quote := instrument[:3], instrument[3:]
	cur := currencyStrength(basket, csmDiffWindow, 1)
	prev := currencyStrength(basket, csmDiffWindow, csmDiffWindow+1)
	if _, ok := cur[base]; !ok {
		return 0
	}
	if _, ok := cur[quote]; !ok {
		return 0
	}
	// without a previous window there is nothing to widen from
	if _, ok := prev[base]; !ok {
		return 0
	}
	if _, ok := prev[quote]; !ok {
		return 0
	}
	curDiff := abs(cur[base] - cur[quote])
	prevDiff := abs(prev[base] - prev[quote])
	switch {
	case curDiff > prevDiff*(1+cal.CSMWidenPct/100):
		return 5
	case curDiff < prevDiff*(1-cal.CSMNarrowPct/100):
		return -5
	default:
		return 0
	}
}
