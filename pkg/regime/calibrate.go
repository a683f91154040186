package regime

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rangefx-bot/pkg/bars"
	"github.com/rangefx-bot/pkg/indicators"
)

const (
	calMinCoarse   = 100
	calMinFine     = bbPeriod + 50
	calMinBars     = 100
	calSpeedStart  = 60
	calSpeedStride = 10
	calMinSpeeds   = 10

	// calWarmup leading ADX and ATR samples are still converging and are
	// left out of the percentiles
	calWarmup = 2 * adxPeriod
)

// SourcePartialPrefix marks a calibration where some pairs kept the default
// Bollinger width or bar speed band. The affected pairs follow the prefix.
const SourcePartialPrefix = "default-partial:"

// PairHistory is the offline history of one instrument used for calibration
type PairHistory struct {
	Coarse []bars.Candle
	Fine   []bars.Candle
	Bars   []bars.Bar
}

// Calibrate derives percentile thresholds from historical data. The last
// holdoutMonths of the dataset are excluded. Pairs are processed in sorted
// order, so the same dataset always yields the same document. A full
// fallback sets Source to SourceDefault; pairs that fell back for a single
// band are listed after SourcePartialPrefix.
func Calibrate(data map[string]PairHistory, holdoutMonths int) Calibration {
	cal := DefaultCalibration()
	cal.Version = "1"
	cal.Source = ""

	pairs := make([]string, 0, len(data))
	for p := range data {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)
	cal.Pairs = pairs

	start, end := datasetSpan(data)
	if end.IsZero() {
		cal.Source = SourceDefault
		return cal
	}
	cutoff := end.AddDate(0, -holdoutMonths, 0)
	cal.DatasetRange = DatasetRange{Start: start.Format(time.DateOnly), End: cutoff.Format(time.DateOnly)}
	cal.CalibrationDate = end.Format(time.DateOnly)

	var adxAll, ratioAll []float64
	var bbLow, bbHigh, speedLow, speedHigh []float64
	var partial []string

	for _, p := range pairs {
		h := data[p]
		coarse := candlesBefore(h.Coarse, cutoff)
		if len(coarse) < calMinCoarse {
			continue
		}
		hi, lo, cl := bars.Highs(coarse), bars.Lows(coarse), bars.Closes(coarse)
		adxAll = append(adxAll, indicators.ADX(hi, lo, cl, adxPeriod)[calWarmup:]...)

		atr := indicators.ATR(hi, lo, cl, adxPeriod)
		avg := indicators.SMA(atr, atrAvgPeriod)
		for i := calWarmup; i < len(atr); i++ {
			if !math.IsNaN(avg[i]) {
				ratioAll = append(ratioAll, atr[i]/(avg[i]+1e-9))
			}
		}

		bbOK, speedOK := false, false
		if l, u, ok := bbWidthBand(candlesBefore(h.Fine, cutoff)); ok {
			bbLow = append(bbLow, l)
			bbHigh = append(bbHigh, u)
			bbOK = true
		}
		if l, u, ok := speedBand(barsBefore(h.Bars, cutoff)); ok {
			speedLow = append(speedLow, l)
			speedHigh = append(speedHigh, u)
			speedOK = true
		}
		if !bbOK || !speedOK {
			partial = append(partial, p)
		}
	}

	if len(adxAll) == 0 {
		cal.Source = SourceDefault
		return cal
	}
	cal.ADX = Band{P25: indicators.Percentile(adxAll, 25), P75: indicators.Percentile(adxAll, 75)}
	cal.ATRRatio = Band{P25: indicators.Percentile(ratioAll, 25), P75: indicators.Percentile(ratioAll, 75)}
	if len(bbLow) > 0 {
		cal.BBWidth = WidthBand{P20: indicators.Mean(bbLow), P80: indicators.Mean(bbHigh)}
	}
	if len(speedLow) > 0 {
		cal.RBSpeed = Band{P25: indicators.Mean(speedLow), P75: indicators.Mean(speedHigh)}
	}
	if len(partial) > 0 {
		cal.Source = SourcePartialPrefix + strings.Join(partial, ",")
	}
	return cal
}

// bbWidthBand reports false when there is too little fine history
func bbWidthBand(fine []bars.Candle) (float64, float64, bool) {
	if len(fine) < calMinFine {
		return 0, 0, false
	}
	width := indicators.BollingerWidth(bars.Closes(fine), bbPeriod, bbStdDev)
	return indicators.Percentile(width, 20), indicators.Percentile(width, 80), true
}

// speedBand samples the bars-per-hour count at every tenth bar. It reports
// false when there are too few bars or samples.
func speedBand(rb []bars.Bar) (float64, float64, bool) {
	if len(rb) < calMinBars {
		return 0, 0, false
	}
	var speeds []float64
	for i := calSpeedStart; i < len(rb); i += calSpeedStride {
		cutoff := rb[i].EndTime.Add(-speedWindow)
		count := 0
		for j := i - 1; j >= 0 && !rb[j].EndTime.Before(cutoff); j-- {
			count++
		}
		speeds = append(speeds, float64(count))
	}
	if len(speeds) < calMinSpeeds {
		return 0, 0, false
	}
	return indicators.Percentile(speeds, 25), indicators.Percentile(speeds, 75), true
}

func datasetSpan(data map[string]PairHistory) (start, end time.Time) {
	for _, h := range data {
		for _, c := range [][]bars.Candle{h.Coarse, h.Fine} {
			if len(c) == 0 {
				continue
			}
			if start.IsZero() || c[0].Start.Before(start) {
				start = c[0].Start
			}
			if c[len(c)-1].End.After(end) {
				end = c[len(c)-1].End
			}
		}
	}
	return start, end
}

func candlesBefore(candles []bars.Candle, cutoff time.Time) []bars.Candle {
	i := sort.Search(len(candles), func(i int) bool { return !candles[i].End.Before(cutoff) })
	return candles[:i]
}

func barsBefore(rb []bars.Bar, cutoff time.Time) []bars.Bar {
	i := sort.Search(len(rb), func(i int) bool { return !rb[i].EndTime.Before(cutoff) })
	return rb[:i]
}
