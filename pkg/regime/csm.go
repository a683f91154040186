package regime

import (
	"sort"

	"github.com/rangefx-bot/pkg/bars"
)

// currencyStrength sums, per currency, the return of every basket pair over
// lookback candles ending offset candles from the end. The base currency
// gains the return and the quote currency loses it.
func currencyStrength(basket map[string][]bars.Candle, lookback, offset int) map[string]float64 {
	names := make([]string, 0, len(basket))
	for name := range basket {
		names = append(names, name)
	}
	sort.Strings(names)

	scores := make(map[string]float64)
	for _, name := range names {
		candles := basket[name]
		if len(name) != 6 || len(candles) < lookback+offset {
			continue
		}
		end := candles[len(candles)-offset].Close
		start := candles[len(candles)-offset-lookback].Close
		if start == 0 {
			continue
		}
		ret := (end - start) / start
		scores[name[:3]] += ret
		scores[name[3:]] -= ret
	}
	return scores
}

// rankShares returns the share of currencies strictly weaker than base and
// strictly stronger than quote.
func rankShares(scores map[string]float64, base, quote string) (baseAbove, quoteBelow float64) {
	b, q := scores[base], scores[quote]
	n := float64(len(scores))
	for _, v := range scores {
		if b > v {
			baseAbove++
		}
		if q < v {
			quoteBelow++
		}
	}
	return baseAbove / n, quoteBelow / n
}

// rankSharesInverse is rankShares for a short bias: base weak, quote strong
func rankSharesInverse(scores map[string]float64, base, quote string) (baseBelow, quoteAbove float64) {
	b, q := scores[base], scores[quote]
	n := float64(len(scores))
	for _, v := range scores {
		if b < v {
			baseBelow++
		}
		if q > v {
			quoteAbove++
		}
	}
	return baseBelow / n, quoteAbove / n
}
