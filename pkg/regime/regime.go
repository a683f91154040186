// Package regime scores market regime from coarse, fine and range-bar
// evidence and filters the classification with hysteresis.
package regime

// Regime is the classified market state
type Regime string

const (
	Trending     Regime = "trending"
	Transitional Regime = "transitional"
	Range        Regime = "range"
)

// Classification boundaries on the composite score
const (
	TrendingMin     = 70.0
	TransitionalMin = 30.0

	// FallbackScore is used while coarse history is too short to score
	FallbackScore = 50.0
)

// Classify maps a composite score to a regime without hysteresis
func Classify(score float64) Regime {
	switch {
	case score >= TrendingMin:
		return Trending
	case score >= TransitionalMin:
		return Transitional
	default:
		return Range
	}
}

// Boundary returns the score threshold separating two regimes
func Boundary(from, to Regime) float64 {
	switch {
	case (from == Trending && to == Transitional) || (from == Transitional && to == Trending):
		return TrendingMin
	case (from == Transitional && to == Range) || (from == Range && to == Transitional):
		return TransitionalMin
	default:
		return 50
	}
}

// RiskMultiplier is the per-regime sizing factor reported on records
func (r Regime) RiskMultiplier() float64 {
	switch r {
	case Trending:
		return 1.0
	case Transitional:
		return 0.6
	case Range:
		return 0.7
	}
	return 1.0
}
