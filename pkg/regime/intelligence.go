package regime

import (
	"time"

	"github.com/rangefx-bot/pkg/bars"
)

const (
	speedWindow       = 60 * time.Minute
	barShapeLookback  = 20
	intelligenceLimit = 20
)

// IntelligenceDetail holds the two range-bar sub-scores (each 0, 5 or 10)
type IntelligenceDetail struct {
	Speed     int
	Structure int
}

// Total sums the sub-scores clamped to 0..20
func (id IntelligenceDetail) Total() int {
	t := id.Speed + id.Structure
	if t > intelligenceLimit {
		return intelligenceLimit
	}
	if t < 0 {
		return 0
	}
	return t
}

func intelligence(in Inputs, cal Calibration) IntelligenceDetail {
	return IntelligenceDetail{
		Speed:     barSpeed(in.Bars, in.Now, cal),
		Structure: barStructure(in.Bars),
	}
}

// barSpeed counts bars that closed within the hour before ref
func barSpeed(history []bars.Bar, ref time.Time, cal Calibration) int {
	if len(history) < 2 {
		return 5
	}
	if ref.IsZero() {
		ref = history[len(history)-1].EndTime
	}
	cutoff := ref.Add(-speedWindow)
	count := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].EndTime.Before(cutoff) {
			break
		}
		count++
	}
	switch {
	case float64(count) >= cal.RBSpeed.P75:
		return 10
	case float64(count) >= cal.RBSpeed.P25:
		return 5
	default:
		return 0
	}
}

func barStructure(history []bars.Bar) int {
	if len(history) < barShapeLookback {
		return 5
	}
	recent := history[len(history)-barShapeLookback:]
	up, down := 0, 0
	for _, b := range recent {
		if b.IsUp() {
			up++
		} else if b.IsDown() {
			down++
		}
	}
	dominant := up
	if down > dominant {
		dominant = down
	}
	share := float64(dominant) / float64(len(recent))
	if share < 0.5 {
		return 0
	}
	if share >= 0.7 && hasPullback(recent, up >= down) {
		return 10
	}
	return 5
}

// hasPullback reports whether a run in the dominant direction is broken by
// at least one counter bar.
func hasPullback(recent []bars.Bar, bullish bool) bool {
	inRun := false
	for _, b := range recent {
		withTrend := b.IsUp() == bullish
		if withTrend {
			inRun = true
			continue
		}
		if inRun {
			return true
		}
	}
	return false
}
