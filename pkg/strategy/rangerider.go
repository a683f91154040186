package strategy

import (
	"fmt"

	"github.com/rangefx-bot/pkg/bars"
	"github.com/rangefx-bot/pkg/gating"
	"github.com/rangefx-bot/pkg/regime"
)

// RangeRider fades the boundaries of a range bar consolidation block
type RangeRider struct {
	MinBlockBars  int
	Lookback      int
	MinWidthBars  float64 // block width in bar sizes
	TouchFraction float64 // boundary tolerance in bar sizes
	StopBuffer    float64 // stop beyond the boundary in bar sizes
	HardSession   bool
}

// NewRangeRider creates a RangeRider. With hardSession set the London/NY
// overlap is refused.
func NewRangeRider(hardSession bool) *RangeRider {
	return &RangeRider{
		MinBlockBars:  8,
		Lookback:      30,
		MinWidthBars:  2,
		TouchFraction: 0.3,
		StopBuffer:    1,
		HardSession:   hardSession,
	}
}

func (rr *RangeRider) Name() string { return RangeRiderName }

func (rr *RangeRider) Active(score float64) bool { return score < regime.TransitionalMin }

func (rr *RangeRider) AllowsGapAdjacent() bool { return true }

func (rr *RangeRider) SessionPolicy() gating.Policy { return gating.SoftPolicy{Hard: rr.HardSession} }

// Propose sells a close near the top of the block and buys one near the
// bottom, with the stop one buffer beyond the touched boundary.
func (rr *RangeRider) Propose(in Input) (*Signal, error) {
	if len(in.Bars) < rr.MinBlockBars+2 {
		return nil, fmt.Errorf("need %d range bars, have %d", rr.MinBlockBars+2, len(in.Bars))
	}
	size := in.Instrument.BarSize()
	upper, lower, ok := rr.block(bars.Tail(in.Bars, rr.Lookback), size)
	if !ok {
		return nil, fmt.Errorf("no consolidation block")
	}

	last := in.LastBar()
	tol := rr.TouchFraction * size
	var dir Direction
	var stop float64
	switch {
	case last.Close >= upper-tol:
		dir, stop = Sell, upper+rr.StopBuffer*size
	case last.Close <= lower+tol:
		dir, stop = Buy, lower-rr.StopBuffer*size
	default:
		return nil, fmt.Errorf("close %.5f inside block [%.5f %.5f]", last.Close, lower, upper)
	}
	return newSignal(in, rr.Name(), dir, last.Close, stop,
		fmt.Sprintf("fade %s block=[%.5f %.5f]", dir, lower, upper)), nil
}

// block scans end positions from newest to oldest and returns the bounds of
// the first window of at least MinBlockBars bars wider than MinWidthBars bar
// sizes. Widening a window never narrows it, so only the longest window per
// end position needs checking.
func (rr *RangeRider) block(recent []bars.Bar, size float64) (upper, lower float64, ok bool) {
	for end := len(recent) - 1; end >= rr.MinBlockBars-1; end-- {
		start := end - rr.Lookback
		if start < 0 {
			start = 0
		}
		hi, lo := recent[start].High, recent[start].Low
		for _, b := range recent[start+1 : end+1] {
			if b.High > hi {
				hi = b.High
			}
			if b.Low < lo {
				lo = b.Low
			}
		}
		if hi-lo > rr.MinWidthBars*size {
			return hi, lo, true
		}
	}
	return 0, 0, false
}
