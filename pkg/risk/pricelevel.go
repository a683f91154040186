package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/rangefx-bot/pkg/config"
)

const maxLevelsPerInstrument = 100

type lossLevel struct {
	price  float64
	time   time.Time
	module string
	r      float64
}

// PriceLevelTracker blocks a module from re-entering near a price where it
// recently lost. Other modules may still enter there.
type PriceLevelTracker struct {
	pips    float64
	window  time.Duration
	history map[string][]lossLevel
}

// NewPriceLevelTracker creates a tracker from configuration
func NewPriceLevelTracker(cfg *config.Config) *PriceLevelTracker {
	return &PriceLevelTracker{
		pips:    cfg.PriceLevelCooldownPips,
		window:  time.Duration(cfg.PriceLevelCooldownHours) * time.Hour,
		history: make(map[string][]lossLevel),
	}
}

// RecordLoss remembers the entry price of a losing trade. Wins are ignored.
func (pl *PriceLevelTracker) RecordLoss(instrument, module string, entry float64, closed time.Time, r float64) {
	if r >= 0 {
		return
	}
	h := append(pl.history[instrument], lossLevel{price: entry, time: closed, module: module, r: r})
	if len(h) > maxLevelsPerInstrument {
		h = h[len(h)-maxLevelsPerInstrument:]
	}
	pl.history[instrument] = h
}

// Blocked reports whether module may not enter inst at price at time now,
// with the reason when it may not
func (pl *PriceLevelTracker) Blocked(inst config.Instrument, module string, price float64, now time.Time) (bool, string) {
	cutoff := now.Add(-pl.window)
	limit := pl.pips * inst.PipSize
	for _, lvl := range pl.history[inst.Name] {
		if lvl.time.Before(cutoff) || lvl.module != module {
			continue
		}
		if math.Abs(price-lvl.price) <= limit+1e-12 {
			return true, fmt.Sprintf("%s lost %.2fR at %.5f %.1fh ago", module, lvl.r, lvl.price,
				now.Sub(lvl.time).Hours())
		}
	}
	return false, ""
}
