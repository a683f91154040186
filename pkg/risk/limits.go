package risk

import (
	"time"

	"github.com/rangefx-bot/pkg/config"
)

// DailyLimits tracks trades opened and R lost on the current UTC day
type DailyLimits struct {
	maxDailyTrades int
	lossCapR       float64

	day        time.Time
	tradeCount int
	lossR      float64
	capHit     bool
}

// NewDailyLimits creates a daily limit tracker
func NewDailyLimits(cfg *config.Config) *DailyLimits {
	return &DailyLimits{
		maxDailyTrades: cfg.MaxDailyTrades,
		lossCapR:       cfg.DailyLossCapR,
	}
}

// Rollover resets the counters when t falls on a later UTC date than the
// current day. It returns true when a reset happened.
func (dl *DailyLimits) Rollover(t time.Time) bool {
	y, m, d := t.UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if !dl.day.IsZero() && !today.After(dl.day) {
		return false
	}
	first := dl.day.IsZero()
	dl.day = today
	dl.tradeCount = 0
	dl.lossR = 0
	dl.capHit = false
	return !first
}

// RecordOpen counts a new position against today's trade limit
func (dl *DailyLimits) RecordOpen() {
	dl.tradeCount++
}

// RecordClose adds a losing trade's R to today's loss
func (dl *DailyLimits) RecordClose(totalR float64) {
	if totalR < 0 {
		dl.lossR -= totalR
	}
	if dl.lossR >= dl.lossCapR {
		dl.capHit = true
	}
}

// CapHit reports whether today's realized loss reached the cap
func (dl *DailyLimits) CapHit() bool {
	return dl.capHit
}

// TradesExhausted reports whether today's trade count reached the limit
func (dl *DailyLimits) TradesExhausted() bool {
	return dl.tradeCount >= dl.maxDailyTrades
}

// TradeCount returns positions opened today
func (dl *DailyLimits) TradeCount() int {
	return dl.tradeCount
}

// LossR returns R lost today
func (dl *DailyLimits) LossR() float64 {
	return dl.lossR
}

// Day returns the current UTC day
func (dl *DailyLimits) Day() time.Time {
	return dl.day
}

// MaxConcurrent returns the open position limit for an equity level
func MaxConcurrent(cfg *config.Config, equity float64) int {
	if equity >= cfg.EquityUpgradeThreshold {
		return cfg.MaxConcurrentUpgraded
	}
	return cfg.MaxConcurrent
}

// GoldUnlocked reports whether equity permits trading the gated metal
func GoldUnlocked(cfg *config.Config, equity float64) bool {
	return equity >= cfg.GoldUnlockEquity
}
