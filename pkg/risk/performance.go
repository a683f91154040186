package risk

import (
	"time"

	"github.com/rangefx-bot/pkg/config"
)

// Outcome is one closed trade as seen by the performance tracker
type Outcome struct {
	R       float64
	Time    time.Time
	Weekend bool // closed by the Friday rule; ignored for loss streaks
}

type moduleState struct {
	window        []Outcome
	cooldownUntil time.Time
}

// PerformanceTracker keeps a rolling outcome window and a cooldown timer per
// decision module. Modules never see each other's results.
type PerformanceTracker struct {
	window   int
	losses   int
	cooldown time.Duration
	states   map[string]*moduleState
}

// NewPerformanceTracker creates a tracker from configuration
func NewPerformanceTracker(cfg *config.Config) *PerformanceTracker {
	return &PerformanceTracker{
		window:   cfg.CooldownWindow,
		losses:   cfg.CooldownLosses,
		cooldown: time.Duration(cfg.CooldownHours) * time.Hour,
		states:   make(map[string]*moduleState),
	}
}

func (pt *PerformanceTracker) state(module string) *moduleState {
	st, ok := pt.states[module]
	if !ok {
		st = &moduleState{}
		pt.states[module] = st
	}
	return st
}

// Record adds a closed trade. A losing non-weekend trade that extends the
// loss streak to the threshold starts the cooldown. It returns true when a
// cooldown was started.
func (pt *PerformanceTracker) Record(module string, o Outcome) bool {
	st := pt.state(module)
	st.window = append(st.window, o)
	if len(st.window) > pt.window {
		st.window = st.window[len(st.window)-pt.window:]
	}
	if o.Weekend || o.R >= 0 {
		return false
	}
	if pt.consecutiveLosses(st) >= pt.losses {
		st.cooldownUntil = o.Time.Add(pt.cooldown)
		return true
	}
	return false
}

// consecutiveLosses counts losses from the newest outcome backwards,
// skipping weekend closes
func (pt *PerformanceTracker) consecutiveLosses(st *moduleState) int {
	n := 0
	for i := len(st.window) - 1; i >= 0; i-- {
		o := st.window[i]
		if o.Weekend {
			continue
		}
		if o.R >= 0 {
			break
		}
		n++
	}
	return n
}

// WindowR returns the summed R of a module's recent window
func (pt *PerformanceTracker) WindowR(module string) float64 {
	var sum float64
	for _, o := range pt.state(module).window {
		sum += o.R
	}
	return sum
}

// Multiplier returns the performance multiplier for a module
func (pt *PerformanceTracker) Multiplier(module string) float64 {
	return PerformanceMultiplier(pt.WindowR(module))
}

// InCooldown reports whether a module is paused at t
func (pt *PerformanceTracker) InCooldown(module string, t time.Time) bool {
	return t.Before(pt.state(module).cooldownUntil)
}

// CooldownUntil returns the end of a module's cooldown, zero if never set
func (pt *PerformanceTracker) CooldownUntil(module string) time.Time {
	return pt.state(module).cooldownUntil
}
