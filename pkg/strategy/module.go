package strategy

import (
	"time"

	"github.com/rangefx-bot/pkg/bars"
	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/gating"
	"github.com/rangefx-bot/pkg/regime"
)

// Module names
const (
	TrendRiderName    = "TrendRider"
	BreakoutRiderName = "BreakoutRider"
	RangeRiderName    = "RangeRider"
)

// GatingState is the exogenous state visible to a module
type GatingState struct {
	NewsBlocked      bool
	PostEventCooling bool
	Session          gating.Session
}

// Input is the point-in-time view handed to a module
type Input struct {
	Instrument   config.Instrument
	Bars         []bars.Bar
	Coarse       []bars.Candle
	Fine         []bars.Candle
	Score        float64
	Regime       regime.Regime
	ScoreHistory []float64 // effective scores at prior bars, oldest first
	Gating       GatingState
	Now          time.Time
}

// LastBar returns the most recent range bar
func (in Input) LastBar() bars.Bar {
	return in.Bars[len(in.Bars)-1]
}

// Module is a decision module. Propose returns a signal, or nil and the
// reason no setup was found.
type Module interface {
	Name() string
	// Active reports whether the composite score falls in the module's band
	Active(score float64) bool
	AllowsGapAdjacent() bool
	SessionPolicy() gating.Policy
	Propose(in Input) (*Signal, error)
}

// Registry is the fixed, ordered set of modules
type Registry struct {
	modules []Module
}

// NewRegistry creates a registry. Order matters for Select.
func NewRegistry(modules ...Module) *Registry {
	return &Registry{modules: modules}
}

// DefaultRegistry returns the three production modules
func DefaultRegistry(rangeHardSession bool) *Registry {
	return NewRegistry(
		NewTrendRider(),
		NewBreakoutRider(),
		NewRangeRider(rangeHardSession),
	)
}

// Select returns the first module whose band contains score
func (r *Registry) Select(score float64) Module {
	for _, m := range r.modules {
		if m.Active(score) {
			return m
		}
	}
	return nil
}

// Lookup finds a module by name
func (r *Registry) Lookup(name string) Module {
	for _, m := range r.modules {
		if m.Name() == name {
			return m
		}
	}
	return nil
}

// Modules returns the registered modules in order
func (r *Registry) Modules() []Module {
	return r.modules
}

func newSignal(in Input, module string, dir Direction, entry, stop float64, reason string) *Signal {
	return &Signal{
		Instrument:  in.Instrument.Name,
		Direction:   dir,
		Entry:       entry,
		Stop:        stop,
		TargetR:     DefaultTargetR,
		Module:      module,
		RegimeScore: in.Score,
		Regime:      in.Regime,
		BarTime:     in.LastBar().EndTime,
		Session:     in.Gating.Session,
		Reason:      reason,
	}
}
