package regime

import (
	"fmt"
	"time"

	"github.com/rangefx-bot/pkg/bars"
	"github.com/rangefx-bot/pkg/indicators"
)

// MinCoarseCandles is the coarse history needed before scoring
const MinCoarseCandles = 30

// Inputs is the point-in-time evidence for one instrument. Every slice must
// contain only data that was complete at Now.
type Inputs struct {
	Instrument string
	Now        time.Time
	Coarse     []bars.Candle            // 4H
	Fine       []bars.Candle            // 1H
	Bars       []bars.Bar               // range bars
	Basket     map[string][]bars.Candle // 4H per basket pair
	FineBasket map[string][]bars.Candle // 1H per basket pair
}

// Components is one regime computation
type Components struct {
	Instrument   string
	Time         time.Time
	Structural   StructuralDetail
	Modifier     ModifierDetail
	Intelligence IntelligenceDetail
	Composite    float64
	Raw          Regime
	Warmup       bool
}

// Score computes the composite regime score. It is a pure function of its
// inputs and the calibration.
func Score(in Inputs, cal Calibration) Components {
	c := Components{Instrument: in.Instrument, Time: in.Now}
	if len(in.Coarse) < MinCoarseCandles {
		c.Composite = FallbackScore
		c.Raw = Classify(FallbackScore)
		c.Warmup = true
		return c
	}

	c.Structural = structural(in, cal)
	c.Modifier = modifier(in, cal)
	c.Intelligence = intelligence(in, cal)
	sum := float64(c.Structural.Total() + c.Modifier.Total() + c.Intelligence.Total())
	c.Composite = indicators.Clamp(sum, 0, 100)
	c.Raw = Classify(c.Composite)
	return c
}

// Check verifies the composite is the clamped sum of its components
func (c Components) Check() error {
	if c.Composite < 0 || c.Composite > 100 {
		return fmt.Errorf("composite %v outside [0,100] for %s", c.Composite, c.Instrument)
	}
	if c.Warmup {
		return nil
	}
	sum := float64(c.Structural.Total() + c.Modifier.Total() + c.Intelligence.Total())
	if indicators.Clamp(sum, 0, 100) != c.Composite {
		return fmt.Errorf("composite %v is not the clamped component sum %v for %s", c.Composite, sum, c.Instrument)
	}
	return nil
}

// Reading is a scored event after hysteresis
type Reading struct {
	Components
	Effective float64 // filtered score, inside Regime's band
	Regime    Regime
	Observed  bool // a new coarse candle was fed to the filter
}

// Tracker keeps per-instrument hysteresis state across a run and feeds the
// filter once per completed coarse candle.
type Tracker struct {
	cal         Calibration
	margin      float64
	persistence int

	filters  map[string]*Hysteresis
	lastSeen map[string]time.Time
	lastRead map[string]Reading
}

// NewTracker creates a regime tracker
func NewTracker(cal Calibration, margin float64, persistence int) *Tracker {
	return &Tracker{
		cal:         cal,
		margin:      margin,
		persistence: persistence,
		filters:     make(map[string]*Hysteresis),
		lastSeen:    make(map[string]time.Time),
		lastRead:    make(map[string]Reading),
	}
}

// Calibration returns the snapshot the tracker scores with
func (tr *Tracker) Calibration() Calibration {
	return tr.cal
}

// Update scores the inputs. The hysteresis filter only advances when the
// latest coarse candle is newer than the one previously observed; between
// coarse closes the last filtered score and regime carry forward.
func (tr *Tracker) Update(in Inputs) (Reading, error) {
	comp := Score(in, tr.cal)
	if err := comp.Check(); err != nil {
		return Reading{}, err
	}

	h, ok := tr.filters[in.Instrument]
	if !ok {
		h = NewHysteresis(tr.margin, tr.persistence)
		tr.filters[in.Instrument] = h
	}

	r := Reading{Components: comp, Effective: h.Score(), Regime: h.Regime()}
	if prev, ok := tr.lastRead[in.Instrument]; ok {
		r.Effective, r.Regime = prev.Effective, prev.Regime
	}

	if n := len(in.Coarse); n > 0 && !comp.Warmup {
		latest := in.Coarse[n-1].End
		if latest.After(tr.lastSeen[in.Instrument]) {
			r.Effective, r.Regime = h.Observe(comp.Composite)
			r.Observed = true
			tr.lastSeen[in.Instrument] = latest
		}
	}
	tr.lastRead[in.Instrument] = r
	return r, nil
}

// Regime returns an instrument's confirmed regime
func (tr *Tracker) Regime(instrument string) Regime {
	if h, ok := tr.filters[instrument]; ok {
		return h.Regime()
	}
	return Transitional
}
