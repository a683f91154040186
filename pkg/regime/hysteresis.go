package regime

// Hysteresis holds one instrument's confirmed regime and any pending change.
// A change commits only when the score clears the boundary by the margin
// and the proposal repeats for persistence consecutive observations.
type Hysteresis struct {
	margin      float64
	persistence int

	confirmed      Regime
	confirmedScore float64
	pending        Regime
	count          int
}

// NewHysteresis creates a filter starting in the transitional regime
func NewHysteresis(margin float64, persistence int) *Hysteresis {
	if persistence < 1 {
		persistence = 1
	}
	return &Hysteresis{
		margin:         margin,
		persistence:    persistence,
		confirmed:      Transitional,
		confirmedScore: FallbackScore,
	}
}

// Observe feeds one coarse-period composite and returns the filtered score
// and regime. While a change is unconfirmed the last confirmed score is
// returned, so the score always sits inside the returned regime's band.
func (h *Hysteresis) Observe(score float64) (float64, Regime) {
	proposed := Classify(score)

	if proposed == h.confirmed {
		h.confirmedScore = score
		h.reset()
		return score, h.confirmed
	}

	boundary := Boundary(h.confirmed, proposed)
	if abs(score-boundary) < h.margin {
		h.reset()
		return h.confirmedScore, h.confirmed
	}

	if h.pending == proposed {
		h.count++
	} else {
		h.pending = proposed
		h.count = 1
	}

	if h.count >= h.persistence {
		h.confirmed = proposed
		h.confirmedScore = score
		h.reset()
		return score, proposed
	}
	return h.confirmedScore, h.confirmed
}

// Regime returns the confirmed regime
func (h *Hysteresis) Regime() Regime {
	return h.confirmed
}

// Score returns the score that accompanied the confirmed regime
func (h *Hysteresis) Score() float64 {
	return h.confirmedScore
}

// Pending returns the pending regime and its persistence count
func (h *Hysteresis) Pending() (Regime, int) {
	return h.pending, h.count
}

func (h *Hysteresis) reset() {
	h.pending = ""
	h.count = 0
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
