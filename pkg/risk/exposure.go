package risk

import (
	"fmt"

	"github.com/rangefx-bot/pkg/config"
)

// Exposure counts open positions per currency, either side
type Exposure map[string]int

// NewExposure derives currency exposure from the instruments of the open
// positions
func NewExposure(open []config.Instrument) Exposure {
	e := make(Exposure)
	for _, inst := range open {
		e[inst.Base]++
		e[inst.Quote]++
	}
	return e
}

// Blocked reports whether either currency of inst already appears in max or
// more open positions
func (e Exposure) Blocked(inst config.Instrument, max int) (bool, string) {
	for _, ccy := range []string{inst.Base, inst.Quote} {
		if e[ccy] >= max {
			return true, fmt.Sprintf("%s already in %d open positions", ccy, e[ccy])
		}
	}
	return false, ""
}
