package position

import (
	"github.com/shopspring/decimal"

	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/strategy"
)

// CostModel applies adverse slippage to every fill and charges a round-trip
// commission per lot at open
type CostModel struct {
	SlippagePips     float64
	CommissionPerLot float64
}

// NewCostModel creates a cost model from configuration
func NewCostModel(cfg *config.Config) CostModel {
	return CostModel{
		SlippagePips:     cfg.SlippagePips,
		CommissionPerLot: cfg.CommissionPerLot,
	}
}

// EntryFill worsens an entry price: buys pay more, sells receive less
func (cm CostModel) EntryFill(inst config.Instrument, dir strategy.Direction, price float64) float64 {
	return price + dir.Sign()*cm.SlippagePips*inst.PipSize
}

// ExitFill worsens an exit price: closing a buy receives less, closing a
// sell pays more
func (cm CostModel) ExitFill(inst config.Instrument, dir strategy.Direction, price float64) float64 {
	return price - dir.Sign()*cm.SlippagePips*inst.PipSize
}

// Commission returns the round-trip commission for a lot size
func (cm CostModel) Commission(lots float64) decimal.Decimal {
	return decimal.NewFromFloat(cm.CommissionPerLot).Mul(decimal.NewFromFloat(lots)).Round(2)
}

// LegPnL returns the gross account-currency result of closing fraction of
// lots with a signed pip gain
func LegPnL(inst config.Instrument, lots, fraction, pips float64) decimal.Decimal {
	return decimal.NewFromFloat(lots).
		Mul(decimal.NewFromFloat(fraction)).
		Mul(decimal.NewFromFloat(pips)).
		Mul(decimal.NewFromFloat(inst.PipValuePerLot))
}
