package model

import "github.com/shopspring/decimal"

// SymbolFilters holds the trading rules the exchange enforces for one symbol.
// Zero values mean the rule is unknown and is not applied.
type SymbolFilters struct {
	Symbol      string          `json:"symbol"`
	TickSize    decimal.Decimal `json:"tickSize"`    // PRICE_FILTER
	StepSize    decimal.Decimal `json:"stepSize"`    // LOT_SIZE
	MinQty      decimal.Decimal `json:"minQty"`      // LOT_SIZE
	MinNotional decimal.Decimal `json:"minNotional"` // NOTIONAL / MIN_NOTIONAL
}

// SnapPrice rounds price down to the tick size.
func (f SymbolFilters) SnapPrice(price decimal.Decimal) decimal.Decimal {
	return floorToStep(price, f.TickSize)
}

// SnapVolume rounds volume down to the lot step so an order never exceeds
// what the engine computed or holds.
func (f SymbolFilters) SnapVolume(volume decimal.Decimal) decimal.Decimal {
	return floorToStep(volume, f.StepSize)
}

func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}
