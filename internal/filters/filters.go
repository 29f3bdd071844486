// Package filters holds per-symbol exchange trading filters and the
// tick/step quantization helpers used for all order price and quantity
// normalization. All arithmetic is exact decimal.
package filters

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Validation errors
var (
	ErrBelowMinQty      = errors.New("quantity below minimum")
	ErrBelowMinNotional = errors.New("notional below minimum")
)

// SymbolFilters are the exchange-published trading constraints for one
// symbol: price tick, quantity step, minimum quantity, and minimum notional
// (qty x price).
type SymbolFilters struct {
	Symbol      string
	QuoteAsset  string
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// QuantizeFloor rounds x down to the nearest multiple of step.
// Quantization is idempotent: quantizing an already-quantized value is a
// no-op. A zero step returns x unchanged.
func QuantizeFloor(x, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return x
	}
	return x.Div(step).Floor().Mul(step)
}

// QuantizeCeil rounds x up to the nearest multiple of step.
func QuantizeCeil(x, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return x
	}
	return x.Div(step).Ceil().Mul(step)
}

// QuantizeQty rounds a raw quantity down to the step size.
func (f SymbolFilters) QuantizeQty(qty decimal.Decimal) decimal.Decimal {
	return QuantizeFloor(qty, f.StepSize)
}

// CheckQty validates a step-quantized quantity against the minimum quantity
// and minimum notional at the given reference price.
func (f SymbolFilters) CheckQty(qty, price decimal.Decimal) error {
	if !f.MinQty.IsZero() && qty.LessThan(f.MinQty) {
		return ErrBelowMinQty
	}
	if !f.MinNotional.IsZero() && qty.Mul(price).LessThan(f.MinNotional) {
		return ErrBelowMinNotional
	}
	return nil
}
