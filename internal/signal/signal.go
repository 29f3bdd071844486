// Package signal defines the arm/disarm signal union emitted by the
// calculator and consumed by the signal poller. Signals cross the stream
// boundary as typed structs; the loose key/value stream payload is decoded
// in one place (codec.go) and never leaks past it.
package signal

import (
	"fmt"

	"github.com/shopspring/decimal"

	"regime-trading-bot/internal/market"
)

// Kind discriminates the signal union
type Kind string

const (
	KindArm    Kind = "arm"
	KindDisarm Kind = "disarm"
)

// Disarm reasons
const (
	ReasonRegimeExit = "regime_exit"
	ReasonDirectFlip = "direct-flip"
)

// Signal is the closed union of Arm and Disarm.
type Signal interface {
	Kind() Kind
	// ID returns the unique signal id "{sym}:{ind_ts}:{side}".
	ID() string
}

// ID builds the canonical signal id for a (symbol, indicator-ts, side)
// triple. An Arm and the Disarm that retracts it share the same id.
func ID(symbol string, indTS int64, side market.Side) string {
	return fmt.Sprintf("%s:%d:%s", symbol, indTS, side)
}

// Arm announces a primed breakout entry at Trigger with Stop as
// invalidation. Trigger and Stop are already quantized to the symbol tick.
type Arm struct {
	Symbol    string
	Timeframe string
	IndTS     int64
	Side      market.Side
	Trigger   decimal.Decimal
	Stop      decimal.Decimal
}

// Kind implements Signal.
func (Arm) Kind() Kind { return KindArm }

// ID implements Signal.
func (a Arm) ID() string { return ID(a.Symbol, a.IndTS, a.Side) }

// Disarm retracts a previously armed entry. Side is the side being
// disarmed; Reason records why (regime exit or direct flip).
type Disarm struct {
	Symbol    string
	Timeframe string
	IndTS     int64
	Side      market.Side
	Reason    string
}

// Kind implements Signal.
func (Disarm) Kind() Kind { return KindDisarm }

// ID implements Signal.
func (d Disarm) ID() string { return ID(d.Symbol, d.IndTS, d.Side) }
