// Package market defines the candle, regime, and indicator types shared by
// the calculator, signal, and order pipelines.
package market

import (
	"github.com/shopspring/decimal"
)

// Color represents the direction of a candle body
type Color string

const (
	ColorGreen Color = "green"
	ColorRed   Color = "red"
)

// Side represents a trade direction
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other trade direction.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Regime represents the directional market regime derived from MA alignment
type Regime string

const (
	RegimeLong    Regime = "long"
	RegimeShort   Regime = "short"
	RegimeNeutral Regime = "neutral"
)

// Side maps a directional regime to its trade side. Only valid for
// RegimeLong and RegimeShort.
func (r Regime) Side() Side {
	if r == RegimeShort {
		return SideShort
	}
	return SideLong
}

// Candle is a closed OHLC bar for a (symbol, timeframe) pair.
// Timestamps are unix milliseconds.
type Candle struct {
	Symbol    string
	Timeframe string
	TS        int64
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Color     Color
}

// DeriveColor fills in the candle color when the upstream feed omitted it:
// green iff close >= open.
func (c *Candle) DeriveColor() {
	if c.Color != "" {
		return
	}
	if c.Close.GreaterThanOrEqual(c.Open) {
		c.Color = ColorGreen
	} else {
		c.Color = ColorRed
	}
}

// IndicatorCandle is the most recent counter-colored candle in the current
// regime: the latest red candle while long, the latest green candle while
// short. Its extremes define the breakout trigger and invalidation stop.
type IndicatorCandle struct {
	Symbol string
	Side   Side
	High   decimal.Decimal
	Low    decimal.Decimal
	TS     int64
}

// IndicatorSnapshot is the per-candle indicator output written to the
// indicator stream and the latest-snapshot hash. IndHigh/IndLow/IndTS are
// only set while an indicator candle exists.
type IndicatorSnapshot struct {
	Symbol    string
	Timeframe string
	TS        int64
	Close     decimal.Decimal
	MA20      decimal.Decimal
	MA200     decimal.Decimal
	Regime    Regime
	IndHigh   *decimal.Decimal
	IndLow    *decimal.Decimal
	IndTS     *int64
}
