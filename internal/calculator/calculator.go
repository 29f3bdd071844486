// Package calculator is the per-subscription candle state machine: rolling
// MA regime classification, indicator-candle tracking, and arm/disarm
// signal emission across regime transitions.
package calculator

import (
	"github.com/shopspring/decimal"

	"regime-trading-bot/internal/filters"
	"regime-trading-bot/internal/market"
	"regime-trading-bot/internal/signal"
)

// MA windows. The ring is sized to the larger one; regime stays neutral
// until it fills.
const (
	maShortWindow = 20
	maLongWindow  = 200
)

// ArmedState is the calculator's record of the currently armed entry.
type ArmedState struct {
	Side    market.Side
	Trigger decimal.Decimal
	Stop    decimal.Decimal
	IndTS   int64
}

// Calculator holds the per-(symbol, timeframe) state. It is owned by a
// single worker goroutine and is not safe for concurrent use.
type Calculator struct {
	symbol     string
	timeframe  string
	tick       decimal.Decimal
	classifier market.RegimeClassifier

	shortWin   int
	longWin    int
	ring       *closeRing
	prevRegime market.Regime
	indCandle  *market.IndicatorCandle
	armed      *ArmedState
}

// New creates a calculator with the production MA windows. tick is the
// symbol's price tick, used to place triggers strictly beyond the
// indicator extremes.
func New(symbol, timeframe string, tick decimal.Decimal, classifier market.RegimeClassifier) *Calculator {
	return NewWithWindows(symbol, timeframe, tick, classifier, maShortWindow, maLongWindow)
}

// NewWithWindows creates a calculator with explicit MA windows. Used by
// tests to shrink the warmup.
func NewWithWindows(symbol, timeframe string, tick decimal.Decimal, classifier market.RegimeClassifier, shortWin, longWin int) *Calculator {
	return &Calculator{
		symbol:     symbol,
		timeframe:  timeframe,
		tick:       tick,
		classifier: classifier,
		shortWin:   shortWin,
		longWin:    longWin,
		ring:       newCloseRing(longWin),
		prevRegime: market.RegimeNeutral,
	}
}

// Armed exposes the current armed state, nil when unarmed.
func (c *Calculator) Armed() *ArmedState { return c.armed }

// Process consumes one closed candle and returns the signals it produced,
// in emission order, plus the indicator snapshot. The snapshot is nil
// until both MA windows are filled.
//
// Signal ordering across a direct flip is fixed: the DISARM for the old
// side always precedes the ARM for the new side, and the ARM only joins it
// on the same candle when that candle itself supplies the new side's
// indicator candle.
func (c *Calculator) Process(cd *market.Candle) ([]signal.Signal, *market.IndicatorSnapshot) {
	cd.DeriveColor()
	c.ring.Push(cd.Close)

	ma20, ok20 := c.ring.SMA(c.shortWin)
	ma200, ok200 := c.ring.SMA(c.longWin)

	regime := market.RegimeNeutral
	if ok20 && ok200 {
		regime = c.classifier.Classify(cd.Close, ma20, ma200)
	}

	c.updateIndicatorCandle(cd, regime)
	sigs := c.transition(regime)
	c.prevRegime = regime

	if !ok20 || !ok200 {
		return sigs, nil
	}

	snap := &market.IndicatorSnapshot{
		Symbol:    c.symbol,
		Timeframe: c.timeframe,
		TS:        cd.TS,
		Close:     cd.Close,
		MA20:      ma20,
		MA200:     ma200,
		Regime:    regime,
	}
	if c.indCandle != nil {
		high, low, ts := c.indCandle.High, c.indCandle.Low, c.indCandle.TS
		snap.IndHigh, snap.IndLow, snap.IndTS = &high, &low, &ts
	}
	return sigs, snap
}

// updateIndicatorCandle applies step 4 of the per-candle procedure: a
// counter-colored candle in a directional regime becomes the indicator
// candle; leaving the regime clears it.
func (c *Calculator) updateIndicatorCandle(cd *market.Candle, regime market.Regime) {
	switch {
	case regime == market.RegimeLong && cd.Color == market.ColorRed:
		c.indCandle = &market.IndicatorCandle{
			Symbol: c.symbol, Side: market.SideLong,
			High: cd.High, Low: cd.Low, TS: cd.TS,
		}
	case regime == market.RegimeShort && cd.Color == market.ColorGreen:
		c.indCandle = &market.IndicatorCandle{
			Symbol: c.symbol, Side: market.SideShort,
			High: cd.High, Low: cd.Low, TS: cd.TS,
		}
	}
	if regime == market.RegimeNeutral {
		c.indCandle = nil
	} else if c.indCandle != nil && c.indCandle.Side != regime.Side() {
		c.indCandle = nil
	}
}

// transition emits signals for the prev→new regime edge. Disarm always
// precedes any arm emitted on the same candle.
func (c *Calculator) transition(regime market.Regime) []signal.Signal {
	var sigs []signal.Signal

	if c.armed != nil && (regime == market.RegimeNeutral || regime.Side() != c.armed.Side) {
		reason := signal.ReasonRegimeExit
		if regime != market.RegimeNeutral {
			reason = signal.ReasonDirectFlip
		}
		sigs = append(sigs, signal.Disarm{
			Symbol:    c.symbol,
			Timeframe: c.timeframe,
			IndTS:     c.armed.IndTS,
			Side:      c.armed.Side,
			Reason:    reason,
		})
		c.armed = nil
	}

	if regime != market.RegimeNeutral && c.armed == nil &&
		c.indCandle != nil && c.indCandle.Side == regime.Side() {
		sigs = append(sigs, c.arm(regime.Side()))
	}
	return sigs
}

// arm computes trigger and stop from the indicator extremes, one tick
// beyond them. Quantization is floor for the long trigger and short stop,
// ceil for the short trigger and long stop, so rounding never pulls a
// price back inside the indicator range.
func (c *Calculator) arm(side market.Side) signal.Arm {
	above := filters.QuantizeFloor(c.indCandle.High.Add(c.tick), c.tick)
	below := filters.QuantizeCeil(c.indCandle.Low.Sub(c.tick), c.tick)

	var trigger, stop decimal.Decimal
	if side == market.SideLong {
		trigger, stop = above, below
	} else {
		trigger, stop = below, above
	}

	c.armed = &ArmedState{Side: side, Trigger: trigger, Stop: stop, IndTS: c.indCandle.TS}
	return signal.Arm{
		Symbol:    c.symbol,
		Timeframe: c.timeframe,
		IndTS:     c.indCandle.TS,
		Side:      side,
		Trigger:   trigger,
		Stop:      stop,
	}
}
