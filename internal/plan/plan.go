// Package plan turns an arm signal plus a bot's risk configuration into a
// fully quantized bracketed entry plan: a stop-market breakout entry and
// its protective stop-loss and take-profit orders.
package plan

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"regime-trading-bot/internal/exchange"
	"regime-trading-bot/internal/filters"
	"regime-trading-bot/internal/market"
	"regime-trading-bot/internal/signal"
	"regime-trading-bot/internal/store"
)

// Diagnostics carries the sizing intermediates for logging and the order
// audit trail.
type Diagnostics struct {
	FreeBalance decimal.Decimal `json:"free_balance"`
	RiskUSD     decimal.Decimal `json:"risk_usd"`
	PriceDiff   decimal.Decimal `json:"price_diff"`
	RawQty      decimal.Decimal `json:"raw_qty"`
	Notes       []string        `json:"notes,omitempty"`
}

// Plan is a complete order plan for one arm signal. OK is false when the
// plan was skipped for a sizing reason (zero balance, below exchange
// minimums); Diagnostics.Notes says why. A not-OK plan is a clean skip,
// not an error.
type Plan struct {
	OK     bool
	Symbol string
	Side   market.Side
	Qty    decimal.Decimal

	Entry      exchange.OrderParams
	StopLoss   exchange.OrderParams
	TakeProfit exchange.OrderParams

	// Brackets are placed immediately after the entry acknowledges, before
	// any fill. Conditional orders rest venue-side until triggered.
	PreplaceBrackets bool

	Diagnostics Diagnostics
}

// Build sizes and constructs the plan. Exchange lookups that fail
// transiently return an error (the caller retries); sizing outcomes that
// cannot improve on retry return a not-OK plan. Bracket params are
// populated even on a sizing skip, since they carry no quantity and a
// redelivery resuming after a bracket failure still needs them.
func Build(ctx context.Context, ex exchange.Client, arm signal.Arm, cfg *store.BotConfig) (*Plan, error) {
	f, err := ex.SymbolFilters(ctx, arm.Symbol)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", arm.Symbol, err)
	}

	var entrySide, exitSide exchange.Side
	if arm.Side == market.SideLong {
		entrySide, exitSide = exchange.SideBuy, exchange.SideSell
	} else {
		entrySide, exitSide = exchange.SideSell, exchange.SideBuy
	}

	p := &Plan{
		Symbol:           arm.Symbol,
		Side:             arm.Side,
		PreplaceBrackets: true,
		StopLoss: exchange.OrderParams{
			Symbol:        arm.Symbol,
			Side:          exitSide,
			Type:          exchange.OrderTypeStopMarket,
			StopPrice:     arm.Stop,
			ClosePosition: true,
			WorkingType:   exchange.WorkingTypeMarkPrice,
		},
		TakeProfit: exchange.OrderParams{
			Symbol:        arm.Symbol,
			Side:          exitSide,
			Type:          exchange.OrderTypeTakeProfitMarket,
			StopPrice:     takeProfitPrice(arm, cfg.TPRatio, f),
			ClosePosition: true,
			WorkingType:   exchange.WorkingTypeMarkPrice,
		},
	}
	skip := func(note string) *Plan {
		p.Diagnostics.Notes = append(p.Diagnostics.Notes, note)
		return p
	}

	quote := f.QuoteAsset
	if quote == "" {
		quote = "USDT"
	}
	balance, err := ex.Balance(ctx, quote)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", arm.Symbol, err)
	}

	p.Diagnostics.FreeBalance = balance
	if !balance.IsPositive() {
		return skip("zero free balance"), nil
	}

	p.Diagnostics.RiskUSD = balance.Mul(cfg.RiskPerTrade)
	p.Diagnostics.PriceDiff = arm.Trigger.Sub(arm.Stop).Abs()
	if p.Diagnostics.PriceDiff.IsZero() {
		return skip("trigger equals stop"), nil
	}

	// leverage scales the notional the risk budget can carry; the exchange
	// applies the effective leverage itself
	lev := decimal.NewFromInt(int64(cfg.Leverage))
	if !lev.IsPositive() {
		lev = decimal.NewFromInt(1)
	}
	rawQty := p.Diagnostics.RiskUSD.Div(p.Diagnostics.PriceDiff).Mul(lev)
	p.Diagnostics.RawQty = rawQty

	// the max-qty guard rejects on the raw quantity, before step rounding
	if cfg.MaxQty != nil && rawQty.GreaterThan(*cfg.MaxQty) {
		return skip(fmt.Sprintf("qty %s exceeds max_qty %s", rawQty, cfg.MaxQty)), nil
	}

	qty := f.QuantizeQty(rawQty)
	if err := f.CheckQty(qty, arm.Trigger); err != nil {
		return skip(err.Error()), nil
	}

	p.OK = true
	p.Qty = qty
	p.Entry = exchange.OrderParams{
		Symbol:      arm.Symbol,
		Side:        entrySide,
		Type:        exchange.OrderTypeStopMarket,
		Quantity:    qty,
		StopPrice:   arm.Trigger,
		WorkingType: exchange.WorkingTypeContractPrice,
	}
	return p, nil
}

// takeProfitPrice projects the stop distance tpRatio times past the trigger
// and quantizes toward the trigger, so the target is never pushed out of
// reach by rounding.
func takeProfitPrice(arm signal.Arm, tpRatio decimal.Decimal, f filters.SymbolFilters) decimal.Decimal {
	dist := arm.Trigger.Sub(arm.Stop).Abs().Mul(tpRatio)
	if arm.Side == market.SideLong {
		return filters.QuantizeFloor(arm.Trigger.Add(dist), f.TickSize)
	}
	return filters.QuantizeCeil(arm.Trigger.Sub(dist), f.TickSize)
}
