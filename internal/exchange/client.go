// Package exchange is the typed facade over the perpetual-futures venue.
// It validates order payloads before they leave the process and normalizes
// responses into decimal-typed structs.
package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"regime-trading-bot/internal/filters"
)

// Facade errors
var (
	// ErrOrderNotFound is returned by CancelOrder when the venue no longer
	// knows the order id. Callers treat it as already-cancelled.
	ErrOrderNotFound = errors.New("order not found")
)

// Client is the exchange operations surface the core depends on.
// Implementations: BinanceClient (signed HTTP) and MockClient (dry-run).
type Client interface {
	// PlaceOrder validates and places an order, returning the venue order id.
	PlaceOrder(ctx context.Context, params OrderParams) (*OrderAck, error)

	// CancelOrder cancels an open order. Returns ErrOrderNotFound if the
	// venue no longer tracks the id.
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// OpenOrders lists open orders, optionally filtered by symbol
	// (empty string for all).
	OpenOrders(ctx context.Context, symbol string) ([]Order, error)

	// Positions lists positions, optionally filtered by symbol.
	Positions(ctx context.Context, symbol string) ([]Position, error)

	// Balance returns the free balance of an asset.
	Balance(ctx context.Context, asset string) (decimal.Decimal, error)

	// SymbolFilters returns the trading filters for a symbol.
	SymbolFilters(ctx context.Context, symbol string) (filters.SymbolFilters, error)
}

// ValidateOrderParams enforces the venue's payload rules before a request
// is signed. Invalid combinations never reach the wire.
func ValidateOrderParams(p OrderParams) error {
	if p.Symbol == "" {
		return fmt.Errorf("order params: symbol required")
	}
	if p.Side != SideBuy && p.Side != SideSell {
		return fmt.Errorf("order params: invalid side %q", p.Side)
	}
	switch p.Type {
	case OrderTypeLimit, OrderTypeMarket, OrderTypeStopMarket,
		OrderTypeTakeProfitMarket, OrderTypeTakeProfit, OrderTypeTakeProfitLimit:
	default:
		return fmt.Errorf("order params: invalid type %q", p.Type)
	}
	switch p.TimeInForce {
	case "", TimeInForceGTC, TimeInForceIOC, TimeInForceFOK, TimeInForceGTX, TimeInForceGTEGTC:
	default:
		return fmt.Errorf("order params: invalid timeInForce %q", p.TimeInForce)
	}
	switch p.PositionSide {
	case "", PositionSideBoth, PositionSideLong, PositionSideShort:
	default:
		return fmt.Errorf("order params: invalid positionSide %q", p.PositionSide)
	}
	switch p.WorkingType {
	case "", WorkingTypeContractPrice, WorkingTypeMarkPrice:
	default:
		return fmt.Errorf("order params: invalid workingType %q", p.WorkingType)
	}

	switch p.Type {
	case OrderTypeLimit:
		if p.Price.IsZero() || p.TimeInForce == "" {
			return fmt.Errorf("order params: LIMIT requires price and timeInForce")
		}
	case OrderTypeStopMarket, OrderTypeTakeProfitMarket:
		if p.StopPrice.IsZero() {
			return fmt.Errorf("order params: %s requires stopPrice", p.Type)
		}
	case OrderTypeTakeProfit, OrderTypeTakeProfitLimit:
		if p.Price.IsZero() || p.StopPrice.IsZero() || p.TimeInForce == "" {
			return fmt.Errorf("order params: %s requires price, stopPrice and timeInForce", p.Type)
		}
	}

	closePositionMarket := p.ClosePosition &&
		(p.Type == OrderTypeStopMarket || p.Type == OrderTypeTakeProfitMarket)
	if p.Quantity.IsZero() && !closePositionMarket {
		return fmt.Errorf("order params: quantity required")
	}
	return nil
}
