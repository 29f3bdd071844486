// Package store persists bot configuration, bot runtime state, tracked
// order ids and the processed-signal idempotency sets. The production
// implementation is Redis-backed; an in-memory implementation backs dry
// runs and tests.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrBotNotFound is returned when a bot id has no stored configuration.
var ErrBotNotFound = errors.New("bot not found")

// Bot status values
const (
	BotStatusActive = "active"
	BotStatusPaused = "paused"
	BotStatusEnded  = "ended"
)

// Side-mode values. A bot only acts on signals matching its side mode.
const (
	SideModeBoth      = "both"
	SideModeLongOnly  = "long_only"
	SideModeShortOnly = "short_only"
)

// Position side values held in BotState.
const (
	PositionFlat  = "flat"
	PositionLong  = "long"
	PositionShort = "short"
)

// BotConfig is the static per-bot trading configuration.
type BotConfig struct {
	BotID        string           `json:"bot_id"`
	UserID       string           `json:"user_id"`
	Symbol       string           `json:"symbol"`
	Status       string           `json:"status"`
	SideMode     string           `json:"side_mode"`
	RiskPerTrade decimal.Decimal  `json:"risk_per_trade"`
	Leverage     int              `json:"leverage"`
	TPRatio      decimal.Decimal  `json:"tp_ratio"`
	MaxQty       *decimal.Decimal `json:"max_qty,omitempty"`
}

// AllowsSide reports whether the bot's side mode permits acting on the
// given signal side ("long" or "short").
func (c *BotConfig) AllowsSide(side string) bool {
	switch c.SideMode {
	case SideModeBoth:
		return true
	case SideModeLongOnly:
		return side == "long"
	case SideModeShortOnly:
		return side == "short"
	}
	return false
}

// BotState is the mutable per-bot runtime state the reconciler keeps in
// sync with the exchange.
type BotState struct {
	LastSignalID      string          `json:"last_signal_id"`
	ArmedEntryOrderID string          `json:"armed_entry_order_id"`
	BracketIDs        []string        `json:"bracket_ids"`
	PositionSide      string          `json:"position_side"`
	PositionQty       decimal.Decimal `json:"position_qty"`
	AvgEntryPrice     decimal.Decimal `json:"avg_entry_price"`
}

// NewBotState returns a flat, order-free state.
func NewBotState() *BotState {
	return &BotState{PositionSide: PositionFlat, PositionQty: decimal.Zero, AvgEntryPrice: decimal.Zero}
}

func joinIDs(ids []string) string { return strings.Join(ids, ",") }

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// Store is the persistence surface for bot config, state, order tracking
// and signal idempotency.
type Store interface {
	// BotConfig loads a bot's configuration. Returns ErrBotNotFound if the
	// bot does not exist.
	BotConfig(ctx context.Context, botID string) (*BotConfig, error)

	// SaveBotConfig stores a bot's configuration and registers the bot in
	// its symbol's subscriber set.
	SaveBotConfig(ctx context.Context, cfg *BotConfig) error

	// BotState loads a bot's runtime state. A bot with no stored state
	// gets a fresh flat state, not an error.
	BotState(ctx context.Context, botID string) (*BotState, error)

	// SaveBotState stores a bot's runtime state.
	SaveBotState(ctx context.Context, botID string, state *BotState) error

	// BotsForSymbol lists the bot ids subscribed to a symbol.
	BotsForSymbol(ctx context.Context, symbol string) ([]string, error)

	// MarkProcessed records a signal id for a bot. Returns true if this
	// call was the first to record it (the at-most-once gate).
	MarkProcessed(ctx context.Context, botID, signalID string) (bool, error)

	// AlreadyProcessed reports whether a signal id was recorded for a bot.
	AlreadyProcessed(ctx context.Context, botID, signalID string) (bool, error)

	// TrackOrder adds an exchange order id to the bot's tracked set.
	TrackOrder(ctx context.Context, botID, orderID string) error

	// UntrackOrder removes an exchange order id from the bot's tracked set.
	UntrackOrder(ctx context.Context, botID, orderID string) error

	// TrackedOrders lists the bot's tracked exchange order ids.
	TrackedOrders(ctx context.Context, botID string) ([]string, error)
}
