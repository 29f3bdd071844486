package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Order-state status values.
const (
	OrderStatusArmed             = "armed"
	OrderStatusPending           = "pending"
	OrderStatusFilled            = "filled"
	OrderStatusCancelled         = "cancelled"
	OrderStatusFailed            = "failed"
	OrderStatusSkippedLowBalance = "skipped_low_balance"
	OrderStatusSkippedWhitelist  = "skipped_whitelist"
)

// OrderState is one row of the order audit trail: what the handler did for
// one (bot, signal) pair.
type OrderState struct {
	ID                int64
	BotID             string
	SignalID          string
	OrderID           string
	StopOrderID       string
	TakeProfitOrderID string
	Status            string
	Side              string
	Symbol            string
	TriggerPrice      decimal.Decimal
	StopPrice         decimal.Decimal
	Quantity          decimal.Decimal
	FilledQuantity    decimal.Decimal
	AvgFillPrice      decimal.Decimal
	LastFillAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const orderStatesSchema = `
CREATE TABLE IF NOT EXISTS order_states (
	id BIGSERIAL PRIMARY KEY,
	bot_id TEXT NOT NULL,
	signal_id TEXT NOT NULL,
	order_id TEXT NOT NULL DEFAULT '',
	stop_order_id TEXT NOT NULL DEFAULT '',
	take_profit_order_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	side TEXT NOT NULL,
	symbol TEXT NOT NULL,
	trigger_price NUMERIC NOT NULL DEFAULT 0,
	stop_price NUMERIC NOT NULL DEFAULT 0,
	quantity NUMERIC NOT NULL DEFAULT 0,
	filled_quantity NUMERIC NOT NULL DEFAULT 0,
	avg_fill_price NUMERIC NOT NULL DEFAULT 0,
	last_fill_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (bot_id, signal_id)
);
CREATE INDEX IF NOT EXISTS idx_order_states_bot ON order_states (bot_id, updated_at DESC);
`

// OrderStateRepo is the Postgres audit-trail repository. It is optional:
// handlers tolerate a nil repo in dry-run mode.
type OrderStateRepo struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewOrderStateRepo creates the repo and applies the schema.
func NewOrderStateRepo(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) (*OrderStateRepo, error) {
	if _, err := pool.Exec(ctx, orderStatesSchema); err != nil {
		return nil, fmt.Errorf("apply order_states schema: %w", err)
	}
	return &OrderStateRepo{pool: pool, log: log.With().Str("component", "order_states").Logger()}, nil
}

// Upsert records the current status for a (bot, signal) pair, inserting on
// first sight and updating thereafter.
func (r *OrderStateRepo) Upsert(ctx context.Context, st *OrderState) error {
	if r == nil {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO order_states
			(bot_id, signal_id, order_id, stop_order_id, take_profit_order_id,
			 status, side, symbol, trigger_price, stop_price, quantity, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (bot_id, signal_id) DO UPDATE SET
			order_id = EXCLUDED.order_id,
			stop_order_id = EXCLUDED.stop_order_id,
			take_profit_order_id = EXCLUDED.take_profit_order_id,
			status = EXCLUDED.status,
			quantity = EXCLUDED.quantity,
			updated_at = now()`,
		st.BotID, st.SignalID, st.OrderID, st.StopOrderID, st.TakeProfitOrderID,
		st.Status, st.Side, st.Symbol,
		st.TriggerPrice.String(), st.StopPrice.String(), st.Quantity.String(),
	)
	if err != nil {
		r.log.Error().Err(err).
			Str("bot_id", st.BotID).
			Str("signal_id", st.SignalID).
			Msg("order state upsert failed")
		return fmt.Errorf("upsert order state: %w", err)
	}
	return nil
}

// RecordFill updates fill progress for an order row.
func (r *OrderStateRepo) RecordFill(ctx context.Context, botID, signalID string, filledQty, avgPrice decimal.Decimal, at time.Time) error {
	if r == nil {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE order_states SET
			filled_quantity = $3,
			avg_fill_price = $4,
			last_fill_at = $5,
			status = CASE WHEN $3::numeric >= quantity THEN 'filled' ELSE status END,
			updated_at = now()
		WHERE bot_id = $1 AND signal_id = $2`,
		botID, signalID, filledQty.String(), avgPrice.String(), at)
	if err != nil {
		return fmt.Errorf("record fill: %w", err)
	}
	return nil
}

// RecentForBot returns the most recent order-state rows for a bot.
func (r *OrderStateRepo) RecentForBot(ctx context.Context, botID string, limit int) ([]OrderState, error) {
	if r == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, bot_id, signal_id, order_id, stop_order_id, take_profit_order_id,
		       status, side, symbol, trigger_price::text, stop_price::text,
		       quantity::text, filled_quantity::text, avg_fill_price::text,
		       last_fill_at, created_at, updated_at
		FROM order_states
		WHERE bot_id = $1
		ORDER BY updated_at DESC
		LIMIT $2`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("query order states: %w", err)
	}
	defer rows.Close()

	var out []OrderState
	for rows.Next() {
		var st OrderState
		var trigger, stop, qty, filled, avg string
		if err := rows.Scan(&st.ID, &st.BotID, &st.SignalID, &st.OrderID,
			&st.StopOrderID, &st.TakeProfitOrderID, &st.Status, &st.Side,
			&st.Symbol, &trigger, &stop, &qty, &filled, &avg,
			&st.LastFillAt, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order state: %w", err)
		}
		st.TriggerPrice, _ = decimal.NewFromString(trigger)
		st.StopPrice, _ = decimal.NewFromString(stop)
		st.Quantity, _ = decimal.NewFromString(qty)
		st.FilledQuantity, _ = decimal.NewFromString(filled)
		st.AvgFillPrice, _ = decimal.NewFromString(avg)
		out = append(out, st)
	}
	return out, rows.Err()
}
