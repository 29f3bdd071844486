package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Key layout. Per-bot keys are plain; the symbol subscriber set is shared
// by all pollers of that symbol.
//
//	bot:cfg:{botID}        hash of configuration fields
//	bot:state:{botID}      hash of runtime state fields
//	bot:orders:{botID}     set of tracked exchange order ids
//	bot:processed:{botID}  set of processed signal ids
//	sym:bots:{SYMBOL}      set of bot ids subscribed to the symbol
func keyBotConfig(botID string) string   { return "bot:cfg:" + botID }
func keyBotState(botID string) string    { return "bot:state:" + botID }
func keyBotOrders(botID string) string   { return "bot:orders:" + botID }
func keyProcessed(botID string) string   { return "bot:processed:" + botID }
func keySymbolBots(symbol string) string { return "sym:bots:" + symbol }

// RedisStore is the production Store backed by Redis.
type RedisStore struct {
	rdb *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) BotConfig(ctx context.Context, botID string) (*BotConfig, error) {
	fields, err := s.rdb.HGetAll(ctx, keyBotConfig(botID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load bot config %s: %w", botID, err)
	}
	if len(fields) == 0 {
		return nil, ErrBotNotFound
	}
	cfg, err := botConfigFromFields(fields)
	if err != nil {
		return nil, fmt.Errorf("decode bot config %s: %w", botID, err)
	}
	return cfg, nil
}

func (s *RedisStore) SaveBotConfig(ctx context.Context, cfg *BotConfig) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, keyBotConfig(cfg.BotID), botConfigFields(cfg))
	pipe.SAdd(ctx, keySymbolBots(cfg.Symbol), cfg.BotID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save bot config %s: %w", cfg.BotID, err)
	}
	return nil
}

func botConfigFields(cfg *BotConfig) map[string]interface{} {
	fields := map[string]interface{}{
		"bot_id":         cfg.BotID,
		"user_id":        cfg.UserID,
		"symbol":         cfg.Symbol,
		"status":         cfg.Status,
		"side_mode":      cfg.SideMode,
		"risk_per_trade": cfg.RiskPerTrade.String(),
		"leverage":       strconv.Itoa(cfg.Leverage),
		"tp_ratio":       cfg.TPRatio.String(),
	}
	if cfg.MaxQty != nil {
		fields["max_qty"] = cfg.MaxQty.String()
	}
	return fields
}

func botConfigFromFields(fields map[string]string) (*BotConfig, error) {
	cfg := &BotConfig{
		BotID:    fields["bot_id"],
		UserID:   fields["user_id"],
		Symbol:   fields["symbol"],
		Status:   fields["status"],
		SideMode: fields["side_mode"],
	}
	var err error
	if cfg.RiskPerTrade, err = decimal.NewFromString(fields["risk_per_trade"]); err != nil {
		return nil, fmt.Errorf("risk_per_trade: %w", err)
	}
	if v := fields["leverage"]; v != "" {
		if cfg.Leverage, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("leverage: %w", err)
		}
	}
	if cfg.TPRatio, err = decimal.NewFromString(fields["tp_ratio"]); err != nil {
		return nil, fmt.Errorf("tp_ratio: %w", err)
	}
	if v, ok := fields["max_qty"]; ok {
		q, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("max_qty: %w", err)
		}
		cfg.MaxQty = &q
	}
	return cfg, nil
}

func (s *RedisStore) BotState(ctx context.Context, botID string) (*BotState, error) {
	fields, err := s.rdb.HGetAll(ctx, keyBotState(botID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load bot state %s: %w", botID, err)
	}
	state := NewBotState()
	if len(fields) == 0 {
		return state, nil
	}
	state.LastSignalID = fields["last_signal_id"]
	state.ArmedEntryOrderID = fields["armed_entry_order_id"]
	state.BracketIDs = splitIDs(fields["bracket_ids"])
	if v := fields["position_side"]; v != "" {
		state.PositionSide = v
	}
	if v := fields["position_qty"]; v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			state.PositionQty = d
		}
	}
	if v := fields["avg_entry_price"]; v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			state.AvgEntryPrice = d
		}
	}
	return state, nil
}

func (s *RedisStore) SaveBotState(ctx context.Context, botID string, state *BotState) error {
	err := s.rdb.HSet(ctx, keyBotState(botID), map[string]interface{}{
		"last_signal_id":       state.LastSignalID,
		"armed_entry_order_id": state.ArmedEntryOrderID,
		"bracket_ids":          joinIDs(state.BracketIDs),
		"position_side":        state.PositionSide,
		"position_qty":         state.PositionQty.String(),
		"avg_entry_price":      state.AvgEntryPrice.String(),
	}).Err()
	if err != nil {
		return fmt.Errorf("save bot state %s: %w", botID, err)
	}
	return nil
}

func (s *RedisStore) BotsForSymbol(ctx context.Context, symbol string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, keySymbolBots(symbol)).Result()
	if err != nil {
		return nil, fmt.Errorf("bots for %s: %w", symbol, err)
	}
	return ids, nil
}

// MarkProcessed relies on SADD's return value for the at-most-once gate:
// 1 means this call inserted the id, 0 means another delivery got there
// first.
func (s *RedisStore) MarkProcessed(ctx context.Context, botID, signalID string) (bool, error) {
	added, err := s.rdb.SAdd(ctx, keyProcessed(botID), signalID).Result()
	if err != nil {
		return false, fmt.Errorf("mark processed %s/%s: %w", botID, signalID, err)
	}
	return added == 1, nil
}

func (s *RedisStore) AlreadyProcessed(ctx context.Context, botID, signalID string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, keyProcessed(botID), signalID).Result()
	if err != nil {
		return false, fmt.Errorf("check processed %s/%s: %w", botID, signalID, err)
	}
	return ok, nil
}

func (s *RedisStore) TrackOrder(ctx context.Context, botID, orderID string) error {
	if err := s.rdb.SAdd(ctx, keyBotOrders(botID), orderID).Err(); err != nil {
		return fmt.Errorf("track order %s/%s: %w", botID, orderID, err)
	}
	return nil
}

func (s *RedisStore) UntrackOrder(ctx context.Context, botID, orderID string) error {
	if err := s.rdb.SRem(ctx, keyBotOrders(botID), orderID).Err(); err != nil {
		return fmt.Errorf("untrack order %s/%s: %w", botID, orderID, err)
	}
	return nil
}

func (s *RedisStore) TrackedOrders(ctx context.Context, botID string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, keyBotOrders(botID)).Result()
	if err != nil {
		return nil, fmt.Errorf("tracked orders %s: %w", botID, err)
	}
	return ids, nil
}
