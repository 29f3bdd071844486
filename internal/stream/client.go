package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"regime-trading-bot/internal/market"
	"regime-trading-bot/internal/signal"
)

// Stream trimming: old entries are dropped approximately past this length.
const defaultMaxLen = 10000

// CandleEntry is one decoded candle stream entry. Err is set for malformed
// entries; the ID is always present so callers can advance their cursor
// past them.
type CandleEntry struct {
	ID     string
	Candle *market.Candle
	Err    error
}

// SignalEntry is one decoded signal stream entry delivered to a consumer
// group member.
type SignalEntry struct {
	ID     string
	Signal signal.Signal
	Err    error
}

// Client wraps Redis Streams operations for one process. Safe for
// concurrent use.
type Client struct {
	rdb    *redis.Client
	maxLen int64
}

// NewClient wraps an existing Redis client.
func NewClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, maxLen: defaultMaxLen}
}

// ==================== CANDLE INTAKE ====================

// ReadCandles blocks up to block for candle entries after lastID.
// Malformed entries are returned with Err set rather than dropped, so the
// caller can log and advance past them. Returns an empty slice on timeout.
func (c *Client) ReadCandles(ctx context.Context, symbol, timeframe, lastID string, count int64, block time.Duration) ([]CandleEntry, error) {
	res, err := c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{CandleStream(symbol, timeframe), lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read candles %s/%s: %w", symbol, timeframe, err)
	}

	var entries []CandleEntry
	for _, stream := range res {
		for _, msg := range stream.Messages {
			cd, err := decodeCandle(msg.ID, msg.Values, symbol, timeframe)
			entries = append(entries, CandleEntry{ID: msg.ID, Candle: cd, Err: err})
		}
	}
	return entries, nil
}

// AppendCandle publishes a closed candle. Used by feed adapters and tests.
func (c *Client) AppendCandle(ctx context.Context, cd *market.Candle) (string, error) {
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: CandleStream(cd.Symbol, cd.Timeframe),
		MaxLen: c.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"ts":    cd.TS,
			"open":  cd.Open.String(),
			"high":  cd.High.String(),
			"low":   cd.Low.String(),
			"close": cd.Close.String(),
			"color": string(cd.Color),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append candle %s/%s: %w", cd.Symbol, cd.Timeframe, err)
	}
	return id, nil
}

// ==================== INDICATOR OUTPUT ====================

// AppendIndicator publishes a snapshot with an explicit entry id (the id of
// the source candle entry) and updates the latest-snapshot hash in one
// pipeline. The explicit id makes the indicator stream double as the
// calculator's resume cursor over the candle stream.
func (c *Client) AppendIndicator(ctx context.Context, snap *market.IndicatorSnapshot, id string) error {
	fields := encodeIndicator(snap)
	pipe := c.rdb.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: IndicatorStream(snap.Symbol, snap.Timeframe),
		ID:     id,
		MaxLen: c.maxLen,
		Approx: true,
		Values: fields,
	})
	pipe.HSet(ctx, LatestSnapshotKey(snap.Symbol, snap.Timeframe), fields)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append indicator %s/%s: %w", snap.Symbol, snap.Timeframe, err)
	}
	return nil
}

// LastIndicatorID returns the id of the newest indicator entry, or "0" when
// the stream is empty. This is the calculator's resume cursor.
func (c *Client) LastIndicatorID(ctx context.Context, symbol, timeframe string) (string, error) {
	msgs, err := c.rdb.XRevRangeN(ctx, IndicatorStream(symbol, timeframe), "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("last indicator id %s/%s: %w", symbol, timeframe, err)
	}
	if len(msgs) == 0 {
		return "0", nil
	}
	return msgs[0].ID, nil
}

// LatestSnapshot returns the raw latest-snapshot hash fields, empty when no
// snapshot was written yet.
func (c *Client) LatestSnapshot(ctx context.Context, symbol, timeframe string) (map[string]string, error) {
	fields, err := c.rdb.HGetAll(ctx, LatestSnapshotKey(symbol, timeframe)).Result()
	if err != nil {
		return nil, fmt.Errorf("latest snapshot %s/%s: %w", symbol, timeframe, err)
	}
	return fields, nil
}

// ==================== SIGNAL CHANNEL ====================

// AppendSignal publishes a signal to the subscription's signal stream.
func (c *Client) AppendSignal(ctx context.Context, symbol, timeframe string, sig signal.Signal) (string, error) {
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: SignalStream(symbol, timeframe),
		MaxLen: c.maxLen,
		Approx: true,
		Values: signal.EncodeFields(sig),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append signal %s/%s: %w", symbol, timeframe, err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group on the signal stream, tolerating
// an existing group.
func (c *Client) EnsureGroup(ctx context.Context, symbol, timeframe, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, SignalStream(symbol, timeframe), group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create group %s on %s/%s: %w", group, symbol, timeframe, err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// ReadSignalGroup blocks up to block for new signal deliveries to this
// consumer. Malformed entries come back with Err set so the caller can ack
// and skip them.
func (c *Client) ReadSignalGroup(ctx context.Context, symbol, timeframe, group, consumer string, count int64, block time.Duration) ([]SignalEntry, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{SignalStream(symbol, timeframe), ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read signals %s/%s: %w", symbol, timeframe, err)
	}
	return c.decodeSignalMessages(res), nil
}

// ClaimStaleSignals claims pending entries idle longer than minIdle from
// other consumers of the group. Used on poller startup to recover
// deliveries orphaned by a crashed consumer.
func (c *Client) ClaimStaleSignals(ctx context.Context, symbol, timeframe, group, consumer string, minIdle time.Duration, count int64) ([]SignalEntry, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   SignalStream(symbol, timeframe),
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0",
		Count:    count,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("claim stale signals %s/%s: %w", symbol, timeframe, err)
	}

	var entries []SignalEntry
	for _, msg := range msgs {
		sig, derr := signal.DecodeFields(msg.Values)
		entries = append(entries, SignalEntry{ID: msg.ID, Signal: sig, Err: derr})
	}
	return entries, nil
}

// AckSignal acknowledges a delivered signal entry.
func (c *Client) AckSignal(ctx context.Context, symbol, timeframe, group, id string) error {
	if err := c.rdb.XAck(ctx, SignalStream(symbol, timeframe), group, id).Err(); err != nil {
		return fmt.Errorf("ack signal %s: %w", id, err)
	}
	return nil
}

func (c *Client) decodeSignalMessages(res []redis.XStream) []SignalEntry {
	var entries []SignalEntry
	for _, stream := range res {
		for _, msg := range stream.Messages {
			sig, err := signal.DecodeFields(msg.Values)
			entries = append(entries, SignalEntry{ID: msg.ID, Signal: sig, Err: err})
		}
	}
	return entries
}
