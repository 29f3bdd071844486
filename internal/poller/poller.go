// Package poller consumes the signal stream through a consumer group and
// fans each signal out to the subscribed bots as queue tasks.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"regime-trading-bot/internal/handler"
	"regime-trading-bot/internal/logging"
	"regime-trading-bot/internal/signal"
	"regime-trading-bot/internal/store"
	"regime-trading-bot/internal/stream"
	"regime-trading-bot/internal/taskqueue"
)

// claim deliveries stuck in another consumer's pending list this long
const staleClaimIdle = 30 * time.Second

// SignalSource is the stream surface the poller reads from.
type SignalSource interface {
	EnsureGroup(ctx context.Context, symbol, timeframe, group string) error
	ReadSignalGroup(ctx context.Context, symbol, timeframe, group, consumer string, count int64, block time.Duration) ([]stream.SignalEntry, error)
	ClaimStaleSignals(ctx context.Context, symbol, timeframe, group, consumer string, minIdle time.Duration, count int64) ([]stream.SignalEntry, error)
	AckSignal(ctx context.Context, symbol, timeframe, group, id string) error
}

// ConfigSource resolves the bots subscribed to a symbol.
type ConfigSource interface {
	BotsForSymbol(ctx context.Context, symbol string) ([]string, error)
	BotConfig(ctx context.Context, botID string) (*store.BotConfig, error)
}

// Poller reads one subscription's signal stream as a consumer group member.
// Running several pollers (or processes) with the same group shares the
// stream; each signal is delivered to exactly one consumer.
type Poller struct {
	src      SignalSource
	cfgs     ConfigSource
	queue    taskqueue.Queue
	log      *logging.Logger
	symbol   string
	tf       string
	group    string
	consumer string
	batch    int64
	block    time.Duration
}

// New creates a poller with a unique consumer name derived from the host.
func New(src SignalSource, cfgs ConfigSource, queue taskqueue.Queue, log *logging.Logger, symbol, timeframe, group string, batch int64, block time.Duration) *Poller {
	host, _ := os.Hostname()
	if host == "" {
		host = "poller"
	}
	if batch <= 0 {
		batch = 16
	}
	if block <= 0 {
		block = 5 * time.Second
	}
	return &Poller{
		src:      src,
		cfgs:     cfgs,
		queue:    queue,
		log:      log.WithComponent("poller").WithStream(symbol, timeframe),
		symbol:   symbol,
		tf:       timeframe,
		group:    group,
		consumer: fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		batch:    batch,
		block:    block,
	}
}

// Run consumes until ctx is cancelled. On startup it first claims
// deliveries left pending by crashed consumers.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.src.EnsureGroup(ctx, p.symbol, p.tf, p.group); err != nil {
		return err
	}
	p.log.Info("poller started", "group", p.group, "consumer", p.consumer)

	claimed, err := p.src.ClaimStaleSignals(ctx, p.symbol, p.tf, p.group, p.consumer, staleClaimIdle, p.batch)
	if err != nil {
		p.log.Warn("stale claim failed", "error", err)
	}
	for _, entry := range claimed {
		p.handle(ctx, entry)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entries, err := p.src.ReadSignalGroup(ctx, p.symbol, p.tf, p.group, p.consumer, p.batch, p.block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Error("signal read failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		for _, entry := range entries {
			p.handle(ctx, entry)
		}
	}
}

// handle fans one delivery out to every eligible bot and acks only after
// every task is enqueued. A partial enqueue leaves the entry pending so a
// later claim redelivers it; the handler's processed gate absorbs the
// resulting duplicates.
func (p *Poller) handle(ctx context.Context, entry stream.SignalEntry) {
	if entry.Err != nil {
		p.log.Warn("skipping malformed signal entry", "id", entry.ID, "error", entry.Err)
		p.ack(ctx, entry.ID)
		return
	}

	botIDs, err := p.cfgs.BotsForSymbol(ctx, p.symbol)
	if err != nil {
		p.log.Error("resolve subscribers failed", "id", entry.ID, "error", err)
		return // not acked, redelivered later
	}

	for _, botID := range botIDs {
		cfg, err := p.cfgs.BotConfig(ctx, botID)
		if err != nil {
			p.log.Error("load bot config failed", "bot_id", botID, "error", err)
			continue
		}
		if !Eligible(cfg, entry.Signal) {
			continue
		}
		if err := p.dispatch(ctx, botID, entry.Signal); err != nil {
			p.log.Error("dispatch failed", "bot_id", botID, "id", entry.ID, "error", err)
			return // not acked
		}
	}
	p.ack(ctx, entry.ID)
}

// Eligible reports whether a bot should act on a signal: the bot is active
// and its side mode covers the signal's side.
func Eligible(cfg *store.BotConfig, sig signal.Signal) bool {
	if cfg.Status != store.BotStatusActive {
		return false
	}
	switch s := sig.(type) {
	case signal.Arm:
		return cfg.AllowsSide(string(s.Side))
	case signal.Disarm:
		return cfg.AllowsSide(string(s.Side))
	}
	return false
}

func (p *Poller) dispatch(ctx context.Context, botID string, sig signal.Signal) error {
	var (
		name    string
		payload interface{}
	)
	switch s := sig.(type) {
	case signal.Arm:
		name = taskqueue.TaskOrderArm
		payload = handler.ArmPayload{BotID: botID, Signal: s}
	case signal.Disarm:
		name = taskqueue.TaskOrderDisarm
		payload = handler.DisarmPayload{BotID: botID, Signal: s}
	default:
		return fmt.Errorf("unknown signal kind %T", sig)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.queue.Enqueue(ctx, name, raw)
}

func (p *Poller) ack(ctx context.Context, id string) {
	if err := p.src.AckSignal(ctx, p.symbol, p.tf, p.group, id); err != nil {
		p.log.Error("ack failed", "id", id, "error", err)
	}
}
