// Package reconciler periodically compares local per-bot order and
// position state against the exchange's authoritative view, untracking
// orders the venue no longer holds and refreshing position state. Drift
// that only the operator can judge is reported, never auto-healed
// destructively.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"regime-trading-bot/internal/events"
	"regime-trading-bot/internal/exchange"
	"regime-trading-bot/internal/metrics"
	"regime-trading-bot/internal/store"
)

// BotResult is the outcome of reconciling one bot.
type BotResult struct {
	OK              bool      `json:"ok"`
	BotID           string    `json:"bot_id"`
	Symbol          string    `json:"symbol"`
	Untracked       []string  `json:"untracked,omitempty"`
	Inconsistencies []string  `json:"inconsistencies,omitempty"`
	Error           string    `json:"error,omitempty"`
	At              time.Time `json:"at"`
}

// SweepResult aggregates one full fan-out.
type SweepResult struct {
	OK       bool        `json:"ok"`
	Results  []BotResult `json:"results"`
	Duration string      `json:"duration"`
	At       time.Time   `json:"at"`
}

// Reconciler runs the periodic sweep over every bot of every subscribed
// symbol.
type Reconciler struct {
	store store.Store
	ex    exchange.Client
	bus   *events.Bus
	log   zerolog.Logger

	symbols  []string
	interval time.Duration

	mu     sync.RWMutex
	latest *SweepResult
}

// New creates a reconciler over the given symbols. bus may be nil.
func New(st store.Store, ex exchange.Client, bus *events.Bus, log zerolog.Logger, symbols []string, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		store:    st,
		ex:       ex,
		bus:      bus,
		log:      log.With().Str("component", "reconciler").Logger(),
		symbols:  symbols,
		interval: interval,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled. The first sweep
// fires immediately.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// LatestResults returns the most recent sweep, nil before the first one.
func (r *Reconciler) LatestResults() *SweepResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Sweep reconciles every bot once. Per-bot errors are collected, never
// aborting the rest of the sweep.
func (r *Reconciler) Sweep(ctx context.Context) *SweepResult {
	start := time.Now()
	sweep := &SweepResult{OK: true, At: start.UTC()}

	for _, symbol := range r.symbols {
		botIDs, err := r.store.BotsForSymbol(ctx, symbol)
		if err != nil {
			r.log.Error().Err(err).Str("symbol", symbol).Msg("resolve bots failed")
			sweep.Results = append(sweep.Results, BotResult{
				Symbol: symbol, Error: err.Error(), At: time.Now().UTC(),
			})
			continue
		}
		for _, botID := range botIDs {
			res := r.ReconcileBot(ctx, botID, symbol)
			sweep.Results = append(sweep.Results, *res)
		}
	}

	sweep.Duration = time.Since(start).String()
	metrics.ReconcileDuration.Observe(time.Since(start).Seconds())

	r.mu.Lock()
	r.latest = sweep
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(events.Event{Type: events.EventReconcileCompleted, Data: sweep})
	}
	r.log.Info().Int("bots", len(sweep.Results)).Str("duration", sweep.Duration).Msg("sweep completed")
	return sweep
}

// ReconcileBot heals one bot's local state against the exchange.
func (r *Reconciler) ReconcileBot(ctx context.Context, botID, symbol string) *BotResult {
	res := &BotResult{OK: true, BotID: botID, Symbol: symbol, At: time.Now().UTC()}
	log := r.log.With().Str("bot_id", botID).Str("symbol", symbol).Logger()

	open, err := r.ex.OpenOrders(ctx, symbol)
	if err != nil {
		return r.fail(res, "open orders: "+err.Error())
	}
	positions, err := r.ex.Positions(ctx, symbol)
	if err != nil {
		return r.fail(res, "positions: "+err.Error())
	}
	openIDs := make(map[string]struct{}, len(open))
	for _, o := range open {
		openIDs[o.OrderID] = struct{}{}
	}

	// tracked ids absent on the exchange are terminal (filled or cancelled
	// externally): untrack them
	tracked, err := r.store.TrackedOrders(ctx, botID)
	if err != nil {
		return r.fail(res, "tracked orders: "+err.Error())
	}
	for _, id := range tracked {
		if _, live := openIDs[id]; live {
			continue
		}
		if err := r.store.UntrackOrder(ctx, botID, id); err != nil {
			return r.fail(res, "untrack "+id+": "+err.Error())
		}
		res.Untracked = append(res.Untracked, id)
		log.Info().Str("order_id", id).Msg("untracked terminal order")
	}

	// expected ids missing on the exchange are reported, not acted on:
	// cancelling siblings is an operator decision
	state, err := r.store.BotState(ctx, botID)
	if err != nil {
		return r.fail(res, "bot state: "+err.Error())
	}
	expected := state.BracketIDs
	if state.ArmedEntryOrderID != "" {
		expected = append([]string{state.ArmedEntryOrderID}, expected...)
	}
	for _, id := range expected {
		if _, live := openIDs[id]; !live {
			note := fmt.Sprintf("order %s not in open orders", id)
			res.Inconsistencies = append(res.Inconsistencies, note)
			metrics.ReconcileInconsistencies.Inc()
			log.Warn().Str("order_id", id).Msg("expected order missing on exchange")
		}
	}

	// position state follows the signed position amount
	state.PositionSide = store.PositionFlat
	state.PositionQty = decimal.Zero
	state.AvgEntryPrice = decimal.Zero
	for _, p := range positions {
		if p.Symbol != symbol || p.PositionAmt.IsZero() {
			continue
		}
		if p.PositionAmt.IsPositive() {
			state.PositionSide = store.PositionLong
			state.PositionQty = p.PositionAmt
		} else {
			state.PositionSide = store.PositionShort
			state.PositionQty = p.PositionAmt.Neg()
		}
		state.AvgEntryPrice = p.EntryPrice
	}
	if err := r.store.SaveBotState(ctx, botID, state); err != nil {
		return r.fail(res, "save bot state: "+err.Error())
	}
	return res
}

func (r *Reconciler) fail(res *BotResult, msg string) *BotResult {
	res.OK = false
	res.Error = msg
	r.log.Error().Str("bot_id", res.BotID).Str("error", msg).Msg("bot reconcile failed")
	return res
}
