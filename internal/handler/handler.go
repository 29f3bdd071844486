// Package handler executes arm and disarm signals for one bot: sizing via
// the plan builder, entry and bracket placement, order tracking, and the
// processed-signal gate that makes execution at-most-once.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"regime-trading-bot/internal/events"
	"regime-trading-bot/internal/exchange"
	"regime-trading-bot/internal/metrics"
	"regime-trading-bot/internal/plan"
	"regime-trading-bot/internal/signal"
	"regime-trading-bot/internal/store"
	"regime-trading-bot/internal/taskqueue"
)

// Skip reasons reported in Result.Skipped.
const (
	SkipDuplicate = "duplicate"
)

// Failure classes reported in Result.Error.
const (
	ErrClassPlanNotOK     = "plan_not_ok"
	ErrClassEntryFailed   = "entry_failed"
	ErrClassBracketFailed = "bracket_failed"
)

// ArmPayload is the queue payload for an arm task.
type ArmPayload struct {
	BotID  string     `json:"bot_id"`
	Signal signal.Arm `json:"signal"`
}

func (p *ArmPayload) validate() error {
	var missing []string
	if p.BotID == "" {
		missing = append(missing, "bot_id")
	}
	if p.Signal.Symbol == "" {
		missing = append(missing, "sym")
	}
	if p.Signal.Side != "long" && p.Signal.Side != "short" {
		missing = append(missing, "side")
	}
	if p.Signal.Trigger.IsZero() {
		missing = append(missing, "trigger")
	}
	if p.Signal.Stop.IsZero() {
		missing = append(missing, "stop")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing field %s", strings.Join(missing, ", "))
	}
	return nil
}

// DisarmPayload is the queue payload for a disarm task.
type DisarmPayload struct {
	BotID  string        `json:"bot_id"`
	Signal signal.Disarm `json:"signal"`
}

// Result is the outcome envelope of one handler invocation. Handlers never
// raise across the task boundary; callers branch on OK. Retryable marks
// failures the queue should redeliver. A bracket failure is never
// retryable because the entry is already live and a second delivery risks
// doubling it; the reconciler heals the partial state instead.
type Result struct {
	OK          bool             `json:"ok"`
	Skipped     string           `json:"skipped,omitempty"`
	Error       string           `json:"error,omitempty"`
	EntryID     string           `json:"entry_id,omitempty"`
	Placed      []string         `json:"placed,omitempty"`
	SLTPIDs     []string         `json:"sl_tp_ids,omitempty"`
	Diagnostics plan.Diagnostics `json:"diagnostics"`
	Retryable   bool             `json:"-"`
}

// Handler wires the per-bot order path. OrderStates may be nil (dry run);
// every write through it is nil-safe.
type Handler struct {
	store       store.Store
	ex          exchange.Client
	orderStates *store.OrderStateRepo
	bus         *events.Bus
	log         zerolog.Logger
}

// New creates a handler. bus may be nil.
func New(st store.Store, ex exchange.Client, repo *store.OrderStateRepo, bus *events.Bus, log zerolog.Logger) *Handler {
	return &Handler{
		store:       st,
		ex:          ex,
		orderStates: repo,
		bus:         bus,
		log:         log.With().Str("component", "handler").Logger(),
	}
}

// Register binds the handler to the queue's task names.
func (h *Handler) Register(q taskqueue.Queue) {
	q.Register(taskqueue.TaskOrderArm, func(ctx context.Context, payload []byte) error {
		var p ArmPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode arm payload: %w", err)
		}
		res := h.OnArmSignal(ctx, p)
		return resultErr(res)
	})
	q.Register(taskqueue.TaskOrderDisarm, func(ctx context.Context, payload []byte) error {
		var p DisarmPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode disarm payload: %w", err)
		}
		res := h.OnDisarmSignal(ctx, p.BotID, p.Signal)
		return resultErr(res)
	})
}

func resultErr(res *Result) error {
	if res.OK || res.Error == "" {
		return nil
	}
	err := fmt.Errorf("%s", res.Error)
	if res.Retryable {
		return taskqueue.Retryable(err)
	}
	return err
}

// OnArmSignal places the bracketed entry for one bot.
//
// The processed-signal gate is the single commit point: it is written only
// after all three orders are live. An entry failure leaves no trace and
// retries cleanly; a bracket failure leaves the entry tracked and the
// signal unprocessed so the partial state stays visible to the reconciler.
// A redelivery that finds its own entry already armed resumes at bracket
// placement instead of entering again.
func (h *Handler) OnArmSignal(ctx context.Context, payload ArmPayload) *Result {
	start := time.Now()
	defer func() {
		metrics.HandlerDuration.WithLabelValues(taskqueue.TaskOrderArm).Observe(time.Since(start).Seconds())
	}()

	if err := payload.validate(); err != nil {
		return &Result{Error: err.Error()}
	}
	botID, arm := payload.BotID, payload.Signal
	signalID := arm.ID()
	log := h.log.With().Str("bot_id", botID).Str("signal_id", signalID).Logger()

	seen, err := h.store.AlreadyProcessed(ctx, botID, signalID)
	if err != nil {
		return &Result{Error: "idempotency check: " + err.Error(), Retryable: true}
	}
	if seen {
		metrics.SignalsDuplicate.WithLabelValues(arm.Symbol).Inc()
		log.Info().Msg("signal already processed, skipping")
		return &Result{OK: true, Skipped: SkipDuplicate}
	}

	cfg, err := h.store.BotConfig(ctx, botID)
	if err != nil {
		if err == store.ErrBotNotFound {
			return &Result{Error: "bot config not found"}
		}
		return &Result{Error: "load bot config: " + err.Error(), Retryable: true}
	}

	state, err := h.store.BotState(ctx, botID)
	if err != nil {
		return &Result{Error: "load bot state: " + err.Error(), Retryable: true}
	}

	// redelivery after a bracket failure: the entry is already live
	resuming := state.LastSignalID == signalID && state.ArmedEntryOrderID != ""

	p, err := plan.Build(ctx, h.ex, arm, cfg)
	if err != nil {
		return &Result{Error: "build plan: " + err.Error(), Retryable: true}
	}
	if !p.OK && !resuming {
		status := store.OrderStatusFailed
		for _, n := range p.Diagnostics.Notes {
			if n == "zero free balance" {
				status = store.OrderStatusSkippedLowBalance
			}
		}
		h.recordState(ctx, botID, arm, p, status, "", "", "")
		log.Info().Strs("notes", p.Diagnostics.Notes).Msg("plan rejected")
		return &Result{Error: ErrClassPlanNotOK, Diagnostics: p.Diagnostics}
	}

	entryID := state.ArmedEntryOrderID
	if !resuming {
		ack, err := h.ex.PlaceOrder(ctx, p.Entry)
		if err != nil {
			metrics.OrdersFailed.WithLabelValues(arm.Symbol, "entry").Inc()
			h.recordState(ctx, botID, arm, p, store.OrderStatusFailed, "", "", "")
			h.publish(events.EventOrderFailed, botID, arm.Symbol, map[string]string{"role": "entry", "error": err.Error()})
			log.Error().Err(err).Msg("entry placement failed")
			// nothing placed: safe to retry
			return &Result{Error: ErrClassEntryFailed, Diagnostics: p.Diagnostics, Retryable: true}
		}
		entryID = ack.OrderID
		metrics.OrdersPlaced.WithLabelValues(arm.Symbol, "entry").Inc()

		if err := h.store.TrackOrder(ctx, botID, entryID); err != nil {
			log.Error().Err(err).Str("order_id", entryID).Msg("track entry order failed")
		}
		state.LastSignalID = signalID
		state.ArmedEntryOrderID = entryID
		state.BracketIDs = nil
		if err := h.store.SaveBotState(ctx, botID, state); err != nil {
			log.Error().Err(err).Msg("save bot state after entry failed")
		}
		h.recordState(ctx, botID, arm, p, store.OrderStatusPending, entryID, "", "")
		h.publish(events.EventOrderPlaced, botID, arm.Symbol, map[string]string{"role": "entry", "order_id": entryID})
		log.Info().Str("entry_id", entryID).Str("qty", p.Qty.String()).Msg("entry placed")
	} else {
		log.Warn().Str("entry_id", entryID).Msg("entry already armed, resuming bracket placement")
	}

	brackets := []struct {
		role   string
		params exchange.OrderParams
	}{
		{"stop_loss", p.StopLoss},
		{"take_profit", p.TakeProfit},
	}
	sltpIDs := append([]string(nil), state.BracketIDs...)
	for i, b := range brackets {
		if i < len(state.BracketIDs) {
			continue // placed on a previous delivery
		}
		ack, err := h.ex.PlaceOrder(ctx, b.params)
		if err != nil {
			metrics.OrdersFailed.WithLabelValues(arm.Symbol, b.role).Inc()
			h.recordState(ctx, botID, arm, p, store.OrderStatusPending, entryID, bracketID(sltpIDs, 0), bracketID(sltpIDs, 1))
			h.publish(events.EventOrderFailed, botID, arm.Symbol, map[string]string{"role": b.role, "error": err.Error()})
			log.Error().Err(err).Str("role", b.role).Msg("bracket placement failed, entry left for reconciler")
			return &Result{
				Error:       ErrClassBracketFailed,
				EntryID:     entryID,
				Placed:      sltpIDs,
				Diagnostics: p.Diagnostics,
			}
		}
		metrics.OrdersPlaced.WithLabelValues(arm.Symbol, b.role).Inc()
		sltpIDs = append(sltpIDs, ack.OrderID)
		if err := h.store.TrackOrder(ctx, botID, ack.OrderID); err != nil {
			log.Error().Err(err).Str("order_id", ack.OrderID).Msg("track bracket order failed")
		}
		state.BracketIDs = sltpIDs
		if err := h.store.SaveBotState(ctx, botID, state); err != nil {
			log.Error().Err(err).Msg("save bot state after bracket failed")
		}
		h.publish(events.EventOrderPlaced, botID, arm.Symbol, map[string]string{"role": b.role, "order_id": ack.OrderID})
	}

	if _, err := h.store.MarkProcessed(ctx, botID, signalID); err != nil {
		return &Result{Error: "mark processed: " + err.Error(), EntryID: entryID, Retryable: true}
	}
	h.recordState(ctx, botID, arm, p, store.OrderStatusArmed, entryID, bracketID(sltpIDs, 0), bracketID(sltpIDs, 1))
	log.Info().Str("entry_id", entryID).Strs("sl_tp_ids", sltpIDs).Msg("bracketed entry placed")

	return &Result{
		OK:          true,
		EntryID:     entryID,
		SLTPIDs:     sltpIDs,
		Diagnostics: p.Diagnostics,
	}
}

// OnDisarmSignal cancels the armed entry and its brackets. Cancelling is
// naturally idempotent: an order the venue no longer knows counts as
// already cancelled, so disarm bypasses the processed-signal gate.
func (h *Handler) OnDisarmSignal(ctx context.Context, botID string, dis signal.Disarm) *Result {
	start := time.Now()
	defer func() {
		metrics.HandlerDuration.WithLabelValues(taskqueue.TaskOrderDisarm).Observe(time.Since(start).Seconds())
	}()

	log := h.log.With().Str("bot_id", botID).Str("signal_id", dis.ID()).Logger()

	state, err := h.store.BotState(ctx, botID)
	if err != nil {
		return &Result{Error: "load bot state: " + err.Error(), Retryable: true}
	}

	ids := state.BracketIDs
	if state.ArmedEntryOrderID != "" {
		ids = append([]string{state.ArmedEntryOrderID}, ids...)
	}

	cancelled := 0
	for _, id := range ids {
		switch err := h.ex.CancelOrder(ctx, dis.Symbol, id); err {
		case nil:
			cancelled++
			h.publish(events.EventOrderCancelled, botID, dis.Symbol, map[string]string{"order_id": id, "reason": dis.Reason})
		case exchange.ErrOrderNotFound:
			// already gone on the venue; clear it locally without
			// counting it as a cancel
		default:
			log.Error().Err(err).Str("order_id", id).Msg("cancel failed")
			return &Result{Error: "cancel order " + id + ": " + err.Error(), Retryable: true}
		}
		if err := h.store.UntrackOrder(ctx, botID, id); err != nil {
			log.Error().Err(err).Str("order_id", id).Msg("untrack failed")
		}
	}

	state.ArmedEntryOrderID = ""
	state.BracketIDs = nil
	if err := h.store.SaveBotState(ctx, botID, state); err != nil {
		return &Result{Error: "save bot state: " + err.Error(), Retryable: true}
	}

	if h.orderStates != nil && len(ids) > 0 {
		_ = h.orderStates.Upsert(ctx, &store.OrderState{
			BotID:    botID,
			SignalID: dis.ID(),
			Symbol:   dis.Symbol,
			Side:     string(dis.Side),
			Status:   store.OrderStatusCancelled,
		})
	}
	log.Info().Int("cancelled", cancelled).Int("cleared", len(ids)).Str("reason", dis.Reason).Msg("disarmed")
	return &Result{OK: true}
}

func bracketID(ids []string, i int) string {
	if i < len(ids) {
		return ids[i]
	}
	return ""
}

func (h *Handler) recordState(ctx context.Context, botID string, arm signal.Arm, p *plan.Plan, status, entryID, slID, tpID string) {
	if h.orderStates == nil {
		return
	}
	_ = h.orderStates.Upsert(ctx, &store.OrderState{
		BotID:             botID,
		SignalID:          arm.ID(),
		OrderID:           entryID,
		StopOrderID:       slID,
		TakeProfitOrderID: tpID,
		Status:            status,
		Side:              string(arm.Side),
		Symbol:            arm.Symbol,
		TriggerPrice:      arm.Trigger,
		StopPrice:         arm.Stop,
		Quantity:          p.Qty,
	})
}

func (h *Handler) publish(typ, botID, symbol string, data interface{}) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(events.Event{Type: typ, BotID: botID, Symbol: symbol, Data: data})
}
