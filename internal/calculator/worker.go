package calculator

import (
	"context"
	"time"

	"regime-trading-bot/internal/events"
	"regime-trading-bot/internal/logging"
	"regime-trading-bot/internal/market"
	"regime-trading-bot/internal/metrics"
	"regime-trading-bot/internal/signal"
	"regime-trading-bot/internal/stream"
)

// broker retry backoff bounds
const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Stream is the transport surface the worker needs.
type Stream interface {
	LastIndicatorID(ctx context.Context, symbol, timeframe string) (string, error)
	ReadCandles(ctx context.Context, symbol, timeframe, lastID string, count int64, block time.Duration) ([]stream.CandleEntry, error)
	AppendIndicator(ctx context.Context, snap *market.IndicatorSnapshot, id string) error
	AppendSignal(ctx context.Context, symbol, timeframe string, sig signal.Signal) (string, error)
}

// Worker drives one calculator off the candle stream. The indicator stream
// doubles as its resume cursor: snapshot entries reuse their source candle
// entry id, so the newest indicator id is exactly the last candle fully
// processed and published.
type Worker struct {
	stream Stream
	calc   *Calculator
	bus    *events.Bus
	log    *logging.Logger

	symbol string
	tf     string
	batch  int64
	block  time.Duration
}

// NewWorker creates a worker. bus may be nil.
func NewWorker(st Stream, calc *Calculator, bus *events.Bus, log *logging.Logger, symbol, timeframe string, batch int64, block time.Duration) *Worker {
	if batch <= 0 {
		batch = 32
	}
	if block <= 0 {
		block = 5 * time.Second
	}
	return &Worker{
		stream: st,
		calc:   calc,
		bus:    bus,
		log:    log.WithComponent("calculator").WithStream(symbol, timeframe),
		symbol: symbol,
		tf:     timeframe,
		batch:  batch,
		block:  block,
	}
}

// Run consumes candles until ctx is cancelled. Broker failures back off
// exponentially (capped); candles are never dropped silently.
func (w *Worker) Run(ctx context.Context) error {
	cursor, err := w.withRetry(ctx, "resume cursor", func() (string, error) {
		return w.stream.LastIndicatorID(ctx, w.symbol, w.tf)
	})
	if err != nil {
		return err
	}
	w.log.Info("calculator started", "cursor", cursor)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entries, err := w.stream.ReadCandles(ctx, w.symbol, w.tf, cursor, w.batch, w.block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("candle read failed", "error", err)
			if err := sleep(ctx, minBackoff); err != nil {
				return err
			}
			continue
		}

		for _, entry := range entries {
			if entry.Err != nil {
				metrics.CandlesMalformed.WithLabelValues(w.symbol, w.tf).Inc()
				w.log.Warn("skipping malformed candle", "id", entry.ID, "error", entry.Err)
				cursor = entry.ID
				continue
			}
			if err := w.process(ctx, entry); err != nil {
				return err // ctx cancelled mid-publish; cursor not advanced
			}
			cursor = entry.ID
		}
	}
}

func (w *Worker) process(ctx context.Context, entry stream.CandleEntry) error {
	sigs, snap := w.calc.Process(entry.Candle)
	metrics.CandlesProcessed.WithLabelValues(w.symbol, w.tf).Inc()

	for _, sig := range sigs {
		if _, err := w.withRetry(ctx, "publish signal", func() (string, error) {
			return w.stream.AppendSignal(ctx, w.symbol, w.tf, sig)
		}); err != nil {
			return err
		}
		metrics.SignalsEmitted.WithLabelValues(w.symbol, string(sig.Kind())).Inc()
		w.log.Info("signal emitted", "kind", string(sig.Kind()), "signal_id", sig.ID())
		if w.bus != nil {
			w.bus.Publish(events.Event{
				Type:   events.EventSignalEmitted,
				Symbol: w.symbol,
				Data:   signal.EncodeFields(sig),
			})
		}
	}

	if snap != nil {
		if _, err := w.withRetry(ctx, "publish snapshot", func() (string, error) {
			return "", w.stream.AppendIndicator(ctx, snap, entry.ID)
		}); err != nil {
			return err
		}
	}
	return nil
}

// withRetry repeats a broker operation with capped exponential backoff
// until it succeeds or ctx is cancelled.
func (w *Worker) withRetry(ctx context.Context, op string, fn func() (string, error)) (string, error) {
	backoff := minBackoff
	for {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		w.log.Error(op+" failed, backing off", "backoff_ms", backoff.Milliseconds(), "error", err)
		if err := sleep(ctx, backoff); err != nil {
			return "", err
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
