// Package bot assembles and runs the whole pipeline: per-subscription
// calculator and poller workers, the handler task queue, the reconciler,
// and the ops API.
package bot

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"regime-trading-bot/config"
	"regime-trading-bot/internal/calculator"
	"regime-trading-bot/internal/events"
	"regime-trading-bot/internal/exchange"
	"regime-trading-bot/internal/handler"
	"regime-trading-bot/internal/logging"
	"regime-trading-bot/internal/market"
	"regime-trading-bot/internal/poller"
	"regime-trading-bot/internal/reconciler"
	"regime-trading-bot/internal/store"
	"regime-trading-bot/internal/stream"
	"regime-trading-bot/internal/taskqueue"
)

// App owns every long-lived component of the pipeline.
type App struct {
	cfg   *config.Config
	log   *logging.Logger
	zlog  zerolog.Logger
	rdb   *redis.Client
	pool  *pgxpool.Pool
	bus   *events.Bus
	store store.Store
	strm  *stream.Client
	ex    exchange.Client
	queue *taskqueue.InProc
	recon *reconciler.Reconciler

	orderStates *store.OrderStateRepo

	calcs   []*calculator.Worker
	pollers []*poller.Poller
}

// New wires the application from configuration. Connectivity checks happen
// here so a misconfigured process fails at startup, not mid-pipeline.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logging.New(&logging.Config{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		Component: "app",
	})
	logging.SetDefault(log)

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(toZerologLevel(cfg.Logging.Level)); err == nil {
		zlog = zlog.Level(lvl)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	var pool *pgxpool.Pool
	var orderStates *store.OrderStateRepo
	if cfg.Database.Enabled && cfg.Database.URL != "" {
		var err error
		pool, err = pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		orderStates, err = store.NewOrderStateRepo(ctx, pool, zlog)
		if err != nil {
			return nil, err
		}
	}

	var ex exchange.Client
	if cfg.Trading.DryRun {
		log.Info("dry-run mode: using mock exchange")
		ex = exchange.NewMockClient()
	} else {
		ex = exchange.NewBinanceClient(cfg.Exchange.APIKey, cfg.Exchange.SecretKey,
			cfg.Exchange.Testnet, cfg.ExchangeTimeout())
	}

	app := &App{
		cfg:   cfg,
		log:   log,
		zlog:  zlog,
		rdb:   rdb,
		pool:  pool,
		bus:   events.NewBus(),
		store: store.NewRedisStore(rdb),
		strm:  stream.NewClient(rdb),
		ex:    ex,
	}

	app.queue = taskqueue.NewInProc(cfg.Trading.QueueWorkers, cfg.Trading.TaskMaxAttempts, log)
	h := handler.New(app.store, ex, orderStates, app.bus, zlog)
	h.Register(app.queue)
	app.orderStates = orderStates

	symbols := make([]string, 0, len(cfg.Trading.Subscriptions))
	for _, sub := range cfg.Trading.Subscriptions {
		f, err := ex.SymbolFilters(ctx, sub.Symbol)
		if err != nil {
			return nil, fmt.Errorf("symbol filters %s: %w", sub.Symbol, err)
		}
		calc := calculator.New(sub.Symbol, sub.Timeframe, f.TickSize, market.MAAlignmentClassifier{})
		app.calcs = append(app.calcs, calculator.NewWorker(app.strm, calc, app.bus, log,
			sub.Symbol, sub.Timeframe, cfg.Trading.PollBatch, cfg.PollBlock()))
		app.pollers = append(app.pollers, poller.New(app.strm, app.store, app.queue, log,
			sub.Symbol, sub.Timeframe, cfg.Trading.ConsumerGroup, cfg.Trading.PollBatch, cfg.PollBlock()))
		symbols = append(symbols, sub.Symbol)
	}

	app.recon = reconciler.New(app.store, ex, app.bus, zlog, symbols, cfg.ReconcileInterval())
	return app, nil
}

// Bus exposes the event bus for the API layer.
func (a *App) Bus() *events.Bus { return a.bus }

// Store exposes the state store for the API layer.
func (a *App) Store() store.Store { return a.store }

// Stream exposes the stream client for the API layer.
func (a *App) Stream() *stream.Client { return a.strm }

// Reconciler exposes the reconciler for the API layer.
func (a *App) Reconciler() *reconciler.Reconciler { return a.recon }

// OrderStates exposes the audit repo, nil when the database is disabled.
func (a *App) OrderStates() *store.OrderStateRepo { return a.orderStates }

// Run starts every worker and blocks until ctx is cancelled, then drains
// the task queue before returning.
func (a *App) Run(ctx context.Context) error {
	a.queue.Start(ctx)

	var wg sync.WaitGroup
	runWorker := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				a.log.Error(name+" exited", "error", err)
			}
		}()
	}

	for _, w := range a.calcs {
		runWorker("calculator", w.Run)
	}
	for _, p := range a.pollers {
		runWorker("poller", p.Run)
	}
	runWorker("reconciler", a.recon.Run)

	a.log.Info("pipeline started",
		"subscriptions", len(a.cfg.Trading.Subscriptions),
		"dry_run", a.cfg.Trading.DryRun)

	<-ctx.Done()
	a.log.Info("shutting down, draining task queue")
	wg.Wait()
	a.queue.Stop()

	if a.pool != nil {
		a.pool.Close()
	}
	if err := a.rdb.Close(); err != nil {
		a.log.Warn("redis close failed", "error", err)
	}
	return nil
}

func toZerologLevel(s string) string {
	switch logging.ParseLevel(s) {
	case logging.DEBUG:
		return "debug"
	case logging.WARN:
		return "warn"
	case logging.ERROR:
		return "error"
	default:
		return "info"
	}
}
