package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"regime-trading-bot/config"
	"regime-trading-bot/internal/api"
	"regime-trading-bot/internal/bot"
	"regime-trading-bot/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Default().Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bot.New(ctx, cfg)
	if err != nil {
		logging.Default().Error("startup failed", "error", err)
		os.Exit(1)
	}
	log := logging.Default()

	server := api.New(app.Store(), app.Stream(), app.Reconciler(), app.OrderStates(),
		app.Bus(), log, cfg.Server.Host, cfg.Server.Port, cfg.Server.AllowedOrigins)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("api server failed", "error", err)
			stop()
		}
	}()

	if err := app.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("pipeline failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown failed", "error", err)
	}
	log.Info("shutdown complete")
}
