// candle-feeder publishes closed candles onto a subscription's candle
// stream, either replayed from a CSV file or as a synthetic random walk.
// Intended for dry runs and local pipeline testing.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"regime-trading-bot/internal/logging"
	"regime-trading-bot/internal/market"
	"regime-trading-bot/internal/stream"
)

func main() {
	var (
		redisAddr = flag.String("redis", "localhost:6379", "redis address")
		symbol    = flag.String("symbol", "BTCUSDT", "symbol")
		timeframe = flag.String("tf", "2m", "timeframe")
		csvPath   = flag.String("file", "", "CSV file (ts,open,high,low,close); synthetic walk when empty")
		interval  = flag.Duration("interval", 2*time.Second, "synthetic candle interval")
		start     = flag.Float64("start", 100, "synthetic walk start price")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: "INFO", Output: "stdout", Component: "candle-feeder"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("redis ping failed", "error", err)
		os.Exit(1)
	}
	client := stream.NewClient(rdb)

	var err error
	if *csvPath != "" {
		err = replayFile(ctx, client, log, *csvPath, *symbol, *timeframe)
	} else {
		err = syntheticWalk(ctx, client, log, *symbol, *timeframe, *interval, *start)
	}
	if err != nil && ctx.Err() == nil {
		log.Error("feeder failed", "error", err)
		os.Exit(1)
	}
}

func replayFile(ctx context.Context, client *stream.Client, log *logging.Logger, path, symbol, timeframe string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for i, rec := range records {
		if len(rec) < 5 {
			return fmt.Errorf("row %d: need ts,open,high,low,close", i+1)
		}
		cd := &market.Candle{Symbol: symbol, Timeframe: timeframe}
		if _, err := fmt.Sscanf(rec[0], "%d", &cd.TS); err != nil {
			return fmt.Errorf("row %d ts: %w", i+1, err)
		}
		for j, dst := range []*decimal.Decimal{&cd.Open, &cd.High, &cd.Low, &cd.Close} {
			d, err := decimal.NewFromString(rec[j+1])
			if err != nil {
				return fmt.Errorf("row %d col %d: %w", i+1, j+2, err)
			}
			*dst = d
		}
		cd.DeriveColor()
		if _, err := client.AppendCandle(ctx, cd); err != nil {
			return err
		}
	}
	log.Info("replay complete", "candles", len(records))
	return nil
}

func syntheticWalk(ctx context.Context, client *stream.Client, log *logging.Logger, symbol, timeframe string, interval time.Duration, start float64) error {
	price := start
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("synthetic feed started", "symbol", symbol, "timeframe", timeframe)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		open := price
		price += price * (rand.Float64() - 0.5) * 0.01
		high := maxF(open, price) * (1 + rand.Float64()*0.002)
		low := minF(open, price) * (1 - rand.Float64()*0.002)

		cd := &market.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			TS:        time.Now().UnixMilli(),
			Open:      decimal.NewFromFloat(open).Round(4),
			High:      decimal.NewFromFloat(high).Round(4),
			Low:       decimal.NewFromFloat(low).Round(4),
			Close:     decimal.NewFromFloat(price).Round(4),
		}
		cd.DeriveColor()
		if _, err := client.AppendCandle(ctx, cd); err != nil {
			log.Warn("append failed", "error", err)
			continue
		}
		log.Debug("candle published", "close", cd.Close.String())
	}
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
