// Package stream is the Redis Streams transport: candle intake, indicator
// snapshot publishing, and the consumer-group signal channel.
package stream

import "fmt"

// Stream and key names are hash-tagged on {SYMBOL|TF} so every key for one
// subscription lands on the same cluster slot.
func CandleStream(symbol, timeframe string) string {
	return fmt.Sprintf("stream:market|{%s|%s}", symbol, timeframe)
}

func IndicatorStream(symbol, timeframe string) string {
	return fmt.Sprintf("stream:ind|{%s|%s}", symbol, timeframe)
}

func SignalStream(symbol, timeframe string) string {
	return fmt.Sprintf("stream:signal|{%s|%s}", symbol, timeframe)
}

// LatestSnapshotKey is the hash holding the most recent indicator snapshot.
func LatestSnapshotKey(symbol, timeframe string) string {
	return fmt.Sprintf("snap:ind|{%s|%s}", symbol, timeframe)
}
