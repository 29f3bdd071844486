package stream

import (
	"testing"

	"github.com/shopspring/decimal"

	"regime-trading-bot/internal/market"
)

func TestDecodeCandle(t *testing.T) {
	values := map[string]interface{}{
		"ts":    "1700000000000",
		"open":  "10.0",
		"high":  "10.3",
		"low":   "9.8",
		"close": "9.9",
	}
	cd, err := decodeCandle("1700000000123-0", values, "BTCUSDT", "2m")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cd.TS != 1700000000000 {
		t.Errorf("ts = %d, want explicit field over entry id", cd.TS)
	}
	if cd.Color != market.ColorRed {
		t.Errorf("color = %s, want derived red (close < open)", cd.Color)
	}
	if !cd.High.Equal(decimal.RequireFromString("10.3")) {
		t.Errorf("high = %s, want 10.3", cd.High)
	}
}

func TestDecodeCandleTSFallsBackToEntryID(t *testing.T) {
	cd, err := decodeCandle("1700000000123-0", map[string]interface{}{"close": "10.0"}, "BTCUSDT", "2m")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cd.TS != 1700000000123 {
		t.Errorf("ts = %d, want entry id millis", cd.TS)
	}
	// sparse feed: OHL degrade to close
	if !cd.Open.Equal(cd.Close) || !cd.High.Equal(cd.Close) || !cd.Low.Equal(cd.Close) {
		t.Error("missing open/high/low must fall back to close")
	}
	if cd.Color != market.ColorGreen {
		t.Errorf("color = %s, want green (close == open)", cd.Color)
	}
}

func TestDecodeCandleMissingClose(t *testing.T) {
	_, err := decodeCandle("1-0", map[string]interface{}{"open": "10.0"}, "BTCUSDT", "2m")
	if err == nil {
		t.Fatal("missing close must be an error")
	}
}

func TestDecodeCandleExplicitColorWins(t *testing.T) {
	values := map[string]interface{}{
		"ts": "1000", "open": "9.9", "close": "9.8", "color": "green",
	}
	cd, err := decodeCandle("1000-0", values, "BTCUSDT", "2m")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cd.Color != market.ColorGreen {
		t.Errorf("color = %s, want feed-supplied green", cd.Color)
	}
}

func TestEncodeIndicatorOptionalFields(t *testing.T) {
	snap := &market.IndicatorSnapshot{
		Symbol: "BTCUSDT", Timeframe: "2m", TS: 1000,
		Close:  decimal.RequireFromString("10.0"),
		MA20:   decimal.RequireFromString("9.9"),
		MA200:  decimal.RequireFromString("9.5"),
		Regime: market.RegimeLong,
	}
	fields := encodeIndicator(snap)
	if _, present := fields["ind_high"]; present {
		t.Error("ind_high must be absent without an indicator candle")
	}

	high := decimal.RequireFromString("10.3")
	low := decimal.RequireFromString("9.8")
	ts := int64(900)
	snap.IndHigh, snap.IndLow, snap.IndTS = &high, &low, &ts
	fields = encodeIndicator(snap)
	if fields["ind_high"] != "10.3" || fields["ind_low"] != "9.8" || fields["ind_ts"] != "900" {
		t.Errorf("indicator fields = %v", fields)
	}
}

func TestKeysAreHashTagged(t *testing.T) {
	if got, want := CandleStream("BTCUSDT", "2m"), "stream:market|{BTCUSDT|2m}"; got != want {
		t.Errorf("candle stream = %q, want %q", got, want)
	}
	if got, want := SignalStream("BTCUSDT", "2m"), "stream:signal|{BTCUSDT|2m}"; got != want {
		t.Errorf("signal stream = %q, want %q", got, want)
	}
	if got, want := LatestSnapshotKey("BTCUSDT", "2m"), "snap:ind|{BTCUSDT|2m}"; got != want {
		t.Errorf("snapshot key = %q, want %q", got, want)
	}
}
