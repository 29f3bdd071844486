package stream

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"regime-trading-bot/internal/market"
)

// decodeCandle parses a candle stream entry. The ts field may be omitted by
// the upstream feed; it then falls back to the entry id's millisecond part.
// A missing close is unrecoverable and returns an error so the caller can
// skip the entry with an audit log.
func decodeCandle(id string, values map[string]interface{}, symbol, timeframe string) (*market.Candle, error) {
	cd := &market.Candle{Symbol: symbol, Timeframe: timeframe}

	var err error
	if cd.Close, err = decValue(values, "close"); err != nil {
		return nil, err
	}
	// open/high/low degrade to close when absent so a sparse feed still
	// produces a usable bar
	cd.Open = decValueOr(values, "open", cd.Close)
	cd.High = decValueOr(values, "high", cd.Close)
	cd.Low = decValueOr(values, "low", cd.Close)

	if raw, ok := values["ts"].(string); ok && raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("candle field ts: %w", err)
		}
		cd.TS = ts
	} else {
		ts, err := idMillis(id)
		if err != nil {
			return nil, fmt.Errorf("candle ts missing and entry id unusable: %w", err)
		}
		cd.TS = ts
	}

	if raw, ok := values["color"].(string); ok {
		switch market.Color(raw) {
		case market.ColorGreen, market.ColorRed:
			cd.Color = market.Color(raw)
		}
	}
	cd.DeriveColor()
	return cd, nil
}

// encodeIndicator serializes a snapshot into stream entry fields. Optional
// indicator-candle fields are only present while one exists.
func encodeIndicator(snap *market.IndicatorSnapshot) map[string]interface{} {
	fields := map[string]interface{}{
		"ts":     strconv.FormatInt(snap.TS, 10),
		"close":  snap.Close.String(),
		"ma20":   snap.MA20.String(),
		"ma200":  snap.MA200.String(),
		"regime": string(snap.Regime),
	}
	if snap.IndHigh != nil && snap.IndLow != nil && snap.IndTS != nil {
		fields["ind_high"] = snap.IndHigh.String()
		fields["ind_low"] = snap.IndLow.String()
		fields["ind_ts"] = strconv.FormatInt(*snap.IndTS, 10)
	}
	return fields
}

func decValue(values map[string]interface{}, field string) (decimal.Decimal, error) {
	raw, ok := values[field].(string)
	if !ok || raw == "" {
		return decimal.Decimal{}, fmt.Errorf("candle field %q missing", field)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("candle field %q: %w", field, err)
	}
	return d, nil
}

func decValueOr(values map[string]interface{}, field string, fallback decimal.Decimal) decimal.Decimal {
	raw, ok := values[field].(string)
	if !ok || raw == "" {
		return fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fallback
	}
	return d
}

// idMillis extracts the millisecond component of a stream entry id
// ("1700000000000-0").
func idMillis(id string) (int64, error) {
	ms, _, ok := strings.Cut(id, "-")
	if !ok {
		return 0, fmt.Errorf("malformed stream id %q", id)
	}
	return strconv.ParseInt(ms, 10, 64)
}
