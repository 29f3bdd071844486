package store

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestBotConfigFieldCodec(t *testing.T) {
	t.Run("round trip with max qty", func(t *testing.T) {
		maxQty := decimal.RequireFromString("0.5")
		cfg := &BotConfig{
			BotID:        "bot-1",
			UserID:       "user-1",
			Symbol:       "BTCUSDT",
			Status:       BotStatusActive,
			SideMode:     SideModeLongOnly,
			RiskPerTrade: decimal.RequireFromString("0.01"),
			Leverage:     3,
			TPRatio:      decimal.RequireFromString("2"),
			MaxQty:       &maxQty,
		}

		fields := make(map[string]string, len(botConfigFields(cfg)))
		for k, v := range botConfigFields(cfg) {
			fields[k] = v.(string)
		}
		got, err := botConfigFromFields(fields)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.BotID != cfg.BotID || got.UserID != cfg.UserID || got.Symbol != cfg.Symbol {
			t.Errorf("identity fields = %+v, want %+v", got, cfg)
		}
		if got.Status != cfg.Status || got.SideMode != cfg.SideMode || got.Leverage != cfg.Leverage {
			t.Errorf("mode fields = %+v, want %+v", got, cfg)
		}
		if !got.RiskPerTrade.Equal(cfg.RiskPerTrade) || !got.TPRatio.Equal(cfg.TPRatio) {
			t.Errorf("decimal fields = %+v, want %+v", got, cfg)
		}
		if got.MaxQty == nil || !got.MaxQty.Equal(maxQty) {
			t.Errorf("max_qty = %v, want %s", got.MaxQty, maxQty)
		}
	})

	t.Run("nil max qty stays absent", func(t *testing.T) {
		cfg := &BotConfig{
			BotID:        "bot-2",
			Symbol:       "ETHUSDT",
			Status:       BotStatusPaused,
			SideMode:     SideModeBoth,
			RiskPerTrade: decimal.RequireFromString("0.02"),
			Leverage:     1,
			TPRatio:      decimal.RequireFromString("1.5"),
		}

		raw := botConfigFields(cfg)
		if _, ok := raw["max_qty"]; ok {
			t.Fatal("max_qty field written for unset cap")
		}
		fields := make(map[string]string, len(raw))
		for k, v := range raw {
			fields[k] = v.(string)
		}
		got, err := botConfigFromFields(fields)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.MaxQty != nil {
			t.Errorf("max_qty = %v, want nil", got.MaxQty)
		}
	})

	t.Run("malformed risk rejected", func(t *testing.T) {
		fields := map[string]string{
			"bot_id":         "bot-3",
			"symbol":         "BTCUSDT",
			"status":         BotStatusActive,
			"side_mode":      SideModeBoth,
			"risk_per_trade": "not-a-number",
			"tp_ratio":       "2",
		}
		if _, err := botConfigFromFields(fields); err == nil {
			t.Fatal("expected error for malformed risk_per_trade")
		}
	})
}
