package signal

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"regime-trading-bot/internal/market"
)

func TestSignalID(t *testing.T) {
	arm := Arm{
		Symbol: "BTCUSDT", Timeframe: "2m", IndTS: 1700000000000,
		Side:    market.SideLong,
		Trigger: decimal.RequireFromString("10.31"),
		Stop:    decimal.RequireFromString("9.79"),
	}
	if got, want := arm.ID(), "BTCUSDT:1700000000000:long"; got != want {
		t.Errorf("arm id = %q, want %q", got, want)
	}

	dis := Disarm{Symbol: "BTCUSDT", Timeframe: "2m", IndTS: 1700000000000, Side: market.SideLong}
	if dis.ID() != arm.ID() {
		t.Error("a disarm must share the id of the arm it retracts")
	}
}

func TestArmRoundTrip(t *testing.T) {
	arm := Arm{
		Symbol: "ETHUSDT", Timeframe: "5m", IndTS: 1700000120000,
		Side:    market.SideShort,
		Trigger: decimal.RequireFromString("9.59"),
		Stop:    decimal.RequireFromString("10.01"),
	}

	decoded, err := DecodeFields(EncodeFields(arm))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := decoded.(Arm)
	if !ok {
		t.Fatalf("decoded %T, want Arm", decoded)
	}
	if got.Symbol != arm.Symbol || got.Timeframe != arm.Timeframe ||
		got.IndTS != arm.IndTS || got.Side != arm.Side {
		t.Errorf("decoded = %+v, want %+v", got, arm)
	}
	if !got.Trigger.Equal(arm.Trigger) || !got.Stop.Equal(arm.Stop) {
		t.Errorf("prices = %s/%s, want %s/%s", got.Trigger, got.Stop, arm.Trigger, arm.Stop)
	}
}

func TestDisarmRoundTrip(t *testing.T) {
	dis := Disarm{
		Symbol: "BTCUSDT", Timeframe: "2m", IndTS: 1700000240000,
		Side: market.SideLong, Reason: ReasonDirectFlip,
	}

	decoded, err := DecodeFields(EncodeFields(dis))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := decoded.(Disarm)
	if !ok {
		t.Fatalf("decoded %T, want Disarm", decoded)
	}
	if got.Reason != ReasonDirectFlip || got.Side != market.SideLong {
		t.Errorf("decoded = %+v, want %+v", got, dis)
	}
}

func TestDecodeMissingField(t *testing.T) {
	fields := map[string]interface{}{
		"type": "arm", "sym": "BTCUSDT", "tf": "2m",
		"ind_ts": "1700000000000", "side": "long",
		// trigger missing
		"stop": "9.79",
	}
	_, err := DecodeFields(fields)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("got %v, want DecodeError", err)
	}
	if de.Field != "trigger" {
		t.Errorf("failing field = %q, want trigger", de.Field)
	}
}

func TestDecodeInvalidValues(t *testing.T) {
	t.Run("bad side", func(t *testing.T) {
		fields := EncodeFields(Arm{
			Symbol: "BTCUSDT", Timeframe: "2m", IndTS: 1,
			Side: market.SideLong, Trigger: decimal.New(1, 0), Stop: decimal.New(1, 0),
		})
		fields["side"] = "sideways"
		if _, err := DecodeFields(fields); err == nil {
			t.Fatal("expected error for invalid side")
		}
	})

	t.Run("bad type", func(t *testing.T) {
		fields := map[string]interface{}{
			"type": "noise", "sym": "BTCUSDT", "tf": "2m",
			"ind_ts": "1", "side": "long",
		}
		if _, err := DecodeFields(fields); err == nil {
			t.Fatal("expected error for unknown type")
		}
	})

	t.Run("bad ind_ts", func(t *testing.T) {
		fields := map[string]interface{}{
			"type": "disarm", "sym": "BTCUSDT", "tf": "2m",
			"ind_ts": "soon", "side": "long",
		}
		if _, err := DecodeFields(fields); err == nil {
			t.Fatal("expected error for non-numeric ind_ts")
		}
	})
}
