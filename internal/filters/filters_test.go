package filters

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestQuantizeFloor(t *testing.T) {
	cases := []struct {
		x, step, want string
	}{
		{"10.317", "0.01", "10.31"},
		{"10.31", "0.01", "10.31"},
		{"192.3077", "0.001", "192.307"},
		{"0.0009", "0.001", "0"},
		{"5", "0", "5"},
	}
	for _, tc := range cases {
		got := QuantizeFloor(dec(tc.x), dec(tc.step))
		if !got.Equal(dec(tc.want)) {
			t.Errorf("QuantizeFloor(%s, %s) = %s, want %s", tc.x, tc.step, got, tc.want)
		}
	}
}

func TestQuantizeCeil(t *testing.T) {
	cases := []struct {
		x, step, want string
	}{
		{"9.791", "0.01", "9.8"},
		{"9.79", "0.01", "9.79"},
		{"0.0001", "0.001", "0.001"},
	}
	for _, tc := range cases {
		got := QuantizeCeil(dec(tc.x), dec(tc.step))
		if !got.Equal(dec(tc.want)) {
			t.Errorf("QuantizeCeil(%s, %s) = %s, want %s", tc.x, tc.step, got, tc.want)
		}
	}
}

func TestQuantizeIdempotent(t *testing.T) {
	values := []string{"10.317", "9.791", "0.123456", "100", "0.0005"}
	steps := []string{"0.01", "0.001", "0.5"}
	for _, v := range values {
		for _, s := range steps {
			once := QuantizeFloor(dec(v), dec(s))
			twice := QuantizeFloor(once, dec(s))
			if !once.Equal(twice) {
				t.Errorf("floor not idempotent for x=%s step=%s: %s != %s", v, s, once, twice)
			}
			onceC := QuantizeCeil(dec(v), dec(s))
			twiceC := QuantizeCeil(onceC, dec(s))
			if !onceC.Equal(twiceC) {
				t.Errorf("ceil not idempotent for x=%s step=%s: %s != %s", v, s, onceC, twiceC)
			}
		}
	}
}

func TestCheckQty(t *testing.T) {
	f := SymbolFilters{
		Symbol:      "BTCUSDT",
		TickSize:    dec("0.01"),
		StepSize:    dec("0.001"),
		MinQty:      dec("0.001"),
		MinNotional: dec("5"),
	}

	t.Run("valid", func(t *testing.T) {
		if err := f.CheckQty(dec("0.01"), dec("1000")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("below min qty", func(t *testing.T) {
		err := f.CheckQty(dec("0.0005"), dec("1000"))
		if !errors.Is(err, ErrBelowMinQty) {
			t.Fatalf("got %v, want ErrBelowMinQty", err)
		}
	})

	t.Run("below min notional", func(t *testing.T) {
		err := f.CheckQty(dec("0.001"), dec("10"))
		if !errors.Is(err, ErrBelowMinNotional) {
			t.Fatalf("got %v, want ErrBelowMinNotional", err)
		}
	})
}

func TestQuantizeQty(t *testing.T) {
	f := SymbolFilters{StepSize: dec("0.001")}
	got := f.QuantizeQty(dec("192.3077"))
	if !got.Equal(dec("192.307")) {
		t.Errorf("QuantizeQty = %s, want 192.307", got)
	}
}
