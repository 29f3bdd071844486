package store

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMarkProcessedFirstWriterWins(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	first, err := st.MarkProcessed(ctx, "bot-1", "BTCUSDT:1000:long")
	if err != nil || !first {
		t.Fatalf("first mark = (%v, %v), want (true, nil)", first, err)
	}
	second, err := st.MarkProcessed(ctx, "bot-1", "BTCUSDT:1000:long")
	if err != nil || second {
		t.Fatalf("second mark = (%v, %v), want (false, nil)", second, err)
	}

	seen, _ := st.AlreadyProcessed(ctx, "bot-1", "BTCUSDT:1000:long")
	if !seen {
		t.Error("AlreadyProcessed = false after mark")
	}
	other, _ := st.AlreadyProcessed(ctx, "bot-2", "BTCUSDT:1000:long")
	if other {
		t.Error("processed set must be per bot")
	}
}

func TestMarkProcessedConcurrent(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	wins := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.MarkProcessed(ctx, "bot-1", "sig-1")
			if err != nil {
				t.Errorf("mark: %v", err)
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for ok := range wins {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestBotStateRoundTrip(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	// unknown bot gets a fresh flat state, not an error
	fresh, err := st.BotState(ctx, "bot-1")
	if err != nil {
		t.Fatalf("fresh state: %v", err)
	}
	if fresh.PositionSide != PositionFlat {
		t.Errorf("fresh position_side = %q, want flat", fresh.PositionSide)
	}

	state := NewBotState()
	state.LastSignalID = "BTCUSDT:1000:long"
	state.ArmedEntryOrderID = "E-1"
	state.BracketIDs = []string{"S-1", "T-1"}
	state.PositionSide = PositionLong
	state.PositionQty = decimal.RequireFromString("0.02")
	state.AvgEntryPrice = decimal.RequireFromString("100")
	if err := st.SaveBotState(ctx, "bot-1", state); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.BotState(ctx, "bot-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.LastSignalID != state.LastSignalID || got.ArmedEntryOrderID != "E-1" {
		t.Errorf("loaded = %+v", got)
	}
	if len(got.BracketIDs) != 2 {
		t.Errorf("bracket_ids = %v, want 2", got.BracketIDs)
	}
	if !got.PositionQty.Equal(state.PositionQty) {
		t.Errorf("position_qty = %s, want 0.02", got.PositionQty)
	}

	// the returned state is a copy
	got.BracketIDs[0] = "mutated"
	again, _ := st.BotState(ctx, "bot-1")
	if again.BracketIDs[0] != "S-1" {
		t.Error("BotState must return an isolated copy")
	}
}

func TestSymbolSubscriberIndex(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"bot-1", "bot-2"} {
		err := st.SaveBotConfig(ctx, &BotConfig{BotID: id, Symbol: "BTCUSDT", Status: BotStatusActive, SideMode: SideModeBoth})
		if err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if err := st.SaveBotConfig(ctx, &BotConfig{BotID: "bot-3", Symbol: "ETHUSDT", Status: BotStatusActive, SideMode: SideModeBoth}); err != nil {
		t.Fatalf("save bot-3: %v", err)
	}

	ids, err := st.BotsForSymbol(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("bots for symbol: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "bot-1" || ids[1] != "bot-2" {
		t.Errorf("ids = %v, want [bot-1 bot-2]", ids)
	}
}

func TestTrackedOrders(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"E-1", "S-1"} {
		if err := st.TrackOrder(ctx, "bot-1", id); err != nil {
			t.Fatalf("track: %v", err)
		}
	}
	if err := st.UntrackOrder(ctx, "bot-1", "E-1"); err != nil {
		t.Fatalf("untrack: %v", err)
	}
	ids, _ := st.TrackedOrders(ctx, "bot-1")
	if len(ids) != 1 || ids[0] != "S-1" {
		t.Errorf("tracked = %v, want [S-1]", ids)
	}
}

func TestAllowsSide(t *testing.T) {
	cases := []struct {
		mode string
		side string
		want bool
	}{
		{SideModeBoth, "long", true},
		{SideModeBoth, "short", true},
		{SideModeLongOnly, "long", true},
		{SideModeLongOnly, "short", false},
		{SideModeShortOnly, "short", true},
		{SideModeShortOnly, "long", false},
		{"", "long", false},
	}
	for _, tc := range cases {
		cfg := &BotConfig{SideMode: tc.mode}
		if got := cfg.AllowsSide(tc.side); got != tc.want {
			t.Errorf("AllowsSide(%q, %q) = %v, want %v", tc.mode, tc.side, got, tc.want)
		}
	}
}
