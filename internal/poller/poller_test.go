package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"regime-trading-bot/internal/logging"
	"regime-trading-bot/internal/market"
	"regime-trading-bot/internal/signal"
	"regime-trading-bot/internal/store"
	"regime-trading-bot/internal/stream"
	"regime-trading-bot/internal/taskqueue"
)

func armSignal(side market.Side) signal.Signal {
	return signal.Arm{
		Symbol: "BTCUSDT", Timeframe: "2m", IndTS: 1000, Side: side,
		Trigger: decimal.NewFromInt(10), Stop: decimal.NewFromInt(9),
	}
}

func disarmSignal(side market.Side) signal.Signal {
	return signal.Disarm{
		Symbol: "BTCUSDT", Timeframe: "2m", IndTS: 1000, Side: side,
		Reason: signal.ReasonRegimeExit,
	}
}

// fakeSource records acks into a shared event log so tests can assert
// ordering against enqueues.
type fakeSource struct {
	events *[]string
	acked  []string
}

func (f *fakeSource) EnsureGroup(ctx context.Context, symbol, timeframe, group string) error {
	return nil
}

func (f *fakeSource) ReadSignalGroup(ctx context.Context, symbol, timeframe, group, consumer string, count int64, block time.Duration) ([]stream.SignalEntry, error) {
	return nil, nil
}

func (f *fakeSource) ClaimStaleSignals(ctx context.Context, symbol, timeframe, group, consumer string, minIdle time.Duration, count int64) ([]stream.SignalEntry, error) {
	return nil, nil
}

func (f *fakeSource) AckSignal(ctx context.Context, symbol, timeframe, group, id string) error {
	f.acked = append(f.acked, id)
	*f.events = append(*f.events, "ack:"+id)
	return nil
}

type fakeQueue struct {
	events *[]string
	failAt int // 1-based Enqueue call to fail, 0 = never
	calls  int
}

func (f *fakeQueue) Register(name string, h taskqueue.Handler) {}

func (f *fakeQueue) Enqueue(ctx context.Context, name string, payload []byte) error {
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return errors.New("queue full")
	}
	*f.events = append(*f.events, "enqueue:"+name)
	return nil
}

type failingConfigs struct{}

func (failingConfigs) BotsForSymbol(ctx context.Context, symbol string) ([]string, error) {
	return nil, errors.New("store unavailable")
}

func (failingConfigs) BotConfig(ctx context.Context, botID string) (*store.BotConfig, error) {
	return nil, store.ErrBotNotFound
}

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "ERROR", Output: "stderr", Component: "test"})
}

func seedBots(t *testing.T, st store.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		err := st.SaveBotConfig(context.Background(), &store.BotConfig{
			BotID:    id,
			Symbol:   "BTCUSDT",
			Status:   store.BotStatusActive,
			SideMode: store.SideModeBoth,
		})
		if err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
}

func TestHandleAcksAfterAllDispatches(t *testing.T) {
	st := store.NewMemoryStore()
	seedBots(t, st, "bot-1", "bot-2")

	var events []string
	src := &fakeSource{events: &events}
	q := &fakeQueue{events: &events}
	p := New(src, st, q, testLogger(), "BTCUSDT", "2m", "g", 16, time.Second)

	p.handle(context.Background(), stream.SignalEntry{ID: "1-0", Signal: armSignal(market.SideLong)})

	if len(src.acked) != 1 || src.acked[0] != "1-0" {
		t.Fatalf("acked = %v, want [1-0]", src.acked)
	}
	if q.calls != 2 {
		t.Fatalf("enqueues = %d, want 2", q.calls)
	}
	// the ack must be the final event, after every bot's task was accepted
	if events[len(events)-1] != "ack:1-0" {
		t.Errorf("event order = %v, want the ack last", events)
	}
}

func TestHandleDoesNotAckOnEnqueueFailure(t *testing.T) {
	st := store.NewMemoryStore()
	seedBots(t, st, "bot-1", "bot-2")

	var events []string
	src := &fakeSource{events: &events}
	q := &fakeQueue{events: &events, failAt: 2}
	p := New(src, st, q, testLogger(), "BTCUSDT", "2m", "g", 16, time.Second)

	p.handle(context.Background(), stream.SignalEntry{ID: "1-0", Signal: armSignal(market.SideLong)})

	if len(src.acked) != 0 {
		t.Errorf("acked = %v, want none: a partial enqueue must leave the entry pending", src.acked)
	}
	if q.calls != 2 {
		t.Errorf("enqueues = %d, want 2 (second one failed)", q.calls)
	}
}

func TestHandleDoesNotAckWhenSubscribersUnresolvable(t *testing.T) {
	var events []string
	src := &fakeSource{events: &events}
	q := &fakeQueue{events: &events}
	p := New(src, failingConfigs{}, q, testLogger(), "BTCUSDT", "2m", "g", 16, time.Second)

	p.handle(context.Background(), stream.SignalEntry{ID: "1-0", Signal: armSignal(market.SideLong)})

	if len(src.acked) != 0 {
		t.Errorf("acked = %v, want none", src.acked)
	}
	if q.calls != 0 {
		t.Errorf("enqueues = %d, want 0", q.calls)
	}
}

func TestHandleAcksMalformedEntry(t *testing.T) {
	st := store.NewMemoryStore()
	seedBots(t, st, "bot-1")

	var events []string
	src := &fakeSource{events: &events}
	q := &fakeQueue{events: &events}
	p := New(src, st, q, testLogger(), "BTCUSDT", "2m", "g", 16, time.Second)

	p.handle(context.Background(), stream.SignalEntry{ID: "1-0", Err: errors.New("bad fields")})

	if len(src.acked) != 1 {
		t.Fatalf("acked = %v, want the malformed entry acked past", src.acked)
	}
	if q.calls != 0 {
		t.Errorf("enqueues = %d, want 0 for a malformed entry", q.calls)
	}
}

func TestEligible(t *testing.T) {
	cases := []struct {
		name   string
		status string
		mode   string
		sig    signal.Signal
		want   bool
	}{
		{"active both long", store.BotStatusActive, store.SideModeBoth, armSignal(market.SideLong), true},
		{"active both short", store.BotStatusActive, store.SideModeBoth, armSignal(market.SideShort), true},
		{"long_only takes long", store.BotStatusActive, store.SideModeLongOnly, armSignal(market.SideLong), true},
		{"long_only rejects short", store.BotStatusActive, store.SideModeLongOnly, armSignal(market.SideShort), false},
		{"short_only takes short", store.BotStatusActive, store.SideModeShortOnly, armSignal(market.SideShort), true},
		{"short_only rejects long", store.BotStatusActive, store.SideModeShortOnly, armSignal(market.SideLong), false},
		{"paused rejects all", store.BotStatusPaused, store.SideModeBoth, armSignal(market.SideLong), false},
		{"ended rejects all", store.BotStatusEnded, store.SideModeBoth, armSignal(market.SideLong), false},
		{"disarm follows side mode", store.BotStatusActive, store.SideModeLongOnly, disarmSignal(market.SideLong), true},
		{"disarm wrong side", store.BotStatusActive, store.SideModeShortOnly, disarmSignal(market.SideLong), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &store.BotConfig{
				BotID:    "bot-1",
				Symbol:   "BTCUSDT",
				Status:   tc.status,
				SideMode: tc.mode,
			}
			if got := Eligible(cfg, tc.sig); got != tc.want {
				t.Errorf("Eligible(%s/%s, %T) = %v, want %v", tc.status, tc.mode, tc.sig, got, tc.want)
			}
		})
	}
}
