package taskqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"regime-trading-bot/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "ERROR", Output: "stderr", Component: "test"})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestEnqueueRunsHandler(t *testing.T) {
	q := NewInProc(2, 3, testLogger())
	var ran atomic.Int32
	q.Register("test", func(ctx context.Context, payload []byte) error {
		if string(payload) != "hello" {
			t.Errorf("payload = %q, want hello", payload)
		}
		ran.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	if err := q.Enqueue(ctx, "test", []byte("hello")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, func() bool { return ran.Load() == 1 })
	q.Stop()
}

func TestEnqueueUnknownTask(t *testing.T) {
	q := NewInProc(1, 1, testLogger())
	if err := q.Enqueue(context.Background(), "nope", nil); err == nil {
		t.Fatal("expected error for unregistered task")
	}
}

func TestRetryableErrorRetriesUpToLimit(t *testing.T) {
	q := NewInProc(1, 3, testLogger())
	q.baseBackoff = time.Millisecond

	var attempts atomic.Int32
	q.Register("flaky", func(ctx context.Context, payload []byte) error {
		attempts.Add(1)
		return Retryable(errors.New("transient"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	if err := q.Enqueue(ctx, "flaky", nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, func() bool { return attempts.Load() == 3 })
	time.Sleep(50 * time.Millisecond)
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want exactly 3", got)
	}
	q.Stop()
}

func TestTerminalErrorNotRetried(t *testing.T) {
	q := NewInProc(1, 3, testLogger())
	q.baseBackoff = time.Millisecond

	var attempts atomic.Int32
	q.Register("broken", func(ctx context.Context, payload []byte) error {
		attempts.Add(1)
		return errors.New("terminal")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	if err := q.Enqueue(ctx, "broken", nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, func() bool { return attempts.Load() == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want exactly 1", got)
	}
	q.Stop()
}

func TestEnqueueAfterStop(t *testing.T) {
	q := NewInProc(1, 1, testLogger())
	q.Register("test", func(ctx context.Context, payload []byte) error { return nil })
	ctx := context.Background()
	q.Start(ctx)
	q.Stop()
	if err := q.Enqueue(ctx, "test", nil); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("got %v, want ErrQueueClosed", err)
	}
}

func TestConcurrentEnqueueAndStop(t *testing.T) {
	q := NewInProc(2, 1, testLogger())
	q.Register("noop", func(ctx context.Context, payload []byte) error { return nil })
	ctx := context.Background()
	q.Start(ctx)

	// producers racing Stop must get ErrQueueClosed, never a panic
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if err := q.Enqueue(ctx, "noop", nil); err != nil {
					if !errors.Is(err, ErrQueueClosed) {
						t.Errorf("enqueue: %v", err)
					}
					return
				}
			}
		}()
	}
	q.Stop()
	wg.Wait()

	if err := q.Enqueue(ctx, "noop", nil); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("post-stop enqueue = %v, want ErrQueueClosed", err)
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(errors.New("plain")) {
		t.Error("plain error must not be retryable")
	}
	if !IsRetryable(Retryable(errors.New("transient"))) {
		t.Error("wrapped error must be retryable")
	}
	if Retryable(nil) != nil {
		t.Error("Retryable(nil) must be nil")
	}
}
