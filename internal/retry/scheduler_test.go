package retry

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestExponentialBackoffGrowth(t *testing.T) {
	b := ExponentialBackoff{Base: 100 * time.Millisecond, Max: time.Minute}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		d := b.Delay(attempt)
		if d <= prev {
			t.Errorf("delay for attempt %d (%v) not greater than previous (%v)", attempt, d, prev)
		}
		prev = d
	}

	clamped := ExponentialBackoff{Base: time.Second, Max: 2 * time.Second}
	if d := clamped.Delay(10); d != 2*time.Second {
		t.Errorf("clamped delay = %v, want 2s", d)
	}
}

func TestExponentialBackoffJitterBounds(t *testing.T) {
	b := ExponentialBackoff{
		Base:   time.Second,
		Max:    time.Minute,
		Jitter: 0.25,
		Rand:   rand.New(rand.NewSource(42)),
	}
	for i := 0; i < 100; i++ {
		d := b.Delay(1)
		if d < 750*time.Millisecond || d > 1250*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±25%% of 1s", d)
		}
	}
}

func TestRetryUntilGiveUp(t *testing.T) {
	clock := newFakeClock()
	var attempts []time.Time
	var gaveUp []Operation

	s := NewScheduler(Config{
		Clock:       clock,
		Backoff:     ExponentialBackoff{Base: time.Second, Max: time.Minute},
		MaxAttempts: 3,
		Run: func(ctx context.Context, op Operation) error {
			attempts = append(attempts, clock.Now())
			return errors.New("still broken")
		},
		GiveUp: func(op Operation, err error) {
			gaveUp = append(gaveUp, op)
		},
	})

	s.Schedule("doc-1", "payload", 1)

	// Drive the queue far past every scheduled due time.
	for i := 0; i < 20; i++ {
		clock.Advance(time.Minute)
		s.Tick(context.Background())
	}

	if len(attempts) != 3 {
		t.Fatalf("got %d attempts, want 3", len(attempts))
	}
	for i := 1; i < len(attempts); i++ {
		if !attempts[i].After(attempts[i-1]) {
			t.Error("scheduled times must be strictly increasing")
		}
	}
	if len(gaveUp) != 1 {
		t.Fatalf("GiveUp called %d times, want 1", len(gaveUp))
	}
	if gaveUp[0].Key != "doc-1" || gaveUp[0].Attempt != 3 {
		t.Errorf("GiveUp op = %+v", gaveUp[0])
	}
	if s.Pending("doc-1") {
		t.Error("exhausted entry must leave the queue")
	}
}

func TestNotDueNotDispatched(t *testing.T) {
	clock := newFakeClock()
	ran := 0
	s := NewScheduler(Config{
		Clock:   clock,
		Backoff: ExponentialBackoff{Base: time.Hour},
		Run: func(ctx context.Context, op Operation) error {
			ran++
			return nil
		},
	})

	s.Schedule("k", nil, 1)
	s.Tick(context.Background())
	if ran != 0 {
		t.Error("entry dispatched before its due time")
	}

	clock.Advance(2 * time.Hour)
	s.Tick(context.Background())
	if ran != 1 {
		t.Errorf("ran = %d, want 1", ran)
	}
	if s.Len() != 0 {
		t.Error("successful retry must drain the queue")
	}
}

func TestSupersedeCancelsPending(t *testing.T) {
	clock := newFakeClock()
	var payloads []any
	s := NewScheduler(Config{
		Clock:   clock,
		Backoff: ExponentialBackoff{Base: time.Second},
		Run: func(ctx context.Context, op Operation) error {
			payloads = append(payloads, op.Payload)
			return nil
		},
	})

	s.Schedule("doc-1", "stale write", 1)
	// A newer write for the same entity supersedes the pending retry.
	s.Schedule("doc-1", "fresh write", 1)

	clock.Advance(time.Minute)
	s.Tick(context.Background())

	if len(payloads) != 1 {
		t.Fatalf("dispatched %d ops, want 1", len(payloads))
	}
	if payloads[0] != "fresh write" {
		t.Errorf("dispatched %v, want the superseding write", payloads[0])
	}
}

func TestCancelRemovesEntry(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(Config{
		Clock:   clock,
		Backoff: ExponentialBackoff{Base: time.Second},
		Run: func(ctx context.Context, op Operation) error {
			t.Error("cancelled entry must not run")
			return nil
		},
	})

	s.Schedule("doc-1", nil, 1)
	s.Cancel("doc-1")
	clock.Advance(time.Hour)
	s.Tick(context.Background())

	if s.Pending("doc-1") {
		t.Error("cancelled entry still pending")
	}
}

func TestSupersedeWhileInFlight(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(Config{
		Clock:   clock,
		Backoff: ExponentialBackoff{Base: time.Second},
	})
	release := make(chan struct{})
	started := make(chan struct{})
	s.cfg.Run = func(ctx context.Context, op Operation) error {
		close(started)
		<-release
		return errors.New("fail")
	}

	s.Schedule("doc-1", "old", 1)
	clock.Advance(time.Minute)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Tick(context.Background())
	}()

	<-started
	// Supersede while the old attempt is still running.
	s.Schedule("doc-1", "new", 1)
	close(release)
	wg.Wait()

	// The failed old attempt must not reschedule over the newer entry.
	if !s.Pending("doc-1") {
		t.Fatal("superseding entry must remain queued")
	}
	s.mu.Lock()
	got := s.queue["doc-1"].Payload
	s.mu.Unlock()
	if got != "new" {
		t.Errorf("queued payload = %v, want the superseding write", got)
	}
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(Config{
		TickInterval: time.Millisecond,
		Run:          func(ctx context.Context, op Operation) error { return nil },
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	s := NewScheduler(Config{Run: func(ctx context.Context, op Operation) error { return nil }})
	s.Stop()
}
