// Package retry is a generic timer-driven retry-with-backoff primitive.
// It knows nothing about documents or sync: callers schedule keyed
// operations, a periodic tick dispatches the due ones, and backoff plus
// jitter spreads the attempts. The queue is in-memory only; entries are
// lost on restart by design, because the durable local cache already
// holds the optimistic write the retry would repeat.
package retry

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"meridian/internal/logging"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Backoff computes the delay before a given attempt (1-based).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// ExponentialBackoff grows Base by powers of two per attempt, clamps at
// Max, and applies symmetric jitter of ±Jitter fraction. Rand may be nil
// for the global source; tests inject a seeded one.
type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
	Rand   *rand.Rand
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		r := rand.Float64
		if b.Rand != nil {
			r = b.Rand.Float64
		}
		d += d * b.Jitter * (2*r() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Operation is one queued retry. Payload is opaque to the scheduler.
type Operation struct {
	Key     string
	Payload any
	Attempt int
	Due     time.Time

	// seq distinguishes a superseding schedule from the entry a finished
	// dispatch belongs to, even when attempt numbers collide.
	seq uint64
}

// RunFunc performs one retry attempt. A nil error removes the entry; a
// non-nil error reschedules it until MaxAttempts is exhausted.
type RunFunc func(ctx context.Context, op Operation) error

// GiveUpFunc is told when an entry exhausts its attempts and is dropped.
type GiveUpFunc func(op Operation, err error)

// Config parameterizes a Scheduler.
type Config struct {
	Clock        Clock
	Backoff      Backoff
	MaxAttempts  int
	TickInterval time.Duration
	Run          RunFunc
	GiveUp       GiveUpFunc
}

// Scheduler owns the retry queue. Start/Stop bound its goroutine; Tick
// may be called directly for deterministic tests.
type Scheduler struct {
	cfg Config

	mu       sync.Mutex
	queue    map[string]*Operation
	inFlight map[string]bool

	seq uint64

	stop     chan struct{}
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// NewScheduler builds a stopped scheduler. Zero-value config fields get
// conservative defaults.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Backoff == nil {
		cfg.Backoff = ExponentialBackoff{Base: time.Second, Max: time.Minute, Jitter: 0.2}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Scheduler{
		cfg:      cfg,
		queue:    make(map[string]*Operation),
		inFlight: make(map[string]bool),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Schedule enqueues (or supersedes) the retry for key at the given
// attempt. A newer schedule for the same key always replaces the older
// pending one: latest write wins, retries never stack.
func (s *Scheduler) Schedule(key string, payload any, attempt int) {
	if attempt < 1 {
		attempt = 1
	}
	due := s.cfg.Clock.Now().Add(s.cfg.Backoff.Delay(attempt))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.queue[key] = &Operation{Key: key, Payload: payload, Attempt: attempt, Due: due, seq: s.seq}
	logging.SyncDebug("Scheduled retry for %s: attempt=%d due=%s", key, attempt, due.Format(time.RFC3339Nano))
}

// Cancel drops any pending retry for key.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queue[key]; ok {
		delete(s.queue, key)
		logging.SyncDebug("Cancelled pending retry for %s", key)
	}
}

// Pending reports whether key has a queued retry.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.queue[key]
	return ok
}

// Len returns the queue depth.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Start runs the periodic tick until Stop or ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop halts the tick loop and waits for it to exit. In-flight attempts
// run to completion.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

// Tick dispatches every due, not-already-in-flight entry. Exported so
// tests can drive the queue with a fake clock instead of real timers.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.cfg.Clock.Now()

	s.mu.Lock()
	var due []*Operation
	for key, op := range s.queue {
		if s.inFlight[key] || op.Due.After(now) {
			continue
		}
		s.inFlight[key] = true
		due = append(due, op)
	}
	s.mu.Unlock()

	for _, op := range due {
		s.dispatch(ctx, *op)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, op Operation) {
	err := s.cfg.Run(ctx, op)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, op.Key)

	current, ok := s.queue[op.Key]
	if !ok || current.seq != op.seq {
		// Cancelled or superseded while running; the newer entry stands.
		return
	}

	if err == nil {
		delete(s.queue, op.Key)
		logging.SyncDebug("Retry succeeded for %s on attempt %d", op.Key, op.Attempt)
		return
	}

	next := op.Attempt + 1
	if next > s.cfg.MaxAttempts {
		delete(s.queue, op.Key)
		logging.SyncDebug("Giving up on %s after %d attempts: %v", op.Key, op.Attempt, err)
		if s.cfg.GiveUp != nil {
			s.cfg.GiveUp(op, err)
		}
		return
	}

	op.Attempt = next
	op.Due = s.cfg.Clock.Now().Add(s.cfg.Backoff.Delay(next))
	s.queue[op.Key] = &op
	logging.SyncDebug("Retry failed for %s (attempt %d), next due %s", op.Key, next-1, op.Due.Format(time.RFC3339Nano))
}
