// Package syncer is the optimistic local-first persistence layer. Every
// mutating call lands in the durable local cache synchronously, then
// makes exactly one remote write; transient failures go to the retry
// queue, conflicts surface with a fresh rehydration, and permanent
// failures leave the local copy intact but flagged unsynced. Reads go
// through pluggable reconciliation policies that race the cache against
// the remote.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meridian/internal/logging"
	"meridian/internal/retry"
	"meridian/internal/store"
	"meridian/internal/types"
)

// ErrNoValue is returned by reads when neither the cache nor the remote
// has an entry for the key.
var ErrNoValue = errors.New("no value available")

// Entry is the unit the coordinator moves between cache and remote.
// Value is the AI draft text; Clear marks a write that closes the draft
// instead of advancing it, and CloseAccepted names the terminal state
// the closed session lands in. BaseRev is the CAS token captured at the
// last hydration; Rev is the remote's stored revision.
type Entry struct {
	Key           string
	Value         string
	Clear         bool
	CloseAccepted bool
	Rev           int
	BaseRev       int
	UpdatedAt     time.Time
	Unsynced      bool
}

func (e *Entry) clone() *Entry {
	c := *e
	return &c
}

// Cache is the durable local side. Get returns types.ErrNotFound on a
// miss. Put overwrites unconditionally; the cache never does CAS, that
// is the remote's job.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, e *Entry) error
}

// Remote is the authoritative side. Push must reject a stale BaseRev
// with a revision conflict rather than overwrite, and returns the
// stored entry with its advanced revision on success.
type Remote interface {
	Fetch(ctx context.Context, key string) (*Entry, error)
	Push(ctx context.Context, e *Entry) (*Entry, error)
}

// Coordinator wires a cache, a remote and a retry scheduler into the
// save/read surface the rest of the system uses.
type Coordinator struct {
	cache  Cache
	remote Remote
	sched  *retry.Scheduler
}

// NewCoordinator builds a coordinator. The scheduler's Run and GiveUp
// hooks are owned here; callers provide clock/backoff/limits.
func NewCoordinator(cache Cache, remote Remote, cfg retry.Config) *Coordinator {
	c := &Coordinator{cache: cache, remote: remote}
	cfg.Run = c.retryPush
	cfg.GiveUp = c.giveUp
	c.sched = retry.NewScheduler(cfg)
	return c
}

// Start launches the retry tick loop.
func (c *Coordinator) Start(ctx context.Context) { c.sched.Start(ctx) }

// Stop halts the retry tick loop.
func (c *Coordinator) Stop() { c.sched.Stop() }

// Scheduler exposes the owned retry queue for tests driving Tick.
func (c *Coordinator) Scheduler() *retry.Scheduler { return c.sched }

// Save applies the write to the local cache synchronously, then makes
// exactly one remote push. A transient push failure schedules a retry
// and reports success to the caller (the local copy is safe and the
// queue owns reconciliation). A conflict rehydrates the cache and
// surfaces the revision error so the caller can rebase. An aborted push
// never enters the retry queue. Any other failure flags the cached
// entry unsynced and surfaces the error.
func (c *Coordinator) Save(ctx context.Context, e *Entry) error {
	local := e.clone()
	local.UpdatedAt = time.Now()
	if err := c.cache.Put(ctx, local); err != nil {
		return fmt.Errorf("cache write for %s: %w", e.Key, err)
	}

	// The newest write always supersedes whatever retry was pending.
	c.sched.Cancel(e.Key)

	stored, err := c.remote.Push(ctx, e)
	if err == nil {
		stored.UpdatedAt = time.Now()
		if cerr := c.cache.Put(ctx, stored); cerr != nil {
			return fmt.Errorf("cache sync for %s: %w", e.Key, cerr)
		}
		return nil
	}

	switch types.Classify(err) {
	case types.ClassTransient:
		logging.SyncDebug("Push for %s transient, queueing retry: %v", e.Key, err)
		c.sched.Schedule(e.Key, e.clone(), 1)
		return nil
	case types.ClassConflict:
		if fresh, ferr := c.remote.Fetch(ctx, e.Key); ferr == nil {
			fresh.UpdatedAt = time.Now()
			if cerr := c.cache.Put(ctx, fresh); cerr != nil {
				logging.SyncError("Rehydration cache write for %s failed: %v", e.Key, cerr)
			}
		}
		return fmt.Errorf("push for %s: %w", e.Key, err)
	case types.ClassAborted:
		return err
	default:
		c.flagUnsynced(e.Key)
		return fmt.Errorf("push for %s: %w", e.Key, err)
	}
}

// CloseDraft clears the remote draft tracking for key, carrying the CAS
// token from the last hydration and the polarity the session resolves
// with. Used when hunk resolution leaves zero hunks so a reopened
// document does not show a stale session.
func (c *Coordinator) CloseDraft(ctx context.Context, key string, baseRev int, accepted bool) error {
	return c.Save(ctx, &Entry{Key: key, Clear: true, CloseAccepted: accepted, BaseRev: baseRev})
}

// Read runs the given reconciliation policy for key. The returned
// channel delivers at most one intermediate cache value followed by
// exactly one final result, then closes.
func (c *Coordinator) Read(ctx context.Context, key string, p Policy) <-chan ReadResult {
	return p.Read(ctx, key, c.cache, c.remote)
}

// retryPush is the scheduler's Run hook: repeat the remote push for a
// queued entry. A conflict during a retry stops retrying; the cached
// copy stays flagged unsynced until the owner rebases and saves again.
func (c *Coordinator) retryPush(ctx context.Context, op retry.Operation) error {
	e := op.Payload.(*Entry)
	stored, err := c.remote.Push(ctx, e)
	if err == nil {
		stored.UpdatedAt = time.Now()
		if cerr := c.cache.Put(ctx, stored); cerr != nil {
			logging.SyncError("Cache sync after retried push for %s failed: %v", e.Key, cerr)
		}
		return nil
	}
	if types.Retryable(err) {
		return err
	}
	logging.SyncDebug("Retry for %s hit a non-retryable error, dropping: %v", e.Key, err)
	c.flagUnsynced(e.Key)
	return nil
}

func (c *Coordinator) giveUp(op retry.Operation, err error) {
	e := op.Payload.(*Entry)
	logging.SyncError("Giving up on %s after %d attempts: %v", e.Key, op.Attempt, err)
	c.flagUnsynced(e.Key)
}

// flagUnsynced marks the cached entry as diverged from the remote. The
// local copy is never dropped; a later Save or manual resync clears it.
func (c *Coordinator) flagUnsynced(key string) {
	ctx := context.Background()
	e, err := c.cache.Get(ctx, key)
	if err != nil {
		return
	}
	e.Unsynced = true
	if err := c.cache.Put(ctx, e); err != nil {
		logging.SyncError("Failed to flag %s unsynced: %v", key, err)
	}
}

// DocumentRemote adapts the document store to the Remote interface so
// the coordinator's CAS and rehydration semantics run against the same
// ai_version_rev the store enforces.
type DocumentRemote struct {
	Store *store.LocalStore
}

func (r *DocumentRemote) Fetch(ctx context.Context, key string) (*Entry, error) {
	doc, err := r.Store.GetDocument(ctx, key)
	if err != nil {
		return nil, err
	}
	e := &Entry{Key: key, Rev: doc.AIVersionRev, BaseRev: doc.AIVersionRev, UpdatedAt: doc.UpdatedAt}
	if doc.AIVersion != nil {
		e.Value = *doc.AIVersion
	} else {
		e.Clear = true
	}
	return e, nil
}

func (r *DocumentRemote) Push(ctx context.Context, e *Entry) (*Entry, error) {
	req := store.UpdateDocumentRequest{AIVersionBaseRev: e.BaseRev}
	if e.Clear {
		req.AIVersion = store.OptionalAIVersion{Present: true}
		req.CloseStatus = types.StatusRejected
		if e.CloseAccepted {
			req.CloseStatus = types.StatusAccepted
		}
	} else {
		v := e.Value
		req.AIVersion = store.OptionalAIVersion{Present: true, Value: &v}
	}
	doc, err := r.Store.UpdateDocument(ctx, e.Key, req)
	if err != nil {
		return nil, err
	}
	stored := &Entry{Key: e.Key, Value: e.Value, Clear: e.Clear, Rev: doc.AIVersionRev, BaseRev: doc.AIVersionRev, UpdatedAt: doc.UpdatedAt}
	return stored, nil
}
