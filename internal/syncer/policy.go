package syncer

import (
	"context"
	"fmt"

	"meridian/internal/logging"
	"meridian/internal/types"
)

// Source identifies which side a read result came from.
type Source int

const (
	SourceCache Source = iota
	SourceRemote
)

func (s Source) String() string {
	if s == SourceCache {
		return "cache"
	}
	return "remote"
}

// ReadResult is one element of a policy's result stream: at most one
// intermediate cache value, then exactly one final result (value or
// error), then the channel closes.
type ReadResult struct {
	Entry  *Entry
	Source Source
	Final  bool
	Err    error
}

// Policy is a read-reconciliation strategy. All implementations consult
// both the cache and the remote; they differ in which value settles the
// read and when. On an aborted fetch a policy prefers any value it
// already emitted over surfacing the abort.
type Policy interface {
	Read(ctx context.Context, key string, cache Cache, remote Remote) <-chan ReadResult
}

// results channels are buffered so a policy goroutine never blocks on a
// slow consumer: one intermediate plus one final.
func resultChan() chan ReadResult {
	return make(chan ReadResult, 2)
}

// CacheFirst settles on the cached value when one exists and refreshes
// the cache from the remote afterwards. A cache miss falls through to
// the remote. The channel closes only once the background refresh has
// finished, so callers that care can wait for it.
type CacheFirst struct{}

func (CacheFirst) Read(ctx context.Context, key string, cache Cache, remote Remote) <-chan ReadResult {
	out := resultChan()
	go func() {
		defer close(out)
		cached, cacheErr := cache.Get(ctx, key)
		if cacheErr == nil {
			out <- ReadResult{Entry: cached, Source: SourceCache}
			out <- ReadResult{Entry: cached, Source: SourceCache, Final: true}
			refresh(ctx, key, cache, remote)
			return
		}
		fresh, err := remote.Fetch(ctx, key)
		if err != nil {
			out <- ReadResult{Final: true, Err: readError(key, err, nil)}
			return
		}
		persist(ctx, cache, fresh)
		out <- ReadResult{Entry: fresh, Source: SourceRemote, Final: true}
	}()
	return out
}

// NetworkFirst settles on the remote value and only falls back to the
// cache when the fetch fails or is aborted.
type NetworkFirst struct{}

func (NetworkFirst) Read(ctx context.Context, key string, cache Cache, remote Remote) <-chan ReadResult {
	out := resultChan()
	go func() {
		defer close(out)
		fresh, err := remote.Fetch(ctx, key)
		if err == nil {
			persist(ctx, cache, fresh)
			out <- ReadResult{Entry: fresh, Source: SourceRemote, Final: true}
			return
		}
		if cached, cacheErr := cache.Get(ctx, key); cacheErr == nil {
			logging.SyncDebug("Remote fetch for %s failed, serving cache: %v", key, err)
			out <- ReadResult{Entry: cached, Source: SourceCache, Final: true}
			return
		}
		out <- ReadResult{Final: true, Err: readError(key, err, nil)}
	}()
	return out
}

// NewestWins compares timestamps and settles on whichever side is
// fresher, with ties favoring the local copy. The cached value goes out
// as an intermediate while the remote is consulted.
type NewestWins struct{}

func (NewestWins) Read(ctx context.Context, key string, cache Cache, remote Remote) <-chan ReadResult {
	out := resultChan()
	go func() {
		defer close(out)
		cached, cacheErr := cache.Get(ctx, key)
		if cacheErr == nil {
			out <- ReadResult{Entry: cached, Source: SourceCache}
		}
		fresh, err := remote.Fetch(ctx, key)
		if err != nil {
			if cacheErr == nil {
				out <- ReadResult{Entry: cached, Source: SourceCache, Final: true}
				return
			}
			out <- ReadResult{Final: true, Err: readError(key, err, cacheErr)}
			return
		}
		if cacheErr == nil && !fresh.UpdatedAt.After(cached.UpdatedAt) {
			out <- ReadResult{Entry: cached, Source: SourceCache, Final: true}
			return
		}
		persist(ctx, cache, fresh)
		out <- ReadResult{Entry: fresh, Source: SourceRemote, Final: true}
	}()
	return out
}

// StaleWhileRevalidate emits the cached value immediately as an
// intermediate and always waits for the remote to settle the read. The
// stale copy becomes the final answer only if revalidation fails.
type StaleWhileRevalidate struct{}

func (StaleWhileRevalidate) Read(ctx context.Context, key string, cache Cache, remote Remote) <-chan ReadResult {
	out := resultChan()
	go func() {
		defer close(out)
		cached, cacheErr := cache.Get(ctx, key)
		if cacheErr == nil {
			out <- ReadResult{Entry: cached, Source: SourceCache}
		}
		fresh, err := remote.Fetch(ctx, key)
		if err != nil {
			if cacheErr == nil {
				logging.SyncDebug("Revalidation for %s failed, keeping stale value: %v", key, err)
				out <- ReadResult{Entry: cached, Source: SourceCache, Final: true}
				return
			}
			out <- ReadResult{Final: true, Err: readError(key, err, cacheErr)}
			return
		}
		persist(ctx, cache, fresh)
		out <- ReadResult{Entry: fresh, Source: SourceRemote, Final: true}
	}()
	return out
}

func refresh(ctx context.Context, key string, cache Cache, remote Remote) {
	fresh, err := remote.Fetch(ctx, key)
	if err != nil {
		logging.SyncDebug("Background refresh for %s failed: %v", key, err)
		return
	}
	persist(ctx, cache, fresh)
}

func persist(ctx context.Context, cache Cache, e *Entry) {
	if err := cache.Put(ctx, e); err != nil {
		logging.SyncError("Failed to persist fetched entry %s: %v", e.Key, err)
	}
}

// readError wraps a fully-missed read. A miss on both sides maps to
// ErrNoValue so callers can distinguish "nothing anywhere" from a
// transport failure.
func readError(key string, remoteErr, cacheErr error) error {
	if types.Classify(remoteErr) == types.ClassPermanent && cacheErr != nil {
		return fmt.Errorf("read %s: %w", key, ErrNoValue)
	}
	return fmt.Errorf("read %s: %w", key, remoteErr)
}
