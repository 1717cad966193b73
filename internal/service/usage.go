package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/captchad/captchad/internal/store"
)

// DefaultFlushInterval is how often pending usage increments are written to
// the store when no interval is configured.
const DefaultFlushInterval = 5 * time.Second

// Accumulator batches per-token usage increments in memory and flushes them
// to the store on a fixed interval, converting O(requests) durable writes
// into O(distinct tokens per interval). It owns the authoritative pending
// map; the cache's usage counts are always derived, never bumped in place.
// Up to one interval's worth of counts is lost on a crash.
type Accumulator struct {
	store    *store.Store
	cache    *Cache
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]int64 // secret value -> unflushed increment
}

// NewAccumulator creates an accumulator flushing every interval. Pass zero
// to use DefaultFlushInterval.
func NewAccumulator(st *store.Store, cache *Cache, interval time.Duration, logger *slog.Logger) *Accumulator {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Accumulator{
		store:    st,
		cache:    cache,
		interval: interval,
		logger:   logger,
		pending:  make(map[string]int64),
	}
}

// Record queues one use for the token. Called by the gate only after rate
// limiting admitted the request.
func (a *Accumulator) Record(secret string) {
	a.mu.Lock()
	a.pending[secret]++
	a.mu.Unlock()
}

// Pending returns the unflushed increment for one token, so in-process reads
// can present a count that progresses monotonically between flushes.
func (a *Accumulator) Pending(secret string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending[secret]
}

// Purge discards any unflushed increment for the token. Must be called when
// a token is deleted or its usage reset, so a delayed flush cannot revive a
// removed or zeroed counter.
func (a *Accumulator) Purge(secret string) {
	a.mu.Lock()
	delete(a.pending, secret)
	a.mu.Unlock()
}

// Rename moves any unflushed increment from an old secret value to a new
// one, preserving counts across an admin change of the token value.
func (a *Accumulator) Rename(oldSecret, newSecret string) {
	a.mu.Lock()
	if n := a.pending[oldSecret]; n > 0 {
		a.pending[newSecret] += n
	}
	delete(a.pending, oldSecret)
	a.mu.Unlock()
}

// Flush atomically swaps out the pending map and applies one additive store
// update per token, then refreshes the cache so cached counts reconcile with
// the persisted totals. The refresh runs even when nothing was pending, so a
// token created out of band (the CLI writes straight to the store) is picked
// up within one flush interval. Deltas whose write failed are re-queued and
// retried on the next cycle; a flush never fails the caller.
func (a *Accumulator) Flush(ctx context.Context) {
	a.mu.Lock()
	batch := a.pending
	a.pending = make(map[string]int64)
	a.mu.Unlock()

	for secret, delta := range batch {
		if err := a.store.IncrementUsage(ctx, secret, delta); err != nil {
			a.logger.Warn("usage flush failed, will retry", "delta", delta, "error", err)
			a.mu.Lock()
			a.pending[secret] += delta
			a.mu.Unlock()
		}
	}

	if err := a.cache.Refresh(ctx); err != nil {
		a.logger.Warn("cache refresh after usage flush failed", "error", err)
	}
}

// Run flushes on the configured interval until ctx is cancelled, then
// performs one final flush so a graceful shutdown loses nothing.
func (a *Accumulator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.Flush(context.Background())
			return
		case <-ticker.C:
			a.Flush(ctx)
		}
	}
}
