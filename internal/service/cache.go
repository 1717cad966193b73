package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/captchad/captchad/internal/model"
	"github.com/captchad/captchad/internal/store"
)

// Cache is an in-memory mirror of the token store serving the hot
// authorization path without per-request disk I/O. It is refreshed
// synchronously after every administrative mutation and after each usage
// flush; between refreshes it may lag the store by up to one flush interval.
type Cache struct {
	store   *store.Store
	limiter *Limiter

	// refreshMu serializes Refresh end to end, store read included. Without
	// it two in-flight refreshes could swap their snapshots out of order and
	// reinstate a token deleted between their reads.
	refreshMu sync.Mutex

	mu     sync.RWMutex
	tokens []model.Token
	index  map[string]int // secret value -> position in tokens
}

// NewCache creates an empty cache. Call Refresh before first use. The limiter
// is notified on refresh so window state for deleted tokens is evicted.
func NewCache(st *store.Store, limiter *Limiter) *Cache {
	return &Cache{
		store:   st,
		limiter: limiter,
		index:   make(map[string]int),
	}
}

// Refresh replaces the snapshot with the current store contents and rebuilds
// the secret index. Refreshes are mutually exclusive with each other, so the
// snapshot installed last is always the one read last from the store; the
// swap itself is atomic with respect to readers, and readers only contend on
// the short content lock.
func (c *Cache) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	tokens, err := c.store.List(ctx)
	if err != nil {
		return fmt.Errorf("refresh token cache: %w", err)
	}

	index := make(map[string]int, len(tokens))
	valid := make(map[string]struct{}, len(tokens))
	for i, t := range tokens {
		index[t.Value] = i
		valid[t.Value] = struct{}{}
	}

	c.mu.Lock()
	c.tokens = tokens
	c.index = index
	c.mu.Unlock()

	if c.limiter != nil {
		c.limiter.RetainOnly(valid)
	}
	return nil
}

// LookupByValue returns a copy of the token with the given secret value.
func (c *Cache) LookupByValue(value string) (model.Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[value]
	if !ok {
		return model.Token{}, false
	}
	return c.tokens[i], true
}

// List returns an independent copy of all cached tokens.
func (c *Cache) List() []model.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Token, len(c.tokens))
	copy(out, c.tokens)
	return out
}

// Len returns the number of cached tokens.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tokens)
}
