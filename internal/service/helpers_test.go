package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/captchad/captchad/internal/model"
	"github.com/captchad/captchad/internal/store"
)

// testEnv wires the full authorization core against an in-memory store.
type testEnv struct {
	store   *store.Store
	limiter *Limiter
	cache   *Cache
	usage   *Accumulator
	gate    *Gate
	tokens  *Tokens
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.New("")
	if err != nil {
		t.Fatalf("create in-memory store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := NewLimiter()
	cache := NewCache(st, limiter)
	usage := NewAccumulator(st, cache, 0, logger)
	return &testEnv{
		store:   st,
		limiter: limiter,
		cache:   cache,
		usage:   usage,
		gate:    NewGate(cache, limiter, usage),
		tokens:  NewTokens(st, cache, limiter, usage),
	}
}

// seedToken inserts a token directly into the store and refreshes the cache.
func (e *testEnv) seedToken(t *testing.T, value string, minuteLimit, hourLimit *int64) *model.Token {
	t.Helper()
	ctx := context.Background()
	tok := &model.Token{Value: value, Name: "test", MinuteLimit: minuteLimit, HourLimit: hourLimit}
	if err := e.store.Create(ctx, tok); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	if err := e.cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh cache: %v", err)
	}
	return tok
}
