package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/captchad/captchad/internal/model"
	"github.com/captchad/captchad/internal/store"
)

// ErrDuplicateSecret is returned when an explicitly supplied token value
// collides with an existing token.
var ErrDuplicateSecret = errors.New("token value already in use")

// Tokens orchestrates administrative token mutations. Every mutation writes
// the store first (the atomic boundary) and refreshes the cache only after a
// successful write, so the next gate invocation sees consistent state.
type Tokens struct {
	store   *store.Store
	cache   *Cache
	limiter *Limiter
	usage   *Accumulator
}

// NewTokens wires the token service to its collaborators.
func NewTokens(st *store.Store, cache *Cache, limiter *Limiter, usage *Accumulator) *Tokens {
	return &Tokens{store: st, cache: cache, limiter: limiter, usage: usage}
}

// normalizeLimit maps a requested window limit to storage form: nil or
// non-positive means unlimited.
func normalizeLimit(v *int64) *int64 {
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}

// resolveSecret validates an explicit value or generates a fresh one. A
// generated value is checked against existing tokens; a collision of 256
// random bits is not expected, but the uniqueness guarantee is cheap to keep.
func (t *Tokens) resolveSecret(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		value, err := model.ValidateSecret(explicit)
		if err != nil {
			return "", err
		}
		if _, err := t.store.GetByValue(ctx, value); err == nil {
			return "", ErrDuplicateSecret
		} else if !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
		return value, nil
	}

	for {
		value := model.GenerateSecret()
		_, err := t.store.GetByValue(ctx, value)
		if errors.Is(err, store.ErrNotFound) {
			return value, nil
		}
		if err != nil {
			return "", err
		}
	}
}

// Create inserts a new token. An empty value means generate one; an empty
// name defaults to "Token <id>". The full record, secret included, is
// returned once so the caller can save it.
func (t *Tokens) Create(ctx context.Context, value, name string, minuteLimit, hourLimit *int64) (*model.Token, error) {
	secret, err := t.resolveSecret(ctx, value)
	if err != nil {
		return nil, err
	}

	tok := &model.Token{
		Value:       secret,
		Name:        name,
		MinuteLimit: normalizeLimit(minuteLimit),
		HourLimit:   normalizeLimit(hourLimit),
	}
	if err := t.store.Create(ctx, tok); err != nil {
		return nil, err
	}

	if tok.Name == "" {
		tok.Name = fmt.Sprintf("Token %d", tok.ID)
		if err := t.store.Update(ctx, tok); err != nil {
			return nil, err
		}
	}

	if err := t.cache.Refresh(ctx); err != nil {
		return nil, err
	}
	return tok, nil
}

// Update applies a partial update: nil fields retain their previous values,
// a non-positive limit clears that window to unlimited. Changing the secret
// value migrates any unflushed usage to the new value.
func (t *Tokens) Update(ctx context.Context, id int64, value, name *string, minuteLimit, hourLimit *int64) (*model.Token, error) {
	tok, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	oldSecret := tok.Value
	if value != nil && *value != "" {
		newValue, err := model.ValidateSecret(*value)
		if err != nil {
			return nil, err
		}
		if newValue != oldSecret {
			if _, err := t.store.GetByValue(ctx, newValue); err == nil {
				return nil, ErrDuplicateSecret
			} else if !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			tok.Value = newValue
		}
	}
	if name != nil && *name != "" {
		tok.Name = *name
	}
	if minuteLimit != nil {
		tok.MinuteLimit = normalizeLimit(minuteLimit)
	}
	if hourLimit != nil {
		tok.HourLimit = normalizeLimit(hourLimit)
	}

	if err := t.store.Update(ctx, tok); err != nil {
		return nil, err
	}

	if tok.Value != oldSecret {
		t.usage.Rename(oldSecret, tok.Value)
		t.limiter.Forget(oldSecret)
	}

	if err := t.cache.Refresh(ctx); err != nil {
		return nil, err
	}
	return tok, nil
}

// Delete removes a token and purges its in-flight rate-limit state and any
// unflushed usage, so a delayed flush cannot resurrect the counters of a
// deleted token.
func (t *Tokens) Delete(ctx context.Context, id int64) error {
	tok, err := t.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := t.store.Delete(ctx, id); err != nil {
		return err
	}
	t.usage.Purge(tok.Value)
	t.limiter.Forget(tok.Value)
	return t.cache.Refresh(ctx)
}

// ResetUsage zeroes a token's usage count. The pending increment is purged
// before the store write: the other order would let a delayed flush re-add
// stale counts after the reset.
func (t *Tokens) ResetUsage(ctx context.Context, id int64) error {
	tok, err := t.store.Get(ctx, id)
	if err != nil {
		return err
	}

	t.usage.Purge(tok.Value)
	if err := t.store.ResetUsage(ctx, id); err != nil {
		return err
	}
	return t.cache.Refresh(ctx)
}

// List returns all tokens with secrets masked and the unflushed usage delta
// folded into each count, so in-process views progress monotonically.
func (t *Tokens) List() []model.Token {
	tokens := t.cache.List()
	for i := range tokens {
		tokens[i].UsageCount += t.usage.Pending(tokens[i].Value)
		tokens[i] = tokens[i].Masked()
	}
	return tokens
}

// Get returns the full record for one token, pending usage included. Used by
// the admin edit flow, which needs the unmasked secret.
func (t *Tokens) Get(ctx context.Context, id int64) (*model.Token, error) {
	tok, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tok.UsageCount += t.usage.Pending(tok.Value)
	return tok, nil
}

// Status reports provisioning state for the public status endpoint.
func (t *Tokens) Status() model.StatusResponse {
	n := t.cache.Len()
	return model.StatusResponse{Configured: n > 0, TokenCount: n}
}
