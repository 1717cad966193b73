package service

import "errors"

var (
	// ErrMissingToken means no credential was presented.
	ErrMissingToken = errors.New("missing token")
	// ErrNotConfigured means the service holds no tokens at all; the caller
	// should provision one before anything can authenticate.
	ErrNotConfigured = errors.New("no tokens configured")
	// ErrInvalidToken means the presented secret matches no token.
	ErrInvalidToken = errors.New("invalid token")
)

// Gate is the per-request authorization choke point in front of every
// recognition endpoint. It composes cache lookup, rate limiting, and usage
// recording into a single pass/fail decision; none of its steps touch disk.
type Gate struct {
	cache   *Cache
	limiter *Limiter
	usage   *Accumulator
}

// NewGate wires the gate to its collaborators.
func NewGate(cache *Cache, limiter *Limiter, usage *Accumulator) *Gate {
	return &Gate{cache: cache, limiter: limiter, usage: usage}
}

// Authorize validates a presented secret and, on success, records one use
// and returns the secret as the authenticated identity. Usage is recorded
// only after rate limiting admitted the request, never for rejections.
func (g *Gate) Authorize(secret string) (string, error) {
	if secret == "" {
		return "", ErrMissingToken
	}
	if g.cache.Len() == 0 {
		return "", ErrNotConfigured
	}

	tok, ok := g.cache.LookupByValue(secret)
	if !ok {
		return "", ErrInvalidToken
	}

	if err := g.limiter.Allow(secret, tok.MinuteLimit, tok.HourLimit); err != nil {
		return "", err
	}

	g.usage.Record(secret)
	return secret, nil
}
