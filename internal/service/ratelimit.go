package service

import (
	"sync"
	"time"
)

// Window names the rate-limit window that rejected a request.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
)

// RateLimitError reports a rejected request and which window rejected it.
type RateLimitError struct {
	Window Window
}

func (e *RateLimitError) Error() string {
	return string(e.Window) + " limit exceeded"
}

// windowState holds the fixed-window counters for one token. Buckets roll
// over lazily: a stale bucket id resets its counter on the next check.
type windowState struct {
	minuteBucket int64
	minuteCount  int64
	hourBucket   int64
	hourCount    int64
}

// Limiter applies per-token fixed-window rate limits (per minute and per
// hour). State is memory-only and rebuilt from zero on restart, so a restart
// resets throttling; the windows are short enough for that to be acceptable.
//
// Fixed windows admit up to 2x the limit across a window boundary. That
// imprecision is accepted: this is an abuse-prevention gate, not a quota
// ledger, and fixed windows keep memory and update cost at O(1) per token.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*windowState
	now     func() time.Time
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		entries: make(map[string]*windowState),
		now:     time.Now,
	}
}

// Allow performs an atomic check-and-increment for the token's current minute
// and hour buckets. A nil limit means unlimited for that window. On rejection
// no counter is advanced.
func (l *Limiter) Allow(secret string, minuteLimit, hourLimit *int64) error {
	now := l.now().Unix()
	minuteBucket := now / 60
	hourBucket := now / 3600

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.entries[secret]
	if !ok {
		st = &windowState{}
		l.entries[secret] = st
	}

	if st.minuteBucket != minuteBucket {
		st.minuteBucket = minuteBucket
		st.minuteCount = 0
	}
	if st.hourBucket != hourBucket {
		st.hourBucket = hourBucket
		st.hourCount = 0
	}

	if minuteLimit != nil && st.minuteCount >= *minuteLimit {
		return &RateLimitError{Window: WindowMinute}
	}
	if hourLimit != nil && st.hourCount >= *hourLimit {
		return &RateLimitError{Window: WindowHour}
	}

	st.minuteCount++
	st.hourCount++
	return nil
}

// Forget drops all window state for one token.
func (l *Limiter) Forget(secret string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, secret)
}

// RetainOnly evicts window state for every token not in valid. Called by the
// cache on refresh so deleted tokens cannot leave counters behind.
func (l *Limiter) RetainOnly(valid map[string]struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for secret := range l.entries {
		if _, ok := valid[secret]; !ok {
			delete(l.entries, secret)
		}
	}
}
