package handlers

import (
	"strings"
	"sync"
	"time"

	"github.com/tradeyard/checkout-api/internal/platform/auth"
)

// identityRateLimiter caps how often a single identity may start or
// confirm a checkout inside a fixed window. Counters live in memory;
// each instance guards one API process.
type identityRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]rateBucket
}

type rateBucket struct {
	count   int
	resetAt time.Time
}

func newIdentityRateLimiter(limit int, window time.Duration, clock func() time.Time) *identityRateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &identityRateLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		buckets: make(map[string]rateBucket),
	}
}

// Allow reports whether the identity may proceed and counts the attempt.
func (l *identityRateLimiter) Allow(identityKey string) bool {
	if l == nil {
		return true
	}
	identityKey = strings.TrimSpace(identityKey)
	if identityKey == "" {
		identityKey = auth.AnonymousKey
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[identityKey]
	if !ok || now.After(bucket.resetAt) {
		l.buckets[identityKey] = rateBucket{count: 1, resetAt: now.Add(l.window)}
		l.dropExpiredLocked(now)
		return true
	}

	if bucket.count >= l.limit {
		return false
	}
	bucket.count++
	l.buckets[identityKey] = bucket
	return true
}

func (l *identityRateLimiter) dropExpiredLocked(now time.Time) {
	for key, bucket := range l.buckets {
		if now.After(bucket.resetAt) {
			delete(l.buckets, key)
		}
	}
}
