package handlers

import (
	"testing"
	"time"
)

func TestIdentityRateLimiterWindowRollover(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	limiter := newIdentityRateLimiter(2, time.Minute, clock)

	if !limiter.Allow("shopper-1") || !limiter.Allow("shopper-1") {
		t.Fatal("expected first two attempts to pass")
	}
	if limiter.Allow("shopper-1") {
		t.Fatal("expected third attempt inside the window to be rejected")
	}
	if !limiter.Allow("shopper-2") {
		t.Fatal("expected a different identity to have its own budget")
	}

	now = now.Add(61 * time.Second)
	if !limiter.Allow("shopper-1") {
		t.Fatal("expected the budget to reset after the window")
	}
}

func TestIdentityRateLimiterBlankKeyCountsAsAnonymous(t *testing.T) {
	limiter := newIdentityRateLimiter(1, time.Minute, nil)

	if !limiter.Allow("") {
		t.Fatal("expected first anonymous attempt to pass")
	}
	if limiter.Allow("  ") {
		t.Fatal("expected blank keys to share the anonymous budget")
	}
}

func TestIdentityRateLimiterDisabled(t *testing.T) {
	if limiter := newIdentityRateLimiter(0, time.Minute, nil); limiter != nil {
		t.Fatal("expected non-positive limit to disable the limiter")
	}
	var limiter *identityRateLimiter
	if !limiter.Allow("shopper-1") {
		t.Fatal("expected nil limiter to allow everything")
	}
}
