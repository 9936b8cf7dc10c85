package server

import (
	"testing"
	"time"
)

func TestRateLimiterGlobalBucketEnforcesBurst(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(RateLimitConfig{GlobalRPS: 0.001, GlobalBurst: 2})

	if !rl.AllowRequest() {
		t.Fatalf("first request should pass")
	}
	if !rl.AllowRequest() {
		t.Fatalf("second request should pass")
	}
	if rl.AllowRequest() {
		t.Fatalf("third request should be rejected once burst is spent")
	}
}

func TestRateLimiterDisabledWhenUnconfigured(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(RateLimitConfig{})
	for i := 0; i < 100; i++ {
		if !rl.AllowRequest() {
			t.Fatalf("unconfigured limiter should never reject")
		}
		allowed, _, err := rl.AllowWebhook("10.0.0.1")
		if err != nil || !allowed {
			t.Fatalf("unconfigured webhook limiter should never reject")
		}
	}
}

func TestRateLimiterWebhookPerIPIsolation(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(RateLimitConfig{WebhookLimit: 2, WebhookWindow: time.Hour})

	for i := 0; i < 2; i++ {
		allowed, _, err := rl.AllowWebhook("10.0.0.1")
		if err != nil {
			t.Fatalf("AllowWebhook: %v", err)
		}
		if !allowed {
			t.Fatalf("event %d from first IP should pass", i+1)
		}
	}
	allowed, retryAfter, err := rl.AllowWebhook("10.0.0.1")
	if err != nil {
		t.Fatalf("AllowWebhook: %v", err)
	}
	if allowed {
		t.Fatalf("third event from first IP should be rejected")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected a retry-after hint, got %v", retryAfter)
	}

	allowed, _, err = rl.AllowWebhook("10.0.0.2")
	if err != nil {
		t.Fatalf("AllowWebhook: %v", err)
	}
	if !allowed {
		t.Fatalf("a different IP should have its own budget")
	}
}

func TestRateLimiterCleansIdleBuckets(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(RateLimitConfig{WebhookLimit: 1, WebhookWindow: time.Millisecond})

	if allowed, _, _ := rl.AllowWebhook("10.0.0.9"); !allowed {
		t.Fatalf("first event should pass")
	}

	rl.webhookMu.Lock()
	rl.webhookBuckets["10.0.0.9"].lastSeen = time.Now().Add(-time.Minute)
	rl.cleanupLocked()
	_, exists := rl.webhookBuckets["10.0.0.9"]
	rl.webhookMu.Unlock()

	if exists {
		t.Fatalf("stale bucket should have been evicted")
	}
}
