package channels

import (
	"time"

	"github.com/nextlevelbuilder/agentgw/internal/security"
)

// WebhookRateLimiter bounds the number of tracked rate-limit keys to prevent memory
// exhaustion from rotating source keys (DoS). Thin adapter over security.RateLimiter —
// the sliding-window + bounded-key-set logic now lives in one place (internal/security)
// shared with the tool-dispatch rate limiter (C5 step 2).
type WebhookRateLimiter struct {
	inner *security.RateLimiter
}

// NewWebhookRateLimiter creates a bounded webhook rate limiter (30 req / 60s / 4096 keys).
func NewWebhookRateLimiter() *WebhookRateLimiter {
	return &WebhookRateLimiter{inner: security.NewRateLimiter(security.RateLimiterConfig{
		MaxRequests:    30,
		Window:         60 * time.Second,
		MaxTrackedKeys: 4096,
	})}
}

// Allow returns true if the key is within rate limits.
func (r *WebhookRateLimiter) Allow(key string) bool {
	return r.inner.Check(key)
}
