// Package ratelimit throttles the HTTP API per client IP with a sliding
// window. Prompt-bearing routes get the tightest budget since each request can
// pop a wallet dialog.
package ratelimit

import (
	"context"
	"time"
)

// Class categorizes endpoints for differentiated limits.
type Class string

const (
	// ClassPrompt covers routes that open a wallet prompt (connect, network, issue).
	ClassPrompt Class = "prompt"
	// ClassVerify covers credential verification.
	ClassVerify Class = "verify"
	// ClassRead covers read-only routes.
	ClassRead Class = "read"
)

// Limit is a request budget per window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// DefaultLimits are per-IP budgets per class.
var DefaultLimits = map[Class]Limit{
	ClassPrompt: {Requests: 10, Window: time.Minute},
	ClassVerify: {Requests: 60, Window: time.Minute},
	ClassRead:   {Requests: 120, Window: time.Minute},
}

// Result is the outcome of one Allow call.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int
}

// Store counts requests per key in a sliding window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

func key(class Class, ip string) string {
	return string(class) + ":" + ip
}

func retryAfter(resetAt, now time.Time) int {
	secs := int(resetAt.Sub(now).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}
