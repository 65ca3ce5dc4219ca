package repository

import (
	"context"
	"time"
)

// Locker grants short exclusive leases, used to keep duplicate deliveries of the
// same (job, stage) from running concurrently.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// RequestLedger maps an external request id to the job created for it.
type RequestLedger interface {
	// Remember stores jobID for requestID unless a mapping exists.
	// It returns the job id in effect and whether this call created it.
	Remember(ctx context.Context, requestID, jobID string, ttl time.Duration) (string, bool, error)
}

// RateLimiter is a fixed-window limiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Release forgets the current window of key.
	Release(ctx context.Context, key string) error
}
