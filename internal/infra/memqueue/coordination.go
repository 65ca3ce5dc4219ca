package memqueue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/ports/repository"
)

var (
	_ repository.Locker        = (*Coordinator)(nil)
	_ repository.RequestLedger = (*Coordinator)(nil)
	_ repository.RateLimiter   = (*Coordinator)(nil)
)

type entry struct {
	value   string
	expires time.Time
}

// Coordinator covers leases, the request ledger and the schedule limiter in one map.
type Coordinator struct {
	mu    sync.Mutex
	items map[string]entry
	seq   int
	Now   func() time.Time
}

func NewCoordinator() *Coordinator {
	return &Coordinator{items: map[string]entry{}, Now: time.Now}
}

func (c *Coordinator) getLocked(key string) (entry, bool) {
	e, ok := c.items[key]
	if ok && !e.expires.IsZero() && !e.expires.After(c.Now()) {
		delete(c.items, key)
		return entry{}, false
	}
	return e, ok
}

func (c *Coordinator) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.Now().Add(ttl)
}

func (c *Coordinator) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.getLocked(key); held {
		return "", domain.ErrLeaseHeld
	}
	c.seq++
	token := strconv.Itoa(c.seq)
	c.items[key] = entry{value: token, expires: c.expiry(ttl)}
	return token, nil
}

func (c *Coordinator) Unlock(ctx context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.getLocked(key); ok && e.value == token {
		delete(c.items, key)
	}
	return nil
}

func (c *Coordinator) Remember(ctx context.Context, requestID, jobID string, ttl time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := "request:" + requestID
	if e, ok := c.getLocked(key); ok {
		return e.value, false, nil
	}
	c.items[key] = entry{value: jobID, expires: c.expiry(ttl)}
	return jobID, true, nil
}

func (c *Coordinator) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.getLocked(key)
	n := 0
	if ok {
		n, _ = strconv.Atoi(e.value)
	} else {
		e.expires = c.expiry(window)
	}
	n++
	e.value = strconv.Itoa(n)
	c.items[key] = e
	return n <= limit, nil
}

func (c *Coordinator) Release(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}
