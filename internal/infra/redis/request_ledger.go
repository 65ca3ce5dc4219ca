package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"policy-brief-pipeline/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.RequestLedger = (*RequestLedger)(nil)

// RequestLedger remembers which job a request id produced, so a redelivered
// orchestrate message reuses the job instead of starting a second one.
type RequestLedger struct {
	client RedisClient
}

func NewRequestLedger(client RedisClient) *RequestLedger {
	return &RequestLedger{client: client}
}

func requestKey(requestID string) string { return "request:" + requestID }

func (l *RequestLedger) Remember(ctx context.Context, requestID, jobID string, ttl time.Duration) (string, bool, error) {
	key := requestKey(requestID)
	ok, err := l.client.SetNX(ctx, key, jobID, ttl)
	if err != nil {
		return "", false, fmt.Errorf("remember request: %w", err)
	}
	if ok {
		return jobID, true, nil
	}
	existing, err := l.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET; claim it again
			return l.Remember(ctx, requestID, jobID, ttl)
		}
		return "", false, fmt.Errorf("lookup request: %w", err)
	}
	return existing, false, nil
}
