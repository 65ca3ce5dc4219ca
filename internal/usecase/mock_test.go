package usecase_test

import (
	"context"
	"io"
	"sync"
	"time"

	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// --- Mock SubscriberRepository

type MockSubscriberRepo struct {
	ListEligibleFunc func(ctx context.Context, tx repository.Tx, bt model.BriefType, offset, limit int) ([]*model.Subscriber, error)
}

func (m *MockSubscriberRepo) ListEligible(ctx context.Context, tx repository.Tx, bt model.BriefType, offset, limit int) ([]*model.Subscriber, error) {
	if m.ListEligibleFunc != nil {
		return m.ListEligibleFunc(ctx, tx, bt, offset, limit)
	}
	return nil, nil
}

// pagedSubscribers serves subs in pages, the same list for every brief type.
func pagedSubscribers(subs []*model.Subscriber) *MockSubscriberRepo {
	return &MockSubscriberRepo{
		ListEligibleFunc: func(ctx context.Context, tx repository.Tx, bt model.BriefType, offset, limit int) ([]*model.Subscriber, error) {
			if offset >= len(subs) {
				return nil, nil
			}
			end := offset + limit
			if end > len(subs) {
				end = len(subs)
			}
			return subs[offset:end], nil
		},
	}
}

// --- Mock RateLimiter

type MockRateLimiter struct {
	mu       sync.Mutex
	counts   map[string]int
	Keys     []string
	Released []string
}

func NewMockRateLimiter() *MockRateLimiter {
	return &MockRateLimiter{counts: map[string]int{}}
}

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	m.Keys = append(m.Keys, key)
	return m.counts[key] <= limit, nil
}

func (m *MockRateLimiter) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, key)
	m.Released = append(m.Released, key)
	return nil
}

// --- Mock request queue

type MockRequestQueue struct {
	mu       sync.Mutex
	Sent     []model.JobRequest
	SendFunc func(ctx context.Context, req model.JobRequest) error
}

func (m *MockRequestQueue) Send(ctx context.Context, req model.JobRequest) error {
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, req); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, req)
	return nil
}
