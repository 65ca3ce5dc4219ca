package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"policy-brief-pipeline/internal/config"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/repository"
	"policy-brief-pipeline/internal/usecase"
)

func testSchedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{DedupeWindow: 20 * time.Hour, WeeklyDay: "sunday", PageSize: 2}
}

func subscribers(n int) []*model.Subscriber {
	out := make([]*model.Subscriber, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &model.Subscriber{
			ID:              fmt.Sprintf("user-%d", i),
			Email:           fmt.Sprintf("user-%d@example.com", i),
			PolicyInterests: []string{"housing"},
			State:           "CA",
		})
	}
	return out
}

func TestScheduleUseCase(t *testing.T) {
	ctx := context.Background()
	monday := time.Date(2026, 10, 12, 6, 0, 0, 0, time.UTC)
	sunday := time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)

	t.Run("should enqueue one daily request per subscriber across pages", func(t *testing.T) {
		// --- Arrange ---
		q := &MockRequestQueue{}
		uc := usecase.NewScheduleUseCase(pagedSubscribers(subscribers(5)), NewMockRateLimiter(), q, testSchedulerConfig(), newTestLogger())

		// --- Act ---
		rep, err := uc.RunOnce(ctx, monday)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if rep.Scanned != 5 || rep.Enqueued != 5 {
			t.Errorf("unexpected report %+v", rep)
		}
		if len(q.Sent) != 5 {
			t.Fatalf("expected 5 requests, got %d", len(q.Sent))
		}
		first := q.Sent[0]
		if first.BriefType != model.BriefDaily || first.RequestID != "sched:daily:user-0:2026-10-12" {
			t.Errorf("unexpected request %+v", first)
		}
		if first.Location == nil || first.Location.State != "CA" {
			t.Error("expected location to be carried over")
		}
	})

	t.Run("should add weekly requests on the weekly day", func(t *testing.T) {
		q := &MockRequestQueue{}
		uc := usecase.NewScheduleUseCase(pagedSubscribers(subscribers(1)), NewMockRateLimiter(), q, testSchedulerConfig(), newTestLogger())

		if _, err := uc.RunOnce(ctx, sunday); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if len(q.Sent) != 2 || q.Sent[1].BriefType != model.BriefWeekly {
			t.Fatalf("expected daily and weekly requests, got %+v", q.Sent)
		}
	})

	t.Run("should skip subscribers already scheduled in the window", func(t *testing.T) {
		q := &MockRequestQueue{}
		limiter := NewMockRateLimiter()
		uc := usecase.NewScheduleUseCase(pagedSubscribers(subscribers(3)), limiter, q, testSchedulerConfig(), newTestLogger())

		if _, err := uc.RunOnce(ctx, monday); err != nil {
			t.Fatalf("first pass: %v", err)
		}
		rep, err := uc.RunOnce(ctx, monday.Add(time.Hour))
		if err != nil {
			t.Fatalf("second pass: %v", err)
		}
		if rep.Skipped != 3 || rep.Enqueued != 0 {
			t.Errorf("expected every subscriber skipped, got %+v", rep)
		}
		if len(q.Sent) != 3 {
			t.Errorf("expected 3 requests in total, got %d", len(q.Sent))
		}
		if limiter.Keys[0] != model.ScheduleKey("user-0", model.BriefDaily) {
			t.Errorf("unexpected limiter key %q", limiter.Keys[0])
		}
	})

	t.Run("should skip subscribers without interests", func(t *testing.T) {
		subs := subscribers(2)
		subs[1].PolicyInterests = nil
		q := &MockRequestQueue{}
		uc := usecase.NewScheduleUseCase(pagedSubscribers(subs), nil, q, testSchedulerConfig(), newTestLogger())

		rep, err := uc.RunOnce(ctx, monday)
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if rep.Enqueued != 1 || rep.Skipped != 1 {
			t.Errorf("unexpected report %+v", rep)
		}
	})

	t.Run("should keep going when one send fails", func(t *testing.T) {
		boom := errors.New("broker down")
		q := &MockRequestQueue{SendFunc: func(ctx context.Context, req model.JobRequest) error {
			if req.UserID == "user-1" {
				return boom
			}
			return nil
		}}
		uc := usecase.NewScheduleUseCase(pagedSubscribers(subscribers(3)), nil, q, testSchedulerConfig(), newTestLogger())

		rep, err := uc.RunOnce(ctx, monday)
		if !errors.Is(err, usecase.ErrEnqueue) || !errors.Is(err, boom) {
			t.Fatalf("expected enqueue error, got %v", err)
		}
		if rep.Enqueued != 2 || rep.Failed != 1 {
			t.Errorf("unexpected report %+v", rep)
		}
	})

	t.Run("should release the window when a send fails", func(t *testing.T) {
		limiter := NewMockRateLimiter()
		fail := true
		q := &MockRequestQueue{SendFunc: func(ctx context.Context, req model.JobRequest) error {
			if fail {
				return errors.New("broker down")
			}
			return nil
		}}
		uc := usecase.NewScheduleUseCase(pagedSubscribers(subscribers(1)), limiter, q, testSchedulerConfig(), newTestLogger())

		if _, err := uc.RunOnce(ctx, monday); err == nil {
			t.Fatal("expected enqueue error")
		}
		if len(limiter.Released) != 1 || limiter.Released[0] != model.ScheduleKey("user-0", model.BriefDaily) {
			t.Fatalf("released = %v", limiter.Released)
		}

		fail = false
		rep, err := uc.RunOnce(ctx, monday)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rep.Enqueued != 1 {
			t.Errorf("retry pass should enqueue, got %+v", rep)
		}
	})

	t.Run("should return repository errors", func(t *testing.T) {
		repo := &MockSubscriberRepo{}
		repo.ListEligibleFunc = func(ctx context.Context, _ repository.Tx, bt model.BriefType, offset, limit int) ([]*model.Subscriber, error) {
			return nil, errors.New("db down")
		}
		uc := usecase.NewScheduleUseCase(repo, nil, &MockRequestQueue{}, testSchedulerConfig(), newTestLogger())
		if _, err := uc.RunOnce(ctx, monday); err == nil {
			t.Fatal("expected an error")
		}
	})
}

func TestDueTypes(t *testing.T) {
	cfg := testSchedulerConfig()
	sunday := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	if got := usecase.DueTypes(cfg, sunday); len(got) != 2 {
		t.Errorf("expected daily and weekly on sunday, got %v", got)
	}
	cfg.DisableWeekly = true
	if got := usecase.DueTypes(cfg, sunday); len(got) != 1 {
		t.Errorf("expected only daily when weekly is disabled, got %v", got)
	}
}
