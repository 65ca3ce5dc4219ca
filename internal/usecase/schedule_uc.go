package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"policy-brief-pipeline/internal/config"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/queue"
	"policy-brief-pipeline/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ ScheduleUseCase = (*scheduleUC)(nil)

type ScheduleUseCase interface {
	// RunOnce emits one job request per eligible subscriber and brief type due at now.
	RunOnce(ctx context.Context, now time.Time) (ScheduleReport, error)
}

// ScheduleReport summarises one scheduling pass.
type ScheduleReport struct {
	Scanned  int `json:"scanned"`
	Enqueued int `json:"enqueued"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

type scheduleUC struct {
	subs     repository.SubscriberRepository
	limiter  repository.RateLimiter
	requests queue.Queue[model.JobRequest]
	cfg      config.SchedulerConfig
	log      *zerolog.Logger
}

func NewScheduleUseCase(
	subs repository.SubscriberRepository,
	limiter repository.RateLimiter,
	requests queue.Queue[model.JobRequest],
	cfg config.SchedulerConfig,
	logger *zerolog.Logger,
) *scheduleUC {
	return &scheduleUC{subs: subs, limiter: limiter, requests: requests, cfg: cfg, log: logger}
}

// DueTypes returns the brief types to schedule on the given day.
func DueTypes(cfg config.SchedulerConfig, now time.Time) []model.BriefType {
	types := []model.BriefType{model.BriefDaily}
	if !cfg.DisableWeekly && strings.EqualFold(now.Weekday().String(), strings.TrimSpace(cfg.WeeklyDay)) {
		types = append(types, model.BriefWeekly)
	}
	return types
}

func (s *scheduleUC) RunOnce(ctx context.Context, now time.Time) (ScheduleReport, error) {
	var rep ScheduleReport
	pageSize := s.cfg.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}

	var firstErr error
	for _, bt := range DueTypes(s.cfg, now) {
		for offset := 0; ; offset += pageSize {
			page, err := s.subs.ListEligible(ctx, repository.NoTX, bt, offset, pageSize)
			if err != nil {
				return rep, fmt.Errorf("list %s subscribers: %w", bt, err)
			}
			for _, sub := range page {
				rep.Scanned++
				sent, err := s.schedule(ctx, sub, bt, now)
				switch {
				case err != nil:
					rep.Failed++
					if firstErr == nil {
						firstErr = err
					}
					s.log.Error().Err(err).Str("user_id", sub.ID).Str("brief_type", string(bt)).Msg("schedule failed")
				case sent:
					rep.Enqueued++
				default:
					rep.Skipped++
				}
			}
			if len(page) < pageSize {
				break
			}
		}
	}

	s.log.Info().
		Int("scanned", rep.Scanned).
		Int("enqueued", rep.Enqueued).
		Int("skipped", rep.Skipped).
		Int("failed", rep.Failed).
		Msg("schedule pass finished")
	return rep, firstErr
}

func (s *scheduleUC) schedule(ctx context.Context, sub *model.Subscriber, bt model.BriefType, now time.Time) (bool, error) {
	if len(sub.PolicyInterests) == 0 {
		return false, nil
	}
	key := model.ScheduleKey(sub.ID, bt)
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, key, 1, s.window(bt))
		if err != nil {
			return false, fmt.Errorf("rate limit: %w", err)
		}
		if !ok {
			return false, nil
		}
	}
	req := model.JobRequest{
		RequestID:       model.ScheduledRequestID(sub.ID, bt, now),
		UserID:          sub.ID,
		UserEmail:       sub.Email,
		PolicyInterests: sub.PolicyInterests,
		Location:        sub.Location(),
		BriefType:       bt,
	}
	if err := s.requests.Send(ctx, req); err != nil {
		// give the window back so the next pass tries again
		if s.limiter != nil {
			if rerr := s.limiter.Release(ctx, key); rerr != nil {
				s.log.Warn().Err(rerr).Str("key", key).Msg("release schedule window failed")
			}
		}
		return false, errors.Join(ErrEnqueue, err)
	}
	return true, nil
}

// window is the minimum spacing between two briefs of a type for one user.
func (s *scheduleUC) window(bt model.BriefType) time.Duration {
	w := s.cfg.DedupeWindow
	if w <= 0 {
		w = 20 * time.Hour
	}
	if bt == model.BriefWeekly {
		w *= 7
	}
	return w
}

var ErrEnqueue = errors.New("enqueue job request")
