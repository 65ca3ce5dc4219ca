package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/adapter"
	"policy-brief-pipeline/internal/domain/ports/queue"
	"policy-brief-pipeline/internal/infra/logging"
	"policy-brief-pipeline/internal/infra/metrics"

	"golang.org/x/sync/errgroup"
)

// Fetch gathers bills and news for a job. Both lookups must succeed before
// either artifact is written.
func (p *Pipeline) Fetch(ctx context.Context, d queue.Delivery[model.FetchMessage]) queue.Outcome {
	msg := d.Message
	if msg.JobID == "" {
		return queue.DeadLetter(fmt.Errorf("%w: fetch message without job id", domain.ErrInvalidArgument))
	}
	ctx = logging.WithJobID(ctx, msg.JobID)
	return p.withLease(ctx, msg.JobID, model.StageFetch, func(ctx context.Context) queue.Outcome {
		return p.fetch(ctx, msg)
	})
}

func (p *Pipeline) fetch(ctx context.Context, msg model.FetchMessage) queue.Outcome {
	log := logging.With(ctx, p.log)

	prog, err := p.progressOf(ctx, msg.JobID, model.StageFetch)
	if err != nil {
		return p.fail(model.StageFetch, err)
	}
	switch prog {
	case progressPassed:
		metrics.IncStaleDelivery(string(model.StageFetch))
		log.Info().Msg("stale fetch delivery, job already moved on")
		return queue.Ack()
	case progressWritten:
		return p.advance(ctx, model.StageFetch, msg.JobID)
	}

	newsSince, billSince := p.windows(msg.BriefType)

	var (
		bills    []model.Bill
		articles []model.Article
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if p.c.News == nil {
			return domain.ErrNoProvider
		}
		start := time.Now()
		res, err := p.c.News.Search(gctx, adapter.SearchQuery{
			Terms: msg.PolicyInterests,
			Since: newsSince,
			Limit: p.cfg.Fetch.MaxArticles,
		})
		metrics.ObserveUpstream("search", "newsapi", time.Since(start), err == nil)
		if err != nil {
			return fmt.Errorf("news search: %w", err)
		}
		articles = dedupeArticles(res, p.cfg.Fetch.MaxArticles)
		return nil
	})
	g.Go(func() error {
		if p.c.Bills == nil {
			return domain.ErrNoProvider
		}
		res, err := p.c.Bills.FindRecent(gctx, nil, msg.PolicyInterests, billSince, p.cfg.Fetch.MaxBills)
		if err != nil {
			return fmt.Errorf("bill lookup: %w", err)
		}
		bills = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return p.fail(model.StageFetch, err)
	}

	if bills == nil {
		bills = []model.Bill{}
	}
	if articles == nil {
		articles = []model.Article{}
	}
	billsRaw, err := json.Marshal(bills)
	if err != nil {
		return p.fail(model.StageFetch, err)
	}
	newsRaw, err := json.Marshal(articles)
	if err != nil {
		return p.fail(model.StageFetch, err)
	}
	if err := p.c.Store.Put(ctx, msg.JobID, model.ArtifactBills, billsRaw); err != nil {
		return p.fail(model.StageFetch, err)
	}
	if err := p.c.Store.Put(ctx, msg.JobID, model.ArtifactNews, newsRaw); err != nil {
		return p.fail(model.StageFetch, err)
	}
	log.Info().Int("bills", len(bills)).Int("articles", len(articles)).Msg("sources fetched")
	return p.advance(ctx, model.StageFetch, msg.JobID)
}

// windows returns the news and bill look-back starts. Weekly briefs look further back.
func (p *Pipeline) windows(bt model.BriefType) (time.Time, time.Time) {
	news, bills := p.cfg.Fetch.NewsWindow, p.cfg.Fetch.BillWindow
	if bt == model.BriefWeekly && p.cfg.Fetch.WeeklyWindows > 1 {
		news *= time.Duration(p.cfg.Fetch.WeeklyWindows)
		bills *= time.Duration(p.cfg.Fetch.WeeklyWindows)
	}
	now := p.now()
	return now.Add(-news), now.Add(-bills)
}

// advance hands the job to the stage after from and acks.
func (p *Pipeline) advance(ctx context.Context, from model.Stage, jobID string) queue.Outcome {
	if err := p.c.Dispatcher.Advance(ctx, from, model.JobMessage{JobID: jobID}); err != nil {
		return p.fail(from, fmt.Errorf("hand off: %w", err))
	}
	return queue.Ack()
}

func dedupeArticles(in []model.Article, limit int) []model.Article {
	seen := make(map[string]bool, len(in))
	out := make([]model.Article, 0, len(in))
	for _, a := range in {
		key := strings.TrimRight(strings.ToLower(strings.TrimSpace(a.URL)), "/")
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
