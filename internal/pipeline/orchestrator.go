package pipeline

import (
	"context"
	"fmt"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/queue"
	"policy-brief-pipeline/internal/infra/logging"
	"policy-brief-pipeline/internal/infra/metrics"

	"github.com/oklog/ulid/v2"
)

// Orchestrate opens a job for a request: it writes the metadata artifact and
// queues the fetch. The delivery is acked only after the fetch is queued.
func (p *Pipeline) Orchestrate(ctx context.Context, d queue.Delivery[model.JobRequest]) queue.Outcome {
	req := d.Message
	if err := p.validate.Struct(req); err != nil {
		return queue.DeadLetter(fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
	}

	jobID := ulid.Make().String()
	known := false
	if req.RequestID != "" && p.c.Ledger != nil && !req.ForceRegenerate {
		id, fresh, err := p.c.Ledger.Remember(ctx, req.RequestID, jobID, p.cfg.Redis.RequestTTL)
		if err != nil {
			return p.fail(model.StageOrchestrate, err)
		}
		jobID, known = id, !fresh
	}

	ctx = logging.WithJobID(ctx, jobID)
	log := logging.With(ctx, p.log)

	if known {
		prog, err := p.progressOf(ctx, jobID, model.StageOrchestrate)
		if err != nil {
			return p.fail(model.StageOrchestrate, err)
		}
		if prog == progressPassed {
			metrics.IncStaleDelivery(string(model.StageOrchestrate))
			log.Info().Str("request_id", req.RequestID).Msg("request already in progress")
			return queue.Ack()
		}
		t, err := p.loadTicket(ctx, jobID)
		switch {
		case err == nil:
			if err := p.c.Dispatcher.Advance(ctx, model.StageOrchestrate, t.FetchMessage()); err != nil {
				return p.fail(model.StageOrchestrate, fmt.Errorf("queue fetch: %w", err))
			}
			log.Info().Str("request_id", req.RequestID).Msg("request redelivered, fetch queued again")
			return queue.Ack()
		case !domain.IsIntegrity(err):
			return p.fail(model.StageOrchestrate, err)
		}
		// the id was reserved but the metadata never landed; open it now
	}

	t := model.NewJobTicket(jobID, req, p.now())
	if err := p.saveTicket(ctx, t); err != nil {
		return p.fail(model.StageOrchestrate, err)
	}
	if err := p.c.Dispatcher.Advance(ctx, model.StageOrchestrate, t.FetchMessage()); err != nil {
		return p.fail(model.StageOrchestrate, fmt.Errorf("queue fetch: %w", err))
	}
	log.Info().Str("user_id", t.UserID).Str("brief_type", string(t.BriefType)).Strs("interests", t.PolicyInterests).Msg("job opened")
	return queue.Ack()
}
