package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/queue"
	"policy-brief-pipeline/internal/infra/metrics"

	"github.com/google/uuid"
)

// ErrJobStopped is returned by RunInline when a stage acked without handing
// the job on and no brief exists.
var ErrJobStopped = errors.New("job stopped before publish")

// stepFunc runs one stage handler on a raw message body.
type stepFunc func(ctx context.Context, id string, body []byte, attempt int) queue.Outcome

func step[T any](h queue.Handler[T]) stepFunc {
	return func(ctx context.Context, id string, body []byte, attempt int) queue.Outcome {
		var msg T
		if err := json.Unmarshal(body, &msg); err != nil {
			return queue.DeadLetter(fmt.Errorf("decode message: %w", err))
		}
		return h(ctx, queue.Delivery[T]{ID: id, Attempt: attempt, EnqueuedAt: time.Now().UTC(), Message: msg})
	}
}

// RunInline drives one request through every stage in this process, using the
// same handlers as the queue workers. Retry outcomes sleep retryDelay and run
// the stage again until its attempt ceiling.
func (p *Pipeline) RunInline(ctx context.Context, req model.JobRequest, retryDelay time.Duration) (*model.Brief, error) {
	capture := &CaptureDispatcher{}
	ip := p.WithDispatcher(capture)
	steps := map[model.Stage]stepFunc{
		model.StageOrchestrate: step[model.JobRequest](ip.Orchestrate),
		model.StageFetch:       step[model.FetchMessage](ip.Fetch),
		model.StageScript:      step[model.JobMessage](ip.Script),
		model.StageSynthesize:  step[model.JobMessage](ip.Synthesize),
		model.StagePublish:     step[model.JobMessage](ip.Publish),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	stage := model.StageOrchestrate
	jobID := ""
	for {
		out, err := ip.runStage(ctx, steps[stage], stage, body, retryDelay)
		if err != nil {
			return nil, err
		}
		if out.Kind != queue.OutcomeAck {
			return nil, fmt.Errorf("%s: %w", stage, out.Err)
		}
		next, nextBody, ok := capture.Take()
		if !ok {
			break
		}
		if jobID == "" {
			var m model.JobMessage
			if err := json.Unmarshal(nextBody, &m); err == nil {
				jobID = m.JobID
			}
		}
		stage, body = next, nextBody
	}

	if jobID == "" {
		return nil, ErrJobStopped
	}
	b, err := p.c.Briefs.FindByJobID(ctx, nil, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobStopped)
	}
	return b, err
}

func (p *Pipeline) runStage(ctx context.Context, run stepFunc, stage model.Stage, body []byte, retryDelay time.Duration) (queue.Outcome, error) {
	max := p.cfg.Pipeline.Stage(string(stage)).MaxAttempts
	if max <= 0 {
		max = 1
	}
	id := uuid.NewString()
	for attempt := 1; ; attempt++ {
		start := time.Now()
		out := run(ctx, id, body, attempt)
		metrics.ObserveDelivery(string(stage), out.Kind.String(), time.Since(start))
		if out.Kind != queue.OutcomeRetry {
			return out, nil
		}
		if attempt >= max {
			return queue.DeadLetter(fmt.Errorf("max attempts (%d) reached: %w", max, out.Err)), nil
		}
		p.log.Warn().Err(out.Err).Str("stage", string(stage)).Int("attempt", attempt).Msg("inline stage will retry")
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}
