package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/queue"
)

// progress is how far a job already got relative to one stage.
type progress int

const (
	// progressNone: the stage still has to run.
	progressNone progress = iota
	// progressWritten: the stage's output exists but the hand-off may not have happened.
	progressWritten
	// progressPassed: a later stage already consumed the output.
	progressPassed
)

// JobState is the externally visible view of a job.
type JobState struct {
	JobID     string          `json:"job_id"`
	Status    model.JobStatus `json:"status"`
	Artifacts []string        `json:"artifacts"`
	Brief     *model.Brief    `json:"brief,omitempty"`
}

// Status derives a job's status from its artifacts and the brief table.
func (p *Pipeline) Status(ctx context.Context, jobID string) (*JobState, error) {
	status, present, err := p.status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	st := &JobState{JobID: jobID, Status: status, Artifacts: []string{}}
	for k, ok := range present {
		if ok {
			st.Artifacts = append(st.Artifacts, string(k))
		}
	}
	sort.Strings(st.Artifacts)
	if status == model.JobStatusUploading || status == model.JobStatusComplete {
		b, err := p.c.Briefs.FindByJobID(ctx, nil, jobID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		st.Brief = b
	}
	return st, nil
}

func (p *Pipeline) status(ctx context.Context, jobID string) (model.JobStatus, map[model.ArtifactKind]bool, error) {
	present, err := p.c.Store.Present(ctx, jobID)
	if err != nil {
		return "", nil, fmt.Errorf("list artifacts: %w", err)
	}
	published, err := p.c.Briefs.ExistsForJob(ctx, nil, jobID)
	if err != nil {
		return "", nil, fmt.Errorf("check brief: %w", err)
	}
	return model.DeriveStatus(present, published), present, nil
}

func (p *Pipeline) progressOf(ctx context.Context, jobID string, stage model.Stage) (progress, error) {
	status, present, err := p.status(ctx, jobID)
	if err != nil {
		return progressNone, err
	}
	next, ok := stage.Next()
	if !ok {
		next = stage
	}
	if status.Done(next) {
		return progressPassed, nil
	}
	produced := stage.Produces()
	if len(produced) == 0 {
		return progressNone, nil
	}
	for _, k := range produced {
		if !present[k] {
			return progressNone, nil
		}
	}
	return progressWritten, nil
}

func leaseKey(jobID string, stage model.Stage) string {
	return "lease:" + jobID + ":" + string(stage)
}

// withLease runs fn while holding the (job, stage) lease. A held lease means a
// duplicate delivery is running right now, so this one backs off.
func (p *Pipeline) withLease(ctx context.Context, jobID string, stage model.Stage, fn func(context.Context) queue.Outcome) queue.Outcome {
	if p.c.Locker == nil {
		return fn(ctx)
	}
	ttl := p.cfg.Pipeline.Stage(string(stage)).VisibilityTimeout
	key := leaseKey(jobID, stage)
	token, err := p.c.Locker.TryLock(ctx, key, ttl)
	if err != nil {
		if errors.Is(err, domain.ErrLeaseHeld) {
			return queue.Retry(p.retryDelay(stage), fmt.Errorf("job %s %s: %w", jobID, stage, err))
		}
		return queue.Retry(p.retryDelay(stage), fmt.Errorf("acquire lease: %w", err))
	}
	defer func() {
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaseReleaseTimeout)
		defer cancel()
		if err := p.c.Locker.Unlock(uctx, key, token); err != nil {
			p.log.Warn().Err(err).Str("job_id", jobID).Str("stage", string(stage)).Msg("lease release failed")
		}
	}()
	return fn(ctx)
}

const leaseReleaseTimeout = 5 * time.Second
