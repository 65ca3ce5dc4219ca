package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/queue"
	"policy-brief-pipeline/internal/domain/ports/repository"
	"policy-brief-pipeline/internal/infra/logging"
	"policy-brief-pipeline/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
)

// Publish uploads the audio, commits the Brief row and purges the job's artifacts.
// A job that already has a Brief only gets its leftovers purged.
func (p *Pipeline) Publish(ctx context.Context, d queue.Delivery[model.JobMessage]) queue.Outcome {
	jobID := d.Message.JobID
	if jobID == "" {
		return queue.DeadLetter(fmt.Errorf("%w: publish message without job id", domain.ErrInvalidArgument))
	}
	ctx = logging.WithJobID(ctx, jobID)
	return p.withLease(ctx, jobID, model.StagePublish, func(ctx context.Context) queue.Outcome {
		return p.publish(ctx, jobID)
	})
}

func (p *Pipeline) publish(ctx context.Context, jobID string) queue.Outcome {
	log := logging.With(ctx, p.log)

	exists, err := p.c.Briefs.ExistsForJob(ctx, nil, jobID)
	if err != nil {
		return p.fail(model.StagePublish, err)
	}
	if exists {
		if err := p.purge(ctx, jobID); err != nil {
			return p.fail(model.StagePublish, err)
		}
		metrics.IncStaleDelivery(string(model.StagePublish))
		log.Info().Msg("brief already published, leftovers purged")
		return queue.Ack()
	}

	t, err := p.loadTicket(ctx, jobID)
	if err != nil {
		return p.fail(model.StagePublish, err)
	}
	audio, err := p.requireArtifact(ctx, jobID, model.ArtifactAudio)
	if err != nil {
		return p.fail(model.StagePublish, err)
	}
	if p.c.Storage == nil {
		return p.fail(model.StagePublish, domain.ErrNoProvider)
	}

	duration, ok := wavDuration(audio)
	if !ok {
		duration = estimateDuration(len(strings.Fields(t.Transcript)), p.cfg.TTS.WordsPerMinute)
	}
	if duration <= 0 {
		return p.fail(model.StagePublish, &domain.IntegrityError{JobID: jobID, Kind: string(model.ArtifactAudio), Reason: "has no measurable duration"})
	}

	ext, contentType := audioFormat(audio)
	key := ObjectKey(p.cfg.Storage.KeyPrefix, t, ext)
	start := time.Now()
	url, err := p.c.Storage.PutObject(ctx, key, audio, contentType)
	metrics.ObserveUpstream("storage", "s3", time.Since(start), err == nil)
	if err != nil {
		return p.fail(model.StagePublish, fmt.Errorf("upload audio: %w", err))
	}

	brief := model.NewBrief(t, url, duration, p.now())
	inserted, err := p.insertBrief(ctx, brief)
	if err != nil {
		return p.fail(model.StagePublish, err)
	}
	if inserted {
		metrics.IncBriefPublished(string(brief.Type))
	}
	if err := p.purge(ctx, jobID); err != nil {
		return p.fail(model.StagePublish, err)
	}
	log.Info().Str("audio_url", url).Dur("duration", duration).Bool("inserted", inserted).Msg("brief published")
	return queue.Ack()
}

func (p *Pipeline) insertBrief(ctx context.Context, b *model.Brief) (bool, error) {
	if p.c.TxManager == nil {
		return p.c.Briefs.Insert(ctx, nil, b)
	}
	var inserted bool
	err := p.c.TxManager.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		exists, err := p.c.Briefs.ExistsForJob(ctx, tx, b.JobID)
		if err != nil || exists {
			return err
		}
		inserted, err = p.c.Briefs.Insert(ctx, tx, b)
		return err
	})
	return inserted, err
}

func (p *Pipeline) purge(ctx context.Context, jobID string) error {
	return p.c.Store.Delete(ctx, jobID, model.ArtifactKinds...)
}

// ObjectKey is deterministic per job so a redelivered publish overwrites the same object.
func ObjectKey(prefix string, t *model.JobTicket, ext string) string {
	name := fmt.Sprintf("%s-%s.%s", t.CreatedAt.UTC().Format("20060102T150405Z"), t.JobID, ext)
	return path.Join(strings.Trim(prefix, "/"), t.UserID, name)
}
