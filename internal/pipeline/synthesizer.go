package pipeline

import (
	"context"
	"fmt"
	"time"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/adapter"
	"policy-brief-pipeline/internal/domain/ports/queue"
	"policy-brief-pipeline/internal/infra/logging"
	"policy-brief-pipeline/internal/infra/metrics"
)

// Synthesize renders the whole script with one multi-voice TTS call.
func (p *Pipeline) Synthesize(ctx context.Context, d queue.Delivery[model.JobMessage]) queue.Outcome {
	jobID := d.Message.JobID
	if jobID == "" {
		return queue.DeadLetter(fmt.Errorf("%w: synthesize message without job id", domain.ErrInvalidArgument))
	}
	ctx = logging.WithJobID(ctx, jobID)
	return p.withLease(ctx, jobID, model.StageSynthesize, func(ctx context.Context) queue.Outcome {
		return p.synthesize(ctx, jobID)
	})
}

func (p *Pipeline) synthesize(ctx context.Context, jobID string) queue.Outcome {
	log := logging.With(ctx, p.log)

	prog, err := p.progressOf(ctx, jobID, model.StageSynthesize)
	if err != nil {
		return p.fail(model.StageSynthesize, err)
	}
	switch prog {
	case progressPassed:
		metrics.IncStaleDelivery(string(model.StageSynthesize))
		return queue.Ack()
	case progressWritten:
		// output landed on an earlier attempt; finish the cleanup and hand off again
		if err := p.c.Store.Delete(ctx, jobID, model.StageSynthesize.Consumes()...); err != nil {
			return p.fail(model.StageSynthesize, err)
		}
		return p.advance(ctx, model.StageSynthesize, jobID)
	}

	t, err := p.loadTicket(ctx, jobID)
	if err != nil {
		return p.fail(model.StageSynthesize, err)
	}
	var script model.Script
	if err := p.readJSON(ctx, jobID, model.ArtifactScript, &script); err != nil {
		return p.fail(model.StageSynthesize, err)
	}
	if len(script) == 0 {
		return p.fail(model.StageSynthesize, &domain.IntegrityError{JobID: jobID, Kind: "script (empty)"})
	}
	if p.c.Speech == nil {
		return p.fail(model.StageSynthesize, domain.ErrNoProvider)
	}

	lines := p.voiceLines(script)
	start := time.Now()
	audio, err := p.c.Speech.SynthesizeDialogue(ctx, lines)
	metrics.ObserveUpstream("tts", p.c.Speech.Provider(), time.Since(start), err == nil)
	if err != nil {
		return p.fail(model.StageSynthesize, fmt.Errorf("synthesize: %w", err))
	}
	if audio == nil || len(audio.Data) == 0 {
		return p.fail(model.StageSynthesize, domain.ErrEmptyAudio)
	}

	t.Transcript = script.Transcript(p.hostNames())
	if err := p.saveTicket(ctx, t); err != nil {
		return p.fail(model.StageSynthesize, err)
	}
	if err := p.c.Store.Put(ctx, jobID, model.ArtifactAudio, audio.Data); err != nil {
		return p.fail(model.StageSynthesize, err)
	}
	if err := p.c.Store.Delete(ctx, jobID, model.StageSynthesize.Consumes()...); err != nil {
		return p.fail(model.StageSynthesize, err)
	}
	log.Info().Int("bytes", len(audio.Data)).Str("content_type", audio.ContentType).Msg("audio rendered")
	return p.advance(ctx, model.StageSynthesize, jobID)
}

func (p *Pipeline) voiceLines(s model.Script) []adapter.VoiceLine {
	hosts := map[model.Speaker]struct{ name, voice string }{
		model.HostA: {p.cfg.Script.HostA.Name, p.cfg.Script.HostA.Voice},
		model.HostB: {p.cfg.Script.HostB.Name, p.cfg.Script.HostB.Voice},
	}
	out := make([]adapter.VoiceLine, 0, len(s))
	for _, l := range s {
		h := hosts[l.Speaker]
		out = append(out, adapter.VoiceLine{Text: l.Text, VoiceID: h.voice, Speaker: h.name})
	}
	return out
}
