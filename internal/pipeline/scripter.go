package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/queue"
	"policy-brief-pipeline/internal/infra/logging"
	"policy-brief-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Script turns fetched bills and news into a two-host dialogue.
func (p *Pipeline) Script(ctx context.Context, d queue.Delivery[model.JobMessage]) queue.Outcome {
	jobID := d.Message.JobID
	if jobID == "" {
		return queue.DeadLetter(fmt.Errorf("%w: script message without job id", domain.ErrInvalidArgument))
	}
	ctx = logging.WithJobID(ctx, jobID)
	return p.withLease(ctx, jobID, model.StageScript, func(ctx context.Context) queue.Outcome {
		return p.script(ctx, jobID, d.Attempt)
	})
}

func (p *Pipeline) script(ctx context.Context, jobID string, attempt int) queue.Outcome {
	log := logging.With(ctx, p.log)

	prog, err := p.progressOf(ctx, jobID, model.StageScript)
	if err != nil {
		return p.fail(model.StageScript, err)
	}
	switch prog {
	case progressPassed:
		metrics.IncStaleDelivery(string(model.StageScript))
		return queue.Ack()
	case progressWritten:
		// output landed on an earlier attempt; finish the cleanup and hand off again
		if err := p.c.Store.Delete(ctx, jobID, model.StageScript.Consumes()...); err != nil {
			return p.fail(model.StageScript, err)
		}
		return p.advance(ctx, model.StageScript, jobID)
	}

	t, err := p.loadTicket(ctx, jobID)
	if err != nil {
		return p.fail(model.StageScript, err)
	}
	var bills []model.Bill
	if err := p.readJSON(ctx, jobID, model.ArtifactBills, &bills); err != nil {
		return p.fail(model.StageScript, err)
	}
	var articles []model.Article
	if err := p.readJSON(ctx, jobID, model.ArtifactNews, &articles); err != nil {
		return p.fail(model.StageScript, err)
	}

	script, err := p.generate(ctx, t, bills, articles, log)
	if err != nil {
		if domain.IsValidation(err) {
			if attempt < p.cfg.Script.MaxValidationAttempts {
				return queue.Retry(p.retryDelay(model.StageScript), err)
			}
			log.Warn().Err(err).Int("attempt", attempt).Msg("model output keeps failing validation, using template script")
			metrics.IncScriptFallback()
			script = templateScript(p.cfg.Script, t, bills, articles)
		} else {
			return p.fail(model.StageScript, err)
		}
	}

	raw, err := json.Marshal(script)
	if err != nil {
		return p.fail(model.StageScript, err)
	}
	// metadata first, so a script artifact always comes with its digest
	t.WrittenDigest = writtenDigest(bills, articles)
	t.PolicyAreas = policyAreas(t, bills)
	if err := p.saveTicket(ctx, t); err != nil {
		return p.fail(model.StageScript, err)
	}
	if err := p.c.Store.Put(ctx, jobID, model.ArtifactScript, raw); err != nil {
		return p.fail(model.StageScript, err)
	}
	if err := p.c.Store.Delete(ctx, jobID, model.StageScript.Consumes()...); err != nil {
		return p.fail(model.StageScript, err)
	}
	log.Info().Int("lines", len(script)).Int("words", script.WordCount()).Msg("script written")
	return p.advance(ctx, model.StageScript, jobID)
}

func (p *Pipeline) generate(ctx context.Context, t *model.JobTicket, bills []model.Bill, articles []model.Article, log *zerolog.Logger) (model.Script, error) {
	if p.c.Model == nil {
		log.Warn().Msg("no script model configured, using template script")
		return templateScript(p.cfg.Script, t, bills, articles), nil
	}
	msgs := buildPrompt(p.cfg.Script, t, bills, articles)

	start := time.Now()
	reply, usage, err := p.c.Model.Generate(ctx, msgs)
	metrics.ObserveUpstream("llm", p.c.Model.Provider(), time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("generate script: %w", err)
	}
	metrics.ObserveTokens(p.c.Model.Provider(), p.c.Model.Model(), usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
	return parseScript(reply, p.cfg.Script, p.validate)
}

// readJSON decodes a required artifact.
func (p *Pipeline) readJSON(ctx context.Context, jobID string, kind model.ArtifactKind, dst any) error {
	raw, err := p.requireArtifact(ctx, jobID, kind)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &domain.IntegrityError{JobID: jobID, Kind: string(kind) + " (corrupt)"}
	}
	return nil
}
