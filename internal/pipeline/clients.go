// Package pipeline implements the brief-generation stages. Each stage is a
// queue.Handler that reads and writes artifacts keyed by job id and hands the
// job to the next stage through a Dispatcher.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"policy-brief-pipeline/internal/config"
	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/adapter"
	"policy-brief-pipeline/internal/domain/ports/queue"
	"policy-brief-pipeline/internal/domain/ports/repository"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Clients bundles every dependency a stage may touch.
type Clients struct {
	Store      repository.ArtifactStore
	Dispatcher Dispatcher
	Locker     repository.Locker
	Ledger     repository.RequestLedger

	News  adapter.NewsSearcher
	Bills repository.BillRepository

	Model  adapter.ScriptModel
	Speech adapter.SpeechSynthesizer

	Storage   adapter.ObjectStorage
	Briefs    repository.BriefRepository
	TxManager repository.TransactionManager
}

func (c *Clients) check() error {
	switch {
	case c.Store == nil:
		return errors.New("pipeline: artifact store is required")
	case c.Dispatcher == nil:
		return errors.New("pipeline: dispatcher is required")
	case c.Briefs == nil:
		return errors.New("pipeline: brief repository is required")
	}
	return nil
}

// Pipeline owns the stage handlers.
type Pipeline struct {
	c        Clients
	cfg      *config.Config
	validate *validator.Validate
	log      *zerolog.Logger
	now      func() time.Time
}

func New(c Clients, cfg *config.Config, log *zerolog.Logger) (*Pipeline, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	l := log.With().Str("component", "pipeline").Logger()
	return &Pipeline{
		c:        c,
		cfg:      cfg,
		validate: validator.New(),
		log:      &l,
		now:      time.Now,
	}, nil
}

// WithClock replaces the wall clock. Tests use it for deterministic keys.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// WithDispatcher returns a copy of p that forwards jobs through d.
func (p *Pipeline) WithDispatcher(d Dispatcher) *Pipeline {
	cp := *p
	cp.c.Dispatcher = d
	return &cp
}

func (p *Pipeline) retryDelay(stage model.Stage) time.Duration {
	if d := p.cfg.Pipeline.Stage(string(stage)).RetryDelay; d > 0 {
		return d
	}
	return stage.DefaultRetryDelay()
}

// fail classifies err into a broker outcome.
func (p *Pipeline) fail(stage model.Stage, err error) queue.Outcome {
	switch {
	case domain.IsIntegrity(err), errors.Is(err, domain.ErrInvalidArgument):
		return queue.DeadLetter(err)
	default:
		return queue.Retry(p.retryDelay(stage), err)
	}
}

func (p *Pipeline) loadTicket(ctx context.Context, jobID string) (*model.JobTicket, error) {
	raw, err := p.c.Store.Get(ctx, jobID, model.ArtifactMetadata)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.IntegrityError{JobID: jobID, Kind: string(model.ArtifactMetadata)}
		}
		return nil, err
	}
	var t model.JobTicket
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode metadata for job %s: %w", jobID, err)
	}
	return &t, nil
}

func (p *Pipeline) saveTicket(ctx context.Context, t *model.JobTicket) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return p.c.Store.Put(ctx, t.JobID, model.ArtifactMetadata, raw)
}

// requireArtifact reads an artifact a stage cannot run without.
func (p *Pipeline) requireArtifact(ctx context.Context, jobID string, kind model.ArtifactKind) ([]byte, error) {
	raw, err := p.c.Store.Get(ctx, jobID, kind)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.IntegrityError{JobID: jobID, Kind: string(kind)}
		}
		return nil, err
	}
	return raw, nil
}

func (p *Pipeline) hostNames() map[model.Speaker]string {
	return map[model.Speaker]string{
		model.HostA: p.cfg.Script.HostA.Name,
		model.HostB: p.cfg.Script.HostB.Name,
	}
}
