package ai

import (
	"context"

	"policy-brief-pipeline/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ScriptModel = (*limitedModel)(nil)

type limitedModel struct {
	inner adapter.ScriptModel
	sem   chan struct{}
}

// NewLimitedModel caps concurrent Generate calls across all script workers.
func NewLimitedModel(inner adapter.ScriptModel, maxConcurrent int) adapter.ScriptModel {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedModel{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedModel) Provider() string { return l.inner.Provider() }
func (l *limitedModel) Model() string    { return l.inner.Model() }

func (l *limitedModel) Generate(ctx context.Context, messages []adapter.Message) (string, adapter.Usage, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return "", adapter.Usage{}, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Generate(ctx, messages)
}
