package tts

import (
	"context"

	"policy-brief-pipeline/internal/domain/ports/adapter"
)

type limited struct {
	inner adapter.SpeechSynthesizer
	sem   chan struct{}
}

// NewLimited caps concurrent renders. TTS calls are long and rate limited per account.
func NewLimited(inner adapter.SpeechSynthesizer, maxConcurrent int) adapter.SpeechSynthesizer {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limited{inner: inner, sem: make(chan struct{}, maxConcurrent)}
}

func (l *limited) Provider() string { return l.inner.Provider() }

func (l *limited) SynthesizeDialogue(ctx context.Context, lines []adapter.VoiceLine) (*adapter.Audio, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.SynthesizeDialogue(ctx, lines)
}
