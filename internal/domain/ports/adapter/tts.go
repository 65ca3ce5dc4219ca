package adapter

import (
	"context"
	"time"
)

// VoiceLine is one dialogue turn bound to a synthetic voice.
type VoiceLine struct {
	Text    string
	VoiceID string
	Speaker string
}

// Audio is one rendered buffer for a whole script.
type Audio struct {
	Data        []byte
	ContentType string
	// Duration is zero when the provider does not report it.
	Duration time.Duration
}

// SpeechSynthesizer renders an ordered multi-voice dialogue in a single call.
type SpeechSynthesizer interface {
	Provider() string
	SynthesizeDialogue(ctx context.Context, lines []VoiceLine) (*Audio, error)
}
