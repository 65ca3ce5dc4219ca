package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/ports/adapter"
)

var _ adapter.SpeechSynthesizer = (*ElevenLabs)(nil)

// ElevenLabs renders a dialogue with the text-to-dialogue endpoint in one call.
type ElevenLabs struct {
	apiKey string
	base   string
	model  string
	client *http.Client
}

func NewElevenLabs(apiKey, baseURL, model string, timeout time.Duration) (*ElevenLabs, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs api key empty")
	}
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &ElevenLabs{
		apiKey: apiKey,
		base:   strings.TrimRight(baseURL, "/"),
		model:  model,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (e *ElevenLabs) Provider() string { return "elevenlabs" }

type dialogueInput struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

func (e *ElevenLabs) SynthesizeDialogue(ctx context.Context, lines []adapter.VoiceLine) (*adapter.Audio, error) {
	if len(lines) == 0 {
		return nil, errors.New("elevenlabs: no lines")
	}
	body := struct {
		Inputs  []dialogueInput `json:"inputs"`
		ModelID string          `json:"model_id,omitempty"`
	}{ModelID: e.model}
	for _, l := range lines {
		body.Inputs = append(body.Inputs, dialogueInput{Text: l.Text, VoiceID: l.VoiceID})
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.base+"/v1/text-to-dialogue", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, domain.NewUpstreamError("elevenlabs", 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, domain.NewUpstreamError("elevenlabs", resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(msg))))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewUpstreamError("elevenlabs", 0, err)
	}
	if len(data) == 0 {
		return nil, domain.NewUpstreamError("elevenlabs", resp.StatusCode, domain.ErrEmptyAudio)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	return &adapter.Audio{Data: data, ContentType: ct}, nil
}
