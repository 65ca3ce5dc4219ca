package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/ports/adapter"
	"policy-brief-pipeline/internal/infra/adapters/ai"

	"google.golang.org/genai"
)

var _ adapter.SpeechSynthesizer = (*GeminiSpeech)(nil)

// GeminiSpeech renders a two-speaker dialogue with Gemini's multi-speaker TTS.
// The API returns raw PCM; it is wrapped into WAV here.
type GeminiSpeech struct {
	client     *genai.Client
	model      string
	sampleRate int
}

func NewGeminiSpeech(client *genai.Client, model string, sampleRate int) *GeminiSpeech {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &GeminiSpeech{client: client, model: model, sampleRate: sampleRate}
}

func (g *GeminiSpeech) Provider() string { return "gemini" }

func (g *GeminiSpeech) SynthesizeDialogue(ctx context.Context, lines []adapter.VoiceLine) (*adapter.Audio, error) {
	if len(lines) == 0 {
		return nil, errors.New("gemini tts: no lines")
	}
	voices := map[string]string{}
	var order []string
	var sb strings.Builder
	for _, l := range lines {
		if _, ok := voices[l.Speaker]; !ok {
			voices[l.Speaker] = l.VoiceID
			order = append(order, l.Speaker)
		}
		fmt.Fprintf(&sb, "%s: %s\n", l.Speaker, l.Text)
	}

	speech := &genai.SpeechConfig{}
	if len(order) == 1 {
		speech.VoiceConfig = prebuilt(voices[order[0]])
	} else {
		cfgs := make([]*genai.SpeakerVoiceConfig, 0, len(order))
		for _, name := range order {
			cfgs = append(cfgs, &genai.SpeakerVoiceConfig{Speaker: name, VoiceConfig: prebuilt(voices[name])})
		}
		speech.MultiSpeakerVoiceConfig = &genai.MultiSpeakerVoiceConfig{SpeakerVoiceConfigs: cfgs}
	}

	prompt := "Read this conversation between " + strings.Join(order, " and ") + " as a relaxed news podcast:\n" + sb.String()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig:       speech,
	})
	if err != nil {
		return nil, ai.GeminiError("gemini-tts", err)
	}

	var pcm []byte
	mime := ""
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				pcm = append(pcm, p.InlineData.Data...)
				if mime == "" {
					mime = p.InlineData.MIMEType
				}
			}
		}
	}
	if len(pcm) == 0 {
		return nil, domain.NewUpstreamError("gemini-tts", 0, domain.ErrEmptyAudio)
	}
	rate := sampleRateFromMIME(mime, g.sampleRate)
	return &adapter.Audio{
		Data:        pcmToWAV(pcm, rate),
		ContentType: "audio/wav",
		Duration:    pcmDuration(len(pcm), rate),
	}, nil
}

func prebuilt(voice string) *genai.VoiceConfig {
	return &genai.VoiceConfig{PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice}}
}
