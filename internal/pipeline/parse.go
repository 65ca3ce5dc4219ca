package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"policy-brief-pipeline/internal/config"
	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/model"

	"github.com/go-playground/validator/v10"
)

var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

type rawLine struct {
	Host    string `json:"host"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// parseScript extracts the dialogue array from a model reply. Replies longer
// than cfg.MaxLines are truncated, shorter than cfg.MinLines are rejected.
func parseScript(reply string, cfg config.ScriptConfig, v *validator.Validate) (model.Script, error) {
	match := jsonArrayPattern.FindString(reply)
	if match == "" {
		return nil, &domain.ValidationError{Reason: "no JSON array in reply"}
	}
	var raw []rawLine
	if err := json.Unmarshal([]byte(match), &raw); err != nil {
		return nil, &domain.ValidationError{Reason: "malformed JSON array: " + err.Error()}
	}

	script := make(model.Script, 0, len(raw))
	for i, r := range raw {
		name := r.Host
		if name == "" {
			name = r.Speaker
		}
		line := model.DialogueLine{
			Speaker: resolveSpeaker(name, cfg),
			Text:    strings.TrimSpace(r.Text),
		}
		if err := v.Struct(line); err != nil {
			return nil, &domain.ValidationError{Reason: fmt.Sprintf("line %d: %v", i+1, err)}
		}
		script = append(script, line)
	}

	if len(script) < cfg.MinLines {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("got %d lines, need at least %d", len(script), cfg.MinLines)}
	}
	if cfg.MaxLines > 0 && len(script) > cfg.MaxLines {
		script = script[:cfg.MaxLines]
	}
	return script, nil
}

// resolveSpeaker accepts the host ids and the persona names. Unknown names are
// returned unchanged so validation reports them.
func resolveSpeaker(name string, cfg config.ScriptConfig) model.Speaker {
	n := strings.TrimSpace(name)
	switch {
	case strings.EqualFold(n, string(model.HostA)), strings.EqualFold(n, cfg.HostA.Name):
		return model.HostA
	case strings.EqualFold(n, string(model.HostB)), strings.EqualFold(n, cfg.HostB.Name):
		return model.HostB
	}
	return model.Speaker(n)
}
