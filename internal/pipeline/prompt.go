package pipeline

import (
	"fmt"
	"strings"
	"sync"

	"policy-brief-pipeline/internal/config"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/adapter"
	"policy-brief-pipeline/internal/infra/metrics"

	"github.com/pkoukk/tiktoken-go"
)

// tokenCounter counts prompt tokens with tiktoken, falling back to a
// four-characters-per-token estimate when no encoding can be loaded.
type tokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	name string
}

var counters sync.Map // model name -> *tokenCounter

func counterFor(modelName string) *tokenCounter {
	v, _ := counters.LoadOrStore(modelName, &tokenCounter{name: modelName})
	return v.(*tokenCounter)
}

func (c *tokenCounter) Count(s string) int {
	c.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(c.name)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return (len(s) + 3) / 4
	}
	return len(c.enc.Encode(s, nil, nil))
}

// buildPrompt renders the script request. Source items are added highest
// priority first (bills, then articles) until the token budget is spent.
func buildPrompt(cfg config.ScriptConfig, t *model.JobTicket, bills []model.Bill, articles []model.Article) []adapter.Message {
	a, b := cfg.HostA, cfg.HostB
	system := fmt.Sprintf(
		"You write scripts for a short two-host policy podcast.\n"+
			"Host %q (id hostA): %s.\n"+
			"Host %q (id hostB): %s.\n"+
			"The hosts alternate turns, starting with hostA. Write about %d turns.\n"+
			"Only discuss the material provided. Do not invent bills, numbers or quotes.\n"+
			"Reply with a JSON array and nothing else, shaped like "+
			`[{"host":"hostA","text":"..."},{"host":"hostB","text":"..."}]`+".",
		a.Name, a.Persona, b.Name, b.Persona, cfg.TargetLines,
	)

	counter := counterFor(cfg.TokenizerModel)
	budget := cfg.MaxPromptTokens - counter.Count(system)

	var sb strings.Builder
	header := fmt.Sprintf("Listener interests: %s.\n", strings.Join(t.PolicyInterests, ", "))
	if loc := t.Location.String(); loc != "" {
		header += fmt.Sprintf("Listener location: %s.\n", loc)
	}
	if t.BriefType == model.BriefWeekly {
		header += "This is the weekly edition; cover the week as a whole.\n"
	}
	sb.WriteString(header)
	budget -= counter.Count(header)

	items := make([]string, 0, len(bills)+len(articles))
	for _, bl := range bills {
		items = append(items, fmt.Sprintf("BILL %s (%s, impact %.1f): %s. %s\n", bl.ID, bl.PolicyArea, bl.ImpactScore, bl.Title, bl.Summary))
	}
	for _, ar := range articles {
		items = append(items, fmt.Sprintf("NEWS [%s] %s: %s\n", ar.Source, ar.Title, ar.Summary))
	}

	trimmed := 0
	for i, item := range items {
		n := counter.Count(item)
		if n > budget {
			trimmed = len(items) - i
			break
		}
		sb.WriteString(item)
		budget -= n
	}
	if trimmed > 0 {
		metrics.AddPromptTrimmed(trimmed)
	}
	if len(items) == trimmed {
		sb.WriteString("There is no new legislative activity or coverage today. Say so briefly and recap what the listener follows.\n")
	}

	return []adapter.Message{
		{Role: adapter.RoleSystem, Content: system},
		{Role: adapter.RoleUser, Content: sb.String()},
	}
}
