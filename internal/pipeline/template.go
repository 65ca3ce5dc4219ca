package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"policy-brief-pipeline/internal/config"
	"policy-brief-pipeline/internal/domain/model"
)

// templateScript builds a plain, deterministic dialogue from the fetched
// material. It replaces model output that keeps failing validation.
func templateScript(cfg config.ScriptConfig, t *model.JobTicket, bills []model.Bill, articles []model.Article) model.Script {
	a, b := cfg.HostA.Name, cfg.HostB.Name
	s := model.Script{
		{Speaker: model.HostA, Text: fmt.Sprintf("Welcome to your %s policy brief. I'm %s.", t.BriefType, a)},
		{Speaker: model.HostB, Text: fmt.Sprintf("And I'm %s. Today we're following %s.", b, strings.Join(t.PolicyInterests, ", "))},
	}
	for _, bl := range bills {
		s = append(s,
			model.DialogueLine{Speaker: model.HostA, Text: fmt.Sprintf("On the legislative side, there's %s.", bl.Title)},
			model.DialogueLine{Speaker: model.HostB, Text: firstSentence(bl.Summary, "It's still early, so details are thin.")},
		)
	}
	for _, ar := range articles {
		s = append(s,
			model.DialogueLine{Speaker: model.HostA, Text: fmt.Sprintf("%s reports: %s.", orDefault(ar.Source, "One outlet"), strings.TrimSuffix(ar.Title, "."))},
			model.DialogueLine{Speaker: model.HostB, Text: firstSentence(ar.Summary, "We'll keep an eye on how that develops.")},
		)
	}
	if len(bills)+len(articles) == 0 {
		s = append(s,
			model.DialogueLine{Speaker: model.HostA, Text: "It's a quiet stretch, with no new bills or coverage on your topics."},
			model.DialogueLine{Speaker: model.HostB, Text: "We'll be back as soon as there's movement."},
		)
	}
	s = append(s,
		model.DialogueLine{Speaker: model.HostA, Text: "That's the brief for now."},
		model.DialogueLine{Speaker: model.HostB, Text: "Thanks for listening."},
	)
	switch {
	case cfg.MaxLines <= 0 || len(s) <= cfg.MaxLines:
	case cfg.MaxLines < 2:
		s = s[:cfg.MaxLines]
	default:
		// keep the sign-off
		s = append(s[:cfg.MaxLines-2], s[len(s)-2:]...)
	}
	return s
}

// writtenDigest is the text companion to the audio.
func writtenDigest(bills []model.Bill, articles []model.Article) string {
	var sb strings.Builder
	if len(bills) > 0 {
		sb.WriteString("Bills\n")
		for _, bl := range bills {
			fmt.Fprintf(&sb, "- %s (%s): %s\n", bl.Title, bl.PolicyArea, firstSentence(bl.Summary, ""))
		}
	}
	if len(articles) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("News\n")
		for _, ar := range articles {
			fmt.Fprintf(&sb, "- %s (%s) %s\n", ar.Title, orDefault(ar.Source, "unknown source"), ar.URL)
		}
	}
	if sb.Len() == 0 {
		return "No new bills or coverage for your interests."
	}
	return strings.TrimSpace(sb.String())
}

// policyAreas lists the distinct bill areas, or the requested interests when no bill matched.
func policyAreas(t *model.JobTicket, bills []model.Bill) []string {
	seen := map[string]bool{}
	var out []string
	for _, bl := range bills {
		k := strings.ToLower(strings.TrimSpace(bl.PolicyArea))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, bl.PolicyArea)
	}
	if len(out) == 0 {
		out = append(out, t.PolicyInterests...)
	}
	sort.Strings(out)
	return out
}

func firstSentence(s, fallback string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	if i := strings.IndexAny(s, ".!?"); i >= 0 {
		return s[:i+1]
	}
	return s + "."
}

func orDefault(s, d string) string {
	if strings.TrimSpace(s) == "" {
		return d
	}
	return s
}
