package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(modelTokens, upstreamLatency, promptTrimmedTotal)
}

var (
	modelTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brief_model_tokens_total",
			Help: "Tokens spent on script generation, labeled by kind (prompt, completion).",
		},
		[]string{"provider", "model", "kind"},
	)

	upstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brief_upstream_call_seconds",
			Help:    "Latency of calls to external services (search, llm, tts, storage).",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60, 180, 600},
		},
		[]string{"service", "provider", "success"},
	)

	promptTrimmedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "brief_prompt_items_trimmed_total",
			Help: "Bills and articles dropped from script prompts to stay within the token budget.",
		},
	)
)

// ObserveTokens records model usage. Providers that only report a total count
// it as prompt tokens.
func ObserveTokens(provider, model string, prompt, completion, total int) {
	if prompt == 0 && completion == 0 {
		prompt = total
	}
	provider, model = norm(provider), norm(model)
	modelTokens.WithLabelValues(provider, model, "prompt").Add(float64(prompt))
	modelTokens.WithLabelValues(provider, model, "completion").Add(float64(completion))
}

func ObserveUpstream(service, provider string, d time.Duration, success bool) {
	upstreamLatency.WithLabelValues(norm(service), norm(provider), strconv.FormatBool(success)).
		Observe(d.Seconds())
}

func AddPromptTrimmed(n int) {
	if n > 0 {
		promptTrimmedTotal.Add(float64(n))
	}
}
