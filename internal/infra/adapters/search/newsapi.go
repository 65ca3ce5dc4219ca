package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/adapter"

	"github.com/PuerkitoBio/goquery"
)

var _ adapter.NewsSearcher = (*NewsAPI)(nil)

// NewsAPI queries a NewsAPI-compatible /v2/everything endpoint.
type NewsAPI struct {
	base     string
	apiKey   string
	language string
	client   *http.Client
}

func NewNewsAPI(baseURL, apiKey, language string, timeout time.Duration) *NewsAPI {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &NewsAPI{
		base:     strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		language: language,
		client:   &http.Client{Timeout: timeout},
	}
}

type everythingResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Title       string `json:"title"`
		URL         string `json:"url"`
		Description string `json:"description"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

func (n *NewsAPI) Search(ctx context.Context, q adapter.SearchQuery) ([]model.Article, error) {
	if len(q.Terms) == 0 {
		return []model.Article{}, nil
	}
	params := url.Values{}
	params.Set("q", buildQuery(q.Terms))
	params.Set("sortBy", "publishedAt")
	if !q.Since.IsZero() {
		params.Set("from", q.Since.UTC().Format(time.RFC3339))
	}
	if q.Limit > 0 {
		// over-fetch a little so dedupe still fills the cap
		params.Set("pageSize", strconv.Itoa(q.Limit*2))
	}
	if n.language != "" {
		params.Set("language", n.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.base+"/v2/everything?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, domain.NewUpstreamError("news", 0, err)
	}
	defer resp.Body.Close()

	var payload everythingResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&payload); err != nil {
		if resp.StatusCode >= 300 {
			return nil, domain.NewUpstreamError("news", resp.StatusCode, fmt.Errorf("http %d", resp.StatusCode))
		}
		return nil, domain.NewUpstreamError("news", 0, fmt.Errorf("decode response: %w", err))
	}
	if resp.StatusCode >= 300 || payload.Status == "error" {
		return nil, domain.NewUpstreamError("news", resp.StatusCode, fmt.Errorf("%s: %s", payload.Code, payload.Message))
	}

	out := make([]model.Article, 0, len(payload.Articles))
	for _, a := range payload.Articles {
		if a.URL == "" || a.Title == "" || a.Title == "[Removed]" {
			continue
		}
		published, _ := time.Parse(time.RFC3339, a.PublishedAt)
		out = append(out, model.Article{
			Title:       strings.TrimSpace(a.Title),
			URL:         a.URL,
			Summary:     StripHTML(a.Description),
			Source:      a.Source.Name,
			PublishedAt: published,
		})
	}
	return out, nil
}

// buildQuery ORs the interests, quoting multi-word ones.
func buildQuery(terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if strings.ContainsAny(t, " \t") {
			t = `"` + strings.ReplaceAll(t, `"`, "") + `"`
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, " OR ")
}

// StripHTML returns the visible text of an HTML fragment with whitespace collapsed.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
