package model

import "time"

// Article is one news search result.
type Article struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Summary     string    `json:"summary"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// Bill is one legislative bill from the bill repository.
type Bill struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary"`
	PolicyArea   string    `json:"policy_area"`
	ImpactScore  float64   `json:"impact_score"`
	IntroducedAt time.Time `json:"introduced_at"`
}
