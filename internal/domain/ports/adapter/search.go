package adapter

import (
	"context"
	"time"

	"policy-brief-pipeline/internal/domain/model"
)

type SearchQuery struct {
	Terms []string
	Since time.Time
	Limit int
}

// NewsSearcher is the port for the external article search API.
type NewsSearcher interface {
	Search(ctx context.Context, q SearchQuery) ([]model.Article, error)
}
