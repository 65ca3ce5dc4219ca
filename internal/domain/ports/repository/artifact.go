package repository

import (
	"context"

	"policy-brief-pipeline/internal/domain/model"
)

// ArtifactStore is the byte-capable key-value store that carries stage outputs.
// Keys are model.ArtifactKey(jobID, kind). Get returns domain.ErrNotFound when absent.
type ArtifactStore interface {
	Get(ctx context.Context, jobID string, kind model.ArtifactKind) ([]byte, error)
	Put(ctx context.Context, jobID string, kind model.ArtifactKind, data []byte) error
	Delete(ctx context.Context, jobID string, kinds ...model.ArtifactKind) error
	// Present reports which artifacts currently exist for the job.
	Present(ctx context.Context, jobID string) (map[model.ArtifactKind]bool, error)
}
