package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.ArtifactStore = (*ArtifactStore)(nil)

// ArtifactStore keeps stage outputs as raw bytes under job:{jobId}:{kind}.
type ArtifactStore struct {
	client RedisClient
	ttl    time.Duration
}

// NewArtifactStore builds the store. ttl <= 0 keeps artifacts until deleted.
func NewArtifactStore(client RedisClient, ttl time.Duration) *ArtifactStore {
	if ttl < 0 {
		ttl = 0
	}
	return &ArtifactStore{client: client, ttl: ttl}
}

func (s *ArtifactStore) Get(ctx context.Context, jobID string, kind model.ArtifactKind) ([]byte, error) {
	data, err := s.client.GetBytes(ctx, model.ArtifactKey(jobID, kind))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get %s artifact: %w", kind, err)
	}
	return data, nil
}

func (s *ArtifactStore) Put(ctx context.Context, jobID string, kind model.ArtifactKind, data []byte) error {
	if err := s.client.Set(ctx, model.ArtifactKey(jobID, kind), data, s.ttl); err != nil {
		return fmt.Errorf("put %s artifact: %w", kind, err)
	}
	return nil
}

func (s *ArtifactStore) Delete(ctx context.Context, jobID string, kinds ...model.ArtifactKind) error {
	if len(kinds) == 0 {
		return nil
	}
	keys := make([]string, 0, len(kinds))
	for _, k := range kinds {
		keys = append(keys, model.ArtifactKey(jobID, k))
	}
	if err := s.client.Del(ctx, keys...); err != nil {
		return fmt.Errorf("delete artifacts: %w", err)
	}
	return nil
}

func (s *ArtifactStore) Present(ctx context.Context, jobID string) (map[model.ArtifactKind]bool, error) {
	out := make(map[model.ArtifactKind]bool, len(model.ArtifactKinds))
	for _, k := range model.ArtifactKinds {
		n, err := s.client.Exists(ctx, model.ArtifactKey(jobID, k))
		if err != nil {
			return nil, fmt.Errorf("check %s artifact: %w", k, err)
		}
		out[k] = n > 0
	}
	return out, nil
}
