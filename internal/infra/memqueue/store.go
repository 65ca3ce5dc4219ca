package memqueue

import (
	"context"
	"sync"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/repository"
)

var _ repository.ArtifactStore = (*Store)(nil)

// Store is a map-backed artifact store.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewStore() *Store {
	return &Store{data: map[string][]byte{}}
}

func (s *Store) Get(ctx context.Context, jobID string, kind model.ArtifactKind) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[model.ArtifactKey(jobID, kind)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Store) Put(ctx context.Context, jobID string, kind model.ArtifactKind, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[model.ArtifactKey(jobID, kind)] = append([]byte(nil), data...)
	return nil
}

func (s *Store) Delete(ctx context.Context, jobID string, kinds ...model.ArtifactKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range kinds {
		delete(s.data, model.ArtifactKey(jobID, k))
	}
	return nil
}

func (s *Store) Present(ctx context.Context, jobID string) (map[model.ArtifactKind]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.ArtifactKind]bool, len(model.ArtifactKinds))
	for _, k := range model.ArtifactKinds {
		_, out[k] = s.data[model.ArtifactKey(jobID, k)]
	}
	return out, nil
}

// Keys returns every stored key. Tests use it to check nothing leaks.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}
