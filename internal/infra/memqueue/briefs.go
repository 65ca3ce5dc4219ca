package memqueue

import (
	"context"
	"sync"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/adapter"
	"policy-brief-pipeline/internal/domain/ports/repository"
)

var (
	_ repository.BriefRepository = (*Briefs)(nil)
	_ adapter.ObjectStorage      = (*Objects)(nil)
)

// Briefs keeps published briefs keyed by job id, one row per job.
type Briefs struct {
	mu   sync.Mutex
	rows map[string]model.Brief
}

func NewBriefs() *Briefs {
	return &Briefs{rows: map[string]model.Brief{}}
}

func (b *Briefs) Insert(ctx context.Context, tx repository.Tx, brief *model.Brief) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.rows[brief.JobID]; ok {
		return false, nil
	}
	b.rows[brief.JobID] = *brief
	return true, nil
}

func (b *Briefs) FindByJobID(ctx context.Context, tx repository.Tx, jobID string) (*model.Brief, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, ok := b.rows[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &row, nil
}

func (b *Briefs) ExistsForJob(ctx context.Context, tx repository.Tx, jobID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.rows[jobID]
	return ok, nil
}

func (b *Briefs) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}

// Objects is an object store that keeps uploads in memory.
type Objects struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func NewObjects() *Objects {
	return &Objects{objects: map[string][]byte{}}
}

func (o *Objects) PutObject(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = append([]byte(nil), data...)
	o.puts++
	return "memory://" + key, nil
}

// Keys returns the stored object keys and how many uploads happened in total.
func (o *Objects) Keys() ([]string, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	keys := make([]string, 0, len(o.objects))
	for k := range o.objects {
		keys = append(keys, k)
	}
	return keys, o.puts
}

func (o *Objects) Get(key string) ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.objects[key]
	return data, ok
}
