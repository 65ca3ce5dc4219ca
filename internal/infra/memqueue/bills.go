package memqueue

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/repository"
)

var _ repository.BillRepository = (*Bills)(nil)

// Bills is a slice-backed bill repository with the same matching rules as the SQL one.
type Bills struct {
	mu    sync.RWMutex
	bills []model.Bill
}

func NewBills(bills ...model.Bill) *Bills {
	return &Bills{bills: bills}
}

func (b *Bills) Add(bills ...model.Bill) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bills = append(b.bills, bills...)
}

func (b *Bills) FindRecent(ctx context.Context, tx repository.Tx, areas []string, since time.Time, limit int) ([]model.Bill, error) {
	want := make(map[string]bool, len(areas))
	for _, a := range areas {
		want[strings.ToLower(strings.TrimSpace(a))] = true
	}
	b.mu.RLock()
	var out []model.Bill
	for _, bl := range b.bills {
		if want[strings.ToLower(bl.PolicyArea)] && !bl.IntroducedAt.Before(since) {
			out = append(out, bl)
		}
	}
	b.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ImpactScore != out[j].ImpactScore {
			return out[i].ImpactScore > out[j].ImpactScore
		}
		return out[i].IntroducedAt.After(out[j].IntroducedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
