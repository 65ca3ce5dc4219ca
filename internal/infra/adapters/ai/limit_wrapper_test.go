package ai_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"policy-brief-pipeline/internal/domain/ports/adapter"
	ai "policy-brief-pipeline/internal/infra/adapters/ai"
)

type stubModel struct {
	inFlight int32
	peak     int32
}

func (s *stubModel) Provider() string { return "stub" }
func (s *stubModel) Model() string    { return "stub-model" }
func (s *stubModel) Generate(ctx context.Context, messages []adapter.Message) (string, adapter.Usage, error) {
	n := atomic.AddInt32(&s.inFlight, 1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(&s.inFlight, -1)
	return "[]", adapter.Usage{}, nil
}

func TestLimitedModel_CapsConcurrency(t *testing.T) {
	t.Parallel()
	inner := &stubModel{}
	m := ai.NewLimitedModel(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := m.Generate(context.Background(), nil); err != nil {
				t.Errorf("Generate: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak := atomic.LoadInt32(&inner.peak); peak > 2 {
		t.Fatalf("expected at most 2 concurrent calls, saw %d", peak)
	}
	if m.Provider() != "stub" || m.Model() != "stub-model" {
		t.Errorf("wrapper should pass through identity")
	}
}

func TestLimitedModel_ZeroLimitReturnsInner(t *testing.T) {
	inner := &stubModel{}
	if got := ai.NewLimitedModel(inner, 0); got != adapter.ScriptModel(inner) {
		t.Fatal("zero limit should return the inner model unchanged")
	}
}

func TestLimitedModel_HonoursContext(t *testing.T) {
	block := make(chan struct{})
	inner := &blockingModel{release: block}
	m := ai.NewLimitedModel(inner, 1)

	go func() { _, _, _ = m.Generate(context.Background(), nil) }()
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := m.Generate(ctx, nil); err == nil {
		t.Fatal("expected context error while the slot is taken")
	}
	close(block)
}

type blockingModel struct{ release chan struct{} }

func (b *blockingModel) Provider() string { return "block" }
func (b *blockingModel) Model() string    { return "block" }
func (b *blockingModel) Generate(ctx context.Context, _ []adapter.Message) (string, adapter.Usage, error) {
	<-b.release
	return "", adapter.Usage{}, nil
}
