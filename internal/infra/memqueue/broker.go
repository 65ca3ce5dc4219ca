// Package memqueue holds process-local implementations of the broker and the
// artifact store. The inline runner and the unit tests use them.
package memqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"policy-brief-pipeline/internal/domain/ports/queue"

	"github.com/oklog/ulid/v2"
)

var _ queue.Broker = (*Broker)(nil)

const deadLetterCap = 1000

type inflight struct {
	env      queue.Envelope
	deadline time.Time
}

type delayed struct {
	env queue.Envelope
	due time.Time
}

type topic struct {
	ready    []queue.Envelope
	inflight map[string]inflight
	delayed  []delayed
	attempts map[string]int
	dead     []queue.Envelope
}

// Broker is an in-memory at-least-once broker with the same visibility and
// retry semantics as the Redis one.
type Broker struct {
	mu         sync.Mutex
	topics     map[string]*topic
	notify     chan struct{}
	seq        uint64
	visibility time.Duration

	// Now is the broker clock; tests replace it to expire visibility windows.
	Now func() time.Time
}

func NewBroker(visibility time.Duration) *Broker {
	if visibility <= 0 {
		visibility = 5 * time.Minute
	}
	return &Broker{
		topics:     map[string]*topic{},
		notify:     make(chan struct{}),
		visibility: visibility,
		Now:        time.Now,
	}
}

func (b *Broker) topic(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{inflight: map[string]inflight{}, attempts: map[string]int{}}
		b.topics[name] = t
	}
	return t
}

// wake releases every Receive that is waiting. Caller holds mu.
func (b *Broker) wake() {
	close(b.notify)
	b.notify = make(chan struct{})
}

func (b *Broker) Publish(ctx context.Context, q string, body []byte) error {
	if !json.Valid(body) {
		return fmt.Errorf("publish to %s: body is not JSON", q)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(q)
	t.ready = append(t.ready, queue.Envelope{
		ID:         ulid.Make().String(),
		EnqueuedAt: b.Now().UTC(),
		Body:       append(json.RawMessage(nil), body...),
	})
	b.wake()
	return nil
}

func (b *Broker) Receive(ctx context.Context, q string, wait time.Duration) (*queue.Envelope, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		b.mu.Lock()
		env := b.takeLocked(q)
		ch := b.notify
		b.mu.Unlock()
		if env != nil {
			return env, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-ch:
		}
	}
}

func (b *Broker) takeLocked(q string) *queue.Envelope {
	t := b.topic(q)
	now := b.Now()

	kept := t.delayed[:0]
	for _, d := range t.delayed {
		if !d.due.After(now) {
			t.ready = append(t.ready, d.env)
			continue
		}
		kept = append(kept, d)
	}
	t.delayed = kept

	if len(t.ready) == 0 {
		return nil
	}
	env := t.ready[0]
	t.ready = t.ready[1:]
	t.attempts[env.ID]++
	b.seq++
	env.Attempt = t.attempts[env.ID]
	env.Receipt = fmt.Sprintf("%s/%d", env.ID, b.seq)
	t.inflight[env.Receipt] = inflight{env: env, deadline: now.Add(b.visibility)}
	out := env
	return &out
}

func (b *Broker) Ack(ctx context.Context, q string, env *queue.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(q)
	if _, ok := t.inflight[env.Receipt]; !ok {
		return nil
	}
	delete(t.inflight, env.Receipt)
	delete(t.attempts, env.ID)
	return nil
}

func (b *Broker) Retry(ctx context.Context, q string, env *queue.Envelope, delay time.Duration, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(q)
	if _, ok := t.inflight[env.Receipt]; !ok {
		// visibility expired and the copy was already handed back out
		return nil
	}
	delete(t.inflight, env.Receipt)
	next := *env
	next.LastError = reason
	next.Receipt = ""
	t.delayed = append(t.delayed, delayed{env: next, due: b.Now().Add(delay)})
	sort.SliceStable(t.delayed, func(i, j int) bool { return t.delayed[i].due.Before(t.delayed[j].due) })
	b.wake()
	return nil
}

func (b *Broker) DeadLetter(ctx context.Context, q string, env *queue.Envelope, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(q)
	if _, ok := t.inflight[env.Receipt]; !ok {
		return nil
	}
	delete(t.inflight, env.Receipt)
	delete(t.attempts, env.ID)
	dead := *env
	dead.LastError = reason
	dead.Receipt = ""
	t.dead = append([]queue.Envelope{dead}, t.dead...)
	if len(t.dead) > deadLetterCap {
		t.dead = t.dead[:deadLetterCap]
	}
	return nil
}

func (b *Broker) Reap(ctx context.Context, q string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(q)
	now := b.Now()
	var expired []queue.Envelope
	for receipt, f := range t.inflight {
		if f.deadline.After(now) {
			continue
		}
		delete(t.inflight, receipt)
		e := f.env
		e.Receipt = ""
		expired = append(expired, e)
	}
	if len(expired) == 0 {
		return 0, nil
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	t.ready = append(expired, t.ready...)
	b.wake()
	return len(expired), nil
}

func (b *Broker) DeadLetters(ctx context.Context, q string, limit int) ([]queue.Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(q)
	if limit <= 0 || limit > len(t.dead) {
		limit = len(t.dead)
	}
	out := make([]queue.Envelope, limit)
	copy(out, t.dead[:limit])
	return out, nil
}

// Stats reports how many envelopes sit in each state of a queue.
type Stats struct {
	Ready, InFlight, Delayed, Dead int
}

func (b *Broker) Stats(q string) Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(q)
	return Stats{Ready: len(t.ready), InFlight: len(t.inflight), Delayed: len(t.delayed), Dead: len(t.dead)}
}

// Idle reports whether no queue has ready, in-flight or delayed work.
func (b *Broker) Idle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.topics {
		if len(t.ready)+len(t.inflight)+len(t.delayed) > 0 {
			return false
		}
	}
	return true
}
