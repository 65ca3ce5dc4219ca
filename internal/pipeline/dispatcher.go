package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/queue"
)

// Dispatcher hands a job to the stage after from, following the transition table.
type Dispatcher interface {
	Advance(ctx context.Context, from model.Stage, msg any) error
}

// QueueDispatcher publishes to the next stage's queue.
type QueueDispatcher struct {
	broker queue.Broker
}

var _ Dispatcher = (*QueueDispatcher)(nil)

func NewQueueDispatcher(b queue.Broker) *QueueDispatcher {
	return &QueueDispatcher{broker: b}
}

func (d *QueueDispatcher) Advance(ctx context.Context, from model.Stage, msg any) error {
	next, ok := from.Next()
	if !ok {
		return fmt.Errorf("stage %s is terminal", from)
	}
	return queue.NewTopic[any](d.broker, next.Queue()).Send(ctx, msg)
}

// Requests returns the producer for the pipeline's entry queue.
func Requests(b queue.Broker) *queue.Topic[model.JobRequest] {
	return queue.NewTopic[model.JobRequest](b, model.StageOrchestrate.Queue())
}

// captured is one hand-off recorded by a CaptureDispatcher.
type captured struct {
	Stage model.Stage
	Body  []byte
}

// CaptureDispatcher records hand-offs instead of sending them.
type CaptureDispatcher struct {
	mu   sync.Mutex
	sent []captured
}

var _ Dispatcher = (*CaptureDispatcher)(nil)

func (d *CaptureDispatcher) Advance(ctx context.Context, from model.Stage, msg any) error {
	next, ok := from.Next()
	if !ok {
		return fmt.Errorf("stage %s is terminal", from)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", next, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, captured{Stage: next, Body: body})
	return nil
}

// Take removes and returns the oldest recorded hand-off.
func (d *CaptureDispatcher) Take() (model.Stage, []byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sent) == 0 {
		return "", nil, false
	}
	c := d.sent[0]
	d.sent = d.sent[1:]
	return c.Stage, c.Body, true
}
