// Package queue defines the broker-independent queue contract used by every
// pipeline stage: producers Send typed messages, consumers return an Outcome.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the broker-level unit of delivery.
type Envelope struct {
	ID         string          `json:"id"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Body       json.RawMessage `json:"body"`
	LastError  string          `json:"last_error,omitempty"`

	// Receipt identifies this in-flight copy to the broker that handed it out.
	Receipt string `json:"-"`
}

// Broker is an at-least-once message broker keyed by queue name.
type Broker interface {
	Publish(ctx context.Context, queue string, body []byte) error
	// Receive blocks up to wait for a delivery. It returns (nil, nil) when nothing arrived.
	// The envelope stays in flight until Ack, Retry or DeadLetter, or until its
	// visibility timeout expires and Reap puts it back.
	Receive(ctx context.Context, queue string, wait time.Duration) (*Envelope, error)
	Ack(ctx context.Context, queue string, env *Envelope) error
	Retry(ctx context.Context, queue string, env *Envelope, delay time.Duration, reason string) error
	DeadLetter(ctx context.Context, queue string, env *Envelope, reason string) error
	Reap(ctx context.Context, queue string) (int, error)
	DeadLetters(ctx context.Context, queue string, limit int) ([]Envelope, error)
}

// Queue is the producer side of one typed queue.
type Queue[T any] interface {
	Send(ctx context.Context, msg T) error
}

// Delivery is one received message as seen by a handler.
type Delivery[T any] struct {
	ID         string
	Attempt    int // 1 on first delivery
	EnqueuedAt time.Time
	Message    T
}

type OutcomeKind int

const (
	OutcomeAck OutcomeKind = iota
	OutcomeRetry
	OutcomeDeadLetter
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAck:
		return "ack"
	case OutcomeRetry:
		return "retry"
	case OutcomeDeadLetter:
		return "dead_letter"
	}
	return "unknown"
}

// Outcome is what a handler decides about a delivery.
type Outcome struct {
	Kind  OutcomeKind
	Delay time.Duration
	Err   error
}

func Ack() Outcome { return Outcome{Kind: OutcomeAck} }

func Retry(delay time.Duration, err error) Outcome {
	return Outcome{Kind: OutcomeRetry, Delay: delay, Err: err}
}

func DeadLetter(err error) Outcome { return Outcome{Kind: OutcomeDeadLetter, Err: err} }

// Handler processes one delivery. It must be safe to call concurrently.
type Handler[T any] func(ctx context.Context, d Delivery[T]) Outcome

// Topic is a JSON-typed Queue on top of a Broker.
type Topic[T any] struct {
	broker Broker
	name   string
}

var _ Queue[struct{}] = (*Topic[struct{}])(nil)

func NewTopic[T any](b Broker, name string) *Topic[T] {
	return &Topic[T]{broker: b, name: name}
}

func (t *Topic[T]) Name() string { return t.name }

func (t *Topic[T]) Send(ctx context.Context, msg T) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", t.name, err)
	}
	return t.broker.Publish(ctx, t.name, body)
}

// Decode turns an envelope into a typed delivery.
func Decode[T any](env *Envelope) (Delivery[T], error) {
	var msg T
	if err := json.Unmarshal(env.Body, &msg); err != nil {
		return Delivery[T]{}, fmt.Errorf("decode message %s: %w", env.ID, err)
	}
	return Delivery[T]{
		ID:         env.ID,
		Attempt:    env.Attempt,
		EnqueuedAt: env.EnqueuedAt,
		Message:    msg,
	}, nil
}
