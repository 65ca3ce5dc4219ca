package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"policy-brief-pipeline/internal/domain/ports/queue"
	"policy-brief-pipeline/internal/infra/logging"
	"policy-brief-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// ConsumerConfig tunes one stage consumer.
type ConsumerConfig struct {
	Stage        string
	Queue        string
	Workers      int
	MaxAttempts  int
	PollWait     time.Duration
	ReapInterval time.Duration
	// RetryDelay is used when a handler panics.
	RetryDelay time.Duration
}

// Consumer pulls deliveries for one queue, runs the stage handler on the pool,
// and turns its Outcome into an ack, a delayed retry or a dead letter.
type Consumer[T any] struct {
	cfg     ConsumerConfig
	broker  queue.Broker
	handler queue.Handler[T]
	log     *zerolog.Logger
	now     func() time.Time
}

func NewConsumer[T any](cfg ConsumerConfig, broker queue.Broker, handler queue.Handler[T], log *zerolog.Logger) *Consumer[T] {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = 2 * time.Second
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 15 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Minute
	}
	l := log.With().Str("component", "consumer").Str("stage", cfg.Stage).Logger()
	return &Consumer[T]{cfg: cfg, broker: broker, handler: handler, log: &l, now: time.Now}
}

func (c *Consumer[T]) Stage() string { return c.cfg.Stage }

// Run blocks until ctx is cancelled. In-flight handlers finish before it returns.
func (c *Consumer[T]) Run(ctx context.Context) error {
	pool := NewPool(c.cfg.Workers, 0, c.log)
	pool.Start(ctx)
	defer pool.Stop()

	go c.reapLoop(ctx)

	c.log.Info().Str("queue", c.cfg.Queue).Int("workers", c.cfg.Workers).Msg("consumer started")
	for {
		if ctx.Err() != nil {
			c.log.Info().Msg("consumer stopping")
			return nil
		}
		env, err := c.broker.Receive(ctx, c.cfg.Queue, c.cfg.PollWait)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.log.Error().Err(err).Msg("receive failed")
			sleep(ctx, time.Second)
			continue
		}
		if env == nil {
			continue
		}
		if err := pool.SubmitWait(ctx, func(ctx context.Context) error {
			c.Process(ctx, env)
			return nil
		}); err != nil {
			// not handed to a worker; visibility timeout will redeliver it
			c.log.Warn().Err(err).Str("delivery_id", env.ID).Msg("delivery not dispatched")
		}
	}
}

func (c *Consumer[T]) reapLoop(ctx context.Context) {
	t := time.NewTicker(c.cfg.ReapInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := c.broker.Reap(ctx, c.cfg.Queue)
			if err != nil {
				c.log.Warn().Err(err).Msg("reap failed")
				continue
			}
			if n > 0 {
				metrics.AddReaped(c.cfg.Queue, n)
				c.log.Warn().Int("count", n).Msg("visibility expired, deliveries requeued")
			}
		}
	}
}

// Process handles exactly one envelope and settles it with the broker.
func (c *Consumer[T]) Process(ctx context.Context, env *queue.Envelope) queue.Outcome {
	ctx = logging.WithStage(ctx, c.cfg.Stage)
	log := c.log.With().Str("delivery_id", env.ID).Int("attempt", env.Attempt).Logger()

	if env.Attempt > c.cfg.MaxAttempts {
		reason := fmt.Sprintf("max attempts (%d) exceeded", c.cfg.MaxAttempts)
		if env.LastError != "" {
			reason += ": " + env.LastError
		}
		out := queue.DeadLetter(errors.New(reason))
		c.settle(ctx, env, out, 0, &log)
		return out
	}

	d, err := queue.Decode[T](env)
	if err != nil {
		out := queue.DeadLetter(err)
		c.settle(ctx, env, out, 0, &log)
		return out
	}

	start := c.now()
	out := c.invoke(ctx, d, &log)
	if out.Kind == queue.OutcomeRetry && env.Attempt >= c.cfg.MaxAttempts {
		out = queue.DeadLetter(fmt.Errorf("max attempts (%d) reached: %w", c.cfg.MaxAttempts, out.Err))
	}
	c.settle(ctx, env, out, c.now().Sub(start), &log)
	return out
}

func (c *Consumer[T]) invoke(ctx context.Context, d queue.Delivery[T], log *zerolog.Logger) (out queue.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("handler panicked")
			out = queue.Retry(c.cfg.RetryDelay, fmt.Errorf("handler panic: %v", r))
		}
	}()
	return c.handler(ctx, d)
}

func (c *Consumer[T]) settle(ctx context.Context, env *queue.Envelope, out queue.Outcome, took time.Duration, log *zerolog.Logger) {
	// the broker call must happen even if the worker context was cancelled mid-handler
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	reason := ""
	if out.Err != nil {
		reason = out.Err.Error()
	}

	var err error
	switch out.Kind {
	case queue.OutcomeAck:
		err = c.broker.Ack(sctx, c.cfg.Queue, env)
		log.Info().Dur("duration", took).Msg("delivery acked")
	case queue.OutcomeRetry:
		err = c.broker.Retry(sctx, c.cfg.Queue, env, out.Delay, reason)
		log.Warn().Err(out.Err).Dur("delay", out.Delay).Dur("duration", took).Msg("delivery scheduled for retry")
	case queue.OutcomeDeadLetter:
		err = c.broker.DeadLetter(sctx, c.cfg.Queue, env, reason)
		metrics.IncDeadLetter(c.cfg.Stage, deadLetterReason(env, c.cfg.MaxAttempts))
		log.Error().Err(out.Err).Dur("duration", took).Msg("delivery dead-lettered")
	}
	metrics.ObserveDelivery(c.cfg.Stage, out.Kind.String(), took)
	if err != nil {
		log.Error().Err(err).Str("outcome", out.Kind.String()).Msg("settle delivery failed")
	}
}

func deadLetterReason(env *queue.Envelope, max int) string {
	if env.Attempt >= max {
		return "max_attempts"
	}
	return "handler"
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
