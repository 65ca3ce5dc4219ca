package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"policy-brief-pipeline/internal/domain/ports/queue"

	"github.com/go-redis/redis/v8"
	"github.com/oklog/ulid/v2"
)

var _ queue.Broker = (*Broker)(nil)

const (
	deadLetterCap = 1000
	pollInterval  = 200 * time.Millisecond
)

// Broker is an at-least-once queue on Redis lists and sorted sets:
//
//	queue:{q}:ready     LIST  encoded envelopes waiting for a consumer
//	queue:{q}:inflight  ZSET  "{attempt}|{envelope}" receipts scored by visibility deadline
//	queue:{q}:delayed   ZSET  retries scored by due time
//	queue:{q}:attempts  HASH  delivery counter per envelope id
//	queue:{q}:dead      LIST  dead-lettered envelopes, newest first
type Broker struct {
	cli        *redis.Client
	visibility func(queue string) time.Duration
	now        func() time.Time
}

// NewBroker builds a broker. visibility returns the in-flight timeout for a queue.
func NewBroker(c *Client, visibility func(queue string) time.Duration) *Broker {
	if visibility == nil {
		visibility = func(string) time.Duration { return 5 * time.Minute }
	}
	return &Broker{cli: c.cli, visibility: visibility, now: time.Now}
}

func readyKey(q string) string    { return "queue:" + q + ":ready" }
func inflightKey(q string) string { return "queue:" + q + ":inflight" }
func delayedKey(q string) string  { return "queue:" + q + ":delayed" }
func attemptsKey(q string) string { return "queue:" + q + ":attempts" }
func deadKey(q string) string     { return "queue:" + q + ":dead" }

func (b *Broker) Publish(ctx context.Context, q string, body []byte) error {
	env := queue.Envelope{
		ID:         ulid.Make().String(),
		EnqueuedAt: b.now().UTC(),
		Body:       body,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return b.cli.LPush(ctx, readyKey(q), raw).Err()
}

// luaPromote moves due delayed entries onto the consumer end of ready.
var luaPromote = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 100)
for _, v in ipairs(due) do
	redis.call("ZREM", KEYS[1], v)
	redis.call("RPUSH", KEYS[2], v)
end
return #due`)

// luaReceive pops one envelope, bumps its attempt counter and parks it in flight
// under a per-delivery receipt "{attempt}|{envelope}". Undecodable entries go
// straight to the dead list and come back with attempt 0.
var luaReceive = redis.NewScript(`
local v = redis.call("RPOP", KEYS[1])
if not v then
	return false
end
local ok, doc = pcall(cjson.decode, v)
if not ok or type(doc) ~= "table" or type(doc["id"]) ~= "string" then
	redis.call("LPUSH", KEYS[4], v)
	return {v, 0}
end
local n = redis.call("HINCRBY", KEYS[3], doc["id"], 1)
redis.call("ZADD", KEYS[2], ARGV[1], n .. "|" .. v)
return {v, n}`)

// luaReap returns expired in-flight entries to the consumer end of ready.
var luaReap = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 100)
for _, m in ipairs(expired) do
	redis.call("ZREM", KEYS[1], m)
	local sep = string.find(m, "|", 1, true)
	if sep then
		m = string.sub(m, sep + 1)
	end
	redis.call("RPUSH", KEYS[2], m)
end
return #expired`)

// The settle scripts act only when the receipt is still in flight. A copy whose
// visibility expired has already been reaped and may be with another consumer.
var luaAck = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("HDEL", KEYS[2], ARGV[2])
return 1`)

var luaRetry = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
return 1`)

var luaDeadLetter = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("LPUSH", KEYS[2], ARGV[2])
redis.call("LTRIM", KEYS[2], 0, tonumber(ARGV[3]) - 1)
redis.call("HDEL", KEYS[3], ARGV[4])
return 1`)

func (b *Broker) Receive(ctx context.Context, q string, wait time.Duration) (*queue.Envelope, error) {
	deadline := b.now().Add(wait)
	for {
		env, err := b.receiveOnce(ctx, q)
		if err != nil || env != nil {
			return env, err
		}
		if !b.now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (b *Broker) receiveOnce(ctx context.Context, q string) (*queue.Envelope, error) {
	now := b.now()
	if err := luaPromote.Run(ctx, b.cli, []string{delayedKey(q), readyKey(q)}, now.UnixMilli()).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("promote delayed: %w", err)
	}

	due := now.Add(b.visibility(q)).UnixMilli()
	res, err := luaReceive.Run(ctx, b.cli, []string{readyKey(q), inflightKey(q), attemptsKey(q), deadKey(q)}, due).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("receive %s: %w", q, err)
	}
	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return nil, fmt.Errorf("receive %s: unexpected reply %T", q, res)
	}
	raw, _ := pair[0].(string)
	n, _ := pair[1].(int64)
	if n == 0 {
		return nil, fmt.Errorf("receive %s: undecodable envelope moved to dead list", q)
	}
	receipt := strconv.FormatInt(n, 10) + "|" + raw

	var env queue.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// unparseable member would loop forever; drop it to the dead list
		b.cli.ZRem(ctx, inflightKey(q), receipt)
		b.cli.LPush(ctx, deadKey(q), raw)
		return nil, fmt.Errorf("decode envelope on %s: %w", q, err)
	}
	env.Attempt = int(n)
	env.Receipt = receipt
	return &env, nil
}

// Ack, Retry and DeadLetter ignore a receipt that is no longer in flight.
func (b *Broker) Ack(ctx context.Context, q string, env *queue.Envelope) error {
	err := luaAck.Run(ctx, b.cli, []string{inflightKey(q), attemptsKey(q)}, env.Receipt, env.ID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("ack %s: %w", q, err)
	}
	return nil
}

func (b *Broker) Retry(ctx context.Context, q string, env *queue.Envelope, delay time.Duration, reason string) error {
	next := *env
	next.LastError = reason
	next.Attempt = 0
	next.Receipt = ""
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	due := b.now().Add(delay).UnixMilli()
	err = luaRetry.Run(ctx, b.cli, []string{inflightKey(q), delayedKey(q)}, env.Receipt, due, raw).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("retry %s: %w", q, err)
	}
	return nil
}

func (b *Broker) DeadLetter(ctx context.Context, q string, env *queue.Envelope, reason string) error {
	dead := *env
	dead.LastError = reason
	dead.Receipt = ""
	raw, err := json.Marshal(dead)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	err = luaDeadLetter.Run(ctx, b.cli, []string{inflightKey(q), deadKey(q), attemptsKey(q)}, env.Receipt, raw, deadLetterCap, env.ID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("dead-letter %s: %w", q, err)
	}
	return nil
}

func (b *Broker) Reap(ctx context.Context, q string) (int, error) {
	n, err := luaReap.Run(ctx, b.cli, []string{inflightKey(q), readyKey(q)}, strconv.FormatInt(b.now().UnixMilli(), 10)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("reap %s: %w", q, err)
	}
	return n, nil
}

func (b *Broker) DeadLetters(ctx context.Context, q string, limit int) ([]queue.Envelope, error) {
	if limit <= 0 {
		limit = 50
	}
	raws, err := b.cli.LRange(ctx, deadKey(q), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	out := make([]queue.Envelope, 0, len(raws))
	for _, raw := range raws {
		var env queue.Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		out = append(out, env)
	}
	return out, nil
}
