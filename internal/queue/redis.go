// redis.go implements the Redis-backed distributed queue.
//
// Layout per queue "name":
//
//	memd:queue:name          list of pending message ids
//	memd:queue:name:claimed  zset of claimed ids scored by redelivery deadline
//	memd:queue:name:msg:<id> hash {payload, deliveries}
//
// A consumer pops an id, claims it with a visibility deadline, runs the
// handler, and either deletes the message (ack) or leaves the claim for
// the sweeper to redeliver after the deadline (nack). Exhausted messages
// are re-enqueued onto "<name>-poison" as ordinary messages so a poison
// consumer can use the same API.

package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "memd:queue:"

// RedisFactory connects queues backed by one Redis client.
type RedisFactory struct {
	client *redis.Client

	mu     sync.Mutex
	queues map[string]*Redis
}

// NewRedisFactory returns a factory speaking to the given address.
func NewRedisFactory(addr string) *RedisFactory {
	return &RedisFactory{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		queues: map[string]*Redis{},
	}
}

// Connect returns the named queue, creating the connection on first use.
func (f *RedisFactory) Connect(ctx context.Context, name string, opts Options) (Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.queues[name]; ok {
		return q, nil
	}
	if err := f.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect queue %s: %w", name, err)
	}
	q := &Redis{
		name:   name,
		opts:   opts.withDefaults(),
		client: f.client,
		done:   make(chan struct{}),
	}
	f.queues[name] = q
	return q, nil
}

// Close releases the underlying client after closing every queue.
func (f *RedisFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.queues {
		q.Close()
	}
	return f.client.Close()
}

// Redis is a single Redis-backed queue. Obtain via RedisFactory.Connect.
type Redis struct {
	name   string
	opts   Options
	client *redis.Client

	mu      sync.Mutex
	handler Handler
	started bool
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

func (q *Redis) pendingKey() string { return redisKeyPrefix + q.name }
func (q *Redis) claimedKey() string { return redisKeyPrefix + q.name + ":claimed" }
func (q *Redis) msgKey(id string) string {
	return redisKeyPrefix + q.name + ":msg:" + id
}

func (q *Redis) Enqueue(ctx context.Context, payload []byte) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return fmt.Errorf("enqueue to %s: %w", q.name, ErrClosed)
	}
	return q.enqueueRaw(ctx, payload)
}

func (q *Redis) enqueueRaw(ctx context.Context, payload []byte) error {
	id := uuid.NewString()
	if err := q.client.HSet(ctx, q.msgKey(id), "payload", payload, "deliveries", 0).Err(); err != nil {
		return fmt.Errorf("enqueue to %s: %w", q.name, err)
	}
	if err := q.client.LPush(ctx, q.pendingKey(), id).Err(); err != nil {
		return fmt.Errorf("enqueue to %s: %w", q.name, err)
	}
	return nil
}

func (q *Redis) OnDequeue(fn Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = fn
}

func (q *Redis) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("start %s: %w", q.name, ErrClosed)
	}
	if q.handler == nil {
		return fmt.Errorf("start %s: %w", q.name, ErrNoHandler)
	}
	if q.started {
		return nil
	}
	q.started = true

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.consume(ctx)
	}
	q.wg.Add(1)
	go q.sweep(ctx)
	return nil
}

func (q *Redis) consume(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		default:
		}

		res, err := q.client.BRPop(ctx, q.opts.PollInterval, q.pendingKey()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transient broker trouble; back off one poll interval.
			select {
			case <-time.After(q.opts.PollInterval):
			case <-q.done:
				return
			}
			continue
		}
		q.deliver(ctx, res[1])
	}
}

func (q *Redis) deliver(ctx context.Context, id string) {
	deadline := float64(time.Now().Add(q.opts.Visibility).UnixMilli())
	if err := q.client.ZAdd(ctx, q.claimedKey(), redis.Z{Score: deadline, Member: id}).Err(); err != nil {
		return
	}
	deliveries, err := q.client.HIncrBy(ctx, q.msgKey(id), "deliveries", 1).Result()
	if err != nil {
		return
	}
	payload, err := q.client.HGet(ctx, q.msgKey(id), "payload").Bytes()
	if err != nil {
		// Message body lost; nothing to deliver.
		q.drop(ctx, id)
		return
	}

	if herr := q.handler(ctx, payload); herr == nil {
		q.drop(ctx, id)
		return
	}

	if exhausted(int(deliveries), q.opts.MaxRetries) {
		poison := &Redis{name: q.name + PoisonSuffix, opts: q.opts, client: q.client}
		_ = poison.enqueueRaw(ctx, payload)
		q.drop(ctx, id)
		return
	}
	// Leave the claim; the sweeper redelivers once the deadline passes.
}

// drop acks a message: removes the claim and the body.
func (q *Redis) drop(ctx context.Context, id string) {
	q.client.ZRem(ctx, q.claimedKey(), id)
	q.client.Del(ctx, q.msgKey(id))
}

// sweep returns expired claims to the pending list.
func (q *Redis) sweep(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case <-ticker.C:
		}

		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		ids, err := q.client.ZRangeByScore(ctx, q.claimedKey(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
		if err != nil {
			continue
		}
		for _, id := range ids {
			removed, err := q.client.ZRem(ctx, q.claimedKey(), id).Result()
			if err != nil || removed == 0 {
				continue // another sweeper won the race
			}
			q.client.LPush(ctx, q.pendingKey(), id)
		}
	}
}

// Len returns the pending depth (claimed messages not included).
func (q *Redis) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pendingKey()).Result()
}

func (q *Redis) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()
	return nil
}
