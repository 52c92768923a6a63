package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Queue, IdempotencyTable, and RepoLocker backed by Redis
// streams with a consumer group. At-least-once: messages stay pending until
// acked; nacks re-enqueue with an incremented attempt counter and move to
// the dead-letter stream past the budget.
type RedisQueue struct {
	client      *redis.Client
	stream      string
	deadStream  string
	group       string
	consumer    string
	idemPrefix  string
	lockPrefix  string
	maxAttempts int
}

// RedisQueueConfig configures a RedisQueue.
type RedisQueueConfig struct {
	URL              string
	Stream           string
	Group            string
	IdempotencyTable string
	MaxAttempts      int
}

// NewRedisQueue connects to Redis and ensures the consumer group exists.
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse queue URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	q := &RedisQueue{
		client:      client,
		stream:      cfg.Stream,
		deadStream:  cfg.Stream + ":dead",
		group:       cfg.Group,
		consumer:    "worker-" + uuid.NewString()[:8],
		idemPrefix:  cfg.IdempotencyTable + ":",
		lockPrefix:  cfg.Stream + ":lock:",
		maxAttempts: cfg.MaxAttempts,
	}

	err = client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		client.Close()
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return q, nil
}

// XGROUP CREATE on an existing group returns BUSYGROUP.
func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Enqueue appends a job to the stream.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"job": string(payload)},
	}).Err()
}

// Dequeue blocks on the consumer group until a job arrives.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    5 * time.Second,
		}).Result()
		if err == redis.Nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read from stream: %w", err)
		}
		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			continue
		}

		msg := streams[0].Messages[0]
		raw, _ := msg.Values["job"].(string)
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			// Poison message: ack it away and keep reading.
			q.client.XAck(ctx, q.stream, q.group, msg.ID)
			continue
		}
		return &Delivery{Job: job, messageID: msg.ID}, nil
	}
}

// Ack acknowledges a delivery.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	return q.client.XAck(ctx, q.stream, q.group, d.messageID).Err()
}

// Nack re-enqueues the job with attempt+1, or dead-letters it when the
// retry budget is spent. The original message is acked either way.
func (q *RedisQueue) Nack(ctx context.Context, d *Delivery) error {
	job := d.Job
	job.Attempt++

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	target := q.stream
	if job.Attempt >= q.maxAttempts {
		target = q.deadStream
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: target,
		Values: map[string]any{"job": string(payload)},
	}).Err(); err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return q.client.XAck(ctx, q.stream, q.group, d.messageID).Err()
}

// Reserve implements the idempotency table with SET NX EX: the conditional
// write fails exactly when the delivery ID is already present.
func (q *RedisQueue) Reserve(ctx context.Context, deliveryID string, ttl time.Duration) (bool, error) {
	ok, err := q.client.SetNX(ctx, q.idemPrefix+deliveryID, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency reserve: %w", err)
	}
	return ok, nil
}

// AcquireRepoLock takes the per-repository writer lock, polling until the
// holder releases or expires. The expiry guards against dead workers.
func (q *RedisQueue) AcquireRepoLock(ctx context.Context, repository string) (func(), error) {
	key := q.lockPrefix + repository
	token := uuid.NewString()

	for {
		ok, err := q.client.SetNX(ctx, key, token, 15*time.Minute).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire repo lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	release := func() {
		// Release only our own token; an expired-and-reacquired lock
		// belongs to someone else.
		const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
		q.client.Eval(context.Background(), script, []string{key}, token)
	}
	return release, nil
}

// Depth reports the current stream length.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.stream).Result()
}

// Close closes the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
