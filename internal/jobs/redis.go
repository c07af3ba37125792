package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streed/project-notes/internal/constants"
	interrors "github.com/streed/project-notes/internal/errors"
	"github.com/streed/project-notes/internal/logger"
)

// RedisQueue is a reliable list queue. Consumers BLMOVE a job into a
// processing list and LREM it once handled, so a crashed worker leaves its
// job in the processing list for Recover.
type RedisQueue struct {
	client     *redis.Client
	key        string
	processing string
	dead       string
	poll       time.Duration
}

// NewRedisQueue connects to redisURL (redis://[:password@]host:port/db) and
// checks the connection.
func NewRedisQueue(ctx context.Context, redisURL, name string) (*RedisQueue, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("%w: redis_url is required for the redis queue", interrors.ErrConfiguration)
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redis url: %v", interrors.ErrConfiguration, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisQueue(client, name), nil
}

func newRedisQueue(client *redis.Client, name string) *RedisQueue {
	if name == "" {
		name = constants.DefaultQueueName
	}
	return &RedisQueue{
		client:     client,
		key:        name,
		processing: name + ":processing",
		dead:       name + ":dead",
		poll:       constants.QueuePollInterval,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job EmbedJob) error {
	payload, err := job.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		raw, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.poll).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, redis.ErrClosed) {
				return nil
			}
			logger.Error("Redis queue %s: %v", q.key, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(q.poll):
			}
			continue
		}

		job, err := DecodeJob([]byte(raw))
		if err != nil {
			logger.Error("Dropping malformed job from %s: %v", q.key, err)
			if err := q.pushDead(ctx, DeadLetter{Reason: err.Error(), FailedAt: time.Now().UTC()}, raw); err != nil {
				logger.Error("%v", err)
			}
			q.ack(ctx, raw)
			continue
		}

		_ = handler(ctx, job)
		if ctx.Err() != nil {
			// Interrupted; leave it in the processing list for Recover.
			return nil
		}
		q.ack(ctx, raw)
	}
}

func (q *RedisQueue) ack(ctx context.Context, raw string) {
	if err := q.client.LRem(ctx, q.processing, 1, raw).Err(); err != nil {
		logger.Error("Failed to remove job from %s: %v", q.processing, err)
	}
}

func (q *RedisQueue) DeadLetter(ctx context.Context, job EmbedJob, reason string) error {
	return q.pushDead(ctx, DeadLetter{Job: job, Reason: reason, FailedAt: time.Now().UTC()}, "")
}

func (q *RedisQueue) pushDead(ctx context.Context, letter DeadLetter, raw string) error {
	payload, err := json.Marshal(struct {
		DeadLetter
		Raw string `json:"raw,omitempty"`
	}{letter, raw})
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}
	if err := q.client.LPush(ctx, q.dead, payload).Err(); err != nil {
		return fmt.Errorf("failed to dead-letter job: %w", err)
	}
	return nil
}

// Recover moves every job left in the processing list back onto the queue.
// Run it when no other consumer of the same queue is live.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.key, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover jobs: %w", err)
		}
		moved++
	}
}

// Depth returns the number of waiting, in-flight and dead jobs.
func (q *RedisQueue) Depth(ctx context.Context) (waiting, processing, dead int64, err error) {
	pipe := q.client.Pipeline()
	w := pipe.LLen(ctx, q.key)
	p := pipe.LLen(ctx, q.processing)
	d := pipe.LLen(ctx, q.dead)
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return w.Val(), p.Val(), d.Val(), nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)
