package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/streed/project-notes/internal/constants"
	interrors "github.com/streed/project-notes/internal/errors"
	"github.com/streed/project-notes/internal/logger"
)

// AMQPQueue uses a durable RabbitMQ queue with persistent messages and
// manual acks. Unacked deliveries are redelivered by the broker when a
// consumer's channel closes.
type AMQPQueue struct {
	conn *amqp.Connection
	name string
	dead string

	mu      sync.Mutex
	publish *amqp.Channel
}

func NewAMQPQueue(url, name string) (*AMQPQueue, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: amqp_url is required for the amqp queue", interrors.ErrConfiguration)
	}
	if name == "" {
		name = constants.DefaultQueueName
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	q := &AMQPQueue{conn: conn, name: name, dead: name + constants.DeadLetterQueueSuffix, publish: ch}
	for _, queue := range []string{q.name, q.dead} {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
	}

	logger.Debug("RabbitMQ queue %s ready", name)
	return q, nil
}

func (q *AMQPQueue) send(queue string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.publish.Publish("", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (q *AMQPQueue) Enqueue(_ context.Context, job EmbedJob) error {
	body, err := job.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.send(q.name, body); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

// Consume opens its own channel with a prefetch of one, so concurrent
// consumers share work fairly.
func (q *AMQPQueue) Consume(ctx context.Context, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(q.name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", q.name, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("rabbitmq delivery channel for %s closed", q.name)
			}

			job, err := DecodeJob(d.Body)
			if err != nil {
				logger.Error("Dropping malformed job from %s: %v", q.name, err)
				if err := q.DeadLetter(ctx, EmbedJob{}, err.Error()); err != nil {
					logger.Error("%v", err)
				}
				_ = d.Ack(false)
				continue
			}

			_ = handler(ctx, job)
			if ctx.Err() != nil {
				// Interrupted; the broker redelivers once the channel closes.
				return nil
			}
			if err := d.Ack(false); err != nil {
				logger.Error("Failed to ack job for note %s: %v", job.NoteID, err)
			}
		}
	}
}

func (q *AMQPQueue) DeadLetter(_ context.Context, job EmbedJob, reason string) error {
	body, err := json.Marshal(DeadLetter{Job: job, Reason: reason, FailedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}
	if err := q.send(q.dead, body); err != nil {
		return fmt.Errorf("failed to dead-letter job: %w", err)
	}
	return nil
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.publish.Close(); err != nil {
		logger.Debug("Closing rabbitmq channel: %v", err)
	}
	return q.conn.Close()
}

var _ Queue = (*AMQPQueue)(nil)
