package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// Options control how a job is published.
type Options struct {
	Priority uint8
	Delay    time.Duration
}

// Publisher submits jobs to a named durable queue. Implemented by the
// RabbitMQ queue below; tests substitute an in-memory fake.
type Publisher interface {
	Publish(queue string, payload any, opts Options) error
}

const maxPriority = 10

// RabbitQueue publishes jobs to durable RabbitMQ queues. Each work queue
// gets a companion wait queue whose dead-letter routing points back at
// the work queue; delayed jobs are published there with a per-message
// TTL, so delay needs no broker plugin.
type RabbitQueue struct {
	conn *amqp.Connection
	mu   sync.Mutex
	ch   *amqp.Channel
}

func NewRabbitQueue(conn *amqp.Connection) (*RabbitQueue, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &RabbitQueue{conn: conn, ch: ch}, nil
}

// Declare sets up the work, wait and dead-letter topology for the given
// queues. Safe to call from both the server and the worker.
func (q *RabbitQueue) Declare(deadLetter string, queues ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if deadLetter != "" {
		if _, err := q.ch.QueueDeclare(deadLetter, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dead letter queue: %w", err)
		}
	}

	for _, name := range queues {
		args := amqp.Table{"x-max-priority": int32(maxPriority)}
		if deadLetter != "" {
			args["x-dead-letter-exchange"] = ""
			args["x-dead-letter-routing-key"] = deadLetter
		}
		if _, err := q.ch.QueueDeclare(name, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}

		waitArgs := amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": name,
		}
		if _, err := q.ch.QueueDeclare(waitName(name), true, false, false, false, waitArgs); err != nil {
			return fmt.Errorf("declare wait queue for %s: %w", name, err)
		}
	}
	return nil
}

// Publish serializes the payload as JSON and submits it. A non-zero
// delay routes the job through the wait queue with a per-message TTL.
func (q *RabbitQueue) Publish(queue string, payload any, opts Options) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Priority:     opts.Priority,
		Timestamp:    time.Now(),
	}

	target := queue
	if opts.Delay > 0 {
		target = waitName(queue)
		publishing.Expiration = strconv.FormatInt(opts.Delay.Milliseconds(), 10)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ch.Publish("", target, false, false, publishing)
}

func (q *RabbitQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ch.Close()
}

func waitName(queue string) string {
	return queue + ".wait"
}
