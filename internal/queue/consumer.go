package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// Consumer pulls deliveries from one durable queue and fans them out to a
// fixed pool of worker goroutines. Handlers own ack/nack for their
// delivery; the consumer only logs handler errors.
type Consumer struct {
	conn        *amqp.Connection
	queue       string
	prefetch    int
	workerCount int
	logger      *zap.SugaredLogger
}

func NewConsumer(conn *amqp.Connection, queue string, prefetch, workerCount int, logger *zap.SugaredLogger) *Consumer {
	if prefetch <= 0 {
		prefetch = 50
	}
	if workerCount <= 0 {
		workerCount = 5
	}
	return &Consumer{
		conn:        conn,
		queue:       queue,
		prefetch:    prefetch,
		workerCount: workerCount,
		logger:      logger,
	}
}

// Start consumes until the context is cancelled. It blocks.
func (c *Consumer) Start(ctx context.Context, handler func(context.Context, amqp.Delivery) error) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("qos configuration failed: %w", err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < c.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-deliveries:
					if !ok {
						return
					}
					if err := handler(ctx, msg); err != nil {
						c.logger.Errorw("handler returned error", "queue", c.queue, "error", err)
					}
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}
