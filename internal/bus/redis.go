package bus

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

// RedisBus carries signals over Redis pub/sub so multiple service instances
// can share one ingestion feed.
type RedisBus struct {
	client *redis.Client
	logger *log.Logger
}

var (
	_ Publisher  = (*RedisBus)(nil)
	_ Subscriber = (*RedisBus)(nil)
)

// NewRedisBus creates a bus on an existing Redis client. The client is owned
// by the caller and is not closed by the bus.
func NewRedisBus(client *redis.Client, logger *log.Logger) *RedisBus {
	if logger == nil {
		logger = log.Default()
	}
	return &RedisBus{client: client, logger: logger}
}

// Publish sends the signal to the Redis channel of the same name.
func (b *RedisBus) Publish(ctx context.Context, signal string) error {
	return b.client.Publish(ctx, signal, "").Err()
}

// Subscribe listens on the Redis channel of the same name. Deliveries
// coalesce when the consumer is slower than the feed.
func (b *RedisBus) Subscribe(ctx context.Context, signal string) (<-chan struct{}, error) {
	sub := b.client.Subscribe(ctx, signal)

	// Wait for the subscription to be established so publishes after this
	// call are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan struct{}, 1)

	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					b.logger.Printf("[bus] redis subscription %q closed", signal)
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out, nil
}
