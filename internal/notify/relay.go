package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel shared by all instances.
const DefaultChannel = "eeetrading:inventory_updates"

// RedisRelay shares notifications between instances through Redis pub/sub,
// so observers connected to any instance see every change.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *slog.Logger
}

// NewRedisRelay creates a relay delivering into hub and registers itself
// as the hub's publisher.
func NewRedisRelay(client *redis.Client, channel string, hub *Hub, logger *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}

	r := &RedisRelay{client: client, channel: channel, hub: hub, logger: logger}
	hub.SetPublisher(r)
	return r
}

// Publish sends an encoded message to every subscribed instance.
func (r *RedisRelay) Publish(ctx context.Context, data []byte) error {
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("notify: publish to %s: %w", r.channel, err)
	}
	return nil
}

// Run subscribes and forwards messages to the local hub until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting readiness.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("notify: subscribe to %s: %w", r.channel, err)
	}

	r.logger.Info("notification relay subscribed", slog.String("channel", r.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.hub.Broadcast([]byte(msg.Payload))
		}
	}
}
