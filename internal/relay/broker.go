// Package relay delivers broadcast frames to the relay's subscriber hub,
// either directly or through Redis pub/sub when several relay processes
// share one logical channel.
package relay

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vrsandeep/fastchecker/internal/websocket"
)

// Broker publishes a frame to every subscriber of the relay.
type Broker interface {
	Publish(ctx context.Context, frame []byte) error
	Close() error
}

// LocalBroker hands frames straight to the in-process hub.
type LocalBroker struct {
	hub *websocket.Hub
}

func NewLocalBroker(hub *websocket.Hub) *LocalBroker {
	return &LocalBroker{hub: hub}
}

func (b *LocalBroker) Publish(_ context.Context, frame []byte) error {
	if !b.hub.Broadcast(frame) {
		return fmt.Errorf("hub stopped")
	}
	return nil
}

func (b *LocalBroker) Close() error { return nil }

// RedisBroker publishes frames to a Redis channel and feeds every frame seen
// on that channel, including its own, to the local hub.
type RedisBroker struct {
	client  *redis.Client
	sub     *redis.PubSub
	channel string
	log     *zap.SugaredLogger
	done    chan struct{}
}

// RedisOptions configures NewRedisBroker.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// NewRedisBroker connects, subscribes to opts.Channel and starts forwarding
// to hub. The subscription is confirmed before it returns, so nothing
// published afterwards is missed.
func NewRedisBroker(ctx context.Context, opts RedisOptions, hub *websocket.Hub, log *zap.SugaredLogger) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	sub := client.Subscribe(ctx, opts.Channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		client.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", opts.Channel, err)
	}

	b := &RedisBroker{
		client:  client,
		sub:     sub,
		channel: opts.Channel,
		log:     log,
		done:    make(chan struct{}),
	}
	go b.forward(hub)
	return b, nil
}

func (b *RedisBroker) forward(hub *websocket.Hub) {
	defer close(b.done)
	for msg := range b.sub.Channel() {
		if !hub.Broadcast([]byte(msg.Payload)) {
			return
		}
	}
}

func (b *RedisBroker) Publish(ctx context.Context, frame []byte) error {
	if err := b.client.Publish(ctx, b.channel, frame).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.channel, err)
	}
	return nil
}

func (b *RedisBroker) Close() error {
	err := b.sub.Close()
	<-b.done
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}
