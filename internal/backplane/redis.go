package backplane

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultRedisChannel = "chat-gateway:events"

type Redis struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

// NewRedis connects to the redis server at addr, retrying until it answers
// PING or ctx is done.
func NewRedis(ctx context.Context, addr string, log *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)

	err = dial(ctx, 30*time.Second, func() error {
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("redis not ready", zap.String("addr", opts.Addr), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &Redis{
		client:  client,
		channel: DefaultRedisChannel,
		log:     log.With(zap.String("backplane", "redis")),
	}, nil
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	data, err := encode(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

func (r *Redis) Subscribe(ctx context.Context, h Handler, ready func()) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Debug("subscribed", zap.String("channel", r.channel))
	if ready != nil {
		ready()
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			ev, err := decode([]byte(msg.Payload))
			if err != nil {
				r.log.Warn("failed to decode event", zap.Error(err))
				continue
			}
			h(ev)
		}
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
