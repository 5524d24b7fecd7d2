package backplane

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const DefaultNatsSubject = "chat-gateway.events"

const flushTimeout = 5 * time.Second

type NATS struct {
	conn    *nats.Conn
	subject string
	log     *zap.Logger
}

func NewNATS(ctx context.Context, url, name string, log *zap.Logger) (*NATS, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3 * time.Second),
	}

	var conn *nats.Conn
	err := dial(ctx, 30*time.Second, func() error {
		var err error
		conn, err = nats.Connect(url, opts...)
		if err != nil {
			log.Warn("nats not ready", zap.String("url", url), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &NATS{
		conn:    conn,
		subject: DefaultNatsSubject,
		log:     log.With(zap.String("backplane", "nats")),
	}, nil
}

func (n *NATS) Publish(_ context.Context, ev Event) error {
	data, err := encode(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return n.conn.Publish(n.subject, data)
}

func (n *NATS) Subscribe(ctx context.Context, h Handler, ready func()) error {
	ch := make(chan *nats.Msg, 256)
	sub, err := n.conn.ChanSubscribe(n.subject, ch)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", n.subject, err)
	}
	defer sub.Unsubscribe()

	// the subscription is only known to the server once the SUB is flushed
	if err := n.conn.FlushTimeout(flushTimeout); err != nil {
		return fmt.Errorf("flush subscription: %w", err)
	}
	n.log.Debug("subscribed", zap.String("subject", n.subject))
	if ready != nil {
		ready()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			ev, err := decode(msg.Data)
			if err != nil {
				n.log.Warn("failed to decode event", zap.Error(err))
				continue
			}
			h(ev)
		}
	}
}

func (n *NATS) Close() error {
	return n.conn.Drain()
}
