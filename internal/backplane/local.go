package backplane

import (
	"context"
	"sync"
)

// Local is an in-process backplane. A single replica uses it as a no-op
// fan-out; tests use one Local shared by several gateways.
type Local struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	closed chan struct{}
	once   sync.Once
}

func NewLocal() *Local {
	return &Local{
		subs:   make(map[chan Event]struct{}),
		closed: make(chan struct{}),
	}
}

func (l *Local) Publish(ctx context.Context, ev Event) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	// a subscriber that fell behind misses the event, as it would on a
	// lossy broker
	for ch := range l.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (l *Local) Subscribe(ctx context.Context, h Handler, ready func()) error {
	ch := make(chan Event, 256)

	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.subs, ch)
		l.mu.Unlock()
	}()

	if ready != nil {
		ready()
	}

	for {
		select {
		case ev := <-ch:
			h(ev)
		case <-ctx.Done():
			return ctx.Err()
		case <-l.closed:
			return nil
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (l *Local) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}

func (l *Local) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}
