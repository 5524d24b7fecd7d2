package backplane

import (
	"context"
	"testing"
	"time"

	"github.com/npezzotti/chat-gateway/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventCodec(t *testing.T) {
	ev := Event{
		Kind:        KindRelay,
		Origin:      "node-1",
		RecipientId: "user-2",
		Message: &types.Message{
			Id:       "m1",
			RoomId:   "r1",
			SenderId: "user-1",
			SeqId:    7,
			Text:     "hi",
		},
	}

	data, err := encode(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"relay"`)
	assert.NotContains(t, string(data), `"typing"`, "expected unset sections to be omitted")

	decoded, err := decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindRelay, decoded.Kind)
	assert.Equal(t, "node-1", decoded.Origin)
	assert.Equal(t, int64(7), decoded.Message.SeqId)

	_, err = decode([]byte(`{"kind":`))
	assert.Error(t, err)
}

func TestLocal(t *testing.T) {
	t.Run("delivers to every subscriber", func(t *testing.T) {
		l := NewLocal()
		defer l.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		got1 := make(chan Event, 1)
		got2 := make(chan Event, 1)
		go l.Subscribe(ctx, func(ev Event) { got1 <- ev }, nil)
		go l.Subscribe(ctx, func(ev Event) { got2 <- ev }, nil)

		require.Eventually(t, func() bool { return l.Subscribers() == 2 }, time.Second, 5*time.Millisecond)

		ev := Event{Kind: KindPresence, Origin: "a", Presence: &PresenceChange{UserId: "u1", Online: true}}
		require.NoError(t, l.Publish(ctx, ev))

		for _, ch := range []chan Event{got1, got2} {
			select {
			case got := <-ch:
				assert.Equal(t, ev, got)
			case <-time.After(time.Second):
				t.Fatal("expected event to be delivered")
			}
		}
	})

	t.Run("ready once subscribed", func(t *testing.T) {
		l := NewLocal()
		defer l.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		got := make(chan Event, 1)
		ready := make(chan int, 1)
		go l.Subscribe(ctx, func(ev Event) { got <- ev }, func() { ready <- l.Subscribers() })

		select {
		case n := <-ready:
			assert.Equal(t, 1, n, "expected the subscription to be registered before ready")
		case <-time.After(time.Second):
			t.Fatal("expected ready to be called")
		}

		// published right after ready, nothing may be lost
		require.NoError(t, l.Publish(ctx, Event{Kind: KindSyncRequest, Origin: "b"}))
		select {
		case ev := <-got:
			assert.Equal(t, KindSyncRequest, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("expected event published after ready to be delivered")
		}
	})

	t.Run("subscribe returns on close", func(t *testing.T) {
		l := NewLocal()
		done := make(chan error, 1)
		go func() { done <- l.Subscribe(context.Background(), func(Event) {}, nil) }()

		require.NoError(t, l.Close())
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("expected subscribe to return after close")
		}

		assert.ErrorIs(t, l.Publish(context.Background(), Event{}), ErrClosed)
	})

	t.Run("subscribe returns on context cancel", func(t *testing.T) {
		l := NewLocal()
		defer l.Close()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- l.Subscribe(ctx, func(Event) {}, nil) }()
		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("expected subscribe to return after cancel")
		}
	})
}

func TestDial(t *testing.T) {
	t.Run("retries until success", func(t *testing.T) {
		attempts := 0
		err := dial(context.Background(), 5*time.Second, func() error {
			attempts++
			if attempts < 3 {
				return assert.AnError
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("stops when context is done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := dial(ctx, 5*time.Second, func() error { return assert.AnError })
		assert.Error(t, err)
	})
}
