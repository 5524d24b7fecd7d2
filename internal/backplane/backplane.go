// Package backplane fans gateway events out across gateway replicas.
//
// Every replica publishes the events it produces locally and delivers the
// events it receives from other replicas to its own connections only.
// Events are tagged with the id of the node that produced them so that a
// node can discard its own publications.
package backplane

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/npezzotti/chat-gateway/internal/json"
	"github.com/npezzotti/chat-gateway/internal/types"
)

type Kind string

const (
	KindRelay    Kind = "relay"
	KindSeen     Kind = "seen"
	KindTyping   Kind = "typing"
	KindPresence Kind = "presence"
	// KindSyncRequest asks every other node to publish its local online set.
	KindSyncRequest  Kind = "sync-request"
	KindPresenceSync Kind = "presence-sync"
)

var ErrClosed = errors.New("backplane closed")

type PresenceChange struct {
	UserId string `json:"user_id"`
	Online bool   `json:"online"`
}

type Event struct {
	Kind        Kind               `json:"kind"`
	Origin      string             `json:"origin"`
	Message     *types.Message     `json:"message,omitempty"`
	RecipientId string             `json:"recipient_id,omitempty"`
	Seen        *types.SeenReceipt `json:"seen,omitempty"`
	Typing      *types.TypingState `json:"typing,omitempty"`
	Presence    *PresenceChange    `json:"presence,omitempty"`
	Users       []string           `json:"users,omitempty"`
}

type Handler func(Event)

type Backplane interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe delivers events to h until ctx is done or the backplane is
	// closed. It blocks. ready, when not nil, is called once the
	// subscription is registered with the broker; events published after
	// that point are delivered.
	Subscribe(ctx context.Context, h Handler, ready func()) error
	Close() error
}

func encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func decode(data []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(data, &ev)
	return ev, err
}

// dial retries connect with exponential backoff until it succeeds, ctx is
// done or maxElapsed passes.
func dial(ctx context.Context, maxElapsed time.Duration, connect func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = maxElapsed

	return backoff.Retry(connect, backoff.WithContext(bo, ctx))
}
