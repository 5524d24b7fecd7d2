// Package database reads chats and messages from the durable message store.
// The gateway never writes to the store; messages and seen flags are
// persisted by the chat service before they are handed to the relay.
package database

import (
	"context"
	"errors"

	"github.com/npezzotti/chat-gateway/internal/types"
)

const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 200
)

var ErrNotFound = errors.New("not found")

type Repository interface {
	Ping(ctx context.Context) error
	// ListChatsForUser returns the chats userId takes part in, most recently
	// updated first, with the number of messages from the other party that
	// userId has not seen.
	ListChatsForUser(ctx context.Context, userId string) ([]types.Chat, error)
	GetChat(ctx context.Context, chatId string) (types.Chat, error)
	// ListMessagesByChat returns up to limit messages persisted after
	// sinceSeq, ordered by persisted sequence ascending.
	ListMessagesByChat(ctx context.Context, chatId string, sinceSeq int64, limit int) ([]types.Message, error)
	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		return MaxMessageLimit
	}
	return limit
}
