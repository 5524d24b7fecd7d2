package database

import (
	"context"

	"github.com/npezzotti/chat-gateway/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockRepository) ListChatsForUser(ctx context.Context, userId string) ([]types.Chat, error) {
	args := m.Called(ctx, userId)
	if chats, ok := args.Get(0).([]types.Chat); ok {
		return chats, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) GetChat(ctx context.Context, chatId string) (types.Chat, error) {
	args := m.Called(ctx, chatId)
	return args.Get(0).(types.Chat), args.Error(1)
}
func (m *MockRepository) ListMessagesByChat(ctx context.Context, chatId string, sinceSeq int64, limit int) ([]types.Message, error) {
	args := m.Called(ctx, chatId, sinceSeq, limit)
	if messages, ok := args.Get(0).([]types.Message); ok {
		return messages, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
