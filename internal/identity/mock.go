package identity

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}
