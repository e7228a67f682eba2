package oplog

import (
	"context"

	"github.com/npezzotti/go-drawroom/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Append(ctx context.Context, roomId string, op types.Operation) error {
	args := m.Called(ctx, roomId, op)
	return args.Error(0)
}

func (m *MockStore) Replay(ctx context.Context, roomId string) ([]types.Operation, error) {
	args := m.Called(ctx, roomId)
	if ops := args.Get(0); ops != nil {
		return ops.([]types.Operation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) Reset(ctx context.Context, roomId string) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
