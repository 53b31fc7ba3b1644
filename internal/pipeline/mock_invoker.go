package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"aina-assist/internal/engine"
)

// MockInvoker is a mock implementation of Invoker using testify/mock.
type MockInvoker struct {
	mock.Mock
}

func (m *MockInvoker) Invoke(ctx context.Context, req engine.Request) (*engine.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*engine.Result), args.Error(1)
}
