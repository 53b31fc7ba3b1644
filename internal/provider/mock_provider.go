package provider

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockAdapter is a mock implementation of Adapter using testify/mock.
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) ID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockAdapter) Generate(ctx context.Context, p Prompt) (Completion, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(Completion), args.Error(1)
}
