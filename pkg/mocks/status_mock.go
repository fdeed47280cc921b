package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/gale/pkg/status"
)

// MockReporter is a mock implementation of the status.Reporter interface.
type MockReporter struct {
	mock.Mock
}

func (m *MockReporter) Report(ctx context.Context, update status.Update) error {
	args := m.Called(ctx, update)

	return args.Error(0)
}
