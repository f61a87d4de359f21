package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/TheMichaelB/fieldsync/internal/connectivity"
	"github.com/TheMichaelB/fieldsync/internal/transport"
)

var _ transport.Remote = (*MockRemote)(nil)

// MockRemote mocks the remote backend with expectations.
type MockRemote struct {
	mock.Mock
}

// NewMockRemote creates a remote mock.
func NewMockRemote() *MockRemote {
	return &MockRemote{}
}

func (m *MockRemote) UploadBinary(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, path, data, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockRemote) PublicURL(path string) (string, error) {
	args := m.Called(path)
	return args.String(0), args.Error(1)
}

func (m *MockRemote) UpsertRecord(ctx context.Context, table, keyField string, payload map[string]interface{}) error {
	args := m.Called(ctx, table, keyField, payload)
	return args.Error(0)
}

// NewMonitor creates a connectivity monitor with no probe URL, starting in
// the given state. Tests drive transitions with SetOnline.
func NewMonitor(online bool) *connectivity.Monitor {
	return connectivity.NewMonitor(connectivity.Options{InitialOnline: online}, NewTestLogger())
}

// AssertMockExpectations verifies all mock expectations.
func AssertMockExpectations(t mock.TestingT, mocks ...interface{}) {
	for _, m := range mocks {
		if mockObj, ok := m.(interface{ AssertExpectations(mock.TestingT) bool }); ok {
			mockObj.AssertExpectations(t)
		}
	}
}
