package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockObjectStore is a mock implementation of repository.ObjectStore
type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error {
	args := m.Called(ctx, key, body, size, contentType)
	return args.Error(0)
}

func (m *MockObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockObjectStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
