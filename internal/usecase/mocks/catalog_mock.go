package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/zots0127/filegate/internal/domain/entities"
)

// MockCatalog is a mock implementation of repository.Catalog
type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) Insert(ctx context.Context, rec *entities.FileRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockCatalog) Get(ctx context.Context, fileID string) (*entities.FileRecord, error) {
	args := m.Called(ctx, fileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.FileRecord), args.Error(1)
}

func (m *MockCatalog) UpdateState(ctx context.Context, fileID string, from, to entities.LifecycleState) error {
	args := m.Called(ctx, fileID, from, to)
	return args.Error(0)
}

func (m *MockCatalog) List(ctx context.Context, filter entities.ListFilter, cursor string, limit int) (*entities.ListPage, error) {
	args := m.Called(ctx, filter, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ListPage), args.Error(1)
}

func (m *MockCatalog) ActiveStorageKeys(ctx context.Context) (map[string]bool, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]bool), args.Error(1)
}

func (m *MockCatalog) DeletePermanently(ctx context.Context, fileID string) error {
	args := m.Called(ctx, fileID)
	return args.Error(0)
}
