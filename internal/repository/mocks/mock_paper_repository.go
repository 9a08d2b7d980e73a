package mocks

import (
	"context"
	"time"

	"pyqapi/internal/model"
	"pyqapi/internal/repository"

	"github.com/stretchr/testify/mock"
)

type MockPaperRepository struct {
	mock.Mock
}

func (m *MockPaperRepository) Create(ctx context.Context, p *model.Paper) (*model.Paper, error) {
	args := m.Called(ctx, p)
	if f, ok := args.Get(0).(func(*model.Paper) *model.Paper); ok {
		return f(p), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Paper), args.Error(1)
}

func (m *MockPaperRepository) FindByID(ctx context.Context, id string) (*model.Paper, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Paper), args.Error(1)
}

func (m *MockPaperRepository) List(ctx context.Context, f model.PaperFilter, pq repository.PageQuery) (*repository.PageResult[model.Paper], error) {
	args := m.Called(ctx, f, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.Paper]), args.Error(1)
}

func (m *MockPaperRepository) CountSince(ctx context.Context, t time.Time) (int, error) {
	args := m.Called(ctx, t)
	return args.Int(0), args.Error(1)
}

func (m *MockPaperRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
