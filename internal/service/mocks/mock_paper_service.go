package mocks

import (
	"context"
	"io"
	"time"

	"pyqapi/internal/model"
	"pyqapi/internal/service"

	"github.com/stretchr/testify/mock"
)

type MockPaperService struct {
	mock.Mock
}

func (m *MockPaperService) Upload(ctx context.Context, in service.UploadInput, r io.Reader) (*model.Paper, error) {
	args := m.Called(ctx, in, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Paper), args.Error(1)
}

func (m *MockPaperService) Get(ctx context.Context, id string) (*model.Paper, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Paper), args.Error(1)
}

func (m *MockPaperService) List(ctx context.Context, p service.ListParams) (*service.PaperListResult, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PaperListResult), args.Error(1)
}

func (m *MockPaperService) ListAll(ctx context.Context, f model.PaperFilter) ([]model.Paper, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Paper), args.Error(1)
}

func (m *MockPaperService) Stats(ctx context.Context, now time.Time) (*service.Stats, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Stats), args.Error(1)
}

func (m *MockPaperService) Delete(ctx context.Context, id string) (*service.DeleteResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DeleteResult), args.Error(1)
}
