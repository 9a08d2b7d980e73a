package mocks

import (
	"context"

	"pyqapi/internal/service"

	"github.com/stretchr/testify/mock"
)

type MockDownloadService struct {
	mock.Mock
}

func (m *MockDownloadService) ResolveAndDownload(ctx context.Context, id string) (*service.DownloadResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DownloadResult), args.Error(1)
}
