package mocks

import (
	"context"

	"imagerelay/internal/model"

	"github.com/stretchr/testify/mock"
)

type MockImageService struct {
	mock.Mock
}

func (m *MockImageService) Process(ctx context.Context, upload model.Upload) (*model.Analysis, error) {
	args := m.Called(ctx, upload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Analysis), args.Error(1)
}
