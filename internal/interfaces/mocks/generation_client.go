package mocks

import (
	"context"
	"storyteller/internal/interfaces"

	"github.com/stretchr/testify/mock"
)

var _ interfaces.GenerationClient = (*GenerationClient)(nil)

// Mock GenerationClient
type GenerationClient struct {
	mock.Mock
}

func (m *GenerationClient) Generate(ctx context.Context, req interfaces.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}
