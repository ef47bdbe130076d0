package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockAnalyzer struct {
	mock.Mock
	Source string
}

func (m *MockAnalyzer) GenerateFromImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	args := m.Called(ctx, prompt, image, mimeType)
	return args.String(0), args.Error(1)
}

func (m *MockAnalyzer) SourceName() string {
	if m.Source == "" {
		return "Gemini"
	}
	return m.Source
}
