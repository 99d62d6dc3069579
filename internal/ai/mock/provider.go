// Package mock provides a configurable models.Provider for testing.
package mock

import (
	"context"

	"github.com/kmathur/briefly/pkg/models"
)

// MockProvider satisfies models.Provider for testing.
type MockProvider struct {
	Name_        string
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	EmbedFunc    func(ctx context.Context, text string) ([]float32, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return "", nil
}

func (m *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	if text == "" {
		return nil, models.ErrEmptyInput
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

// NewMockProvider returns a MockProvider with sensible default responses.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, _ string) (string, error) {
			return `{"executiveSummary":"Mock summary for testing"}`, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _ string) (string, error) {
			return "", err
		},
		EmbedFunc: func(_ context.Context, _ string) ([]float32, error) {
			return nil, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		GenerateFunc: func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", models.ErrInferenceTimeout
		},
		EmbedFunc: func(ctx context.Context, _ string) ([]float32, error) {
			<-ctx.Done()
			return nil, models.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements Provider.
var _ models.Provider = (*MockProvider)(nil)
