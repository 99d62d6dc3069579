// Package models contains shared data models used across the Briefly codebase.
package models

import (
	"context"
	"errors"
)

// Sentinel errors returned by Provider implementations.
var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
	ErrEmptyInput          = errors.New("cannot embed empty input")
)

// Provider is the core interface that all AI integrations must implement.
// Callers inject this interface rather than a concrete backend.
type Provider interface {
	// Generate runs a text prompt through the model and returns the raw
	// response text. The output is not guaranteed to be valid JSON.
	Generate(ctx context.Context, prompt string) (string, error)
	// Embed converts text into a fixed-length vector. Fails on empty input.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Name returns the provider identifier (e.g., "gemini", "openai").
	Name() string
}
