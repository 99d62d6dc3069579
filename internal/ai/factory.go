// Package ai constructs the configured model backend behind models.Provider.
package ai

import (
	"fmt"

	"github.com/kmathur/briefly/internal/ai/gemini"
	"github.com/kmathur/briefly/internal/ai/openai"
	"github.com/kmathur/briefly/internal/config"
	"github.com/kmathur/briefly/pkg/models"
)

// NewProvider constructs the appropriate AI provider based on config.
// Called once at process startup.
func NewProvider(cfg config.AIConfig) (models.Provider, error) {
	switch cfg.Provider {
	case "gemini":
		return gemini.NewProvider(cfg.Gemini, cfg.InferenceTimeout), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI, cfg.InferenceTimeout), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of gemini, openai", cfg.Provider)
	}
}
