// Package gemini implements models.Provider against the Google Generative
// Language REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/kmathur/briefly/internal/config"
	"github.com/kmathur/briefly/pkg/models"
)

// Provider implements models.Provider using Gemini.
type Provider struct {
	cfg    config.GeminiConfig
	client *http.Client
}

func NewProvider(cfg config.GeminiConfig, timeout time.Duration) *Provider {
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *Provider) Name() string { return "gemini" }

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type embedRequest struct {
	Content content `json:"content"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	var resp generateResponse
	req := generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}}
	if err := p.post(ctx, p.cfg.Model, "generateContent", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no candidates returned", models.ErrInvalidResponse)
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, models.ErrEmptyInput
	}
	var resp embedResponse
	req := embedRequest{Content: content{Parts: []part{{Text: text}}}}
	if err := p.post(ctx, p.cfg.EmbeddingModel, "embedContent", req, &resp); err != nil {
		return nil, err
	}
	return resp.Embedding.Values, nil
}

func (p *Provider) post(ctx context.Context, model, method string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/v1beta/models/%s:%s?key=%s", p.cfg.BaseURL, model, method, p.cfg.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", models.ErrProviderUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", models.ErrInvalidResponse, err)
	}
	return nil
}

// classifyError maps transport failures onto the ai sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrInferenceTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", models.ErrInferenceTimeout, err)
	}
	return fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
}

var _ models.Provider = (*Provider)(nil)
