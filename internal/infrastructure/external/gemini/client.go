// Package gemini is a completion.Backend for Google's Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/alem-hub/socratic-tutor/internal/domain/completion"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/pkg/retry"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

// generator is the slice of genai.Models the client uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client generates text with the Gemini API.
type Client struct {
	models generator
	model  string
}

// New creates a Client.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Client{models: client.Models, model: model}, nil
}

// Name implements completion.Backend.
func (c *Client) Name() string { return "gemini:" + c.model }

// Generate implements completion.Backend.
func (c *Client) Generate(ctx context.Context, req completion.Request) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := c.models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}, cfg)
	if err != nil {
		return "", classify(err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return retry.Retryable(shared.WrapError("gemini", "Generate", shared.ErrGatewayTimeout, "request timed out", err))
	}
	if errors.Is(err, context.Canceled) {
		return shared.WrapError("gemini", "Generate", shared.ErrGatewayError, "request cancelled", err)
	}

	wrapped := shared.WrapError("gemini", "Generate", shared.ErrGatewayError, "request failed", err)
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests {
			return retry.Retryable(shared.WrapError("gemini", "Generate", shared.ErrGatewayRateLimited, "quota exhausted", err))
		}
		if apiErr.Code >= 500 {
			return retry.Retryable(wrapped)
		}
		return wrapped
	}
	return retry.Retryable(wrapped)
}

var _ completion.Backend = (*Client)(nil)
