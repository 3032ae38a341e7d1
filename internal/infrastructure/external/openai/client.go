// Package openai is a completion.Backend for OpenAI-compatible
// chat-completions endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/completion"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/pkg/retry"
)

// DefaultBaseURL is the public OpenAI API.
const DefaultBaseURL = "https://api.openai.com/v1"

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o-mini"

// Config configures the client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// HTTPClient defaults to a client with a 60s timeout. The gateway
	// applies its own per-call deadline on top.
	HTTPClient *http.Client
}

// Client calls /chat/completions.
type Client struct {
	apiKey string
	url    string
	model  string
	http   *http.Client
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		apiKey: cfg.APIKey,
		url:    strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		model:  cfg.Model,
		http:   cfg.HTTPClient,
	}, nil
}

// Name implements completion.Backend.
func (c *Client) Name() string { return "openai:" + c.model }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate implements completion.Backend. Rate limits, 5xx responses and
// timeouts are marked retryable.
func (c *Client) Generate(ctx context.Context, req completion.Request) (string, error) {
	var msgs []message
	if req.System != "" {
		msgs = append(msgs, message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, message{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", retry.Retryable(shared.WrapError("openai", "Generate", shared.ErrGatewayError, "read response", err))
	}

	var out chatResponse
	decodeErr := json.Unmarshal(data, &out)

	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		kind := shared.ErrGatewayError
		if resp.StatusCode == http.StatusTooManyRequests {
			kind = shared.ErrGatewayRateLimited
		}
		err := shared.WrapError("openai", "Generate", kind,
			fmt.Sprintf("status %d: %s", resp.StatusCode, msg), nil)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", retry.Retryable(err)
		}
		return "", err
	}
	if decodeErr != nil {
		return "", shared.WrapError("openai", "Generate", shared.ErrGatewayParse, "decode response", decodeErr)
	}
	if out.Error != nil {
		return "", shared.WrapError("openai", "Generate", shared.ErrGatewayError, out.Error.Message, nil)
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func classifyTransport(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return retry.Retryable(shared.WrapError("openai", "Generate", shared.ErrGatewayTimeout, "request timed out", err))
	}
	if errors.Is(err, context.Canceled) {
		return shared.WrapError("openai", "Generate", shared.ErrGatewayError, "request cancelled", err)
	}
	return retry.Retryable(shared.WrapError("openai", "Generate", shared.ErrGatewayError, "request failed", err))
}

var _ completion.Backend = (*Client)(nil)
