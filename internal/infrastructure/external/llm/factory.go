package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/completion"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/external/gemini"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/external/openai"
	"github.com/alem-hub/socratic-tutor/pkg/ratelimit"
)

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config selects and configures providers.
type Config struct {
	// Provider is the primary backend: "openai" or "gemini".
	Provider string

	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string

	GeminiKey   string
	GeminiModel string

	// Fallback adds the other provider behind the primary when its key is set.
	Fallback bool

	Timeout time.Duration

	// RequestsPerSecond throttles each provider separately. Zero disables it.
	RequestsPerSecond float64
}

// New builds the gateway described by cfg.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (completion.Gateway, error) {
	primary, err := backend(ctx, cfg, strings.ToLower(cfg.Provider))
	if err != nil {
		return nil, err
	}
	gw := NewResilient(primary, options(cfg, logger))
	if !cfg.Fallback {
		return gw, nil
	}

	other := ProviderGemini
	if strings.EqualFold(cfg.Provider, ProviderGemini) {
		other = ProviderOpenAI
	}
	secondary, err := backend(ctx, cfg, other)
	if err != nil {
		if logger != nil {
			logger.Warn("fallback provider not configured", "provider", other, "error", err)
		}
		return gw, nil
	}
	return NewChain(gw, NewResilient(secondary, options(cfg, logger))), nil
}

// options gives every provider its own limiter so a throttled primary does
// not hold back the fallback.
func options(cfg Config, logger *slog.Logger) Options {
	opts := Options{Timeout: cfg.Timeout, Logger: logger}
	if cfg.RequestsPerSecond > 0 {
		rl := ratelimit.DefaultConfig()
		rl.RequestsPerSecond = cfg.RequestsPerSecond
		opts.Limiter = ratelimit.New(rl)
	}
	return opts
}

func backend(ctx context.Context, cfg Config, provider string) (completion.Backend, error) {
	switch provider {
	case ProviderOpenAI, "":
		c, err := openai.New(openai.Config{APIKey: cfg.OpenAIKey, Model: cfg.OpenAIModel, BaseURL: cfg.OpenAIBaseURL})
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderGemini:
		c, err := gemini.New(ctx, cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", provider)
	}
}
