package llm

import (
	"context"
	"fmt"
	"strings"
)

// Config selects and configures a provider.
type Config struct {
	Provider      string
	Model         string
	BaseURL       string
	APIKey        string
	VertexProject string
	VertexRegion  string
	Temperature   float32
	MaxTokens     int
	RPM           int
	Burst         int
}

// New builds the configured provider wrapped in a rate limiter. The returned
// close function releases provider resources and is never nil.
func New(ctx context.Context, cfg Config) (Generator, func() error, error) {
	noop := func() error { return nil }

	var (
		gen     Generator
		closeFn = noop
	)

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "vertex", "gemini":
		v, err := NewVertex(ctx, cfg.VertexProject, cfg.VertexRegion, cfg.Model, cfg.Temperature)
		if err != nil {
			return nil, noop, err
		}
		gen, closeFn = v, v.Close
	case "openai", "openai-compatible":
		o, err := NewOpenAICompat(ctx, cfg.BaseURL, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, noop, err
		}
		gen = o
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, noop, fmt.Errorf("anthropic provider requires an API key")
		}
		gen = NewAnthropic(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens)
	default:
		return nil, noop, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}

	return NewLimited(gen, cfg.RPM, cfg.Burst), closeFn, nil
}
