// Package embedprovider abstracts calls to a text-embedding model, used by
// the embed phase to produce code and intent vectors (§4.4).
package embedprovider

import (
	"context"
	"fmt"

	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/internal/ratelimit"
)

// Provider abstracts calls to an embedding model.
type Provider interface {
	// Name returns the provider identifier ("openai" or "ollama").
	Name() string

	// Embed returns one vector per input text, in the same order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the length of every vector Embed returns.
	Dimensions() int
}

// New returns the configured Provider.
func New(cfg config.EmbedConfig, limiter *ratelimit.Limiter) (Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embed: no OpenAI API key configured")
		}
		return NewOpenAI(cfg, limiter), nil
	case "ollama":
		return NewOllama(cfg, limiter), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q (supported: openai, ollama)", cfg.Provider)
	}
}
