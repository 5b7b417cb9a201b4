// Package chatprovider abstracts calls to a chat/completion model, used by
// the verify phase (pairwise duplicate confirmation) and the rank phase
// (group ranking). Every implementation is asked to respond with JSON
// matching the caller's declared schema; chatprovider itself does not parse
// or validate that JSON, it only returns the raw response text for the
// caller to unmarshal against its own struct.
package chatprovider

import (
	"context"
	"fmt"

	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/internal/ratelimit"
)

// Message is one turn in a chat completion request.
type Message struct {
	Role    string // "system" or "user"
	Content string
}

// TokenUsage reports how many tokens a Chat call consumed.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// ChatResult is the raw model response alongside token usage.
type ChatResult struct {
	Response string
	Usage    TokenUsage
}

// Provider abstracts calls to a chat/completion model.
type Provider interface {
	// Name returns the provider identifier ("openai", "anthropic", "ollama").
	Name() string

	// IsAvailable reports whether the provider is reachable and configured.
	IsAvailable(ctx context.Context) bool

	// Chat sends messages and returns the model's response text.
	Chat(ctx context.Context, messages []Message) (*ChatResult, error)
}

// New returns the configured Provider. Unlike embedprovider.New, an empty or
// unset provider configuration is not an error: it returns a NoopProvider so
// callers can run ingest/embed/cluster in isolation (e.g. dry runs, or
// scans that never reach verify) without a chat API key configured.
func New(cfg config.ChatConfig, limiter *ratelimit.Limiter) (Provider, error) {
	switch cfg.Provider {
	case "", "none":
		return &NoopProvider{}, nil
	case "openai":
		if cfg.APIKey == "" {
			return &NoopProvider{}, nil
		}
		return NewOpenAI(cfg, limiter), nil
	case "anthropic":
		if cfg.APIKey == "" {
			return &NoopProvider{}, nil
		}
		return NewAnthropic(cfg, limiter), nil
	case "ollama":
		return NewOllama(cfg, limiter), nil
	default:
		return nil, fmt.Errorf("unsupported chat provider %q (supported: openai, anthropic, ollama)", cfg.Provider)
	}
}

// NewChain returns a ChainProvider trying each named provider in order,
// falling back to the next on failure. Names are resolved the same way
// New resolves a single cfg.Provider value.
func NewChain(cfg config.ChatConfig, names []string, limiter *ratelimit.Limiter) (Provider, error) {
	providers := make([]Provider, 0, len(names))
	for _, name := range names {
		sub := cfg
		sub.Provider = name
		p, err := New(sub, limiter)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return NewChainProvider(providers), nil
}
