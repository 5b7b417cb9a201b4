package chatprovider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	failureThreshold = 3
	resetTimeout     = 2 * time.Minute
)

type circuitBreaker struct {
	mu           sync.Mutex
	failures     int
	lastFailedAt time.Time
	state        string
}

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{state: "closed"}
}

func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != "open" {
		return true
	}
	if time.Since(cb.lastFailedAt) >= resetTimeout {
		cb.state = "half-open"
		return true
	}
	return false
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = "closed"
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailedAt = time.Now()
	if cb.failures >= failureThreshold {
		cb.state = "open"
		slog.Debug("chatprovider: circuit breaker opened", "failures", cb.failures)
	}
}

// ChainProvider tries each configured provider in order, opening a
// per-provider circuit breaker after repeated failures so a provider
// known to be down isn't retried on every call.
type ChainProvider struct {
	providers []Provider
	breakers  map[string]*circuitBreaker
	mu        sync.RWMutex
	current   string
	fallback  bool
}

// NewChainProvider builds a ChainProvider from an ordered provider list.
func NewChainProvider(providers []Provider) *ChainProvider {
	breakers := make(map[string]*circuitBreaker)
	for _, p := range providers {
		breakers[p.Name()] = newCircuitBreaker()
	}
	current := ""
	if len(providers) > 0 {
		current = providers[0].Name()
	}
	return &ChainProvider{providers: providers, breakers: breakers, current: current}
}

func (c *ChainProvider) Name() string { return "chain" }

func (c *ChainProvider) IsAvailable(ctx context.Context) bool {
	for _, p := range c.providers {
		if p.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

// CurrentProvider reports the provider name that most recently served a
// request, and whether that request was served after failing over.
func (c *ChainProvider) CurrentProvider() (provider string, fallback bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.fallback
}

func (c *ChainProvider) Chat(ctx context.Context, messages []Message) (*ChatResult, error) {
	var lastErr error
	var usedFallback bool

	for _, p := range c.providers {
		breaker := c.breakers[p.Name()]
		if !breaker.allow() {
			slog.Debug("chatprovider: circuit open, skipping provider", "provider", p.Name())
			continue
		}

		result, err := p.Chat(ctx, messages)
		if err == nil {
			breaker.recordSuccess()
			c.mu.Lock()
			c.current = p.Name()
			c.fallback = usedFallback
			c.mu.Unlock()
			if usedFallback {
				slog.Info("chatprovider: provider succeeded after failover", "provider", p.Name())
			}
			return result, nil
		}

		if isAuthError(err) {
			breaker.mu.Lock()
			breaker.state = "open"
			breaker.mu.Unlock()
			slog.Warn("chatprovider: auth error, opening circuit", "provider", p.Name(), "error", err)
		} else {
			breaker.recordFailure()
		}

		slog.Warn("chatprovider: provider failed, trying next", "provider", p.Name(), "error", err)
		lastErr = err
		usedFallback = true
	}

	return nil, fmt.Errorf("all chat providers failed; last error: %w", lastErr)
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "error 401") || strings.Contains(errStr, "error 403")
}
