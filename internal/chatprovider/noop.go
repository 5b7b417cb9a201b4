package chatprovider

import (
	"context"
	"errors"
)

// errNoChatProvider is returned by NoopProvider for all chat calls.
var errNoChatProvider = errors.New("chat provider not configured — set chat.provider in config")

// NoopProvider is used when no chat provider is configured. IsAvailable
// always returns false; Chat always returns errNoChatProvider. This lets
// scans that never reach the verify phase run without a chat API key.
type NoopProvider struct{}

func (n *NoopProvider) Name() string                       { return "none" }
func (n *NoopProvider) IsAvailable(_ context.Context) bool { return false }

func (n *NoopProvider) Chat(_ context.Context, _ []Message) (*ChatResult, error) {
	return nil, errNoChatProvider
}
