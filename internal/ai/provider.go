package ai

import (
	"context"
	"fmt"
)

// Provider is a completion backend. Complete runs a single-turn request
// and returns raw reply text; sessionID routes the request to a
// per-user conversation on backends that support it.
type Provider interface {
	Name() string
	Complete(ctx context.Context, sessionID, prompt string) (string, error)
}

const (
	ProviderClawd  = "clawd"
	ProviderOpenAI = "openai"
)

// Options contains everything needed to construct a provider.
type Options struct {
	Provider  string
	BaseURL   string
	Token     string
	Model     string
	MaxTokens int
}

// New creates the provider selected by opts.Provider.
func New(opts Options) (Provider, error) {
	switch opts.Provider {
	case ProviderClawd:
		return NewClawdClient(opts), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(opts)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", opts.Provider)
	}
}
