package ai

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIProvider runs completions through any OpenAI-compatible API via
// langchain. Unlike the clawd gateway it keeps no per-session state, so
// the session id is ignored; every call is a fresh single-turn request.
type OpenAIProvider struct {
	llm       llms.Model
	maxTokens int
}

func NewOpenAIProvider(opts Options) (*OpenAIProvider, error) {
	llmOpts := []openai.Option{
		openai.WithModel(opts.Model),
		openai.WithToken(opts.Token),
	}
	if opts.BaseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(opts.BaseURL))
	}

	llm, err := openai.New(llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai model: %w", err)
	}
	return &OpenAIProvider{llm: llm, maxTokens: opts.MaxTokens}, nil
}

func (p *OpenAIProvider) Name() string {
	return ProviderOpenAI
}

func (p *OpenAIProvider) Complete(ctx context.Context, _ string, prompt string) (string, error) {
	response, err := llms.GenerateFromSinglePrompt(ctx, p.llm, prompt,
		llms.WithMaxTokens(p.maxTokens))
	if err != nil {
		return "", fmt.Errorf("LLM call failed: %w", err)
	}
	return response, nil
}
