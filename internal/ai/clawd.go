package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// restrictedCapabilities is sent with every request so the completion
// service refuses tool use for replies generated on behalf of the bot.
const restrictedCapabilities = "exec:deny,read:deny,write:deny,browser:deny,nodes:deny,memory_search:deny,web_fetch:deny"

// ClawdClient talks to a clawd completion gateway over its
// OpenAI-compatible chat endpoint. The gateway keys conversation state
// on the request's user field, so the caller's session id goes there.
type ClawdClient struct {
	baseURL    string
	token      string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// NewClawdClient creates a client for the gateway at opts.BaseURL.
// Request deadlines come from the caller's context, not the client.
func NewClawdClient(opts Options) *ClawdClient {
	return &ClawdClient{
		baseURL:    opts.BaseURL,
		token:      opts.Token,
		model:      opts.Model,
		maxTokens:  opts.MaxTokens,
		httpClient: &http.Client{},
	}
}

func (c *ClawdClient) Name() string {
	return ProviderClawd
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	User      string        `json:"user"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *ClawdClient) Complete(ctx context.Context, sessionID, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		User:      sessionID,
		MaxTokens: c.maxTokens,
		Stream:    false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	url := c.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("x-clawdbot-agent-restrictions", restrictedCapabilities)
	req.Header.Set("x-clawdbot-session-max-turns", "1")

	log.Debug().
		Str("session", sessionID).
		Str("model", c.model).
		Int("prompt_len", len(prompt)).
		Msg("Calling completion gateway")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion gateway returned %d: %s", resp.StatusCode, truncateForError(data))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion gateway returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncateForError(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
