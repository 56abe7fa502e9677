package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ClaudeClient implements ModelClient using the Anthropic Messages API.
type ClaudeClient struct {
	clientConfig
}

// NewClaudeClient creates a new Anthropic Claude model client.
func NewClaudeClient(apiKey string, opts ...Option) *ClaudeClient {
	return &ClaudeClient{newClientConfig(apiKey, "https://api.anthropic.com/v1", "claude-sonnet-4-20250514", 60*time.Second, opts)}
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
}

// claudeJSONSystem stands in for a JSON response mode, which the Messages
// API does not have.
const claudeJSONSystem = "Respond with a single JSON object and nothing else."

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Name returns the configured model.
func (c *ClaudeClient) Name() string { return "claude/" + c.model }

// Complete sends a prompt to the Anthropic Messages API and returns the response text.
func (c *ClaudeClient) Complete(ctx context.Context, prompt string) (string, error) {
	req := claudeRequest{
		Model:       c.model,
		MaxTokens:   4096,
		Temperature: temperatureFor(prompt),
		Messages:    []claudeMessage{{Role: "user", Content: prompt}},
	}
	if wantsJSON(prompt) {
		req.System = claudeJSONSystem
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	return c.withRetry(ctx, "claude", func() (string, error) { return c.doRequest(ctx, body) })
}

func (c *ClaudeClient) doRequest(ctx context.Context, body []byte) (string, error) {
	respBody, err := c.postJSON(ctx, c.baseURL+"/messages", body, map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return "", err
	}

	var claudeResp claudeResponse
	if err := json.Unmarshal(respBody, &claudeResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if claudeResp.Error != nil {
		return "", fmt.Errorf("api error: %s", claudeResp.Error.Message)
	}
	for _, block := range claudeResp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in response")
}
