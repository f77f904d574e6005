// Package llm adapts agentsdk-go model providers to single-shot prompt
// completions.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/stellarlinkco/birthdaybot/internal/config"
)

const defaultTimeout = 45 * time.Second

// Prompt is one system+user completion request.
type Prompt struct {
	Model       string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Completer answers a prompt with free text.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Client is a Completer backed by a model.Provider.
type Client struct {
	provider model.Provider
	timeout  time.Duration
}

func New(provider model.Provider) *Client {
	return &Client{provider: provider, timeout: defaultTimeout}
}

// NewFromConfig builds a Client for the configured provider type.
func NewFromConfig(cfg *config.Config) (*Client, error) {
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		return nil, errors.New("API key not set. Run 'birthdaybot onboard' or set BIRTHDAYBOT_API_KEY / OPENAI_API_KEY")
	}
	return New(NewProvider(cfg.Provider, cfg.Models.Classify, cfg.Models.MaxTokens)), nil
}

// NewProvider picks the agentsdk-go provider for cfg.Type.
func NewProvider(cfg config.ProviderConfig, defaultModel string, maxTokens int) model.Provider {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "anthropic":
		return &model.AnthropicProvider{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			ModelName: defaultModel,
			MaxTokens: maxTokens,
		}
	default: // "openai" or empty
		return &model.OpenAIProvider{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			ModelName: defaultModel,
			MaxTokens: maxTokens,
		}
	}
}

func (c *Client) Complete(ctx context.Context, p Prompt) (string, error) {
	if c == nil || c.provider == nil {
		return "", errors.New("llm client not configured")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	m, err := c.provider.Model(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve model: %w", err)
	}

	temperature := p.Temperature
	resp, err := m.Complete(ctx, model.Request{
		System:      p.System,
		Messages:    []model.Message{{Role: "user", Content: p.User}},
		Model:       p.Model,
		MaxTokens:   p.MaxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	if resp == nil {
		return "", errors.New("complete: empty response")
	}

	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", errors.New("complete: empty content")
	}
	return text, nil
}

// ExtractJSON returns the outermost JSON object in s, tolerating code fences
// and chatter around it.
func ExtractJSON(s string) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no json object in %q", truncate(s, 60))
	}
	return s[start : end+1], nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
