package birthday

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stellarlinkco/birthdaybot/internal/llm"
)

// LLMGenerator writes reply bodies with a language model.
type LLMGenerator struct {
	llm   llm.Completer
	model string
}

func NewLLMGenerator(c llm.Completer, model string) *LLMGenerator {
	return &LLMGenerator{llm: c, model: model}
}

func (g *LLMGenerator) GenerateBody(ctx context.Context, nameHint string) (string, error) {
	out, err := g.llm.Complete(ctx, llm.Prompt{
		Model:       g.model,
		System:      generateSystemPrompt,
		User:        fmt.Sprintf("Write the birthday wish body for: %s", nameHint),
		Temperature: 0.7,
		MaxTokens:   200,
	})
	if err != nil {
		return "", fmt.Errorf("generate body: %w", err)
	}
	return out, nil
}

// LLMApprover asks a language model to accept or reject a reply.
type LLMApprover struct {
	llm   llm.Completer
	model string
}

func NewLLMApprover(c llm.Completer, model string) *LLMApprover {
	return &LLMApprover{llm: c, model: model}
}

func (a *LLMApprover) Approve(ctx context.Context, text string) (bool, error) {
	out, err := a.llm.Complete(ctx, llm.Prompt{
		Model:       a.model,
		System:      approveSystemPrompt,
		User:        "Message:\n" + text,
		Temperature: 0,
		MaxTokens:   150,
	})
	if err != nil {
		return false, fmt.Errorf("approve reply: %w", err)
	}
	var res struct {
		Approved *bool  `json:"approved"`
		Reason   string `json:"reason"`
	}
	if err := decodeJSON(out, &res); err != nil {
		return false, fmt.Errorf("approve reply: %w", err)
	}
	if res.Approved == nil {
		return false, fmt.Errorf("approve reply: missing approved field")
	}
	return *res.Approved, nil
}

// LLMNameConfirmer asks a language model whether a string is a name.
type LLMNameConfirmer struct {
	llm   llm.Completer
	model string
}

func NewLLMNameConfirmer(c llm.Completer, model string) *LLMNameConfirmer {
	return &LLMNameConfirmer{llm: c, model: model}
}

func (n *LLMNameConfirmer) ConfirmName(ctx context.Context, name string) (bool, error) {
	out, err := n.llm.Complete(ctx, llm.Prompt{
		Model:       n.model,
		System:      confirmNameSystemPrompt,
		User:        strings.TrimSpace(name),
		Temperature: 0,
		MaxTokens:   30,
	})
	if err != nil {
		return false, fmt.Errorf("confirm name: %w", err)
	}
	var res struct {
		IsName bool `json:"isName"`
	}
	if err := decodeJSON(out, &res); err != nil {
		return false, fmt.Errorf("confirm name: %w", err)
	}
	return res.IsName, nil
}

func decodeJSON(raw string, v any) error {
	body, err := llm.ExtractJSON(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(body), v)
}
