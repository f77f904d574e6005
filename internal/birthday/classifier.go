package birthday

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stellarlinkco/birthdaybot/internal/llm"
)

// ClassificationResult is the classifier's judgment about one message.
type ClassificationResult struct {
	IsBirthday    bool
	IsInitialWish bool
	PersonName    string // "" when absent
	Confidence    float64
	Reasoning     string
}

// Classifier judges a message given the conversation's recent context.
// Implementations never fail: errors become SafeDefault results.
type Classifier interface {
	Classify(ctx context.Context, text string, history []string) ClassificationResult
}

// SafeDefault is the non-birthday result used when classification fails.
func SafeDefault(err error) ClassificationResult {
	return ClassificationResult{Reasoning: fmt.Sprintf("classification failed: %v", err)}
}

// LLMClassifier asks a language model for a JSON judgment.
type LLMClassifier struct {
	llm   llm.Completer
	model string
	log   zerolog.Logger
}

func NewLLMClassifier(c llm.Completer, model string, log zerolog.Logger) *LLMClassifier {
	return &LLMClassifier{llm: c, model: model, log: log}
}

func (c *LLMClassifier) Classify(ctx context.Context, text string, history []string) ClassificationResult {
	raw, err := c.llm.Complete(ctx, llm.Prompt{
		Model:       c.model,
		System:      classifySystemPrompt,
		User:        classifyUserPrompt(text, history),
		Temperature: 0.1,
		MaxTokens:   300,
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("classify call failed")
		return SafeDefault(err)
	}

	res, err := parseClassification(raw)
	if err != nil {
		c.log.Warn().Err(err).Str("raw", raw).Msg("classify response unparsable")
		return SafeDefault(err)
	}
	return res
}

func classifyUserPrompt(text string, history []string) string {
	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString(contextHeader)
		sb.WriteString("\n")
		for _, line := range history {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Message to analyze:\n")
	sb.WriteString(text)
	return sb.String()
}

type classificationJSON struct {
	IsBirthday         bool     `json:"isBirthday"`
	IsInitialWish      bool     `json:"isInitialWish"`
	BirthdayPersonName *string  `json:"birthdayPersonName"`
	PersonName         *string  `json:"personName"`
	Confidence         *float64 `json:"confidence"`
	Reasoning          string   `json:"reasoning"`
}

func parseClassification(raw string) (ClassificationResult, error) {
	body, err := llm.ExtractJSON(raw)
	if err != nil {
		return ClassificationResult{}, err
	}
	var out classificationJSON
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return ClassificationResult{}, fmt.Errorf("decode classification: %w", err)
	}

	res := ClassificationResult{
		IsBirthday:    out.IsBirthday,
		IsInitialWish: out.IsBirthday && out.IsInitialWish,
		Reasoning:     out.Reasoning,
	}
	switch {
	case out.BirthdayPersonName != nil:
		res.PersonName = strings.TrimSpace(*out.BirthdayPersonName)
	case out.PersonName != nil:
		res.PersonName = strings.TrimSpace(*out.PersonName)
	}
	if strings.EqualFold(res.PersonName, "null") {
		res.PersonName = ""
	}
	if out.Confidence != nil {
		res.Confidence = min(max(*out.Confidence, 0), 1)
	}
	return res, nil
}
