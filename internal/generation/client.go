// Package generation provides the text-generation capability consumed by
// every AI-driven component. A Client takes a prompt (optionally with an
// output schema) and returns free text or schema-constrained JSON; it never
// decides control flow.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Client defines the interface for generation backends.
type Client interface {
	// Complete sends a prompt and returns the completion.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem sends a prompt with a system message.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// CompleteWithSchema requests output constrained by a JSON schema.
	// The returned string is the raw model text; callers parse it with
	// ParseObject, which tolerates fence wrapping and minor damage.
	CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt string, schema map[string]interface{}) (string, error)
}

// ErrMalformedJSON marks structured output that could not be parsed even
// after repair. Callers decide whether this is fatal (classification,
// synthesis) or absorbed (description regeneration).
var ErrMalformedJSON = errors.New("malformed structured output")

// Provider identifies a generation backend.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

// Config holds generation client configuration.
type Config struct {
	Provider Provider
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration

	// MaxRetries bounds retries for transport failures and 429s.
	// Parse failures are never retried.
	MaxRetries int
}

// NewClient creates a generation client for the configured provider.
func NewClient(cfg Config) (Client, error) {
	switch cfg.Provider {
	case ProviderGemini:
		return NewGeminiClientWithConfig(cfg), nil
	case ProviderOpenAI:
		return NewOpenAIClientWithConfig(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported generation provider: %q (use 'gemini' or 'openai')", cfg.Provider)
	}
}

// withDeadline applies the client timeout when the context carries none.
func withDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// backoff sleeps before retry attempt i (1-based) with exponential growth.
func backoff(i int) {
	time.Sleep(time.Duration(1<<uint(i-1)) * time.Second)
}

func truncateForLog(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
