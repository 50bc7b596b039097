package llm

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	envProvider = "LLM_PROVIDER" // "anthropic" or "openai"
)

// NewClientFromEnv creates a client based on LLM_PROVIDER env var
// Defaults to Anthropic if not specified
func NewClientFromEnv() (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv(envProvider)))
	if provider == "" {
		provider = "anthropic" // Default
	}

	switch provider {
	case "openai":
		return NewOpenAIFromEnv()
	case "anthropic":
		return NewAnthropicFromEnv()
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (use 'anthropic' or 'openai')", provider)
	}
}

// NewClientWithLogger creates a client with logger based on LLM_PROVIDER env var
func NewClientWithLogger(logger zerolog.Logger) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv(envProvider)))
	if provider == "" {
		provider = "anthropic" // Default
	}

	switch provider {
	case "openai":
		return NewOpenAIWithLogger(logger)
	case "anthropic":
		return NewAnthropicWithLogger(logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (use 'anthropic' or 'openai')", provider)
	}
}

// NewClientWithConfig creates a client for the given provider name (empty
// means anthropic), with request-size truncation and default max_tokens
// taken from the arguments instead of the provider packages' hardcoded
// fallbacks. This is the entrypoint
// cmd/pilotd wires up.
func NewClientWithConfig(logger zerolog.Logger, provider string, maxRequestSize, maxTokens int) (Client, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = "anthropic"
	}

	switch provider {
	case "openai":
		return NewOpenAIWithConfig(logger, maxRequestSize, maxTokens)
	case "anthropic":
		return NewAnthropicWithConfig(logger, maxRequestSize, maxTokens)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (use 'anthropic' or 'openai')", provider)
	}
}
