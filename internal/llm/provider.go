package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ajitpratap0/perpfunk/internal/config"
)

// Provider generates one completion for a prompt. Implementations are safe
// for concurrent use; context cancellation aborts in-flight calls.
type Provider interface {
	// Generate returns the raw completion text and token usage
	Generate(ctx context.Context, prompt string) (string, *Usage, error)

	// ModelName identifies the underlying model for logs and stats
	ModelName() string
}

// StatsSink receives per-call accounting; owned by whoever manages providers
type StatsSink interface {
	RecordCall(model string, usage *Usage, wallClock time.Duration, err error)
}

// transientError marks failures worth retrying (throttling, 5xx, transport)
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// NewProvider builds a provider from one model-pool entry. The API key is
// resolved from the configured environment handle at construction time so a
// missing key fails loudly at startup, not mid-cycle.
func NewProvider(name string, mc *config.ModelConfig, defaults *config.LLMConfig) (Provider, error) {
	apiKey := os.Getenv(mc.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("model %q: api key env %q is not set", name, mc.APIKeyEnv)
	}

	base := chatClient{
		endpoint:    strings.TrimSuffix(mc.BaseURL, "/") + "/chat/completions",
		apiKey:      apiKey,
		model:       mc.ModelName,
		temperature: defaults.DefaultTemperature,
		maxTokens:   defaults.DefaultMaxTokens,
		timeout:     mc.Timeout(),
		httpClient:  newHTTPClient(),
	}

	switch mc.Provider {
	case "official":
		return &OfficialProvider{chatClient: base}, nil
	case "openrouter":
		return &OpenRouterProvider{chatClient: base}, nil
	default:
		return nil, fmt.Errorf("model %q: unknown provider %q", name, mc.Provider)
	}
}
