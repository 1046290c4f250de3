package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const maxAttempts = 3

// chatClient speaks the OpenAI-compatible chat completions protocol. Both
// provider implementations embed it and differ only in extra headers.
type chatClient struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	httpClient  *http.Client
}

// OfficialProvider talks directly to a model vendor's own API
type OfficialProvider struct {
	chatClient
}

func (p *OfficialProvider) Generate(ctx context.Context, prompt string) (string, *Usage, error) {
	return p.generate(ctx, prompt, nil)
}

// OpenRouterProvider routes through OpenRouter, which requires app
// attribution headers on every request
type OpenRouterProvider struct {
	chatClient
}

func (p *OpenRouterProvider) Generate(ctx context.Context, prompt string) (string, *Usage, error) {
	return p.generate(ctx, prompt, map[string]string{
		"HTTP-Referer": "https://github.com/ajitpratap0/perpfunk",
		"X-Title":      "perpfunk",
	})
}

// ModelName identifies the underlying model
func (c *chatClient) ModelName() string { return c.model }

// generate runs the completion with up to maxAttempts tries on transient
// failures. Auth and malformed-request errors abort immediately.
func (c *chatClient) generate(ctx context.Context, prompt string, headers map[string]string) (string, *Usage, error) {
	var lastErr error
	backoff := time.Second

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			log.Warn().
				Err(lastErr).
				Str("model", c.model).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying LLM request")
			select {
			case <-ctx.Done():
				return "", nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		text, usage, err := c.complete(ctx, prompt, headers)
		if err == nil {
			return text, usage, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		if !isTransient(err) {
			return "", nil, err
		}
	}
	return "", nil, fmt.Errorf("llm request failed after %d attempts: %w", maxAttempts, lastErr)
}

// complete performs one request/response round trip
func (c *chatClient) complete(ctx context.Context, prompt string, headers map[string]string) (string, *Usage, error) {
	request := ChatRequest{
		Model:       c.model,
		Messages:    []ChatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, &transientError{err: fmt.Errorf("llm request failed: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, &transientError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("llm api error (status %d): %s", resp.StatusCode, errorMessage(raw))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", nil, &transientError{err: apiErr}
		}
		return "", nil, apiErr
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(raw, &chatResp); err != nil {
		return "", nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", nil, fmt.Errorf("no choices in llm response")
	}

	log.Debug().
		Str("model", c.model).
		Int("prompt_tokens", chatResp.Usage.PromptTokens).
		Int("completion_tokens", chatResp.Usage.CompletionTokens).
		Dur("duration", time.Since(start)).
		Msg("LLM request completed")

	usage := chatResp.Usage
	return chatResp.Choices[0].Message.Content, &usage, nil
}

// newHTTPClient builds a dedicated client per provider so one provider's
// connection pool and transport state never bleed into another's
func newHTTPClient() *http.Client {
	return &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
}

// errorMessage extracts the message from an error envelope, falling back to
// the raw body
func errorMessage(raw []byte) string {
	var errResp ErrorResponse
	if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return string(raw)
}
