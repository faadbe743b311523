package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-haiku-latest"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultMaxTokens        = 512
	defaultTimeout          = 30 * time.Second
	defaultMaxRetries       = 2
	defaultBaseBackoff      = 500 * time.Millisecond
	defaultRequestsPerMin   = 50.0
	defaultBurst            = 5
)

// httpProvider holds the plumbing shared by the remote providers.
type httpProvider struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

func newHTTPProvider(cfg Config, baseURL, model string) httpProvider {
	if cfg.Model != "" {
		model = cfg.Model
	}
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}
	perMin := defaultRequestsPerMin
	if cfg.RequestsPerMinute > 0 {
		perMin = cfg.RequestsPerMinute
	}
	retries := defaultMaxRetries
	if cfg.MaxRetries > 0 {
		retries = cfg.MaxRetries
	}
	return httpProvider{
		model:      model,
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(perMin/60.0), defaultBurst),
		maxRetries: retries,
	}
}

// call posts body to path with retries and returns the response body.
func (h *httpProvider) call(ctx context.Context, path string, body any, headers map[string]string) ([]byte, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		out, err := h.post(ctx, path, data, headers)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (h *httpProvider) post(ctx context.Context, path string, data []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &retryableError{err: fmt.Errorf("rate limited (429)")}
	case resp.StatusCode >= 500:
		return nil, &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))}
	case resp.StatusCode != http.StatusOK:
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// anthropic implements Service over the Messages API.
type anthropic struct {
	httpProvider
}

func newAnthropic(cfg Config) (Service, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key required")
	}
	return &anthropic{newHTTPProvider(cfg, defaultAnthropicBaseURL, defaultAnthropicModel)}, nil
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string `json:"model"`
}

func (a *anthropic) Classify(ctx context.Context, p Prompt) (Result, error) {
	start := time.Now()
	req := anthropicRequest{
		Model:       a.model,
		MaxTokens:   defaultMaxTokens,
		System:      p.System,
		Temperature: 0,
		Messages:    []chatMessage{{Role: "user", Content: scrubSecrets(p.Content)}},
	}
	body, err := a.call(ctx, "/v1/messages", req, map[string]string{
		"X-API-Key":         a.apiKey,
		"Anthropic-Version": "2023-06-01",
	})
	if err != nil {
		return Result{}, err
	}
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Result{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Content) == 0 {
		return Result{}, fmt.Errorf("empty response from API")
	}
	return Result{Text: resp.Content[0].Text, Model: resp.Model, Duration: time.Since(start)}, nil
}

func (a *anthropic) Available() bool { return a.apiKey != "" }

// openAI implements Service over the Chat Completions API.
type openAI struct {
	httpProvider
}

func newOpenAI(cfg Config) (Service, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key required")
	}
	return &openAI{newHTTPProvider(cfg, defaultOpenAIBaseURL, defaultOpenAIModel)}, nil
}

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *openAI) Classify(ctx context.Context, p Prompt) (Result, error) {
	start := time.Now()
	req := openAIRequest{
		Model:     o.model,
		MaxTokens: defaultMaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: scrubSecrets(p.Content)},
		},
	}
	body, err := o.call(ctx, "/v1/chat/completions", req, map[string]string{
		"Authorization": "Bearer " + o.apiKey,
	})
	if err != nil {
		return Result{}, err
	}
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Result{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("empty response from API")
	}
	return Result{Text: resp.Choices[0].Message.Content, Model: resp.Model, Duration: time.Since(start)}, nil
}

func (o *openAI) Available() bool { return o.apiKey != "" }

// retryableError marks transport failures, 429s and 5xx responses.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

var (
	_ Service = (*anthropic)(nil)
	_ Service = (*openAI)(nil)
)
