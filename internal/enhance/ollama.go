package enhance

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
)

const defaultOllamaModel = "llama3.2"

// ollamaProvider runs prompts against a local Ollama server. No API key is
// involved and content stays on the machine.
type ollamaProvider struct {
	llm     llms.Model
	model   string
	timeout time.Duration
}

func newOllama(cfg Config) (Service, error) {
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	opts := []ollama.Option{ollama.WithModel(model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ollamaProvider{llm: llm, model: model, timeout: timeout}, nil
}

func (o *ollamaProvider) Classify(ctx context.Context, p Prompt) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	msgs := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, p.System),
		llms.TextParts(schema.ChatMessageTypeHuman, scrubSecrets(p.Content)),
	}
	resp, err := o.llm.GenerateContent(ctx, msgs,
		llms.WithTemperature(0),
		llms.WithMaxTokens(defaultMaxTokens),
	)
	if err != nil {
		return Result{}, fmt.Errorf("%w: ollama: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("empty response from ollama")
	}
	return Result{Text: resp.Choices[0].Content, Model: o.model, Duration: time.Since(start)}, nil
}

func (o *ollamaProvider) Available() bool { return true }
