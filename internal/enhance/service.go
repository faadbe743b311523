package enhance

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnavailable means no service is configured or the call failed.
	ErrUnavailable = errors.New("enhancement unavailable")

	// ErrBusy means another call is still in flight.
	ErrBusy = errors.New("enhancement busy")

	// ErrRateLimited means the local request budget is exhausted.
	ErrRateLimited = errors.New("enhancement rate limited")

	// ErrMalformed means the response could not be decoded.
	ErrMalformed = errors.New("malformed enhancement response")
)

// Task names the question a stage asks.
type Task string

const (
	TaskAdmission      Task = "admission"
	TaskClassification Task = "classification"
	TaskCommitment     Task = "commitment"
	TaskFollowup       Task = "followup"
)

// Prompt is one request to the model.
type Prompt struct {
	Task    Task
	System  string
	Content string
}

// Result is the raw model output.
type Result struct {
	Text     string
	Model    string
	Duration time.Duration
}

// Service answers prompts. Implementations must be safe for concurrent use.
type Service interface {
	Classify(ctx context.Context, p Prompt) (Result, error)
	Available() bool
}

// ServiceFunc adapts a function to Service. It is always available.
type ServiceFunc func(ctx context.Context, p Prompt) (Result, error)

// Classify calls f.
func (f ServiceFunc) Classify(ctx context.Context, p Prompt) (Result, error) { return f(ctx, p) }

// Available returns true.
func (f ServiceFunc) Available() bool { return true }

// NoOp is the disabled provider.
type NoOp struct{}

// Classify always fails with ErrUnavailable.
func (NoOp) Classify(context.Context, Prompt) (Result, error) { return Result{}, ErrUnavailable }

// Available returns false.
func (NoOp) Available() bool { return false }

// Config selects and configures a provider.
type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
	// RequestsPerMinute bounds calls to the remote API.
	RequestsPerMinute float64
	MaxRetries        int
}

// New builds the provider named by cfg.Provider.
func New(cfg Config) (Service, error) {
	switch cfg.Provider {
	case "", "disabled", "none":
		return NoOp{}, nil
	case "anthropic":
		return newAnthropic(cfg)
	case "openai":
		return newOpenAI(cfg)
	case "ollama":
		return newOllama(cfg)
	default:
		return nil, fmt.Errorf("unknown enhancement provider: %s", cfg.Provider)
	}
}

var (
	_ Service = NoOp{}
	_ Service = ServiceFunc(nil)
)
