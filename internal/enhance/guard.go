package enhance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultGuardTimeout = 5 * time.Second

// Guard serializes access to a Service. At most one call is in flight; a
// caller that finds the service busy gets ErrBusy immediately instead of
// queueing, so the synchronous rule path never waits on the model.
type Guard struct {
	svc     Service
	busy    atomic.Bool
	timeout time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger

	calls    atomic.Int64
	failures atomic.Int64
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithTimeout bounds each call.
func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithRateLimit admits at most perMinute calls, with the given burst.
// Calls over budget fail fast with ErrRateLimited.
func WithRateLimit(perMinute float64, burst int) GuardOption {
	return func(g *Guard) {
		if perMinute > 0 {
			if burst < 1 {
				burst = 1
			}
			g.limiter = rate.NewLimiter(rate.Limit(perMinute/60.0), burst)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGuard wraps svc. A nil svc behaves like NoOp.
func NewGuard(svc Service, opts ...GuardOption) *Guard {
	if svc == nil {
		svc = NoOp{}
	}
	g := &Guard{
		svc:     svc,
		timeout: defaultGuardTimeout,
		limiter: rate.NewLimiter(rate.Inf, 0),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Available reports whether the service is configured and idle.
func (g *Guard) Available() bool {
	return g != nil && g.svc.Available() && !g.busy.Load()
}

// Busy reports whether a call is in flight.
func (g *Guard) Busy() bool { return g != nil && g.busy.Load() }

// Stats returns the number of calls made and how many failed. A nil
// guard reports zero.
func (g *Guard) Stats() (calls, failures int64) {
	if g == nil {
		return 0, 0
	}
	return g.calls.Load(), g.failures.Load()
}

// Text runs p and returns the trimmed response text.
func (g *Guard) Text(ctx context.Context, p Prompt) (string, error) {
	if g == nil || !g.svc.Available() {
		return "", ErrUnavailable
	}
	if !g.limiter.Allow() {
		return "", ErrRateLimited
	}
	if !g.busy.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer g.busy.Store(false)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	g.calls.Add(1)
	res, err := g.svc.Classify(ctx, p)
	if err != nil {
		g.failures.Add(1)
		g.logger.Warn("enhancement call failed",
			zap.String("task", string(p.Task)),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, p.Task, err)
	}
	g.logger.Debug("enhancement call completed",
		zap.String("task", string(p.Task)),
		zap.String("model", res.Model),
		zap.Duration("duration", res.Duration),
	)
	return strings.TrimSpace(res.Text), nil
}

// JSON runs p and decodes the response into out.
func (g *Guard) JSON(ctx context.Context, p Prompt, out any) error {
	text, err := g.Text(ctx, p)
	if err != nil {
		return err
	}
	if err := DecodeJSON(text, out); err != nil {
		g.failures.Add(1)
		g.logger.Warn("enhancement response malformed",
			zap.String("task", string(p.Task)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// DecodeJSON extracts a JSON object from model output, tolerating code
// fences, surrounding prose and minor syntax damage.
func DecodeJSON(text string, out any) error {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start > 0 {
		text = text[start:]
	}
	if end := strings.LastIndex(text, "}"); end >= 0 && end < len(text)-1 {
		text = text[:end+1]
	}
	if text == "" {
		return fmt.Errorf("%w: empty response", ErrMalformed)
	}

	if err := json.Unmarshal([]byte(text), out); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
