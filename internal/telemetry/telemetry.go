package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	lognoop "go.opentelemetry.io/otel/log/noop"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry owns the tracer and meter providers for the daemon.
type Telemetry struct {
	config *Config

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	mu          sync.RWMutex
	logProvider log.LoggerProvider

	degraded atomic.Bool
	lastErr  atomic.Value // string
	shutdown atomic.Bool
}

// Health reports whether exporters came up.
type Health struct {
	Enabled   bool   `json:"enabled"`
	Healthy   bool   `json:"healthy"`
	Degraded  bool   `json:"degraded"`
	LastError string `json:"last_error,omitempty"`
}

// New builds providers from cfg and installs them as the otel globals.
// Exporter failures degrade the instance instead of failing: the process
// keeps running with no-op instrumentation.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{config: cfg, logProvider: lognoop.NewLoggerProvider()}
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)
	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		t.markDegraded(err)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	if cfg.MetricsEnabled {
		mp, err := newMeterProvider(ctx, cfg, res)
		if err != nil {
			t.markDegraded(err)
		} else {
			t.meterProvider = mp
			otel.SetMeterProvider(mp)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

func (t *Telemetry) markDegraded(err error) {
	t.degraded.Store(true)
	t.lastErr.Store(err.Error())
}

// Tracer returns a named tracer from the active provider.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	if t.tracerProvider != nil {
		return t.tracerProvider.Tracer(name)
	}
	return otel.GetTracerProvider().Tracer(name)
}

// Meter returns a named meter from the active provider.
func (t *Telemetry) Meter(name string) metric.Meter {
	if t.meterProvider != nil {
		return t.meterProvider.Meter(name)
	}
	return otel.GetMeterProvider().Meter(name)
}

// LoggerProvider returns the provider for the zap bridge.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.logProvider
}

// SetLoggerProvider replaces the provider handed to the zap bridge.
func (t *Telemetry) SetLoggerProvider(lp log.LoggerProvider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logProvider = lp
}

// IsEnabled reports whether telemetry export was requested.
func (t *Telemetry) IsEnabled() bool {
	return t.config.Enabled
}

// Health returns the current exporter state.
func (t *Telemetry) Health() Health {
	h := Health{
		Enabled:  t.config.Enabled,
		Degraded: t.degraded.Load(),
	}
	h.Healthy = h.Enabled && !h.Degraded && !t.shutdown.Load()
	if msg, ok := t.lastErr.Load().(string); ok {
		h.LastError = msg
	}
	return h
}

// ForceFlush pushes buffered spans and metrics to the exporters.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing traces: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops the providers. Safe to call more than once.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if !t.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down tracer provider: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
