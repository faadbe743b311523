package logging

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/nudged/internal/config"
)

func bufferedLogger(t *testing.T, cfg *Config) (*zap.Logger, *bytes.Buffer) {
	t.Helper()
	enc, err := NewRedactingEncoder(newEncoder("json"), cfg.Redaction)
	require.NoError(t, err)
	var buf bytes.Buffer
	core := zapcore.NewCore(enc, zapcore.AddSync(&buf), TraceLevel)
	return zap.New(newSampledCore(core, cfg.Sampling)), &buf
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.False(t, cfg.Sampling.Enabled)

	cfg, err = FromSettings(config.LoggingConfig{Level: "trace"})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)

	_, err = FromSettings(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
	_, err = FromSettings(config.LoggingConfig{Format: "xml"})
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	logger, err := New(NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	cfg := NewDefaultConfig()
	cfg.Stdout = false
	cfg.OTEL = true
	_, err = New(cfg, nil)
	assert.Error(t, err, "otel output without a provider leaves no core")

	cfg = NewDefaultConfig()
	cfg.Redaction.Patterns = []string{"("}
	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestRedaction(t *testing.T) {
	logger, buf := bufferedLogger(t, NewDefaultConfig())

	logger.With(zap.String("passphrase", "correct horse")).Info("storage opened",
		zap.String("api_key", "abc123"),
		zap.String("header", "Bearer eyJhbGciOi"),
		zap.String("provider", "sk-live12345678"),
		zap.String("reminder.id", "r-1"),
		Secret("dsn", config.Secret("postgres://u:p@db/x")),
	)

	out := buf.String()
	assert.NotContains(t, out, "correct horse")
	assert.NotContains(t, out, "abc123")
	assert.NotContains(t, out, "eyJhbGciOi")
	assert.NotContains(t, out, "sk-live12345678")
	assert.NotContains(t, out, "u:p@db")
	assert.Contains(t, out, `"reminder.id":"r-1"`)
	assert.Contains(t, out, "[REDACTED:pattern]")
}

func TestRedaction_Disabled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Redaction.Enabled = false
	logger, buf := bufferedLogger(t, cfg)
	logger.Info("x", zap.String("token", "visible"))
	assert.Contains(t, buf.String(), "visible")
}

func TestSampling_NeverDropsErrors(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Redaction.Enabled = false
	cfg.Sampling = SamplingConfig{Enabled: true, Tick: time.Minute, Initial: 2, Thereafter: 0}
	logger, buf := bufferedLogger(t, cfg)

	for i := 0; i < 10; i++ {
		logger.Info("bus delivery")
		logger.Error("persist failed")
	}
	out := buf.String()
	assert.Equal(t, 2, bytes.Count([]byte(out), []byte("bus delivery")))
	assert.Equal(t, 10, bytes.Count([]byte(out), []byte("persist failed")))
}

func TestTraceLevelEncoding(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	logger, buf := bufferedLogger(t, cfg)
	logger.Log(TraceLevel, "scheduler tick")
	assert.Contains(t, buf.String(), `"level":"trace"`)
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithItemID(ctx, "item-1")
	ctx = WithReminderID(ctx, "rem-1")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1, 2, 3},
		SpanID:  trace.SpanID{4, 5, 6},
	})
	ctx = trace.ContextWithSpanContext(ctx, sc)

	logger, observed := NewTestLogger()
	For(ctx, logger).Info("reminder snoozed")

	entries := observed.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request.id"])
	assert.Equal(t, "item-1", fields["item.id"])
	assert.Equal(t, "rem-1", fields["reminder.id"])
	assert.Equal(t, sc.TraceID().String(), fields["trace_id"])
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
}

func TestSync_IgnoresStdoutErrors(t *testing.T) {
	assert.NoError(t, Sync(zap.NewNop()))
}

func TestNew_DynamicLevel(t *testing.T) {
	lvl := zap.NewAtomicLevel()
	cfg := NewDefaultConfig()
	cfg.Dynamic = &lvl

	logger, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl.Level(), "seeded from Level")
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	lvl.SetLevel(zapcore.DebugLevel)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
