// Package mcp exposes a running nudged daemon as Model Context Protocol
// tools, so an assistant can feed it activity and work the reminder queue.
//
// The server holds no pipeline state of its own. Every tool is a call on a
// Backend, normally the HTTP client of the daemon.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nudged/internal/correlation"
	httpapi "github.com/fyrsmithlabs/nudged/internal/http"
	"github.com/fyrsmithlabs/nudged/internal/pipeline"
	"github.com/fyrsmithlabs/nudged/internal/reminder"
)

// Backend is the part of the daemon API the tools call.
// *httpapi.Client satisfies it.
type Backend interface {
	Ingest(ctx context.Context, req pipeline.IngestRequest) (pipeline.Receipt, error)
	Stats(ctx context.Context) (httpapi.StatsResponse, error)
	Reminders(ctx context.Context, statuses ...reminder.Status) ([]reminder.Reminder, error)
	Reminder(ctx context.Context, id string) (reminder.Reminder, error)
	CreateReminder(ctx context.Context, req httpapi.CreateReminderRequest) (reminder.Reminder, error)
	Snooze(ctx context.Context, id string, d time.Duration) (reminder.Reminder, error)
	Dismiss(ctx context.Context, id string) (reminder.Reminder, error)
	Complete(ctx context.Context, id string) (reminder.Reminder, error)
	Check(ctx context.Context, id string) (reminder.Fulfillment, error)
	Threads(ctx context.Context) ([]correlation.Thread, error)
}

var _ Backend = (*httpapi.Client)(nil)

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "nudged")
	Name string

	// Version is the server version (default: "dev")
	Version string

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "nudged",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// Server serves the nudged tools.
type Server struct {
	mcp     *mcp.Server
	backend Backend
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewServer creates an MCP server in front of backend.
func NewServer(cfg *Config, backend Backend) (*Server, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		backend: backend,
		metrics: NewMetrics(cfg.Logger),
		logger:  cfg.Logger,
		now:     time.Now,
	}
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying server, for custom transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Run serves on stdio until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
