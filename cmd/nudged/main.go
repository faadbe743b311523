// Nudged is the activity-to-reminder daemon.
//
// It admits captured activity (clipboard, screen text, email, meetings,
// browser pages), tags it, detects commitments and followups, correlates it
// into threads and turns the results into scheduled reminders. Producers
// submit items over HTTP or a NATS subject.
//
// Configuration is read from ~/.config/nudged/config.yaml and NUDGED_*
// environment variables. See internal/config for the keys.
//
// Usage:
//
//	# Start the daemon with defaults
//	nudged
//
//	# Use another config file and port
//	NUDGED_SERVER_HTTP_PORT=9595 nudged -config /etc/nudged/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nudged/internal/config"
	httpapi "github.com/fyrsmithlabs/nudged/internal/http"
	"github.com/fyrsmithlabs/nudged/internal/logging"
	"github.com/fyrsmithlabs/nudged/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default ~/.config/nudged/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  nudged [-config path]   Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  nudged version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("nudged: %v", err)
	}
}

// watchConfig applies log level edits to the running daemon. Other keys
// are read once at startup.
func watchConfig(ctx context.Context, path string, level zap.AtomicLevel, logger *zap.Logger) {
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return
		}
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	w, err := config.NewWatcher(path, logger)
	if err != nil {
		logger.Warn("config reload disabled", zap.Error(err))
		return
	}
	go w.Run(ctx, func(cfg *config.Config) {
		lvl, err := logging.LevelFromString(cfg.Logging.Level)
		if err != nil || lvl == level.Level() {
			return
		}
		level.SetLevel(lvl)
		logger.Info("log level changed", zap.String("level", cfg.Logging.Level))
	})
}

func printVersion() {
	fmt.Printf("nudged by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled, then shuts every
// component down in reverse order.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	level := zap.NewAtomicLevel()
	logCfg.Dynamic = &level
	logger, err := logging.New(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	if h := tel.Health(); h.Degraded {
		logger.Warn("telemetry degraded", zap.String("error", h.LastError))
	}

	logger.Info("starting nudged",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("nats", cfg.Bus.NATSEnabled()),
		zap.String("enhancement", cfg.Enhancement.Provider),
	)

	watchConfig(ctx, configPath, level, logger.Named("config"))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	app, err := initPipeline(ctx, cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	defer app.Close()

	srv, err := httpapi.NewServer(app.pipeline, logger.Named("http"), &httpapi.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		DefaultSnooze: cfg.Reminder.DefaultSnooze.Duration(),
		APIToken:      cfg.Server.APIToken.Value(),
	}, deps.healthChecks(tel)...)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	logger.Info("nudged stopped")
	return nil
}
