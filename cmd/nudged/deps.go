package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nudged/internal/admission"
	"github.com/fyrsmithlabs/nudged/internal/bus"
	"github.com/fyrsmithlabs/nudged/internal/commitment"
	"github.com/fyrsmithlabs/nudged/internal/config"
	"github.com/fyrsmithlabs/nudged/internal/correlation"
	"github.com/fyrsmithlabs/nudged/internal/enhance"
	"github.com/fyrsmithlabs/nudged/internal/followup"
	httpapi "github.com/fyrsmithlabs/nudged/internal/http"
	"github.com/fyrsmithlabs/nudged/internal/notify"
	"github.com/fyrsmithlabs/nudged/internal/pipeline"
	"github.com/fyrsmithlabs/nudged/internal/reminder"
	"github.com/fyrsmithlabs/nudged/internal/scheduler"
	"github.com/fyrsmithlabs/nudged/internal/secrets"
	"github.com/fyrsmithlabs/nudged/internal/store"
	"github.com/fyrsmithlabs/nudged/internal/tagging"
	"github.com/fyrsmithlabs/nudged/internal/telemetry"
)

const ingestTimeout = 30 * time.Second

// dependencies holds the infrastructure shared by every component.
type dependencies struct {
	embedded *natsserver.Server
	natsConn *nats.Conn
	pgPool   *pgxpool.Pool
	kv       store.KV
	logger   *zap.Logger
}

// Close releases infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		if err := d.natsConn.Drain(); err != nil {
			d.logger.Warn("nats drain", zap.Error(err))
		}
	}
	if d.embedded != nil {
		d.embedded.Shutdown()
		d.embedded.WaitForShutdown()
	}
	if d.pgPool != nil {
		d.pgPool.Close()
	}
}

func (d *dependencies) healthChecks(tel *telemetry.Telemetry) []httpapi.Option {
	opts := []httpapi.Option{
		httpapi.WithHealthCheck("telemetry", func(context.Context) error {
			if h := tel.Health(); h.Degraded {
				return errors.New(h.LastError)
			}
			return nil
		}),
	}
	if d.natsConn != nil {
		nc := d.natsConn
		opts = append(opts, httpapi.WithHealthCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats %s", nc.Status())
			}
			return nil
		}))
	}
	if d.pgPool != nil {
		pool := d.pgPool
		opts = append(opts, httpapi.WithHealthCheck("postgres", func(ctx context.Context) error {
			return pool.Ping(ctx)
		}))
	}
	return opts
}

// initDependencies connects NATS (starting an embedded server when asked)
// and opens the configured store.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	d := &dependencies{logger: logger}

	if cfg.Bus.NATSEnabled() {
		url := cfg.Bus.NATSURL
		if url == "" {
			ns, err := startEmbeddedNATS(cfg)
			if err != nil {
				return nil, err
			}
			d.embedded = ns
			url = ns.ClientURL()
			logger.Info("embedded nats started", zap.String("url", url))
		}
		nc, err := nats.Connect(url,
			nats.Name("nudged"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("nats disconnected", zap.Error(err))
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
			}),
		)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
		}
		d.natsConn = nc
		logger.Info("connected to nats", zap.String("url", url))
	}

	kv, err := openStore(ctx, cfg, d)
	if err != nil {
		d.Close()
		return nil, err
	}
	if cfg.Storage.Passphrase.IsSet() {
		enc, err := store.NewEncrypted(kv, cfg.Storage.Passphrase.Value())
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to enable store encryption: %w", err)
		}
		kv = enc
	}
	d.kv = kv
	logger.Info("store ready",
		zap.String("backend", cfg.Storage.Backend),
		zap.Bool("encrypted", cfg.Storage.Passphrase.IsSet()),
	)
	return d, nil
}

func startEmbeddedNATS(cfg *config.Config) (*natsserver.Server, error) {
	opts := &natsserver.Options{
		ServerName: "nudged",
		Host:       "127.0.0.1",
		Port:       cfg.Bus.EmbeddedPort,
		NoLog:      true,
		NoSigs:     true,
		JetStream:  cfg.Storage.Backend == config.StorageNATS,
		StoreDir:   filepath.Join(cfg.Storage.Dir, "jetstream"),
	}
	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("embedded nats server not ready")
	}
	return ns, nil
}

func openStore(ctx context.Context, cfg *config.Config, d *dependencies) (store.KV, error) {
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		return store.NewMemory(), nil
	case config.StorageFile:
		kv, err := store.NewFile(cfg.Storage.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return kv, nil
	case config.StorageNATS:
		if d.natsConn == nil {
			return nil, errors.New("nats storage requires bus.nats_url or bus.embedded")
		}
		kv, err := store.NewJetStream(d.natsConn, cfg.Storage.NATSBucket)
		if err != nil {
			return nil, fmt.Errorf("failed to open jetstream bucket: %w", err)
		}
		return kv, nil
	case config.StoragePostgres:
		kv, pool, err := store.OpenPostgres(ctx, cfg.Storage.PostgresDSN.Value())
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		d.pgPool = pool
		return kv, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// application is the wired pipeline and the components it shuts down.
type application struct {
	pipeline *pipeline.Pipeline
	sched    *scheduler.Scheduler
	bus      *bus.Bus
	bridge   *bus.NATSBridge
	rem      *reminder.Manager
	ingest   *nats.Subscription
	guard    *enhance.Guard
	logger   *zap.Logger
}

// Close stops intake first, then the timers, then drains the bus.
func (a *application) Close() {
	if a.ingest != nil {
		if err := a.ingest.Unsubscribe(); err != nil {
			a.logger.Warn("ingest unsubscribe", zap.Error(err))
		}
	}
	if a.bridge != nil {
		if err := a.bridge.Close(); err != nil {
			a.logger.Warn("bus bridge close", zap.Error(err))
		}
	}
	a.sched.Stop()
	a.bus.Close()
	a.rem.Close()
	if calls, failures := a.guard.Stats(); calls > 0 {
		a.logger.Info("enhancement usage", zap.Int64("calls", calls), zap.Int64("failures", failures))
	}
}

// initPipeline builds every stage and restores persisted state.
func initPipeline(ctx context.Context, cfg *config.Config, d *dependencies, logger *zap.Logger) (*application, error) {
	svc, err := enhance.New(cfg.EnhancementService())
	if err != nil {
		return nil, fmt.Errorf("failed to create enhancement service: %w", err)
	}
	guard := enhance.NewGuard(svc,
		enhance.WithTimeout(cfg.Enhancement.Timeout.Duration()),
		enhance.WithRateLimit(cfg.Enhancement.RequestsPerMinute, cfg.Enhancement.Burst),
		enhance.WithLogger(logger.Named("enhance")),
	)

	scrubber, err := secrets.New(cfg.SecretsTuning())
	if err != nil {
		return nil, fmt.Errorf("failed to create secret scrubber: %w", err)
	}
	if !scrubber.Enabled() {
		logger.Warn("secret scrubbing disabled; credentials in captured content will be stored")
	}

	app := &application{guard: guard, logger: logger}

	busOpts := []bus.Option{bus.WithQueueSize(cfg.Bus.QueueSize)}
	if d.natsConn != nil {
		app.bridge = bus.NewNATSBridge(d.natsConn, cfg.Bus.SubjectPrefix, logger.Named("bus"))
		busOpts = append(busOpts, bus.WithMirror(app.bridge))
	}
	app.bus = bus.New(logger.Named("bus"), busOpts...)
	if app.bridge != nil {
		if err := app.bridge.Attach(app.bus); err != nil {
			app.bus.Close()
			return nil, fmt.Errorf("failed to attach bus bridge: %w", err)
		}
	}

	app.sched = scheduler.New(logger.Named("scheduler"))

	sinks := []notify.Sink{notify.LogSink{Logger: logger.Named("notify")}}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.WebhookURL, cfg.Notify.WebhookHeaders, cfg.Notify.WebhookTimeout.Duration()))
	}
	if d.natsConn != nil && cfg.Notify.NATSSubject != "" {
		sinks = append(sinks, notify.NewNATSSink(d.natsConn, cfg.Notify.NATSSubject))
	}
	notifier := notify.NewScheduled(app.sched, logger.Named("notify"), sinks...)

	corr, err := correlation.New(cfg.CorrelationTuning(), app.bus, logger.Named("correlation"))
	if err != nil {
		app.bus.Close()
		return nil, fmt.Errorf("failed to create correlator: %w", err)
	}

	app.rem = reminder.New(cfg.ReminderTuning(), app.sched, notifier, d.kv, logger.Named("reminder"),
		reminder.WithHistory(corr),
	)
	if err := app.rem.Subscribe(app.bus); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to subscribe reminder manager: %w", err)
	}
	if err := app.rem.Load(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to load reminders: %w", err)
	}

	tracker := followup.New(cfg.FollowupTuning(), guard, app.bus, app.sched, d.kv, logger.Named("followup"))
	tracker.SetStatusLookup(app.rem)
	if err := tracker.Load(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to load followups: %w", err)
	}

	app.pipeline, err = pipeline.New(pipeline.Deps{
		Filter:     admission.New(cfg.AdmissionTuning(), guard, logger.Named("admission")),
		Tagger:     tagging.New(guard, logger.Named("tagging")),
		Detector:   commitment.New(guard, app.bus, logger.Named("commitment")),
		Tracker:    tracker,
		Correlator: corr,
		Reminders:  app.rem,
		Bus:        app.bus,
		Scrubber:   scrubber,
	}, logger.Named("pipeline"))
	if err != nil {
		app.Close()
		return nil, err
	}
	app.pipeline.ScheduleSweeps(app.sched, cfg.Reminder.SweepInterval.Duration())

	if d.natsConn != nil && cfg.Bus.IngestSubject != "" {
		app.ingest, err = app.pipeline.Subscribe(d.natsConn, cfg.Bus.IngestSubject, ingestTimeout)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to subscribe ingest subject: %w", err)
		}
		logger.Info("accepting items over nats", zap.String("subject", cfg.Bus.IngestSubject))
	}

	if err := app.sched.Start(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}
	return app, nil
}
