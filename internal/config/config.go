// Package config loads the nudged daemon configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML file
// (~/.config/nudged/config.yaml by default) and NUDGED_* environment
// variables. Each section maps onto the tuning struct of one component.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/fyrsmithlabs/nudged/internal/admission"
	"github.com/fyrsmithlabs/nudged/internal/correlation"
	"github.com/fyrsmithlabs/nudged/internal/enhance"
	"github.com/fyrsmithlabs/nudged/internal/followup"
	"github.com/fyrsmithlabs/nudged/internal/reminder"
	"github.com/fyrsmithlabs/nudged/internal/secrets"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageNATS     = "nats"
	StoragePostgres = "postgres"
)

// Config holds the complete daemon configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Admission   AdmissionConfig   `koanf:"admission"`
	Correlation CorrelationConfig `koanf:"correlation"`
	Followup    FollowupConfig    `koanf:"followup"`
	Reminder    ReminderConfig    `koanf:"reminder"`
	Enhancement EnhancementConfig `koanf:"enhancement"`
	Bus         BusConfig         `koanf:"bus"`
	Storage     StorageConfig     `koanf:"storage"`
	Notify      NotifyConfig      `koanf:"notify"`
	Secrets     SecretsConfig     `koanf:"secrets"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// APIToken, when set, is required as a bearer token on every route
	// except /health.
	APIToken Secret `koanf:"api_token"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	ServiceName     string   `koanf:"service_name"`
	ServiceVersion  string   `koanf:"service_version"`
	Insecure        bool     `koanf:"insecure"`
	SampleRate      float64  `koanf:"sample_rate"`
	MetricsInterval Duration `koanf:"metrics_interval"`
}

// AdmissionConfig tunes the admission filter.
type AdmissionConfig struct {
	ShortLength int `koanf:"short_length"`
}

// CorrelationConfig holds the correlator weights and retention.
type CorrelationConfig struct {
	WindowSize        int      `koanf:"window_size"`
	MaxMatches        int      `koanf:"max_matches"`
	Threshold         float64  `koanf:"threshold"`
	EntityWeight      float64  `koanf:"entity_weight"`
	SourceWeight      float64  `koanf:"source_weight"`
	TimeWeight        float64  `koanf:"time_weight"`
	TimeWindow        Duration `koanf:"time_window"`
	TagWeight         float64  `koanf:"tag_weight"`
	ThreadRetention   Duration `koanf:"thread_retention"`
	MaxThreads        int      `koanf:"max_threads"`
	MaxThreadMessages int      `koanf:"max_thread_messages"`
}

// FollowupConfig holds the reply windows per followup type.
type FollowupConfig struct {
	EmailWindow      Duration `koanf:"email_window"`
	MessageWindow    Duration `koanf:"message_window"`
	ActionWindow     Duration `koanf:"action_window"`
	CommitmentWindow Duration `koanf:"commitment_window"`
	MinConfidence    float64  `koanf:"min_confidence"`
}

// ReminderConfig tunes the reminder manager and the periodic sweep.
type ReminderConfig struct {
	OverdueGrace       Duration `koanf:"overdue_grace"`
	DefaultSnooze      Duration `koanf:"default_snooze"`
	DefaultDelay       Duration `koanf:"default_delay"`
	RelevanceThreshold float64  `koanf:"relevance_threshold"`
	SweepInterval      Duration `koanf:"sweep_interval"`
}

// EnhancementConfig selects the optional language model provider.
type EnhancementConfig struct {
	Provider          string   `koanf:"provider"`
	APIKey            Secret   `koanf:"api_key"`
	Model             string   `koanf:"model"`
	BaseURL           string   `koanf:"base_url"`
	Timeout           Duration `koanf:"timeout"`
	RequestsPerMinute float64  `koanf:"requests_per_minute"`
	Burst             int      `koanf:"burst"`
	MaxRetries        int      `koanf:"max_retries"`
}

// BusConfig controls the in-process bus and its optional NATS mirror.
type BusConfig struct {
	QueueSize int `koanf:"queue_size"`
	// NATSURL connects the bus mirror, the ingest subject and the NATS
	// storage backend. Empty disables all three unless Embedded is set.
	NATSURL string `koanf:"nats_url"`
	// Embedded starts an in-process NATS server when NATSURL is empty.
	Embedded      bool   `koanf:"embedded"`
	EmbeddedPort  int    `koanf:"embedded_port"`
	SubjectPrefix string `koanf:"subject_prefix"`
	IngestSubject string `koanf:"ingest_subject"`
}

// NATSEnabled reports whether any NATS connection will be made.
func (b BusConfig) NATSEnabled() bool {
	return b.NATSURL != "" || b.Embedded
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend     string `koanf:"backend"`
	Dir         string `koanf:"dir"`
	NATSBucket  string `koanf:"nats_bucket"`
	PostgresDSN Secret `koanf:"postgres_dsn"`
	// Passphrase, when set, encrypts every stored value.
	Passphrase Secret `koanf:"passphrase"`
}

// NotifyConfig lists the notification sinks. The log sink is always on.
type NotifyConfig struct {
	WebhookURL     string            `koanf:"webhook_url"`
	WebhookHeaders map[string]string `koanf:"webhook_headers"`
	WebhookTimeout Duration          `koanf:"webhook_timeout"`
	NATSSubject    string            `koanf:"nats_subject"`
}

// SecretsConfig controls credential scrubbing of ingested content.
type SecretsConfig struct {
	Enabled       bool     `koanf:"enabled"`
	Gitleaks      bool     `koanf:"gitleaks"`
	AllowlistFile string   `koanf:"allowlist_file"`
	Allow         []string `koanf:"allow"`
}

// Default returns the built-in configuration.
func Default() Config {
	corr := correlation.DefaultConfig()
	rem := reminder.DefaultConfig()
	fu := followup.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9494,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:        "localhost:4317",
			ServiceName:     "nudged",
			ServiceVersion:  "0.1.0",
			Insecure:        true,
			SampleRate:      1.0,
			MetricsInterval: Duration(15 * time.Second),
		},
		Admission: AdmissionConfig{ShortLength: admission.DefaultConfig().ShortLength},
		Correlation: CorrelationConfig{
			WindowSize:        corr.WindowSize,
			MaxMatches:        corr.MaxMatches,
			Threshold:         corr.Threshold,
			EntityWeight:      corr.EntityWeight,
			SourceWeight:      corr.SourceWeight,
			TimeWeight:        corr.TimeWeight,
			TimeWindow:        Duration(corr.TimeWindow),
			TagWeight:         corr.TagWeight,
			ThreadRetention:   Duration(corr.ThreadRetention),
			MaxThreads:        corr.MaxThreads,
			MaxThreadMessages: corr.MaxThreadMessages,
		},
		Followup: FollowupConfig{
			EmailWindow:      Duration(fu.Windows[followup.TypeEmailResponse]),
			MessageWindow:    Duration(fu.Windows[followup.TypeMessageResponse]),
			ActionWindow:     Duration(fu.Windows[followup.TypeActionItemCheck]),
			CommitmentWindow: Duration(fu.Windows[followup.TypeCommitmentVerification]),
			MinConfidence:    fu.MinConfidence,
		},
		Reminder: ReminderConfig{
			OverdueGrace:       Duration(rem.OverdueGrace),
			DefaultSnooze:      Duration(rem.DefaultSnooze),
			DefaultDelay:       Duration(rem.DefaultDelay),
			RelevanceThreshold: rem.RelevanceThreshold,
			SweepInterval:      Duration(5 * time.Minute),
		},
		Enhancement: EnhancementConfig{
			Provider:          "disabled",
			Timeout:           Duration(30 * time.Second),
			RequestsPerMinute: 30,
			Burst:             1,
			MaxRetries:        2,
		},
		Bus: BusConfig{
			QueueSize:     256,
			EmbeddedPort:  -1,
			SubjectPrefix: "nudged.bus",
			IngestSubject: "nudged.ingest",
		},
		Storage: StorageConfig{
			Backend:    StorageFile,
			Dir:        "~/.local/share/nudged",
			NATSBucket: "nudged",
		},
		Notify: NotifyConfig{
			WebhookTimeout: Duration(10 * time.Second),
		},
		Secrets: SecretsConfig{
			Enabled:  true,
			Gitleaks: true,
		},
	}
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server shutdown timeout must be positive"))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging format must be json or console, got %q", c.Logging.Format))
	}
	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		errs = append(errs, errors.New("telemetry service name required when telemetry is enabled"))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry sample rate must be between 0 and 1, got %g", c.Telemetry.SampleRate))
	}

	cw := c.Correlation
	if cw.Threshold < 0 || cw.Threshold > 1 {
		errs = append(errs, fmt.Errorf("correlation threshold must be between 0 and 1, got %g", cw.Threshold))
	}
	for name, w := range map[string]float64{
		"entity_weight": cw.EntityWeight,
		"source_weight": cw.SourceWeight,
		"time_weight":   cw.TimeWeight,
		"tag_weight":    cw.TagWeight,
	} {
		if w < 0 {
			errs = append(errs, fmt.Errorf("correlation %s cannot be negative", name))
		}
	}
	if c.Reminder.RelevanceThreshold < 0 || c.Reminder.RelevanceThreshold > 1 {
		errs = append(errs, fmt.Errorf("reminder relevance threshold must be between 0 and 1, got %g", c.Reminder.RelevanceThreshold))
	}
	if c.Reminder.SweepInterval <= 0 {
		errs = append(errs, errors.New("reminder sweep interval must be positive"))
	}

	switch c.Enhancement.Provider {
	case "", "disabled", "none", "ollama":
	case "anthropic", "openai":
		if !c.Enhancement.APIKey.IsSet() {
			errs = append(errs, fmt.Errorf("enhancement provider %s requires an api key", c.Enhancement.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown enhancement provider %q", c.Enhancement.Provider))
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Dir == "" {
			errs = append(errs, errors.New("file storage requires a directory"))
		}
	case StorageNATS:
		if !c.Bus.NATSEnabled() {
			errs = append(errs, errors.New("nats storage requires bus.nats_url or bus.embedded"))
		}
	case StoragePostgres:
		if !c.Storage.PostgresDSN.IsSet() {
			errs = append(errs, errors.New("postgres storage requires a dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	if c.Notify.WebhookURL != "" {
		u, err := url.Parse(c.Notify.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("notify webhook url must be an absolute http(s) url, got %q", c.Notify.WebhookURL))
		}
	}
	if c.Notify.NATSSubject != "" && !c.Bus.NATSEnabled() {
		errs = append(errs, errors.New("notify nats subject requires bus.nats_url or bus.embedded"))
	}
	return errors.Join(errs...)
}

// AdmissionTuning converts the section for admission.New.
func (c *Config) AdmissionTuning() admission.Config {
	return admission.Config{ShortLength: c.Admission.ShortLength}
}

// CorrelationTuning converts the section for correlation.New.
func (c *Config) CorrelationTuning() correlation.Config {
	cw := c.Correlation
	return correlation.Config{
		WindowSize:        cw.WindowSize,
		MaxMatches:        cw.MaxMatches,
		Threshold:         cw.Threshold,
		EntityWeight:      cw.EntityWeight,
		SourceWeight:      cw.SourceWeight,
		TimeWeight:        cw.TimeWeight,
		TimeWindow:        cw.TimeWindow.Duration(),
		TagWeight:         cw.TagWeight,
		ThreadRetention:   cw.ThreadRetention.Duration(),
		MaxThreads:        cw.MaxThreads,
		MaxThreadMessages: cw.MaxThreadMessages,
	}
}

// FollowupTuning converts the section for followup.New.
func (c *Config) FollowupTuning() followup.Config {
	return followup.Config{
		Windows: map[followup.Type]time.Duration{
			followup.TypeEmailResponse:          c.Followup.EmailWindow.Duration(),
			followup.TypeMessageResponse:        c.Followup.MessageWindow.Duration(),
			followup.TypeActionItemCheck:        c.Followup.ActionWindow.Duration(),
			followup.TypeCommitmentVerification: c.Followup.CommitmentWindow.Duration(),
		},
		MinConfidence: c.Followup.MinConfidence,
	}
}

// ReminderTuning converts the section for reminder.New.
func (c *Config) ReminderTuning() reminder.Config {
	return reminder.Config{
		OverdueGrace:       c.Reminder.OverdueGrace.Duration(),
		DefaultSnooze:      c.Reminder.DefaultSnooze.Duration(),
		DefaultDelay:       c.Reminder.DefaultDelay.Duration(),
		RelevanceThreshold: c.Reminder.RelevanceThreshold,
	}
}

// EnhancementService converts the section for enhance.New.
func (c *Config) EnhancementService() enhance.Config {
	e := c.Enhancement
	return enhance.Config{
		Provider:          e.Provider,
		APIKey:            e.APIKey.Value(),
		Model:             e.Model,
		BaseURL:           e.BaseURL,
		Timeout:           e.Timeout.Duration(),
		RequestsPerMinute: e.RequestsPerMinute,
		MaxRetries:        e.MaxRetries,
	}
}

// SecretsTuning converts the section for secrets.New.
func (c *Config) SecretsTuning() secrets.Config {
	return secrets.Config{
		Enabled:       c.Secrets.Enabled,
		Gitleaks:      c.Secrets.Gitleaks,
		AllowlistFile: c.Secrets.AllowlistFile,
		Allow:         c.Secrets.Allow,
	}
}
