// Package config loads process configuration from LISTSTATE_* environment
// variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/plaenen/liststate/pkg/checkpoint"
	"github.com/plaenen/liststate/pkg/validators"
)

// Prefix is prepended to every variable name.
const Prefix = "LISTSTATE_"

// Backend names a lease queue implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
	BackendNATS   Backend = "nats"
)

// Config holds process settings.
type Config struct {
	Streams           []string      `env:"STREAMS" envSeparator:"," envDefault:"Audit.AzureActiveDirectory,Audit.Exchange,Audit.SharePoint,Audit.General,DLP.All"`
	QueueName         string        `env:"QUEUE_NAME" envDefault:"o365-list-state"`
	VisibilityTimeout time.Duration `env:"VISIBILITY_TIMEOUT" envDefault:"180s"`
	QueueTimeout      time.Duration `env:"QUEUE_TIMEOUT" envDefault:"30s"`
	Backend           Backend       `env:"BACKEND" envDefault:"sqlite"`
	Interval          time.Duration `env:"INTERVAL" envDefault:"5m"`
	EmptyWindowPolicy string        `env:"EMPTY_WINDOW_POLICY" envDefault:"carry-start"`

	SQLiteDSN string `env:"SQLITE_DSN" envDefault:"liststate.db"`

	NATSURL      string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NATSEmbedded bool   `env:"NATS_EMBEDDED" envDefault:"false"`
	NATSStoreDir string `env:"NATS_STORE_DIR"`

	CredentialsKeeperURL string `env:"CREDENTIALS_KEEPER_URL"`
	CredentialsPath      string `env:"CREDENTIALS_PATH"`

	MetricsAddr     string  `env:"METRICS_ADDR"`
	OTLPEndpoint    string  `env:"OTLP_ENDPOINT"`
	OTLPInsecure    bool    `env:"OTLP_INSECURE" envDefault:"false"`
	TraceSampleRate float64 `env:"TRACE_SAMPLE_RATE" envDefault:"1"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	return LoadFrom(nil)
}

// LoadFrom parses environ (KEY=VALUE pairs) instead of the process
// environment when environ is non-nil.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: Prefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	for i, s := range cfg.Streams {
		cfg.Streams[i] = strings.TrimSpace(s)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	b := validators.NewValidationBuilder()

	if len(c.Streams) == 0 {
		b.Add(validators.ValidateStringEmpty("", "streams"))
	}
	seen := make(map[string]bool, len(c.Streams))
	for _, s := range c.Streams {
		b.Add(validators.ValidateToken(s, "streams"))
		if seen[s] {
			b.Add(validators.NewValidationResult(false, "streams",
				validators.WithValue(s),
				validators.WithMessage("Streams must not repeat."),
				validators.WithValidationCode(validators.ValidationCodeInvalid),
			))
		}
		seen[s] = true
	}

	b.Add(validators.ValidateToken(c.QueueName, "queue_name"))
	b.Add(validators.ValidatePositiveDuration(c.QueueTimeout, "queue_timeout"))
	b.Add(validators.ValidatePositiveDuration(c.Interval, "interval"))
	b.Add(validators.ValidateDurationAbove(c.VisibilityTimeout, c.QueueTimeout, "visibility_timeout", "queue_timeout"))
	b.Add(validators.ValidateOneOf(string(c.Backend), "backend",
		string(BackendMemory), string(BackendSQLite), string(BackendNATS)))
	b.Add(validators.ValidateOneOf(c.EmptyWindowPolicy, "empty_window_policy",
		checkpoint.CarryForwardStart.String(), checkpoint.AdvanceToEnd.String()))
	b.Add(validators.ValidateOneOf(strings.ToLower(c.LogLevel), "log_level", "debug", "info", "warn", "error"))
	b.Add(validators.ValidateOneOf(strings.ToLower(c.LogFormat), "log_format", "text", "json"))

	switch c.Backend {
	case BackendSQLite:
		b.Add(validators.ValidateStringEmpty(c.SQLiteDSN, "sqlite_dsn"))
	case BackendNATS:
		if !c.NATSEmbedded {
			b.Add(validators.ValidateURL(c.NATSURL, "nats_url", "nats", "tls", "ws", "wss"))
		}
	}

	if c.CredentialsPath != "" || c.CredentialsKeeperURL != "" {
		b.Add(validators.ValidateURL(c.CredentialsKeeperURL, "credentials_keeper_url"))
		b.Add(validators.ValidateStringEmpty(c.CredentialsPath, "credentials_path"))
	}
	if c.MetricsAddr != "" {
		b.Add(validators.ValidateHostPort(c.MetricsAddr, "metrics_addr"))
	}
	if c.OTLPEndpoint != "" {
		b.Add(validators.ValidateHostPort(c.OTLPEndpoint, "otlp_endpoint"))
	}

	return b.Err()
}

// Policy returns the parsed empty window policy.
func (c Config) Policy() checkpoint.EmptyWindowPolicy {
	p, err := checkpoint.ParseEmptyWindowPolicy(c.EmptyWindowPolicy)
	if err != nil {
		return checkpoint.CarryForwardStart
	}
	return p
}

// SlogLevel maps LogLevel to a slog.Level.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// HasCredentials reports whether a sealed credentials file is configured.
func (c Config) HasCredentials() bool {
	return c.CredentialsPath != ""
}
