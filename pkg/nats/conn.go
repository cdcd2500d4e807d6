// Package nats provides a lease queue on NATS JetStream plus an embedded
// server for local runs and tests.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/plaenen/liststate/pkg/credentials"
)

// ConnConfig describes how to reach the NATS server.
type ConnConfig struct {
	URL           string
	Name          string
	Credentials   credentials.Provider
	MaxReconnects int
	ReconnectWait time.Duration
	Logger        *slog.Logger
}

// DefaultConnConfig returns defaults for a local server.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		URL:           nats.DefaultURL,
		Name:          "liststate",
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
	}
}

// Connect opens a NATS connection, authenticating with config.Credentials
// when set.
func Connect(ctx context.Context, config ConnConfig) (*nats.Conn, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	if config.Credentials != nil {
		creds, err := config.Credentials.GetCredentials(ctx)
		if err != nil {
			return nil, fmt.Errorf("load nats credentials: %w", err)
		}
		authOpts, err := CredentialOptions(creds)
		if err != nil {
			return nil, err
		}
		opts = append(opts, authOpts...)
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", config.URL, err)
	}
	return nc, nil
}

// CredentialOptions maps credentials to NATS connect options.
func CredentialOptions(creds *credentials.Credentials) ([]nats.Option, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	switch creds.Type {
	case credentials.CredentialTypeToken:
		return []nats.Option{nats.Token(creds.Token)}, nil
	case credentials.CredentialTypeUserPassword:
		return []nats.Option{nats.UserInfo(creds.User, creds.Password)}, nil
	case credentials.CredentialTypeJWT:
		return []nats.Option{nats.UserJWTAndSeed(creds.JWTToken, creds.Seed)}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %q for nats", credentials.ErrInvalidCredentials, creds.Type)
	}
}
