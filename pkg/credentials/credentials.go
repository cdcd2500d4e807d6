// Package credentials loads queue-backend credentials from a file sealed
// with a gocloud.dev/secrets keeper.
//
// The keeper URL selects the KMS: awskms://, gcpkms://, azurekeyvault://,
// hashivault:// in production, base64key:// for local development.
//
//	provider, err := credentials.NewSealedFileProvider(ctx, "base64key://...", "/etc/liststate/nats.sealed")
//	creds, err := provider.GetCredentials(ctx)
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCredentialsExpired is returned when credentials have expired.
	ErrCredentialsExpired = errors.New("credentials expired")

	// ErrInvalidCredentials is returned when credentials are malformed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrProviderClosed is returned when attempting to use a closed provider.
	ErrProviderClosed = errors.New("provider is closed")
)

// CredentialType names an authentication scheme.
type CredentialType string

const (
	CredentialTypeToken        CredentialType = "token"
	CredentialTypeUserPassword CredentialType = "user_password"
	CredentialTypeJWT          CredentialType = "jwt"
)

// Credentials authenticate the process against a queue backend.
type Credentials struct {
	Type      CredentialType    `json:"type"`
	Token     string            `json:"token,omitempty"`
	User      string            `json:"user,omitempty"`
	Password  string            `json:"password,omitempty"`
	JWTToken  string            `json:"jwt_token,omitempty"`
	Seed      string            `json:"seed,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// IsExpired reports whether the credentials expired before now.
func (c *Credentials) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// Validate ensures credentials are well-formed for their type.
func (c *Credentials) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: missing", ErrInvalidCredentials)
	}

	switch c.Type {
	case CredentialTypeToken:
		if c.Token == "" {
			return fmt.Errorf("%w: token is required", ErrInvalidCredentials)
		}
	case CredentialTypeUserPassword:
		if c.User == "" || c.Password == "" {
			return fmt.Errorf("%w: user and password are required", ErrInvalidCredentials)
		}
	case CredentialTypeJWT:
		if c.JWTToken == "" || c.Seed == "" {
			return fmt.Errorf("%w: jwt_token and seed are required", ErrInvalidCredentials)
		}
	case "":
		return fmt.Errorf("%w: type is required", ErrInvalidCredentials)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCredentials, c.Type)
	}
	return nil
}

// Redacted returns a copy safe to log.
func (c Credentials) Redacted() Credentials {
	redact := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.Token = redact(c.Token)
	c.Password = redact(c.Password)
	c.Seed = redact(c.Seed)
	return c
}

// String prints the redacted form.
func (c Credentials) String() string {
	b, err := json.Marshal(c.Redacted())
	if err != nil {
		return string(c.Type)
	}
	return string(b)
}

// Provider supplies credentials.
type Provider interface {
	GetCredentials(ctx context.Context) (*Credentials, error)
	Close() error
}

// SecretData is the plaintext sealed into the credentials file.
type SecretData struct {
	Credentials *Credentials      `json:"credentials"`
	Version     int               `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
