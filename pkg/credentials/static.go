package credentials

import (
	"context"
	"time"
)

// StaticProvider serves fixed credentials. For development and tests.
type StaticProvider struct {
	creds *Credentials
}

// NewStaticProvider returns a provider for creds.
func NewStaticProvider(creds *Credentials) *StaticProvider {
	return &StaticProvider{creds: creds}
}

// NewStaticTokenProvider returns a provider for a bare token.
func NewStaticTokenProvider(token string) *StaticProvider {
	return NewStaticProvider(&Credentials{Type: CredentialTypeToken, Token: token})
}

// GetCredentials implements Provider.
func (p *StaticProvider) GetCredentials(ctx context.Context) (*Credentials, error) {
	if err := p.creds.Validate(); err != nil {
		return nil, err
	}
	if p.creds.IsExpired(time.Now()) {
		return nil, ErrCredentialsExpired
	}
	return p.creds, nil
}

// Close implements Provider.
func (p *StaticProvider) Close() error {
	return nil
}

var _ Provider = (*StaticProvider)(nil)
