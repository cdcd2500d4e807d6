package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gocloud.dev/secrets"
	_ "gocloud.dev/secrets/localsecrets" // base64key:// keepers
)

// DefaultCacheTTL is how long decrypted credentials are reused.
const DefaultCacheTTL = 5 * time.Minute

// SealedFileProvider decrypts a credentials file with a secrets keeper.
// The file is re-read once the cache expires, so rotation only needs a new
// file on disk.
type SealedFileProvider struct {
	keeper   *secrets.Keeper
	path     string
	cacheTTL time.Duration
	clock    func() time.Time

	mu          sync.Mutex
	cached      *Credentials
	cacheExpiry time.Time
	closed      bool
}

// SealedOption configures a SealedFileProvider.
type SealedOption func(*SealedFileProvider)

// WithCacheTTL sets how long decrypted credentials are reused.
func WithCacheTTL(ttl time.Duration) SealedOption {
	return func(p *SealedFileProvider) {
		p.cacheTTL = ttl
	}
}

// WithClock sets the time source for caching and expiry.
func WithClock(clock func() time.Time) SealedOption {
	return func(p *SealedFileProvider) {
		p.clock = clock
	}
}

// NewSealedFileProvider opens the keeper at keeperURL and loads path.
func NewSealedFileProvider(ctx context.Context, keeperURL, path string, opts ...SealedOption) (*SealedFileProvider, error) {
	if keeperURL == "" {
		return nil, fmt.Errorf("keeper URL is required")
	}
	if path == "" {
		return nil, fmt.Errorf("credentials path is required")
	}

	keeper, err := secrets.OpenKeeper(ctx, keeperURL)
	if err != nil {
		return nil, fmt.Errorf("open secret keeper: %w", err)
	}

	p := &SealedFileProvider{
		keeper:   keeper,
		path:     path,
		cacheTTL: DefaultCacheTTL,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	if _, err := p.GetCredentials(ctx); err != nil {
		keeper.Close()
		return nil, fmt.Errorf("load initial credentials: %w", err)
	}
	return p, nil
}

// GetCredentials returns cached credentials or decrypts the file again.
func (p *SealedFileProvider) GetCredentials(ctx context.Context) (*Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrProviderClosed
	}

	now := p.clock()
	if p.cached == nil || !now.Before(p.cacheExpiry) {
		creds, err := p.load(ctx)
		if err != nil {
			return nil, err
		}
		p.cached = creds
		p.cacheExpiry = now.Add(p.cacheTTL)
	}

	if p.cached.IsExpired(now) {
		return nil, ErrCredentialsExpired
	}
	return p.cached, nil
}

// Invalidate drops the cache so the next call re-reads the file.
func (p *SealedFileProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
	p.cacheExpiry = time.Time{}
}

func (p *SealedFileProvider) load(ctx context.Context) (*Credentials, error) {
	ciphertext, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read sealed credentials: %w", err)
	}

	plaintext, err := p.keeper.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt sealed credentials: %w", err)
	}

	var data SecretData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("%w: unmarshal secret data: %v", ErrInvalidCredentials, err)
	}
	if err := data.Credentials.Validate(); err != nil {
		return nil, err
	}
	return data.Credentials, nil
}

// Close releases the keeper.
func (p *SealedFileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.keeper.Close()
}

// Seal encrypts creds with the keeper at keeperURL and writes them to path
// with owner-only permissions.
func Seal(ctx context.Context, keeperURL, path string, creds *Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	keeper, err := secrets.OpenKeeper(ctx, keeperURL)
	if err != nil {
		return fmt.Errorf("open secret keeper: %w", err)
	}
	defer keeper.Close()

	plaintext, err := json.Marshal(SecretData{
		Credentials: creds,
		Version:     1,
		CreatedAt:   time.Now().UTC(),
		Metadata:    map[string]string{"created_by": "liststate"},
	})
	if err != nil {
		return fmt.Errorf("marshal secret data: %w", err)
	}

	ciphertext, err := keeper.Encrypt(ctx, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, ciphertext, 0o600); err != nil {
		return fmt.Errorf("write sealed credentials: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace sealed credentials: %w", err)
	}
	return nil
}

var _ Provider = (*SealedFileProvider)(nil)
