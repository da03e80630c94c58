package auth

import (
	"context"
	"errors"
	"time"

	"github.com/isometry/ldapfence/internal/ldap"
	"github.com/isometry/ldapfence/internal/logging"
	"github.com/isometry/ldapfence/internal/metrics"
)

const DirectoryProviderName = "directory"

// Directory finds the entries whose password verifies for username.
type Directory interface {
	Lookup(ctx context.Context, username, password string) ([]*ldap.Entry, error)
}

// DirectoryProvider authenticates against a Directory and optionally caches
// successful results in a Store.
//
// The zero value and the result of NewDisabledDirectoryProvider never match.
type DirectoryProvider struct {
	dir      Directory
	cache    *Store
	cacheTTL time.Duration

	now     func() time.Time
	logger  logging.Logger
	metrics metrics.Recorder
}

// DirectoryOption configures a DirectoryProvider.
type DirectoryOption func(*DirectoryProvider)

// WithCache writes verified credentials to store, expiring after ttl.
func WithCache(store *Store, ttl time.Duration) DirectoryOption {
	return func(p *DirectoryProvider) {
		p.cache = store
		p.cacheTTL = ttl
	}
}

// WithDirectoryClock overrides the clock used to compute cache expiry.
func WithDirectoryClock(now func() time.Time) DirectoryOption {
	return func(p *DirectoryProvider) {
		p.now = now
	}
}

// WithDirectoryLogger sets the logger.
func WithDirectoryLogger(logger logging.Logger) DirectoryOption {
	return func(p *DirectoryProvider) {
		p.logger = logger
	}
}

// WithDirectoryMetrics sets the metrics recorder.
func WithDirectoryMetrics(m metrics.Recorder) DirectoryOption {
	return func(p *DirectoryProvider) {
		p.metrics = m
	}
}

// NewDirectoryProvider creates a provider backed by dir.
func NewDirectoryProvider(dir Directory, opts ...DirectoryOption) *DirectoryProvider {
	p := &DirectoryProvider{
		dir:     dir,
		now:     time.Now,
		logger:  logging.NewNop(),
		metrics: metrics.NewNoop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewDisabledDirectoryProvider returns a provider that never matches.
func NewDisabledDirectoryProvider() *DirectoryProvider {
	return &DirectoryProvider{}
}

func (p *DirectoryProvider) Name() string {
	return DirectoryProviderName
}

// Enabled reports whether the provider consults a directory.
func (p *DirectoryProvider) Enabled() bool {
	return p != nil && p.dir != nil
}

// Authenticate succeeds only when the directory returns exactly one verified
// entry. Zero entries and ambiguous matches are both NoMatch.
func (p *DirectoryProvider) Authenticate(ctx context.Context, username, password string) Result {
	if !p.Enabled() {
		return NotMatched()
	}

	entries, err := p.dir.Lookup(ctx, username, password)
	if err != nil {
		if errors.Is(err, ldap.ErrPagingUnsupported) {
			return Failed(err)
		}
		return Abstained(err)
	}

	switch n := len(entries); {
	case n == 0:
		return NotMatched()
	case n > 1:
		p.logger.Warn("Ambiguous directory identity, rejecting", map[string]any{
			"username": username,
			"matches":  n,
		})
		return NotMatched()
	}

	id := ldap.IdentityFromEntry(entries[0])
	cred := &Credential{
		Username: username,
		Password: password,
		Source:   DirectoryProviderName,
		DN:       id.DN,
		SID:      id.SID,
		GUID:     id.GUID,
	}

	if p.cache != nil {
		cred.ExpiresAt = p.now().Add(p.cacheTTL)
		p.cache.Put(username, *cred)
		p.logger.Debug("Cached directory credential", map[string]any{
			"username":   username,
			"expires_at": cred.ExpiresAt.Format(time.RFC3339),
		})
	}

	return Matched(cred)
}
