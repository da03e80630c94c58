package auth

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"github.com/isometry/ldapfence/internal/logging"
	"github.com/isometry/ldapfence/internal/metrics"
)

const (
	StoreProviderName = "store"
	RootSource        = "root"
)

// Store holds the root credential and cached directory credentials.
//
// Expired entries are evicted lazily when looked up; there is no background
// sweep. A single mutex guards the map.
type Store struct {
	mu    sync.Mutex
	creds map[string]Credential

	now     func() time.Time
	logger  logging.Logger
	metrics metrics.Recorder
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreClock overrides the clock used for expiry checks.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger logging.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithStoreMetrics sets the metrics recorder.
func WithStoreMetrics(m metrics.Recorder) StoreOption {
	return func(s *Store) {
		s.metrics = m
	}
}

// NewStore creates a Store seeded with the root credential. Both the root
// username and password must be non-blank.
func NewStore(rootUsername, rootPassword string, opts ...StoreOption) (*Store, error) {
	if strings.TrimSpace(rootUsername) == "" || strings.TrimSpace(rootPassword) == "" {
		return nil, ErrRootCredentialMissing
	}

	s := &Store{
		creds:   make(map[string]Credential),
		now:     time.Now,
		logger:  logging.NewNop(),
		metrics: metrics.NewNoop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.creds[rootUsername] = Credential{
		Username: rootUsername,
		Password: rootPassword,
		Source:   RootSource,
	}
	s.logger.Info("Registered root user", map[string]any{"username": rootUsername})

	return s, nil
}

func (s *Store) Name() string {
	return StoreProviderName
}

// Authenticate matches username/password against stored credentials. A
// matching but expired credential is evicted. A wrong password never evicts.
func (s *Store) Authenticate(_ context.Context, username, password string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[username]
	if !ok {
		return NotMatched()
	}

	if subtle.ConstantTimeCompare([]byte(cred.Password), []byte(password)) != 1 {
		return NotMatched()
	}

	if cred.Expired(s.now()) {
		delete(s.creds, username)
		s.metrics.RecordCacheEviction()
		s.logger.Debug("Evicted expired credential", map[string]any{
			"username":   username,
			"expired_at": cred.ExpiresAt.Format(time.RFC3339),
		})
		return NotMatched()
	}

	return Matched(&cred)
}

// Put inserts or replaces the credential for username.
func (s *Store) Put(username string, cred Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds[username] = cred
	s.metrics.RecordCacheWrite()
}
