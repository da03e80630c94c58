package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldapfence/internal/ldap"
)

// MockDirectory is a mock implementation of Directory.
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) Lookup(ctx context.Context, username, password string) ([]*ldap.Entry, error) {
	args := m.Called(ctx, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ldap.Entry), args.Error(1)
}

const aliceDN = "uid=alice,ou=people,dc=example,dc=com"

func userEntry(dn string) *ldap.Entry {
	return goldap.NewEntry(dn, map[string][]string{"uid": {"alice"}})
}

func TestDirectoryProvider_Disabled(t *testing.T) {
	for _, p := range []*DirectoryProvider{NewDisabledDirectoryProvider(), {}, NewDirectoryProvider(nil)} {
		assert.False(t, p.Enabled())
		res := p.Authenticate(context.Background(), "alice", "pw")
		assert.Equal(t, NoMatch, res.Decision)
		assert.NoError(t, res.Err)
	}
}

func TestDirectoryProvider_Authenticate(t *testing.T) {
	tests := []struct {
		name    string
		entries []*ldap.Entry
		err     error
		want    Decision
	}{
		{
			name:    "exactly one verified entry",
			entries: []*ldap.Entry{userEntry(aliceDN)},
			want:    Match,
		},
		{
			name:    "no verified entry",
			entries: []*ldap.Entry{},
			want:    NoMatch,
		},
		{
			name:    "ambiguous identity",
			entries: []*ldap.Entry{userEntry(aliceDN), userEntry("uid=alice,ou=contractors,dc=example,dc=com")},
			want:    NoMatch,
		},
		{
			name: "directory unreachable",
			err:  fmt.Errorf("wrapped: %w", ldap.ErrNoConnection),
			want: Abstain,
		},
		{
			name: "paging unsupported",
			err:  fmt.Errorf("search: %w", ldap.ErrPagingUnsupported),
			want: Fatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := new(MockDirectory)
			dir.On("Lookup", mock.Anything, "alice", "wonderland").Return(tt.entries, tt.err)

			p := NewDirectoryProvider(dir)
			res := p.Authenticate(context.Background(), "alice", "wonderland")

			assert.Equal(t, tt.want, res.Decision)
			if tt.err != nil {
				assert.ErrorIs(t, res.Err, tt.err)
			}
			if tt.want == Match {
				require.NotNil(t, res.Credential)
				assert.Equal(t, "alice", res.Credential.Username)
				assert.Equal(t, "wonderland", res.Credential.Password)
				assert.Equal(t, DirectoryProviderName, res.Credential.Source)
				assert.Equal(t, aliceDN, res.Credential.DN)
				assert.True(t, res.Credential.ExpiresAt.IsZero(), "no expiry without caching")
			} else {
				assert.Nil(t, res.Credential)
			}
			dir.AssertExpectations(t)
		})
	}
}

func TestDirectoryProvider_CachesIntoStore(t *testing.T) {
	store, err := NewStore("admin", "secret", WithStoreClock(fixedClock(epoch)))
	require.NoError(t, err)

	dir := new(MockDirectory)
	dir.On("Lookup", mock.Anything, "alice", "wonderland").Return([]*ldap.Entry{userEntry(aliceDN)}, nil).Once()

	p := NewDirectoryProvider(dir,
		WithCache(store, time.Hour),
		WithDirectoryClock(fixedClock(epoch)),
	)

	res := p.Authenticate(context.Background(), "alice", "wonderland")
	require.Equal(t, Match, res.Decision)
	assert.Equal(t, epoch.Add(time.Hour), res.Credential.ExpiresAt)

	// served from the store without another lookup
	cached := store.Authenticate(context.Background(), "alice", "wonderland")
	require.Equal(t, Match, cached.Decision)
	assert.Equal(t, DirectoryProviderName, cached.Credential.Source)
	assert.Equal(t, aliceDN, cached.Credential.DN)
	assert.Equal(t, epoch.Add(time.Hour), cached.Credential.ExpiresAt)

	dir.AssertNumberOfCalls(t, "Lookup", 1)
}

func TestDirectoryProvider_FailuresAreNotCached(t *testing.T) {
	store, err := NewStore("admin", "secret")
	require.NoError(t, err)

	dir := new(MockDirectory)
	dir.On("Lookup", mock.Anything, "alice", "guess").Return(nil, nil)
	dir.On("Lookup", mock.Anything, "bob", "pw").Return(nil, errors.New("connection reset"))

	p := NewDirectoryProvider(dir, WithCache(store, time.Hour))
	p.Authenticate(context.Background(), "alice", "guess")
	p.Authenticate(context.Background(), "bob", "pw")

	assert.Equal(t, 1, store.size(), "only the root credential is stored")
}

func TestDirectoryProvider_IdentityEnrichment(t *testing.T) {
	sid := []byte{0x01, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05, 0x20, 0x00, 0x00, 0x00, 0x20, 0x02, 0x00, 0x00}
	e := &ldap.Entry{
		DN: aliceDN,
		Attributes: []*goldap.EntryAttribute{
			{Name: "objectSid", Values: []string{string(sid)}, ByteValues: [][]byte{sid}},
		},
	}

	dir := new(MockDirectory)
	dir.On("Lookup", mock.Anything, "alice", "pw").Return([]*ldap.Entry{e}, nil)

	res := NewDirectoryProvider(dir).Authenticate(context.Background(), "alice", "pw")
	require.Equal(t, Match, res.Decision)
	assert.Equal(t, "S-1-5-32-544", res.Credential.SID)
	assert.Empty(t, res.Credential.GUID)
}
