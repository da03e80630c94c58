package ldap

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldapfence/internal/logging"
)

func TestConnectionConfig_URL(t *testing.T) {
	tests := []struct {
		name string
		cfg  ConnectionConfig
		want string
	}{
		{
			name: "plain default port",
			cfg:  ConnectionConfig{Host: "ldap.example.com"},
			want: "ldap://ldap.example.com:389",
		},
		{
			name: "tls custom port",
			cfg:  ConnectionConfig{Host: "dc1.example.com", Port: 636, UseTLS: true},
			want: "ldaps://dc1.example.com:636",
		},
		{
			name: "ipv6 host",
			cfg:  ConnectionConfig{Host: "::1", Port: 3389},
			want: "ldap://[::1]:3389",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.URL())
		})
	}
}

func TestConnectionConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ConnectionConfig)
		wantErr string
	}{
		{
			name:   "valid simple",
			mutate: func(*ConnectionConfig) {},
		},
		{
			name:    "missing host",
			mutate:  func(c *ConnectionConfig) { c.Host = "" },
			wantErr: "host is required",
		},
		{
			name:    "bad port",
			mutate:  func(c *ConnectionConfig) { c.Port = 70000 },
			wantErr: "port must be between",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *ConnectionConfig) { c.Timeout = -time.Second },
			wantErr: "timeout cannot be negative",
		},
		{
			name:    "unknown method",
			mutate:  func(c *ConnectionConfig) { c.BindMethod = "ntlm" },
			wantErr: "unsupported bind method",
		},
		{
			name: "kerberos without realm",
			mutate: func(c *ConnectionConfig) {
				c.BindMethod = BindMethodKerberos
			},
			wantErr: "realm is required",
		},
		{
			name: "kerberos with keytab",
			mutate: func(c *ConnectionConfig) {
				c.BindMethod = BindMethodKerberos
				c.KerberosRealm = "EXAMPLE.COM"
				c.BindPassword = ""
				c.KerberosKeytab = "/etc/ldapfence.keytab"
			},
		},
		{
			name: "kerberos with the default keytab",
			mutate: func(c *ConnectionConfig) {
				c.BindMethod = BindMethodKerberos
				c.KerberosRealm = "EXAMPLE.COM"
				c.BindPassword = ""
			},
		},
		{
			name: "kerberos without principal",
			mutate: func(c *ConnectionConfig) {
				c.BindMethod = BindMethodKerberos
				c.KerberosRealm = "EXAMPLE.COM"
				c.BindDN = ""
			},
			wantErr: "kerberos principal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	var nilCfg *ConnectionConfig
	assert.Error(t, nilCfg.Validate())
}

func TestDataSource_ConnectionIsReused(t *testing.T) {
	dir := newFakeDirectory()
	dir.passwords["cn=admin,dc=example,dc=com"] = "adminpw"
	source := NewDataSource(testConfig(), WithDialer(dir.dial))

	first, err := source.Connection(context.Background())
	require.NoError(t, err)
	second, err := source.Connection(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, dir.connCount())
	assert.Equal(t, "cn=admin,dc=example,dc=com", first.(*fakeConn).boundAs)
}

func TestDataSource_ReconnectsWhenClosed(t *testing.T) {
	dir := newFakeDirectory()
	dir.passwords["cn=admin,dc=example,dc=com"] = "adminpw"
	source := NewDataSource(testConfig(), WithDialer(dir.dial))

	first, err := source.Connection(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := source.Connection(context.Background())
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, dir.connCount())
}

func TestDataSource_ConcurrentConnectDialsOnce(t *testing.T) {
	dir := newFakeDirectory()
	dir.passwords["cn=admin,dc=example,dc=com"] = "adminpw"
	source := NewDataSource(testConfig(), WithDialer(dir.dial))

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := source.Connection(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, dir.connCount())
}

func TestDataSource_Disconnect(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Options{Level: "warn", Output: &buf})

	dir := newFakeDirectory()
	dir.passwords["cn=admin,dc=example,dc=com"] = "adminpw"
	dir.unbindErr = errors.New("unbind: broken pipe")
	source := NewDataSource(testConfig(), WithDialer(dir.dial), WithLogger(logger))

	conn, err := source.Connection(context.Background())
	require.NoError(t, err)

	assert.NotPanics(t, source.Disconnect)
	assert.True(t, conn.(*fakeConn).torndown())
	assert.Contains(t, buf.String(), "Directory unbind failed")

	// teardown is idempotent and leaves the source reusable
	assert.NotPanics(t, source.Disconnect)
	_, err = source.Connection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, dir.connCount())
}

func TestDataSource_BindFailureLeavesDisconnected(t *testing.T) {
	dir := newFakeDirectory()
	source := NewDataSource(testConfig(), WithDialer(dir.dial))

	conn, err := source.Connection(context.Background())
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.True(t, IsBindRejected(err))

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "bind", opErr.Op)
	assert.Equal(t, "cn=admin,dc=example,dc=com", opErr.DN)

	require.Equal(t, 1, dir.connCount())
	assert.True(t, dir.conns[0].torndown())
}

func TestDataSource_EmptyPasswordNeverBinds(t *testing.T) {
	dir := newFakeDirectory()
	dir.passwords["uid=alice,ou=people,dc=example,dc=com"] = ""
	source := NewDataSource(testConfig(), WithDialer(dir.dial)).
		WithCredentials("uid=alice,ou=people,dc=example,dc=com", "")

	_, err := source.Connection(context.Background())
	assert.Error(t, err)
}

func TestDataSource_WithCredentials(t *testing.T) {
	dir := newFakeDirectory()
	dir.passwords["cn=admin,dc=example,dc=com"] = "adminpw"
	dir.passwords["uid=alice,ou=people,dc=example,dc=com"] = "wonderland"

	admin := NewDataSource(testConfig(), WithDialer(dir.dial))
	adminConn, err := admin.Connection(context.Background())
	require.NoError(t, err)

	user := admin.WithCredentials("uid=alice,ou=people,dc=example,dc=com", "wonderland")
	userConn, err := user.Connection(context.Background())
	require.NoError(t, err)
	user.Disconnect()

	assert.NotSame(t, adminConn, userConn)
	assert.Equal(t, "uid=alice,ou=people,dc=example,dc=com", userConn.(*fakeConn).boundAs)
	assert.True(t, userConn.(*fakeConn).torndown())
	assert.False(t, adminConn.IsClosing(), "verification teardown must not touch the admin connection")

	// the admin configuration is not mutated
	assert.Equal(t, "cn=admin,dc=example,dc=com", admin.cfg.BindDN)
	assert.Equal(t, "adminpw", admin.cfg.BindPassword)
}

func TestDataSource_CancelledContext(t *testing.T) {
	dir := newFakeDirectory()
	source := NewDataSource(testConfig(), WithDialer(dir.dial))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := source.Connection(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, dir.connCount())
}
