package ldap

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-ldap/ldap/v3"
)

const (
	// PageSize is the number of entries requested per paged-search round trip.
	PageSize = 100

	DefaultPort    = 389
	DefaultTimeout = 10 * time.Second

	// Search result buffer handed to SearchAsync.
	searchBufferSize = PageSize
)

// BindMethod selects how the administrative search connection binds.
type BindMethod string

const (
	BindMethodSimple   BindMethod = "simple"
	BindMethodKerberos BindMethod = "kerberos"
)

// ConnectionConfig holds LDAP connection configuration.
type ConnectionConfig struct {
	Host          string        // Directory server hostname
	Port          int           // Directory server port
	UseTLS        bool          // Connect with ldaps://
	SkipTLSVerify bool          // Accept any server certificate when UseTLS is set
	Timeout       time.Duration // Dial and per-operation timeout

	// Bind identity. For end-user verification these hold the entry DN
	// and the supplied password.
	BindDN       string
	BindPassword string
	BindMethod   BindMethod

	// Kerberos settings, used only when BindMethod is kerberos.
	KerberosRealm  string
	KerberosKeytab string
	KerberosConfig string
	KerberosSPN    string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Port:          DefaultPort,
		SkipTLSVerify: true,
		Timeout:       DefaultTimeout,
		BindMethod:    BindMethodSimple,
	}
}

// URL returns the ldap:// or ldaps:// URL for the configured server.
func (c *ConnectionConfig) URL() string {
	scheme := "ldap"
	if c.UseTLS {
		scheme = "ldaps"
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(c.Host, strconv.Itoa(port)))
}

// WithCredentials returns a copy of the configuration bound as dn/password
// with a simple bind.
func (c *ConnectionConfig) WithCredentials(dn, password string) *ConnectionConfig {
	cp := *c
	cp.BindDN = dn
	cp.BindPassword = password
	cp.BindMethod = BindMethodSimple
	return &cp
}

// Validate checks the configuration for required fields.
func (c *ConnectionConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}

	switch c.BindMethod {
	case "", BindMethodSimple:
	case BindMethodKerberos:
		if c.KerberosRealm == "" {
			return fmt.Errorf("kerberos realm is required for kerberos bind")
		}
		if c.BindDN == "" {
			return fmt.Errorf("kerberos principal (bind DN) is required for kerberos bind")
		}
		// without a keytab or password the bind falls back to KRB5_KTNAME
		// or the system keytab
	default:
		return fmt.Errorf("unsupported bind method %q", c.BindMethod)
	}

	return nil
}

// Conn is the subset of *ldap.Conn used by the directory client.
type Conn interface {
	Bind(username, password string) error
	GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzid string) error
	SearchAsync(ctx context.Context, searchRequest *ldap.SearchRequest, bufferSize int) ldap.Response
	Unbind() error
	Close() error
	IsClosing() bool
}

var _ Conn = (*ldap.Conn)(nil)

// DialFunc opens an unbound connection to the configured server.
type DialFunc func(ctx context.Context, cfg *ConnectionConfig) (Conn, error)

// SearchRequest represents an LDAP search request.
type SearchRequest struct {
	BaseDN     string
	Filter     string
	Scope      int // ldap.ScopeBaseObject, ScopeSingleLevel or ScopeWholeSubtree
	Attributes []string
	TimeLimit  time.Duration
}

// Entry is a directory entry returned by a search.
type Entry = ldap.Entry
