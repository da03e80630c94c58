package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldapfence/internal/logging"
	"github.com/isometry/ldapfence/internal/metrics"
)

const (
	bindPurposeAdmin  = "admin"
	bindPurposeVerify = "verify"
)

// DataSource owns a single lazily established, bound directory connection.
//
// Connection is safe for concurrent use; callers share the returned Conn
// serially. A DataSource created by WithCredentials is private to one
// verification attempt and must be torn down with Disconnect.
type DataSource struct {
	cfg     *ConnectionConfig
	dial    DialFunc
	logger  logging.Logger
	metrics metrics.Recorder
	purpose string

	mu   sync.Mutex
	conn Conn
}

// Option configures a DataSource.
type Option func(*DataSource)

// WithDialer overrides how connections are opened.
func WithDialer(dial DialFunc) Option {
	return func(d *DataSource) {
		d.dial = dial
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(d *DataSource) {
		d.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(d *DataSource) {
		d.metrics = m
	}
}

// NewDataSource creates a disconnected DataSource bound as the identity in cfg.
func NewDataSource(cfg *ConnectionConfig, opts ...Option) *DataSource {
	d := &DataSource{
		cfg:     cfg,
		dial:    DialTLS,
		logger:  logging.NewNop(),
		metrics: metrics.NewNoop(),
		purpose: bindPurposeAdmin,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WithCredentials returns a new, disconnected DataSource for the same server
// that binds as dn/password.
func (d *DataSource) WithCredentials(dn, password string) *DataSource {
	return &DataSource{
		cfg:     d.cfg.WithCredentials(dn, password),
		dial:    d.dial,
		logger:  d.logger,
		metrics: d.metrics,
		purpose: bindPurposeVerify,
	}
}

// Connection returns the bound connection, connecting first if needed.
func (d *DataSource) Connection(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isConnected() {
		return d.conn, nil
	}

	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	return d.conn, nil
}

// Disconnect unbinds and closes the connection. Teardown errors are logged,
// never returned, and the DataSource always ends up disconnected.
func (d *DataSource) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.disconnect()
}

func (d *DataSource) isConnected() bool {
	return d.conn != nil && !d.conn.IsClosing()
}

func (d *DataSource) connect(ctx context.Context) error {
	if d.conn != nil {
		d.disconnect()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := d.dial(ctx, d.cfg)
	if err != nil {
		return opError("connect", "", fmt.Errorf("%w: %s: %w", ErrNoConnection, d.cfg.URL(), err))
	}
	d.conn = conn

	if err := d.bind(conn); err != nil {
		d.metrics.RecordBind(d.purpose, false)
		d.disconnect()
		return opError("bind", d.cfg.BindDN, err)
	}
	d.metrics.RecordBind(d.purpose, true)

	d.logger.Debug("Directory connection bound", map[string]any{
		"url":     d.cfg.URL(),
		"bind_dn": d.cfg.BindDN,
		"method":  string(d.cfg.BindMethod),
		"purpose": d.purpose,
	})
	return nil
}

func (d *DataSource) bind(conn Conn) error {
	switch d.cfg.BindMethod {
	case BindMethodKerberos:
		return kerberosBind(conn, d.cfg)
	default:
		// go-ldap refuses empty passwords, so an unauthenticated bind can
		// never pass as a successful verification.
		return conn.Bind(d.cfg.BindDN, d.cfg.BindPassword)
	}
}

func (d *DataSource) disconnect() {
	if d.isConnected() {
		if err := d.conn.Unbind(); err != nil {
			d.logger.Warn("Directory unbind failed", map[string]any{
				"url":   d.cfg.URL(),
				"error": err.Error(),
			})
		}
		if err := d.conn.Close(); err != nil {
			d.logger.Warn("Directory connection close failed", map[string]any{
				"url":   d.cfg.URL(),
				"error": err.Error(),
			})
		}
	}
	d.conn = nil
}

// DialTLS opens a connection with go-ldap, using ldaps:// when UseTLS is set.
func DialTLS(_ context.Context, cfg *ConnectionConfig) (Conn, error) {
	opts := []ldap.DialOpt{
		ldap.DialWithDialer(&net.Dialer{Timeout: cfg.Timeout}),
	}
	if cfg.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(&tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.SkipTLSVerify, //nolint:gosec // explicit skip_tls_verify option
			MinVersion:         tls.VersionTLS12,
		}))
	}

	conn, err := ldap.DialURL(cfg.URL(), opts...)
	if err != nil {
		return nil, err
	}

	if cfg.Timeout > 0 {
		conn.SetTimeout(cfg.Timeout)
	}
	return conn, nil
}
