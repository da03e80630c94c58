package commands

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/isometry/ldapfence/internal/auth"
	"github.com/isometry/ldapfence/internal/config"
	"github.com/isometry/ldapfence/internal/ldap"
	"github.com/isometry/ldapfence/internal/logging"
	"github.com/isometry/ldapfence/internal/metrics"
)

// engine is the assembled authentication chain and its ambient services.
type engine struct {
	gateway  *auth.Gateway
	logger   logging.Logger
	metrics  metrics.Recorder
	registry *prometheus.Registry
	closers  []func()
}

func newLogger(cfg *config.Config, out io.Writer) logging.Logger {
	return logging.New(logging.Options{
		Name:   "ldapfence",
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: out,
	})
}

// newEngine wires the observability stack and, when withGateway is set, the
// provider chain: credential store first, then the directory.
func newEngine(cfg *config.Config, logger logging.Logger, withGateway bool) (*engine, error) {
	e := &engine{
		logger:  logger,
		metrics: metrics.NewNoop(),
	}

	if cfg.Metrics.Enabled {
		e.registry = prometheus.NewRegistry()
		e.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		e.metrics = metrics.New(e.registry)
	}

	if !withGateway {
		return e, nil
	}

	store, err := auth.NewStore(cfg.Root.Username, cfg.Root.Password,
		auth.WithStoreLogger(logger.Named("store")),
		auth.WithStoreMetrics(e.metrics),
	)
	if err != nil {
		return nil, err
	}

	directory, err := e.directoryProvider(cfg, store)
	if err != nil {
		return nil, err
	}

	e.gateway, err = auth.NewGateway([]auth.Provider{store, directory},
		auth.WithGatewayLogger(logger.Named("gateway")),
		auth.WithGatewayMetrics(e.metrics),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("Authentication chain ready", map[string]any{
		"directory":       directory.Enabled(),
		"cache":           directory.Enabled() && cfg.LDAP.Cache.Enabled,
		"cache_ttl":       cfg.LDAP.CacheTTL().String(),
		"group_filtering": len(cfg.LDAP.Group.CN) > 0,
	})
	return e, nil
}

func (e *engine) directoryProvider(cfg *config.Config, store *auth.Store) (*auth.DirectoryProvider, error) {
	if !cfg.LDAP.Enabled {
		return auth.NewDisabledDirectoryProvider(), nil
	}

	svc, err := ldap.NewAuthService(cfg.LDAP.ServiceConfig(),
		ldap.WithLogger(e.logger.Named("ldap")),
		ldap.WithMetrics(e.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to configure directory: %w", err)
	}
	e.closers = append(e.closers, svc.Close)

	opts := []auth.DirectoryOption{
		auth.WithDirectoryLogger(e.logger.Named("directory")),
		auth.WithDirectoryMetrics(e.metrics),
	}
	if cfg.LDAP.Cache.Enabled {
		opts = append(opts, auth.WithCache(store, cfg.LDAP.CacheTTL()))
	}
	return auth.NewDirectoryProvider(svc, opts...), nil
}

// Close releases directory connections.
func (e *engine) Close() {
	for _, c := range e.closers {
		c()
	}
}
