// Package server hosts the authenticating reverse proxy.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/isometry/ldapfence/internal/config"
	"github.com/isometry/ldapfence/internal/logging"
	"github.com/isometry/ldapfence/internal/metrics"
	"github.com/isometry/ldapfence/internal/middleware"
)

// ForwardedUserHeader tells the upstream who was authenticated.
const ForwardedUserHeader = "X-Forwarded-User"

// HealthPath is always served without authentication.
const HealthPath = "/healthz"

// Options holds the collaborators of the HTTP host.
type Options struct {
	Config *config.Config

	// Gateway decides credentials. Ignored when Config.Enabled is false.
	Gateway middleware.Authenticator

	Logger   logging.Logger
	Metrics  metrics.Recorder
	Gatherer prometheus.Gatherer
}

// Server serves the protected upstream behind Basic authentication.
type Server struct {
	server       *http.Server
	cfg          config.ServerConfig
	logger       logging.Logger
	shutdownOnce sync.Once
}

// New creates a Server in a stopped state. Call Start to begin serving.
func New(opts Options) (*Server, error) {
	router, err := NewRouter(opts)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Server{
		server: &http.Server{
			Addr:              opts.Config.Server.Listen,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		cfg:    opts.Config.Server,
		logger: logger,
	}, nil
}

// NewRouter builds the chi router: health, metrics and the guarded proxy.
func NewRouter(opts Options) (http.Handler, error) {
	if opts.Config == nil {
		return nil, errors.New("server configuration cannot be nil")
	}
	cfg := opts.Config

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoop()
	}

	if cfg.Enabled && opts.Gateway == nil {
		return nil, errors.New("authentication is enabled but no gateway was provided")
	}

	upstream, err := upstreamHandler(cfg.Server.Upstream, logger)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger, cfg.Metrics.Path))
	r.Use(chimiddleware.Recoverer)

	r.Get(HealthPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.Metrics.Enabled && opts.Gatherer != nil {
		r.Method(http.MethodGet, cfg.Metrics.Path, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		if cfg.Enabled {
			r.Use(middleware.Authenticate(opts.Gateway, logger, opts.Metrics, cfg.Server.BypassPaths))
		} else {
			logger.Warn("Authentication disabled, proxying requests unchecked", nil)
		}
		r.Handle("/*", upstream)
	})

	return r, nil
}

// upstreamHandler proxies to target. Without a target it answers with the
// authenticated identity, which is enough for use as an auth-request backend.
func upstreamHandler(target string, logger logging.Logger) (http.Handler, error) {
	if target == "" {
		return http.HandlerFunc(whoami), nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", target, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q: scheme and host are required", target)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(u)
			pr.SetXForwarded()
			pr.Out.Header.Del(ForwardedUserHeader)
			if cred := middleware.CredentialFromContext(pr.In.Context()); cred != nil {
				pr.Out.Header.Set(ForwardedUserHeader, cred.Username)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("Upstream request failed", map[string]any{
				"upstream": u.Redacted(),
				"path":     r.URL.Path,
				"error":    err.Error(),
			})
			w.WriteHeader(http.StatusBadGateway)
		},
	}, nil
}

type identity struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
	Source        string `json:"source,omitempty"`
	DN            string `json:"dn,omitempty"`
	SID           string `json:"sid,omitempty"`
	GUID          string `json:"guid,omitempty"`
}

func whoami(w http.ResponseWriter, r *http.Request) {
	cred := middleware.CredentialFromContext(r.Context())
	if cred == nil {
		writeJSON(w, http.StatusOK, identity{})
		return
	}
	writeJSON(w, http.StatusOK, identity{
		Authenticated: true,
		Username:      cred.Username,
		Source:        cred.Source,
		DN:            cred.DN,
		SID:           cred.SID,
		GUID:          cred.GUID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(logger logging.Logger, metricsPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			fields := map[string]any{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"bytes":    ww.BytesWritten(),
				"duration": time.Since(start).String(),
			}
			if id := middleware.RequestIDFromContext(r.Context()); id != "" {
				fields["request_id"] = id
			}

			// health checks and scrapes are noisy
			if r.URL.Path == HealthPath || r.URL.Path == metricsPath {
				logger.Debug("HTTP request completed", fields)
			} else {
				logger.Info("HTTP request completed", fields)
			}
		})
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully within the
// configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", map[string]any{
			"address":  ln.Addr().String(),
			"upstream": s.cfg.Upstream,
		})
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown signal received", nil)
		// ctx is already done; shutdown needs its own deadline
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("HTTP server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
			s.logger.Error("HTTP server shutdown error", map[string]any{"error": err.Error()})
			return
		}
		s.logger.Info("HTTP server stopped gracefully", nil)
	})
	return shutdownErr
}
