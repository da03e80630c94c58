package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/isometry/ldapfence/internal/logging"
	"github.com/isometry/ldapfence/internal/metrics"
)

// Gateway runs an ordered provider chain. The first Match wins; every other
// outcome, including a provider panic, moves on to the next provider.
type Gateway struct {
	providers []Provider
	logger    logging.Logger
	metrics   metrics.Recorder
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayLogger sets the logger.
func WithGatewayLogger(logger logging.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithGatewayMetrics sets the metrics recorder.
func WithGatewayMetrics(m metrics.Recorder) GatewayOption {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// NewGateway creates a Gateway that consults providers in order.
func NewGateway(providers []Provider, opts ...GatewayOption) (*Gateway, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}

	g := &Gateway{
		providers: providers,
		logger:    logging.NewNop(),
		metrics:   metrics.NewNoop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Authenticate decodes a Basic Authorization header value and runs the
// provider chain. It returns nil when the header is unusable or no provider
// matches.
func (g *Gateway) Authenticate(ctx context.Context, header string) *Credential {
	start := time.Now()

	username, password, ok := DecodeBasic(header)
	if !ok {
		g.logger.Debug("No usable Basic credentials", nil)
		g.metrics.RecordAuthRequest("rejected", time.Since(start))
		return nil
	}

	return g.authenticate(ctx, start, username, password)
}

// AuthenticateBasic runs the provider chain for an already decoded pair.
func (g *Gateway) AuthenticateBasic(ctx context.Context, username, password string) *Credential {
	return g.authenticate(ctx, time.Now(), username, password)
}

func (g *Gateway) authenticate(ctx context.Context, start time.Time, username, password string) *Credential {
	for _, p := range g.providers {
		if err := ctx.Err(); err != nil {
			g.logger.Warn("Authentication abandoned", map[string]any{
				"username": username,
				"error":    err.Error(),
			})
			break
		}

		res := g.try(ctx, p, username, password)
		g.metrics.RecordProviderResult(p.Name(), res.Decision.String())

		fields := map[string]any{
			"provider": p.Name(),
			"username": username,
			"decision": res.Decision.String(),
		}

		switch res.Decision {
		case Match:
			if res.Credential == nil {
				g.logger.Error("Provider matched without a credential, ignoring", fields)
				continue
			}
			fields["source"] = res.Credential.Source
			fields["duration_ms"] = time.Since(start).Milliseconds()
			g.logger.Info("Authentication succeeded", fields)
			g.metrics.RecordAuthRequest("accepted", time.Since(start))
			return res.Credential

		case Abstain:
			fields["error"] = errString(res.Err)
			g.logger.Warn("Provider abstained", fields)

		case Fatal:
			fields["error"] = errString(res.Err)
			g.logger.Error("Provider failed", fields)

		default:
			g.logger.Debug("Provider did not match", fields)
		}
	}

	g.logger.Info("Authentication rejected", map[string]any{
		"username":    username,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	g.metrics.RecordAuthRequest("rejected", time.Since(start))
	return nil
}

// try isolates a provider: a panic becomes Abstain.
func (g *Gateway) try(ctx context.Context, p Provider, username, password string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Abstained(fmt.Errorf("provider %s panicked: %v", p.Name(), r))
		}
	}()

	return p.Authenticate(ctx, username, password)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
