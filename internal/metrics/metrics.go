// Package metrics records authentication and directory metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder receives metric observations from the authentication engine.
type Recorder interface {
	// RecordAuthRequest records the final gateway decision ("accepted" or "rejected").
	RecordAuthRequest(result string, duration time.Duration)

	// RecordProviderResult records a single provider's decision.
	RecordProviderResult(provider, decision string)

	// RecordSearch records a completed or failed paged search.
	RecordSearch(pages int, success bool)

	// RecordBind records a bind attempt; purpose is "admin" or "verify".
	RecordBind(purpose string, success bool)

	RecordCacheWrite()
	RecordCacheEviction()
}

// Ensure Metrics implements Recorder interface at compile time
var _ Recorder = (*Metrics)(nil)

// Metrics holds the Prometheus collectors.
type Metrics struct {
	AuthRequestsTotal        *prometheus.CounterVec
	AuthDuration             prometheus.Histogram
	ProviderResultsTotal     *prometheus.CounterVec
	LDAPSearchesTotal        *prometheus.CounterVec
	LDAPSearchPagesTotal     prometheus.Counter
	LDAPBindsTotal           *prometheus.CounterVec
	CredentialCacheWrites    prometheus.Counter
	CredentialCacheEvictions prometheus.Counter
}

// New registers all collectors with reg and returns the recorder.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AuthRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ldapfence_auth_requests_total",
				Help: "Total number of authentication decisions by result",
			},
			[]string{"result"}, // accepted, rejected
		),
		AuthDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ldapfence_auth_duration_seconds",
				Help:    "Time taken to reach an authentication decision",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		ProviderResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ldapfence_auth_provider_results_total",
				Help: "Total number of provider decisions by provider and decision",
			},
			[]string{"provider", "decision"},
		),
		LDAPSearchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ldapfence_ldap_searches_total",
				Help: "Total number of paged directory searches by result",
			},
			[]string{"result"},
		),
		LDAPSearchPagesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ldapfence_ldap_search_pages_total",
				Help: "Total number of directory search pages fetched",
			},
		),
		LDAPBindsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ldapfence_ldap_binds_total",
				Help: "Total number of directory binds by purpose and result",
			},
			[]string{"purpose", "result"},
		),
		CredentialCacheWrites: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ldapfence_credential_cache_writes_total",
				Help: "Total number of directory credentials written to the credential store",
			},
		),
		CredentialCacheEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ldapfence_credential_cache_evictions_total",
				Help: "Total number of expired credentials evicted on lookup",
			},
		),
	}
}

func (m *Metrics) RecordAuthRequest(result string, duration time.Duration) {
	m.AuthRequestsTotal.WithLabelValues(result).Inc()
	m.AuthDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordProviderResult(provider, decision string) {
	m.ProviderResultsTotal.WithLabelValues(provider, decision).Inc()
}

func (m *Metrics) RecordSearch(pages int, success bool) {
	m.LDAPSearchesTotal.WithLabelValues(resultLabel(success)).Inc()
	m.LDAPSearchPagesTotal.Add(float64(pages))
}

func (m *Metrics) RecordBind(purpose string, success bool) {
	m.LDAPBindsTotal.WithLabelValues(purpose, resultLabel(success)).Inc()
}

func (m *Metrics) RecordCacheWrite() {
	m.CredentialCacheWrites.Inc()
}

func (m *Metrics) RecordCacheEviction() {
	m.CredentialCacheEvictions.Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
