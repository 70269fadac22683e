package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	InstallsStarted   prometheus.Counter
	InstallsCompleted prometheus.Counter
	InstallsFailed    prometheus.Counter

	TokenExchanges *prometheus.CounterVec
	TokenResolves  *prometheus.CounterVec
	ResolveSeconds prometheus.Histogram
}

// Exchange / resolve outcome label values.
const (
	OutcomeOK             = "ok"
	OutcomeFailed         = "failed"
	OutcomeHit            = "hit"
	OutcomeRefreshed      = "refreshed"
	OutcomeReauthRequired = "reauth_required"
	OutcomeUnknownPortal  = "unknown_portal"
)

// New creates all metrics and registers them on reg. Tests pass a fresh
// registry so suites do not trip duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		InstallsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "hubbridge_installs_started_total",
			Help: "Total number of install sessions created",
		}),
		InstallsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "hubbridge_installs_completed_total",
			Help: "Total number of installs that reached authenticated status",
		}),
		InstallsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "hubbridge_installs_failed_total",
			Help: "Total number of install callbacks that failed",
		}),
		TokenExchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hubbridge_token_exchanges_total",
			Help: "Token endpoint grants by grant type and outcome",
		}, []string{"grant_type", "outcome"}),
		TokenResolves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hubbridge_token_resolves_total",
			Help: "Access token resolutions by outcome",
		}, []string{"outcome"}),
		ResolveSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hubbridge_token_resolve_duration_seconds",
			Help:    "Latency of access token resolution including refresh grants",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}),
	}
}
