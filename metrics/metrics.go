// Package metrics exposes Prometheus instrumentation for the session,
// entitlement and route guard components.
package metrics

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	tenantauth "github.com/goliatone/go-tenantauth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const subsystem = "tenantauth"

// Metrics holds the collectors. Use one instance per registry.
type Metrics struct {
	registry prometheus.Gatherer

	guardDecisions    *prometheus.CounterVec
	activityEvents    *prometheus.CounterVec
	resolutions       *prometheus.CounterVec
	resolutionLatency *prometheus.HistogramVec
	activeSessions    prometheus.Gauge
}

// New registers the collectors on registry. A nil registry uses a fresh
// prometheus.Registry.
func New(namespace string, registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		guardDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "guard_decisions_total",
				Help:      "Route guard evaluations by decision and required feature",
			},
			[]string{"decision", "feature"},
		),
		activityEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "activity_events_total",
				Help:      "Session activity events by type",
			},
			[]string{"type"},
		),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "entitlement_resolutions_total",
				Help:      "Entitlement resolutions by outcome",
			},
			[]string{"outcome"},
		),
		resolutionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "entitlement_resolution_duration_seconds",
				Help:      "Duration of tenant and profile resolution",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "session_contexts",
				Help:      "Live session contexts held by the registry",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		m.guardDecisions,
		m.activityEvents,
		m.resolutions,
		m.resolutionLatency,
		m.activeSessions,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// DecisionHook counts route guard evaluations
func (m *Metrics) DecisionHook() tenantauth.DecisionHook {
	return func(eval tenantauth.Evaluation) {
		m.guardDecisions.WithLabelValues(string(eval.Decision), featureLabel(eval.Feature)).Inc()
	}
}

// Record implements tenantauth.ActivitySink
func (m *Metrics) Record(_ context.Context, event tenantauth.ActivityEvent) error {
	m.activityEvents.WithLabelValues(string(event.EventType)).Inc()
	return nil
}

// SetSessionContexts reports the registry size
func (m *Metrics) SetSessionContexts(n int) {
	m.activeSessions.Set(float64(n))
}

// InstrumentResolver wraps resolver with outcome counters and latency
func (m *Metrics) InstrumentResolver(resolver tenantauth.EntitlementResolver) tenantauth.EntitlementResolver {
	return tenantauth.ResolverFunc(func(ctx context.Context, identityID string) (tenantauth.Resolution, error) {
		start := time.Now()
		res, err := resolver.Resolve(ctx, identityID)

		outcome := "entitled"
		switch {
		case err != nil:
			outcome = "error"
		case !res.Provisioned():
			outcome = "unprovisioned"
		}

		m.resolutions.WithLabelValues(outcome).Inc()
		m.resolutionLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		return res, err
	})
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// featureLabel keeps label cardinality bounded to the feature catalog
func featureLabel(key tenantauth.FeatureKey) string {
	if key == "" {
		return "none"
	}
	return key.String()
}
