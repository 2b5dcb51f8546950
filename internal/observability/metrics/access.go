// Package metrics records gating and upstream metrics. Every event goes to the
// StatsD sink and to Prometheus collectors served at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agromarket/marketgate/internal/domain/access"
	obserrors "github.com/agromarket/marketgate/internal/observability/errors"
	"github.com/agromarket/marketgate/internal/observability/statsd"
)

// Enforcement points, used as the "point" tag.
const (
	PointEdge  = "edge"
	PointPage  = "page"
	PointHook  = "hook"
	PointWatch = "watch"
)

// Options configures NewAccessRecorder.
type Options struct {
	Sink      statsd.Sink
	Namespace string
	// Registry defaults to a fresh registry so multiple recorders never collide.
	Registry *prometheus.Registry
}

// AccessRecorder fans access events out to StatsD and Prometheus.
// A nil *AccessRecorder discards everything.
type AccessRecorder struct {
	sink     statsd.Sink
	registry *prometheus.Registry

	decisions *prometheus.CounterVec
	logouts   *prometheus.CounterVec
	lookups   *prometheus.CounterVec
	upstream  *prometheus.CounterVec
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// NewAccessRecorder creates and registers the collectors.
func NewAccessRecorder(opts Options) (*AccessRecorder, error) {
	ns := opts.Namespace
	if ns == "" {
		ns = "marketgate"
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &AccessRecorder{
		sink:     opts.Sink,
		registry: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "access_decisions_total",
			Help:      "Access decisions by enforcement point, route category, action and rule.",
		}, []string{"point", "category", "action", "reason"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "forced_logouts_total",
			Help:      "Sessions cleared because they expired or disappeared.",
		}, []string{"point"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "role_lookups_total",
			Help:      "Role resolutions by outcome.",
		}, []string{"outcome"}),
		upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "upstream_errors_total",
			Help:      "Failed calls to the marketplace API.",
		}, []string{"op", "error_class"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
	}

	for _, c := range []prometheus.Collector{r.decisions, r.logouts, r.lookups, r.upstream, r.requests, r.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Handler serves the Prometheus exposition for this recorder's registry.
func (r *AccessRecorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Decision records one engine verdict at an enforcement point.
func (r *AccessRecorder) Decision(point string, category access.Category, d access.Decision) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(point, string(category), string(d.Action), string(d.Reason)).Inc()
	if r.sink != nil {
		r.sink.Count("access.decision", 1, map[string]string{
			"point":    point,
			"category": string(category),
			"action":   string(d.Action),
			"reason":   string(d.Reason),
		})
	}
}

// ForcedLogout records a session cleared by an enforcement point.
func (r *AccessRecorder) ForcedLogout(point string) {
	if r == nil {
		return
	}
	r.logouts.WithLabelValues(point).Inc()
	if r.sink != nil {
		r.sink.Count("session.forced_logout", 1, map[string]string{"point": point})
	}
}

// RoleLookup records how a role was resolved.
func (r *AccessRecorder) RoleLookup(outcome string) {
	if r == nil {
		return
	}
	r.lookups.WithLabelValues(outcome).Inc()
	if r.sink != nil {
		r.sink.Count("role.lookup", 1, map[string]string{"outcome": outcome})
	}
}

// UpstreamError records a failed marketplace API call, tagged by error class.
func (r *AccessRecorder) UpstreamError(op string, err error) {
	if r == nil || err == nil {
		return
	}
	class := obserrors.Classify(err)
	r.upstream.WithLabelValues(op, class).Inc()
	if r.sink != nil {
		r.sink.Count("upstream.error", 1, map[string]string{"op": op, "error_class": class})
	}
}

// Request records a served HTTP request.
func (r *AccessRecorder) Request(method string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	r.latency.WithLabelValues(method).Observe(d.Seconds())
	if r.sink != nil {
		r.sink.Timing("http.request", d, map[string]string{"method": method, "status": strconv.Itoa(status)})
	}
}
