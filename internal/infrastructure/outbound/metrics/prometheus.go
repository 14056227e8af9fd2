package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sophialabs/stubport/internal/infrastructure/ports"
)

const namespace = "stubport"

var _ ports.Metrics = (*Prometheus)(nil)

// Prometheus records request, transport and reload metrics in its own registry.
type Prometheus struct {
	registry          *prometheus.Registry
	requests          *prometheus.CounterVec
	duration          *prometheus.HistogramVec
	transportFailures *prometheus.CounterVec
	reloads           *prometheus.CounterVec
	stubs             prometheus.Gauge
}

// NewPrometheus creates the collectors and registers them, together with the
// Go runtime and process collectors, on a private registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests handled, by method, outcome and status code.",
		}, []string{"method", "outcome", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from receiving a request to finishing its response, including simulated latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		transportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_failures_total",
			Help:      "Responses that could not be completed.",
		}, []string{"reason"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Catalogue reload attempts, by result.",
		}, []string{"result"}),
		stubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalogue_stubs",
			Help:      "Stubs in the live catalogue.",
		}),
	}

	p.registry.MustRegister(
		p.requests,
		p.duration,
		p.transportFailures,
		p.reloads,
		p.stubs,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) ObserveRequest(method, outcome string, status int, elapsed time.Duration) {
	p.requests.WithLabelValues(method, outcome, strconv.Itoa(status)).Inc()
	p.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (p *Prometheus) IncTransportFailure(reason string) {
	p.transportFailures.WithLabelValues(reason).Inc()
}

// ObserveReload counts the attempt and, when it succeeded, sets the catalogue size.
func (p *Prometheus) ObserveReload(ok bool, stubs int) {
	if !ok {
		p.reloads.WithLabelValues("error").Inc()
		return
	}
	p.reloads.WithLabelValues("ok").Inc()
	p.stubs.Set(float64(stubs))
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
