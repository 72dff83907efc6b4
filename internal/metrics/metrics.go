package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Observer is the process wide metrics sink.
var Observer = &Metrics{
	registry:   prometheus.NewRegistry(),
	prometheus: NewPrometheusMetrics(),
}

func init() {
	Observer.registry.MustRegister(Observer.prometheus.collectors()...)
}

type Metrics struct {
	registry   *prometheus.Registry
	prometheus Prometheus
}

// Images tracks n images fed to an extractor.
func (m *Metrics) Images(n int) {
	m.prometheus.Images.Add(float64(n))
	m.prometheus.Batches.Inc()
}

// Regularized tracks a covariance product that needed an offset on the diagonal.
func (m *Metrics) Regularized() {
	m.prometheus.Regularizations.Inc()
}

// Computation tracks a finished FID computation of the given kind.
func (m *Metrics) Computation(kind string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.prometheus.Computations.WithLabelValues(kind, status).Inc()
	m.prometheus.Duration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// Chamfer tracks a chamfer pass on the given backend.
func (m *Metrics) Chamfer(backend, pass string) {
	m.prometheus.Chamfer.WithLabelValues(backend, pass).Inc()
}

// Gatherer exposes the underlying registry, mostly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Serve exposes the metrics on the given address.
// It blocks until the server stops.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		return fmt.Errorf("could not serve metrics on '%s': %w", addr, err)
	}
	return nil
}
