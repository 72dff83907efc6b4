package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "genmetrics"

// Prometheus holds the collectors exported by the metric computations.
type Prometheus struct {
	Images          prometheus.Counter
	Batches         prometheus.Counter
	Regularizations prometheus.Counter
	Computations    *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
	Chamfer         *prometheus.CounterVec
}

func NewPrometheusMetrics() Prometheus {
	return Prometheus{
		Images: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fid",
			Name:      "images_total",
			Help:      "Images passed through a feature extractor.",
		}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fid",
			Name:      "batches_total",
			Help:      "Batches passed through a feature extractor.",
		}),
		Regularizations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fid",
			Name:      "regularizations_total",
			Help:      "Covariance products that needed a diagonal offset.",
		}),
		Computations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fid",
			Name:      "computations_total",
			Help:      "FID computations by entry point and outcome.",
		}, []string{"kind", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fid",
			Name:      "duration_seconds",
			Help:      "Wall time of FID computations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"kind"}),
		Chamfer: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chamfer",
			Name:      "calls_total",
			Help:      "Chamfer distance forward and backward passes.",
		}, []string{"backend", "pass"}),
	}
}

func (p Prometheus) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		p.Images,
		p.Batches,
		p.Regularizations,
		p.Computations,
		p.Duration,
		p.Chamfer,
	}
}
