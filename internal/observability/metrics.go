package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RetrievalCollector bundles Prometheus metrics for the download pipeline
// and provides the handler backing the optional metrics listener.
type RetrievalCollector struct {
	gatherer prometheus.Gatherer

	Downloads        *prometheus.CounterVec
	DownloadSeconds  *prometheus.HistogramVec
	DownloadAttempts prometheus.Histogram
	DownloadBytes    prometheus.Counter
	InFlight         prometheus.Gauge
}

// NewRetrievalCollector registers pipeline Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewRetrievalCollector(reg prometheus.Registerer) (*RetrievalCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	downloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retrieval_downloads_total",
		Help: "Total number of finished image downloads, labeled by sensor and outcome.",
	}, []string{"sensor", "outcome"})
	downloads, err := registerCounterVec(reg, downloads, "retrieval_downloads_total")
	if err != nil {
		return nil, err
	}

	seconds := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retrieval_download_duration_seconds",
		Help:    "Wall time per image from first attempt to final outcome.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"sensor"})
	seconds, err = registerHistogramVec(reg, seconds, "retrieval_download_duration_seconds")
	if err != nil {
		return nil, err
	}

	attempts := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "retrieval_download_attempts",
		Help:    "Attempts spent per image before success or exhaustion.",
		Buckets: prometheus.LinearBuckets(1, 1, 10),
	})
	attempts, err = registerHistogram(reg, attempts, "retrieval_download_attempts")
	if err != nil {
		return nil, err
	}

	bytes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "retrieval_download_bytes_total",
		Help: "Cumulative bytes written to disk by successful downloads.",
	})
	bytes, err = registerCounter(reg, bytes, "retrieval_download_bytes_total")
	if err != nil {
		return nil, err
	}

	inFlight, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "retrieval_downloads_in_flight",
		Help: "Number of downloads currently running.",
	}), "retrieval_downloads_in_flight")
	if err != nil {
		return nil, err
	}

	return &RetrievalCollector{
		gatherer:         gatherer,
		Downloads:        downloads,
		DownloadSeconds:  seconds,
		DownloadAttempts: attempts,
		DownloadBytes:    bytes,
		InFlight:         inFlight,
	}, nil
}

// DownloadStarted marks one download as in flight.
func (c *RetrievalCollector) DownloadStarted() {
	if c == nil || c.InFlight == nil {
		return
	}
	c.InFlight.Inc()
}

// DownloadFinished records the outcome of one finished download.
func (c *RetrievalCollector) DownloadFinished(sensor string, ok bool, attempts int, bytes int64, elapsed time.Duration) {
	if c == nil {
		return
	}
	if c.InFlight != nil {
		c.InFlight.Dec()
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	if c.Downloads != nil {
		c.Downloads.WithLabelValues(sensor, outcome).Inc()
	}
	if c.DownloadSeconds != nil {
		c.DownloadSeconds.WithLabelValues(sensor).Observe(elapsed.Seconds())
	}
	if c.DownloadAttempts != nil {
		c.DownloadAttempts.Observe(float64(attempts))
	}
	if ok && c.DownloadBytes != nil {
		c.DownloadBytes.Add(float64(bytes))
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RetrievalCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
