package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ExportCollector exposes export-controller Prometheus metrics.
type ExportCollector struct {
	gatherer prometheus.Gatherer

	JobsByState      *prometheus.GaugeVec
	SubmissionsTotal prometheus.Counter
	StatusErrors     prometheus.Counter
	PollRoundSeconds prometheus.Histogram
}

// NewExportCollector registers export metrics against the provided registerer.
func NewExportCollector(reg prometheus.Registerer) (*ExportCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	jobs := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "export_jobs",
		Help: "Number of tracked export jobs, labeled by state.",
	}, []string{"state"})
	jobs, err := registerGaugeVec(reg, jobs, "export_jobs")
	if err != nil {
		return nil, err
	}

	submissions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "export_submissions_total",
		Help: "Cumulative number of export jobs submitted to the catalog.",
	})
	submissions, err = registerCounter(reg, submissions, "export_submissions_total")
	if err != nil {
		return nil, err
	}

	statusErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "export_status_errors_total",
		Help: "Cumulative number of failed status queries during polling.",
	})
	statusErrors, err = registerCounter(reg, statusErrors, "export_status_errors_total")
	if err != nil {
		return nil, err
	}

	rounds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "export_poll_round_duration_seconds",
		Help:    "Duration of a full status poll across all tracked jobs.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
	rounds, err = registerHistogram(reg, rounds, "export_poll_round_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &ExportCollector{
		gatherer:         gatherer,
		JobsByState:      jobs,
		SubmissionsTotal: submissions,
		StatusErrors:     statusErrors,
		PollRoundSeconds: rounds,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ExportCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// SetJobCounts replaces the per-state job gauges with the given counts.
// States absent from the map are reset to zero.
func (c *ExportCollector) SetJobCounts(counts map[string]int) {
	if c == nil || c.JobsByState == nil {
		return
	}
	c.JobsByState.Reset()
	for state, count := range counts {
		c.JobsByState.WithLabelValues(state).Set(float64(count))
	}
}

// IncSubmissions increments the submission counter.
func (c *ExportCollector) IncSubmissions() {
	if c == nil || c.SubmissionsTotal == nil {
		return
	}
	c.SubmissionsTotal.Inc()
}

// IncStatusErrors increments the failed status query counter.
func (c *ExportCollector) IncStatusErrors() {
	if c == nil || c.StatusErrors == nil {
		return
	}
	c.StatusErrors.Inc()
}

// ObservePollRound records the duration of one poll round.
func (c *ExportCollector) ObservePollRound(d time.Duration) {
	if c == nil || c.PollRoundSeconds == nil {
		return
	}
	c.PollRoundSeconds.Observe(d.Seconds())
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
