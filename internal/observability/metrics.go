// Package observability exports sensor pipeline metrics to Prometheus.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle outcomes used as the "outcome" label of sensor_cycles_total.
const (
	OutcomePublished = "published"
	OutcomeDropped   = "dropped"
	OutcomeAbandoned = "abandoned"
)

// SensorCollector bundles Prometheus metrics for a sensor manager. It
// implements manager.Observer.
type SensorCollector struct {
	gatherer prometheus.Gatherer

	Sensors        prometheus.Gauge
	Batches        prometheus.Counter
	BatchSize      prometheus.Histogram
	Cycles         *prometheus.CounterVec
	CycleDurations *prometheus.HistogramVec
}

// NewSensorCollector registers sensor metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSensorCollector(reg prometheus.Registerer) (*SensorCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	sensors, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sensor_registered",
		Help: "Current number of sensors owned by the manager.",
	}), "sensor_registered")
	if err != nil {
		return nil, err
	}
	batches, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensor_backend_batches_total",
		Help: "Total number of request batches submitted to the raycast backend.",
	}), "sensor_backend_batches_total")
	if err != nil {
		return nil, err
	}
	batchSize, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sensor_backend_batch_size",
		Help:    "Number of requests per backend batch.",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
	}), "sensor_backend_batch_size")
	if err != nil {
		return nil, err
	}
	cycles, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensor_cycles_total",
		Help: "Total number of sensor capture cycles, labeled by sensor and outcome.",
	}, []string{"sensor", "outcome"}), "sensor_cycles_total")
	if err != nil {
		return nil, err
	}
	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sensor_cycle_duration_seconds",
		Help:    "Wall-clock time from issuing a capture to publishing its result.",
		Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"sensor"}), "sensor_cycle_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SensorCollector{
		gatherer:       gatherer,
		Sensors:        sensors,
		Batches:        batches,
		BatchSize:      batchSize,
		Cycles:         cycles,
		CycleDurations: durations,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SensorCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *SensorCollector) SensorAdded(string) { c.Sensors.Inc() }

// SensorRemoved drops the sensor's labelled series along with the gauge.
func (c *SensorCollector) SensorRemoved(name string) {
	c.Sensors.Dec()
	c.Cycles.DeletePartialMatch(prometheus.Labels{"sensor": name})
	c.CycleDurations.DeleteLabelValues(name)
}

func (c *SensorCollector) BatchSubmitted(size int) {
	c.Batches.Inc()
	c.BatchSize.Observe(float64(size))
}

func (c *SensorCollector) CyclePublished(name string, elapsed time.Duration) {
	c.Cycles.WithLabelValues(name, OutcomePublished).Inc()
	c.CycleDurations.WithLabelValues(name).Observe(elapsed.Seconds())
}

func (c *SensorCollector) CycleDropped(name string) {
	c.Cycles.WithLabelValues(name, OutcomeDropped).Inc()
}

func (c *SensorCollector) CycleAbandoned(name string) {
	c.Cycles.WithLabelValues(name, OutcomeAbandoned).Inc()
}

// register adds collector to reg, reusing an equal collector that is
// already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, collector C, name string) (C, error) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			var zero C
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero C
		return zero, err
	}
	return collector, nil
}
