package metrics

import (
	"database/sql"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "fleet_"

	resultSuccess = "success"
	resultError   = "error"
)

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)

// Collector records polling, coalescing and export metrics. It implements
// polling.Observer.
type Collector struct {
	pollTotal      *prometheus.CounterVec
	pollLatency    *prometheus.HistogramVec
	coalescedTotal *prometheus.CounterVec
	inflight       prometheus.Gauge

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
}

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		return nil, errors.New("metrics: nil registerer")
	}
	c := &Collector{
		pollTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "poll_total",
				Help: "Total source fetches by result",
			},
			[]string{"source", "result"},
		),
		pollLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "poll_latency_seconds",
				Help:    "Source fetch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		coalescedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fetch_coalesced_total",
				Help: "Fetches served by an in-flight request for the same dedup key",
			},
			[]string{"key"},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "inflight_requests",
				Help: "Requests currently in flight",
			},
		),
		exportTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total report exports by format and result",
			},
			[]string{"format", "result"},
		),
		exportLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		),
	}
	for _, collector := range []prometheus.Collector{
		c.pollTotal,
		c.pollLatency,
		c.coalescedTotal,
		c.inflight,
		c.exportTotal,
		c.exportLatency,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// FetchCompleted records a settled fetch.
func (c *Collector) FetchCompleted(source string, duration time.Duration, err error) {
	if source == "" {
		source = "unknown"
	}
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	c.pollTotal.WithLabelValues(source, result).Inc()
	c.pollLatency.WithLabelValues(source).Observe(duration.Seconds())
}

// FetchCoalesced counts a caller that joined an in-flight request.
func (c *Collector) FetchCoalesced(key string) {
	c.coalescedTotal.WithLabelValues(key).Inc()
}

// InFlight sets the number of outstanding requests.
func (c *Collector) InFlight(count int) {
	c.inflight.Set(float64(count))
}

// ObserveExport records report export latency and result.
func (c *Collector) ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	c.exportTotal.WithLabelValues(format, result).Inc()
	c.exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
}

// RegisterDBStats exposes connection pool gauges for the daily metrics database.
func RegisterDBStats(reg prometheus.Registerer, db *sql.DB) error {
	if reg == nil || db == nil {
		return errors.New("metrics: nil registerer or db")
	}
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "db_open_connections",
				Help: "Open connections to the daily metrics database",
			},
			func() float64 { return float64(db.Stats().OpenConnections) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "db_in_use_connections",
				Help: "Connections currently in use",
			},
			func() float64 { return float64(db.Stats().InUse) },
		),
	}
	for _, gauge := range gauges {
		if err := reg.Register(gauge); err != nil {
			return err
		}
	}
	return nil
}
