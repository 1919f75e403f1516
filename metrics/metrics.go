// Package metrics exposes Prometheus instrumentation for the table
// runtime. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/frobware/go-bfrt"
)

const namespace = "bfrt"

// Metrics holds the collectors updated by the manager.
type Metrics struct {
	ops               *prometheus.CounterVec
	latency           *prometheus.HistogramVec
	idleNotifications *prometheus.CounterVec
	idlePools         *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "table_operations_total",
				Help:      "Table operations by table, operation and result.",
			},
			[]string{"table", "op", "result"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "table_operation_duration_seconds",
				Help:      "Latency of table operations.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"table", "op"},
		),
		idleNotifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "idle_notifications_total",
				Help:      "Idle timeout notifications delivered to callbacks.",
			},
			[]string{"table"},
		),
		idlePools: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "idle_worker_pools",
				Help:      "Whether a table currently runs a notify-mode worker pool.",
			},
			[]string{"table"},
		),
	}
	reg.MustRegister(m.ops, m.latency, m.idleNotifications, m.idlePools)
	return m
}

// Result maps an operation error to its result label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, bfrt.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, bfrt.ErrObjectNotFound):
		return "not_found"
	case errors.Is(err, bfrt.ErrNotSupported):
		return "not_supported"
	case errors.Is(err, bfrt.ErrUnexpected):
		return "unexpected"
	default:
		return "error"
	}
}

// ObserveOp records one table operation.
func (m *Metrics) ObserveOp(table, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(table, op, Result(err)).Inc()
	m.latency.WithLabelValues(table, op).Observe(d.Seconds())
}

// IdleNotification counts one delivered idle timeout.
func (m *Metrics) IdleNotification(table string) {
	if m == nil {
		return
	}
	m.idleNotifications.WithLabelValues(table).Inc()
}

// SetIdlePool records whether a table runs a worker pool.
func (m *Metrics) SetIdlePool(table string, running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.idlePools.WithLabelValues(table).Set(v)
}

// UsageSource reports the number of installed entries per table.
type UsageSource interface {
	TableUsage(ctx context.Context) (map[string]uint32, error)
}

// usageCollector reads table usage on each scrape.
type usageCollector struct {
	src     UsageSource
	timeout time.Duration
	entries *prometheus.Desc
	errors  *prometheus.Desc
}

// NewUsageCollector returns a collector that reports installed entries
// per table, read from src at scrape time.
func NewUsageCollector(src UsageSource, timeout time.Duration) prometheus.Collector {
	return &usageCollector{
		src:     src,
		timeout: timeout,
		entries: prometheus.NewDesc(
			namespace+"_table_entries",
			"Installed entries per table.",
			[]string{"table"}, nil,
		),
		errors: prometheus.NewDesc(
			namespace+"_table_usage_scrape_errors",
			"1 if the last usage scrape failed.",
			nil, nil,
		),
	}
}

func (c *usageCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.errors
}

func (c *usageCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	usage, err := c.src.TableUsage(ctx)
	failed := 0.0
	if err != nil {
		failed = 1
	}
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.GaugeValue, failed)

	names := make([]string, 0, len(usage))
	for name := range usage {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(usage[name]), name)
	}
}
