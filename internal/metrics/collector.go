package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PollStats provides the metrics collector access to the poll engine's live
// counters at scrape time.
type PollStats interface {
	DevicesPolled() uint64
	DevicesFailed() uint64
	PendingWrites() int
	EventSubscribers() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	stats PollStats

	devicesPolled    *prometheus.Desc
	devicesFailed    *prometheus.Desc
	pendingWrites    *prometheus.Desc
	eventSubscribers *prometheus.Desc
	dbTotalConns     *prometheus.Desc
	dbAcquiredConns  *prometheus.Desc
	dbIdleConns      *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil (metrics will report 0). stats may be nil if no poll
// engine is running.
func NewCollector(pool *pgxpool.Pool, stats PollStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		devicesPolled: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "devices_polled_total"),
			"Total device polls completed without a transport error.",
			nil, nil,
		),
		devicesFailed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "devices_failed_total"),
			"Total device polls that aborted due to a transport error.",
			nil, nil,
		),
		pendingWrites: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "pending_writes"),
			"Current number of unprocessed queued writes.",
			nil, nil,
		),
		eventSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "event_subscribers_active"),
			"Current number of event bus subscribers.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.devicesPolled
	ch <- c.devicesFailed
	ch <- c.pendingWrites
	ch <- c.eventSubscribers
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats != nil {
		ch <- prometheus.MustNewConstMetric(c.devicesPolled, prometheus.GaugeValue, float64(c.stats.DevicesPolled()))
		ch <- prometheus.MustNewConstMetric(c.devicesFailed, prometheus.GaugeValue, float64(c.stats.DevicesFailed()))
		ch <- prometheus.MustNewConstMetric(c.pendingWrites, prometheus.GaugeValue, float64(c.stats.PendingWrites()))
		ch <- prometheus.MustNewConstMetric(c.eventSubscribers, prometheus.GaugeValue, float64(c.stats.EventSubscribers()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.devicesPolled, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.devicesFailed, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.pendingWrites, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.eventSubscribers, prometheus.GaugeValue, 0)
	}

	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
