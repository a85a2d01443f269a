package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// poolStat pairs a metric descriptor with the pgxpool stat it exports.
type poolStat struct {
	desc  *prometheus.Desc
	value func(*pgxpool.Stat) float64
}

// PoolCollector implements prometheus.Collector for pgxpool statistics.
// Stats are read on-demand during each Prometheus scrape — no polling goroutine.
type PoolCollector struct {
	pool  *pgxpool.Pool
	stats []poolStat
}

// NewPoolCollector creates a collector exporting the pool's connection stats.
func NewPoolCollector(pool *pgxpool.Pool) *PoolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("collector_pgxpool_"+name, help, nil, nil)
	}
	return &PoolCollector{
		pool: pool,
		stats: []poolStat{
			{desc("acquire_count", "Cumulative count of successful connection acquires."),
				func(s *pgxpool.Stat) float64 { return float64(s.AcquireCount()) }},
			{desc("acquire_duration_seconds", "Cumulative time spent acquiring connections."),
				func(s *pgxpool.Stat) float64 { return s.AcquireDuration().Seconds() }},
			{desc("acquired_conns", "Number of currently acquired connections."),
				func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }},
			{desc("canceled_acquire_count", "Cumulative count of acquires canceled by context."),
				func(s *pgxpool.Stat) float64 { return float64(s.CanceledAcquireCount()) }},
			{desc("constructing_conns", "Number of connections currently being constructed."),
				func(s *pgxpool.Stat) float64 { return float64(s.ConstructingConns()) }},
			{desc("empty_acquire_count", "Cumulative count of acquires from an empty pool."),
				func(s *pgxpool.Stat) float64 { return float64(s.EmptyAcquireCount()) }},
			{desc("idle_conns", "Number of idle connections in the pool."),
				func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }},
			{desc("max_conns", "Maximum number of connections allowed."),
				func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }},
			{desc("new_conns_count", "Cumulative count of new connections created."),
				func(s *pgxpool.Stat) float64 { return float64(s.NewConnsCount()) }},
			{desc("total_conns", "Total number of connections in the pool."),
				func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }},
		},
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, s := range c.stats {
		ch <- s.desc
	}
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()
	for _, s := range c.stats {
		ch <- prometheus.MustNewConstMetric(s.desc, prometheus.GaugeValue, s.value(stat))
	}
}
