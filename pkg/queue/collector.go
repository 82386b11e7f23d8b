package queue

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collector exposes pending and dead-lettered job counts, read from Redis on each scrape.
type Collector struct {
	q       *Queue
	logger  *zap.Logger
	pending *prometheus.Desc
	dead    *prometheus.Desc
}

// NewCollector creates a collector for q.
func NewCollector(q *Queue, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		q:       q,
		logger:  logger,
		pending: prometheus.NewDesc("worker_queue_pending_jobs", "Jobs waiting in the worker queue", nil, nil),
		dead:    prometheus.NewDesc("worker_queue_dead_jobs", "Jobs moved to the dead-letter queue", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pending
	ch <- c.dead
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := c.q.Stats(ctx)
	if err != nil {
		c.logger.Warn("queue stats for metrics", zap.Error(err))
		return
	}
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(st.Pending))
	ch <- prometheus.MustNewConstMetric(c.dead, prometheus.GaugeValue, float64(st.Dead))
}
