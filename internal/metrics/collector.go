package metrics

import (
	"context"
	"log"
	"runtime"
	"time"

	"gorm.io/gorm"
)

// DBStatsCollector periodically samples connection-pool and goroutine
// stats from the underlying sql.DB, the Go analogue of the teacher's
// business-metrics poller but scoped to what this process actually has:
// no users/projects/subscriptions tables to sample, just its own store.
type DBStatsCollector struct {
	db       *gorm.DB
	metrics  *Metrics
	interval time.Duration
	stopCh   chan struct{}
}

// NewDBStatsCollector creates a collector sampling db every interval. db
// may be nil, in which case Start only updates the goroutine gauge.
func NewDBStatsCollector(db *gorm.DB, interval time.Duration) *DBStatsCollector {
	return &DBStatsCollector{
		db:       db,
		metrics:  Get(),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic collection until Stop is called or ctx is done.
func (c *DBStatsCollector) Start(ctx context.Context) {
	go func() {
		c.collect()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *DBStatsCollector) Stop() {
	close(c.stopCh)
}

func (c *DBStatsCollector) collect() {
	c.metrics.GoroutineNum.Set(float64(runtime.NumGoroutine()))

	if c.db == nil {
		return
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		log.Printf("metrics: failed to get database stats: %v", err)
		return
	}
	stats := sqlDB.Stats()
	c.metrics.DBConnectionsActive.Set(float64(stats.InUse))
	c.metrics.DBConnectionsIdle.Set(float64(stats.Idle))
}

// SessionMetricsRecorder records WebSocket session lifecycle events,
// kept as a small facade so callers (internal/transport) don't reach
// into the Metrics singleton directly.
type SessionMetricsRecorder struct {
	metrics *Metrics
}

// NewSessionMetricsRecorder creates a SessionMetricsRecorder.
func NewSessionMetricsRecorder() *SessionMetricsRecorder {
	return &SessionMetricsRecorder{metrics: Get()}
}

// Attached records a new session attaching to the debug agent.
func (r *SessionMetricsRecorder) Attached() {
	r.metrics.SessionsGauge.Inc()
}

// Detached records a session disconnecting.
func (r *SessionMetricsRecorder) Detached() {
	r.metrics.SessionsGauge.Dec()
}
