package processor

import (
	"sync/atomic"
	"time"
)

// ServiceMetrics keeps in-process counters for the periodic relay report.
type ServiceMetrics struct {
	totalProcessed  atomic.Int64
	totalFailed     atomic.Int64
	totalDurationNs atomic.Int64
	startedNs       atomic.Int64
}

type MetricsSnapshot struct {
	Processed     int64
	Failed        int64
	RatePerSecond float64
	AvgDuration   time.Duration
	Uptime        time.Duration
}

func NewServiceMetrics() *ServiceMetrics {
	m := &ServiceMetrics{}
	m.startedNs.Store(time.Now().UnixNano())
	return m
}

func (m *ServiceMetrics) RecordSuccess(duration time.Duration) {
	m.totalProcessed.Add(1)
	m.totalDurationNs.Add(int64(duration))
}

func (m *ServiceMetrics) RecordFailure() {
	m.totalFailed.Add(1)
}

func (m *ServiceMetrics) Snapshot() MetricsSnapshot {
	processed := m.totalProcessed.Load()
	uptime := time.Since(time.Unix(0, m.startedNs.Load()))

	s := MetricsSnapshot{
		Processed: processed,
		Failed:    m.totalFailed.Load(),
		Uptime:    uptime,
	}
	if secs := uptime.Seconds(); secs > 0 {
		s.RatePerSecond = float64(processed) / secs
	}
	if processed > 0 {
		s.AvgDuration = time.Duration(m.totalDurationNs.Load() / processed)
	}
	return s
}
