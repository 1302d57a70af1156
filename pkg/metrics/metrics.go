package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-snap/pkg/plog"
)

// Metrics defines the interface for collecting and reporting snapshot statistics.
type Metrics interface {
	AddCreated(n int64)
	AddTransferred(n int64)
	AddDeleted(n int64)
	AddStaleRemoved(n int64)
	AddFailed(n int64)
	Stats() Stats
	LogSummary(msg string, args ...any)
	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// Stats is a point-in-time copy of the counters.
type Stats struct {
	Created      int64 `json:"created"`
	Transferred  int64 `json:"transferred"`
	Deleted      int64 `json:"deleted"`
	StaleRemoved int64 `json:"staleRemoved"`
	Failed       int64 `json:"failed"`
}

// SnapshotMetrics holds the atomic counters for one task run.
type SnapshotMetrics struct {
	Created      atomic.Int64
	Transferred  atomic.Int64
	Deleted      atomic.Int64
	StaleRemoved atomic.Int64
	Failed       atomic.Int64

	mu       sync.Mutex
	stopChan chan struct{}
}

func (m *SnapshotMetrics) AddCreated(n int64)      { m.Created.Add(n) }
func (m *SnapshotMetrics) AddTransferred(n int64)  { m.Transferred.Add(n) }
func (m *SnapshotMetrics) AddDeleted(n int64)      { m.Deleted.Add(n) }
func (m *SnapshotMetrics) AddStaleRemoved(n int64) { m.StaleRemoved.Add(n) }
func (m *SnapshotMetrics) AddFailed(n int64)       { m.Failed.Add(n) }

func (m *SnapshotMetrics) Stats() Stats {
	return Stats{
		Created:      m.Created.Load(),
		Transferred:  m.Transferred.Load(),
		Deleted:      m.Deleted.Load(),
		StaleRemoved: m.StaleRemoved.Load(),
		Failed:       m.Failed.Load(),
	}
}

// StartProgress logs the counters every interval until StopProgress is called.
// Long incremental transfers would otherwise leave the log silent.
func (m *SnapshotMetrics) StartProgress(msg string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopChan != nil {
		return
	}
	stop := make(chan struct{})
	m.stopChan = stop
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary(msg)
			case <-stop:
				return
			}
		}
	}()
}

func (m *SnapshotMetrics) StopProgress() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopChan != nil {
		close(m.stopChan)
		m.stopChan = nil
	}
}

func (m *SnapshotMetrics) LogSummary(msg string, args ...any) {
	s := m.Stats()
	args = append(args,
		"created", s.Created,
		"transferred", s.Transferred,
		"deleted", s.Deleted,
		"stale_removed", s.StaleRemoved,
		"failed", s.Failed,
	)
	plog.Info(msg, args...)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
// It can be used to disable metrics collection without changing the calling code.
type NoopMetrics struct{}

func (m *NoopMetrics) AddCreated(n int64)                               {}
func (m *NoopMetrics) AddTransferred(n int64)                           {}
func (m *NoopMetrics) AddDeleted(n int64)                               {}
func (m *NoopMetrics) AddStaleRemoved(n int64)                          {}
func (m *NoopMetrics) AddFailed(n int64)                                {}
func (m *NoopMetrics) Stats() Stats                                     { return Stats{} }
func (m *NoopMetrics) LogSummary(msg string, args ...any)               {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

// Statically assert that our types implement the interface.
var _ Metrics = (*SnapshotMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
