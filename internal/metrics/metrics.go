package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects resolution and delivery counters
type Metrics struct {
	// Request metrics
	TotalRequests atomic.Uint64
	TotalErrors   atomic.Uint64

	// Resolution metrics
	CacheHits   atomic.Uint64
	CacheMisses atomic.Uint64
	SharedHits  atomic.Uint64

	// Delivery metrics
	ActiveStreams      atomic.Int64
	CompletedStreams   atomic.Uint64
	InterruptedStreams atomic.Uint64
	BytesStreamed      atomic.Uint64

	// External tool metrics
	ToolInvocations atomic.Uint64
	ToolFailures    atomic.Uint64

	started time.Time

	// Per-platform metrics
	platformStats sync.Map // platform -> *PlatformStats
	strategyWins  sync.Map // strategy name -> *atomic.Uint64
}

// PlatformStats tracks resolutions per platform
type PlatformStats struct {
	Resolutions atomic.Uint64
	Successes   atomic.Uint64
	Failures    atomic.Uint64
	totalMicros atomic.Int64
}

// New creates an empty metrics set
func New() *Metrics {
	return &Metrics{started: time.Now()}
}

// IncrementRequests increments total request counter
func (m *Metrics) IncrementRequests() {
	m.TotalRequests.Add(1)
}

// RecordCacheHit records a resolution served from cache; shared marks the Redis tier
func (m *Metrics) RecordCacheHit(shared bool) {
	if shared {
		m.SharedHits.Add(1)
		return
	}
	m.CacheHits.Add(1)
}

// RecordCacheMiss records a resolution that had to run the chain
func (m *Metrics) RecordCacheMiss() {
	m.CacheMisses.Add(1)
}

// RecordResolution records a finished chain run
func (m *Metrics) RecordResolution(platform string, strategy string, duration time.Duration, err error) {
	statsInterface, _ := m.platformStats.LoadOrStore(platform, &PlatformStats{})
	stats := statsInterface.(*PlatformStats)

	stats.Resolutions.Add(1)
	stats.totalMicros.Add(duration.Microseconds())
	if err != nil {
		stats.Failures.Add(1)
		m.TotalErrors.Add(1)
		return
	}
	stats.Successes.Add(1)

	counter, _ := m.strategyWins.LoadOrStore(strategy, new(atomic.Uint64))
	counter.(*atomic.Uint64).Add(1)
}

// StreamStarted records a new delivery
func (m *Metrics) StreamStarted() {
	m.ActiveStreams.Add(1)
}

// StreamFinished records the end of a delivery
func (m *Metrics) StreamFinished(bytes int64, err error) {
	m.ActiveStreams.Add(-1)
	if bytes > 0 {
		m.BytesStreamed.Add(uint64(bytes))
	}
	if err != nil {
		m.InterruptedStreams.Add(1)
		return
	}
	m.CompletedStreams.Add(1)
}

// RecordToolInvocation records one external tool run
func (m *Metrics) RecordToolInvocation(err error) {
	m.ToolInvocations.Add(1)
	if err != nil {
		m.ToolFailures.Add(1)
	}
}

// GetSnapshot returns current metrics snapshot
func (m *Metrics) GetSnapshot() map[string]interface{} {
	lookups := m.CacheHits.Load() + m.SharedHits.Load() + m.CacheMisses.Load()
	hitRate := float64(0)
	if lookups > 0 {
		hitRate = float64(m.CacheHits.Load()+m.SharedHits.Load()) / float64(lookups) * 100
	}

	return map[string]interface{}{
		"uptime_seconds":      int64(time.Since(m.started).Seconds()),
		"total_requests":      m.TotalRequests.Load(),
		"total_errors":        m.TotalErrors.Load(),
		"cache_hits":          m.CacheHits.Load(),
		"shared_cache_hits":   m.SharedHits.Load(),
		"cache_misses":        m.CacheMisses.Load(),
		"cache_hit_rate":      hitRate,
		"active_streams":      m.ActiveStreams.Load(),
		"completed_streams":   m.CompletedStreams.Load(),
		"interrupted_streams": m.InterruptedStreams.Load(),
		"bytes_streamed":      m.BytesStreamed.Load(),
		"tool_invocations":    m.ToolInvocations.Load(),
		"tool_failures":       m.ToolFailures.Load(),
		"platforms":           m.getPlatformSnapshot(),
		"strategy_wins":       m.getStrategySnapshot(),
	}
}

func (m *Metrics) getPlatformSnapshot() map[string]interface{} {
	platforms := make(map[string]interface{})

	m.platformStats.Range(func(key, value interface{}) bool {
		stats := value.(*PlatformStats)

		total := stats.Resolutions.Load()
		successRate, avgMs := float64(0), int64(0)
		if total > 0 {
			successRate = float64(stats.Successes.Load()) / float64(total) * 100
			avgMs = stats.totalMicros.Load() / int64(total) / 1000
		}

		platforms[key.(string)] = map[string]interface{}{
			"resolutions":       total,
			"successes":         stats.Successes.Load(),
			"failures":          stats.Failures.Load(),
			"success_rate":      successRate,
			"avg_resolution_ms": avgMs,
		}
		return true
	})

	return platforms
}

func (m *Metrics) getStrategySnapshot() map[string]uint64 {
	wins := make(map[string]uint64)
	m.strategyWins.Range(func(key, value interface{}) bool {
		wins[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return wins
}
