// Package metrics tracks connection pool stats and call latencies.
package metrics

import (
	"database/sql"
	"sort"
	"sync"
	"time"
)

// DBPoolStats holds database connection pool statistics.
type DBPoolStats struct {
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	MaxOpenConnections int           `json:"max_open_connections"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

func poolStats(db *sql.DB) DBPoolStats {
	if db == nil {
		return DBPoolStats{}
	}
	s := db.Stats()
	return DBPoolStats{
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		MaxOpenConnections: s.MaxOpenConnections,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
	}
}

// LatencyStats holds aggregate latency figures for one operation.
type LatencyStats struct {
	Count int64   `json:"count"`
	AvgMS float64 `json:"avg_ms"`
	P50MS float64 `json:"p50_ms"`
	P95MS float64 `json:"p95_ms"`
	MaxMS float64 `json:"max_ms"`
}

// latencyTracker keeps a sliding window of samples in microseconds.
type latencyTracker struct {
	mu         sync.Mutex
	samples    []int64
	maxSamples int
}

func newLatencyTracker(windowSize int) *latencyTracker {
	if windowSize <= 0 {
		windowSize = 500
	}
	return &latencyTracker{
		samples:    make([]int64, 0, windowSize),
		maxSamples: windowSize,
	}
}

func (lt *latencyTracker) record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if len(lt.samples) >= lt.maxSamples {
		drop := lt.maxSamples / 10
		if drop < 1 {
			drop = 1
		}
		lt.samples = lt.samples[drop:]
	}
	lt.samples = append(lt.samples, d.Microseconds())
}

func (lt *latencyTracker) stats() LatencyStats {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	n := len(lt.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]int64, n)
	copy(sorted, lt.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, v := range sorted {
		sum += v
	}
	pct := func(p float64) float64 {
		idx := int(float64(n-1) * p)
		return float64(sorted[idx]) / 1000.0
	}

	return LatencyStats{
		Count: int64(n),
		AvgMS: float64(sum/int64(n)) / 1000.0,
		P50MS: pct(0.50),
		P95MS: pct(0.95),
		MaxMS: float64(sorted[n-1]) / 1000.0,
	}
}

// Registry collects pool handles and per-operation latency trackers.
type Registry struct {
	mu       sync.RWMutex
	pools    map[string]*sql.DB
	trackers map[string]*latencyTracker
}

func newRegistry() *Registry {
	return &Registry{
		pools:    make(map[string]*sql.DB),
		trackers: make(map[string]*latencyTracker),
	}
}

var (
	global     *Registry
	globalOnce sync.Once
)

func registry() *Registry {
	globalOnce.Do(func() {
		global = newRegistry()
	})
	return global
}

// RegisterPool adds a database pool to the monitored set.
func RegisterPool(name string, db *sql.DB) {
	r := registry()
	r.mu.Lock()
	r.pools[name] = db
	r.mu.Unlock()
}

// Observe records one latency sample for the named operation.
func Observe(op string, d time.Duration) {
	r := registry()
	r.mu.Lock()
	lt, ok := r.trackers[op]
	if !ok {
		lt = newLatencyTracker(500)
		r.trackers[op] = lt
	}
	r.mu.Unlock()
	lt.record(d)
}

// PoolSnapshot returns stats for every registered pool.
func PoolSnapshot() map[string]DBPoolStats {
	r := registry()
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]DBPoolStats, len(r.pools))
	for name, db := range r.pools {
		out[name] = poolStats(db)
	}
	return out
}

// LatencySnapshot returns aggregate latency stats per operation.
func LatencySnapshot() map[string]LatencyStats {
	r := registry()
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]LatencyStats, len(r.trackers))
	for op, lt := range r.trackers {
		out[op] = lt.stats()
	}
	return out
}
