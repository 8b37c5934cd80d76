package service

import (
	"sort"
	"sync"
	"time"

	"github.com/vitalmesh/gateway/internal/models"
)

// latencyWindowSize bounds the recent-latency FIFO per target.
const latencyWindowSize = 100

// MetricsLedger accumulates per-target request outcomes: request and error
// counters plus a bounded window of recent latencies. Targets are arbitrary
// string keys; the canary engine uses "service:version". Entries are created
// lazily on first write and protected by per-entry locks so unrelated targets
// never serialize each other.
type MetricsLedger struct {
	mu      sync.RWMutex
	entries map[string]*ledgerEntry
}

type ledgerEntry struct {
	mu           sync.Mutex
	requestCount uint64
	errorCount   uint64
	latencies    []time.Duration
	next         int
	filled       bool
}

// NewMetricsLedger constructs an empty ledger.
func NewMetricsLedger() *MetricsLedger {
	return &MetricsLedger{entries: make(map[string]*ledgerEntry)}
}

func (l *MetricsLedger) entry(key string) *ledgerEntry {
	l.mu.RLock()
	e, ok := l.entries[key]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[key]; ok {
		return e
	}
	e = &ledgerEntry{latencies: make([]time.Duration, 0, latencyWindowSize)}
	l.entries[key] = e
	return e
}

// Record accumulates one request outcome for a target. Statuses >= 400 count
// as errors. The latency sample evicts the oldest entry once the window is
// full.
func (l *MetricsLedger) Record(key string, status int, latency time.Duration) {
	e := l.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.requestCount++
	if status >= 400 {
		e.errorCount++
	}

	if len(e.latencies) < latencyWindowSize {
		e.latencies = append(e.latencies, latency)
		return
	}
	e.filled = true
	e.latencies[e.next] = latency
	e.next = (e.next + 1) % latencyWindowSize
}

// Snapshot derives the statistics for one target. It never mutates state;
// unknown keys yield a zero snapshot.
func (l *MetricsLedger) Snapshot(key string) models.VersionMetricsSnapshot {
	l.mu.RLock()
	e, ok := l.entries[key]
	l.mu.RUnlock()
	if !ok {
		return models.VersionMetricsSnapshot{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snap := models.VersionMetricsSnapshot{
		RequestCount:  e.requestCount,
		ErrorCount:    e.errorCount,
		WindowSamples: len(e.latencies),
	}
	if e.requestCount > 0 {
		snap.ErrorRate = float64(e.errorCount) / float64(e.requestCount)
	}
	if len(e.latencies) == 0 {
		return snap
	}

	var total time.Duration
	min := e.latencies[0]
	max := e.latencies[0]
	for _, d := range e.latencies {
		total += d
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	snap.AvgLatencyMs = float64(total.Microseconds()) / float64(len(e.latencies)) / 1000
	snap.MinLatencyMs = float64(min.Microseconds()) / 1000
	snap.MaxLatencyMs = float64(max.Microseconds()) / 1000
	return snap
}

// Keys lists every target seen so far, sorted.
func (l *MetricsLedger) Keys() []string {
	l.mu.RLock()
	keys := make([]string, 0, len(l.entries))
	for key := range l.entries {
		keys = append(keys, key)
	}
	l.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Window returns a copy of the recorded latency samples, oldest first.
func (l *MetricsLedger) Window(key string) []time.Duration {
	l.mu.RLock()
	e, ok := l.entries[key]
	l.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]time.Duration, 0, len(e.latencies))
	if e.filled {
		out = append(out, e.latencies[e.next:]...)
		out = append(out, e.latencies[:e.next]...)
		return out
	}
	return append(out, e.latencies...)
}

// Reset zeroes the counters and window for one target. Used when a service's
// canary config is replaced so stale version names do not leak across
// configurations.
func (l *MetricsLedger) Reset(key string) {
	l.mu.RLock()
	e, ok := l.entries[key]
	l.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.requestCount = 0
	e.errorCount = 0
	e.latencies = e.latencies[:0]
	e.next = 0
	e.filled = false
}

// ResetPrefix resets every target whose key starts with the prefix.
func (l *MetricsLedger) ResetPrefix(prefix string) {
	l.mu.RLock()
	keys := make([]string, 0, len(l.entries))
	for key := range l.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	l.mu.RUnlock()

	for _, key := range keys {
		l.Reset(key)
	}
}
