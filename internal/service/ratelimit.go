package service

import (
	"sort"
	"sync"
	"time"

	"github.com/vitalmesh/gateway/internal/models"
	"github.com/vitalmesh/gateway/pkg/config"
)

// RateLimiter caps the request rate for one backend over a sliding window.
// The timestamps of admitted requests are kept and pruned on every check;
// rejected requests never consume window capacity.
type RateLimiter struct {
	service     string
	maxRequests int
	window      time.Duration

	mu       sync.Mutex
	admitted []time.Time
}

func newRateLimiter(service string, maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		service:     service,
		maxRequests: maxRequests,
		window:      window,
		admitted:    make([]time.Time, 0, maxRequests),
	}
}

// Allow reports whether another request fits the window, recording its
// timestamp when it does.
func (l *RateLimiter) Allow() bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)
	if len(l.admitted) >= l.maxRequests {
		return false
	}
	l.admitted = append(l.admitted, now)
	return true
}

// pruneLocked drops admissions older than the window. Callers must hold l.mu.
func (l *RateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	keep := 0
	for keep < len(l.admitted) && !l.admitted[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		l.admitted = append(l.admitted[:0], l.admitted[keep:]...)
	}
}

// Snapshot returns a point-in-time view for the admin API.
func (l *RateLimiter) Snapshot() models.RateLimitSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(time.Now())
	return models.RateLimitSnapshot{
		Service:     l.service,
		MaxRequests: l.maxRequests,
		Window:      l.window.String(),
		InWindow:    len(l.admitted),
	}
}

// RateLimiterRegistry owns one limiter per logical backend, created lazily on
// first reference, all sharing the configured window defaults.
type RateLimiterRegistry struct {
	defaults config.RateLimitConfig

	mu       sync.RWMutex
	limiters map[string]*RateLimiter
}

// NewRateLimiterRegistry constructs a registry with shared window defaults.
func NewRateLimiterRegistry(defaults config.RateLimitConfig) *RateLimiterRegistry {
	return &RateLimiterRegistry{
		defaults: defaults,
		limiters: make(map[string]*RateLimiter),
	}
}

// Get returns the limiter for a logical service, creating it when absent.
func (r *RateLimiterRegistry) Get(service string) *RateLimiter {
	r.mu.RLock()
	l, ok := r.limiters[service]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok = r.limiters[service]; ok {
		return l
	}
	l = newRateLimiter(service, r.defaults.MaxRequests, r.defaults.Window)
	r.limiters[service] = l
	return l
}

// Allow reports whether a request to the service fits its window. A nil or
// disabled registry admits everything without tracking.
func (r *RateLimiterRegistry) Allow(service string) bool {
	if r == nil || !r.defaults.Enabled {
		return true
	}
	return r.Get(service).Allow()
}

// Snapshots returns the window state of every limiter created so far.
func (r *RateLimiterRegistry) Snapshots() []models.RateLimitSnapshot {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	limiters := make([]*RateLimiter, 0, len(r.limiters))
	for _, l := range r.limiters {
		limiters = append(limiters, l)
	}
	r.mu.RUnlock()

	snaps := make([]models.RateLimitSnapshot, 0, len(limiters))
	for _, l := range limiters {
		snaps = append(snaps, l.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Service < snaps[j].Service })
	return snaps
}
