package service

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalmesh/gateway/internal/models"
	"github.com/vitalmesh/gateway/pkg/config"
	appErrors "github.com/vitalmesh/gateway/pkg/errors"
)

// Breaker is the per-backend circuit breaker state machine. Failures are
// counted only while Closed; trial successes only while HalfOpen. The
// Open->HalfOpen transition is timer-driven, never polled.
type Breaker struct {
	service string
	cfg     config.BreakerConfig

	mu           sync.Mutex
	state        models.BreakerState
	failureCount int
	successCount int
	lastFailure  time.Time
	resetTimer   *time.Timer

	onStateChange func(service string, state models.BreakerState)
}

func newBreaker(service string, cfg config.BreakerConfig, onStateChange func(string, models.BreakerState)) *Breaker {
	return &Breaker{
		service:       service,
		cfg:           cfg,
		state:         models.BreakerClosed,
		onStateChange: onStateChange,
	}
}

// Allow reports whether a call to the backend may proceed. HalfOpen admits
// trial traffic without a concurrency cap, so simultaneous callers may all
// be treated as trial calls.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != models.BreakerOpen
}

// RecordSuccess notes a successful backend call. In Closed it is a no-op:
// the failure count only resets on a full Closed re-entry.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != models.BreakerHalfOpen {
		return
	}

	b.successCount++
	if b.successCount >= b.cfg.SuccessThreshold {
		b.transitionLocked(models.BreakerClosed)
		b.failureCount = 0
		b.successCount = 0
		b.stopTimerLocked()
	}
}

// RecordFailure notes a failed backend call (error status, transport error,
// or timeout). A single failure while HalfOpen re-opens the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now().UTC()

	switch b.state {
	case models.BreakerClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.tripLocked()
		}
	case models.BreakerHalfOpen:
		b.tripLocked()
	}
}

// tripLocked moves the breaker to Open and arms the HalfOpen timer.
// Callers must hold b.mu.
func (b *Breaker) tripLocked() {
	b.transitionLocked(models.BreakerOpen)
	b.successCount = 0
	b.stopTimerLocked()
	b.resetTimer = time.AfterFunc(b.cfg.ResetTimeout, b.halfOpen)
}

func (b *Breaker) halfOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != models.BreakerOpen {
		return
	}
	b.transitionLocked(models.BreakerHalfOpen)
	b.successCount = 0
}

// Reset forces the breaker Closed, zeroes the counters, and invalidates any
// pending HalfOpen timer so a stale transition cannot fire later.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopTimerLocked()
	b.transitionLocked(models.BreakerClosed)
	b.failureCount = 0
	b.successCount = 0
}

func (b *Breaker) stopTimerLocked() {
	if b.resetTimer != nil {
		b.resetTimer.Stop()
		b.resetTimer = nil
	}
}

func (b *Breaker) transitionLocked(state models.BreakerState) {
	if b.state == state {
		return
	}
	b.state = state
	if b.onStateChange != nil {
		b.onStateChange(b.service, state)
	}
}

// ResetTimeout exposes the configured Open duration for Retry-After hints.
func (b *Breaker) ResetTimeout() time.Duration {
	return b.cfg.ResetTimeout
}

// CallTimeout exposes the per-call deadline for this backend.
func (b *Breaker) CallTimeout() time.Duration {
	return b.cfg.CallTimeout
}

// State returns the current breaker state.
func (b *Breaker) State() models.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a point-in-time view for the admin API.
func (b *Breaker) Snapshot() models.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := models.BreakerSnapshot{
		Service:          b.service,
		State:            b.state,
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		FailureThreshold: b.cfg.FailureThreshold,
		SuccessThreshold: b.cfg.SuccessThreshold,
		ResetTimeout:     b.cfg.ResetTimeout.String(),
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		snap.LastFailureAt = &t
	}
	return snap
}

// BreakerRegistry owns one breaker per logical backend, created lazily on
// first reference. Breakers live for the process lifetime.
type BreakerRegistry struct {
	defaults config.BreakerConfig
	logger   *zap.Logger
	metrics  *MetricsService

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewBreakerRegistry constructs a registry with shared breaker defaults.
func NewBreakerRegistry(defaults config.BreakerConfig, metrics *MetricsService, logger *zap.Logger) *BreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerRegistry{
		defaults: defaults,
		logger:   logger,
		metrics:  metrics,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a logical service, creating it when absent.
func (r *BreakerRegistry) Get(service string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[service]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[service]; ok {
		return b
	}
	b = newBreaker(service, r.defaults, r.onStateChange)
	r.breakers[service] = b
	return b
}

func (r *BreakerRegistry) onStateChange(service string, state models.BreakerState) {
	r.logger.Info("breaker_state_change",
		zap.String("service", service),
		zap.String("state", string(state)),
	)
	if r.metrics != nil {
		r.metrics.SetBreakerState(service, state)
	}
}

// Snapshots returns the state of every known breaker.
func (r *BreakerRegistry) Snapshots() []models.BreakerSnapshot {
	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	snaps := make([]models.BreakerSnapshot, 0, len(breakers))
	for _, b := range breakers {
		snaps = append(snaps, b.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Service < snaps[j].Service })
	return snaps
}

// Reset forces one breaker Closed. It errors when the breaker was never
// created, so admin typos do not silently spawn new breakers.
func (r *BreakerRegistry) Reset(service string) error {
	r.mu.RLock()
	b, ok := r.breakers[service]
	r.mu.RUnlock()
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "no breaker registered for service")
	}
	b.Reset()
	r.logger.Info("breaker_reset", zap.String("service", service))
	return nil
}
