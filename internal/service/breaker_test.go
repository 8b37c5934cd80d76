package service

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vitalmesh/gateway/internal/models"
	"github.com/vitalmesh/gateway/pkg/config"
)

func testBreakerConfig() config.BreakerConfig {
	return config.BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Millisecond,
		CallTimeout:      time.Second,
	}
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := newBreaker("user", testBreakerConfig(), nil)

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != models.BreakerClosed {
		t.Fatalf("state = %s before threshold, want closed", b.State())
	}
	if !b.Allow() {
		t.Fatal("closed breaker must admit traffic")
	}

	b.RecordFailure()
	if b.State() != models.BreakerOpen {
		t.Fatalf("state = %s at threshold, want open", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker must reject traffic")
	}
}

func TestBreakerSuccessInClosedDoesNotResetCount(t *testing.T) {
	b := newBreaker("user", testBreakerConfig(), nil)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()

	if b.State() != models.BreakerOpen {
		t.Fatalf("state = %s, want open: interleaved successes must not reset the failure count", b.State())
	}
}

func TestBreakerTimedRecoveryAndClose(t *testing.T) {
	b := newBreaker("user", testBreakerConfig(), nil)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if b.State() != models.BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	// Midway through the reset timeout the breaker must still reject.
	time.Sleep(10 * time.Millisecond)
	if b.State() != models.BreakerOpen {
		t.Fatalf("state = %s before reset timeout, want open", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker must keep rejecting until the reset timeout elapses")
	}

	time.Sleep(50 * time.Millisecond)
	if b.State() != models.BreakerHalfOpen {
		t.Fatalf("state = %s after reset timeout, want half-open", b.State())
	}
	if !b.Allow() {
		t.Fatal("half-open breaker must admit trial traffic")
	}

	b.RecordSuccess()
	if b.State() != models.BreakerHalfOpen {
		t.Fatalf("state = %s after one trial success, want half-open", b.State())
	}
	b.RecordSuccess()
	if b.State() != models.BreakerClosed {
		t.Fatalf("state = %s after success threshold, want closed", b.State())
	}

	snap := b.Snapshot()
	if snap.FailureCount != 0 || snap.SuccessCount != 0 {
		t.Fatalf("counters not zeroed on close: %+v", snap)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newBreaker("user", testBreakerConfig(), nil)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)
	if b.State() != models.BreakerHalfOpen {
		t.Fatalf("state = %s, want half-open", b.State())
	}

	b.RecordSuccess()
	b.RecordFailure()
	if b.State() != models.BreakerOpen {
		t.Fatalf("state = %s after half-open failure, want open", b.State())
	}

	// The re-opened breaker must recover again on its own.
	time.Sleep(60 * time.Millisecond)
	if b.State() != models.BreakerHalfOpen {
		t.Fatalf("state = %s, want half-open after second recovery", b.State())
	}
}

func TestBreakerResetCancelsPendingTimer(t *testing.T) {
	b := newBreaker("user", testBreakerConfig(), nil)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	b.Reset()
	if b.State() != models.BreakerClosed {
		t.Fatalf("state = %s after reset, want closed", b.State())
	}

	// A stale recovery timer firing later must not move a closed breaker.
	time.Sleep(60 * time.Millisecond)
	if b.State() != models.BreakerClosed {
		t.Fatalf("state = %s, want closed: reset must invalidate the pending timer", b.State())
	}
}

func TestBreakerRegistryGetAndSnapshots(t *testing.T) {
	registry := NewBreakerRegistry(testBreakerConfig(), nil, zap.NewNop())

	first := registry.Get("user")
	second := registry.Get("user")
	if first != second {
		t.Fatal("Get must return the same breaker per service")
	}
	registry.Get("knowledge").RecordFailure()

	snaps := registry.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}
	if snaps[0].Service != "knowledge" || snaps[1].Service != "user" {
		t.Fatalf("snapshots not sorted by service: %+v", snaps)
	}
	if snaps[0].FailureCount != 1 {
		t.Fatalf("knowledge failure count = %d, want 1", snaps[0].FailureCount)
	}
	if snaps[0].LastFailureAt == nil {
		t.Fatal("LastFailureAt should be set after a failure")
	}
}

func TestBreakerRegistryResetUnknownService(t *testing.T) {
	registry := NewBreakerRegistry(testBreakerConfig(), nil, zap.NewNop())

	if err := registry.Reset("ghost"); err == nil {
		t.Fatal("resetting an unknown breaker must error")
	}

	b := registry.Get("user")
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if err := registry.Reset("user"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if b.State() != models.BreakerClosed {
		t.Fatalf("state = %s after registry reset, want closed", b.State())
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []models.BreakerState
	b := newBreaker("user", testBreakerConfig(), func(service string, state models.BreakerState) {
		transitions = append(transitions, state)
	})

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	b.Reset()

	want := []models.BreakerState{models.BreakerOpen, models.BreakerClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}
