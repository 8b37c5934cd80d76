package service

import (
	"testing"
	"time"

	"github.com/vitalmesh/gateway/pkg/config"
)

func TestRateLimiterCapsWindow(t *testing.T) {
	limiter := newRateLimiter("user", 3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.Allow() {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}
	if limiter.Allow() {
		t.Fatal("request over the cap must be rejected")
	}

	snap := limiter.Snapshot()
	if snap.InWindow != 3 {
		t.Fatalf("InWindow = %d, want 3 (rejections never consume capacity)", snap.InWindow)
	}
	if snap.Service != "user" || snap.MaxRequests != 3 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	limiter := newRateLimiter("user", 2, 30*time.Millisecond)

	if !limiter.Allow() || !limiter.Allow() {
		t.Fatal("the empty window should admit two requests")
	}
	if limiter.Allow() {
		t.Fatal("a full window must reject")
	}

	time.Sleep(60 * time.Millisecond)

	if !limiter.Allow() {
		t.Fatal("an expired window must admit again")
	}
	if snap := limiter.Snapshot(); snap.InWindow != 1 {
		t.Fatalf("InWindow = %d, want 1 after expiry", snap.InWindow)
	}
}

func TestRateLimiterRegistryPerService(t *testing.T) {
	registry := NewRateLimiterRegistry(config.RateLimitConfig{
		Enabled:     true,
		MaxRequests: 1,
		Window:      time.Minute,
	})

	if !registry.Allow("user") {
		t.Fatal("first request must pass")
	}
	if registry.Allow("user") {
		t.Fatal("second request must hit the cap")
	}
	if !registry.Allow("knowledge") {
		t.Fatal("services must not share windows")
	}

	snaps := registry.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("Snapshots() returned %d entries, want 2", len(snaps))
	}
	if snaps[0].Service != "knowledge" || snaps[1].Service != "user" {
		t.Fatalf("snapshots not sorted by service: %+v", snaps)
	}
}

func TestRateLimiterRegistryDisabled(t *testing.T) {
	registry := NewRateLimiterRegistry(config.RateLimitConfig{
		Enabled:     false,
		MaxRequests: 1,
		Window:      time.Minute,
	})

	for i := 0; i < 10; i++ {
		if !registry.Allow("user") {
			t.Fatal("a disabled registry must admit everything")
		}
	}
	if snaps := registry.Snapshots(); len(snaps) != 0 {
		t.Fatalf("a disabled registry must not track windows, got %+v", snaps)
	}

	var nilRegistry *RateLimiterRegistry
	if !nilRegistry.Allow("user") {
		t.Fatal("a nil registry must admit everything")
	}
}
