package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vitalmesh/gateway/internal/models"
	"github.com/vitalmesh/gateway/pkg/config"
)

func TestStatsCollectMergesBreakersAndVersions(t *testing.T) {
	breakers := NewBreakerRegistry(config.BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		ResetTimeout:     time.Minute,
	}, nil, zap.NewNop())
	breakers.Get("user").RecordFailure()

	ledger := NewMetricsLedger()
	canary := newTestCanaryService(ledger)
	err := canary.Replace(context.Background(), models.CanaryConfig{
		Service:        "knowledge",
		Enabled:        true,
		DefaultVersion: "v1",
		Versions: []models.CanaryVersion{
			{Name: "v1", URL: "http://v1:8080", Weight: 100},
		},
	})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	canary.RecordOutcome("knowledge", "v1", 200, 5*time.Millisecond)

	stats := NewStatsService(breakers, canary).Collect()
	if len(stats) != 2 {
		t.Fatalf("stats = %d entries, want 2", len(stats))
	}
	if stats[0].Service != "knowledge" || stats[1].Service != "user" {
		t.Fatalf("stats not sorted: %+v", stats)
	}
	if len(stats[0].Versions) != 1 || stats[0].Versions[0].RequestCount != 1 {
		t.Fatalf("knowledge versions = %+v, want one version with one request", stats[0].Versions)
	}
	if stats[1].Breaker.FailureCount != 1 {
		t.Fatalf("user breaker snapshot = %+v, want failure count 1", stats[1].Breaker)
	}
}
