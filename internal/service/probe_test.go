package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/vitalmesh/gateway/internal/models"
)

func TestProbeAll(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("probe hit %s, want /health", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(healthy.Close)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(failing.Close)

	routes := NewRouteTable(models.RouteTableDefinition{
		Backends: map[string][]string{
			"user":      {healthy.URL},
			"knowledge": {failing.URL},
		},
	}, "")

	probe := NewProbeService(routes, nil, zap.NewNop())
	results := probe.ProbeAll(context.Background())

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	byService := map[string]models.ProbeResult{}
	for _, r := range results {
		byService[r.Service] = r
	}

	if !byService["user"].Reachable || byService["user"].StatusCode != http.StatusOK {
		t.Fatalf("healthy backend misreported: %+v", byService["user"])
	}
	if byService["knowledge"].Reachable {
		t.Fatalf("failing backend misreported: %+v", byService["knowledge"])
	}
	if byService["knowledge"].Error == "" {
		t.Fatal("failing backend should carry an error message")
	}
}

func TestProbeAllIncludesCanaryVersions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	routes := NewRouteTable(models.RouteTableDefinition{
		Backends: map[string][]string{"user": {server.URL}},
	}, "")
	canary := newTestCanaryService(NewMetricsLedger())
	err := canary.Replace(context.Background(), models.CanaryConfig{
		Service:        "user",
		Enabled:        true,
		DefaultVersion: "v1",
		Versions: []models.CanaryVersion{
			{Name: "v1", URL: server.URL, Weight: 100},
			{Name: "v2", URL: server.URL + "/v2", Weight: 0},
		},
	})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	probe := NewProbeService(routes, canary, zap.NewNop())
	results := probe.ProbeAll(context.Background())

	// server.URL is deduplicated between the static pool and v1.
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (deduplicated): %+v", len(results), results)
	}
}

func TestProbeUnreachableBackend(t *testing.T) {
	routes := NewRouteTable(models.RouteTableDefinition{
		Backends: map[string][]string{"user": {"http://127.0.0.1:1"}},
	}, "")

	probe := NewProbeService(routes, nil, zap.NewNop())
	results := probe.ProbeAll(context.Background())

	if len(results) != 1 || results[0].Reachable {
		t.Fatalf("unreachable backend misreported: %+v", results)
	}
	if results[0].Error == "" {
		t.Fatal("connection failure should carry an error message")
	}
}
