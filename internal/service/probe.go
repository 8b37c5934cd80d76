package service

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vitalmesh/gateway/internal/models"
)

const probeHealthPath = "/health"

// ProbeService pings every registered backend's health endpoint on demand.
// Probe results are observability-only; breakers stay the sole authority on
// whether traffic flows.
type ProbeService struct {
	routes *RouteTable
	canary *CanaryService
	client *http.Client
	logger *zap.Logger
}

// NewProbeService builds a probe runner with a short dedicated timeout so a
// hung backend cannot stall the whole sweep.
func NewProbeService(routes *RouteTable, canary *CanaryService, logger *zap.Logger) *ProbeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProbeService{
		routes: routes,
		canary: canary,
		client: &http.Client{Timeout: 2 * time.Second},
		logger: logger,
	}
}

// ProbeAll pings the static backend pool plus every canary version URL,
// deduplicated, sorted by service then URL.
func (s *ProbeService) ProbeAll(ctx context.Context) []models.ProbeResult {
	targets := s.collectTargets()

	results := make([]models.ProbeResult, 0, len(targets))
	for _, t := range targets {
		results = append(results, s.probe(ctx, t.service, t.url))
	}
	return results
}

type probeTarget struct {
	service string
	url     string
}

func (s *ProbeService) collectTargets() []probeTarget {
	seen := make(map[probeTarget]struct{})
	var targets []probeTarget
	add := func(service, url string) {
		t := probeTarget{service: service, url: url}
		if _, dup := seen[t]; dup || url == "" {
			return
		}
		seen[t] = struct{}{}
		targets = append(targets, t)
	}

	for _, service := range s.routes.Services() {
		for _, url := range s.routes.Backends(service) {
			add(service, url)
		}
	}
	if s.canary != nil {
		for _, cfg := range s.canary.Configs() {
			for _, v := range cfg.Versions {
				add(cfg.Service, v.URL)
			}
		}
	}

	sort.Slice(targets, func(i, j int) bool {
		if targets[i].service != targets[j].service {
			return targets[i].service < targets[j].service
		}
		return targets[i].url < targets[j].url
	})
	return targets
}

func (s *ProbeService) probe(ctx context.Context, service, baseURL string) models.ProbeResult {
	result := models.ProbeResult{
		Service:    service,
		TargetURL:  baseURL,
		ObservedAt: time.Now().UTC(),
	}

	url := strings.TrimRight(baseURL, "/") + probeHealthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	result.Duration = time.Since(start)

	if err != nil {
		result.Error = err.Error()
		s.logger.Debug("probe_failed", zap.String("service", service), zap.String("url", url), zap.Error(err))
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Reachable = resp.StatusCode < http.StatusInternalServerError
	if !result.Reachable {
		result.Error = fmt.Sprintf("received status %d", resp.StatusCode)
	}
	return result
}
