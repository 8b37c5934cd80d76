package service

import (
	"sort"

	"github.com/vitalmesh/gateway/internal/models"
)

// StatsService assembles the per-service observability export: breaker
// state joined with canary version metrics.
type StatsService struct {
	breakers *BreakerRegistry
	canary   *CanaryService
}

// NewStatsService wires the stats aggregator.
func NewStatsService(breakers *BreakerRegistry, canary *CanaryService) *StatsService {
	return &StatsService{breakers: breakers, canary: canary}
}

// Collect merges breaker snapshots with version metrics per service. A
// service appears once it has either seen traffic (breaker exists) or has a
// canary config.
func (s *StatsService) Collect() []models.ServiceStats {
	byService := make(map[string]*models.ServiceStats)

	for _, snap := range s.breakers.Snapshots() {
		byService[snap.Service] = &models.ServiceStats{Service: snap.Service, Breaker: snap}
	}

	for _, status := range s.canary.Statuses() {
		entry, ok := byService[status.Config.Service]
		if !ok {
			entry = &models.ServiceStats{Service: status.Config.Service}
			byService[status.Config.Service] = entry
		}
		entry.Versions = status.Metrics
	}

	out := make([]models.ServiceStats, 0, len(byService))
	for _, entry := range byService {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}
