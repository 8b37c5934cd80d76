package dto

import "github.com/vitalmesh/gateway/internal/models"

// ReplaceCanaryConfigRequest is the admin payload that swaps a service's
// traffic-splitting config in one shot. The service name comes from the URL.
type ReplaceCanaryConfigRequest struct {
	Enabled        bool                   `json:"enabled"`
	DefaultVersion string                 `json:"default_version" validate:"required"`
	Versions       []models.CanaryVersion `json:"versions" validate:"dive"`
	Rules          []models.CanaryRule    `json:"rules" validate:"dive"`
}

// ToModel binds the payload to its service name.
func (r ReplaceCanaryConfigRequest) ToModel(service string) models.CanaryConfig {
	return models.CanaryConfig{
		Service:        service,
		Enabled:        r.Enabled,
		DefaultVersion: r.DefaultVersion,
		Versions:       r.Versions,
		Rules:          r.Rules,
	}
}

// ClassifyPreviewRequest asks the admin API which domain a query text would
// route to, without sending traffic.
type ClassifyPreviewRequest struct {
	Query string `json:"query" validate:"required"`
}
