package models

// DomainPattern pairs a knowledge domain with the text pattern that selects
// it. Patterns are evaluated in declaration order; the first match wins.
type DomainPattern struct {
	Domain  string `json:"domain"`
	Pattern string `json:"pattern"`
}

// RouteTableDefinition is the startup routing configuration: static
// path-prefix routes, per-service backend URLs, and the content
// classification tables.
type RouteTableDefinition struct {
	Prefixes       map[string]string   `json:"prefixes"`
	Backends       map[string][]string `json:"backends"`
	DomainPatterns []DomainPattern     `json:"domain_patterns"`
	DomainServices map[string]string   `json:"domain_services"`
}

// RoutingDecision is the ephemeral per-request outcome of the dispatch
// pipeline. It exists only for the duration of one request/response cycle.
type RoutingDecision struct {
	Service        string `json:"service"`
	Version        string `json:"version,omitempty"`
	TargetURL      string `json:"target_url"`
	BreakerAllowed bool   `json:"breaker_allowed"`
	CanaryRouted   bool   `json:"canary_routed"`
	Domain         string `json:"domain,omitempty"`
}

// ClassificationResult is the admin preview of a classifier run.
type ClassificationResult struct {
	Query   string `json:"query"`
	Domain  string `json:"domain"`
	Service string `json:"service"`
}

// ServiceStats aggregates breaker and version metrics for one service in the
// observability export.
type ServiceStats struct {
	Service  string                   `json:"service"`
	Breaker  BreakerSnapshot          `json:"breaker"`
	Versions []VersionMetricsSnapshot `json:"versions,omitempty"`
}
