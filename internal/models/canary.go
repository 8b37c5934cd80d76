package models

// RuleType enumerates the supported canary rule predicates.
type RuleType string

const (
	RuleUserID    RuleType = "userId"
	RuleUserGroup RuleType = "userGroup"
	RuleHeader    RuleType = "header"
	RuleQuery     RuleType = "query"
	RuleDevice    RuleType = "device"
	RuleRandom    RuleType = "random"
	RuleIP        RuleType = "ip"
)

// CanaryVersion declares one routable version of a service.
type CanaryVersion struct {
	Name   string `json:"name" validate:"required"`
	URL    string `json:"url" validate:"required,url"`
	Weight int    `json:"weight" validate:"gte=0"`
}

// CanaryRule is one entry of the ordered rule list. Which fields are
// meaningful depends on Type: Name for header/query rules, Values for
// membership tests, Percentage for random rules.
type CanaryRule struct {
	Type          RuleType `json:"type" validate:"required,oneof=userId userGroup header query device random ip"`
	Name          string   `json:"name,omitempty"`
	Values        []string `json:"values,omitempty"`
	Percentage    int      `json:"percentage,omitempty" validate:"gte=0,lte=100"`
	TargetVersion string   `json:"target_version" validate:"required"`
}

// CanaryConfig is the immutable per-service traffic-splitting snapshot.
// Updates replace the whole value; readers never observe partial state.
type CanaryConfig struct {
	Service        string          `json:"service" validate:"required"`
	Enabled        bool            `json:"enabled"`
	DefaultVersion string          `json:"default_version" validate:"required"`
	Versions       []CanaryVersion `json:"versions" validate:"dive"`
	Rules          []CanaryRule    `json:"rules" validate:"dive"`
}

// VersionURL resolves the URL registered for a version name, if any.
func (c *CanaryConfig) VersionURL(name string) (string, bool) {
	for _, v := range c.Versions {
		if v.Name == name {
			return v.URL, true
		}
	}
	return "", false
}

// HasVersion reports whether a version name is declared in the config.
func (c *CanaryConfig) HasVersion(name string) bool {
	_, ok := c.VersionURL(name)
	return ok
}

// VersionMetricsSnapshot carries derived statistics for one service version.
type VersionMetricsSnapshot struct {
	Version       string  `json:"version"`
	RequestCount  uint64  `json:"request_count"`
	ErrorCount    uint64  `json:"error_count"`
	ErrorRate     float64 `json:"error_rate"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MinLatencyMs  float64 `json:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	WindowSamples int     `json:"window_samples"`
}

// CanaryStatus combines a service's config with its live version metrics.
type CanaryStatus struct {
	Config  CanaryConfig             `json:"config"`
	Metrics []VersionMetricsSnapshot `json:"metrics"`
}
