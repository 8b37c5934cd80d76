package service

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/vitalmesh/gateway/internal/models"
)

// RouteTable holds the static path-prefix routing table and the registered
// backend URLs per logical service. When a service has several equivalent
// instances the table rotates through them round-robin.
type RouteTable struct {
	contentPrefix string
	prefixes      []prefixRoute

	mu       sync.Mutex
	backends map[string][]string
	cursors  map[string]int
}

type prefixRoute struct {
	prefix  string
	service string
}

// NewRouteTable builds a table from a definition. Longer prefixes win over
// shorter ones regardless of declaration order.
func NewRouteTable(def models.RouteTableDefinition, contentPrefix string) *RouteTable {
	prefixes := make([]prefixRoute, 0, len(def.Prefixes))
	for prefix, service := range def.Prefixes {
		prefixes = append(prefixes, prefixRoute{prefix: prefix, service: service})
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i].prefix) > len(prefixes[j].prefix) })

	backends := make(map[string][]string, len(def.Backends))
	for service, urls := range def.Backends {
		backends[service] = append([]string(nil), urls...)
	}

	return &RouteTable{
		contentPrefix: contentPrefix,
		prefixes:      prefixes,
		backends:      backends,
		cursors:       make(map[string]int),
	}
}

// DefaultRouteTableDefinition is the built-in fleet map used when no routing
// table file is configured. URLs assume the local docker-compose layout.
func DefaultRouteTableDefinition() models.RouteTableDefinition {
	return models.RouteTableDefinition{
		Prefixes: map[string]string{
			"/api/v1/users":     "user",
			"/api/v1/knowledge": "knowledge",
			"/api/v1/diagnosis": "diagnosis",
			"/api/v1/courses":   "training",
			"/api/v1/records":   "health-records",
		},
		Backends: map[string][]string{
			"user":           {"http://user-service:8080"},
			"knowledge":      {"http://knowledge-service:8080"},
			"med-knowledge":  {"http://med-knowledge-service:8080"},
			"diagnosis":      {"http://diagnosis-service:8080"},
			"training":       {"http://training-service:8080"},
			"health-records": {"http://health-records-service:8080"},
		},
		DomainPatterns: []models.DomainPattern{
			{Domain: "tcm", Pattern: `\b(tcm|acupuncture|herbal|meridian|qi)\b`},
			{Domain: "medication", Pattern: `\b(drug|medication|dosage|prescription|pill)\b`},
			{Domain: "symptom", Pattern: `\b(pain|fever|cough|headache|symptom|dizzy)\b`},
			{Domain: "nutrition", Pattern: `\b(diet|nutrition|vitamin|meal|calorie)\b`},
		},
		DomainServices: map[string]string{
			"tcm":        "med-knowledge",
			"medication": "med-knowledge",
			"symptom":    "diagnosis",
			"nutrition":  "knowledge",
			"default":    "knowledge",
		},
	}
}

// LoadRouteTableDefinition reads the routing table JSON from disk.
func LoadRouteTableDefinition(path string) (models.RouteTableDefinition, error) {
	var def models.RouteTableDefinition
	raw, err := os.ReadFile(path)
	if err != nil {
		return def, err
	}
	if err := json.Unmarshal(raw, &def); err != nil {
		return def, err
	}
	return def, nil
}

// IsContentRouted reports whether a path belongs to the content-classified
// routing prefix.
func (t *RouteTable) IsContentRouted(path string) bool {
	return t.contentPrefix != "" && strings.HasPrefix(path, t.contentPrefix)
}

// Resolve maps a request path to a logical service via longest-prefix match.
func (t *RouteTable) Resolve(path string) (string, bool) {
	for _, route := range t.prefixes {
		if strings.HasPrefix(path, route.prefix) {
			return route.service, true
		}
	}
	return "", false
}

// NextURL returns the next backend URL for a service, rotating across
// equivalent instances.
func (t *RouteTable) NextURL(service string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	urls := t.backends[service]
	if len(urls) == 0 {
		return "", false
	}
	cursor := t.cursors[service]
	t.cursors[service] = cursor + 1
	return urls[cursor%len(urls)], true
}

// Backends returns a copy of the URL pool registered for a service.
func (t *RouteTable) Backends(service string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.backends[service]...)
}

// Services lists every service with at least one registered backend.
func (t *RouteTable) Services() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.backends))
	for service := range t.backends {
		out = append(out, service)
	}
	sort.Strings(out)
	return out
}
