package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vitalmesh/gateway/internal/models"
)

// DefaultDomain is returned when no pattern matches the query text.
const DefaultDomain = "default"

// ClassifierService maps free-text query content onto a knowledge domain and
// the domain onto a logical backend service. Patterns are compiled once at
// startup and evaluated in declaration order; the component is stateless and
// safe for concurrent use.
type ClassifierService struct {
	patterns []compiledPattern
	services map[string]string
	fallback string
}

type compiledPattern struct {
	domain string
	re     *regexp.Regexp
}

// NewClassifierService compiles the ordered domain patterns. fallback is the
// service that handles the default domain when the table has no explicit
// mapping for it.
func NewClassifierService(patterns []models.DomainPattern, services map[string]string, fallback string) (*ClassifierService, error) {
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		if p.Domain == "" || p.Pattern == "" {
			return nil, fmt.Errorf("domain pattern needs both domain and pattern: %+v", p)
		}
		re, err := regexp.Compile("(?i)" + p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile pattern for domain %s: %w", p.Domain, err)
		}
		compiled = append(compiled, compiledPattern{domain: p.Domain, re: re})
	}

	lookup := make(map[string]string, len(services))
	for domain, service := range services {
		lookup[domain] = service
	}

	return &ClassifierService{patterns: compiled, services: lookup, fallback: fallback}, nil
}

// Classify returns the first domain whose pattern matches the query text, or
// the default domain when nothing matches.
func (s *ClassifierService) Classify(queryText string) string {
	text := strings.TrimSpace(queryText)
	if text == "" {
		return DefaultDomain
	}
	for _, p := range s.patterns {
		if p.re.MatchString(text) {
			return p.domain
		}
	}
	return DefaultDomain
}

// ResolveService maps a domain to its logical backend service. Unknown
// domains degrade to the fallback service rather than failing the request.
func (s *ClassifierService) ResolveService(domain string) string {
	if service, ok := s.services[domain]; ok {
		return service
	}
	if service, ok := s.services[DefaultDomain]; ok {
		return service
	}
	return s.fallback
}
