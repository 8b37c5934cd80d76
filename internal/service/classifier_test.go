package service

import (
	"testing"

	"github.com/vitalmesh/gateway/internal/models"
)

func newTestClassifier(t *testing.T) *ClassifierService {
	t.Helper()
	def := DefaultRouteTableDefinition()
	classifier, err := NewClassifierService(def.DomainPatterns, def.DomainServices, "knowledge")
	if err != nil {
		t.Fatalf("NewClassifierService() error = %v", err)
	}
	return classifier
}

func TestClassifyFirstMatchWins(t *testing.T) {
	classifier := newTestClassifier(t)

	tests := []struct {
		query string
		want  string
	}{
		{"what herbal remedies help with sleep", "tcm"},
		{"recommended dosage for ibuprofen", "medication"},
		{"I have a fever and a cough", "symptom"},
		{"how many calories in an avocado", "nutrition"},
		{"tell me about the weather", "default"},
		{"", "default"},
		// "herbal" appears before "dosage" in the pattern order, so tcm wins.
		{"herbal dosage guidance", "tcm"},
	}

	for _, tt := range tests {
		if got := classifier.Classify(tt.query); got != tt.want {
			t.Fatalf("Classify(%q) = %s, want %s", tt.query, got, tt.want)
		}
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	classifier := newTestClassifier(t)
	if got := classifier.Classify("ACUPUNCTURE appointment"); got != "tcm" {
		t.Fatalf("Classify() = %s, want tcm", got)
	}
}

func TestResolveServiceFallbacks(t *testing.T) {
	classifier := newTestClassifier(t)

	if got := classifier.ResolveService("tcm"); got != "med-knowledge" {
		t.Fatalf("ResolveService(tcm) = %s, want med-knowledge", got)
	}
	// Unknown domains use the table's default mapping.
	if got := classifier.ResolveService("astrology"); got != "knowledge" {
		t.Fatalf("ResolveService(astrology) = %s, want knowledge", got)
	}

	bare, err := NewClassifierService(nil, map[string]string{}, "fallback-svc")
	if err != nil {
		t.Fatalf("NewClassifierService() error = %v", err)
	}
	if got := bare.ResolveService("anything"); got != "fallback-svc" {
		t.Fatalf("ResolveService() = %s, want fallback-svc", got)
	}
}

func TestNewClassifierServiceRejectsBadPatterns(t *testing.T) {
	_, err := NewClassifierService([]models.DomainPattern{{Domain: "tcm", Pattern: "("}}, nil, "knowledge")
	if err == nil {
		t.Fatal("invalid regex must fail construction")
	}

	_, err = NewClassifierService([]models.DomainPattern{{Domain: "", Pattern: "x"}}, nil, "knowledge")
	if err == nil {
		t.Fatal("empty domain must fail construction")
	}
}
