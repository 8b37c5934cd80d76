package service

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vitalmesh/gateway/internal/models"
	"github.com/vitalmesh/gateway/pkg/config"
	appErrors "github.com/vitalmesh/gateway/pkg/errors"
)

type stubForwarder struct {
	calls int
	last  ForwardRequest
	resp  *ForwardResponse
	err   error
}

func (f *stubForwarder) Forward(ctx context.Context, req ForwardRequest) (*ForwardResponse, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	forwarder  *stubForwarder
	breakers   *BreakerRegistry
	limits     *RateLimiterRegistry
	canary     *CanaryService
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()

	def := DefaultRouteTableDefinition()
	routes := NewRouteTable(def, "/api/v1/ask")
	classifier, err := NewClassifierService(def.DomainPatterns, def.DomainServices, "knowledge")
	if err != nil {
		t.Fatalf("NewClassifierService() error = %v", err)
	}

	breakerCfg := config.BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		ResetTimeout:     30 * time.Second,
		CallTimeout:      time.Second,
	}
	breakers := NewBreakerRegistry(breakerCfg, nil, zap.NewNop())
	limits := NewRateLimiterRegistry(config.RateLimitConfig{
		Enabled:     true,
		MaxRequests: 100,
		Window:      time.Minute,
	})
	canary := NewCanaryService(config.CanaryConfig{
		OverrideHeader: "X-Canary-Version",
		OverrideParam:  "canary",
	}, NewMetricsLedger(), nil, nil, zap.NewNop())

	forwarder := &stubForwarder{resp: &ForwardResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"ok":true}`),
	}}

	return &dispatcherFixture{
		dispatcher: NewDispatcher(routes, classifier, breakers, limits, canary, forwarder, nil, zap.NewNop()),
		forwarder:  forwarder,
		breakers:   breakers,
		limits:     limits,
		canary:     canary,
	}
}

func TestDispatchUnknownRoute(t *testing.T) {
	fx := newDispatcherFixture(t)

	result := fx.dispatcher.Dispatch(context.Background(), DispatchRequest{
		Method: http.MethodGet,
		Path:   "/not/registered",
	})

	if result.Err == nil || result.Err.Code != appErrors.ErrRouteNotFound.Code {
		t.Fatalf("Err = %+v, want route not found", result.Err)
	}
	if fx.forwarder.calls != 0 {
		t.Fatal("unroutable requests must never reach the forwarder")
	}
}

func TestDispatchStaticRouteSuccess(t *testing.T) {
	fx := newDispatcherFixture(t)

	result := fx.dispatcher.Dispatch(context.Background(), DispatchRequest{
		Method:   http.MethodGet,
		Path:     "/api/v1/users/42",
		RawQuery: "verbose=1",
	})

	if result.Err != nil {
		t.Fatalf("Dispatch() error = %+v", result.Err)
	}
	if result.Status != http.StatusOK || string(result.Body) != `{"ok":true}` {
		t.Fatalf("unexpected reply: %d %s", result.Status, result.Body)
	}
	if result.Decision.Service != "user" || result.Decision.CanaryRouted {
		t.Fatalf("unexpected decision: %+v", result.Decision)
	}
	if fx.forwarder.last.TargetURL != "http://user-service:8080" {
		t.Fatalf("target = %s, want the user backend", fx.forwarder.last.TargetURL)
	}
	if fx.forwarder.last.Path != "/api/v1/users/42" || fx.forwarder.last.RawQuery != "verbose=1" {
		t.Fatalf("path/query not relayed: %+v", fx.forwarder.last)
	}
	if fx.breakers.Get("user").State() != models.BreakerClosed {
		t.Fatal("breaker must stay closed on success")
	}
}

func TestDispatchContentRouting(t *testing.T) {
	fx := newDispatcherFixture(t)

	result := fx.dispatcher.Dispatch(context.Background(), DispatchRequest{
		Method: http.MethodPost,
		Path:   "/api/v1/ask",
		Body:   []byte(`{"query":"which herbal tea helps digestion"}`),
	})

	if result.Err != nil {
		t.Fatalf("Dispatch() error = %+v", result.Err)
	}
	if result.Decision.Domain != "tcm" || result.Decision.Service != "med-knowledge" {
		t.Fatalf("decision = %+v, want tcm/med-knowledge", result.Decision)
	}

	// Unclassifiable text degrades to the default domain's service.
	result = fx.dispatcher.Dispatch(context.Background(), DispatchRequest{
		Method: http.MethodPost,
		Path:   "/api/v1/ask",
		Body:   []byte(`{"query":"hello there"}`),
	})
	if result.Decision.Domain != "default" || result.Decision.Service != "knowledge" {
		t.Fatalf("decision = %+v, want default/knowledge", result.Decision)
	}
}

func TestDispatchOpenBreakerRejectsWithRetryAfter(t *testing.T) {
	fx := newDispatcherFixture(t)

	breaker := fx.breakers.Get("user")
	breaker.RecordFailure()
	breaker.RecordFailure()
	if breaker.State() != models.BreakerOpen {
		t.Fatalf("state = %s, want open", breaker.State())
	}

	result := fx.dispatcher.Dispatch(context.Background(), DispatchRequest{
		Method: http.MethodGet,
		Path:   "/api/v1/users/42",
	})

	if result.Err == nil || result.Err.Code != appErrors.ErrBackendUnavailable.Code {
		t.Fatalf("Err = %+v, want backend unavailable", result.Err)
	}
	if result.RetryAfterSeconds != 30 {
		t.Fatalf("RetryAfterSeconds = %d, want 30", result.RetryAfterSeconds)
	}
	if fx.forwarder.calls != 0 {
		t.Fatal("an open breaker must short-circuit before the forwarder")
	}
	if snap := breaker.Snapshot(); snap.FailureCount != 2 {
		t.Fatalf("rejections must not count as failures: %+v", snap)
	}
}

func TestDispatchRateLimitExceeded(t *testing.T) {
	fx := newDispatcherFixture(t)
	fx.dispatcher.limits = NewRateLimiterRegistry(config.RateLimitConfig{
		Enabled:     true,
		MaxRequests: 2,
		Window:      time.Minute,
	})

	for i := 0; i < 2; i++ {
		result := fx.dispatcher.Dispatch(context.Background(), DispatchRequest{
			Method: http.MethodGet,
			Path:   "/api/v1/users/42",
		})
		if result.Err != nil {
			t.Fatalf("request %d within the window failed: %+v", i+1, result.Err)
		}
	}

	result := fx.dispatcher.Dispatch(context.Background(), DispatchRequest{
		Method: http.MethodGet,
		Path:   "/api/v1/users/42",
	})

	if result.Err == nil || result.Err.Code != appErrors.ErrRateLimited.Code {
		t.Fatalf("Err = %+v, want rate limited", result.Err)
	}
	if result.Err.Status != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", result.Err.Status)
	}
	if fx.forwarder.calls != 2 {
		t.Fatalf("forwarder calls = %d, a rate-limited request must never reach the backend", fx.forwarder.calls)
	}
	if snap := fx.breakers.Get("user").Snapshot(); snap.FailureCount != 0 {
		t.Fatalf("rate-limit rejections must not count as breaker failures: %+v", snap)
	}
}

func TestDispatchServerErrorTripsBreaker(t *testing.T) {
	fx := newDispatcherFixture(t)
	fx.forwarder.resp = &ForwardResponse{Status: http.StatusInternalServerError, Header: http.Header{}}

	for i := 0; i < 2; i++ {
		result := fx.dispatcher.Dispatch(context.Background(), DispatchRequest{
			Method: http.MethodGet,
			Path:   "/api/v1/users/42",
		})
		if result.Err != nil {
			t.Fatalf("5xx replies are relayed, not converted to errors: %+v", result.Err)
		}
		if result.Status != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", result.Status)
		}
	}

	if fx.breakers.Get("user").State() != models.BreakerOpen {
		t.Fatal("two 5xx replies must trip a threshold-2 breaker")
	}
}

func TestDispatchClientErrorDoesNotTripBreaker(t *testing.T) {
	fx := newDispatcherFixture(t)
	fx.forwarder.resp = &ForwardResponse{Status: http.StatusNotFound, Header: http.Header{}}

	for i := 0; i < 5; i++ {
		fx.dispatcher.Dispatch(context.Background(), DispatchRequest{
			Method: http.MethodGet,
			Path:   "/api/v1/users/42",
		})
	}

	if fx.breakers.Get("user").State() != models.BreakerClosed {
		t.Fatal("4xx replies must not count as breaker failures")
	}
}

func TestDispatchTimeout(t *testing.T) {
	fx := newDispatcherFixture(t)
	fx.forwarder.err = context.DeadlineExceeded

	result := fx.dispatcher.Dispatch(context.Background(), DispatchRequest{
		Method: http.MethodGet,
		Path:   "/api/v1/users/42",
	})

	if result.Err == nil || result.Err.Code != appErrors.ErrBackendTimeout.Code {
		t.Fatalf("Err = %+v, want backend timeout", result.Err)
	}
	if snap := fx.breakers.Get("user").Snapshot(); snap.FailureCount != 1 {
		t.Fatalf("timeouts must count as breaker failures: %+v", snap)
	}
}

func TestDispatchTransportError(t *testing.T) {
	fx := newDispatcherFixture(t)
	fx.forwarder.err = errors.New("connection refused")

	result := fx.dispatcher.Dispatch(context.Background(), DispatchRequest{
		Method: http.MethodGet,
		Path:   "/api/v1/users/42",
	})

	if result.Err == nil || result.Err.Code != appErrors.ErrBackendError.Code {
		t.Fatalf("Err = %+v, want backend error", result.Err)
	}
	if snap := fx.breakers.Get("user").Snapshot(); snap.FailureCount != 1 {
		t.Fatalf("transport errors must count as breaker failures: %+v", snap)
	}
}

func TestDispatchCanaryRouting(t *testing.T) {
	fx := newDispatcherFixture(t)

	err := fx.canary.Replace(context.Background(), models.CanaryConfig{
		Service:        "user",
		Enabled:        true,
		DefaultVersion: "v1",
		Versions: []models.CanaryVersion{
			{Name: "v1", URL: "http://user-v1:8080", Weight: 100},
			{Name: "v2", URL: "http://user-v2:8080", Weight: 0},
		},
	})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	header := http.Header{}
	header.Set("X-Canary-Version", "v2")
	result := fx.dispatcher.Dispatch(context.Background(), DispatchRequest{
		Method: http.MethodGet,
		Path:   "/api/v1/users/42",
		Request: RequestContext{
			Header: header,
			Query:  url.Values{},
		},
	})

	if result.Err != nil {
		t.Fatalf("Dispatch() error = %+v", result.Err)
	}
	if !result.Decision.CanaryRouted || result.Decision.Version != "v2" {
		t.Fatalf("decision = %+v, want canary v2", result.Decision)
	}
	if fx.forwarder.last.TargetURL != "http://user-v2:8080" {
		t.Fatalf("target = %s, want the v2 backend", fx.forwarder.last.TargetURL)
	}
	if fx.forwarder.last.Header.Get(VersionHeader) != "v2" {
		t.Fatal("the selected version must be announced to the backend")
	}
	if header.Get(VersionHeader) != "" {
		t.Fatal("the inbound header set must not be mutated")
	}

	status, err := fx.canary.Status("user")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	for _, m := range status.Metrics {
		if m.Version == "v2" && m.RequestCount != 1 {
			t.Fatalf("v2 metrics not recorded: %+v", m)
		}
		if m.Version == "v1" && m.RequestCount != 0 {
			t.Fatalf("v1 metrics unexpectedly recorded: %+v", m)
		}
	}
}

func TestExtractQueryText(t *testing.T) {
	tests := []struct {
		name string
		req  DispatchRequest
		want string
	}{
		{
			name: "query parameter",
			req:  DispatchRequest{Request: RequestContext{Query: url.Values{"q": []string{"fever remedy"}}}},
			want: "fever remedy",
		},
		{
			name: "json body",
			req:  DispatchRequest{Body: []byte(`{"question":"vitamin intake"}`)},
			want: "vitamin intake",
		},
		{
			name: "parameter beats body",
			req: DispatchRequest{
				Request: RequestContext{Query: url.Values{"query": []string{"from-param"}}},
				Body:    []byte(`{"query":"from-body"}`),
			},
			want: "from-param",
		},
		{
			name: "malformed body",
			req:  DispatchRequest{Body: []byte(`not-json`)},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractQueryText(tt.req); got != tt.want {
				t.Fatalf("extractQueryText() = %q, want %q", got, tt.want)
			}
		})
	}
}
