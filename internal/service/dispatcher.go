package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vitalmesh/gateway/internal/models"
	appErrors "github.com/vitalmesh/gateway/pkg/errors"
)

// DispatchRequest is the inbound request reduced to what the routing
// pipeline needs. The body is buffered so it can be both inspected for
// classification and replayed upstream.
type DispatchRequest struct {
	Method  string
	Path    string
	Request RequestContext

	RawQuery string
	Body     []byte
}

// DispatchResult carries the upstream reply plus the routing decision that
// produced it. Err is set instead of the reply fields when dispatch fails
// before or during the upstream call.
type DispatchResult struct {
	Decision models.RoutingDecision

	Status int
	Header http.Header
	Body   []byte

	RetryAfterSeconds int
	Err               *appErrors.Error
}

// VersionHeader is set on outbound canary-routed calls so backends can tell
// which version handled them.
const VersionHeader = "X-Service-Version"

// Dispatcher runs the full routing pipeline for one request: service
// resolution (static prefix or content classification), breaker admission,
// rate-limit admission, canary version selection, the upstream call, and
// outcome accounting.
type Dispatcher struct {
	routes     *RouteTable
	classifier *ClassifierService
	breakers   *BreakerRegistry
	limits     *RateLimiterRegistry
	canary     *CanaryService
	forwarder  Forwarder
	metrics    *MetricsService
	logger     *zap.Logger
}

// NewDispatcher wires the routing pipeline together.
func NewDispatcher(routes *RouteTable, classifier *ClassifierService, breakers *BreakerRegistry, limits *RateLimiterRegistry, canary *CanaryService, forwarder Forwarder, metrics *MetricsService, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		routes:     routes,
		classifier: classifier,
		breakers:   breakers,
		limits:     limits,
		canary:     canary,
		forwarder:  forwarder,
		metrics:    metrics,
		logger:     logger,
	}
}

// Dispatch routes one request to a backend and returns the buffered reply.
// Accounting (breaker counters, version metrics) always runs once the
// upstream call starts, whatever the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) *DispatchResult {
	result := &DispatchResult{}

	service, domain, ok := d.resolveService(req)
	if !ok {
		result.Err = appErrors.Clone(appErrors.ErrRouteNotFound, "no route for path")
		return result
	}
	result.Decision.Service = service
	result.Decision.Domain = domain

	breaker := d.breakers.Get(service)
	if !breaker.Allow() {
		d.metrics.CountBreakerRejection(service)
		result.RetryAfterSeconds = int(breaker.ResetTimeout().Seconds())
		result.Err = appErrors.Clone(appErrors.ErrBackendUnavailable, "service breaker is open")
		return result
	}
	result.Decision.BreakerAllowed = true

	if !d.limits.Allow(service) {
		d.metrics.CountRateLimitRejection(service)
		d.logger.Warn("rate_limit_exceeded", zap.String("service", service))
		result.Err = appErrors.Clone(appErrors.ErrRateLimited, "request rate exceeded for service")
		return result
	}

	targetURL, version, canaryRouted, ok := d.selectTarget(service, req.Request)
	if !ok {
		result.Err = appErrors.Clone(appErrors.ErrRouteNotFound, "no backend registered for service")
		return result
	}
	result.Decision.TargetURL = targetURL
	result.Decision.Version = version
	result.Decision.CanaryRouted = canaryRouted

	outHeader := req.Request.Header
	if canaryRouted {
		// Tell the backend (and its logs) which version was selected.
		outHeader = cloneHeader(outHeader)
		outHeader.Set(VersionHeader, version)
	}

	callCtx, cancel := context.WithTimeout(ctx, breaker.CallTimeout())
	defer cancel()

	started := time.Now()
	resp, err := d.forwarder.Forward(callCtx, ForwardRequest{
		Method:    req.Method,
		TargetURL: targetURL,
		Path:      req.Path,
		RawQuery:  req.RawQuery,
		Header:    outHeader,
		Body:      req.Body,
		ClientIP:  req.Request.ClientIP,
	})
	elapsed := time.Since(started)

	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded
		status := http.StatusBadGateway
		appErr := appErrors.ErrBackendError
		if timedOut {
			status = http.StatusGatewayTimeout
			appErr = appErrors.ErrBackendTimeout
		}

		d.account(breaker, service, version, status, elapsed, true)
		d.logger.Warn("upstream_call_failed",
			zap.String("service", service),
			zap.String("target_url", targetURL),
			zap.Bool("timeout", timedOut),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		result.Err = appErrors.Wrap(err, appErr.Code, appErr.Status, appErr.Message)
		return result
	}

	d.account(breaker, service, version, resp.Status, elapsed, false)

	result.Status = resp.Status
	result.Header = resp.Header
	result.Body = resp.Body
	return result
}

// resolveService picks the logical backend: content-routed paths go through
// the classifier, everything else through the static prefix table.
func (d *Dispatcher) resolveService(req DispatchRequest) (service, domain string, ok bool) {
	if d.routes.IsContentRouted(req.Path) {
		domain = d.classifier.Classify(extractQueryText(req))
		service = d.classifier.ResolveService(domain)
		d.metrics.CountClassification(domain)
		return service, domain, true
	}
	service, ok = d.routes.Resolve(req.Path)
	return service, "", ok
}

// selectTarget resolves the concrete backend URL. Services with an active
// canary split use the version's registered URL; everything else rotates
// through the static backend pool.
func (d *Dispatcher) selectTarget(service string, rctx RequestContext) (targetURL, version string, canaryRouted, ok bool) {
	cfg := d.canary.Config(service)
	if cfg != nil && cfg.Enabled && len(cfg.Versions) > 0 {
		version = d.canary.Decide(cfg, rctx)
		if url, found := cfg.VersionURL(version); found {
			return url, version, true, true
		}
		d.logger.Warn("canary_version_without_url",
			zap.String("service", service),
			zap.String("version", version),
		)
	}

	targetURL, ok = d.routes.NextURL(service)
	return targetURL, "", false, ok
}

// account records the call outcome everywhere it counts: breaker, version
// ledger, and Prometheus. Failed transports count as upstream failures.
func (d *Dispatcher) account(breaker *Breaker, service, version string, status int, elapsed time.Duration, transportFailed bool) {
	if transportFailed || status >= http.StatusInternalServerError {
		breaker.RecordFailure()
	} else {
		breaker.RecordSuccess()
	}
	if version != "" {
		d.canary.RecordOutcome(service, version, status, elapsed)
	}
	d.metrics.ObserveUpstream(service, version, status, elapsed)
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

// extractQueryText pulls the free-text question out of a content-routed
// request: the q/query parameters first, then well-known JSON body fields.
func extractQueryText(req DispatchRequest) string {
	if req.Request.Query != nil {
		for _, name := range []string{"q", "query"} {
			if v := req.Request.Query.Get(name); v != "" {
				return v
			}
		}
	}
	if len(req.Body) == 0 {
		return ""
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return ""
	}
	for _, field := range []string{"query", "question", "text", "message"} {
		raw, found := payload[field]
		if !found {
			continue
		}
		var v string
		if err := json.Unmarshal(raw, &v); err == nil && v != "" {
			return v
		}
	}
	return ""
}
