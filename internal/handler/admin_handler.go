package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vitalmesh/gateway/internal/dto"
	"github.com/vitalmesh/gateway/internal/models"
	"github.com/vitalmesh/gateway/internal/repository"
	appErrors "github.com/vitalmesh/gateway/pkg/errors"
	"github.com/vitalmesh/gateway/pkg/response"
)

type breakerAdmin interface {
	Snapshots() []models.BreakerSnapshot
	Reset(service string) error
}

type canaryAdmin interface {
	Statuses() []models.CanaryStatus
	Status(service string) (models.CanaryStatus, error)
	Replace(ctx context.Context, cfg models.CanaryConfig) error
}

type classifierAdmin interface {
	Classify(queryText string) string
	ResolveService(domain string) string
}

type statsCollector interface {
	Collect() []models.ServiceStats
}

type probeRunner interface {
	ProbeAll(ctx context.Context) []models.ProbeResult
}

type rateLimitAdmin interface {
	Snapshots() []models.RateLimitSnapshot
}

// AdminHandler exposes the gateway's operational API: breaker inspection and
// reset, canary config management, rate-limit windows, stats export, backend
// probing, and the audit trail.
type AdminHandler struct {
	breakers   breakerAdmin
	canary     canaryAdmin
	classifier classifierAdmin
	stats      statsCollector
	probe      probeRunner
	limits     rateLimitAdmin
	audit      *repository.AuditRepository
}

// NewAdminHandler builds a new handler. audit may be nil when the audit trail
// is disabled.
func NewAdminHandler(breakers breakerAdmin, canary canaryAdmin, classifier classifierAdmin, stats statsCollector, probe probeRunner, limits rateLimitAdmin, audit *repository.AuditRepository) *AdminHandler {
	return &AdminHandler{
		breakers:   breakers,
		canary:     canary,
		classifier: classifier,
		stats:      stats,
		probe:      probe,
		limits:     limits,
		audit:      audit,
	}
}

// ListBreakers returns the state of every breaker created so far.
func (h *AdminHandler) ListBreakers(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.breakers.Snapshots(), nil)
}

// ResetBreaker forces one breaker back to closed.
func (h *AdminHandler) ResetBreaker(c *gin.Context) {
	service := c.Param("service")
	if err := h.breakers.Reset(service); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"service": service, "state": models.BreakerClosed}, nil)
}

// ListCanaryConfigs returns every service's canary config with live metrics.
func (h *AdminHandler) ListCanaryConfigs(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.canary.Statuses(), nil)
}

// GetCanaryConfig returns one service's canary config with live metrics.
func (h *AdminHandler) GetCanaryConfig(c *gin.Context) {
	status, err := h.canary.Status(c.Param("service"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// ReplaceCanaryConfig swaps one service's traffic-splitting config whole.
func (h *AdminHandler) ReplaceCanaryConfig(c *gin.Context) {
	var req dto.ReplaceCanaryConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}

	cfg := req.ToModel(c.Param("service"))
	if err := h.canary.Replace(c.Request.Context(), cfg); err != nil {
		response.Error(c, err)
		return
	}

	status, err := h.canary.Status(cfg.Service)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Stats returns the aggregated breaker and version metrics export.
func (h *AdminHandler) Stats(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.stats.Collect(), nil)
}

// ClassifyPreview runs a query text through the classifier without routing
// any traffic. The text comes from the q parameter or a JSON body.
func (h *AdminHandler) ClassifyPreview(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		var req dto.ClassifyPreviewRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Query == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "query text required (q parameter or JSON body)"))
			return
		}
		query = req.Query
	}

	domain := h.classifier.Classify(query)
	response.JSON(c, http.StatusOK, models.ClassificationResult{
		Query:   query,
		Domain:  domain,
		Service: h.classifier.ResolveService(domain),
	}, nil)
}

// ListRateLimits returns the request-window state of every service limiter.
func (h *AdminHandler) ListRateLimits(c *gin.Context) {
	if h.limits == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "rate limiter unavailable"))
		return
	}
	response.JSON(c, http.StatusOK, h.limits.Snapshots(), nil)
}

// ListAuditLogs returns the newest admin-mutation audit records.
func (h *AdminHandler) ListAuditLogs(c *gin.Context) {
	if h.audit == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "audit log is not enabled"))
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	logs, err := h.audit.ListRecent(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}

// ProbeBackends pings every registered backend's health endpoint.
func (h *AdminHandler) ProbeBackends(c *gin.Context) {
	if h.probe == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "probe service unavailable"))
		return
	}
	response.JSON(c, http.StatusOK, h.probe.ProbeAll(c.Request.Context()), nil)
}
