package handler

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vitalmesh/gateway/internal/middleware"
	"github.com/vitalmesh/gateway/internal/service"
	"github.com/vitalmesh/gateway/pkg/response"
)

// maxBufferedBodyBytes caps how much of an inbound body the gateway will
// buffer before refusing the request.
const maxBufferedBodyBytes = 10 << 20

// UpstreamServiceHeader tells access logs which backend served the request.
const UpstreamServiceHeader = "X-Upstream-Service"

// RequestDispatcher is the subset of the dispatcher used by the handler.
type RequestDispatcher interface {
	Dispatch(ctx context.Context, req service.DispatchRequest) *service.DispatchResult
}

// GatewayHandler is the catch-all proxy entrypoint.
type GatewayHandler struct {
	dispatcher RequestDispatcher
}

// NewGatewayHandler constructs a GatewayHandler.
func NewGatewayHandler(dispatcher RequestDispatcher) *GatewayHandler {
	return &GatewayHandler{dispatcher: dispatcher}
}

// Proxy forwards the inbound request through the routing pipeline and relays
// the backend's reply verbatim.
func (h *GatewayHandler) Proxy(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBufferedBodyBytes+1))
	if err != nil {
		response.Error(c, err)
		return
	}
	if len(body) > maxBufferedBodyBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return
	}

	result := h.dispatcher.Dispatch(c.Request.Context(), service.DispatchRequest{
		Method:   c.Request.Method,
		Path:     c.Request.URL.Path,
		RawQuery: c.Request.URL.RawQuery,
		Body:     body,
		Request: service.RequestContext{
			Identity:  middleware.CurrentIdentity(c),
			Header:    c.Request.Header,
			Query:     c.Request.URL.Query(),
			UserAgent: c.Request.UserAgent(),
			ClientIP:  c.ClientIP(),
		},
	})

	if result.Decision.Service != "" {
		c.Header(UpstreamServiceHeader, result.Decision.Service)
	}

	if result.Err != nil {
		if result.RetryAfterSeconds > 0 {
			response.Unavailable(c, result.Err, result.RetryAfterSeconds)
			return
		}
		response.Error(c, result.Err)
		return
	}

	relayHeaders(c, result.Header)
	contentType := result.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(result.Status, contentType, result.Body)
}

// relayHeaders copies upstream response headers onto the client response,
// skipping hop-by-hop fields and Content-Length (c.Data sets it).
func relayHeaders(c *gin.Context, header http.Header) {
	for key, values := range header {
		if skipRelayHeader(key) {
			continue
		}
		for _, v := range values {
			c.Writer.Header().Add(key, v)
		}
	}
}

func skipRelayHeader(key string) bool {
	switch {
	case strings.EqualFold(key, "Content-Length"),
		strings.EqualFold(key, "Content-Type"),
		strings.EqualFold(key, "Connection"),
		strings.EqualFold(key, "Keep-Alive"),
		strings.EqualFold(key, "Transfer-Encoding"),
		strings.EqualFold(key, "Upgrade"):
		return true
	}
	return false
}
