package service

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// Forwarder sends a request to a concrete backend URL and returns the raw
// response. Implementations must honor ctx cancellation and deadlines.
type Forwarder interface {
	Forward(ctx context.Context, req ForwardRequest) (*ForwardResponse, error)
}

// ForwardRequest carries everything needed to replay an inbound request
// against an upstream backend.
type ForwardRequest struct {
	Method    string
	TargetURL string
	Path      string
	RawQuery  string
	Header    http.Header
	Body      []byte
	ClientIP  string
}

// ForwardResponse is the upstream reply, fully buffered.
type ForwardResponse struct {
	Status   int
	Header   http.Header
	Body     []byte
	Duration time.Duration
}

// hopByHopHeaders never cross a proxy boundary.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// HTTPForwarder is the production Forwarder backed by a shared http.Client.
// Per-call deadlines come from the caller's context, not the client.
type HTTPForwarder struct {
	client *http.Client
}

// NewHTTPForwarder builds a forwarder around a pooled HTTP client. The client
// carries no timeout of its own so breaker call deadlines stay authoritative.
func NewHTTPForwarder() *HTTPForwarder {
	return &HTTPForwarder{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Forward replays the request against the target backend and buffers the
// response body so callers can relay it after accounting.
func (f *HTTPForwarder) Forward(ctx context.Context, req ForwardRequest) (*ForwardResponse, error) {
	target := strings.TrimRight(req.TargetURL, "/") + req.Path
	if req.RawQuery != "" {
		target += "?" + req.RawQuery
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	outbound, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}

	copyProxyHeaders(outbound.Header, req.Header)
	if req.ClientIP != "" {
		appendForwardedFor(outbound.Header, req.ClientIP)
	}

	started := time.Now()
	resp, err := f.client.Do(outbound)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &ForwardResponse{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     payload,
		Duration: time.Since(started),
	}, nil
}

func copyProxyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHop(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isHopByHop(key string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	return false
}

// appendForwardedFor extends the X-Forwarded-For chain with the direct
// client address.
func appendForwardedFor(header http.Header, clientIP string) {
	if prior := header.Get("X-Forwarded-For"); prior != "" {
		header.Set("X-Forwarded-For", prior+", "+clientIP)
		return
	}
	header.Set("X-Forwarded-For", clientIP)
}
