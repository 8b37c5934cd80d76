package models

// RateLimitSnapshot is a point-in-time view of one service's request window
// for the admin API.
type RateLimitSnapshot struct {
	Service     string `json:"service"`
	MaxRequests int    `json:"max_requests"`
	Window      string `json:"window"`
	InWindow    int    `json:"in_window"`
}
