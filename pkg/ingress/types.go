package ingress

import (
	"context"
	"time"

	"github.com/harun/trackq/internal/metrics"
	"github.com/harun/trackq/pkg/commandqueue"
	"github.com/rs/zerolog"
)

// Pusher accepts calls for dispatch. *commandqueue.Proxy satisfies it.
type Pusher interface {
	PushContext(ctx context.Context, calls ...commandqueue.Call)
}

// Header names understood by the push endpoint.
const (
	SignatureHeader = "X-Trackq-Signature"
	RequestIDHeader = "X-Request-Id"
)

// ServerOptions configures the ingress server.
//
// Secret enables HMAC verification of push bodies. RateLimit is the number
// of requests one client IP may make per RateWindow; zero disables it.
// DedupTTL bounds how long a request id is remembered.
type ServerOptions struct {
	Host            string
	Port            int
	Secret          string
	RateLimit       int
	RateWindow      time.Duration
	DedupTTL        time.Duration
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
	WebSocket       bool

	Pusher  Pusher
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// PushResponse is the body returned for an accepted push.
type PushResponse struct {
	Accepted  int    `json:"accepted"`
	Duplicate bool   `json:"duplicate,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ErrorResponse is the body returned for a rejected push.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string  `json:"status"`
	Uptime      float64 `json:"uptime"`
	Connections int     `json:"connections"`
	Timestamp   int64   `json:"timestamp"`
}
