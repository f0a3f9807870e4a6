package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/trackq/internal/tracing"
	"github.com/harun/trackq/pkg/buffer"
	"github.com/harun/trackq/pkg/commandqueue"
	"github.com/rs/zerolog"
)

// Server accepts call descriptors over HTTP and WebSocket and pushes them
// into the proxy.
type Server struct {
	options     ServerOptions
	server      *http.Server
	listener    net.Listener
	rateLimiter *RateLimiter
	dedup       *dedupCache
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
	startTime   time.Time

	conns   map[string]*websocket.Conn
	connsMu sync.Mutex
	connWG  sync.WaitGroup

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
	stopOnce       sync.Once
}

// NewServer creates an ingress server. It does not listen until Start.
func NewServer(options ServerOptions) (*Server, error) {
	if options.Pusher == nil {
		return nil, fmt.Errorf("pusher is required")
	}
	if options.Host == "" {
		options.Host = "127.0.0.1"
	}
	if options.RateWindow <= 0 {
		options.RateWindow = time.Minute
	}
	if options.MaxBodyBytes <= 0 {
		options.MaxBodyBytes = 1 << 20
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = 10 * time.Second
	}

	return &Server{
		options:     options,
		rateLimiter: NewRateLimiter(options.RateLimit, options.RateWindow),
		dedup:       newDedupCache(context.Background(), options.DedupTTL),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:    options.Logger.With().Str("component", "ingress").Logger(),
		startTime: time.Now(),
		conns:     make(map[string]*websocket.Conn),
	}, nil
}

// Handler returns the routes served by the ingress.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/push", s.handlePush)
	mux.HandleFunc("/health", s.handleHealth)
	if s.options.WebSocket {
		mux.HandleFunc("/ws", s.handleWebSocket)
	}
	if s.options.Metrics != nil {
		mux.Handle("/metrics", s.options.Metrics.Handler())
	}
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.options.Host, strconv.Itoa(s.options.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start ingress server: %w", err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Bool("websocket", s.options.WebSocket).
		Bool("signed", s.options.Secret != "").
		Msg("Starting ingress server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Ingress server failed")
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop rejects new requests, waits for in-flight pushes, closes WebSocket
// connections and shuts the listener down.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		err = s.stop()
	})
	return err
}

func (s *Server) stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down ingress server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.options.ShutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.closeConnections()
	s.rateLimiter.Stop()
	s.dedup.stop()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown ingress server: %w", err)
	}

	s.logger.Info().Msg("Ingress server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// enter adds one to wg unless shutdown has begun. The check and the Add
// happen under the same read lock, so stop never waits on a group that is
// still growing.
func (s *Server) enter(wg *sync.WaitGroup) bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	if s.isShuttingDown {
		return false
	}
	wg.Add(1)
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := "ok"
	if s.shuttingDown() {
		status = "shutting_down"
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      status,
		Uptime:      time.Since(s.startTime).Seconds(),
		Connections: s.connectionCount(),
		Timestamp:   time.Now().UnixMilli(),
	})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.enter(&s.inFlightReqs) {
		s.reject(w, http.StatusServiceUnavailable, "unavailable", "server is shutting down")
		return
	}
	defer s.inFlightReqs.Done()

	ip := clientIP(r)
	logger := s.logger.With().Str("ip", ip).Str("transport", "http").Logger()

	if !s.rateLimiter.Allow(ip) {
		retryAfter := s.rateLimiter.RetryAfter(ip)
		logger.Warn().Int("retryAfter", retryAfter).Msg("Rate limit exceeded")
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.reject(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.options.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.reject(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
			return
		}
		logger.Error().Err(err).Msg("Failed to read request body")
		s.reject(w, http.StatusBadRequest, "invalid", "failed to read body")
		return
	}

	if s.options.Secret != "" {
		signature := r.Header.Get(SignatureHeader)
		if signature == "" || !verifySignature(body, signature, s.options.Secret) {
			logger.Warn().Bool("missing", signature == "").Msg("Invalid push signature")
			s.reject(w, http.StatusUnauthorized, "unauthorized", "invalid signature")
			return
		}
	}

	calls, err := buffer.Parse(body)
	if err != nil {
		logger.Warn().Err(err).Msg("Rejected push body")
		s.reject(w, http.StatusBadRequest, "invalid", err.Error())
		return
	}

	requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
	if requestID != "" {
		if accepted, fresh := s.dedup.claim(requestID, len(calls)); !fresh {
			logger.Debug().Str("requestId", requestID).Msg("Duplicate push ignored")
			s.options.Metrics.RecordIngress("http", "duplicate", 0)
			writeJSON(w, http.StatusAccepted, PushResponse{Accepted: accepted, Duplicate: true, RequestID: requestID})
			return
		}
	}

	ctx := tracing.NewPushContext(tracing.Detach(r.Context()), "http")
	if requestID != "" {
		ctx = tracing.WithRequestID(ctx, requestID)
	}
	s.push(ctx, calls)

	logger.Debug().Int("calls", len(calls)).Str("requestId", requestID).Msg("Push accepted")
	s.options.Metrics.RecordIngress("http", "accepted", len(calls))
	writeJSON(w, http.StatusAccepted, PushResponse{Accepted: len(calls), RequestID: requestID})
}

func (s *Server) push(ctx context.Context, calls []commandqueue.Call) {
	s.options.Pusher.PushContext(ctx, calls...)
}

func (s *Server) reject(w http.ResponseWriter, status int, reason string, msg string) {
	s.options.Metrics.RecordIngress("http", reason, 0)
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// clientIP prefers proxy headers over the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
