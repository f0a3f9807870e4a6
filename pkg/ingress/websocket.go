package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/trackq/internal/tracing"
	"github.com/harun/trackq/pkg/buffer"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.enter(&s.connWG) {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		s.connWG.Done()
		return
	}

	connID, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate connection id")
		conn.Close()
		s.connWG.Done()
		return
	}

	ip := clientIP(r)
	s.addConnection(connID, conn)
	if s.shuttingDown() {
		// closeConnections may have taken its snapshot before the add
		conn.Close()
	}

	s.logger.Info().
		Str("connId", connID).
		Str("ip", ip).
		Msg("Client connected")

	go s.readLoop(connID, ip, conn)
}

// readLoop treats every text frame as one descriptor array and answers each
// with an accepted count or an error.
func (s *Server) readLoop(connID string, ip string, conn *websocket.Conn) {
	defer func() {
		conn.Close()
		s.removeConnection(connID)
		s.connWG.Done()
		s.logger.Info().Str("connId", connID).Msg("Client disconnected")
	}()

	logger := s.logger.With().Str("connId", connID).Str("transport", "ws").Logger()

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error().Err(err).Msg("WebSocket error")
			}
			return
		}

		if msgType != websocket.TextMessage {
			s.options.Metrics.RecordIngress("ws", "invalid", 0)
			s.writeFrame(conn, ErrorResponse{Error: "text frames only"})
			continue
		}

		if !s.rateLimiter.Allow(ip) {
			s.options.Metrics.RecordIngress("ws", "rate_limited", 0)
			s.writeFrame(conn, ErrorResponse{Error: "too many requests"})
			continue
		}

		calls, err := buffer.Parse(message)
		if err != nil {
			logger.Warn().Err(err).Msg("Rejected frame")
			s.options.Metrics.RecordIngress("ws", "invalid", 0)
			s.writeFrame(conn, ErrorResponse{Error: err.Error()})
			continue
		}

		ctx := tracing.WithRequestID(tracing.NewPushContext(context.Background(), "ws"), connID)
		s.push(ctx, calls)

		s.options.Metrics.RecordIngress("ws", "accepted", len(calls))
		s.writeFrame(conn, PushResponse{Accepted: len(calls)})
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write frame")
	}
}

func (s *Server) addConnection(id string, conn *websocket.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[id] = conn
}

func (s *Server) removeConnection(id string) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, id)
}

func (s *Server) connectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

// closeConnections sends a close frame to every client and waits for their
// read loops to exit.
func (s *Server) closeConnections() {
	s.connsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.connsMu.Unlock()

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		conn.Close()
	}

	s.connWG.Wait()
}
