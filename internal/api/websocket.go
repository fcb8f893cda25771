// File: internal/api/websocket.go
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/internal/agent"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer. Only the run request is read.
	maxMessageSize = 8192
	// Time allowed for the client to send its run request.
	requestWait = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Access is controlled by bearer auth, not by origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsError is sent before closing when the run request is rejected.
type wsError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// handleRunWebSocket reads one run request from the client, then streams the
// session's events and closes after the final event. Closing the socket cancels the
// session.
func (s *Server) handleRunWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Debug("WebSocket upgrade failed.", zap.Error(err))
		return
	}
	defer conn.Close()
	logger := s.logger.With(zap.String("request_id", middleware.GetReqID(r.Context())))

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(requestWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		logger.Debug("WebSocket closed before a run request arrived.", zap.Error(err))
		return
	}

	var req agent.RunRequest
	if err := jsonAPI.Unmarshal(raw, &req); err != nil {
		s.closeWithError(conn, websocket.CloseUnsupportedData, "run request is not valid JSON")
		return
	}
	if req, err = req.Normalize(s.cfg.DefaultStartURL); err != nil {
		s.closeWithError(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sink := agent.NewChannelSink(streamBuffer)
	sess, err := s.sessions.Start(ctx, req, agent.RunOptions{
		Mode:        agent.Incremental,
		Sink:        sink,
		Screenshots: queryBool(r, "screenshots", s.cfg.StreamScreenshots),
	})
	if err != nil {
		s.closeWithError(conn, websocket.CloseTryAgainLater, err.Error())
		return
	}
	logger = logger.With(zap.String("session_id", sess.ID))
	logger.Info("Streaming session over WebSocket.")

	// The read side only watches for the client going away and answers pings.
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Info("WebSocket closed unexpectedly.", zap.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	pingCtx, stopPings := context.WithCancel(ctx)
	defer stopPings()
	pingErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					pingErr <- err
					cancel()
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	err = pumpEvents(ctx, sink, sess.Done(), func(ev agent.Event) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return writeJSONMessage(conn, ev)
	})
	stopPings()
	if err != nil {
		logger.Info("WebSocket stream ended early.", zap.Error(err))
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"),
		time.Now().Add(writeWait))
	select {
	case err := <-pingErr:
		logger.Debug("Ping failed during stream.", zap.Error(err))
	default:
	}
}

func (s *Server) closeWithError(conn *websocket.Conn, code int, msg string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = writeJSONMessage(conn, wsError{Type: "error", Error: msg})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, truncateReason(msg)), time.Now().Add(writeWait))
}

// truncateReason keeps a close reason within the 123 bytes a control frame allows.
func truncateReason(msg string) string {
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}

func writeJSONMessage(conn *websocket.Conn, v interface{}) error {
	data, err := jsonAPI.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
