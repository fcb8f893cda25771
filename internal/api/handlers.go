// File: internal/api/handlers.go
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/internal/agent"
)

// maxRequestBody caps run request bodies.
const maxRequestBody = 64 << 10

const (
	// streamBuffer is the per-stream event channel capacity.
	streamBuffer = 16
	// finalGrace is how long a stream waits for the final event once the session
	// has ended.
	finalGrace = 5 * time.Second
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, HealthResponse{Status: "ok", Model: s.sessions.Model()})
}

// decodeRunRequest reads and validates a run request body.
func (s *Server) decodeRunRequest(r *http.Request) (agent.RunRequest, error) {
	var req agent.RunRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return req, fmt.Errorf("%w: %v", agent.ErrInvalidRequest, err)
	}
	if err := jsonAPI.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("%w: body is not a JSON run request: %v", agent.ErrInvalidRequest, err)
	}
	return req.Normalize(s.cfg.DefaultStartURL)
}

// startStatus maps a session start failure to an HTTP status.
func startStatus(err error) int {
	switch {
	case errors.Is(err, agent.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, agent.ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, agent.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryBool(r *http.Request, name string, def bool) bool {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// handleRunStream runs a session and streams one SSE event per recorded step and a
// final event. The session is cancelled if the client goes away.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeRunRequest(r)
	if err != nil {
		respondError(w, r, startStatus(err), err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sink := agent.NewChannelSink(streamBuffer)
	sess, err := s.sessions.Start(r.Context(), req, agent.RunOptions{
		Mode:        agent.Incremental,
		Sink:        sink,
		Screenshots: queryBool(r, "screenshots", s.cfg.StreamScreenshots),
	})
	if err != nil {
		respondError(w, r, startStatus(err), err.Error())
		return
	}
	logger := s.logger.With(zap.String("session_id", sess.ID), zap.String("request_id", middleware.GetReqID(r.Context())))
	logger.Info("Streaming session over SSE.")

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Session-ID", sess.ID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err = pumpEvents(r.Context(), sink, sess.Done(), func(ev agent.Event) error {
		if err := writeSSE(w, ev); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		logger.Info("SSE stream ended early.", zap.Error(err))
	}
}

// writeSSE writes one event in text/event-stream framing.
func writeSSE(w io.Writer, ev agent.Event) error {
	data, err := jsonAPI.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// pumpEvents forwards events from sink to write until the final event, the end of
// the session, or ctx is done. Events still buffered when the session ends are
// delivered first.
func pumpEvents(ctx context.Context, sink *agent.ChannelSink, sessionDone <-chan struct{}, write func(agent.Event) error) error {
	for {
		select {
		case ev := <-sink.Events():
			if err := write(ev); err != nil {
				return err
			}
			if ev.Type == agent.EventFinal {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-sessionDone:
			// The final event is sent after the status is published.
			grace := time.NewTimer(finalGrace)
			defer grace.Stop()
			for {
				select {
				case ev := <-sink.Events():
					if err := write(ev); err != nil {
						return err
					}
					if ev.Type == agent.EventFinal {
						return nil
					}
				case <-grace.C:
					return errors.New("session ended without a final event")
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// handleRunFull runs a session to completion and returns every step with its
// screenshot in one response, compressed when the client allows it.
func (s *Server) handleRunFull(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeRunRequest(r)
	if err != nil {
		respondError(w, r, startStatus(err), err.Error())
		return
	}

	sink := &agent.CollectorSink{}
	final, err := s.sessions.Run(r.Context(), req, agent.RunOptions{Mode: agent.Batched, Sink: sink, Screenshots: true})
	if err != nil {
		respondError(w, r, startStatus(err), err.Error())
		return
	}

	resp := FullRunResponse{
		SessionID:     final.ID,
		Goal:          final.Goal,
		Status:        final.Status,
		Summary:       final.Summary,
		FailureReason: final.FailureReason,
		Steps:         make([]*agent.StepEvent, 0, len(final.Steps)),
		TotalSteps:    len(final.Steps),
	}
	for _, ev := range sink.Events() {
		if ev.Type == agent.EventStep {
			resp.Steps = append(resp.Steps, ev.Step)
		}
	}
	if len(resp.Steps) != len(final.Steps) {
		// The final flush did not complete; fall back to the session record.
		resp.Steps = resp.Steps[:0]
		for _, step := range final.Steps {
			resp.Steps = append(resp.Steps, agent.NewStepEvent(step, true))
		}
	}

	body, err := jsonAPI.Marshal(resp)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Session-ID", final.ID)
	cw := compressedWriter(w, negotiateEncoding(r.Header.Get("Accept-Encoding")))
	w.WriteHeader(http.StatusOK)
	if _, err := cw.Write(body); err != nil {
		s.logger.Debug("Failed to write full response.", zap.Error(err))
	}
	if err := cw.Close(); err != nil {
		s.logger.Debug("Failed to finish compressed response.", zap.Error(err))
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, r, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, r, http.StatusOK, newSessionView(snap, queryBool(r, "screenshots", false)))
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.sessions.Cancel(id); err != nil {
		respondError(w, r, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Info("Session cancellation requested.", zap.String("session_id", id))
	respondJSON(w, r, http.StatusAccepted, CancelResponse{SessionID: id, Status: "cancelling"})
}

func newSessionView(snap *agent.Session, screenshots bool) SessionView {
	v := SessionView{
		ID:            snap.ID,
		Goal:          snap.Goal,
		StartURL:      snap.StartURL,
		Status:        snap.Status,
		Summary:       snap.Summary,
		FailureReason: snap.FailureReason,
		Steps:         make([]*agent.StepEvent, 0, len(snap.Steps)),
		TotalSteps:    len(snap.Steps),
		CreatedAt:     snap.CreatedAt,
	}
	if !snap.FinishedAt.IsZero() {
		t := snap.FinishedAt
		v.FinishedAt = &t
	}
	for _, step := range snap.Steps {
		v.Steps = append(v.Steps, agent.NewStepEvent(step, screenshots))
	}
	return v
}

// respondJSON writes v as the JSON response body.
func respondJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	body, err := jsonAPI.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// respondError writes a JSON error body carrying the request ID.
func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	respondJSON(w, r, status, ErrorResponse{Error: message, RequestID: middleware.GetReqID(r.Context())})
}
