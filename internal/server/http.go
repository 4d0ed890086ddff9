package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alfredjeanlab/ailoop/internal/hub"
	"github.com/alfredjeanlab/ailoop/internal/model"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
func (s *Server) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/messages", s.handleSendMessage)
	mux.HandleFunc("GET /api/v1/messages/{id}", s.handleGetMessage)
	mux.HandleFunc("POST /api/v1/messages/{id}/response", s.handleRespond)
	mux.HandleFunc("POST /api/v1/messages/{id}/cancel", s.handleCancelRequest)
	mux.HandleFunc("POST /api/v1/requests", s.handleRequest)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/channels", s.handleListChannels)
	mux.HandleFunc("GET /api/v1/channels/{name}/messages", s.handleChannelHistory)
	mux.HandleFunc("GET /api/v1/channels/{name}/stats", s.handleChannelStats)
	mux.HandleFunc("POST /api/v1/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/v1/tasks/ready", s.handleReadyTasks)
	mux.HandleFunc("GET /api/v1/tasks/blocked", s.handleBlockedTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("PUT /api/v1/tasks/{id}", s.handleUpdateTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/dependencies", s.handleAddDependency)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}/dependencies/{parent_id}", s.handleRemoveDependency)
	mux.HandleFunc("GET /api/v1/tasks/{id}/graph", s.handleTaskGraph)
	mux.HandleFunc("GET /api/v1/events", s.handleListEvents)
	mux.HandleFunc("GET /api/v1/events/stream", s.handleEventStream)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return s.metrics.Instrument(RecoveryMiddleware(LoggingMiddleware(s.logger, mux)))
}

// handleHealth handles GET /api/v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Health())
}

// handleStats handles GET /api/v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.BroadcastStats())
}

// handleListEvents handles GET /api/v1/events.
// Query: channel, topic (prefix), subject_id, after_id, limit.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.EventFilter{
		Channel:   q.Get("channel"),
		Topic:     q.Get("topic"),
		SubjectID: q.Get("subject_id"),
		Limit:     queryInt(q.Get("limit")),
	}
	if v := q.Get("after_id"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.AfterID = n
		}
	}
	evts, err := s.ListEvents(r.Context(), f)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if evts == nil {
		evts = []*model.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": evts,
		"total":  len(evts),
	})
}

// errorStatus maps an error to an HTTP status code.
func errorStatus(err error) int {
	var ie inputError
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ie), errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrDependencyNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrCycleDetected),
		errors.Is(err, model.ErrDuplicateDependency),
		errors.Is(err, model.ErrDuplicateAuthorization):
		return http.StatusConflict
	case errors.Is(err, model.ErrTimeout), errors.Is(err, model.ErrCancelled):
		return http.StatusRequestTimeout
	case errors.Is(err, hub.ErrTooManyConnections):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeErr writes err with the status errorStatus picks. Server-side
// failures are logged; their text is not sent to the client.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	code := errorStatus(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		writeError(w, code, "internal server error")
		return
	}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, code, map[string]any{"error": ve.Error(), "fields": ve.Errors})
		return
	}
	writeError(w, code, err.Error())
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func queryInt(v string) int {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
