package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/alfredjeanlab/ailoop/internal/model"
)

// sendMessageInput is a message as submitted by a client: the server assigns
// id and timestamp.
type sendMessageInput struct {
	Channel       string           `json:"channel"`
	SenderType    model.SenderType `json:"sender_type"`
	Content       model.Content    `json:"content"`
	CorrelationID string           `json:"correlation_id"`
	Metadata      map[string]any   `json:"metadata"`
}

func (in *sendMessageInput) message(defaultChannel string) *model.Message {
	if in.Channel == "" {
		in.Channel = defaultChannel
	}
	if in.SenderType == "" {
		in.SenderType = model.SenderAgent
	}
	msg := model.NewMessage(in.Channel, in.SenderType, in.Content)
	msg.CorrelationID = in.CorrelationID
	msg.Metadata = in.Metadata
	return msg
}

// handleSendMessage handles POST /api/v1/messages.
// Requests sent here are enqueued without waiting; see POST /api/v1/requests.
// Task operations are applied to the channel's task graph.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var in sendMessageInput
	if !decodeJSON(w, r, &in) {
		return
	}
	msg := in.message(s.defaultChannel)

	if IsTaskOperation(msg.Content.Type) {
		if err := model.ValidateMessage(msg); err != nil {
			s.writeErr(w, err)
			return
		}
		task, err := s.ApplyTaskMessage(r.Context(), msg)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"task": task})
		return
	}

	if err := s.Enqueue(r.Context(), msg); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// handleGetMessage handles GET /api/v1/messages/{id}.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.GetMessage(r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type respondInput struct {
	Answer       string             `json:"answer"`
	ResponseType model.ResponseType `json:"response_type"`
	SenderType   model.SenderType   `json:"sender_type"`
}

// handleRespond handles POST /api/v1/messages/{id}/response.
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var in respondInput
	if !decodeJSON(w, r, &in) {
		return
	}
	resp, err := s.Respond(r.Context(), r.PathValue("id"), in.Answer, in.ResponseType, in.SenderType)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCancelRequest handles POST /api/v1/messages/{id}/cancel.
func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.CancelRequest(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelled"})
}

type requestInput struct {
	Channel        string         `json:"channel"`
	Content        model.Content  `json:"content"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	Metadata       map[string]any `json:"metadata"`
}

// Outcomes of POST /api/v1/requests.
const (
	outcomeAnswered = "answered"
	outcomeTimeout  = "timeout"
	outcomeDenied   = "denied"
)

type requestResult struct {
	Request  *model.Message `json:"request"`
	Response *model.Message `json:"response,omitempty"`
	Outcome  string         `json:"outcome"`
}

// handleRequest handles POST /api/v1/requests: it enqueues a question,
// authorization or navigation and holds the HTTP request open until the
// response arrives or the timeout expires. A client disconnect cancels the
// request.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var in requestInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if !in.Content.Type.IsRequest() {
		writeError(w, http.StatusBadRequest, "content.type must be question, authorization or navigate")
		return
	}
	if in.TimeoutSeconds < 0 {
		writeError(w, http.StatusBadRequest, "timeout_seconds must not be negative")
		return
	}
	if in.Channel == "" {
		in.Channel = s.defaultChannel
	}
	if in.TimeoutSeconds > 0 {
		in.Content.TimeoutSeconds = in.TimeoutSeconds
	}
	req := model.NewMessage(in.Channel, model.SenderAgent, in.Content)
	req.Metadata = in.Metadata

	resp, err := s.AwaitResponse(r.Context(), req, time.Duration(in.TimeoutSeconds)*time.Second)
	var te *model.TimeoutError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, requestResult{Request: req, Response: resp, Outcome: outcomeAnswered})
	case errors.As(err, &te) && te.Default != nil:
		writeJSON(w, http.StatusOK, requestResult{Request: req, Response: te.Default, Outcome: outcomeDenied})
	case errors.As(err, &te):
		writeJSON(w, http.StatusOK, requestResult{Request: req, Outcome: outcomeTimeout})
	default:
		s.writeErr(w, err)
	}
}
