package server

import (
	"net/http"

	"github.com/alfredjeanlab/ailoop/internal/model"
)

// handleListChannels handles GET /api/v1/channels.
func (s *Server) handleListChannels(w http.ResponseWriter, _ *http.Request) {
	channels := s.Channels()
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": channels,
		"total":    len(channels),
	})
}

// handleChannelHistory handles GET /api/v1/channels/{name}/messages.
func (s *Server) handleChannelHistory(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	msgs, err := s.History(name, queryInt(r.URL.Query().Get("limit")))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel":  name,
		"messages": msgs,
		"total":    len(msgs),
	})
}

// handleChannelStats handles GET /api/v1/channels/{name}/stats.
func (s *Server) handleChannelStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.ChannelStats(r.PathValue("name"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
