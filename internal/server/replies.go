package server

import (
	"context"
	"encoding/json"

	"github.com/alfredjeanlab/ailoop/internal/events"
	"github.com/alfredjeanlab/ailoop/internal/model"
)

// ConsumeReplies answers requests from payloads published on
// ailoop.replies.> until ctx is done. External responders (chat bridges,
// bots) use it instead of the HTTP API. Malformed or unanswerable replies are
// logged and skipped.
func (s *Server) ConsumeReplies(ctx context.Context, sub events.Subscriber) error {
	ch, cancel, err := sub.Subscribe(events.TopicReplies + ".>")
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			s.handleReply(ctx, data)
		}
	}
}

func (s *Server) handleReply(ctx context.Context, data []byte) {
	var r events.Reply
	if err := json.Unmarshal(data, &r); err != nil {
		s.logger.Warn("discarding malformed reply", "error", err)
		return
	}
	if r.RequestID == "" {
		s.logger.Warn("discarding reply without request_id")
		return
	}
	if _, err := s.Respond(ctx, r.RequestID, r.Answer, r.ResponseType, model.SenderHuman); err != nil {
		s.logger.Warn("failed to apply reply", "request_id", r.RequestID, "error", err)
	}
}
