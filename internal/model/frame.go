package model

import "encoding/json"

// FrameType discriminates WebSocket frames.
type FrameType string

// Client to server.
const (
	FrameSubscribe    FrameType = "subscribe"
	FrameUnsubscribe  FrameType = "unsubscribe"
	FrameListChannels FrameType = "list_channels"
	FramePing         FrameType = "ping"
)

// Server to client. FrameMessage is also sent by agents to enqueue a message.
const (
	FrameConnected FrameType = "connected"
	FrameMessage   FrameType = "message"
	FrameChannels  FrameType = "channels"
	FrameAck       FrameType = "ack"
	FrameError     FrameType = "error"
	FramePong      FrameType = "pong"
)

// Frame is one JSON text frame on the WebSocket. Type selects which of the
// other fields are set.
type Frame struct {
	Type     FrameType `json:"type"`
	ClientID string    `json:"client_id,omitempty"`
	Role     string    `json:"role,omitempty"`
	Channels []string  `json:"channels,omitempty"`
	Message  *Message  `json:"message,omitempty"`
	ID       string    `json:"id,omitempty"` // ack and error: the message the frame refers to
	Error    string    `json:"error,omitempty"`
}

// MarshalJSON always writes the channels field of a channels frame, so an
// empty subscription reads as "channels":[] rather than a missing field.
func (f Frame) MarshalJSON() ([]byte, error) {
	type plain Frame
	if f.Type != FrameChannels {
		return json.Marshal(plain(f))
	}
	channels := f.Channels
	if channels == nil {
		channels = []string{}
	}
	return json.Marshal(struct {
		plain
		Channels []string `json:"channels"`
	}{plain(f), channels})
}
