package model

// TaskGraph is one level of a task's relations.
type TaskGraph struct {
	Task     *Task   `json:"task"`
	Parents  []*Task `json:"parents"`
	Children []*Task `json:"children"`
}

// ChannelStats summarizes a channel's history.
type ChannelStats struct {
	Channel      string   `json:"channel"`
	MessageCount int      `json:"message_count"`
	Capacity     int      `json:"capacity"`
	Subscribers  int      `json:"subscribers"`
	Oldest       *Message `json:"oldest,omitempty"`
	Newest       *Message `json:"newest,omitempty"`
}

// BroadcastStats summarizes live connections.
type BroadcastStats struct {
	TotalConnections  int `json:"total_connections"`
	AgentConnections  int `json:"agent_connections"`
	ViewerConnections int `json:"viewer_connections"`
	ActiveChannels    int `json:"active_channels"`
}
