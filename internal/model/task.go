package model

import "time"

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskDone      TaskState = "done"
	TaskAbandoned TaskState = "abandoned"
)

// IsValid reports whether s is a known task state.
func (s TaskState) IsValid() bool {
	switch s {
	case TaskPending, TaskDone, TaskAbandoned:
		return true
	}
	return false
}

// IsTerminal reports whether no further work is expected on a task in state s.
func (s TaskState) IsTerminal() bool {
	return s == TaskDone || s == TaskAbandoned
}

// Task is a unit of work tracked in a channel's task graph. BlockingFor and
// Blocked are derived by the graph and ignored on input.
type Task struct {
	ID          string         `json:"id"`
	Channel     string         `json:"channel"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	State       TaskState      `json:"state"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Assignee    string         `json:"assignee,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	DependsOn   []Dependency   `json:"depends_on"`
	BlockingFor []string       `json:"blocking_for"`
	Blocked     bool           `json:"blocked"`
}

// Clone returns a copy of t that shares no slices or maps with it.
func (t *Task) Clone() *Task {
	c := *t
	c.DependsOn = append([]Dependency(nil), t.DependsOn...)
	c.BlockingFor = append([]string(nil), t.BlockingFor...)
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	if c.DependsOn == nil {
		c.DependsOn = []Dependency{}
	}
	if c.BlockingFor == nil {
		c.BlockingFor = []string{}
	}
	return &c
}

// IsReady reports whether t can be worked on now.
func (t *Task) IsReady() bool {
	return !t.Blocked && !t.State.IsTerminal()
}
