package server

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/ailoop/internal/events"
	"github.com/alfredjeanlab/ailoop/internal/model"
	"github.com/alfredjeanlab/ailoop/internal/taskgraph"
)

// Task operations. Each successful mutation enqueues a SYSTEM lifecycle
// message into the task's channel so viewers see the graph change, and
// records an audit event.

// CreateTask adds a task to a channel's graph.
func (s *Server) CreateTask(ctx context.Context, channel string, p taskgraph.CreateParams) (*model.Task, error) {
	if channel == "" {
		channel = s.defaultChannel
	}
	t, err := s.graphs.Create(channel, p)
	s.metrics.TaskOp("create", err)
	if err != nil {
		return nil, err
	}
	s.lifecycle(ctx, channel, model.Content{Type: model.ContentTaskCreate, Task: t})
	s.recordAndPublish(ctx, events.TopicTaskCreated, channel, t.ID, "", events.TaskCreated{Task: t})
	return t, nil
}

// GetTask returns a task by id. When channel is set the task must belong to it.
func (s *Server) GetTask(channel, id string) (*model.Task, error) {
	g, err := s.taskGraph(channel, id)
	if err != nil {
		return nil, err
	}
	return g.Get(id)
}

// ListTasks returns the tasks of one channel, or of every channel when
// channel is empty.
func (s *Server) ListTasks(channel string, f model.TaskFilter) ([]*model.Task, error) {
	if channel != "" {
		g, err := s.graphs.Channel(channel)
		if err != nil {
			return nil, err
		}
		return g.List(f), nil
	}
	var out []*model.Task
	for _, name := range s.graphs.Channels() {
		g, err := s.graphs.Channel(name)
		if err != nil {
			return nil, err
		}
		out = append(out, g.List(f)...)
		if f.Limit > 0 && len(out) >= f.Limit {
			return out[:f.Limit], nil
		}
	}
	return out, nil
}

// UpdateTask applies a partial update.
func (s *Server) UpdateTask(ctx context.Context, id string, p taskgraph.UpdateParams) (*model.Task, error) {
	g, err := s.graphs.Find(id)
	if err != nil {
		s.metrics.TaskOp("update", err)
		return nil, err
	}
	t, err := g.Update(id, p)
	s.metrics.TaskOp("update", err)
	if err != nil {
		return nil, err
	}

	changes := make(map[string]any)
	if p.Title != nil {
		changes["title"] = t.Title
	}
	if p.Description != nil {
		changes["description"] = t.Description
	}
	if p.Assignee != nil {
		changes["assignee"] = t.Assignee
	}
	if p.State != nil {
		changes["state"] = t.State
	}
	updated := t.UpdatedAt
	s.lifecycle(ctx, t.Channel, model.Content{
		Type:      model.ContentTaskUpdate,
		TaskID:    t.ID,
		State:     t.State,
		UpdatedAt: &updated,
	})
	s.recordAndPublish(ctx, events.TopicTaskUpdated, t.Channel, t.ID, "", events.TaskUpdated{Task: t, Changes: changes})
	return t, nil
}

// AddDependency makes taskID depend on dependsOn. Both tasks must be in the
// same channel.
func (s *Server) AddDependency(ctx context.Context, taskID, dependsOn string, typ model.DependencyType) (*model.Task, error) {
	if typ == "" {
		typ = model.DepBlocks
	}
	g, err := s.graphs.Find(taskID)
	if err != nil {
		err = fmt.Errorf("task %s: %w", taskID, model.ErrDependencyNotFound)
		s.metrics.TaskOp("add_dependency", err)
		return nil, err
	}
	err = g.AddDependency(taskID, dependsOn, typ)
	s.metrics.TaskOp("add_dependency", err)
	if err != nil {
		return nil, err
	}

	ch := g.Channel()
	now := time.Now().UTC()
	s.lifecycle(ctx, ch, model.Content{
		Type:           model.ContentTaskDependencyAdd,
		TaskID:         taskID,
		DependsOn:      dependsOn,
		DependencyType: typ,
		Timestamp:      &now,
	})
	s.recordAndPublish(ctx, events.TopicDependencyAdded, ch, taskID, "", events.DependencyAdded{
		TaskID:    taskID,
		DependsOn: dependsOn,
		Type:      typ,
	})
	return g.Get(taskID)
}

// RemoveDependency deletes the edge from taskID to dependsOn.
func (s *Server) RemoveDependency(ctx context.Context, taskID, dependsOn string) (*model.Task, error) {
	g, err := s.graphs.Find(taskID)
	if err != nil {
		err = fmt.Errorf("task %s: %w", taskID, model.ErrDependencyNotFound)
		s.metrics.TaskOp("remove_dependency", err)
		return nil, err
	}
	err = g.RemoveDependency(taskID, dependsOn)
	s.metrics.TaskOp("remove_dependency", err)
	if err != nil {
		return nil, err
	}

	ch := g.Channel()
	now := time.Now().UTC()
	s.lifecycle(ctx, ch, model.Content{
		Type:      model.ContentTaskDependencyRemove,
		TaskID:    taskID,
		DependsOn: dependsOn,
		Timestamp: &now,
	})
	s.recordAndPublish(ctx, events.TopicDependencyRemoved, ch, taskID, "", events.DependencyRemoved{
		TaskID:    taskID,
		DependsOn: dependsOn,
	})
	return g.Get(taskID)
}

// ReadyTasks returns the ready tasks of a channel.
func (s *Server) ReadyTasks(channel string, f model.TaskFilter) ([]*model.Task, error) {
	if channel == "" {
		channel = s.defaultChannel
	}
	g, err := s.graphs.Channel(channel)
	if err != nil {
		return nil, err
	}
	return g.Ready(f), nil
}

// BlockedTasks returns the blocked tasks of a channel.
func (s *Server) BlockedTasks(channel string, f model.TaskFilter) ([]*model.Task, error) {
	if channel == "" {
		channel = s.defaultChannel
	}
	g, err := s.graphs.Channel(channel)
	if err != nil {
		return nil, err
	}
	return g.Blocked(f), nil
}

// TaskRelations returns a task with its direct parents and children.
func (s *Server) TaskRelations(channel, id string) (*model.TaskGraph, error) {
	g, err := s.taskGraph(channel, id)
	if err != nil {
		return nil, err
	}
	return g.Relations(id)
}

// ApplyTaskMessage performs the graph operation an agent described with a
// task lifecycle message. The resulting SYSTEM message is what lands in the
// channel; the agent's own message is not enqueued.
func (s *Server) ApplyTaskMessage(ctx context.Context, msg *model.Message) (*model.Task, error) {
	c := msg.Content
	switch c.Type {
	case model.ContentTaskCreate:
		if c.Task == nil {
			return nil, inputError("task_create requires a task")
		}
		return s.CreateTask(ctx, msg.Channel, taskgraph.CreateParams{
			Title:       c.Task.Title,
			Description: c.Task.Description,
			Assignee:    c.Task.Assignee,
			Metadata:    c.Task.Metadata,
		})
	case model.ContentTaskUpdate:
		state := c.State
		return s.UpdateTask(ctx, c.TaskID, taskgraph.UpdateParams{State: &state})
	case model.ContentTaskDependencyAdd:
		return s.AddDependency(ctx, c.TaskID, c.DependsOn, c.DependencyType)
	case model.ContentTaskDependencyRemove:
		return s.RemoveDependency(ctx, c.TaskID, c.DependsOn)
	}
	return nil, inputError(fmt.Sprintf("%s is not a task operation", c.Type))
}

// IsTaskOperation reports whether messages of type t mutate the task graph.
func IsTaskOperation(t model.ContentType) bool {
	switch t {
	case model.ContentTaskCreate, model.ContentTaskUpdate,
		model.ContentTaskDependencyAdd, model.ContentTaskDependencyRemove:
		return true
	}
	return false
}

// taskGraph finds the graph owning id, checking it against channel when set.
func (s *Server) taskGraph(channel, id string) (*taskgraph.Graph, error) {
	g, err := s.graphs.Find(id)
	if err != nil {
		return nil, err
	}
	if channel != "" && g.Channel() != channel {
		return nil, fmt.Errorf("task %s in channel %s: %w", id, channel, model.ErrNotFound)
	}
	return g, nil
}

// lifecycle enqueues a SYSTEM message describing a graph change. The change
// has already happened, so failures are logged rather than returned.
func (s *Server) lifecycle(ctx context.Context, channel string, content model.Content) {
	msg := model.NewMessage(channel, model.SenderSystem, content)
	if err := s.Enqueue(ctx, msg); err != nil {
		s.logger.Warn("failed to enqueue task lifecycle message",
			"channel", channel, "type", content.Type, "error", err)
	}
}
