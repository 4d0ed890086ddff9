package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/alfredjeanlab/ailoop/internal/model"
	"github.com/alfredjeanlab/ailoop/internal/taskgraph"
)

type createTaskInput struct {
	Channel     string         `json:"channel"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Assignee    string         `json:"assignee"`
	Metadata    map[string]any `json:"metadata"`
}

// handleCreateTask handles POST /api/v1/tasks.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in createTaskInput
	if !decodeJSON(w, r, &in) {
		return
	}
	task, err := s.CreateTask(r.Context(), in.Channel, taskgraph.CreateParams{
		Title:       in.Title,
		Description: in.Description,
		Assignee:    in.Assignee,
		Metadata:    in.Metadata,
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// taskFilter reads state, assignee and limit query parameters.
func taskFilter(q url.Values) model.TaskFilter {
	f := model.TaskFilter{
		Assignee: q.Get("assignee"),
		Limit:    queryInt(q.Get("limit")),
	}
	if v := q.Get("state"); v != "" {
		for _, st := range strings.Split(v, ",") {
			f.State = append(f.State, model.TaskState(st))
		}
	}
	return f
}

func writeTasks(w http.ResponseWriter, tasks []*model.Task) {
	// Ensure tasks is never null in JSON output.
	if tasks == nil {
		tasks = []*model.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"total": len(tasks),
	})
}

// handleListTasks handles GET /api/v1/tasks.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tasks, err := s.ListTasks(q.Get("channel"), taskFilter(q))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeTasks(w, tasks)
}

// handleReadyTasks handles GET /api/v1/tasks/ready.
func (s *Server) handleReadyTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tasks, err := s.ReadyTasks(q.Get("channel"), taskFilter(q))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeTasks(w, tasks)
}

// handleBlockedTasks handles GET /api/v1/tasks/blocked.
func (s *Server) handleBlockedTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tasks, err := s.BlockedTasks(q.Get("channel"), taskFilter(q))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeTasks(w, tasks)
}

// handleGetTask handles GET /api/v1/tasks/{id}.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.GetTask(r.URL.Query().Get("channel"), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type updateTaskInput struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Assignee    *string          `json:"assignee"`
	State       *model.TaskState `json:"state"`
}

// handleUpdateTask handles PUT /api/v1/tasks/{id}.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var in updateTaskInput
	if !decodeJSON(w, r, &in) {
		return
	}
	task, err := s.UpdateTask(r.Context(), r.PathValue("id"), taskgraph.UpdateParams{
		Title:       in.Title,
		Description: in.Description,
		Assignee:    in.Assignee,
		State:       in.State,
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type addDependencyInput struct {
	DependsOn      string               `json:"depends_on"`
	DependencyType model.DependencyType `json:"dependency_type"`
}

// handleAddDependency handles POST /api/v1/tasks/{id}/dependencies.
func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	var in addDependencyInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.DependsOn == "" {
		writeError(w, http.StatusBadRequest, "depends_on is required")
		return
	}
	task, err := s.AddDependency(r.Context(), r.PathValue("id"), in.DependsOn, in.DependencyType)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleRemoveDependency handles DELETE /api/v1/tasks/{id}/dependencies/{parent_id}.
func (s *Server) handleRemoveDependency(w http.ResponseWriter, r *http.Request) {
	task, err := s.RemoveDependency(r.Context(), r.PathValue("id"), r.PathValue("parent_id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleTaskGraph handles GET /api/v1/tasks/{id}/graph.
func (s *Server) handleTaskGraph(w http.ResponseWriter, r *http.Request) {
	tg, err := s.TaskRelations(r.URL.Query().Get("channel"), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tg)
}
