// Package taskgraph maintains tasks and their typed dependency edges,
// computes blocked and ready status, and rejects cycles.
package taskgraph

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alfredjeanlab/ailoop/internal/model"
)

// Graph holds the tasks of one channel. Every mutation, including the blocked
// recomputation of affected tasks and the ready/blocked index updates, runs
// inside a single critical section, so readers never observe a partial
// transition.
type Graph struct {
	channel string
	now     func() time.Time

	mu      sync.RWMutex
	nodes   map[string]*node
	ready   map[string]struct{} // pending and unblocked
	blocked map[string]struct{} // pending and blocked
}

type node struct {
	task     model.Task // DependsOn, BlockingFor and Blocked are filled on read
	parents  map[string]model.DependencyType
	children map[string]model.DependencyType
	// unmet counts blocking parents that are not done.
	unmet int
}

func newGraph(channel string, now func() time.Time) *Graph {
	return &Graph{
		channel: channel,
		now:     now,
		nodes:   make(map[string]*node),
		ready:   make(map[string]struct{}),
		blocked: make(map[string]struct{}),
	}
}

// CreateParams describes a new task.
type CreateParams struct {
	Title       string
	Description string
	Assignee    string
	Metadata    map[string]any
}

// UpdateParams describes a partial update. Nil fields are left unchanged.
type UpdateParams struct {
	Title       *string
	Description *string
	Assignee    *string
	State       *model.TaskState
}

// Create adds a pending task with no dependencies.
func (g *Graph) Create(p CreateParams) (*model.Task, error) {
	if err := model.ValidateTaskTitle(p.Title); err != nil {
		return nil, err
	}
	now := g.now()
	n := &node{
		task: model.Task{
			ID:          uuid.NewString(),
			Channel:     g.channel,
			Title:       strings.TrimSpace(p.Title),
			Description: p.Description,
			State:       model.TaskPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			Assignee:    p.Assignee,
			Metadata:    p.Metadata,
		},
		parents:  make(map[string]model.DependencyType),
		children: make(map[string]model.DependencyType),
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[n.task.ID] = n
	g.reindex(n)
	return g.view(n), nil
}

// Channel returns the name of the channel this graph belongs to.
func (g *Graph) Channel() string { return g.channel }

// Get returns a task by id.
func (g *Graph) Get(id string) (*model.Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	return g.view(n), nil
}

// Update applies a partial update. A state change recomputes the blocked
// status of every dependent in the same critical section.
func (g *Graph) Update(id string, p UpdateParams) (*model.Task, error) {
	if p.Title != nil {
		if err := model.ValidateTaskTitle(*p.Title); err != nil {
			return nil, err
		}
	}
	if p.State != nil {
		if err := model.ValidateTaskState(*p.State); err != nil {
			return nil, err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	if p.State != nil && *p.State != n.task.State {
		if err := g.setState(n, *p.State); err != nil {
			return nil, err
		}
	}
	if p.Title != nil {
		n.task.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		n.task.Description = *p.Description
	}
	if p.Assignee != nil {
		n.task.Assignee = *p.Assignee
	}
	n.task.UpdatedAt = g.now()
	return g.view(n), nil
}

// UpdateState transitions a task. Moving to done unblocks dependents whose
// other blockers are already done. Moving to abandoned leaves dependents
// blocked: an abandoned parent never counts as satisfied and nothing is
// abandoned in cascade.
func (g *Graph) UpdateState(id string, state model.TaskState) (*model.Task, error) {
	return g.Update(id, UpdateParams{State: &state})
}

// setState must be called with g.mu held. Every dependent counter is
// checked before anything changes, so an error leaves the graph untouched.
func (g *Graph) setState(n *node, state model.TaskState) error {
	wasDone := n.task.State == model.TaskDone
	isDone := state == model.TaskDone

	var dependents []*node
	if wasDone != isDone {
		// Blocked depends only on direct parents, so direct dependents are
		// the only tasks whose status can change.
		for childID, typ := range n.children {
			if !typ.IsBlocking() {
				continue
			}
			child, ok := g.nodes[childID]
			if !ok {
				return fmt.Errorf("task %s lists unknown dependent %s: %w", n.task.ID, childID, model.ErrInternal)
			}
			if isDone && child.unmet <= 0 {
				return fmt.Errorf("task %s has no unmet blockers to release: %w", childID, model.ErrInternal)
			}
			dependents = append(dependents, child)
		}
	}

	n.task.State = state
	for _, child := range dependents {
		if isDone {
			child.unmet--
		} else {
			child.unmet++
		}
		g.reindex(child)
	}
	g.reindex(n)
	return nil
}

// AddDependency makes child depend on parent. Both tasks must exist in this
// graph. Self-loops are rejected for every type; blocking edges are also
// rejected when parent already depends on child, directly or transitively.
// Nothing changes when an error is returned.
func (g *Graph) AddDependency(childID, parentID string, typ model.DependencyType) error {
	if err := model.ValidateDependencyType(typ); err != nil {
		return err
	}
	if childID == parentID {
		return fmt.Errorf("task %s cannot depend on itself: %w", childID, model.ErrCycleDetected)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	child, ok := g.nodes[childID]
	if !ok {
		return fmt.Errorf("task %s: %w", childID, model.ErrDependencyNotFound)
	}
	parent, ok := g.nodes[parentID]
	if !ok {
		return fmt.Errorf("task %s: %w", parentID, model.ErrDependencyNotFound)
	}
	if existing, ok := child.parents[parentID]; ok {
		return fmt.Errorf("%s already depends on %s (%s): %w", childID, parentID, existing, model.ErrDuplicateDependency)
	}
	if typ.IsBlocking() && g.reaches(parentID, childID) {
		return fmt.Errorf("%s -> %s: %w", childID, parentID, model.ErrCycleDetected)
	}

	child.parents[parentID] = typ
	parent.children[childID] = typ
	if typ.IsBlocking() && parent.task.State != model.TaskDone {
		child.unmet++
	}
	child.task.UpdatedAt = g.now()
	g.reindex(child)
	return nil
}

// RemoveDependency deletes the edge from child to parent and recomputes the
// child's blocked status.
func (g *Graph) RemoveDependency(childID, parentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	child, ok := g.nodes[childID]
	if !ok {
		return fmt.Errorf("task %s: %w", childID, model.ErrDependencyNotFound)
	}
	typ, ok := child.parents[parentID]
	if !ok {
		return fmt.Errorf("%s does not depend on %s: %w", childID, parentID, model.ErrDependencyNotFound)
	}
	parent := g.nodes[parentID]

	delete(child.parents, parentID)
	delete(parent.children, childID)
	if typ.IsBlocking() && parent.task.State != model.TaskDone {
		child.unmet--
		if child.unmet < 0 {
			return fmt.Errorf("task %s has negative unmet blockers: %w", childID, model.ErrInternal)
		}
	}
	child.task.UpdatedAt = g.now()
	g.reindex(child)
	return nil
}

// reaches reports whether from depends on to through blocking edges. Must be
// called with g.mu held.
func (g *Graph) reaches(from, to string) bool {
	seen := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		for pid, typ := range g.nodes[id].parents {
			if typ.IsBlocking() && !seen[pid] {
				stack = append(stack, pid)
			}
		}
	}
	return false
}

// reindex moves n into the index matching its state. Must be called with
// g.mu held.
func (g *Graph) reindex(n *node) {
	id := n.task.ID
	delete(g.ready, id)
	delete(g.blocked, id)
	if n.task.State != model.TaskPending {
		return
	}
	if n.unmet > 0 {
		g.blocked[id] = struct{}{}
	} else {
		g.ready[id] = struct{}{}
	}
}

// Ready returns pending tasks with no unmet blockers, oldest first.
func (g *Graph) Ready(f model.TaskFilter) []*model.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collect(g.ready, f)
}

// Blocked returns pending tasks with at least one unmet blocker, oldest first.
func (g *Graph) Blocked(f model.TaskFilter) []*model.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collect(g.blocked, f)
}

// List returns every task matching f, oldest first.
func (g *Graph) List(f model.TaskFilter) []*model.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make(map[string]struct{}, len(g.nodes))
	for id := range g.nodes {
		ids[id] = struct{}{}
	}
	return g.collect(ids, f)
}

// collect must be called with g.mu held.
func (g *Graph) collect(ids map[string]struct{}, f model.TaskFilter) []*model.Task {
	nodes := make([]*node, 0, len(ids))
	for id := range ids {
		n := g.nodes[id]
		if f.Matches(&n.task) {
			nodes = append(nodes, n)
		}
	}
	slices.SortFunc(nodes, func(a, b *node) int {
		if c := a.task.CreatedAt.Compare(b.task.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.task.ID, b.task.ID)
	})
	if f.Limit > 0 && len(nodes) > f.Limit {
		nodes = nodes[:f.Limit]
	}
	out := make([]*model.Task, len(nodes))
	for i, n := range nodes {
		out[i] = g.view(n)
	}
	return out
}

// Relations returns a task with its direct parents and children.
func (g *Graph) Relations(id string) (*model.TaskGraph, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	tg := &model.TaskGraph{
		Task:     g.view(n),
		Parents:  make([]*model.Task, 0, len(n.parents)),
		Children: make([]*model.Task, 0, len(n.children)),
	}
	for _, pid := range sortedKeys(n.parents) {
		tg.Parents = append(tg.Parents, g.view(g.nodes[pid]))
	}
	for _, cid := range sortedKeys(n.children) {
		tg.Children = append(tg.Children, g.view(g.nodes[cid]))
	}
	return tg, nil
}

// Len returns the number of tasks.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// view returns a detached copy of n with derived fields filled. Must be
// called with g.mu held.
func (g *Graph) view(n *node) *model.Task {
	t := n.task.Clone()
	t.DependsOn = make([]model.Dependency, 0, len(n.parents))
	for _, pid := range sortedKeys(n.parents) {
		t.DependsOn = append(t.DependsOn, model.Dependency{TaskID: pid, Type: n.parents[pid]})
	}
	t.BlockingFor = sortedKeys(n.children)
	t.Blocked = n.unmet > 0
	return t
}

func sortedKeys(m map[string]model.DependencyType) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
