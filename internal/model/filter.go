package model

// TaskFilter holds criteria for querying tasks.
type TaskFilter struct {
	State    []TaskState `json:"state,omitempty"`
	Assignee string      `json:"assignee,omitempty"`
	Limit    int         `json:"limit,omitempty"`
}

// Matches reports whether t satisfies the filter (Limit is not considered).
func (f TaskFilter) Matches(t *Task) bool {
	if f.Assignee != "" && t.Assignee != f.Assignee {
		return false
	}
	if len(f.State) == 0 {
		return true
	}
	for _, s := range f.State {
		if t.State == s {
			return true
		}
	}
	return false
}
