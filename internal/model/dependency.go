package model

// DependencyType categorizes the relationship between two tasks.
type DependencyType string

const (
	DepBlocks  DependencyType = "blocks"
	DepParent  DependencyType = "parent"
	DepRelated DependencyType = "related"
)

// IsValid reports whether d is one of the known dependency types.
func (d DependencyType) IsValid() bool {
	switch d {
	case DepBlocks, DepParent, DepRelated:
		return true
	}
	return false
}

// IsBlocking reports whether an edge of this type gates the child on the
// parent being done. Parent edges block exactly like Blocks edges.
func (d DependencyType) IsBlocking() bool {
	return d == DepBlocks || d == DepParent
}

// Dependency is an edge from the owning task to the task it depends on.
type Dependency struct {
	TaskID string         `json:"task_id"`
	Type   DependencyType `json:"type"`
}
