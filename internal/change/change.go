// Package change defines the modification request types shared by the
// validation, staging and apply layers.
package change

// Action is the kind of working-tree operation a request asks for.
type Action string

const (
	ActionCreate Action = "create"
	ActionModify Action = "modify"
	ActionDelete Action = "delete"
)

// Valid reports whether the action is one of the known kinds.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionModify, ActionDelete:
		return true
	}
	return false
}

// Request is a single proposed file change, supplied by the caller per batch.
// Path is always relative to the project root. Content is ignored for
// ActionDelete.
type Request struct {
	Path        string `json:"file_path"`
	Action      Action `json:"action"`
	Content     string `json:"content,omitempty"`
	Description string `json:"description"`
}
