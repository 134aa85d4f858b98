package categorize

import "chatport/internal/manifest"

// Action is what the reviewer chose for one needs_review entry.
type Action int

const (
	// ActionAccept commits the proposed project.
	ActionAccept Action = iota
	// ActionReassign commits a different project name.
	ActionReassign
	// ActionUnassign leaves the conversation without a project.
	ActionUnassign
)

// Decision pairs an action with its reassignment target.
type Decision struct {
	Action  Action
	Project string // ActionReassign only
}

// ApplyReview is the pure transition from needs_review to a terminal state.
// It takes and returns a value so review logic is testable without terminal
// input; the caller writes the result back into the manifest.
func ApplyReview(entry manifest.Entry, d Decision) manifest.Entry {
	switch d.Action {
	case ActionAccept:
		if entry.Project == "" {
			entry.Status = manifest.StatusUnassigned
		} else {
			entry.Status = manifest.StatusAssigned
		}
	case ActionReassign:
		entry.Project = d.Project
		entry.Tags = nil
		if d.Project == "" {
			entry.Status = manifest.StatusUnassigned
		} else {
			entry.Status = manifest.StatusAssigned
		}
	case ActionUnassign:
		entry.Project = ""
		entry.Tags = nil
		entry.Status = manifest.StatusUnassigned
	}
	return entry
}
