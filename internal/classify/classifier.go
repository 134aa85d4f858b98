// Package classify implements the external classification capability:
// given a batch of conversation summaries and a project list, propose a
// project per conversation with a confidence score and rationale.
package classify

import "context"

// Request is one conversation submitted for classification. Snippet carries
// either raw user-message text (pass 1) or a synthesized description
// (pass 2).
type Request struct {
	ID      string
	Title   string
	Snippet string
}

// Result is the capability's proposal for one conversation. An empty Project
// means "no fit".
type Result struct {
	ID         string
	Project    string
	Tags       []string
	Confidence float64 // [0,1]
	Rationale  string
}

// Classifier is the injectable classification capability. The descriptions
// map (project name to short description) is optional context and may be
// nil. Implementations must tolerate partial responses: conversations
// missing from the reply are the caller's problem (they default to
// confidence 0), not an error.
type Classifier interface {
	Classify(ctx context.Context, batch []Request, projects []string, descriptions map[string]string) ([]Result, error)
}

// ProjectDescriber is an optional upgrade: given sample conversations per
// project, produce a short description of what each project is about. The
// engine feeds descriptions back into classification prompts when prior
// assignments exist.
type ProjectDescriber interface {
	DescribeProjects(ctx context.Context, projects []string, samples map[string][]Request) (map[string]string, error)
}
