package classify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// buildClassifyPrompt renders the strict-categorizer prompt for one batch.
func buildClassifyPrompt(batch []Request, projects []string, descriptions map[string]string) string {
	var projectList strings.Builder
	for _, p := range projects {
		if desc := descriptions[p]; desc != "" {
			projectList.WriteString("- " + p + ": " + desc + "\n")
		} else {
			projectList.WriteString("- " + p + "\n")
		}
	}

	type item struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Content string `json:"content,omitempty"`
	}
	items := make([]item, 0, len(batch))
	for _, req := range batch {
		items = append(items, item{ID: req.ID, Title: req.Title, Content: req.Snippet})
	}
	conversationsJSON, _ := json.MarshalIndent(items, "", "  ")

	return fmt.Sprintf(`You are a strict conversation categorizer. Assign each conversation to a project ONLY if it is specifically about that project's domain.

Allowed project names:
%s
For each conversation:
1. Assign exactly ONE primary project as "project" — but ONLY if the conversation is specifically about that project
2. Optionally assign secondary projects as "tags" — only where you are highly confident
3. Provide a "confidence" score (0-100) for your project assignment:
   - 90-100: Clearly belongs to this project, no doubt
   - 70-89: Likely belongs but could be debatable
   - 50-69: Uncertain, could go either way
   - 0-49: Weak match, mostly guessing
   - If project is "" (unassigned), set confidence to 100 (you're confident it doesn't fit)
4. Provide a one-sentence "rationale" for the assignment

CRITICAL: Be very selective. Most people have many casual conversations that don't belong to any project. General knowledge questions, recipes, shopping, entertainment, homework, travel planning and generic tech questions MUST be left unassigned unless they are clearly and directly about work on a listed project. When in doubt, leave it unassigned.

Rules:
- Only use project names from the list above — do not invent new ones
- Set "project" to "" (empty string) if no project is a clear fit — do NOT force a match
- "tags" should NOT include the primary project and can be empty

Respond with ONLY a JSON array. Each element must have:
- "id": the conversation id (string)
- "project": the best-match project name, or "" if no good fit (string)
- "tags": secondary project names (array of strings, can be empty)
- "confidence": integer 0-100
- "rationale": one sentence (string)

Here are the conversations to categorize:

%s`, projectList.String(), conversationsJSON)
}

// buildDescribePrompt asks for a 1-2 sentence description of each project
// based on conversations already assigned to it.
func buildDescribePrompt(projects []string, samples map[string][]Request) string {
	type sample struct {
		Title   string `json:"title"`
		Content string `json:"content,omitempty"`
	}
	byProject := make(map[string][]sample, len(projects))
	for _, p := range projects {
		var out []sample
		for _, req := range samples[p] {
			out = append(out, sample{Title: req.Title, Content: req.Snippet})
		}
		byProject[p] = out
	}
	samplesJSON, _ := json.MarshalIndent(byProject, "", "  ")

	return fmt.Sprintf(`Below are project names and sample conversations assigned to each project. Write a 1-2 sentence description of what each project is actually about, based on the conversation content. Focus on what distinguishes this project from general conversations on similar topics.

%s

Respond with ONLY a JSON object mapping each project name to its description string. No other text.`, samplesJSON)
}
