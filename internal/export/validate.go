package export

import "fmt"

// validate checks the structural invariants of a conversation's node graph:
// exactly one root, no dangling parent references, and no cycles along
// parent links. Runs once at load time.
func validate(conv *Conversation) error {
	if len(conv.Nodes) == 0 {
		return &FormatError{ConversationID: conv.ID, Reason: "empty node mapping"}
	}

	roots := 0
	for _, node := range conv.Nodes {
		if node.Parent == "" {
			roots++
			continue
		}
		if _, ok := conv.Nodes[node.Parent]; !ok {
			return &FormatError{
				ConversationID: conv.ID,
				Reason:         fmt.Sprintf("node %s references missing parent %s", node.ID, node.Parent),
			}
		}
	}
	if roots != 1 {
		return &FormatError{
			ConversationID: conv.ID,
			Reason:         fmt.Sprintf("expected exactly one root node, found %d", roots),
		}
	}

	// Cycle check: every parent chain must terminate at the root within
	// len(Nodes) steps. Chains already proven safe are memoized.
	safe := make(map[string]bool, len(conv.Nodes))
	for id := range conv.Nodes {
		if err := walkToRoot(conv, id, safe); err != nil {
			return err
		}
	}
	return nil
}

func walkToRoot(conv *Conversation, start string, safe map[string]bool) error {
	var chain []string
	id := start
	for steps := 0; steps <= len(conv.Nodes); steps++ {
		if safe[id] {
			break
		}
		node, ok := conv.Nodes[id]
		if !ok {
			break // dangling refs reported by the caller's reference check
		}
		chain = append(chain, id)
		if node.Parent == "" {
			break
		}
		if steps == len(conv.Nodes) {
			return &FormatError{
				ConversationID: conv.ID,
				Reason:         fmt.Sprintf("cycle detected in parent chain starting at node %s", start),
			}
		}
		id = node.Parent
	}
	for _, c := range chain {
		safe[c] = true
	}
	return nil
}
