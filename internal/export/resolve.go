package export

import (
	"strings"
	"time"
)

// Resolution is the linearized active branch of a conversation.
type Resolution struct {
	Messages []Message

	// ViaFallback is set when the conversation had no usable current-node
	// identifier and the branch was chosen by the newest-child heuristic
	// instead of the recorded leaf.
	ViaFallback bool
}

// Resolve turns a validated conversation's node mapping into the ordered
// message sequence of the active branch.
//
// Primary path: walk backward from the current node to the root via parent
// links, then reverse. Backward-walking a single leaf never visits sibling
// branches, so branching resolves automatically. When the current-node
// identifier is absent or unknown (older export variants), fall back to a
// forward walk that picks the most recently created child at every branch
// point; this is a heuristic, callers can tell the two paths apart via
// ViaFallback.
func Resolve(conv *Conversation) Resolution {
	var path []string
	viaFallback := false

	if _, ok := conv.Nodes[conv.CurrentNode]; conv.CurrentNode != "" && ok {
		path = walkBackward(conv, conv.CurrentNode)
	} else {
		path = walkForward(conv)
		viaFallback = true
	}

	var messages []Message
	for _, nodeID := range path {
		node := conv.Nodes[nodeID]
		if node == nil || node.Message == nil {
			continue
		}
		// Leading system messages are export plumbing, not conversation.
		if node.Message.Role == RoleSystem && len(messages) == 0 {
			continue
		}
		messages = append(messages, *node.Message)
	}

	return Resolution{Messages: messages, ViaFallback: viaFallback}
}

// walkBackward follows parent links from leaf to root and reverses. The
// visited set guards the walk even though validation already rejects cycles.
func walkBackward(conv *Conversation, leaf string) []string {
	var path []string
	visited := make(map[string]bool)
	id := leaf
	for id != "" && !visited[id] {
		visited[id] = true
		path = append(path, id)
		node, ok := conv.Nodes[id]
		if !ok {
			break
		}
		id = node.Parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// walkForward descends from the root, selecting at each branch point the
// child whose message carries the greatest creation timestamp.
func walkForward(conv *Conversation) []string {
	root := ""
	for id, node := range conv.Nodes {
		if node.Parent == "" {
			root = id
			break
		}
	}

	var path []string
	visited := make(map[string]bool)
	id := root
	for id != "" && !visited[id] {
		visited[id] = true
		path = append(path, id)
		node := conv.Nodes[id]
		if node == nil {
			break
		}
		id = newestChild(conv, node.Children)
	}
	return path
}

func newestChild(conv *Conversation, children []string) string {
	best := ""
	var bestTime time.Time
	for _, childID := range children {
		child, ok := conv.Nodes[childID]
		if !ok {
			continue
		}
		var t time.Time
		if child.Message != nil {
			t = child.Message.CreateTime
		}
		if best == "" || t.After(bestTime) {
			best = childID
			bestTime = t
		}
	}
	return best
}

// FirstUserText returns the first user message's leading text, trimmed and
// truncated to limit runes. Used for manifest previews.
func FirstUserText(messages []Message, limit int) string {
	for _, msg := range messages {
		if msg.Role != RoleUser {
			continue
		}
		for _, block := range msg.Blocks {
			if block.Kind != KindText || strings.TrimSpace(block.Text) == "" {
				continue
			}
			return truncateRunes(strings.TrimSpace(block.Text), limit)
		}
	}
	return ""
}

// UserSnippet concatenates user-message text up to maxChars. Categorization
// grounds its classification prompts on these snippets.
func UserSnippet(messages []Message, maxChars int) string {
	var texts []string
	total := 0
	for _, msg := range messages {
		if msg.Role != RoleUser {
			continue
		}
		for _, block := range msg.Blocks {
			text := strings.TrimSpace(blockText(block))
			if text == "" {
				continue
			}
			texts = append(texts, text)
			total += len(text)
			if total >= maxChars {
				return truncateRunes(strings.Join(texts, "\n"), maxChars)
			}
		}
	}
	return truncateRunes(strings.Join(texts, "\n"), maxChars)
}

func blockText(block ContentBlock) string {
	if block.Kind == KindMultimodal {
		var parts []string
		for _, p := range block.Parts {
			if p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return block.Text
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
