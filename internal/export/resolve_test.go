package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildConv wires a conversation directly from nodes, bypassing JSON.
func buildConv(current string, nodes ...*Node) *Conversation {
	conv := &Conversation{
		ID:          "conv-1",
		Title:       "Test",
		CurrentNode: current,
		Nodes:       make(map[string]*Node, len(nodes)),
	}
	for _, n := range nodes {
		conv.Nodes[n.ID] = n
	}
	return conv
}

func msgNode(id, parent string, role Role, text string, ts int64) *Node {
	return &Node{
		ID:     id,
		Parent: parent,
		Message: &Message{
			ID:         id,
			Role:       role,
			CreateTime: time.Unix(ts, 0).UTC(),
			Weight:     1,
			Blocks:     []ContentBlock{{Kind: KindText, Text: text}},
		},
	}
}

func structNode(id, parent string, children ...string) *Node {
	return &Node{ID: id, Parent: parent, Children: children}
}

func TestResolve_LinearChain(t *testing.T) {
	// root -> A (system, no content) -> B (user "Hello"): resolved = [B].
	conv := buildConv("b",
		structNode("root", "", "a"),
		structNode("a", "root", "b"), // system/structural, no message
		msgNode("b", "a", RoleUser, "Hello", 100),
	)
	res := Resolve(conv)

	assert.False(t, res.ViaFallback)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "b", res.Messages[0].ID)
	assert.Equal(t, "Hello", res.Messages[0].Blocks[0].Text)
}

func TestResolve_SiblingBranchesExcluded(t *testing.T) {
	// Three children under root; current node descends through the second.
	// Nothing from the first or third subtree may appear.
	conv := buildConv("c2leaf",
		structNode("root", "", "c1", "c2", "c3"),
		msgNode("c1", "root", RoleAssistant, "first branch", 10),
		msgNode("c3", "root", RoleAssistant, "third branch", 30),
		func() *Node {
			n := msgNode("c2", "root", RoleAssistant, "second branch", 20)
			n.Children = []string{"c2leaf"}
			return n
		}(),
		msgNode("c2leaf", "c2", RoleUser, "follow-up", 25),
	)
	res := Resolve(conv)

	require.Len(t, res.Messages, 2)
	assert.Equal(t, "c2", res.Messages[0].ID)
	assert.Equal(t, "c2leaf", res.Messages[1].ID)
	for _, msg := range res.Messages {
		assert.NotContains(t, msg.Blocks[0].Text, "first branch")
		assert.NotContains(t, msg.Blocks[0].Text, "third branch")
	}
}

func TestResolve_OutputBoundedByMessageNodes(t *testing.T) {
	conv := buildConv("leaf",
		structNode("root", "", "mid"),
		structNode("mid", "root", "leaf"),
		msgNode("leaf", "mid", RoleUser, "only one", 10),
	)
	res := Resolve(conv)

	messageBearing := 0
	for _, n := range conv.Nodes {
		if n.Message != nil {
			messageBearing++
		}
	}
	assert.LessOrEqual(t, len(res.Messages), messageBearing)
}

func TestResolve_FallbackPicksNewestChild(t *testing.T) {
	// No current node: forward walk should follow the newest alternative at
	// the branch point.
	older := msgNode("older", "root", RoleAssistant, "old answer", 100)
	newer := msgNode("newer", "root", RoleAssistant, "new answer", 200)
	conv := buildConv("",
		structNode("root", "", "older", "newer"),
		older, newer,
	)
	res := Resolve(conv)

	assert.True(t, res.ViaFallback)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "new answer", res.Messages[0].Blocks[0].Text)
}

func TestResolve_UnknownCurrentNodeFallsBack(t *testing.T) {
	conv := buildConv("ghost",
		structNode("root", "", "a"),
		msgNode("a", "root", RoleUser, "hi", 10),
	)
	res := Resolve(conv)
	assert.True(t, res.ViaFallback)
	require.Len(t, res.Messages, 1)
}

func TestResolve_LeadingSystemMessagesDropped(t *testing.T) {
	conv := buildConv("c",
		structNode("root", "", "a"),
		func() *Node {
			n := msgNode("a", "root", RoleSystem, "injected context", 1)
			n.Children = []string{"b"}
			return n
		}(),
		func() *Node {
			n := msgNode("b", "a", RoleUser, "question", 2)
			n.Children = []string{"c"}
			return n
		}(),
		msgNode("c", "b", RoleSystem, "mid-conversation system note", 3),
	)
	res := Resolve(conv)

	require.Len(t, res.Messages, 2)
	assert.Equal(t, "b", res.Messages[0].ID, "leading system message dropped")
	assert.Equal(t, "c", res.Messages[1].ID, "later system message kept")
}

func TestResolve_Deterministic(t *testing.T) {
	conv := buildConv("",
		structNode("root", "", "a", "b"),
		msgNode("a", "root", RoleAssistant, "a", 10),
		msgNode("b", "root", RoleAssistant, "b", 20),
	)
	first := Resolve(conv)
	for i := 0; i < 10; i++ {
		again := Resolve(conv)
		require.Equal(t, len(first.Messages), len(again.Messages))
		for j := range first.Messages {
			assert.Equal(t, first.Messages[j].ID, again.Messages[j].ID)
		}
	}
}

func TestFirstUserText(t *testing.T) {
	msgs := []Message{
		{Role: RoleAssistant, Blocks: []ContentBlock{{Kind: KindText, Text: "ignore me"}}},
		{Role: RoleUser, Blocks: []ContentBlock{{Kind: KindText, Text: "  the question  "}}},
	}
	assert.Equal(t, "the question", FirstUserText(msgs, 150))
	assert.Equal(t, "the", FirstUserText(msgs, 3))
	assert.Empty(t, FirstUserText(nil, 150))
}

func TestUserSnippet(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Blocks: []ContentBlock{{Kind: KindText, Text: "first"}}},
		{Role: RoleAssistant, Blocks: []ContentBlock{{Kind: KindText, Text: "not included"}}},
		{Role: RoleUser, Blocks: []ContentBlock{{Kind: KindMultimodal, Parts: []Part{{Text: "second"}}}}},
	}
	snippet := UserSnippet(msgs, 500)
	assert.Equal(t, "first\nsecond", snippet)
	assert.NotContains(t, snippet, "not included")

	assert.Len(t, []rune(UserSnippet(msgs, 5)), 5)
}
