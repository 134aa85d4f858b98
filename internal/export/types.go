// Package export parses ChatGPT data-export archives: the conversations.json
// node mapping, content block extraction, and resolution of the branching
// message tree into the linear conversation the user actually saw.
package export

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Kind tags the shape of a content block's payload.
type Kind string

const (
	KindText            Kind = "text"
	KindCode            Kind = "code"
	KindMultimodal      Kind = "multimodal_text"
	KindThoughts        Kind = "thoughts"
	KindReasoningRecap  Kind = "reasoning_recap"
	KindExecutionOutput Kind = "execution_output"
	KindTetherQuote     Kind = "tether_quote"
	KindTetherBrowsing  Kind = "tether_browsing_display"
	KindComputerOutput  Kind = "computer_output"
	KindSystemError     Kind = "system_error"
	KindUserContext     Kind = "user_editable_context"

	// KindUnknown carries any upstream content_type outside the recognized
	// set. The raw tag is preserved in ContentBlock.RawKind.
	KindUnknown Kind = "unknown"
)

// AssetPointer is an opaque reference to an image or file in the export's
// asset pool. It is not itself a file; AssetResolver maps it to one.
type AssetPointer struct {
	Pointer   string // e.g. "sediment://file_0000abcd..."
	Width     int
	Height    int
	SizeBytes int64
}

// Part is one element of a multimodal_text block: either inline text or an
// asset pointer, never both.
type Part struct {
	Text  string
	Asset *AssetPointer
}

// ContentBlock is a tagged variant over the recognized content kinds. Fields
// beyond Kind are populated per kind; unrecognized kinds keep their raw text
// and upstream tag so rendering can fall back to plain passthrough.
type ContentBlock struct {
	Kind     Kind
	RawKind  string // upstream content_type as seen in the export
	Text     string
	Language string // code blocks; empty when upstream says "unknown"
	URL      string // tether_quote source
	Domain   string // tether_quote source domain
	Summary  string // thoughts summary line
	Parts    []Part // multimodal_text interleaving, computer_output screenshot
}

// Message is one message on the active branch.
type Message struct {
	ID         string
	Role       Role
	CreateTime time.Time
	Weight     float64
	ModelSlug  string
	Blocks     []ContentBlock
}

// Node is one entry in a conversation's node mapping. Parent is a
// back-reference by identifier; the root node has none. Structural nodes
// carry no Message.
type Node struct {
	ID       string
	Parent   string
	Children []string
	Message  *Message
}

// Conversation is a read-only view over one exported conversation: the raw
// node mapping plus the current-node identifier marking the active branch's
// leaf.
type Conversation struct {
	ID          string
	Title       string
	CreateTime  time.Time
	UpdateTime  time.Time
	ModelSlug   string
	CurrentNode string
	Nodes       map[string]*Node
}

// FormatError reports a structurally invalid conversation (root violation,
// cycle, missing referenced node). It is fatal for that conversation only;
// processing of other conversations continues.
type FormatError struct {
	ConversationID string
	Reason         string
}

func (e *FormatError) Error() string {
	return "export format error in conversation " + e.ConversationID + ": " + e.Reason
}
