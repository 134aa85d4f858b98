package export

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Wire structs for conversations.json. Upstream adds keys across export
// versions; anything unrecognized is ignored.
type rawConversation struct {
	ID               string             `json:"id"`
	ConversationID   string             `json:"conversation_id"`
	Title            string             `json:"title"`
	CreateTime       *float64           `json:"create_time"`
	UpdateTime       *float64           `json:"update_time"`
	DefaultModelSlug string             `json:"default_model_slug"`
	CurrentNode      string             `json:"current_node"`
	Mapping          map[string]rawNode `json:"mapping"`
}

type rawNode struct {
	ID       string      `json:"id"`
	Parent   *string     `json:"parent"`
	Children []string    `json:"children"`
	Message  *rawMessage `json:"message"`
}

type rawMessage struct {
	ID         string     `json:"id"`
	Author     rawAuthor  `json:"author"`
	CreateTime *float64   `json:"create_time"`
	Weight     *float64   `json:"weight"`
	Content    rawContent `json:"content"`
	Metadata   rawMeta    `json:"metadata"`
}

type rawAuthor struct {
	Role string `json:"role"`
}

type rawMeta struct {
	ModelSlug string `json:"model_slug"`
}

type rawContent struct {
	ContentType string            `json:"content_type"`
	Parts       []json.RawMessage `json:"parts"`
	Text        string            `json:"text"`
	Language    string            `json:"language"`
	URL         string            `json:"url"`
	Domain      string            `json:"domain"`
	Result      string            `json:"result"`
	Summary     string            `json:"summary"`
	Content     string            `json:"content"`
	Name        string            `json:"name"`
	Thoughts    []rawThought      `json:"thoughts"`
	Screenshot  *rawImagePart     `json:"screenshot"`
}

type rawThought struct {
	Content string `json:"content"`
	Summary string `json:"summary"`
}

type rawImagePart struct {
	ContentType  string  `json:"content_type"`
	AssetPointer string  `json:"asset_pointer"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	SizeBytes    float64 `json:"size_bytes"`
}

// FindConversationsFile locates conversations.json inside an export
// directory. ChatGPT exports sometimes nest it one level down under a
// hash-named subdirectory.
func FindConversationsFile(exportDir string) (string, error) {
	direct := filepath.Join(exportDir, "conversations.json")
	if _, err := os.Stat(direct); err == nil {
		return direct, nil
	}
	children, err := os.ReadDir(exportDir)
	if err != nil {
		return "", fmt.Errorf("failed to read export dir %s: %w", exportDir, err)
	}
	for _, child := range children {
		if !child.IsDir() {
			continue
		}
		candidate := filepath.Join(exportDir, child.Name(), "conversations.json")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("conversations.json not found in %s or its subdirectories", exportDir)
}

// LoadFile reads conversations.json and splits it into raw per-conversation
// records. Records are decoded individually so one malformed conversation
// cannot poison the whole file.
func LoadFile(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return records, nil
}

// Parse decodes one raw conversation record and validates its node graph.
// Structural violations (non-unique root, cycle, dangling parent reference)
// return a *FormatError scoped to this conversation.
func Parse(record json.RawMessage) (*Conversation, error) {
	var raw rawConversation
	if err := json.Unmarshal(record, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode conversation record: %w", err)
	}

	id := raw.ConversationID
	if id == "" {
		id = raw.ID
	}
	if id == "" {
		id = uuid.NewString()
	}
	title := raw.Title
	if title == "" {
		title = "Untitled"
	}

	conv := &Conversation{
		ID:          id,
		Title:       title,
		CreateTime:  tsToTime(raw.CreateTime),
		UpdateTime:  tsToTime(raw.UpdateTime),
		ModelSlug:   raw.DefaultModelSlug,
		CurrentNode: raw.CurrentNode,
		Nodes:       make(map[string]*Node, len(raw.Mapping)),
	}

	for nodeID, rn := range raw.Mapping {
		node := &Node{
			ID:       nodeID,
			Children: rn.Children,
		}
		if rn.Parent != nil {
			node.Parent = *rn.Parent
		}
		node.Message = parseMessage(nodeID, rn.Message)
		conv.Nodes[nodeID] = node
	}

	if err := validate(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// parseMessage converts a mapping node's message payload, or returns nil for
// structural nodes, weight-0 (pruned branch) messages, and messages whose
// content produces no blocks.
func parseMessage(nodeID string, raw *rawMessage) *Message {
	if raw == nil {
		return nil
	}
	weight := 1.0
	if raw.Weight != nil {
		weight = *raw.Weight
	}
	if weight == 0 {
		return nil
	}

	blocks := parseBlocks(raw.Content)
	if len(blocks) == 0 {
		return nil
	}

	role := Role(raw.Author.Role)
	if role == "" {
		role = Role("unknown")
	}

	return &Message{
		ID:         nodeID,
		Role:       role,
		CreateTime: tsToTime(raw.CreateTime),
		Weight:     weight,
		ModelSlug:  raw.Metadata.ModelSlug,
		Blocks:     blocks,
	}
}

// parseBlocks dispatches on content_type. Unrecognized kinds are preserved
// as KindUnknown with their raw tag so rendering can fall back to plain text.
func parseBlocks(c rawContent) []ContentBlock {
	ct := c.ContentType
	if ct == "" {
		ct = "text"
	}

	switch ct {
	case "text":
		text := joinStringParts(c.Parts)
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []ContentBlock{{Kind: KindText, RawKind: ct, Text: text}}

	case "multimodal_text":
		parts := parseMultimodalParts(c.Parts)
		if len(parts) == 0 {
			return nil
		}
		return []ContentBlock{{Kind: KindMultimodal, RawKind: ct, Parts: parts}}

	case "code":
		if strings.TrimSpace(c.Text) == "" {
			return nil
		}
		lang := c.Language
		if lang == "unknown" {
			lang = ""
		}
		return []ContentBlock{{Kind: KindCode, RawKind: ct, Text: c.Text, Language: lang}}

	case "thoughts":
		var blocks []ContentBlock
		for _, th := range c.Thoughts {
			if strings.TrimSpace(th.Content) == "" {
				continue
			}
			blocks = append(blocks, ContentBlock{
				Kind:    KindThoughts,
				RawKind: ct,
				Text:    th.Content,
				Summary: th.Summary,
			})
		}
		return blocks

	case "reasoning_recap":
		if strings.TrimSpace(c.Content) == "" {
			return nil
		}
		return []ContentBlock{{Kind: KindReasoningRecap, RawKind: ct, Text: c.Content}}

	case "execution_output":
		if strings.TrimSpace(c.Text) == "" {
			return nil
		}
		return []ContentBlock{{Kind: KindExecutionOutput, RawKind: ct, Text: c.Text}}

	case "tether_quote":
		return []ContentBlock{{Kind: KindTetherQuote, RawKind: ct, Text: c.Text, URL: c.URL, Domain: c.Domain}}

	case "tether_browsing_display":
		text := c.Summary
		if text == "" {
			text = c.Result
		}
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []ContentBlock{{Kind: KindTetherBrowsing, RawKind: ct, Text: text}}

	case "computer_output":
		block := ContentBlock{Kind: KindComputerOutput, RawKind: ct}
		if c.Screenshot != nil && strings.HasPrefix(c.Screenshot.AssetPointer, "sediment://") {
			block.Parts = []Part{{Asset: pointerFromPart(c.Screenshot)}}
		}
		return []ContentBlock{block}

	case "system_error":
		name := c.Name
		if name == "" {
			name = "Error"
		}
		return []ContentBlock{{Kind: KindSystemError, RawKind: ct, Text: name + ": " + c.Text}}

	case "user_editable_context":
		// Kept so the renderer can account for it; it contributes no output.
		return []ContentBlock{{Kind: KindUserContext, RawKind: ct}}

	default:
		text := c.Text
		if len(c.Parts) > 0 {
			text = joinStringParts(c.Parts)
		}
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []ContentBlock{{Kind: KindUnknown, RawKind: ct, Text: text}}
	}
}

func parseMultimodalParts(parts []json.RawMessage) []Part {
	var out []Part
	for _, p := range parts {
		var s string
		if err := json.Unmarshal(p, &s); err == nil {
			if strings.TrimSpace(s) != "" {
				out = append(out, Part{Text: s})
			}
			continue
		}
		var img rawImagePart
		if err := json.Unmarshal(p, &img); err != nil {
			continue
		}
		if img.ContentType == "image_asset_pointer" && img.AssetPointer != "" {
			out = append(out, Part{Asset: pointerFromPart(&img)})
		}
	}
	return out
}

func pointerFromPart(img *rawImagePart) *AssetPointer {
	return &AssetPointer{
		Pointer:   img.AssetPointer,
		Width:     img.Width,
		Height:    img.Height,
		SizeBytes: int64(img.SizeBytes),
	}
}

func joinStringParts(parts []json.RawMessage) string {
	var texts []string
	for _, p := range parts {
		var s string
		if err := json.Unmarshal(p, &s); err == nil {
			texts = append(texts, s)
		}
	}
	return strings.Join(texts, "\n")
}

func tsToTime(ts *float64) time.Time {
	if ts == nil || *ts <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(*ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
