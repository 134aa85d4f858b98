package render

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"chatport/internal/assets"
	"chatport/internal/export"
)

// Document is the assembled output for one conversation, ready for a Writer.
type Document struct {
	ConversationID string
	Title          string
	Filename       string // slugged base name without extension
	Markdown       string
	Assets         []assets.Resolution // only resolutions with Found set need copying
	Unresolved     int
	UnknownKinds   []string
}

// BuildDocument renders a resolved conversation into a markdown document.
func BuildDocument(conv *export.Conversation, messages []export.Message, renderer *Renderer) *Document {
	var (
		b          strings.Builder
		allAssets  []assets.Resolution
		unresolved int
	)

	b.WriteString("# " + conv.Title + "\n\n")
	if !conv.CreateTime.IsZero() {
		b.WriteString("*Created: " + conv.CreateTime.Format("2006-01-02 15:04") + "*")
		if conv.ModelSlug != "" {
			b.WriteString("  \n*Model: " + conv.ModelSlug + "*")
		}
		b.WriteString("\n\n")
	}

	for _, msg := range visibleMessages(messages, renderer.opts) {
		b.WriteString("## " + RoleLabel(msg.Role) + "\n\n")
		for _, block := range msg.Blocks {
			rendered := renderer.Render(block)
			for _, res := range rendered.Assets {
				allAssets = append(allAssets, res)
				if !res.Found {
					unresolved++
				}
			}
			if rendered.Omitted || strings.TrimSpace(rendered.Markdown) == "" {
				continue
			}
			b.WriteString(rendered.Markdown + "\n\n")
		}
	}

	return &Document{
		ConversationID: conv.ID,
		Title:          conv.Title,
		Filename:       OutputFilename(conv),
		Markdown:       strings.TrimRight(b.String(), "\n") + "\n",
		Assets:         allAssets,
		Unresolved:     unresolved,
		UnknownKinds:   renderer.UnknownKinds(),
	}
}

// visibleMessages filters the resolved sequence to what should appear in the
// output. Tool messages are export plumbing except for execution output and
// browsing quotes; thought blocks drop out unless the run opts in.
func visibleMessages(messages []export.Message, opts Options) []export.Message {
	var out []export.Message
	for _, msg := range messages {
		blocks := msg.Blocks
		if msg.Role == export.RoleTool {
			blocks = filterBlocks(blocks, func(b export.ContentBlock) bool {
				switch b.Kind {
				case export.KindExecutionOutput, export.KindTetherQuote, export.KindTetherBrowsing:
					return true
				}
				return false
			})
		}
		if !opts.IncludeThoughts {
			blocks = filterBlocks(blocks, func(b export.ContentBlock) bool {
				return b.Kind != export.KindThoughts
			})
		}
		if len(blocks) == 0 {
			continue
		}
		msg.Blocks = blocks
		out = append(out, msg)
	}
	return out
}

func filterBlocks(blocks []export.ContentBlock, keep func(export.ContentBlock) bool) []export.ContentBlock {
	var out []export.ContentBlock
	for _, b := range blocks {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

// RoleLabel is the human-readable heading for a message role.
func RoleLabel(role export.Role) string {
	switch role {
	case export.RoleUser:
		return "You"
	case export.RoleAssistant:
		return "ChatGPT"
	case export.RoleSystem:
		return "System"
	case export.RoleTool:
		return "Tool"
	}
	if role == "" {
		return "Unknown"
	}
	return strings.ToUpper(string(role)[:1]) + string(role)[1:]
}

var (
	nonSlugChars = regexp.MustCompile(`[^\w\s-]`)
	slugSpacing  = regexp.MustCompile(`[-\s]+`)
)

// Slugify converts a title to a filesystem-safe slug, at most maxLength
// bytes.
func Slugify(text string, maxLength int) string {
	var ascii strings.Builder
	for _, r := range text {
		if r < 128 && !unicode.IsControl(r) {
			ascii.WriteRune(r)
		}
	}
	s := strings.ToLower(ascii.String())
	s = nonSlugChars.ReplaceAllString(s, "")
	s = slugSpacing.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "untitled"
	}
	if len(s) > maxLength {
		s = strings.Trim(s[:maxLength], "-")
	}
	return s
}

// OutputFilename is the base name for a conversation's document:
// {slug}_{id8}.
func OutputFilename(conv *export.Conversation) string {
	id := conv.ID
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		id = "00000000"
	}
	return fmt.Sprintf("%s_%s", Slugify(conv.Title, 60), id)
}
