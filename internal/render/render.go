// Package render turns parsed content blocks into markdown and assembles
// per-conversation documents. Rendering is total: every content kind,
// including unrecognized ones, produces output or an explicit omission —
// never an error.
package render

import (
	"fmt"
	"strings"

	"chatport/internal/assets"
	"chatport/internal/export"
)

// Options controls a generation run's rendering behavior. One Options value
// is propagated to every render call of the run.
type Options struct {
	// IncludeThoughts renders assistant thinking blocks as quoted asides.
	// Off by default; thoughts are suppressed entirely.
	IncludeThoughts bool
}

// RenderedBlock is the normalized output of rendering one content block.
type RenderedBlock struct {
	Markdown string
	Assets   []assets.Resolution // pointers referenced by this block, resolved or not
	Omitted  bool                // block contributes nothing (suppressed thoughts, user context)
	Unknown  bool                // kind outside the recognized set, rendered as plain text
}

// Renderer renders one conversation's blocks. It holds the conversation's
// asset resolver so multimodal blocks get sequential local filenames.
type Renderer struct {
	opts         Options
	resolver     *assets.Resolver
	unknownKinds []string
}

// NewRenderer returns a renderer for a single conversation.
func NewRenderer(opts Options, resolver *assets.Resolver) *Renderer {
	return &Renderer{opts: opts, resolver: resolver}
}

// UnknownKinds lists the raw tags of unrecognized kinds seen so far.
func (r *Renderer) UnknownKinds() []string { return r.unknownKinds }

// Render dispatches on the block's kind. Unrecognized kinds fall through to
// plain text and are counted, never escalated.
func (r *Renderer) Render(block export.ContentBlock) RenderedBlock {
	switch block.Kind {
	case export.KindText:
		return RenderedBlock{Markdown: block.Text}

	case export.KindCode:
		return RenderedBlock{Markdown: fencedBlock(block.Text, block.Language)}

	case export.KindMultimodal:
		return r.renderMultimodal(block)

	case export.KindThoughts:
		if !r.opts.IncludeThoughts {
			return RenderedBlock{Omitted: true}
		}
		return RenderedBlock{Markdown: quotedAside("Thoughts", block.Summary, block.Text)}

	case export.KindReasoningRecap:
		return RenderedBlock{Markdown: "*" + strings.TrimSpace(block.Text) + "*"}

	case export.KindExecutionOutput:
		return RenderedBlock{Markdown: fencedBlock(block.Text, "")}

	case export.KindTetherQuote:
		return RenderedBlock{Markdown: tetherQuote(block)}

	case export.KindTetherBrowsing:
		return RenderedBlock{Markdown: "*" + strings.TrimSpace(block.Text) + "*"}

	case export.KindComputerOutput:
		// Screenshots referenced by computer_output are never materialized
		// in the export; emit the fixed placeholder.
		return RenderedBlock{Markdown: "*[Computer use screenshot — not available in export]*"}

	case export.KindSystemError:
		return RenderedBlock{Markdown: "**" + strings.TrimSpace(block.Text) + "**"}

	case export.KindUserContext:
		return RenderedBlock{Omitted: true}

	default:
		r.unknownKinds = append(r.unknownKinds, block.RawKind)
		return RenderedBlock{Markdown: block.Text, Unknown: true}
	}
}

// renderMultimodal interleaves text parts with image references in original
// order. Unresolved pointers become a visible placeholder rather than a
// broken link.
func (r *Renderer) renderMultimodal(block export.ContentBlock) RenderedBlock {
	var (
		chunks      []string
		resolutions []assets.Resolution
	)
	for _, part := range block.Parts {
		if part.Asset == nil {
			if strings.TrimSpace(part.Text) != "" {
				chunks = append(chunks, part.Text)
			}
			continue
		}
		res := r.resolver.Resolve(*part.Asset)
		resolutions = append(resolutions, res)
		if res.Found {
			chunks = append(chunks, fmt.Sprintf("![image](%s)", res.LocalName))
		} else {
			chunks = append(chunks, fmt.Sprintf("*[Image not available in export: %s]*", shortPointer(res.Pointer)))
		}
	}
	return RenderedBlock{
		Markdown: strings.Join(chunks, "\n\n"),
		Assets:   resolutions,
	}
}

func fencedBlock(text, language string) string {
	fence := "```"
	// Widen the fence if the payload itself contains one.
	for strings.Contains(text, fence) {
		fence += "`"
	}
	return fence + language + "\n" + strings.TrimRight(text, "\n") + "\n" + fence
}

func quotedAside(label, summary, text string) string {
	var b strings.Builder
	b.WriteString("> **" + label + "**")
	if strings.TrimSpace(summary) != "" {
		b.WriteString(": " + strings.TrimSpace(summary))
	}
	b.WriteString("\n>\n")
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		b.WriteString("> " + line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func tetherQuote(block export.ContentBlock) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(block.Text, "\n"), "\n") {
		b.WriteString("> " + line + "\n")
	}
	source := block.Domain
	if source == "" {
		source = block.URL
	}
	if source != "" {
		b.WriteString(">\n> — " + source)
		if block.URL != "" && block.Domain != "" {
			b.WriteString(" (" + block.URL + ")")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func shortPointer(pointer string) string {
	const scheme = "sediment://"
	id := strings.TrimPrefix(pointer, scheme)
	if len(id) > 24 {
		id = id[:24] + "…"
	}
	return id
}
