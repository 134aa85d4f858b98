package render

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Writer is the sink a generation run emits documents to. The core hands a
// Writer the assembled document plus its resolved assets and does not care
// how they land on disk.
type Writer interface {
	// Write persists one document and returns the path of the primary
	// artifact.
	Write(doc *Document, subdir string) (string, error)
}

// DirWriter writes a markdown file plus its asset files into a per-project
// subdirectory of the output root.
type DirWriter struct {
	Root string
}

func (w *DirWriter) Write(doc *Document, subdir string) (string, error) {
	dir := filepath.Join(w.Root, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir %s: %w", dir, err)
	}

	for _, res := range doc.Assets {
		if !res.Found {
			continue
		}
		if err := copyFile(res.SourcePath, filepath.Join(dir, res.LocalName)); err != nil {
			return "", fmt.Errorf("failed to copy asset %s: %w", res.LocalName, err)
		}
	}

	path := filepath.Join(dir, doc.Filename+".md")
	if err := os.WriteFile(path, []byte(doc.Markdown), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// EmbeddedWriter writes a single self-contained markdown file per
// conversation, with images inlined as base64 data URIs.
type EmbeddedWriter struct {
	Root string
}

func (w *EmbeddedWriter) Write(doc *Document, subdir string) (string, error) {
	dir := filepath.Join(w.Root, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir %s: %w", dir, err)
	}

	markdown := doc.Markdown
	for _, res := range doc.Assets {
		if !res.Found {
			continue
		}
		uri, err := dataURI(res.SourcePath)
		if err != nil {
			// Leave the local reference in place; the file link simply
			// dangles, same as an unresolved pointer.
			continue
		}
		markdown = strings.ReplaceAll(markdown, "]("+res.LocalName+")", "]("+uri+")")
	}

	path := filepath.Join(dir, doc.Filename+".md")
	if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

func dataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mime := "image/png"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	case ".gif":
		mime = "image/gif"
	case ".webp":
		mime = "image/webp"
	case ".svg":
		mime = "image/svg+xml"
	case ".bmp":
		mime = "image/bmp"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
