// Package assets resolves sediment:// asset pointers to local files in the
// export's asset pool. The pool's filenames only partially correlate with
// pointer identifiers, so resolution is expected to be partial; unresolved
// pointers are reported, never fatal.
package assets

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"chatport/internal/export"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".gif":  true,
	".bmp":  true,
	".svg":  true,
}

// Index maps asset file identifiers to paths in the export pool. Built once
// per run and shared read-only across conversations.
type Index struct {
	byID map[string]string
}

// BuildIndex walks the export root and indexes every image file by the file
// identifier embedded in its name. Recognized name shapes:
//
//	file_HEXID-sanitized.ext
//	file_HEXID-UUID.ext
//	file-ALPHAID-UUID-NNN.ext
//
// The identifier is everything up to the first dash after the file_ / file-
// prefix.
func BuildIndex(exportRoot string) (*Index, error) {
	ix := &Index{byID: make(map[string]string)}

	err := filepath.WalkDir(exportRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !imageExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		name := d.Name()
		for _, prefix := range []string{"file_", "file-"} {
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			rest := name[len(prefix):]
			if dash := strings.Index(rest, "-"); dash > 0 {
				ix.byID[prefix+rest[:dash]] = path
			} else {
				stem := strings.TrimSuffix(name, filepath.Ext(name))
				ix.byID[stem] = path
			}
			break
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to index asset pool under %s: %w", exportRoot, err)
	}
	return ix, nil
}

// Len reports how many asset files are indexed.
func (ix *Index) Len() int { return len(ix.byID) }

// Lookup maps a sediment:// pointer to an indexed file path. Supported
// pointer shapes:
//
//	sediment://file_HEXID
//	sediment://file-ALPHAID
//	sediment://hash#file_HEXID#page.ext
func (ix *Index) Lookup(pointer string) (string, bool) {
	const scheme = "sediment://"
	if !strings.HasPrefix(pointer, scheme) {
		return "", false
	}
	rest := pointer[len(scheme):]

	if strings.Contains(rest, "#") {
		for _, part := range strings.Split(rest, "#") {
			if strings.HasPrefix(part, "file_") || strings.HasPrefix(part, "file-") {
				path, ok := ix.byID[part]
				return path, ok
			}
		}
		return "", false
	}

	path, ok := ix.byID[rest]
	return path, ok
}

// Resolution maps one pointer to a local filename, or marks it unresolved so
// the renderer emits a placeholder instead of broken output.
type Resolution struct {
	Pointer    string
	Found      bool
	SourcePath string // file in the export pool to copy
	LocalName  string // conversation-scoped name, e.g. image_003.png
}

// Resolver allocates sequential local filenames for one conversation's
// assets. Numbering starts at 1 and is independent per conversation, so
// conversations can be processed in parallel without coordination.
type Resolver struct {
	index      *Index
	next       int
	unresolved int
}

// NewResolver returns a resolver scoped to a single conversation.
func NewResolver(index *Index) *Resolver {
	return &Resolver{index: index, next: 1}
}

// Resolve maps a pointer to a local filename via the index. It never fails:
// pointers without a match return a Resolution with Found unset.
func (r *Resolver) Resolve(ptr export.AssetPointer) Resolution {
	source, ok := r.index.Lookup(ptr.Pointer)
	if !ok {
		r.unresolved++
		return Resolution{Pointer: ptr.Pointer}
	}
	local := fmt.Sprintf("image_%03d%s", r.next, strings.ToLower(filepath.Ext(source)))
	r.next++
	return Resolution{
		Pointer:    ptr.Pointer,
		Found:      true,
		SourcePath: source,
		LocalName:  local,
	}
}

// Unresolved reports how many pointers failed to resolve so far.
func (r *Resolver) Unresolved() int { return r.unresolved }
