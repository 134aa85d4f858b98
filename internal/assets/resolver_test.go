package assets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatport/internal/export"
)

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("img"), 0o644))
	}
}

func TestBuildIndex_NameFormats(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"file_0000abcd-sanitized.png",
		"file_0000beef-6acab26c-1111-2222-3333-90.jpg",
		"file-YUUze1wx-dedc62b2-913.png",
		"nested/dir/file_0000cafe-sanitized.webp",
		"unrelated.png",   // no file prefix, not indexed
		"file_plain.txt",  // not an image extension
		"notes/readme.md", // ignored entirely
	)

	ix, err := BuildIndex(root)
	require.NoError(t, err)
	assert.Equal(t, 4, ix.Len())

	path, ok := ix.Lookup("sediment://file_0000abcd")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "file_0000abcd-sanitized.png"), path)

	_, ok = ix.Lookup("sediment://file_0000beef")
	assert.True(t, ok)

	_, ok = ix.Lookup("sediment://file-YUUze1wx")
	assert.True(t, ok)

	_, ok = ix.Lookup("sediment://file_0000cafe")
	assert.True(t, ok, "nested directories are walked")
}

func TestLookup_PointerFormats(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "file_0000abcd-sanitized.png")
	ix, err := BuildIndex(root)
	require.NoError(t, err)

	t.Run("direct", func(t *testing.T) {
		_, ok := ix.Lookup("sediment://file_0000abcd")
		assert.True(t, ok)
	})
	t.Run("hash fragments", func(t *testing.T) {
		_, ok := ix.Lookup("sediment://abc123#file_0000abcd#p_5.jpg")
		assert.True(t, ok)
	})
	t.Run("wrong scheme", func(t *testing.T) {
		_, ok := ix.Lookup("https://file_0000abcd")
		assert.False(t, ok)
	})
	t.Run("no match", func(t *testing.T) {
		_, ok := ix.Lookup("sediment://file_ffffffff")
		assert.False(t, ok)
	})
}

func TestResolver_SequentialNaming(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"file_0000aaaa-sanitized.png",
		"file_0000bbbb-sanitized.jpg",
	)
	ix, err := BuildIndex(root)
	require.NoError(t, err)

	r := NewResolver(ix)

	first := r.Resolve(export.AssetPointer{Pointer: "sediment://file_0000aaaa"})
	require.True(t, first.Found)
	assert.Equal(t, "image_001.png", first.LocalName)

	second := r.Resolve(export.AssetPointer{Pointer: "sediment://file_0000bbbb"})
	require.True(t, second.Found)
	assert.Equal(t, "image_002.jpg", second.LocalName)

	// A second conversation's resolver numbers independently.
	other := NewResolver(ix)
	res := other.Resolve(export.AssetPointer{Pointer: "sediment://file_0000bbbb"})
	assert.Equal(t, "image_001.jpg", res.LocalName)
}

func TestResolver_UnresolvedIsDeterministic(t *testing.T) {
	ix, err := BuildIndex(t.TempDir())
	require.NoError(t, err)

	r := NewResolver(ix)
	for i := 0; i < 3; i++ {
		res := r.Resolve(export.AssetPointer{Pointer: "sediment://xyz"})
		assert.False(t, res.Found)
		assert.Empty(t, res.LocalName)
		assert.Equal(t, "sediment://xyz", res.Pointer)
	}
	assert.Equal(t, 3, r.Unresolved())

	// Unresolved pointers must not consume sequence numbers.
	r2 := NewResolver(ix)
	r2.Resolve(export.AssetPointer{Pointer: "sediment://missing"})
	assert.Equal(t, 1, r2.next)
}
