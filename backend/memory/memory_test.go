package memory_test

import (
	"io"
	"testing"

	"github.com/grahambrooks/gitkit/backend"
	"github.com/grahambrooks/gitkit/backend/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomicThenOpen(t *testing.T) {
	b := memory.New()
	require.NoError(t, b.WriteAtomic("objects/af/5626b4", []byte("hello"), 0644))

	f, err := b.Open("objects/af/5626b4")
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestRenameIsAtomicAndOverwrites(t *testing.T) {
	b := memory.New()
	require.NoError(t, b.WriteAtomic("refs/heads/main.lock", []byte("deadbeef\n"), 0644))
	require.NoError(t, b.WriteAtomic("refs/heads/main", []byte("old\n"), 0644))
	require.NoError(t, b.Rename("refs/heads/main.lock", "refs/heads/main"))

	data, err := backend.ReadFile(b, "refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef\n", string(data))

	exists, err := b.Exists("refs/heads/main.lock")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReadDirListsImmediateChildren(t *testing.T) {
	b := memory.New()
	require.NoError(t, b.WriteAtomic("objects/ab/1111", nil, 0644))
	require.NoError(t, b.WriteAtomic("objects/ab/2222", nil, 0644))
	require.NoError(t, b.WriteAtomic("objects/cd/3333", nil, 0644))

	entries, err := b.ReadDir("objects")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "ab", entries[0].Name)
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "cd", entries[1].Name)
}

func TestSymlinkReadlink(t *testing.T) {
	b := memory.New()
	require.NoError(t, b.Symlink("../target", "link"))
	target, err := b.Readlink("link")
	require.NoError(t, err)
	assert.Equal(t, "../target", target)
}

func TestMkdirAllThenRemoveAll(t *testing.T) {
	b := memory.New()
	require.NoError(t, b.MkdirAll("a/b/c"))
	exists, err := b.Exists("a/b/c")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, b.RemoveAll("a"))
	exists, err = b.Exists("a/b/c")
	require.NoError(t, err)
	assert.False(t, exists)
}
