package pathresolve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceHashDeterministic(t *testing.T) {
	h1 := WorkspaceHash("/tmp/ws1")
	h2 := WorkspaceHash("/tmp/ws1")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, HashLength)
}

func TestWorkspaceHashDiffersByPath(t *testing.T) {
	assert.NotEqual(t, WorkspaceHash("/tmp/ws1"), WorkspaceHash("/tmp/ws2"))
}

func TestCanonicalizeResolvesSymlinks(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	require.NoError(t, os.MkdirAll(real, 0o755))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(real, link))

	canon, err := Canonicalize(link)
	require.NoError(t, err)
	assert.Equal(t, real, canon)
}

func TestEnsureLayoutCreatesAllDirs(t *testing.T) {
	base := filepath.Join(t.TempDir(), BaseDirName)
	r := New(base)
	require.NoError(t, r.EnsureLayout())

	for _, d := range []string{base, r.ProjectMemoryDir(), r.LocalMemoryDir(), r.BackupsDir(), r.LogsDir()} {
		assert.DirExists(t, d)
	}
}

func TestIsUnderBase(t *testing.T) {
	base := filepath.Join(t.TempDir(), BaseDirName)
	r := New(base)
	assert.True(t, r.IsUnderBase(filepath.Join(base, "logs", "server.log")))
	assert.True(t, r.IsUnderBase(base))
	assert.False(t, r.IsUnderBase(filepath.Join(base+"-other", "x")))
	assert.False(t, r.IsUnderBase("/tmp/some/other/path"))
}

func TestDirectoryNameIncludesHashAndBase(t *testing.T) {
	hash := WorkspaceHash("/tmp/myproj")
	name := DirectoryName("/tmp/myproj", hash)
	assert.Equal(t, "myproj_"+hash, name)
}
