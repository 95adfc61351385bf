package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.hcl", "sub/b.hcl", "sub/c.txt"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}

	files, err := FindFiles(".hcl", dir, filepath.Join(dir, "a.hcl"), filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.hcl"),
		filepath.Join(dir, "sub", "b.hcl"),
	}, files)
}

func TestFindFiles_SingleFileWrongExtension(t *testing.T) {
	p := filepath.Join(t.TempDir(), "scene.txt")
	require.NoError(t, os.WriteFile(p, nil, 0o644))

	files, err := FindFiles(".hcl", p)
	require.NoError(t, err)
	assert.Empty(t, files)
}
