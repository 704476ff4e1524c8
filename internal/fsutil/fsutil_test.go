package fsutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFileSystem(t *testing.T) {
	m := NewMemoryFileSystem()
	m.WriteFile("./config/nav.json", []byte(`{}`))

	info, err := m.Stat("config/nav.json")
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Size())

	data, err := m.ReadFile("/config/nav.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	f, err := m.Open("config/nav.json")
	require.NoError(t, err)
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))
	require.NoError(t, f.Close())

	_, err = m.Stat("missing.json")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	m.WriteFile("config/nav.json", []byte(`{"a":1}`))
	data, err = m.ReadFile("config/nav.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}

func TestOSFileSystem(t *testing.T) {
	p := filepath.Join(t.TempDir(), "rec.txt")
	require.NoError(t, os.WriteFile(p, []byte("line\n"), 0o644))

	var fsys FileSystem = OSFileSystem{}
	data, err := fsys.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))

	info, err := fsys.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	f, err := fsys.Open(p)
	require.NoError(t, err)
	f.Close()

	_, err = fsys.Stat(filepath.Join(t.TempDir(), "none"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
