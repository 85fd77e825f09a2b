package storage

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rh-orchestrator/core/models"
)

func writeZip(t *testing.T, path string, entries map[string]string, order []string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(entries[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "bundle.zip")
	entries := map[string]string{
		"../../etc/passwel": "evil",
		"/abs/evil.txt":     "evil",
		"ok.txt":            "hello",
		"nested/deep.txt":   "world",
		"dir/":              "",
	}
	writeZip(t, src, entries, []string{"../../etc/passwel", "ok.txt", "/abs/evil.txt", "nested/deep.txt", "dir/"})

	dest := filepath.Join(root, "out", "job-1")
	files, rejected, err := ExtractZip(src, dest)
	require.NoError(t, err)

	require.Len(t, files, 2)
	assert.Equal(t, "deep.txt", filepath.Base(files[0]))
	assert.Equal(t, "ok.txt", filepath.Base(files[1]))

	data, err := os.ReadFile(filepath.Join(dest, "ok.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.Len(t, rejected, 2)
	var archiveErr *models.ArchiveError
	require.True(t, errors.As(rejected[0], &archiveErr))
	assert.Equal(t, "../../etc/passwel", archiveErr.Entry)

	// Nothing was written next to or above the destination.
	_, err = os.Stat(filepath.Join(root, "etc", "passwel"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "out", "etc", "passwel"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractZipCorruptArchive(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "broken.zip")
	require.NoError(t, os.WriteFile(src, []byte("not a zip"), 0o644))

	files, _, err := ExtractZip(src, filepath.Join(root, "out"))
	assert.Empty(t, files)
	var archiveErr *models.ArchiveError
	assert.True(t, errors.As(err, &archiveErr))
}

func TestIsZip(t *testing.T) {
	assert.True(t, IsZip("/tmp/OUT.ZIP"))
	assert.True(t, IsZip("a.zip"))
	assert.False(t, IsZip("a.png"))
	assert.False(t, IsZip("zip"))
}

func TestJSONStoreRoundTrip(t *testing.T) {
	store := NewJSONStore()
	path := filepath.Join(t.TempDir(), "data", "doc.json")

	var doc map[string]int
	found, err := store.Read(path, &doc)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Write(path, map[string]int{"a": 1}))
	found, err = store.Read(path, &doc)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, doc["a"])

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
	_, err = store.Read(path, &doc)
	assert.Error(t, err)
}
