package storage

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveOpenDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)

	name, err := store.Save("2024/cert-1.pdf", []byte("%PDF-1.3"))
	require.NoError(t, err)
	assert.Equal(t, "2024/cert-1.pdf", name)
	_, err = os.Stat(filepath.Join(dir, "2024", "cert-1.pdf.tmp"))
	assert.True(t, os.IsNotExist(err))

	rc, err := store.Open(name)
	require.NoError(t, err)
	streamed, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "%PDF-1.3", string(streamed))

	require.NoError(t, store.Delete(name))
	_, err = store.Open(name)
	assert.Error(t, err)
	require.NoError(t, store.Delete(name))
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("../escape.pdf", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = store.Open("/etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidPath)

	assert.ErrorIs(t, store.Delete("a/../../b.pdf"), ErrInvalidPath)
}
