package objectstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mferrors "github.com/z-wentao/meetflow/pkg/errors"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(filepath.Join(t.TempDir(), "objects"), 4)
	require.NoError(t, err)

	content := []byte("0123456789")
	src := filepath.Join(t.TempDir(), "meeting.mp4")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	var reports [][2]int64
	id, err := store.Put(ctx, src, "meeting.mp4", MimeType(src), func(sent, total int64) {
		reports = append(reports, [2]int64{sent, total})
	})
	require.NoError(t, err)
	assert.Equal(t, "mp4", Extension(id))
	assert.Equal(t, [][2]int64{{4, 10}, {8, 10}, {10, 10}}, reports)

	dest := filepath.Join(t.TempDir(), "download.mp4")
	require.NoError(t, store.Get(ctx, id, dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))

	require.NoError(t, store.Delete(ctx, id))
	assert.True(t, mferrors.IsNotFound(store.Delete(ctx, id)))
	assert.True(t, mferrors.IsNotFound(store.Get(ctx, id, dest)))
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), 0)
	require.NoError(t, err)

	for _, id := range []string{"", "../etc/passwd", "a/b", ".."} {
		err := store.Delete(context.Background(), id)
		assert.ErrorIs(t, err, mferrors.ErrValidation, id)
	}
}

func TestLocalStorePutCancelled(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "objects")
	store, err := NewLocalStore(dir, 2)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(src, []byte("abcdef"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Put(ctx, src, "a.wav", "audio/wav", nil)
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalStorePutMissingSource(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), 0)
	require.NoError(t, err)

	_, err = store.Put(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), "missing.mp4", "video/mp4", nil)
	assert.Error(t, err)
}
