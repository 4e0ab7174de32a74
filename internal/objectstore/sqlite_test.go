package objectstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "objects.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteUploadDownload(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)

	id, err := store.Upload(ctx, []byte("ID3 audio"), "audio", "clip.mp3")
	require.NoError(t, err)
	assert.True(t, validID(id), "expected uuid object id, got %q", id)

	data, err := store.Download(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3 audio"), data)

	exists, err := store.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = store.Download(ctx, "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestSQLiteMetadataLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)

	id, err := store.Upload(ctx, []byte("x"), "audio", "clip.mp3")
	require.NoError(t, err)

	meta, err := store.GetMetadata(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, meta, "fresh objects carry no metadata")

	require.NoError(t, store.SetMetadata(ctx, id, []byte(`{"state":"START"}`)))
	require.NoError(t, store.SetMetadata(ctx, id, []byte(`{"state":"UPLOAD_COMPLETE"}`)))

	meta, err = store.GetMetadata(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"UPLOAD_COMPLETE"}`, string(meta))

	err = store.SetMetadata(ctx, "missing", []byte(`{}`))
	assert.ErrorIs(t, err, ErrObjectNotFound)
	_, err = store.GetMetadata(ctx, "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestSQLiteListOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	first, err := store.Upload(ctx, []byte("a"), "audio", "a.mp3")
	require.NoError(t, err)
	second, err := store.Upload(ctx, []byte("bb"), "audio", "nested/b.mp3")
	require.NoError(t, err)
	_, err = store.Upload(ctx, []byte("text"), "transcripts", "a.txt")
	require.NoError(t, err)
	require.NoError(t, store.SetMetadata(ctx, second, []byte(`{"state":"START"}`)))

	objects, err := store.List(ctx, "audio")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, first, objects[0].ID)
	assert.False(t, objects[0].HasMetadata)
	assert.Equal(t, second, objects[1].ID)
	assert.Equal(t, "b.mp3", objects[1].Name)
	assert.EqualValues(t, 2, objects[1].Size)
	assert.True(t, objects[1].HasMetadata)
	assert.True(t, objects[0].CreatedAt.Before(objects[1].CreatedAt))
}

func TestSQLiteRejectsInvalidFolder(t *testing.T) {
	store := openTestSQLite(t)
	_, err := store.Upload(context.Background(), []byte("x"), "../etc", "f")
	assert.ErrorIs(t, err, ErrInvalidFolder)
}

func TestSQLiteReopenKeepsObjects(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "objects.db")
	store, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	id, err := store.Upload(ctx, []byte("persisted"), "audio", "a.mp3")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	data, err := reopened.Download(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(data))
}
