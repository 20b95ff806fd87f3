package blobstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStorePutAndGetRange(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	require.NoError(t, store.Put(ctx, "a/b.ipa", bytes.NewReader([]byte("0123456789")), 10))

	info, err := store.Head(ctx, "a/b.ipa")
	require.NoError(t, err)
	require.Equal(t, int64(10), info.Size)

	rc, err := store.GetRange(ctx, "a/b.ipa", 2, 4)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "2345", string(data))
}

func TestMemStoreHeadMissingKey(t *testing.T) {
	_, err := NewMemStore().Head(context.Background(), "nope")
	require.Error(t, err)
}

func TestMemStoreMultipartUploadOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	handle, err := store.Multipart(ctx, "packages/acct/bundle/task.ipa")
	require.NoError(t, err)

	etag2, err := handle.UploadPart(ctx, 2, []byte("world"))
	require.NoError(t, err)
	etag1, err := handle.UploadPart(ctx, 1, []byte("hello "))
	require.NoError(t, err)

	require.NoError(t, handle.Complete(ctx, []CompletedPart{
		{PartNumber: 1, ETag: etag1},
		{PartNumber: 2, ETag: etag2},
	}))

	rc, err := store.GetRange(ctx, "packages/acct/bundle/task.ipa", 0, 0)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestMemStoreListPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.Put(ctx, "packages/a/1.ipa", bytes.NewReader(nil), 0))
	require.NoError(t, store.Put(ctx, "packages/a/2.ipa", bytes.NewReader(nil), 0))
	require.NoError(t, store.Put(ctx, "packages/b/1.ipa", bytes.NewReader(nil), 0))

	page, err := store.List(ctx, "packages/a/", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Keys, 2)
}
