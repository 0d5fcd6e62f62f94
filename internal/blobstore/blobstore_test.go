package blobstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randBlob(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestChunkedStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	objects := NewMemoryObjects()
	store := NewChunkedStore(objects, 1024)

	for _, size := range []int{1, 1023, 1024, 1025, 10 * 1024} {
		data := randBlob(t, size)
		cid, err := store.Put(ctx, data)
		require.NoError(t, err)
		assert.Equal(t, ContentID(data), cid)
		assert.True(t, ValidContentID(cid))

		got, err := store.Get(ctx, cid)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, got), "size %d", size)
	}
}

func TestChunkedStore_ChunksAndDelete(t *testing.T) {
	ctx := context.Background()
	objects := NewMemoryObjects()
	store := NewChunkedStore(objects, 100)

	data := randBlob(t, 250)
	cid, err := store.Put(ctx, data)
	require.NoError(t, err)
	// 3 chunks plus the manifest.
	assert.Equal(t, 4, objects.Len())

	require.NoError(t, store.Delete(ctx, cid))
	assert.Equal(t, 0, objects.Len())

	_, err = store.Get(ctx, cid)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is fine.
	require.NoError(t, store.Delete(ctx, cid))
}

func TestChunkedStore_DeleteKeepsSharedChunks(t *testing.T) {
	ctx := context.Background()
	objects := NewMemoryObjects()
	store := NewChunkedStore(objects, 100)

	shared := randBlob(t, 100)
	a := append(append([]byte(nil), shared...), randBlob(t, 50)...)
	b := append(append([]byte(nil), shared...), randBlob(t, 70)...)
	cidA, err := store.Put(ctx, a)
	require.NoError(t, err)
	cidB, err := store.Put(ctx, b)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, cidA))
	got, err := store.Get(ctx, cidB)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(b, got))
	// Two chunks plus the manifest of b remain.
	assert.Equal(t, 3, objects.Len())
}

func TestChunkedStore_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	objects := NewMemoryObjects()
	store := NewChunkedStore(objects, 64)

	data := randBlob(t, 200)
	cid, err := store.Put(ctx, data)
	require.NoError(t, err)

	m, err := store.manifest(ctx, cid)
	require.NoError(t, err)
	key := chunkKey(cid, m.Chunks[1])
	chunk, err := objects.GetObject(ctx, key)
	require.NoError(t, err)
	chunk[0] ^= 0x01
	require.NoError(t, objects.PutObject(ctx, key, chunk))

	_, err = store.Get(ctx, cid)
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

func TestChunkedStore_ManifestMustMatchID(t *testing.T) {
	ctx := context.Background()
	objects := NewMemoryObjects()
	store := NewChunkedStore(objects, 64)

	a, err := store.Put(ctx, []byte("first blob"))
	require.NoError(t, err)
	b, err := store.Put(ctx, []byte("second blob"))
	require.NoError(t, err)

	// Point b's manifest at a's chunks.
	ma, err := objects.GetObject(ctx, manifestKey(a))
	require.NoError(t, err)
	require.NoError(t, objects.PutObject(ctx, manifestKey(b), ma))

	_, err = store.Get(ctx, b)
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

func TestChunkedStore_InvalidInput(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Put(ctx, nil)
	assert.Error(t, err)
	_, err = store.Get(ctx, "../etc/passwd")
	assert.Error(t, err)
	assert.Error(t, store.Delete(ctx, "xyz"))
}
