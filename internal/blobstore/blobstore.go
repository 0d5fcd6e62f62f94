// Package blobstore keeps large record ciphertexts off the ledger in a
// content-addressed store. Content ids are the hex SHA-256 of the stored
// bytes and every read is verified against its id.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	chunker "github.com/ipfs/boxo/chunker"
)

var (
	// ErrNotFound is returned when no object exists for a content id.
	ErrNotFound = errors.New("blobstore: not found")

	// ErrDigestMismatch is returned when stored bytes do not hash to their id.
	ErrDigestMismatch = errors.New("blobstore: content digest mismatch")
)

// DefaultChunkSize is the fixed chunk size used when none is configured.
const DefaultChunkSize = 256 * 1024

// Store is a content-addressed blob store.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, cid string) ([]byte, error)
	Delete(ctx context.Context, cid string) error
}

// Objects is the key/value object backend a chunked Store is built on.
type Objects interface {
	PutObject(ctx context.Context, key string, data []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
}

// ContentID returns the id data is stored under.
func ContentID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidContentID reports whether cid has the form ContentID produces.
func ValidContentID(cid string) bool {
	if len(cid) != 2*sha256.Size {
		return false
	}
	_, err := hex.DecodeString(cid)
	return err == nil
}

type manifest struct {
	Size   int      `json:"size"`
	Chunks []string `json:"chunks"`
}

// ChunkedStore splits blobs into fixed-size chunks addressed by their own
// digest and records the chunk list in a manifest stored under the blob id.
// Chunk keys are scoped to the blob that wrote them, so identical chunks of
// two different blobs are stored twice and deleting one blob never touches
// the other.
type ChunkedStore struct {
	objects   Objects
	chunkSize int64
}

// NewChunkedStore returns a Store over objects. chunkSize <= 0 selects
// DefaultChunkSize.
func NewChunkedStore(objects Objects, chunkSize int64) *ChunkedStore {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkedStore{objects: objects, chunkSize: chunkSize}
}

func manifestKey(cid string) string { return "blobs/" + cid }
func chunkKey(cid, digest string) string { return "chunks/" + cid + "/" + digest }

// Put stores data and returns its content id. Chunks are written before the
// manifest so a visible manifest always has its chunks.
func (s *ChunkedStore) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("blobstore: empty blob")
	}
	cid := ContentID(data)

	m := manifest{Size: len(data)}
	splitter := chunker.NewSizeSplitter(bytes.NewReader(data), s.chunkSize)
	for {
		chunk, err := splitter.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("split blob: %w", err)
		}
		digest := ContentID(chunk)
		if err := s.objects.PutObject(ctx, chunkKey(cid, digest), chunk); err != nil {
			return "", fmt.Errorf("put chunk %s: %w", digest, err)
		}
		m.Chunks = append(m.Chunks, digest)
	}

	body, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	if err := s.objects.PutObject(ctx, manifestKey(cid), body); err != nil {
		return "", fmt.Errorf("put manifest %s: %w", cid, err)
	}
	return cid, nil
}

// Get returns the blob stored under cid after verifying every chunk and the
// reassembled blob.
func (s *ChunkedStore) Get(ctx context.Context, cid string) ([]byte, error) {
	if !ValidContentID(cid) {
		return nil, fmt.Errorf("blobstore: invalid content id %q", cid)
	}
	m, err := s.manifest(ctx, cid)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, m.Size)
	for _, digest := range m.Chunks {
		chunk, err := s.objects.GetObject(ctx, chunkKey(cid, digest))
		if err != nil {
			return nil, fmt.Errorf("get chunk %s: %w", digest, err)
		}
		if ContentID(chunk) != digest {
			return nil, fmt.Errorf("%w: chunk %s", ErrDigestMismatch, digest)
		}
		out = append(out, chunk...)
	}
	if len(out) != m.Size || ContentID(out) != cid {
		return nil, fmt.Errorf("%w: blob %s", ErrDigestMismatch, cid)
	}
	return out, nil
}

// Delete removes the manifest and the chunks written for cid. Missing objects
// are ignored. Putting the same bytes twice yields one blob, and deleting it
// removes it for both writers.
func (s *ChunkedStore) Delete(ctx context.Context, cid string) error {
	if !ValidContentID(cid) {
		return fmt.Errorf("blobstore: invalid content id %q", cid)
	}
	m, err := s.manifest(ctx, cid)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.objects.DeleteObject(ctx, manifestKey(cid)); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	for _, digest := range m.Chunks {
		if err := s.objects.DeleteObject(ctx, chunkKey(cid, digest)); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

func (s *ChunkedStore) manifest(ctx context.Context, cid string) (*manifest, error) {
	body, err := s.objects.GetObject(ctx, manifestKey(cid))
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("blobstore: corrupt manifest %s: %w", cid, err)
	}
	return &m, nil
}
