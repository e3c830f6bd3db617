package blobstore_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/mxkrt/dadb/internal/backend"
	"github.com/mxkrt/dadb/internal/backend/sqlite"
	"github.com/mxkrt/dadb/internal/blobstore"
	"github.com/mxkrt/dadb/internal/catalog"
	"github.com/mxkrt/dadb/internal/dadberr"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*blobstore.Store, backend.Backend) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "blob.dadb")
	be, err := sqlite.Open(ctx, path, sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = be.Close() })
	require.NoError(t, catalog.CreateContentTables(ctx, be))
	return blobstore.New(be), be
}

func countRows(t *testing.T, be backend.Backend, table string) int64 {
	t.Helper()
	row := be.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table)
	var n int64
	require.NoError(t, row.Scan(&n))
	return n
}

// TestRoundTripBlob matches spec.md §8 property 1 and scenario S1.
func TestRoundTripBlob(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	data := []byte{0, 1, 2, 3, 4, 5, 6}
	id, err := s.InsertData(ctx, bytes.NewReader(data))
	require.NoError(t, err)

	h, r, err := s.GetData(ctx, id)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.Equal(t, int64(len(data)), h.Size)

	sum := sha256.Sum256(data)
	require.Equal(t, hex.EncodeToString(sum[:]), h.SHA256)
}

// TestBlockSplit matches scenario S3.
func TestBlockSplit(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	data := make([]byte, blobstore.BlockSize+1)
	for i := range data {
		data[i] = byte(i)
	}
	id, err := s.InsertData(ctx, bytes.NewReader(data))
	require.NoError(t, err)

	h, r, err := s.GetData(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), h.Size)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

// TestBlockDedup matches spec.md §8 property 2: two streams sharing a
// BlockSize-aligned prefix produce exactly one block row per distinct hash.
func TestBlockDedup(t *testing.T) {
	ctx := context.Background()
	s, be := newStore(t)

	prefix := bytes.Repeat([]byte{0xAB}, blobstore.BlockSize)
	streamA := append(append([]byte{}, prefix...), []byte("tail-a")...)
	streamB := append(append([]byte{}, prefix...), []byte("tail-b")...)

	idA, err := s.InsertData(ctx, bytes.NewReader(streamA))
	require.NoError(t, err)
	idB, err := s.InsertData(ctx, bytes.NewReader(streamB))
	require.NoError(t, err)
	require.NotEqual(t, idA, idB)

	// one block for the shared 50MiB prefix, one per distinct tail.
	require.Equal(t, int64(3), countRows(t, be, "xblock"))

	_, rA, err := s.GetData(ctx, idA)
	require.NoError(t, err)
	gotA, err := io.ReadAll(rA)
	require.NoError(t, err)
	require.Equal(t, streamA, gotA)
}

func TestInsertDataDeduplicatesIdenticalStream(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	data := []byte("same bytes every time")
	id1, err := s.InsertData(ctx, bytes.NewReader(data))
	require.NoError(t, err)
	id2, err := s.InsertData(ctx, bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestGetDataUnknownID(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	_, _, err := s.GetData(ctx, 99999)
	require.Error(t, err)
	require.True(t, errors.Is(err, dadberr.ErrNoSuchDataObject))
}

func TestRegisterHashMetadataOnlyThenAttachBlocks(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	data := []byte("metadata first, bytes later")
	sum := sha256.Sum256(data)
	id, err := s.RegisterHash(ctx, "md5ignored", "sha1ignored", hex.EncodeToString(sum[:]), int64(len(data)))
	require.NoError(t, err)

	_, _, err = s.GetData(ctx, id)
	require.Error(t, err)
	require.True(t, errors.Is(err, dadberr.ErrNoSuchDataObject))

	require.NoError(t, s.AttachBlocks(ctx, id, bytes.NewReader(data)))

	h, r, err := s.GetData(ctx, id)
	require.NoError(t, err)
	require.True(t, h.Stored)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestSeek(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	data := []byte("0123456789")
	id, err := s.InsertData(ctx, bytes.NewReader(data))
	require.NoError(t, err)

	_, r, err := s.GetData(ctx, id)
	require.NoError(t, err)

	pos, err := r.Seek(5, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, int64(5), pos)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, []byte("56789"), rest)
}
