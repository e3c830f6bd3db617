package dadb_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mxkrt/dadb/internal/dadberr"
	"github.com/stretchr/testify/require"

	"github.com/mxkrt/dadb"
)

// TestNestedTransactionOnlyOuterCommits matches spec.md §8 properties 4 and 5
// and scenario S2.
func TestNestedTransactionOnlyOuterCommits(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "repo.dadb")
	db, err := dadb.Create(ctx, path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	outerStarted, err := db.BeginTransaction(ctx)
	require.NoError(t, err)
	require.True(t, outerStarted)

	innerStarted, err := db.BeginTransaction(ctx)
	require.NoError(t, err)
	require.False(t, innerStarted, "nested caller must join, not start, a transaction")

	id, err := db.InsertData(ctx, bytes.NewReader([]byte("committed bytes")))
	require.NoError(t, err)

	require.NoError(t, db.EndTransaction(innerStarted))
	require.NoError(t, db.EndTransaction(outerStarted))

	_, _, err = db.GetData(ctx, id)
	require.NoError(t, err)
}

func TestRollbackDiscardsUncommittedWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "repo.dadb")
	db, err := dadb.Create(ctx, path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	started, err := db.BeginTransaction(ctx)
	require.NoError(t, err)
	require.True(t, started)

	id, err := db.InsertData(ctx, bytes.NewReader([]byte("rolled back bytes")))
	require.NoError(t, err)

	ok, err := db.RollbackTransaction()
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = db.GetData(ctx, id)
	require.Error(t, err)
	require.True(t, errors.Is(err, dadberr.ErrNoSuchDataObject))
}

func TestRollbackWithNoActiveTransactionReportsFalse(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "repo.dadb")
	db, err := dadb.Create(ctx, path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ok, err := db.RollbackTransaction()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEndTransactionNoopWhenNotStarted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "repo.dadb")
	db, err := dadb.Create(ctx, path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, db.EndTransaction(false))
}
