package dadberr_test

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/mxkrt/dadb/internal/dadberr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapNil(t *testing.T) {
	assert.NoError(t, dadberr.Wrap("op", nil, dadberr.ErrNoSuchModel))
}

func TestWrapNoRowsTranslatesToNotFound(t *testing.T) {
	err := dadberr.Wrap("load model", sql.ErrNoRows, dadberr.ErrNoSuchModel)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dadberr.ErrNoSuchModel))
	assert.False(t, errors.Is(err, dadberr.ErrStore))
}

func TestWrapNoRowsWithoutSentinelFallsBackToStoreError(t *testing.T) {
	err := dadberr.Wrap("load model", sql.ErrNoRows, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dadberr.ErrStore))
}

func TestWrapOtherErrorJoinsStoreError(t *testing.T) {
	underlying := errors.New("disk full")
	err := dadberr.Wrap("write row", underlying, dadberr.ErrNoSuchModel)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dadberr.ErrStore))
	assert.True(t, errors.Is(err, underlying))
	assert.False(t, errors.Is(err, dadberr.ErrNoSuchModel))
}

func TestWrapf(t *testing.T) {
	err := dadberr.Wrapf(sql.ErrNoRows, dadberr.ErrNoSuchModelItem, "modelitem %s#%d", "File", 42)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dadberr.ErrNoSuchModelItem))
	assert.Contains(t, err.Error(), "File#42")
}

func TestValueErrorf(t *testing.T) {
	err := dadberr.ValueErrorf("size", "expected positive, got %d", -1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dadberr.ErrValue))
	assert.Contains(t, err.Error(), `"size"`)
	assert.Contains(t, err.Error(), "-1")
}
