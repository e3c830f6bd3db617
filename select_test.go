package dadb_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mxkrt/dadb/internal/catalog"
	"github.com/mxkrt/dadb/internal/datatype"
	"github.com/stretchr/testify/require"

	"github.com/mxkrt/dadb"
)

func TestSelectAgainstFieldInfoView(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "repo.dadb")
	db, err := dadb.Create(ctx, path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.RegisterModel(ctx, catalog.ModelDefinition{
		Name: "Asset",
		Fields: []catalog.FieldDefinition{
			catalog.ScalarField("name", datatype.String, false, false, true),
			catalog.ScalarField("size", datatype.Integer, false, false, false),
		},
	})
	require.NoError(t, err)

	rows, err := db.Select(ctx, "_fieldinfo_", dadb.SelectOptions{
		Where: map[string]interface{}{"modelname_": "Asset"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	names := map[string]bool{}
	for _, r := range rows {
		names[r["fieldname_"].(string)] = true
	}
	require.True(t, names["name"])
	require.True(t, names["size"])
}

func TestSelectAgainstTimelineView(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "repo.dadb")
	db, err := dadb.Create(ctx, path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.RegisterModel(ctx, catalog.ModelDefinition{
		Name: "LogEntry",
		Fields: []catalog.FieldDefinition{
			catalog.ScalarField("logged", datatype.Datetime, false, false, false),
			catalog.ScalarField("message", datatype.String, false, false, true),
		},
	})
	require.NoError(t, err)

	it, err := db.MakeModelItem(ctx, "LogEntry", map[string]interface{}{
		"logged":  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		"message": "booted",
	})
	require.NoError(t, err)
	_, err = db.InsertModelItem(ctx, it)
	require.NoError(t, err)

	rows, err := db.Select(ctx, "xTimeline_", dadb.SelectOptions{OrderBy: "timestamp_ ASC"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "message:booted", rows[0]["preview_"])
}
