package dadb_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mxkrt/dadb/internal/catalog"
	"github.com/mxkrt/dadb/internal/datatype"
	"github.com/stretchr/testify/require"

	"github.com/mxkrt/dadb"
)

func TestCreateThenLoadPreservesIdentity(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "repo.dadb")

	db, err := dadb.Create(ctx, path, dadb.WithPrefix("z"), dadb.WithPKey("rowid"))
	require.NoError(t, err)
	require.Equal(t, "z", db.Prefix())
	require.Equal(t, "rowid", db.PKey())
	require.NoError(t, db.Close())

	reopened, err := dadb.Load(ctx, path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	require.Equal(t, "z", reopened.Prefix())
	require.Equal(t, "rowid", reopened.PKey())
}

func TestRegisterModelAndEnumWiring(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "repo.dadb")
	db, err := dadb.Create(ctx, path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.RegisterEnum(ctx, catalog.EnumDefinition{
		Name: "Status",
		Values: []catalog.EnumValue{
			{Value: 1, Name: "Open"},
			{Value: 2, Name: "Closed"},
		},
	})
	require.NoError(t, err)

	_, err = db.RegisterModel(ctx, catalog.ModelDefinition{
		Name: "Ticket",
		Fields: []catalog.FieldDefinition{
			catalog.ScalarField("opened", datatype.Datetime, false, false, false),
			catalog.ScalarField("summary", datatype.String, false, false, true),
		},
	})
	require.NoError(t, err)

	require.Contains(t, db.Models(), "Ticket")
	require.Contains(t, db.Enums(), "Status")
	require.Contains(t, db.Datatypes(), datatype.Datetime)

	fields, err := db.TimelineFields(ctx)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	require.Equal(t, "Ticket", fields[0].ModelName)

	tables, err := db.Tables(ctx)
	require.NoError(t, err)
	require.Contains(t, tables, db.GetTblName("Ticket"))
}

func TestCheckRegistered(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "repo.dadb")
	db, err := dadb.Create(ctx, path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.Error(t, db.CheckRegistered("Nope"))

	_, err = db.RegisterModel(ctx, catalog.ModelDefinition{
		Name:   "Widget",
		Fields: []catalog.FieldDefinition{catalog.ScalarField("name", datatype.String, false, false, false)},
	})
	require.NoError(t, err)
	require.NoError(t, db.CheckRegistered("Widget"))
}

func TestReloadObservesCommittedState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "repo.dadb")
	db, err := dadb.Create(ctx, path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.RegisterModel(ctx, catalog.ModelDefinition{
		Name:   "Thing",
		Fields: []catalog.FieldDefinition{catalog.ScalarField("label", datatype.String, false, false, false)},
	})
	require.NoError(t, err)
	require.NoError(t, db.Reload(ctx))
	require.Contains(t, db.Models(), "Thing")
}
