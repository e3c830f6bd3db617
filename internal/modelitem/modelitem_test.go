package modelitem_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mxkrt/dadb/internal/backend/sqlite"
	"github.com/mxkrt/dadb/internal/catalog"
	"github.com/mxkrt/dadb/internal/dadberr"
	"github.com/mxkrt/dadb/internal/datatype"
	"github.com/mxkrt/dadb/internal/modelitem"
	"github.com/mxkrt/dadb/internal/registry"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	cat *catalog.Catalog
	reg *registry.Registry
	eng *modelitem.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "modelitem.dadb")
	be, err := sqlite.Open(ctx, path, sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = be.Close() })

	cat, err := catalog.Create(ctx, be, "", "")
	require.NoError(t, err)
	reg := registry.New(cat)
	require.NoError(t, reg.Reload(ctx))
	return &fixture{cat: cat, reg: reg, eng: modelitem.New(be, reg)}
}

func (f *fixture) registerColorEnum(t *testing.T) *catalog.EnumDescriptor {
	t.Helper()
	ctx := context.Background()
	en, err := f.reg.RegisterEnum(ctx, catalog.EnumDefinition{
		Name: "Color",
		Values: []catalog.EnumValue{
			{Value: 1, Name: "Red"},
			{Value: 2, Name: "Green"},
			{Value: 3, Name: "Blue"},
		},
	})
	require.NoError(t, err)
	return en
}

func (f *fixture) registerAuthorModel(t *testing.T) *catalog.ModelDescriptor {
	t.Helper()
	m, err := f.reg.RegisterModel(context.Background(), catalog.ModelDefinition{
		Name: "Author",
		Fields: []catalog.FieldDefinition{
			catalog.ScalarField("name", datatype.String, false, false, true),
		},
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) registerBookModel(t *testing.T, dedup catalog.ModelDefinition) *catalog.ModelDescriptor {
	t.Helper()
	m, err := f.reg.RegisterModel(context.Background(), dedup)
	require.NoError(t, err)
	return m
}

// TestModelRoundTrip matches spec.md §8 property 6: scalar, enum, submodel,
// and multi-valued fields round-trip field-by-field.
func TestModelRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerColorEnum(t)
	f.registerAuthorModel(t)

	book := f.registerBookModel(t, catalog.ModelDefinition{
		Name: "Book",
		Fields: []catalog.FieldDefinition{
			catalog.ScalarField("title", datatype.String, false, false, true),
			catalog.EnumFieldDef("cover", "Color", true, false, false),
			catalog.SubmodelField("author", "Author", false, false),
			catalog.ScalarField("tags", datatype.String, true, true, false),
		},
	})
	_ = book

	author, err := f.eng.MakeModelItem(ctx, "Author", map[string]interface{}{"name": "Ada Lovelace"})
	require.NoError(t, err)

	it, err := f.eng.MakeModelItem(ctx, "Book", map[string]interface{}{
		"title":  "Notes on the Analytical Engine",
		"cover":  "Blue",
		"author": author,
		"tags":   []interface{}{"math", "computing"},
	})
	require.NoError(t, err)

	id, err := f.eng.InsertModelItem(ctx, it)
	require.NoError(t, err)
	require.NotZero(t, id)
	require.NotZero(t, author.ID, "nested submodel must be cascaded")

	got, err := f.eng.Modelitem(ctx, "Book", id)
	require.NoError(t, err)

	title, err := got.Value(ctx, "title")
	require.NoError(t, err)
	require.Equal(t, "Notes on the Analytical Engine", title)

	cover, err := got.Value(ctx, "cover")
	require.NoError(t, err)
	ev, ok := cover.(catalog.EnumValue)
	require.True(t, ok)
	require.Equal(t, "Blue", ev.Name)

	authorVal, err := got.Value(ctx, "author")
	require.NoError(t, err)
	nested, ok := authorVal.(*modelitem.Item)
	require.True(t, ok)
	name, err := nested.Value(ctx, "name")
	require.NoError(t, err)
	require.Equal(t, "Ada Lovelace", name)

	tags, err := got.Value(ctx, "tags")
	require.NoError(t, err)
	tagSlice, ok := tags.([]interface{})
	require.True(t, ok)
	require.Equal(t, []interface{}{"math", "computing"}, tagSlice)
}

// TestDedupSemantics matches spec.md §8 property 7 / scenario S5.
func TestDedupSemantics(t *testing.T) {
	ctx := context.Background()

	t.Run("implicit dedup reuses existing id", func(t *testing.T) {
		f := newFixture(t)
		f.registerBookModel(t, catalog.ModelDefinition{
			Name:          "Note",
			ImplicitDedup: true,
			Fields: []catalog.FieldDefinition{
				catalog.ScalarField("body", datatype.String, false, false, true),
			},
		})
		// implicit_dedup governs cascaded inserts, so each Note is inserted
		// as the nested submodel of an Envelope.
		f.registerBookModel(t, catalog.ModelDefinition{
			Name: "Envelope",
			Fields: []catalog.FieldDefinition{
				catalog.SubmodelField("note", "Note", false, false),
			},
		})

		it1, err := f.eng.MakeModelItem(ctx, "Note", map[string]interface{}{"body": "same text"})
		require.NoError(t, err)
		env1, err := f.eng.MakeModelItem(ctx, "Envelope", map[string]interface{}{"note": it1})
		require.NoError(t, err)
		_, err = f.eng.InsertModelItem(ctx, env1)
		require.NoError(t, err)

		it2, err := f.eng.MakeModelItem(ctx, "Note", map[string]interface{}{"body": "same text"})
		require.NoError(t, err)
		env2, err := f.eng.MakeModelItem(ctx, "Envelope", map[string]interface{}{"note": it2})
		require.NoError(t, err)
		_, err = f.eng.InsertModelItem(ctx, env2)
		require.NoError(t, err)

		require.NotZero(t, it1.ID)
		require.Equal(t, it1.ID, it2.ID)
	})

	t.Run("fail on dup rejects second insert", func(t *testing.T) {
		f := newFixture(t)
		f.registerBookModel(t, catalog.ModelDefinition{
			Name:          "StrictNote",
			ExplicitDedup: true,
			FailOnDup:     true,
			Fields: []catalog.FieldDefinition{
				catalog.ScalarField("body", datatype.String, false, false, true),
			},
		})

		it1, err := f.eng.MakeModelItem(ctx, "StrictNote", map[string]interface{}{"body": "unique please"})
		require.NoError(t, err)
		_, err = f.eng.InsertModelItem(ctx, it1)
		require.NoError(t, err)

		it2, err := f.eng.MakeModelItem(ctx, "StrictNote", map[string]interface{}{"body": "unique please"})
		require.NoError(t, err)
		_, err = f.eng.InsertModelItem(ctx, it2)
		require.Error(t, err)
		require.True(t, errors.Is(err, dadberr.ErrDuplicateItem))
	})

	t.Run("no dedup policy produces two rows", func(t *testing.T) {
		f := newFixture(t)
		f.registerBookModel(t, catalog.ModelDefinition{
			Name: "LooseNote",
			Fields: []catalog.FieldDefinition{
				catalog.ScalarField("body", datatype.String, false, false, true),
			},
		})

		it1, err := f.eng.MakeModelItem(ctx, "LooseNote", map[string]interface{}{"body": "repeat me"})
		require.NoError(t, err)
		id1, err := f.eng.InsertModelItem(ctx, it1)
		require.NoError(t, err)

		it2, err := f.eng.MakeModelItem(ctx, "LooseNote", map[string]interface{}{"body": "repeat me"})
		require.NoError(t, err)
		id2, err := f.eng.InsertModelItem(ctx, it2)
		require.NoError(t, err)

		require.NotEqual(t, id1, id2)
	})
}

func TestDisableEnableDuplicateCheckingNesting(t *testing.T) {
	f := newFixture(t)
	require.Error(t, f.eng.EnableDuplicateChecking("Note"))

	f.eng.DisableDuplicateChecking("Note")
	f.eng.DisableDuplicateChecking("Note")
	require.NoError(t, f.eng.EnableDuplicateChecking("Note"))
	require.NoError(t, f.eng.EnableDuplicateChecking("Note"))
	require.Error(t, f.eng.EnableDuplicateChecking("Note"))
}

func TestMakeModelItemRejectsMissingRequiredField(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerBookModel(t, catalog.ModelDefinition{
		Name: "Required",
		Fields: []catalog.FieldDefinition{
			catalog.ScalarField("name", datatype.String, false, false, false),
		},
	})

	_, err := f.eng.MakeModelItem(ctx, "Required", map[string]interface{}{})
	require.Error(t, err)
	require.True(t, errors.Is(err, dadberr.ErrValue))
}

func TestModelItemsCursorOrdersByPrimaryKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerBookModel(t, catalog.ModelDefinition{
		Name: "Entry",
		Fields: []catalog.FieldDefinition{
			catalog.ScalarField("n", datatype.Integer, false, false, false),
		},
	})

	var ids []int64
	for i := 0; i < 3; i++ {
		it, err := f.eng.MakeModelItem(ctx, "Entry", map[string]interface{}{"n": int64(i)})
		require.NoError(t, err)
		id, err := f.eng.InsertModelItem(ctx, it)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	cur, err := f.eng.ModelItems(ctx, "Entry")
	require.NoError(t, err)
	defer cur.Close()

	var seen []int64
	for cur.Next() {
		seen = append(seen, cur.Item().ID)
	}
	require.NoError(t, cur.Err())
	require.Equal(t, ids, seen)
}
