package timeline_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mxkrt/dadb/internal/backend"
	"github.com/mxkrt/dadb/internal/backend/sqlite"
	"github.com/mxkrt/dadb/internal/catalog"
	"github.com/mxkrt/dadb/internal/datatype"
	"github.com/mxkrt/dadb/internal/modelitem"
	"github.com/mxkrt/dadb/internal/registry"
	"github.com/mxkrt/dadb/internal/timeline"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	be  backend.Backend
	cat *catalog.Catalog
	reg *registry.Registry
	tl  *timeline.Engine
	eng *modelitem.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "timeline.dadb")
	be, err := sqlite.Open(ctx, path, sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = be.Close() })

	cat, err := catalog.Create(ctx, be, "", "")
	require.NoError(t, err)
	reg := registry.New(cat)
	require.NoError(t, reg.Reload(ctx))
	return &fixture{be: be, cat: cat, reg: reg, tl: timeline.New(be, reg), eng: modelitem.New(be, reg)}
}

// TestTimelineOrdering matches spec.md §8 property 8 and scenario S6.
func TestTimelineOrdering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reg.RegisterModel(ctx, catalog.ModelDefinition{
		Name: "Email",
		Fields: []catalog.FieldDefinition{
			catalog.ScalarField("sent", datatype.Datetime, false, false, false),
			catalog.ScalarField("subject", datatype.String, false, false, true),
		},
	})
	require.NoError(t, err)
	_, err = f.reg.RegisterModel(ctx, catalog.ModelDefinition{
		Name: "Call",
		Fields: []catalog.FieldDefinition{
			catalog.ScalarField("placed", datatype.Datetime, false, false, false),
			catalog.ScalarField("caller", datatype.String, false, false, true),
		},
	})
	require.NoError(t, err)
	require.NoError(t, f.tl.Regenerate(ctx))

	t1 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t3 := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)

	insert := func(model, tsField, tsLabel string, ts time.Time, preview string, previewField string) {
		it, err := f.eng.MakeModelItem(ctx, model, map[string]interface{}{
			tsField:      ts,
			previewField: preview,
		})
		require.NoError(t, err)
		_, err = f.eng.InsertModelItem(ctx, it)
		require.NoError(t, err)
	}
	insert("Email", "sent", "sent", t1, "hello", "subject")
	insert("Call", "placed", "placed", t3, "bob", "caller")
	insert("Email", "sent", "sent", t2, "followup", "subject")

	rows, err := f.be.Select(ctx, timeline.ViewName, backend.SelectOptions{OrderBy: "timestamp_ ASC"})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.Equal(t, "xEmail", rows[0]["table_"])
	require.Equal(t, "preview:subject:hello", "preview:"+rows[0]["preview_"].(string))
	require.Equal(t, "xEmail", rows[1]["table_"])
	require.Equal(t, "xCall", rows[2]["table_"])

	var prev string
	for _, r := range rows {
		ts := r["timestamp_"].(string)
		require.GreaterOrEqual(t, ts, prev)
		prev = ts
	}
}

func TestTimelineViewAbsentWithNoTemporalFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reg.RegisterModel(ctx, catalog.ModelDefinition{
		Name: "Plain",
		Fields: []catalog.FieldDefinition{
			catalog.ScalarField("label", datatype.String, false, false, false),
		},
	})
	require.NoError(t, err)
	require.NoError(t, f.tl.Regenerate(ctx))

	tables, err := f.be.TableNames(ctx)
	require.NoError(t, err)
	require.NotContains(t, tables, timeline.ViewName)
}

func TestTimelineBlacklistExcludesModel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reg.RegisterModel(ctx, catalog.ModelDefinition{
		Name: "Event",
		Fields: []catalog.FieldDefinition{
			catalog.ScalarField("occurred", datatype.Datetime, false, false, false),
		},
	})
	require.NoError(t, err)
	require.NoError(t, f.cat.SetTimelineBlacklist(ctx, []string{"Event"}))
	require.NoError(t, f.tl.Regenerate(ctx))

	tables, err := f.be.TableNames(ctx)
	require.NoError(t, err)
	require.NotContains(t, tables, timeline.ViewName)
}

func TestTimelineBlacklistRejectsUnknownModel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.cat.SetTimelineBlacklist(ctx, []string{"Ghost"})
	require.Error(t, err)
}

// TestTimelinePreviewLabelSurvivesNullColumn guards against a regression
// where a NULL preview-flagged column dropped its own "<fieldname>:" label
// instead of just its value.
func TestTimelinePreviewLabelSurvivesNullColumn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reg.RegisterModel(ctx, catalog.ModelDefinition{
		Name: "Note",
		Fields: []catalog.FieldDefinition{
			catalog.ScalarField("written", datatype.Datetime, false, false, false),
			catalog.ScalarField("subject", datatype.String, true, false, true),
		},
	})
	require.NoError(t, err)
	require.NoError(t, f.tl.Regenerate(ctx))

	it, err := f.eng.MakeModelItem(ctx, "Note", map[string]interface{}{
		"written": time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		"subject": nil,
	})
	require.NoError(t, err)
	_, err = f.eng.InsertModelItem(ctx, it)
	require.NoError(t, err)

	rows, err := f.be.Select(ctx, timeline.ViewName, backend.SelectOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "subject:", rows[0]["preview_"])
}

func TestTimelineFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reg.RegisterModel(ctx, catalog.ModelDefinition{
		Name: "Event",
		Fields: []catalog.FieldDefinition{
			catalog.ScalarField("occurred", datatype.Datetime, false, false, false),
			catalog.ScalarField("label", datatype.String, false, false, false),
		},
	})
	require.NoError(t, err)

	fields, err := f.tl.Fields(ctx)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	require.Equal(t, "occurred", fields[0].FieldName)
	require.Equal(t, "Event", fields[0].ModelName)
}
