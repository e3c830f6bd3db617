package dadb

import (
	"context"

	"github.com/mxkrt/dadb/internal/backend"
)

// SelectOptions narrows a Select call. It is a thin re-export of the
// backend's option shape so callers never import internal/backend directly.
type SelectOptions = backend.SelectOptions

// Row is a single result row addressed by column name.
type Row = backend.Row

// Select runs a read-only query against a table or view (including derived
// views such as _fieldinfo_ and xTimeline_), for use by model authors
// driving candidate lookups or timeline queries outside the Modelitem
// Engine's own typed accessors.
func (d *Database) Select(ctx context.Context, viewOrTable string, opts SelectOptions) ([]Row, error) {
	return d.be.Select(ctx, viewOrTable, opts)
}
