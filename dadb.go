// Package dadb is a forensic data repository: a durable, content-addressed
// store for binary objects whose logical schema is driven at runtime from
// user-supplied model definitions, materialized into a relational storage
// layout with automatic deduplication, transactional consistency, and
// reopen-safe self-description.
package dadb

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/mxkrt/dadb/internal/backend"
	"github.com/mxkrt/dadb/internal/backend/sqlite"
	"github.com/mxkrt/dadb/internal/blobstore"
	"github.com/mxkrt/dadb/internal/catalog"
	"github.com/mxkrt/dadb/internal/dadberr"
	"github.com/mxkrt/dadb/internal/datatype"
	"github.com/mxkrt/dadb/internal/modelitem"
	"github.com/mxkrt/dadb/internal/registry"
	"github.com/mxkrt/dadb/internal/timeline"
)

// Database is a handle onto one open repository file. It is not safe for
// concurrent use from multiple goroutines: the core is single-writer,
// single-threaded-cooperative per handle (§5).
type Database struct {
	be    backend.Backend
	cat   *catalog.Catalog
	reg   *registry.Registry
	items *modelitem.Engine
	tl    *timeline.Engine

	logger *slog.Logger
}

// Create initializes a brand-new repository file at path.
func Create(ctx context.Context, path string, opts ...Option) (*Database, error) {
	o, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	be, err := sqlite.Open(ctx, path, sqlite.Options{Logger: logger})
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Create(ctx, be, o.Prefix, o.PKey)
	if err != nil {
		_ = be.Close()
		return nil, err
	}
	if len(o.TimelineBlacklist) > 0 {
		if err := cat.SetTimelineBlacklist(ctx, o.TimelineBlacklist); err != nil {
			_ = be.Close()
			return nil, err
		}
	}

	return newHandle(be, cat, logger)
}

// Load opens an existing repository file, validating the reserved row
// against the implementation's compiled-in schemaversion/apiversion.
func Load(ctx context.Context, path string, opts ...Option) (*Database, error) {
	if _, err := resolveOptions(opts); err != nil {
		return nil, err
	}

	logger := slog.Default()
	be, err := sqlite.Open(ctx, path, sqlite.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Load(ctx, be)
	if err != nil {
		_ = be.Close()
		return nil, err
	}
	return newHandle(be, cat, logger)
}

func newHandle(be backend.Backend, cat *catalog.Catalog, logger *slog.Logger) (*Database, error) {
	reg := registry.New(cat)
	if err := reg.Reload(context.Background()); err != nil {
		_ = be.Close()
		return nil, err
	}
	d := &Database{
		be:     be,
		cat:    cat,
		reg:    reg,
		items:  modelitem.New(be, reg),
		tl:     timeline.New(be, reg),
		logger: logger,
	}
	return d, nil
}

// Close releases the underlying connection. Any in-flight transaction is
// rolled back.
func (d *Database) Close() error {
	if d.be.InTransaction() {
		_, _ = d.be.Rollback()
	}
	return d.be.Close()
}

// Reload rebuilds the in-memory model/enum caches from the catalog's
// current state, observing committed writes from other handles.
func (d *Database) Reload(ctx context.Context) error {
	return d.reg.Reload(ctx)
}

// Prefix returns the per-repository identifier prefix.
func (d *Database) Prefix() string { return d.cat.Prefix }

// PKey returns the per-repository primary-key column name.
func (d *Database) PKey() string { return d.cat.PKey }

// Models lists every registered model name.
func (d *Database) Models() []string { return d.reg.Models() }

// Enums lists every registered enum name.
func (d *Database) Enums() []string { return d.reg.Enums() }

// Datatypes publishes the closed set of known scalar datatypes.
func (d *Database) Datatypes() []datatype.Type { return d.reg.Datatypes() }

// Tables lists every physical table and view currently in the repository.
func (d *Database) Tables(ctx context.Context) ([]string, error) {
	return d.be.TableNames(ctx)
}

// GetTblName returns the canonical physical table name for modelname.
func (d *Database) GetTblName(modelname string) string { return d.cat.GetTblName(modelname) }

// GetColName returns the canonical physical column name for fieldname.
func (d *Database) GetColName(fieldname string) string { return d.cat.GetColName(fieldname) }

// CheckRegistered reports an error unless name is a registered model or
// enum.
func (d *Database) CheckRegistered(name string) error {
	if _, ok := d.reg.Model(name); ok {
		return nil
	}
	if _, ok := d.reg.Enum(name); ok {
		return nil
	}
	return fmt.Errorf("%q: %w", name, dadberr.ErrNoSuchModel)
}

// RegisterEnum registers def, creating its backing table and seeding its
// values.
func (d *Database) RegisterEnum(ctx context.Context, def catalog.EnumDefinition) (*catalog.EnumDescriptor, error) {
	return d.reg.RegisterEnum(ctx, def)
}

// RegisterModel registers def, materializing its backing table plus any
// maptables and proptables, and regenerates the timeline view to include
// any new temporal fields.
func (d *Database) RegisterModel(ctx context.Context, def catalog.ModelDefinition) (*catalog.ModelDescriptor, error) {
	m, err := d.reg.RegisterModel(ctx, def)
	if err != nil {
		return nil, err
	}
	if err := d.tl.Regenerate(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// SetTimelineBlacklist persists the set of model names excluded from the
// timeline view and regenerates it.
func (d *Database) SetTimelineBlacklist(ctx context.Context, names []string) error {
	if err := d.cat.SetTimelineBlacklist(ctx, names); err != nil {
		return err
	}
	return d.tl.Regenerate(ctx)
}

// TimelineBlacklist returns the currently configured exclusion list.
func (d *Database) TimelineBlacklist(ctx context.Context) ([]string, error) {
	return d.cat.TimelineBlacklist(ctx)
}

// TimelineFields lists every temporal field currently contributing a row to
// the timeline view.
func (d *Database) TimelineFields(ctx context.Context) ([]timeline.Field, error) {
	return d.tl.Fields(ctx)
}

// FieldInfo returns modelname's fields as recorded in the _fieldinfo_ view,
// in declaration order.
func (d *Database) FieldInfo(ctx context.Context, modelname string) ([]catalog.FieldInfoRow, error) {
	return d.cat.FieldInfo(ctx, modelname)
}

// InsertData streams r into the content store, returning the id of the
// resulting (possibly deduplicated) data object.
func (d *Database) InsertData(ctx context.Context, r io.Reader) (int64, error) {
	return blobstore.New(d.be).InsertData(ctx, r)
}

// GetData returns a handle describing a stored data object and a seekable
// reader over its bytes.
func (d *Database) GetData(ctx context.Context, id int64) (*blobstore.Handle, io.ReadSeeker, error) {
	return blobstore.New(d.be).GetData(ctx, id)
}

// MakeModelItem builds an Item bound to modelname from a flat field map,
// without touching storage.
func (d *Database) MakeModelItem(ctx context.Context, modelname string, fields map[string]interface{}) (*modelitem.Item, error) {
	return d.items.MakeModelItem(ctx, modelname, fields)
}

// InsertModelItem inserts it, cascading any not-yet-inserted nested
// submodel items, applying the model's dedup policy.
func (d *Database) InsertModelItem(ctx context.Context, it *modelitem.Item) (int64, error) {
	return d.items.InsertModelItem(ctx, it)
}

// Modelitem fetches a single item by id.
func (d *Database) Modelitem(ctx context.Context, modelname string, id int64) (*modelitem.Item, error) {
	return d.items.Modelitem(ctx, modelname, id)
}

// ModelItems opens a cursor streaming every row of modelname in ascending
// primary-key order. Callers must Close it.
func (d *Database) ModelItems(ctx context.Context, modelname string) (*modelitem.ItemCursor, error) {
	return d.items.ModelItems(ctx, modelname)
}

// DisableDuplicateChecking suspends dedup lookups for modelname for bulk
// inserts where the caller guarantees uniqueness. Must be paired with
// EnableDuplicateChecking.
func (d *Database) DisableDuplicateChecking(modelname string) {
	d.items.DisableDuplicateChecking(modelname)
}

// EnableDuplicateChecking reverses one DisableDuplicateChecking call.
func (d *Database) EnableDuplicateChecking(modelname string) error {
	return d.items.EnableDuplicateChecking(modelname)
}
