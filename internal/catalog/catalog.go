// Package catalog implements DADB's Schema Catalog (§4.4): the persistent
// meta-schema that records schema-about-schema (reserved, enum, model,
// field, maptable, proptable) plus the derived _fieldinfo_ view, and the
// transactional register_enum/register_model operations that materialize
// user declarations into backing tables.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mxkrt/dadb/internal/backend"
	"github.com/mxkrt/dadb/internal/dadberr"
	"github.com/mxkrt/dadb/internal/datatype"
)

// SCHEMAVERSION is incremented whenever the shape of the core meta tables
// changes. Compiled in; a repository whose reserved row disagrees fails to
// load (§3.4 invariant 5).
const SCHEMAVERSION = 3

// APIVERSION tracks the DADB API surface independently of the storage
// schema.
const APIVERSION = 1

// DefaultPrefix and DefaultPKey are used by Create when the caller does
// not override them.
const (
	DefaultPrefix = "x"
	DefaultPKey   = "id"
)

// Catalog is the Schema Catalog bound to one open repository handle.
type Catalog struct {
	be     backend.Backend
	Prefix string
	PKey   string
}

// Create initializes a brand-new repository: issues DDL for the six meta
// tables plus the three content tables, creates the (empty) _fieldinfo_
// view, and seeds the single reserved row.
func Create(ctx context.Context, be backend.Backend, prefix, pkey string) (*Catalog, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if pkey == "" {
		pkey = DefaultPKey
	}
	if err := ValidateName(prefix); err != nil {
		return nil, err
	}
	if err := ValidateName(pkey); err != nil {
		return nil, err
	}

	if err := CreateMetaTables(ctx, be); err != nil {
		return nil, err
	}
	if err := CreateContentTables(ctx, be); err != nil {
		return nil, err
	}
	if err := createFieldInfoView(ctx, be); err != nil {
		return nil, err
	}

	if _, err := be.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (pkey, schemaversion, apiversion, prefix, timeline_blacklist) VALUES (?, ?, ?, ?, ?)`,
		ReservedTable), pkey, SCHEMAVERSION, APIVERSION, prefix, ""); err != nil {
		return nil, dadberr.Wrap("seed reserved row", err, nil)
	}

	return &Catalog{be: be, Prefix: prefix, PKey: pkey}, nil
}

// Load opens an existing repository, validating the reserved row against
// the implementation's compiled-in schemaversion/apiversion.
func Load(ctx context.Context, be backend.Backend) (*Catalog, error) {
	row := be.QueryRow(ctx, fmt.Sprintf(
		`SELECT pkey, schemaversion, apiversion, prefix FROM %s LIMIT 1`, ReservedTable))
	var pkey, prefix string
	var schemaversion, apiversion int
	if err := row.Scan(&pkey, &schemaversion, &apiversion, &prefix); err != nil {
		return nil, dadberr.Wrap("load reserved row", err, dadberr.ErrRepositoryMismatch)
	}
	if schemaversion != SCHEMAVERSION || apiversion != APIVERSION {
		return nil, fmt.Errorf("repository schemaversion=%d apiversion=%d, implementation expects %d/%d: %w",
			schemaversion, apiversion, SCHEMAVERSION, APIVERSION, dadberr.ErrRepositoryMismatch)
	}
	return &Catalog{be: be, Prefix: prefix, PKey: pkey}, nil
}

// GetTblName returns the canonical physical table name for modelname.
func (c *Catalog) GetTblName(modelname string) string {
	return TableName(c.Prefix, modelname)
}

// GetColName returns the canonical physical column name for fieldname.
func (c *Catalog) GetColName(fieldname string) string {
	return ColumnName(c.Prefix, fieldname)
}

// TimelineBlacklist returns the currently configured set of model names
// excluded from the timeline view.
func (c *Catalog) TimelineBlacklist(ctx context.Context) ([]string, error) {
	row := c.be.QueryRow(ctx, fmt.Sprintf(`SELECT timeline_blacklist FROM %s LIMIT 1`, ReservedTable))
	var raw string
	if err := row.Scan(&raw); err != nil {
		return nil, dadberr.Wrap("read timeline blacklist", err, nil)
	}
	if raw == "" {
		return nil, nil
	}
	return strings.Split(raw, ","), nil
}

// SetTimelineBlacklist persists the set of model names excluded from the
// timeline view. Every name must already be registered.
func (c *Catalog) SetTimelineBlacklist(ctx context.Context, names []string) error {
	for _, n := range names {
		if _, err := c.GetModel(ctx, n); err != nil {
			return dadberr.ValueErrorf(n, "timeline exclusion list contains invalid modelname")
		}
	}
	_, err := c.be.Exec(ctx, fmt.Sprintf(`UPDATE %s SET timeline_blacklist = ?`, ReservedTable), strings.Join(names, ","))
	return dadberr.Wrap("set timeline blacklist", err, nil)
}

// RegisterEnum writes an enum row, creates the enum's backing table, and
// inserts its (value, name) pairs. Re-registering an identical
// (name, version, source) is idempotent; a differing version or shape is a
// ModelConflict.
func (c *Catalog) RegisterEnum(ctx context.Context, def EnumDefinition) (*EnumDescriptor, error) {
	if err := ValidateName(def.Name); err != nil {
		return nil, err
	}
	if existing, err := c.GetEnum(ctx, def.Name); err == nil {
		if err := compatibleEnum(existing, def); err != nil {
			return nil, err
		}
		return existing, nil
	} else if !isNoSuchModel(err) {
		return nil, err
	}

	started, err := beginIfNeeded(ctx, c.be)
	if err != nil {
		return nil, err
	}
	defer func() {
		if started {
			_, _ = c.be.Rollback()
		}
	}()

	tblname := TableName(c.Prefix, def.Name)
	res, err := c.be.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (name, table_name, source, version, table_prefix) VALUES (?, ?, ?, ?, ?)`, EnumTable),
		def.Name, tblname, def.Source, def.Version, c.Prefix)
	if err != nil {
		return nil, dadberr.Wrap("insert enum row", err, nil)
	}
	enumID, err := res.LastInsertId()
	if err != nil {
		return nil, dadberr.Wrap("insert enum row", err, nil)
	}

	enumTbl := EnumTableDef(c.Prefix, tblname)
	if err := c.be.DDL(ctx, enumTbl.CreateStatement()); err != nil {
		return nil, err
	}
	for _, v := range def.Values {
		if _, err := c.be.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s (%s, %s) VALUES (?, ?)`, tblname, c.Prefix+"val", c.Prefix+"name"),
			v.Value, v.Name); err != nil {
			return nil, dadberr.Wrap("insert enum value", err, nil)
		}
	}

	if started {
		if err := c.be.Commit(); err != nil {
			return nil, err
		}
	}

	return &EnumDescriptor{ID: enumID, Name: def.Name, TableName: tblname, Source: def.Source,
		Version: def.Version, TablePrefix: c.Prefix, Values: def.Values}, nil
}

func compatibleEnum(existing *EnumDescriptor, def EnumDefinition) error {
	if existing.Version != def.Version {
		return fmt.Errorf("enum %q version mismatch (registered=%d, requested=%d): %w",
			def.Name, existing.Version, def.Version, dadberr.ErrModelConflict)
	}
	if len(existing.Values) != len(def.Values) {
		return fmt.Errorf("enum %q value count mismatch: %w", def.Name, dadberr.ErrModelConflict)
	}
	for i, v := range def.Values {
		if existing.Values[i] != v {
			return fmt.Errorf("enum %q values differ at index %d: %w", def.Name, i, dadberr.ErrModelConflict)
		}
	}
	return nil
}

// RegisterModel writes a model row, field rows, and their maptable/
// proptable rows within a transaction, then issues DDL for the backing
// table and any maptables/proptables. Re-registering with the same version,
// the same fields (name, datatype, nullable, multiple, in order) and the
// same dedup flags returns the existing descriptor; any difference in those
// is a ModelConflict. Source, preview flags and submodel/enum targets are
// not compared.
func (c *Catalog) RegisterModel(ctx context.Context, def ModelDefinition) (*ModelDescriptor, error) {
	if err := ValidateName(def.Name); err != nil {
		return nil, err
	}
	for _, f := range def.Fields {
		if err := ValidateName(f.Name); err != nil {
			return nil, err
		}
	}

	if existing, err := c.GetModel(ctx, def.Name); err == nil {
		if err := compatibleModel(existing, def); err != nil {
			return nil, err
		}
		return existing, nil
	} else if !isNoSuchModel(err) {
		return nil, err
	}

	started, err := beginIfNeeded(ctx, c.be)
	if err != nil {
		return nil, err
	}
	defer func() {
		if started {
			_, _ = c.be.Rollback()
		}
	}()

	tblname := TableName(c.Prefix, def.Name)
	res, err := c.be.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (name, table_name, source, version, table_prefix, field_prefix, explicit_dedup, implicit_dedup, fail_on_dup)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, ModelTable),
		def.Name, tblname, def.Source, def.Version, c.Prefix, c.Prefix,
		boolToInt(def.ExplicitDedup), boolToInt(def.ImplicitDedup), boolToInt(def.FailOnDup))
	if err != nil {
		return nil, dadberr.Wrap("insert model row", err, nil)
	}
	modelID, err := res.LastInsertId()
	if err != nil {
		return nil, dadberr.Wrap("insert model row", err, nil)
	}

	desc := &ModelDescriptor{
		ID: modelID, Name: def.Name, TableName: tblname, Source: def.Source, Version: def.Version,
		TablePrefix: c.Prefix, FieldPrefix: c.Prefix,
		ExplicitDedup: def.ExplicitDedup, ImplicitDedup: def.ImplicitDedup, FailOnDup: def.FailOnDup,
	}

	tableCols := []Column{{c.PKey, "INTEGER PRIMARY KEY AUTOINCREMENT"}}
	var followupDDL []string

	for _, f := range def.Fields {
		colname := ColumnName(c.Prefix, f.Name)
		fd := FieldDescriptor{ModelID: modelID, Name: f.Name, ColName: colname,
			Nullable: f.Nullable, Multiple: f.Multiple, Preview: f.Preview}

		var submodelID, enumID sql.NullInt64
		var datatypeStr string
		switch {
		case f.IsSubmodel():
			sm, err := c.GetModel(ctx, f.Submodel)
			if err != nil {
				return nil, dadberr.ValueErrorf(f.Name, "unknown submodel %q", f.Submodel)
			}
			submodelID = sql.NullInt64{Int64: sm.ID, Valid: true}
			fd.Submodel = sm.ID
		case f.IsEnum():
			en, err := c.GetEnum(ctx, f.Enum)
			if err != nil {
				return nil, dadberr.ValueErrorf(f.Name, "unknown enum %q", f.Enum)
			}
			enumID = sql.NullInt64{Int64: en.ID, Valid: true}
			fd.Enum = en.ID
		default:
			if !f.Datatype.Valid() {
				return nil, dadberr.ValueErrorf(f.Name, "unknown datatype %q", f.Datatype)
			}
			datatypeStr = string(f.Datatype)
			fd.Datatype = f.Datatype
		}

		fres, err := c.be.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s (modelid, name, colname, datatype, nullable, multiple, submodel, enum, preview)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, FieldTable),
			modelID, f.Name, colname, nullableStr(datatypeStr), boolToInt(f.Nullable), boolToInt(f.Multiple),
			submodelID, enumID, boolToInt(f.Preview))
		if err != nil {
			return nil, dadberr.Wrap("insert field row", err, nil)
		}
		fieldID, err := fres.LastInsertId()
		if err != nil {
			return nil, dadberr.Wrap("insert field row", err, nil)
		}
		fd.ID = fieldID

		switch {
		case f.Multiple && (f.IsSubmodel() || f.IsEnum()):
			mapname := MapTableName(c.Prefix, def.Name, f.Name)
			fd.MapTable = mapname
			if _, err := c.be.Exec(ctx, fmt.Sprintf(
				`INSERT INTO %s (field, maptable, enum, model) VALUES (?, ?, ?, ?)`, MapTable),
				fieldID, mapname, enumID, submodelID); err != nil {
				return nil, dadberr.Wrap("insert maptable row", err, nil)
			}
			followupDDL = append(followupDDL, fmt.Sprintf(
				"CREATE TABLE IF NOT EXISTS %s (parent_id INTEGER NOT NULL, target_id INTEGER NOT NULL, PRIMARY KEY (parent_id, target_id))",
				mapname))
		case f.Multiple:
			propname := PropTableName(c.Prefix, def.Name, f.Name)
			fd.PropTable = propname
			colType, err := f.Datatype.ColumnType()
			if err != nil {
				return nil, err
			}
			if _, err := c.be.Exec(ctx, fmt.Sprintf(
				`INSERT INTO %s (field, datatype, proptable) VALUES (?, ?, ?)`, PropTable),
				fieldID, string(f.Datatype), propname); err != nil {
				return nil, dadberr.Wrap("insert proptable row", err, nil)
			}
			followupDDL = append(followupDDL, fmt.Sprintf(
				"CREATE TABLE IF NOT EXISTS %s (parent_id INTEGER NOT NULL, value %s)", propname, colType))
		default:
			var colType string
			if f.IsSubmodel() || f.IsEnum() {
				colType = "INTEGER"
			} else {
				colType, err = f.Datatype.ColumnType()
				if err != nil {
					return nil, err
				}
			}
			nullClause := "NOT NULL"
			if f.Nullable {
				nullClause = ""
			}
			tableCols = append(tableCols, Column{colname, strings.TrimSpace(colType + " " + nullClause)})
		}

		desc.Fields = append(desc.Fields, fd)
	}

	backingTbl := Table{Name: tblname, Columns: tableCols}
	if err := c.be.DDL(ctx, backingTbl.CreateStatement()); err != nil {
		return nil, err
	}
	for _, stmt := range followupDDL {
		if err := c.be.DDL(ctx, stmt); err != nil {
			return nil, err
		}
	}

	if err := createFieldInfoView(ctx, c.be); err != nil {
		return nil, err
	}

	if started {
		if err := c.be.Commit(); err != nil {
			return nil, err
		}
	}
	return desc, nil
}

func compatibleModel(existing *ModelDescriptor, def ModelDefinition) error {
	if existing.Version != def.Version {
		return fmt.Errorf("model %q version mismatch (registered=%d, requested=%d): %w",
			def.Name, existing.Version, def.Version, dadberr.ErrModelConflict)
	}
	if len(existing.Fields) != len(def.Fields) {
		return fmt.Errorf("model %q field count mismatch: %w", def.Name, dadberr.ErrModelConflict)
	}
	for i, f := range def.Fields {
		ef := existing.Fields[i]
		if ef.Name != f.Name || ef.Datatype != f.Datatype || ef.Nullable != f.Nullable || ef.Multiple != f.Multiple {
			return fmt.Errorf("model %q field %q shape mismatch: %w", def.Name, f.Name, dadberr.ErrModelConflict)
		}
	}
	if existing.ExplicitDedup != def.ExplicitDedup || existing.ImplicitDedup != def.ImplicitDedup || existing.FailOnDup != def.FailOnDup {
		return fmt.Errorf("model %q dedup flags mismatch: %w", def.Name, dadberr.ErrModelConflict)
	}
	return nil
}

// GetModel looks up a registered model by name, with its fields resolved
// in field-id order.
func (c *Catalog) GetModel(ctx context.Context, name string) (*ModelDescriptor, error) {
	row := c.be.QueryRow(ctx, fmt.Sprintf(
		`SELECT id, name, table_name, source, version, table_prefix, field_prefix, explicit_dedup, implicit_dedup, fail_on_dup
		 FROM %s WHERE name = ?`, ModelTable), name)
	var m ModelDescriptor
	var explicit, implicit, failOnDup int
	if err := row.Scan(&m.ID, &m.Name, &m.TableName, &m.Source, &m.Version, &m.TablePrefix, &m.FieldPrefix,
		&explicit, &implicit, &failOnDup); err != nil {
		return nil, dadberr.Wrap(fmt.Sprintf("get model %q", name), err, dadberr.ErrNoSuchModel)
	}
	m.ExplicitDedup, m.ImplicitDedup, m.FailOnDup = explicit != 0, implicit != 0, failOnDup != 0

	rows, err := c.be.Query(ctx, fmt.Sprintf(
		`SELECT f.id, f.name, f.colname, f.datatype, f.nullable, f.multiple, f.submodel, f.enum, f.preview,
		        mt.maptable, pt.proptable
		 FROM %s f
		 LEFT JOIN %s mt ON f.id = mt.field
		 LEFT JOIN %s pt ON f.id = pt.field
		 WHERE f.modelid = ? ORDER BY f.id ASC`, FieldTable, MapTable, PropTable), m.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var fd FieldDescriptor
		var datatypeStr sql.NullString
		var nullable, multiple, preview int
		var submodel, enum sql.NullInt64
		var maptable, proptable sql.NullString
		if err := rows.Scan(&fd.ID, &fd.Name, &fd.ColName, &datatypeStr, &nullable, &multiple, &submodel, &enum, &preview,
			&maptable, &proptable); err != nil {
			return nil, dadberr.Wrap("scan field row", err, nil)
		}
		fd.ModelID = m.ID
		fd.Datatype = datatype.Type(datatypeStr.String)
		fd.Nullable, fd.Multiple, fd.Preview = nullable != 0, multiple != 0, preview != 0
		fd.Submodel, fd.Enum = submodel.Int64, enum.Int64
		fd.MapTable, fd.PropTable = maptable.String, proptable.String
		m.Fields = append(m.Fields, fd)
	}
	return &m, dadberr.Wrap("iterate fields", rows.Err(), nil)
}

// GetEnum looks up a registered enum by name, with its values resolved.
func (c *Catalog) GetEnum(ctx context.Context, name string) (*EnumDescriptor, error) {
	row := c.be.QueryRow(ctx, fmt.Sprintf(
		`SELECT id, name, table_name, source, version, table_prefix FROM %s WHERE name = ?`, EnumTable), name)
	var e EnumDescriptor
	if err := row.Scan(&e.ID, &e.Name, &e.TableName, &e.Source, &e.Version, &e.TablePrefix); err != nil {
		return nil, dadberr.Wrap(fmt.Sprintf("get enum %q", name), err, dadberr.ErrNoSuchModel)
	}
	rows, err := c.be.Query(ctx, fmt.Sprintf(`SELECT %s, %s FROM %s ORDER BY %s ASC`,
		e.ValCol(), e.NameCol(), e.TableName, e.ValCol()))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var v EnumValue
		if err := rows.Scan(&v.Value, &v.Name); err != nil {
			return nil, dadberr.Wrap("scan enum value", err, nil)
		}
		e.Values = append(e.Values, v)
	}
	return &e, dadberr.Wrap("iterate enum values", rows.Err(), nil)
}

// GetModelByID and GetEnumByID resolve catalog ids back to descriptors,
// used by the Modelitem Engine to follow submodel/enum foreign ids.
func (c *Catalog) GetModelByID(ctx context.Context, id int64) (*ModelDescriptor, error) {
	row := c.be.QueryRow(ctx, fmt.Sprintf(`SELECT name FROM %s WHERE id = ?`, ModelTable), id)
	var name string
	if err := row.Scan(&name); err != nil {
		return nil, dadberr.Wrap(fmt.Sprintf("get model id %d", id), err, dadberr.ErrNoSuchModel)
	}
	return c.GetModel(ctx, name)
}

func (c *Catalog) GetEnumByID(ctx context.Context, id int64) (*EnumDescriptor, error) {
	row := c.be.QueryRow(ctx, fmt.Sprintf(`SELECT name FROM %s WHERE id = ?`, EnumTable), id)
	var name string
	if err := row.Scan(&name); err != nil {
		return nil, dadberr.Wrap(fmt.Sprintf("get enum id %d", id), err, dadberr.ErrNoSuchModel)
	}
	return c.GetEnum(ctx, name)
}

// Models lists every registered model name.
func (c *Catalog) Models(ctx context.Context) ([]string, error) {
	rows, err := c.be.Query(ctx, fmt.Sprintf(`SELECT name FROM %s ORDER BY id ASC`, ModelTable))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, dadberr.Wrap("scan model name", err, nil)
		}
		names = append(names, n)
	}
	return names, dadberr.Wrap("iterate models", rows.Err(), nil)
}

// FieldInfo returns every field of modelname as recorded in the _fieldinfo_
// view (§4.4's field_info(modelname) operation), in field declaration
// order: the view does not expose field ids, so rows are ordered by the id
// of the matching field row.
func (c *Catalog) FieldInfo(ctx context.Context, modelname string) ([]FieldInfoRow, error) {
	rows, err := c.be.Query(ctx, fmt.Sprintf(`
		SELECT modelname_, modeltable_, fieldname_, columnname_, datatype_,
		       preview_, points_to_, maps_to_, mapping_table_, property_table_,
		       property_datatype_
		FROM %s WHERE modelname_ = ?
		ORDER BY (SELECT f.id FROM %s f JOIN %s m ON f.modelid = m.id
		          WHERE m.name = %s.modelname_ AND f.name = %s.fieldname_) ASC
	`, FieldInfoView, FieldTable, ModelTable, FieldInfoView, FieldInfoView), modelname)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []FieldInfoRow
	for rows.Next() {
		var r FieldInfoRow
		var pointsTo, mapsTo, mapTbl, propTbl, propDT sql.NullString
		if err := rows.Scan(&r.ModelName, &r.ModelTable, &r.FieldName, &r.ColumnName,
			&r.Datatype, &r.Preview, &pointsTo, &mapsTo, &mapTbl, &propTbl, &propDT); err != nil {
			return nil, dadberr.Wrap("scan field_info row", err, nil)
		}
		r.PointsTo = pointsTo.String
		r.MapsTo = mapsTo.String
		r.MappingTable = mapTbl.String
		r.PropertyTable = propTbl.String
		r.PropertyDatatype = propDT.String
		out = append(out, r)
	}
	if len(out) == 0 {
		if _, err := c.GetModel(ctx, modelname); err != nil {
			return nil, err
		}
	}
	return out, dadberr.Wrap("iterate field_info", rows.Err(), nil)
}

// Enums lists every registered enum name.
func (c *Catalog) Enums(ctx context.Context) ([]string, error) {
	rows, err := c.be.Query(ctx, fmt.Sprintf(`SELECT name FROM %s ORDER BY id ASC`, EnumTable))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, dadberr.Wrap("scan enum name", err, nil)
		}
		names = append(names, n)
	}
	return names, dadberr.Wrap("iterate enums", rows.Err(), nil)
}

func isNoSuchModel(err error) bool {
	return errors.Is(err, dadberr.ErrNoSuchModel)
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func beginIfNeeded(ctx context.Context, be backend.Backend) (bool, error) {
	if be.InTransaction() {
		return false, nil
	}
	if err := be.BeginTx(ctx); err != nil {
		return false, err
	}
	return true, nil
}
