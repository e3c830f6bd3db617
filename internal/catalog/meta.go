package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/mxkrt/dadb/internal/backend"
)

// Column describes a single column definition, the DDL-builder idiom
// borrowed from schema-tooling's Column/Table structs, reduced to the
// subset the catalog needs: a name and a verbatim "CREATE TABLE"
// substatement.
type Column struct {
	Name string
	DDL  string // e.g. "INTEGER NOT NULL"
}

// Table describes a table's columns and an optional table-level
// constraint clause (e.g. "UNIQUE (a, b)").
type Table struct {
	Name       string
	Columns    []Column
	Constraint string
}

// CreateStatement renders the table as a CREATE TABLE IF NOT EXISTS
// statement.
func (t Table) CreateStatement() string {
	var parts []string
	for _, c := range t.Columns {
		parts = append(parts, fmt.Sprintf("%s %s", c.Name, c.DDL))
	}
	if t.Constraint != "" {
		parts = append(parts, t.Constraint)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.Name, strings.Join(parts, ", "))
}

// Reserved, enum, model, field, maptable, and proptable are the fixed meta
// tables of §3.1. Names are literal and must survive reopen.
const (
	ReservedTable = "reserved"
	EnumTable     = "enum"
	ModelTable    = "model"
	FieldTable    = "field"
	MapTable      = "maptable"
	PropTable     = "proptable"
	FieldInfoView = "_fieldinfo_"
	// The content-store tables always carry a literal "x" prefix (§6, §8
	// property 3), whatever the per-repository configurable prefix is, since
	// they exist before any model is registered.
	DataTable     = "xdata"
	BlockTable    = "xblock"
	BlockMapTable = "xblockmap"
)

var metaTables = []Table{
	{
		Name: ReservedTable,
		Columns: []Column{
			{"pkey", "TEXT"},
			{"schemaversion", "INTEGER NOT NULL"},
			{"apiversion", "INTEGER NOT NULL"},
			{"prefix", "TEXT"},
			{"timeline_blacklist", "TEXT"},
		},
	},
	{
		Name: EnumTable,
		Columns: []Column{
			{"id", "INTEGER PRIMARY KEY AUTOINCREMENT"},
			{"name", "TEXT NOT NULL"},
			{"table_name", "TEXT NOT NULL"},
			{"source", "TEXT NOT NULL"},
			{"version", "INTEGER NOT NULL"},
			{"table_prefix", "TEXT NOT NULL"},
		},
	},
	{
		Name: ModelTable,
		Columns: []Column{
			{"id", "INTEGER PRIMARY KEY AUTOINCREMENT"},
			{"name", "TEXT NOT NULL"},
			{"table_name", "TEXT NOT NULL"},
			{"source", "TEXT NOT NULL"},
			{"version", "INTEGER NOT NULL"},
			{"table_prefix", "TEXT NOT NULL"},
			{"field_prefix", "TEXT NOT NULL"},
			{"explicit_dedup", "INTEGER"},
			{"implicit_dedup", "INTEGER"},
			{"fail_on_dup", "INTEGER"},
		},
	},
	{
		Name: FieldTable,
		Columns: []Column{
			{"id", "INTEGER PRIMARY KEY AUTOINCREMENT"},
			{"modelid", "INTEGER NOT NULL"},
			{"name", "TEXT NOT NULL"},
			{"colname", "TEXT"},
			{"datatype", "TEXT"},
			{"nullable", "INTEGER"},
			{"multiple", "INTEGER"},
			{"submodel", "INTEGER"},
			{"enum", "INTEGER"},
			{"preview", "INTEGER"},
		},
		Constraint: "UNIQUE (modelid, name)",
	},
	{
		Name: MapTable,
		Columns: []Column{
			{"field", "INTEGER"},
			{"maptable", "TEXT UNIQUE"},
			{"enum", "INTEGER"},
			{"model", "INTEGER"},
		},
		Constraint: "PRIMARY KEY (field, maptable)",
	},
	{
		Name: PropTable,
		Columns: []Column{
			{"field", "INTEGER"},
			{"datatype", "TEXT"},
			{"proptable", "TEXT"},
		},
		Constraint: "PRIMARY KEY (field, proptable)",
	},
}

var contentTables = []Table{
	{
		Name: DataTable,
		Columns: []Column{
			{"id", "INTEGER PRIMARY KEY AUTOINCREMENT"},
			{"md5", "TEXT NOT NULL"},
			{"sha1", "TEXT NOT NULL"},
			{"sha256", "TEXT NOT NULL"},
			{"size", "INTEGER NOT NULL"},
			{"stored", "INTEGER NOT NULL"},
		},
	},
	{
		Name: BlockTable,
		Columns: []Column{
			{"id", "INTEGER PRIMARY KEY AUTOINCREMENT"},
			{"sha1", "TEXT NOT NULL"},
			{"size", "INTEGER NOT NULL"},
			{"data", "BLOB NOT NULL"},
		},
	},
	{
		Name: BlockMapTable,
		Columns: []Column{
			{"dataid", "INTEGER NOT NULL"},
			{"blkid", "INTEGER NOT NULL"},
			{"offset", "INTEGER NOT NULL"},
		},
		Constraint: "PRIMARY KEY (dataid, offset)",
	},
}

// CreateMetaTables issues DDL for the six operational meta tables.
func CreateMetaTables(ctx context.Context, be backend.Backend) error {
	for _, t := range metaTables {
		if err := be.DDL(ctx, t.CreateStatement()); err != nil {
			return err
		}
	}
	return nil
}

// CreateContentTables issues DDL for the three content-store tables.
func CreateContentTables(ctx context.Context, be backend.Backend) error {
	for _, t := range contentTables {
		if err := be.DDL(ctx, t.CreateStatement()); err != nil {
			return err
		}
	}
	if err := be.DDL(ctx, fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_block_sha1_size ON %s (sha1, size)", BlockTable)); err != nil {
		return err
	}
	return be.DDL(ctx, fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_data_sha256 ON %s (sha256)", DataTable))
}

// EnumTableDef generates the backing table for an enum with physical name
// tblname under field prefix prefix: an INTEGER PK value column and a TEXT
// name column, unique on the pair (§3.3).
func EnumTableDef(prefix, tblname string) Table {
	valCol := prefix + "val"
	nameCol := prefix + "name"
	return Table{
		Name: tblname,
		Columns: []Column{
			{valCol, "INTEGER PRIMARY KEY NOT NULL"},
			{nameCol, "TEXT NOT NULL"},
		},
		Constraint: fmt.Sprintf("UNIQUE (%s, %s)", valCol, nameCol),
	}
}

// MetaTableNames lists the fixed meta-table names in creation order, used
// by reopen-identity checks (§8 property 3).
func MetaTableNames() []string {
	names := make([]string, 0, len(metaTables)+len(contentTables))
	for _, t := range metaTables {
		names = append(names, t.Name)
	}
	for _, t := range contentTables {
		names = append(names, t.Name)
	}
	return names
}

// createFieldInfoView (re)creates the _fieldinfo_ view of §3.1, joining
// field with model, maptable, and proptable.
func createFieldInfoView(ctx context.Context, be backend.Backend) error {
	if err := be.DDL(ctx, "DROP VIEW IF EXISTS "+FieldInfoView); err != nil {
		return err
	}
	stmt := fmt.Sprintf(`
		CREATE VIEW %s AS
		SELECT m.name AS modelname_,
		       m.table_name AS modeltable_,
		       f.name AS fieldname_,
		       f.colname AS columnname_,
		       f.datatype AS datatype_,
		       f.preview AS preview_,
		       (CASE
		          WHEN f.submodel IS NOT NULL THEN (SELECT table_name FROM %s WHERE id = f.submodel)
		          WHEN f.enum IS NOT NULL THEN (SELECT table_name FROM %s WHERE id = f.enum)
		       END) AS points_to_,
		       (CASE
		          WHEN mt.enum IS NOT NULL THEN (SELECT table_name FROM %s WHERE id = mt.enum)
		          WHEN mt.model IS NOT NULL THEN (SELECT table_name FROM %s WHERE id = mt.model)
		       END) AS maps_to_,
		       mt.maptable AS mapping_table_,
		       pt.proptable AS property_table_,
		       pt.datatype AS property_datatype_
		FROM %s f
		LEFT JOIN %s m ON f.modelid = m.id
		LEFT JOIN %s mt ON f.id = mt.field
		LEFT JOIN %s pt ON f.id = pt.field
	`, FieldInfoView, ModelTable, EnumTable, EnumTable, ModelTable, FieldTable, ModelTable, MapTable, PropTable)
	return be.DDL(ctx, stmt)
}
