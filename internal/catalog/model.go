package catalog

import "github.com/mxkrt/dadb/internal/datatype"

// FieldDefinition is the immutable descriptor of a single model field, the
// Go counterpart of the original field_definition(). Exactly one of
// Datatype, Submodel, or Enum is set.
type FieldDefinition struct {
	Name     string
	Datatype datatype.Type // scalar field
	Submodel string        // name of a registered model, for submodel fields
	Enum     string        // name of a registered enum, for enum fields
	Nullable bool
	Multiple bool
	Preview  bool
}

// ScalarField builds a FieldDefinition for a field of a plain datatype.
func ScalarField(name string, dt datatype.Type, nullable, multiple, preview bool) FieldDefinition {
	return FieldDefinition{Name: name, Datatype: dt, Nullable: nullable, Multiple: multiple, Preview: preview}
}

// SubmodelField builds a FieldDefinition referencing another model.
func SubmodelField(name, modelName string, nullable, multiple bool) FieldDefinition {
	return FieldDefinition{Name: name, Submodel: modelName, Nullable: nullable, Multiple: multiple}
}

// EnumFieldDef builds a FieldDefinition referencing a registered enum.
func EnumFieldDef(name, enumName string, nullable, multiple, preview bool) FieldDefinition {
	return FieldDefinition{Name: name, Enum: enumName, Nullable: nullable, Multiple: multiple, Preview: preview}
}

// IsSubmodel reports whether the field references another model.
func (f FieldDefinition) IsSubmodel() bool { return f.Submodel != "" }

// IsEnum reports whether the field references a registered enum.
func (f FieldDefinition) IsEnum() bool { return f.Enum != "" }

// IsScalar reports whether the field holds a plain datatype value.
func (f FieldDefinition) IsScalar() bool { return !f.IsSubmodel() && !f.IsEnum() }

// ModelDefinition is the immutable descriptor of a user model, the Go
// counterpart of the original model_definition().
type ModelDefinition struct {
	Name           string
	Fields         []FieldDefinition
	Description    string
	Version        int
	Source         string // label, e.g. "user" or "autogenerated"
	ExplicitDedup  bool
	ImplicitDedup  bool
	FailOnDup      bool
}

// EnumValue is a single (value, name) pair of a registered enum.
type EnumValue struct {
	Value int64
	Name  string
}

// EnumDefinition is the immutable descriptor of a user enum.
type EnumDefinition struct {
	Name    string
	Version int
	Source  string
	Values  []EnumValue
}

// ModelDescriptor is a model as read back from the catalog, with its
// fields resolved.
type ModelDescriptor struct {
	ID            int64
	Name          string
	TableName     string
	Source        string
	Version       int
	TablePrefix   string
	FieldPrefix   string
	ExplicitDedup bool
	ImplicitDedup bool
	FailOnDup     bool
	Fields        []FieldDescriptor
}

// FieldByName looks up a field descriptor by logical name.
func (m *ModelDescriptor) FieldByName(name string) (FieldDescriptor, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// FieldDescriptor is a field as read back from the catalog.
type FieldDescriptor struct {
	ID        int64
	ModelID   int64
	Name      string
	ColName   string
	Datatype  datatype.Type
	Nullable  bool
	Multiple  bool
	Submodel  int64 // 0 if not set
	Enum      int64 // 0 if not set
	Preview   bool
	MapTable  string // non-empty if Multiple && (Submodel != 0 || Enum != 0)
	PropTable string // non-empty if Multiple && scalar
}

// IsSubmodel reports whether the field references another model.
func (f FieldDescriptor) IsSubmodel() bool { return f.Submodel != 0 }

// IsEnum reports whether the field references a registered enum.
func (f FieldDescriptor) IsEnum() bool { return f.Enum != 0 }

// EnumDescriptor is an enum as read back from the catalog.
type EnumDescriptor struct {
	ID          int64
	Name        string
	TableName   string
	Source      string
	Version     int
	TablePrefix string
	Values      []EnumValue
}

// ValCol and NameCol return the physical column names of this enum's
// backing table.
func (e *EnumDescriptor) ValCol() string  { return e.TablePrefix + "val" }
func (e *EnumDescriptor) NameCol() string { return e.TablePrefix + "name" }

// FieldInfoRow is one row of the _fieldinfo_ view (§3.1, §4.4).
type FieldInfoRow struct {
	ModelName        string
	ModelTable       string
	FieldName        string
	ColumnName       string
	Datatype         string
	Preview          bool
	PointsTo         string // target table for a submodel/enum field (single- or multi-valued), else ""
	MapsTo           string // target table for a multi-valued submodel/enum field, else ""
	MappingTable     string // non-empty if the field has a maptable
	PropertyTable    string // non-empty if the field has a proptable
	PropertyDatatype string // scalar datatype stored in PropertyTable, else ""
}
