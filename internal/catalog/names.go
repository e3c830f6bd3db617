package catalog

import (
	"regexp"

	"github.com/mxkrt/dadb/internal/dadberr"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateName enforces the strict identifier policy called for in spec.md
// §9: ASCII letters, digits, and underscore only, not starting with a
// digit. Callers are expected to pass names already safe under this
// policy; invalid characters are rejected rather than silently rewritten.
func ValidateName(name string) error {
	if !identRe.MatchString(name) {
		return dadberr.ValueErrorf(name, "identifier must match [A-Za-z_][A-Za-z0-9_]*")
	}
	return nil
}

// LegacyRewriteName reproduces the original implementation's permissive
// validname(): '.' and '+' are rewritten to '_'. Kept only for parity with
// original_source/dadb/_schema.py; the registration path in this package
// uses ValidateName, not this rewrite.
func LegacyRewriteName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '.' || r == '+' {
			out = append(out, '_')
		} else {
			out = append(out, r)
		}
	}
	return string(out)
}

// TableName returns the physical backing table name for a model name under
// the given table prefix, e.g. TableName("x", "File") == "xFile".
func TableName(prefix, modelName string) string {
	return prefix + modelName
}

// ColumnName returns the physical column name for a field under the given
// field prefix, e.g. ColumnName("x", "size") == "xsize".
func ColumnName(prefix, fieldName string) string {
	return prefix + fieldName
}

// MapTableName returns the physical join-table name for a multi-valued
// submodel/enum field, e.g. MapTableName("x", "File", "tags") == "xFile_tags".
func MapTableName(prefix, modelName, fieldName string) string {
	return prefix + modelName + "_" + fieldName
}

// PropTableName returns the physical side-table name for a multi-valued
// scalar field. Proptables and maptables share the naming scheme; they are
// distinguished by which catalog table describes them.
func PropTableName(prefix, modelName, fieldName string) string {
	return prefix + modelName + "_" + fieldName
}
