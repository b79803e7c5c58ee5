// Package typelattice implements the closed FieldType lattice used to
// describe SQL parameter and result column types, and their rendering
// into TypeScript surface syntax.
package typelattice

import "strings"

// FieldType is a value in the closed type lattice. Concrete
// implementations are the only legal members of the sum: String, Number,
// Boolean, Object, Date, Null, Any, Never, Array and Array2D.
type FieldType interface {
	// Render returns the TypeScript type expression for this field type.
	Render() string
}

type String struct{}

func (String) Render() string { return "string" }

type Number struct{}

func (Number) Render() string { return "number" }

type Boolean struct{}

func (Boolean) Render() string { return "boolean" }

// Object represents an opaque JSON-ish value (JSON/JSONB columns, or any
// column whose native type carries no simpler TS analogue).
type Object struct{}

func (Object) Render() string { return "object" }

type Date struct{}

func (Date) Render() string { return "Date" }

type Null struct{}

func (Null) Render() string { return "null" }

// Any is used for columns or expressions whose type could not be
// determined. Producing it does not by itself raise a diagnostic: the
// native-type and annotation mappers return Any silently for names they
// do not know.
type Any struct{}

func (Any) Render() string { return "any" }

// Never marks a position that is statically unreachable (e.g. an empty
// result set shape). Rendering it keeps generated declarations valid TS
// even when nothing can legally occupy the slot.
type Never struct{}

func (Never) Render() string { return "never" }

// Array is a homogeneous TypeScript array type, `Elem[]`.
type Array struct {
	Elem FieldType
}

func (a Array) Render() string {
	elem := a.Elem.Render()
	if needsParens(elem) {
		return "(" + elem + ")[]"
	}
	return elem + "[]"
}

// Array2D renders a fixed two-dimensional literal shape, used for
// multi-row INSERT parameter tuples: `[[T1, T2], [T3, T4]]`, one
// bracketed row per VALUES tuple, rows joined by commas inside brackets.
type Array2D struct {
	Rows [][]FieldType
}

func (a Array2D) Render() string {
	rows := make([]string, 0, len(a.Rows))
	for _, row := range a.Rows {
		cols := make([]string, 0, len(row))
		for _, c := range row {
			cols = append(cols, c.Render())
		}
		rows = append(rows, "["+strings.Join(cols, ", ")+"]")
	}
	return "[" + strings.Join(rows, ", ") + "]"
}

func needsParens(rendered string) bool {
	return strings.Contains(rendered, "|") || strings.Contains(rendered, "&")
}

// Union returns the members of a union of several field types,
// deduplicated by rendered form and in first-seen order; RenderUnion
// turns the result into TS syntax. Used whenever a
// position (a CASE expression, a COALESCE call, a column appearing with
// different nullability across branches) can take more than one shape.
func Union(types []FieldType) []FieldType {
	seen := make(map[string]bool, len(types))
	out := make([]FieldType, 0, len(types))
	for _, t := range types {
		if t == nil {
			continue
		}
		key := t.Render()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

// RenderUnion renders a slice of FieldType as a TS union expression,
// e.g. "string | null".
func RenderUnion(types []FieldType) string {
	deduped := Union(types)
	parts := make([]string, 0, len(deduped))
	for _, t := range deduped {
		parts = append(parts, t.Render())
	}
	return strings.Join(parts, " | ")
}

// WithNull appends Null{} to a type when nullable is true, mirroring a
// nullable column or parameter. It does not check whether t is already
// Null.
func WithNull(t FieldType, nullable bool) []FieldType {
	if !nullable {
		return []FieldType{t}
	}
	return []FieldType{t, Null{}}
}

// FromMySQL maps a MySQL/MariaDB/TiDB information_schema column_type (or
// base type keyword) string to the closed lattice. It is a pragmatic,
// closed-set mapping, not a generic MySQL type parser.
func FromMySQL(nativeType string) FieldType {
	t := strings.ToLower(strings.TrimSpace(nativeType))
	base, _, _ := strings.Cut(t, "(")
	base = strings.TrimSpace(base)
	// column_type may carry attributes after the base keyword when no
	// display width is reported (`bigint unsigned`, `int unsigned zerofill`).
	base = strings.TrimSpace(strings.TrimSuffix(base, " zerofill"))
	base = strings.TrimSpace(strings.TrimSuffix(base, " unsigned"))
	switch {
	case base == "tinyint":
		// Pragmatic, slightly wrong: tinyint(1) is the conventional MySQL
		// boolean encoding, and the server reports every boolean column
		// as tinyint, so all tinyints render as boolean even though a
		// tinyint(4) counter really holds small integers.
		return Boolean{}
	case isMySQLIntegerType(base):
		return Number{}
	case isMySQLFloatType(base):
		return Number{}
	case base == "decimal" || base == "numeric" || base == "year":
		return Number{}
	case base == "varchar" || base == "char" || base == "text" ||
		base == "tinytext" || base == "mediumtext" || base == "longtext" ||
		base == "enum" || base == "set":
		return String{}
	case base == "binary" || base == "varbinary" || base == "bit" || base == "blob" ||
		base == "tinyblob" || base == "mediumblob" || base == "longblob":
		return String{}
	case base == "date" || base == "datetime" || base == "timestamp":
		return Date{}
	case base == "json":
		return Object{}
	case base == "boolean" || base == "bool":
		return Boolean{}
	default:
		return Any{}
	}
}

func isMySQLIntegerType(base string) bool {
	switch base {
	case "smallint", "mediumint", "int", "integer", "bigint":
		return true
	}
	return false
}

func isMySQLFloatType(base string) bool {
	switch base {
	case "float", "double", "double precision":
		return true
	}
	return false
}

// FromPostgres maps a Postgres native type name (as reported by
// information_schema.columns.data_type or pg_catalog format_type) to the
// closed lattice.
func FromPostgres(nativeType string) FieldType {
	t := strings.ToLower(strings.TrimSpace(nativeType))
	base, _, _ := strings.Cut(t, "(")
	base = strings.TrimSpace(base)

	if strings.HasSuffix(base, "[]") || strings.HasPrefix(base, "_") {
		// Postgres array columns: informational-only, collapse to Any.
		return Any{}
	}

	switch base {
	case "smallint", "integer", "int", "int2", "int4", "int8", "bigint",
		"numeric", "decimal", "real", "double precision", "float4", "float8",
		"smallserial", "serial", "bigserial", "money":
		return Number{}
	case "text", "varchar", "character varying", "character", "char",
		"uuid", "bytea", "inet", "cidr", "macaddr", "macaddr8":
		return String{}
	case "boolean", "bool":
		return Boolean{}
	case "date":
		return Date{}
	case "json", "jsonb":
		return Object{}
	default:
		return Any{}
	}
}

// FromAnnotation maps the type name written in an inline annotation
// (`-- @param N: string`) to a FieldType. Unions (`string | null`) and
// array suffixes (`number[]`) are handled by the annotation parser, which
// calls this function per leaf identifier.
func FromAnnotation(name string) FieldType {
	switch strings.TrimSpace(name) {
	case "string":
		return String{}
	case "number":
		return Number{}
	case "boolean":
		return Boolean{}
	case "object":
		return Object{}
	case "Date":
		return Date{}
	case "null":
		return Null{}
	case "any":
		return Any{}
	case "never":
		return Never{}
	default:
		return Any{}
	}
}
