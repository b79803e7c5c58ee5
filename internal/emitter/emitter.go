// Package emitter renders a resolved analyzer.QueryShape into a
// three-declaration TypeScript block: a tuple Params type, an IResult
// interface, and an umbrella IQuery interface.
package emitter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iancoleman/strcase"

	"sqlxts/internal/analyzer"
	"sqlxts/internal/typelattice"
)

// Options controls rendering choices that do not affect the shape being
// described, only its surface spelling.
type Options struct {
	// CamelCaseColumnNames converts each result column label to
	// lowerCamelCase before it is used as an interface field name,
	// mirroring config.Config.ConvertToCamelCaseColumnName.
	CamelCaseColumnNames bool
}

// Header opens every generated declaration file. The text is fixed so
// regenerating an unchanged input produces a byte-identical file.
const Header = "/* Generated by sqlxts. Do not edit this file directly. */\n"

// Name upper-camel-cases a raw binding name into the identifier prefix
// shared by all three declarations (`someQuery` -> `SomeQuery`).
func Name(bindingName string) string {
	return strcase.ToCamel(bindingName)
}

// Emit renders shape's three declarations, in the fixed order Params,
// IResult, IQuery, each line newline-terminated. The block carries no
// trailing blank line; the caller that writes a file separates
// consecutive blocks.
func Emit(shape *analyzer.QueryShape, opts Options) string {
	var b strings.Builder

	fmt.Fprintf(&b, "export type %sParams = %s;\n", shape.Name, renderParams(shape))
	fmt.Fprintf(&b, "export interface I%sResult {\n", shape.Name)
	for _, field := range sortedResultFields(shape) {
		key := field
		if opts.CamelCaseColumnNames {
			key = strcase.ToLowerCamel(field)
		}
		fmt.Fprintf(&b, "  %s: %s;\n", key, typelattice.RenderUnion(shape.Result[field]))
	}
	b.WriteString("}\n")
	fmt.Fprintf(&b, "export interface I%sQuery {\n", shape.Name)
	fmt.Fprintf(&b, "  params: %sParams;\n", shape.Name)
	fmt.Fprintf(&b, "  result: I%sResult;\n", shape.Name)
	b.WriteString("}\n")

	return b.String()
}

// sortedResultFields returns shape's result column labels in sorted
// order. ResultOrder drives de-duplication and RETURNING/SELECT-list
// ordering upstream, but the emitted interface always sorts so output
// is stable regardless of how the query spells its select list.
func sortedResultFields(shape *analyzer.QueryShape) []string {
	fields := make([]string, 0, len(shape.Result))
	for k := range shape.Result {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// renderParams renders the Params tuple: a flat tuple of positional
// parameter types, or a tuple of row tuples for a multi-row INSERT.
// A shape has one or the other, never both.
func renderParams(shape *analyzer.QueryShape) string {
	if len(shape.InsertParams) > 0 {
		return renderInsertParams(shape)
	}
	if len(shape.Params) == 0 {
		return "[]"
	}

	max := 0
	for idx := range shape.Params {
		if idx > max {
			max = idx
		}
	}
	parts := make([]string, max)
	for i := 1; i <= max; i++ {
		ft, ok := shape.Params[i]
		if !ok {
			ft = typelattice.Any{}
		}
		parts[i-1] = ft.Render()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// renderInsertParams renders a multi-row INSERT's parameters as
// `[[t, t], [t, t]]`, one row per VALUES tuple, columns in column-index
// order within each row.
func renderInsertParams(shape *analyzer.QueryShape) string {
	rowIdx := make([]int, 0, len(shape.InsertParams))
	for r := range shape.InsertParams {
		rowIdx = append(rowIdx, r)
	}
	sort.Ints(rowIdx)

	rows := make([]string, 0, len(rowIdx))
	for _, r := range rowIdx {
		cols := shape.InsertParams[r]
		colIdx := make([]int, 0, len(cols))
		for c := range cols {
			colIdx = append(colIdx, c)
		}
		sort.Ints(colIdx)

		parts := make([]string, 0, len(colIdx))
		for _, c := range colIdx {
			parts = append(parts, cols[c].Render())
		}
		rows = append(rows, "["+strings.Join(parts, ", ")+"]")
	}
	return "[" + strings.Join(rows, ", ") + "]"
}
