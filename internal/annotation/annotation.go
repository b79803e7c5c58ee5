// Package annotation parses the `@param`, `@result` and `@insert-param`
// comment annotations that let a query override an inferred type.
package annotation

import (
	"regexp"
	"strconv"
	"strings"

	"sqlxts/internal/diagnostic"
	"sqlxts/internal/span"
	"sqlxts/internal/typelattice"
)

// ParamOverride is a `-- @param N: T` or `/* @param N: T */` annotation.
type ParamOverride struct {
	Index int
	Type  typelattice.FieldType
}

// ResultOverride is a `-- @result name: T` annotation.
type ResultOverride struct {
	Name string
	Type typelattice.FieldType
}

// InsertParamOverride is a `-- @insert-param row,col: T` annotation.
type InsertParamOverride struct {
	Row, Col int
	Type     typelattice.FieldType
}

// Set is every annotation found in one query's leading comments.
type Set struct {
	Params       []ParamOverride
	Results      []ResultOverride
	InsertParams []InsertParamOverride
}

var (
	lineCommentRe  = regexp.MustCompile(`(?m)^\s*--\s*(@\S.*)$`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*\s*(@[^*]*)\*/`)

	paramRe       = regexp.MustCompile(`^@param\s+(\d+)\s*:\s*(.+)$`)
	resultRe      = regexp.MustCompile(`^@result\s+([A-Za-z_$][\w$]*)\s*:\s*(.+)$`)
	insertParamRe = regexp.MustCompile(`^@insert-param\s+(\d+)\s*,\s*(\d+)\s*:\s*(.+)$`)
)

// Parse scans the text preceding the first SQL token (the query source
// with its trailing statement body stripped off by the caller, or simply
// the whole query text since annotation lines never appear inside SQL
// tokens that matter) for annotation comments. Unrecognized `@`-led
// comments produce an AnnotationUnrecognized diagnostic rather than a
// hard failure.
func Parse(text string, sp span.Span) (Set, []diagnostic.Diagnostic) {
	var set Set
	var diags []diagnostic.Diagnostic

	for _, m := range lineCommentRe.FindAllStringSubmatch(text, -1) {
		parseOne(m[1], sp, &set, &diags)
	}
	for _, m := range blockCommentRe.FindAllStringSubmatch(text, -1) {
		for _, line := range strings.Split(m[1], "\n") {
			line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "*"))
			if line == "" {
				continue
			}
			parseOne(line, sp, &set, &diags)
		}
	}

	return set, diags
}

func parseOne(text string, sp span.Span, set *Set, diags *[]diagnostic.Diagnostic) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if m := paramRe.FindStringSubmatch(text); m != nil {
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			*diags = append(*diags, diagnostic.Warningf(diagnostic.AnnotationUnrecognized, sp, "malformed @param index: "+m[1]))
			return
		}
		set.Params = append(set.Params, ParamOverride{Index: idx, Type: parseTypeExpr(m[2])})
		return
	}
	if m := resultRe.FindStringSubmatch(text); m != nil {
		set.Results = append(set.Results, ResultOverride{Name: m[1], Type: parseTypeExpr(m[2])})
		return
	}
	if m := insertParamRe.FindStringSubmatch(text); m != nil {
		row, err1 := strconv.Atoi(m[1])
		col, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			*diags = append(*diags, diagnostic.Warningf(diagnostic.AnnotationUnrecognized, sp, "malformed @insert-param indices: "+text))
			return
		}
		set.InsertParams = append(set.InsertParams, InsertParamOverride{Row: row, Col: col, Type: parseTypeExpr(m[3])})
		return
	}

	*diags = append(*diags, diagnostic.Warningf(diagnostic.AnnotationUnrecognized, sp, "unrecognized annotation: "+text))
}

// parseTypeExpr parses a TS-ish type expression made only of the lattice's
// leaf names joined by `|` and optionally suffixed with `[]`.
func parseTypeExpr(expr string) typelattice.FieldType {
	parts := strings.Split(expr, "|")
	leaves := make([]typelattice.FieldType, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		isArray := strings.HasSuffix(p, "[]")
		if isArray {
			p = strings.TrimSpace(strings.TrimSuffix(p, "[]"))
		}
		leaf := typelattice.FromAnnotation(p)
		if isArray {
			leaf = typelattice.Array{Elem: leaf}
		}
		leaves = append(leaves, leaf)
	}
	if len(leaves) == 1 {
		return leaves[0]
	}
	return unionType{types: leaves}
}

// unionType is an internal FieldType implementation representing an
// inline annotation union that renders via typelattice.RenderUnion.
type unionType struct {
	types []typelattice.FieldType
}

func (u unionType) Render() string { return typelattice.RenderUnion(u.types) }
