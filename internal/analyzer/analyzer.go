// Package analyzer builds a QueryShape (parameter and result types) from
// a parsed query, a schema catalog, and any inline annotations,
// reconciling inferred types with annotation overrides and producing
// diagnostics for anything it cannot resolve.
package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"sqlxts/internal/annotation"
	"sqlxts/internal/catalog"
	"sqlxts/internal/diagnostic"
	"sqlxts/internal/span"
	"sqlxts/internal/sqlparse"
	"sqlxts/internal/typelattice"
)

// NativeTypeMapper converts a dialect-native type string into the
// closed FieldType lattice. mysqlcatalog/pgcatalog sources report
// native types; typelattice.FromMySQL/FromPostgres are the two mappers
// in use.
type NativeTypeMapper func(nativeType string) typelattice.FieldType

// QueryShape is the fully-resolved type description of one query,
// ready for TS emission.
type QueryShape struct {
	Name string

	// Params maps a `?`/`$n` ordinal to its inferred type, for
	// SELECT/UPDATE/DELETE placeholders appearing outside an INSERT
	// VALUES list.
	Params map[int]typelattice.FieldType

	// InsertParams maps [row][col] (both 0-based) to a type, for
	// INSERT ... VALUES placeholders.
	InsertParams map[int]map[int]typelattice.FieldType

	// Result maps output column name to its (possibly unioned) type.
	Result map[string][]typelattice.FieldType
	// ResultOrder preserves the SELECT list's column order.
	ResultOrder []string
}

// Analyzer resolves one query's shape against a schema catalog.
type Analyzer struct {
	Catalog       *catalog.Catalog
	MapNativeType NativeTypeMapper
}

func New(cat *catalog.Catalog, mapper NativeTypeMapper) *Analyzer {
	return &Analyzer{Catalog: cat, MapNativeType: mapper}
}

// tableSet resolves a qualified column reference's table qualifier
// against the query's primary table and any joined tables, falling
// back to the primary table when a reference carries no qualifier.
type tableSet struct {
	primary *catalog.Table
	joined  map[string]*catalog.Table
}

func (ts tableSet) resolve(qualifier string) *catalog.Table {
	if qualifier == "" {
		return ts.primary
	}
	if t, ok := ts.joined[strings.ToLower(qualifier)]; ok {
		return t
	}
	if ts.primary != nil && strings.EqualFold(ts.primary.Name, qualifier) {
		return ts.primary
	}
	return nil
}

// Analyze resolves a parsed query into a QueryShape. rawQuery is the
// original SQL text, used only for the placeholder-mix heuristic since
// the dialect parser has already normalized `?`/`$n` away by the time
// the IR is built. Diagnostics for unknown tables/columns or
// placeholder-shape problems are returned alongside a best-effort shape
// (unresolved positions render as `any` with an UnknownColumn
// diagnostic rather than aborting the whole query).
func (a *Analyzer) Analyze(ctx context.Context, q *sqlparse.Query, ann annotation.Set, name string, sp span.Span, rawQuery string) (*QueryShape, []diagnostic.Diagnostic) {
	shape := &QueryShape{
		Name:         name,
		Params:       map[int]typelattice.FieldType{},
		InsertParams: map[int]map[int]typelattice.FieldType{},
		Result:       map[string][]typelattice.FieldType{},
	}
	var diags []diagnostic.Diagnostic

	switch q.Kind {
	case sqlparse.Select:
		diags = append(diags, a.analyzeSelect(ctx, q, shape)...)
	case sqlparse.Insert:
		diags = append(diags, a.analyzeInsert(ctx, q, shape)...)
	case sqlparse.Update:
		diags = append(diags, a.analyzeUpdate(ctx, q, shape)...)
	case sqlparse.Delete:
		diags = append(diags, a.analyzeDelete(ctx, q, shape)...)
	}

	diags = append(diags, a.checkPlaceholderShape(q, sp)...)
	diags = append(diags, checkPlaceholderMix(rawQuery, sp)...)
	a.applyAnnotations(shape, ann)

	return shape, diags
}

func (a *Analyzer) lookupTable(ctx context.Context, ref *sqlparse.TableRef, sp span.Span) (*catalog.Table, []diagnostic.Diagnostic) {
	if ref == nil {
		return nil, []diagnostic.Diagnostic{diagnostic.New(diagnostic.UnknownTable, sp, "could not determine target table")}
	}
	t, err := a.Catalog.Lookup(ctx, ref.Schema, ref.Name)
	if err != nil {
		return nil, []diagnostic.Diagnostic{diagnostic.New(diagnostic.UnknownTable, sp, fmt.Sprintf("unknown table %q: %v", ref.Name, err))}
	}
	return t, nil
}

// buildTableSet resolves the primary table plus every joined table of
// q, collecting diagnostics for any that fail to resolve but never
// aborting the rest of the analysis over it.
func (a *Analyzer) buildTableSet(ctx context.Context, primary *sqlparse.TableRef, joins []sqlparse.TableRef, sp span.Span) (tableSet, []diagnostic.Diagnostic) {
	var diags []diagnostic.Diagnostic
	ts := tableSet{joined: map[string]*catalog.Table{}}

	if primary != nil {
		t, d := a.lookupTable(ctx, primary, sp)
		ts.primary = t
		diags = append(diags, d...)
	}
	for i := range joins {
		ref := joins[i]
		t, d := a.lookupTable(ctx, &ref, sp)
		diags = append(diags, d...)
		if t != nil {
			ts.joined[strings.ToLower(ref.Name)] = t
		}
	}
	return ts, diags
}

func (a *Analyzer) columnType(t *catalog.Table, name string, sp span.Span) (typelattice.FieldType, []diagnostic.Diagnostic) {
	col, ok := t.Column(name)
	if !ok {
		return typelattice.Any{}, []diagnostic.Diagnostic{diagnostic.New(diagnostic.UnknownColumn, sp, fmt.Sprintf("unknown column %q on table %q", name, t.Name))}
	}
	var diags []diagnostic.Diagnostic
	if isArrayNative(col.NativeType) {
		diags = append(diags, diagnostic.Infof(diagnostic.UnknownColumn, sp,
			fmt.Sprintf("array element inference is not implemented; column %q renders as any", col.Name)))
	}
	base := a.MapNativeType(col.NativeType)
	if col.Nullable {
		return unionType{[]typelattice.FieldType{base, typelattice.Null{}}}, diags
	}
	return base, diags
}

// isArrayNative recognizes the native type spellings Postgres uses for
// array columns (information_schema reports "ARRAY", udt_name reports a
// leading underscore, format_type reports a [] suffix).
func isArrayNative(nativeType string) bool {
	t := strings.ToLower(strings.TrimSpace(nativeType))
	return t == "array" || strings.HasPrefix(t, "_") || strings.HasSuffix(t, "[]")
}

func (a *Analyzer) analyzeSelect(ctx context.Context, q *sqlparse.Query, shape *QueryShape) []diagnostic.Diagnostic {
	ts, diags := a.buildTableSet(ctx, q.From, q.Joins, span.Span{})
	diags = append(diags, a.projectColumns(q.Columns, ts, shape)...)

	for _, w := range q.WhereExprs {
		diags = append(diags, a.resolveWherePlaceholder(w, ts, shape)...)
	}
	return diags
}

// projectColumns fills shape.Result/ResultOrder from a SELECT list or a
// Postgres RETURNING clause; both project columns the same way.
func (a *Analyzer) projectColumns(items []sqlparse.SelectItem, ts tableSet, shape *QueryShape) []diagnostic.Diagnostic {
	var diags []diagnostic.Diagnostic

	for i, item := range items {
		name := item.Alias
		var types []typelattice.FieldType

		switch item.Expr.Kind {
		case sqlparse.ValueStar:
			if ts.primary != nil {
				for _, col := range ts.primary.Columns {
					t := a.MapNativeType(col.NativeType)
					if col.Nullable {
						t = unionType{[]typelattice.FieldType{t, typelattice.Null{}}}
					}
					shape.Result[col.Name] = []typelattice.FieldType{t}
					shape.ResultOrder = append(shape.ResultOrder, col.Name)
				}
			}
			continue
		case sqlparse.ValueColumn:
			if name == "" {
				name = item.Expr.Column
			}
			table := ts.resolve(item.Expr.Table)
			if table != nil {
				t, d := a.columnType(table, item.Expr.Column, span.Span{})
				types = []typelattice.FieldType{t}
				diags = append(diags, d...)
			} else {
				types = []typelattice.FieldType{typelattice.Any{}}
			}
		case sqlparse.ValueCase:
			if name == "" {
				diags = append(diags, diagnostic.New(diagnostic.MissingAliasForFunctions, span.Span{},
					"CASE expression in the select list requires an alias"))
				name = fmt.Sprintf("column_%d", i+1)
			}
			types = typelattice.Union(a.unionBranches(item.Expr.Args, ts))
		case sqlparse.ValueFunctionCall:
			if isUnionFunc(item.Expr.FuncName) {
				if name == "" {
					diags = append(diags, diagnostic.New(diagnostic.MissingAliasForFunctions, span.Span{},
						fmt.Sprintf("%s(...) in the select list requires an alias", item.Expr.FuncName)))
					name = fmt.Sprintf("column_%d", i+1)
				}
				types = typelattice.Union(a.unionBranches(item.Expr.Args, ts))
				break
			}
			if name == "" {
				diags = append(diags, diagnostic.New(diagnostic.MissingAliasForFunctions, span.Span{},
					fmt.Sprintf("function call %q in the select list requires an alias", item.Expr.FuncName)))
				name = fmt.Sprintf("column_%d", i+1)
			}
			types = []typelattice.FieldType{typelattice.Any{}}
		case sqlparse.ValueLiteral:
			if name == "" {
				name = fmt.Sprintf("column_%d", i+1)
			}
			types = []typelattice.FieldType{literalType(item.Expr.LiteralKind)}
		default:
			if name == "" {
				name = fmt.Sprintf("column_%d", i+1)
			}
			types = []typelattice.FieldType{typelattice.Any{}}
		}

		if _, dup := shape.Result[name]; dup {
			diags = append(diags, diagnostic.New(diagnostic.MissingAliasForFunctions, span.Span{},
				fmt.Sprintf("duplicate result column %q; add an explicit alias", name)))
			continue
		}
		shape.Result[name] = types
		shape.ResultOrder = append(shape.ResultOrder, name)
	}
	return diags
}

// isUnionFunc reports whether a function call is one of the lattice's
// union-producing forms (COALESCE, IF) rather than an opaque call whose
// result defaults to Any.
func isUnionFunc(name string) bool {
	switch strings.ToLower(name) {
	case "coalesce", "if":
		return true
	}
	return false
}

// unionBranches resolves the FieldType of each branch of a CASE or
// COALESCE/IF expression, in branch order. It does not deduplicate;
// callers pass the result through typelattice.Union for that.
func (a *Analyzer) unionBranches(args []sqlparse.ValueExpr, ts tableSet) []typelattice.FieldType {
	var out []typelattice.FieldType
	for _, arg := range args {
		out = append(out, a.valueType(arg, ts)...)
	}
	return out
}

// valueType resolves the FieldType(s) of an arbitrary value expression,
// recursing into nested CASE/COALESCE branches. It never produces
// diagnostics of its own; callers that need UnknownColumn reporting use
// columnType directly on a resolved column reference.
func (a *Analyzer) valueType(v sqlparse.ValueExpr, ts tableSet) []typelattice.FieldType {
	switch v.Kind {
	case sqlparse.ValueColumn:
		if table := ts.resolve(v.Table); table != nil {
			t, _ := a.columnType(table, v.Column, span.Span{})
			return []typelattice.FieldType{t}
		}
		return []typelattice.FieldType{typelattice.Any{}}
	case sqlparse.ValueLiteral:
		return []typelattice.FieldType{literalType(v.LiteralKind)}
	case sqlparse.ValueNull:
		return []typelattice.FieldType{typelattice.Null{}}
	case sqlparse.ValueCase, sqlparse.ValueFunctionCall:
		if v.Kind == sqlparse.ValueFunctionCall && !isUnionFunc(v.FuncName) {
			return []typelattice.FieldType{typelattice.Any{}}
		}
		return a.unionBranches(v.Args, ts)
	default:
		return []typelattice.FieldType{typelattice.Any{}}
	}
}

func (a *Analyzer) analyzeInsert(ctx context.Context, q *sqlparse.Query, shape *QueryShape) []diagnostic.Diagnostic {
	table, diags := a.lookupTable(ctx, q.InsertTable, span.Span{})

	columns := q.InsertColumns
	if len(columns) == 0 && table != nil {
		for _, c := range table.Columns {
			columns = append(columns, c.Name)
		}
	}

	for rowIdx, row := range q.Rows {
		for colIdx, v := range row.Values {
			if v.Kind != sqlparse.ValuePlaceholder {
				continue
			}
			var ft typelattice.FieldType = typelattice.Any{}
			if table != nil && colIdx < len(columns) {
				t, d := a.columnType(table, columns[colIdx], span.Span{})
				ft = t
				diags = append(diags, d...)
			}
			if shape.InsertParams[rowIdx] == nil {
				shape.InsertParams[rowIdx] = map[int]typelattice.FieldType{}
			}
			shape.InsertParams[rowIdx][colIdx] = ft
		}
	}

	for _, set := range q.Set {
		if set.Value.Kind != sqlparse.ValuePlaceholder {
			continue
		}
		var ft typelattice.FieldType = typelattice.Any{}
		if table != nil {
			t, d := a.columnType(table, set.Column, span.Span{})
			ft = t
			diags = append(diags, d...)
		}
		shape.Params[set.Value.Placeholder] = ft
	}

	if q.Returning {
		ts := tableSet{primary: table, joined: map[string]*catalog.Table{}}
		diags = append(diags, a.projectColumns(q.Columns, ts, shape)...)
	}

	return diags
}

func (a *Analyzer) analyzeUpdate(ctx context.Context, q *sqlparse.Query, shape *QueryShape) []diagnostic.Diagnostic {
	ts, diags := a.buildTableSet(ctx, q.Target, q.Joins, span.Span{})

	for _, set := range q.Set {
		if set.Value.Kind != sqlparse.ValuePlaceholder {
			continue
		}
		var ft typelattice.FieldType = typelattice.Any{}
		// A multi-table UPDATE's SET target may be qualified with a
		// joined table's name; resolve it the same way WHERE-clause
		// column references resolve.
		if table := ts.resolve(set.Table); table != nil {
			t, d := a.columnType(table, set.Column, span.Span{})
			ft = t
			diags = append(diags, d...)
		}
		shape.Params[set.Value.Placeholder] = ft
	}

	for _, w := range q.WhereExprs {
		diags = append(diags, a.resolveWherePlaceholder(w, ts, shape)...)
	}

	if q.Returning {
		diags = append(diags, a.projectColumns(q.Columns, ts, shape)...)
	}
	return diags
}

func (a *Analyzer) analyzeDelete(ctx context.Context, q *sqlparse.Query, shape *QueryShape) []diagnostic.Diagnostic {
	ts, diags := a.buildTableSet(ctx, q.Target, q.Joins, span.Span{})
	for _, w := range q.WhereExprs {
		diags = append(diags, a.resolveWherePlaceholder(w, ts, shape)...)
	}
	if q.Returning {
		diags = append(diags, a.projectColumns(q.Columns, ts, shape)...)
	}
	return diags
}

// resolveWherePlaceholder infers a WHERE-clause placeholder's type from
// the column it was compared against, resolving a qualified column
// against the right joined table when one is given. It recurses into
// function-call arguments (e.g. a placeholder nested inside a binary
// boolean tree) so every placeholder anywhere in the clause gets a
// best-effort type.
func (a *Analyzer) resolveWherePlaceholder(v sqlparse.ValueExpr, ts tableSet, shape *QueryShape) []diagnostic.Diagnostic {
	var diags []diagnostic.Diagnostic
	if v.Kind == sqlparse.ValuePlaceholder {
		if _, already := shape.Params[v.Placeholder]; already {
			return nil
		}
		var ft typelattice.FieldType = typelattice.Any{}
		if v.Column != "" {
			if table := ts.resolve(v.Table); table != nil {
				t, d := a.columnType(table, v.Column, span.Span{})
				ft = t
				diags = append(diags, d...)
			}
		}
		shape.Params[v.Placeholder] = ft
		return diags
	}
	for _, arg := range v.Args {
		diags = append(diags, a.resolveWherePlaceholder(arg, ts, shape)...)
	}
	return diags
}

// checkPlaceholderShape flags a `$n` sequence with a gap (e.g. $1 and
// $3 used but never $2). MySQL's sequential `?` numbering can never
// have a gap by construction, so this only ever fires for Postgres
// queries.
func (a *Analyzer) checkPlaceholderShape(q *sqlparse.Query, sp span.Span) []diagnostic.Diagnostic {
	if len(q.Placeholders) == 0 {
		return nil
	}
	max := q.Placeholders[0]
	seen := map[int]bool{}
	for _, p := range q.Placeholders {
		seen[p] = true
		if p > max {
			max = p
		}
	}
	var diags []diagnostic.Diagnostic
	for i := 1; i <= max; i++ {
		if !seen[i] {
			diags = append(diags, diagnostic.New(diagnostic.PlaceholderGap, sp, fmt.Sprintf("placeholder $%d is never used, leaving a gap in the parameter list", i)))
		}
	}
	return diags
}

var bareQuestionMark = regexp.MustCompile(`\?`)
var dollarPlaceholder = regexp.MustCompile(`\$\d+`)

// checkPlaceholderMix flags a query whose raw text contains both `?`
// and `$n` placeholder markers, a mistake a single dialect's parser
// cannot itself catch since it only ever recognizes its own style. The
// check is a text-level heuristic (it does not exclude quoted string
// literals or comments) rather than a full second parse pass.
func checkPlaceholderMix(rawQuery string, sp span.Span) []diagnostic.Diagnostic {
	if bareQuestionMark.MatchString(rawQuery) && dollarPlaceholder.MatchString(rawQuery) {
		return []diagnostic.Diagnostic{diagnostic.New(diagnostic.PlaceholderMix, sp, "query mixes `?` and `$n` placeholder styles")}
	}
	return nil
}

func (a *Analyzer) applyAnnotations(shape *QueryShape, ann annotation.Set) {
	for _, p := range ann.Params {
		shape.Params[p.Index] = p.Type
	}
	for _, r := range ann.Results {
		shape.Result[r.Name] = []typelattice.FieldType{r.Type}
		found := false
		for _, existing := range shape.ResultOrder {
			if existing == r.Name {
				found = true
				break
			}
		}
		if !found {
			shape.ResultOrder = append(shape.ResultOrder, r.Name)
		}
	}
	for _, ip := range ann.InsertParams {
		if shape.InsertParams[ip.Row] == nil {
			shape.InsertParams[ip.Row] = map[int]typelattice.FieldType{}
		}
		shape.InsertParams[ip.Row][ip.Col] = ip.Type
	}
}

func literalType(kind sqlparse.LitKind) typelattice.FieldType {
	switch kind {
	case sqlparse.LitNumber:
		return typelattice.Number{}
	case sqlparse.LitBoolean:
		return typelattice.Boolean{}
	default:
		return typelattice.String{}
	}
}

type unionType struct{ types []typelattice.FieldType }

func (u unionType) Render() string { return typelattice.RenderUnion(u.types) }
