package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlxts/internal/annotation"
	"sqlxts/internal/catalog"
	"sqlxts/internal/diagnostic"
	"sqlxts/internal/span"
	"sqlxts/internal/sqlparse"
	"sqlxts/internal/typelattice"
)

type fakeSource struct {
	tables map[string][]catalog.Column
}

func (f *fakeSource) Columns(_ context.Context, _ string, table string) ([]catalog.Column, error) {
	return f.tables[table], nil
}

func (f *fakeSource) Close() error { return nil }

func newTestCatalog() *catalog.Catalog {
	src := &fakeSource{tables: map[string][]catalog.Column{
		"items": {
			{Name: "id", NativeType: "int", Nullable: false},
			{Name: "name", NativeType: "varchar(255)", Nullable: false},
		},
		"inventory": {
			{Name: "id", NativeType: "int", Nullable: false},
			{Name: "quantity", NativeType: "int", Nullable: true},
		},
	}}
	return catalog.New(src)
}

func TestAnalyzeUpdateJoinResolvesQualifiedPlaceholders(t *testing.T) {
	cat := newTestCatalog()
	a := New(cat, typelattice.FromMySQL)

	// SET spans both joined tables: items.name is a non-null varchar,
	// inventory.quantity is a nullable int.
	q := &sqlparse.Query{
		Kind:   sqlparse.Update,
		Target: &sqlparse.TableRef{Name: "items"},
		Joins:  []sqlparse.TableRef{{Name: "inventory"}},
		Set: []sqlparse.SetClause{
			{Table: "items", Column: "name", Value: sqlparse.ValueExpr{Kind: sqlparse.ValuePlaceholder, Placeholder: 1}},
			{Table: "inventory", Column: "quantity", Value: sqlparse.ValueExpr{Kind: sqlparse.ValuePlaceholder, Placeholder: 2}},
		},
		WhereExprs: []sqlparse.ValueExpr{
			{Kind: sqlparse.ValuePlaceholder, Placeholder: 3, Table: "inventory", Column: "id"},
		},
		Placeholders: []int{1, 2, 3},
	}

	shape, diags := a.Analyze(context.Background(), q, annotation.Set{}, "update1", span.Span{}, "UPDATE items JOIN inventory ON items.id = inventory.id SET items.name = ?, inventory.quantity = ? WHERE inventory.id = ?")
	require.Empty(t, diags)

	assert.Equal(t, "string", shape.Params[1].Render())
	assert.Equal(t, "number | null", shape.Params[2].Render())
	assert.Equal(t, "number", shape.Params[3].Render())
}

func TestAnalyzeSelectStarProjectsAllColumns(t *testing.T) {
	cat := newTestCatalog()
	a := New(cat, typelattice.FromMySQL)

	q := &sqlparse.Query{
		Kind: sqlparse.Select,
		From: &sqlparse.TableRef{Name: "items"},
		Columns: []sqlparse.SelectItem{
			{Expr: sqlparse.ValueExpr{Kind: sqlparse.ValueStar}},
		},
	}

	shape, diags := a.Analyze(context.Background(), q, annotation.Set{}, "allItems", span.Span{}, "SELECT * FROM items")
	require.Empty(t, diags)
	assert.ElementsMatch(t, []string{"id", "name"}, shape.ResultOrder)
	assert.Equal(t, "number", shape.Result["id"][0].Render())
}

func TestAnalyzeFunctionCallWithoutAliasWarns(t *testing.T) {
	cat := newTestCatalog()
	a := New(cat, typelattice.FromMySQL)

	q := &sqlparse.Query{
		Kind: sqlparse.Select,
		From: &sqlparse.TableRef{Name: "items"},
		Columns: []sqlparse.SelectItem{
			{Expr: sqlparse.ValueExpr{Kind: sqlparse.ValueFunctionCall, FuncName: "COUNT"}},
		},
	}

	_, diags := a.Analyze(context.Background(), q, annotation.Set{}, "counted", span.Span{}, "SELECT COUNT(*) FROM items")
	require.Len(t, diags, 1)
	assert.Equal(t, diagnostic.MissingAliasForFunctions, diags[0].Kind)
}

func TestAnalyzeCaseExpressionUnionsBranchTypes(t *testing.T) {
	cat := newTestCatalog()
	a := New(cat, typelattice.FromMySQL)

	q := &sqlparse.Query{
		Kind: sqlparse.Select,
		From: &sqlparse.TableRef{Name: "inventory"},
		Columns: []sqlparse.SelectItem{
			{Alias: "status", Expr: sqlparse.ValueExpr{
				Kind: sqlparse.ValueCase,
				Args: []sqlparse.ValueExpr{
					{Kind: sqlparse.ValueColumn, Column: "quantity"},
					{Kind: sqlparse.ValueLiteral, LiteralKind: sqlparse.LitString},
				},
			}},
		},
	}

	shape, diags := a.Analyze(context.Background(), q, annotation.Set{}, "status", span.Span{}, "SELECT CASE WHEN x THEN quantity ELSE 'n/a' END AS status FROM inventory")
	require.Empty(t, diags)
	assert.Equal(t, "number | null | string", typelattice.RenderUnion(shape.Result["status"]))
}

func TestAnalyzeMultiRowInsertParams(t *testing.T) {
	cat := newTestCatalog()
	a := New(cat, typelattice.FromMySQL)

	q := &sqlparse.Query{
		Kind:          sqlparse.Insert,
		InsertTable:   &sqlparse.TableRef{Name: "items"},
		InsertColumns: []string{"id", "name"},
		Rows: []sqlparse.InsertRow{
			{Values: []sqlparse.ValueExpr{
				{Kind: sqlparse.ValuePlaceholder, Placeholder: 1},
				{Kind: sqlparse.ValuePlaceholder, Placeholder: 2},
			}},
			{Values: []sqlparse.ValueExpr{
				{Kind: sqlparse.ValuePlaceholder, Placeholder: 3},
				{Kind: sqlparse.ValuePlaceholder, Placeholder: 4},
			}},
		},
		Placeholders: []int{1, 2, 3, 4},
	}

	shape, diags := a.Analyze(context.Background(), q, annotation.Set{}, "insertItems", span.Span{}, "INSERT INTO items (id, name) VALUES (?, ?), (?, ?)")
	require.Empty(t, diags)
	assert.Equal(t, "number", shape.InsertParams[0][0].Render())
	assert.Equal(t, "string", shape.InsertParams[0][1].Render())
	assert.Equal(t, "number", shape.InsertParams[1][0].Render())
}

func TestAnalyzePostgresIndexedParamsOrderByIndex(t *testing.T) {
	cat := newTestCatalog()
	a := New(cat, typelattice.FromMySQL)

	// WHERE id = $2 AND name = $1: parameter 1 takes name's type,
	// parameter 2 takes id's, regardless of source order.
	q := &sqlparse.Query{
		Kind: sqlparse.Select,
		From: &sqlparse.TableRef{Name: "items"},
		Columns: []sqlparse.SelectItem{
			{Expr: sqlparse.ValueExpr{Kind: sqlparse.ValueColumn, Column: "id"}},
			{Expr: sqlparse.ValueExpr{Kind: sqlparse.ValueColumn, Column: "name"}},
		},
		WhereExprs: []sqlparse.ValueExpr{
			{Kind: sqlparse.ValuePlaceholder, Placeholder: 2, Column: "id"},
			{Kind: sqlparse.ValuePlaceholder, Placeholder: 1, Column: "name"},
		},
		Placeholders: []int{2, 1},
	}

	shape, diags := a.Analyze(context.Background(), q, annotation.Set{}, "findItem", span.Span{}, "SELECT id, name FROM items WHERE id = $2 AND name = $1")
	require.Empty(t, diags)
	assert.Equal(t, "string", shape.Params[1].Render())
	assert.Equal(t, "number", shape.Params[2].Render())
}

func TestAnalyzeFlagsPlaceholderGap(t *testing.T) {
	cat := newTestCatalog()
	a := New(cat, typelattice.FromMySQL)

	q := &sqlparse.Query{
		Kind:         sqlparse.Select,
		From:         &sqlparse.TableRef{Name: "items"},
		Placeholders: []int{1, 3},
	}
	_, diags := a.Analyze(context.Background(), q, annotation.Set{}, "gapped", span.Span{}, "SELECT * FROM items WHERE id = $1 AND name = $3")

	found := false
	for _, d := range diags {
		if d.Kind == diagnostic.PlaceholderGap {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAnalyzeDetectsPlaceholderMix(t *testing.T) {
	cat := newTestCatalog()
	a := New(cat, typelattice.FromMySQL)

	q := &sqlparse.Query{Kind: sqlparse.Select, From: &sqlparse.TableRef{Name: "items"}}
	_, diags := a.Analyze(context.Background(), q, annotation.Set{}, "mixed", span.Span{}, "SELECT * FROM items WHERE id = ? AND name = $1")

	found := false
	for _, d := range diags {
		if d.Kind == diagnostic.PlaceholderMix {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAnalyzeUnknownTableProducesDiagnostic(t *testing.T) {
	cat := newTestCatalog()
	a := New(cat, typelattice.FromMySQL)

	q := &sqlparse.Query{Kind: sqlparse.Select, From: &sqlparse.TableRef{Name: "missing"}}
	_, diags := a.Analyze(context.Background(), q, annotation.Set{}, "q", span.Span{}, "SELECT * FROM missing")

	require.NotEmpty(t, diags)
	assert.Equal(t, diagnostic.UnknownTable, diags[0].Kind)
}

func TestApplyAnnotationsOverridesInferredType(t *testing.T) {
	cat := newTestCatalog()
	a := New(cat, typelattice.FromMySQL)

	q := &sqlparse.Query{
		Kind: sqlparse.Select,
		From: &sqlparse.TableRef{Name: "items"},
		Columns: []sqlparse.SelectItem{
			{Expr: sqlparse.ValueExpr{Kind: sqlparse.ValueColumn, Column: "id"}},
		},
	}
	ann := annotation.Set{Results: []annotation.ResultOverride{{Name: "id", Type: typelattice.String{}}}}

	shape, _ := a.Analyze(context.Background(), q, ann, "overridden", span.Span{}, "SELECT id FROM items")
	assert.Equal(t, "string", shape.Result["id"][0].Render())
}
