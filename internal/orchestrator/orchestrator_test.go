package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlxts/internal/analyzer"
	"sqlxts/internal/catalog"
	"sqlxts/internal/config"
	"sqlxts/internal/diagnostic"
	"sqlxts/internal/jsast"
	"sqlxts/internal/sqlparse"
	"sqlxts/internal/typelattice"
)

type memReader struct{}

func (memReader) ReadFile(path string) ([]byte, error) { return []byte{}, nil }

type stubParser struct {
	mods map[string]*jsast.Module
}

func (p stubParser) Parse(filename string, _ []byte) (*jsast.Module, error) {
	mod, ok := p.mods[filename]
	if !ok {
		return nil, fmt.Errorf("unexpected file %s", filename)
	}
	return mod, nil
}

type stubSQLParser struct{}

func (stubSQLParser) Parse(string) (*sqlparse.Query, error) {
	return &sqlparse.Query{
		Kind: sqlparse.Select,
		From: &sqlparse.TableRef{Name: "items"},
		Columns: []sqlparse.SelectItem{
			{Expr: sqlparse.ValueExpr{Kind: sqlparse.ValueColumn, Column: "id"}},
		},
	}, nil
}

type fakeSource struct{}

func (fakeSource) Columns(_ context.Context, _, table string) ([]catalog.Column, error) {
	if table != "items" {
		return nil, nil
	}
	return []catalog.Column{{Name: "id", NativeType: "int"}}, nil
}

func (fakeSource) Close() error { return nil }

func sqlImport(locals ...string) jsast.Stmt {
	return &jsast.ImportDeclStmt{Source: "sqlx-ts", Locals: locals}
}

func boundQuery(binding, query string) jsast.Stmt {
	tt := &jsast.TaggedTemplate{
		Tag:    &jsast.Ident{Name: "sql"},
		Quasis: []string{query},
	}
	return &jsast.VarDeclStmt{Decls: []jsast.VarDeclarator{
		{Name: jsast.IdentPat{Name: binding}, Init: tt},
	}}
}

func newOrchestrator(mods map[string]*jsast.Module) (*Orchestrator, *diagnostic.Collector) {
	collector := diagnostic.NewCollector()
	return &Orchestrator{
		Config:    config.Config{ImportAlias: "sql"},
		Reader:    memReader{},
		Parser:    stubParser{mods: mods},
		SQLParser: stubSQLParser{},
		Analyzer:  analyzer.New(catalog.New(fakeSource{}), typelattice.FromMySQL),
		Collector: collector,
	}, collector
}

func TestRunEmitsDeclarationsForBoundQueries(t *testing.T) {
	orch, _ := newOrchestrator(map[string]*jsast.Module{
		"a.ts": {Filename: "a.ts", Body: []jsast.Stmt{
			sqlImport("sql"),
			boundQuery("getItem", "SELECT id FROM items"),
		}},
	})

	results, err := orch.Run(context.Background(), []string{"a.ts"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Declarations, 1)

	decl := results[0].Declarations[0]
	assert.Contains(t, decl, "export type GetItemParams")
	assert.Contains(t, decl, "export interface IGetItemResult")
	assert.Contains(t, decl, "export interface IGetItemQuery")
}

func TestRunSkipsFileWhoseImportsLackTheTag(t *testing.T) {
	orch, collector := newOrchestrator(map[string]*jsast.Module{
		"b.ts": {Filename: "b.ts", Body: []jsast.Stmt{
			&jsast.ImportDeclStmt{Source: "graphql-tag", Locals: []string{"gql"}},
			boundQuery("q", "SELECT id FROM items"),
		}},
	})

	results, err := orch.Run(context.Background(), []string{"b.ts"})
	require.NoError(t, err)
	assert.Empty(t, results[0].Declarations)
	assert.Empty(t, collector.All())
}

func TestRunAnalyzesButDoesNotEmitUnnamedQueries(t *testing.T) {
	tt := &jsast.TaggedTemplate{
		Tag:    &jsast.Ident{Name: "sql"},
		Quasis: []string{"SELECT id FROM items"},
	}
	orch, _ := newOrchestrator(map[string]*jsast.Module{
		"c.ts": {Filename: "c.ts", Body: []jsast.Stmt{
			sqlImport("sql"),
			&jsast.ExprStmt{Expr: tt},
		}},
	})

	results, err := orch.Run(context.Background(), []string{"c.ts"})
	require.NoError(t, err)
	assert.Empty(t, results[0].Declarations)
}

func TestRunPreservesInputOrderAcrossWorkers(t *testing.T) {
	mods := map[string]*jsast.Module{}
	var files []string
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("f%d.ts", i)
		files = append(files, name)
		mods[name] = &jsast.Module{Filename: name, Body: []jsast.Stmt{
			sqlImport("sql"),
			boundQuery(fmt.Sprintf("query%d", i), "SELECT id FROM items"),
		}}
	}

	orch, _ := newOrchestrator(mods)
	orch.MaxWorkers = 4

	results, err := orch.Run(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, results, len(files))
	for i, r := range results {
		assert.Equal(t, files[i], r.Path)
		require.Len(t, r.Declarations, 1)
		assert.Contains(t, r.Declarations[0], fmt.Sprintf("IQuery%dResult", i))
	}
}

func TestResolveImportAliasFallsBackWhenNoImportsReported(t *testing.T) {
	mod := &jsast.Module{Body: []jsast.Stmt{
		boundQuery("q", "SELECT id FROM items"),
	}}
	alias, ok := resolveImportAlias(mod, "sql")
	require.True(t, ok)
	assert.Equal(t, "sql", alias)
}

func TestResolveImportAliasPrefersRenamedLocal(t *testing.T) {
	mod := &jsast.Module{Body: []jsast.Stmt{
		sqlImport("sqlTag"),
	}}
	alias, ok := resolveImportAlias(mod, "sql")
	require.True(t, ok)
	assert.Equal(t, "sqlTag", alias)
}
