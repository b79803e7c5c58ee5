package walker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlxts/internal/jsast"
	"sqlxts/internal/span"
)

func sqlTag(query string, binding string) jsast.Stmt {
	tt := &jsast.TaggedTemplate{
		Tag:      &jsast.Ident{Name: "sql"},
		Quasis:   []string{query},
		QuasiPos: []span.Span{{StartLine: 1}},
	}
	return &jsast.VarDeclStmt{
		Decls: []jsast.VarDeclarator{
			{Name: jsast.IdentPat{Name: binding}, Init: tt},
		},
	}
}

func TestWalkRecoversBindingName(t *testing.T) {
	mod := &jsast.Module{Body: []jsast.Stmt{sqlTag("SELECT 1", "row")}}
	w := New("sql", PerQuasi)
	got := w.Walk(mod)

	require.Len(t, got, 1)
	require.NotNil(t, got[0].BindingName)
	assert.Equal(t, "row", *got[0].BindingName)
	assert.Equal(t, "SELECT 1", got[0].Query)
}

func TestWalkIgnoresNonMatchingTag(t *testing.T) {
	tt := &jsast.TaggedTemplate{
		Tag:    &jsast.Ident{Name: "gql"},
		Quasis: []string{"query { x }"},
	}
	mod := &jsast.Module{Body: []jsast.Stmt{
		&jsast.ExprStmt{Expr: tt},
	}}
	w := New("sql", PerQuasi)
	assert.Empty(t, w.Walk(mod))
}

func TestWalkAwaitPassesBindingThrough(t *testing.T) {
	tt := &jsast.TaggedTemplate{
		Tag:    &jsast.Ident{Name: "sql"},
		Quasis: []string{"SELECT 1"},
	}
	await := &jsast.Await{Arg: tt}
	mod := &jsast.Module{Body: []jsast.Stmt{
		&jsast.VarDeclStmt{Decls: []jsast.VarDeclarator{
			{Name: jsast.IdentPat{Name: "result"}, Init: await},
		}},
	}}
	w := New("sql", PerQuasi)
	got := w.Walk(mod)

	require.Len(t, got, 1)
	require.NotNil(t, got[0].BindingName)
	assert.Equal(t, "result", *got[0].BindingName)
}

func TestWalkPerTemplateJoinsQuasisWithHoleMarker(t *testing.T) {
	tt := &jsast.TaggedTemplate{
		Tag:    &jsast.Ident{Name: "sql"},
		Quasis: []string{"SELECT * FROM t WHERE id = ", ""},
		Exprs:  []jsast.Expr{&jsast.Ident{Name: "id"}},
	}
	mod := &jsast.Module{Body: []jsast.Stmt{&jsast.ExprStmt{Expr: tt}}}
	w := New("sql", PerTemplate)
	got := w.Walk(mod)

	require.Len(t, got, 1)
	assert.True(t, got[0].Dynamic)
	assert.Contains(t, got[0].Query, "/*$HOLE*/")
}

func TestWalkCallCalleeOnlyScannedWhenZeroArgs(t *testing.T) {
	newTag := func() *jsast.TaggedTemplate {
		return &jsast.TaggedTemplate{
			Tag:    &jsast.Ident{Name: "sql"},
			Quasis: []string{"SELECT 1"},
		}
	}
	w := New("sql", PerQuasi)

	withArgs := &jsast.Call{
		Callee: &jsast.Member{Obj: &jsast.Paren{Expr: newTag()}},
		Args:   []jsast.Expr{&jsast.Lit{Kind: jsast.LitNumber, Value: "1"}},
	}
	mod := &jsast.Module{Body: []jsast.Stmt{&jsast.ExprStmt{Expr: withArgs}}}
	assert.Empty(t, w.Walk(mod))

	zeroArgs := &jsast.Call{
		Callee: &jsast.Member{Obj: &jsast.Paren{Expr: newTag()}},
	}
	mod = &jsast.Module{Body: []jsast.Stmt{&jsast.ExprStmt{Expr: zeroArgs}}}
	assert.Len(t, w.Walk(mod), 1)

	inArg := &jsast.Call{
		Callee: &jsast.Ident{Name: "run"},
		Args:   []jsast.Expr{newTag()},
	}
	mod = &jsast.Module{Body: []jsast.Stmt{&jsast.ExprStmt{Expr: inArg}}}
	assert.Len(t, w.Walk(mod), 1)
}

func TestWalkTagMatchesAliasSubstring(t *testing.T) {
	tt := &jsast.TaggedTemplate{
		Tag:    &jsast.Ident{Name: "sqlTag"},
		Quasis: []string{"SELECT 1"},
	}
	mod := &jsast.Module{Body: []jsast.Stmt{&jsast.ExprStmt{Expr: tt}}}
	w := New("sql", PerQuasi)
	assert.Len(t, w.Walk(mod), 1)
}

func TestWalkMethodCallTagMatches(t *testing.T) {
	tt := &jsast.TaggedTemplate{
		Tag: &jsast.Member{Obj: &jsast.Ident{Name: "sql"}},
		Quasis: []string{"SELECT 1"},
	}
	mod := &jsast.Module{Body: []jsast.Stmt{&jsast.ExprStmt{Expr: tt}}}
	w := New("sql", PerQuasi)
	assert.Len(t, w.Walk(mod), 1)
}

func TestWalkDescendsIntoClassStaticBlock(t *testing.T) {
	tt := &jsast.TaggedTemplate{
		Tag:    &jsast.Ident{Name: "sql"},
		Quasis: []string{"SELECT 1"},
	}
	class := &jsast.Class{Members: []jsast.ClassMember{
		jsast.StaticBlockMember{Body: &jsast.BlockStmt{Body: []jsast.Stmt{
			&jsast.ExprStmt{Expr: tt},
		}}},
	}}
	mod := &jsast.Module{Body: []jsast.Stmt{
		&jsast.ClassDeclStmt{Name: "Repo", Class: class},
	}}
	w := New("sql", PerQuasi)
	assert.Len(t, w.Walk(mod), 1)
}
