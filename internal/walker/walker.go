// Package walker extracts SQL tagged template literals from a parsed
// JavaScript/TypeScript module. The traversal is a recursive descent
// over expressions and over statement bodies, branches and variable
// initializers, recovering the variable name a query result is bound to
// along the way. The conditions of if/while/do-while/switch statements,
// switch case tests, and a for loop's init clause are not visited.
package walker

import (
	"strings"

	"sqlxts/internal/jsast"
	"sqlxts/internal/span"
)

// Mode controls how a tagged template with interpolations is split into
// one or more SQL values.
type Mode int

const (
	// PerQuasi emits one SQL value per literal chunk between
	// interpolations, discarding the interpolated expressions from the
	// SQL text entirely. This is the long-standing default behavior;
	// it is almost certainly not what most callers intend when a query
	// has more than one quasi, since it silently drops everything after
	// the first interpolation into a second, usually invalid, query.
	PerQuasi Mode = iota
	// PerTemplate joins every quasi into a single query, substituting a
	// hole marker for each interpolation, and marks the result Dynamic.
	PerTemplate
)

// SQL is one tagged-template SQL literal found in a source file.
type SQL struct {
	Query       string
	BindingName *string
	Span        span.Span
	ImportAlias string
	// Dynamic is true when Query contains one or more substituted
	// interpolation holes (PerTemplate mode only).
	Dynamic bool
}

const holeMarker = "/*$HOLE*/"

// Walker finds SQL tagged templates tagged with a configured import
// alias (the name the SQL-tagging function was imported as).
type Walker struct {
	ImportAlias string
	Mode        Mode
}

func New(importAlias string, mode Mode) *Walker {
	return &Walker{ImportAlias: importAlias, Mode: mode}
}

// Walk returns every SQL literal found in mod, in source order.
func (w *Walker) Walk(mod *jsast.Module) []SQL {
	var out []SQL
	for _, s := range mod.Body {
		w.walkStmt(s, nil, &out)
	}
	return out
}

func (w *Walker) walkStmt(s jsast.Stmt, binding *string, out *[]SQL) {
	switch v := s.(type) {
	case *jsast.ExprStmt:
		w.walkExpr(v.Expr, nil, out)
	case *jsast.BlockStmt:
		for _, inner := range v.Body {
			w.walkStmt(inner, nil, out)
		}
	case *jsast.IfStmt:
		w.walkStmt(v.Cons, nil, out)
		if v.Alt != nil {
			w.walkStmt(v.Alt, nil, out)
		}
	case *jsast.ForStmt:
		w.walkStmt(v.Body, nil, out)
	case *jsast.ForInStmt:
		w.walkStmt(v.Body, nil, out)
	case *jsast.ForOfStmt:
		w.walkStmt(v.Body, nil, out)
	case *jsast.WhileStmt:
		w.walkStmt(v.Body, nil, out)
	case *jsast.DoWhileStmt:
		w.walkStmt(v.Body, nil, out)
	case *jsast.TryStmt:
		if v.Block != nil {
			w.walkStmt(v.Block, nil, out)
		}
		if v.Handler != nil {
			w.walkStmt(v.Handler, nil, out)
		}
		if v.Finalizer != nil {
			w.walkStmt(v.Finalizer, nil, out)
		}
	case *jsast.SwitchStmt:
		for _, c := range v.Cases {
			for _, inner := range c.Body {
				w.walkStmt(inner, nil, out)
			}
		}
	case *jsast.VarDeclStmt:
		for _, d := range v.Decls {
			if d.Init == nil {
				continue
			}
			var name *string
			if n, ok := jsast.BindingName(d.Name); ok {
				name = &n
			}
			w.walkExpr(d.Init, name, out)
		}
	case *jsast.ReturnStmt:
		if v.Arg != nil {
			w.walkExpr(v.Arg, nil, out)
		}
	case *jsast.LabeledStmt:
		w.walkStmt(v.Body, nil, out)
	case *jsast.FunctionDeclStmt:
		if v.Body != nil {
			w.walkStmt(v.Body, nil, out)
		}
	case *jsast.ClassDeclStmt:
		if v.Class != nil {
			w.walkClass(v.Class, out)
		}
	default:
		// OtherStmt and anything else carries no reachable expression.
	}
}

func (w *Walker) walkClass(c *jsast.Class, out *[]SQL) {
	for _, m := range c.Members {
		switch mv := m.(type) {
		case jsast.ConstructorMember:
			if mv.Body != nil {
				w.walkStmt(mv.Body, nil, out)
			}
		case jsast.MethodMember:
			if mv.Body != nil {
				w.walkStmt(mv.Body, nil, out)
			}
		case jsast.PrivateMethodMember:
			if mv.Body != nil {
				w.walkStmt(mv.Body, nil, out)
			}
		case jsast.ClassPropMember:
			if mv.Value != nil {
				w.walkExpr(mv.Value, nil, out)
			}
		case jsast.PrivatePropMember:
			if mv.Value != nil {
				w.walkExpr(mv.Value, nil, out)
			}
		case jsast.StaticBlockMember:
			if mv.Body != nil {
				w.walkStmt(mv.Body, nil, out)
			}
		case jsast.AutoAccessorMember:
			if mv.Value != nil {
				w.walkExpr(mv.Value, nil, out)
			}
		}
	}
}

func (w *Walker) walkExpr(e jsast.Expr, binding *string, out *[]SQL) {
	if e == nil {
		return
	}
	switch v := e.(type) {
	case *jsast.TaggedTemplate:
		w.extractTaggedTemplate(v, binding, out)
		for _, inner := range v.Exprs {
			w.walkExpr(inner, nil, out)
		}
	case *jsast.Ident, *jsast.This, *jsast.Lit, *jsast.SuperProp,
		*jsast.MetaProperty, *jsast.PrivateName, *jsast.JSXElement,
		*jsast.TSTypeExpr, *jsast.Invalid:
		// terminal
	case *jsast.Array:
		for _, el := range v.Elems {
			if el != nil {
				w.walkExpr(el, nil, out)
			}
		}
	case *jsast.Object:
		for _, p := range v.Props {
			switch pv := p.(type) {
			case jsast.KeyValueProp:
				w.walkExpr(pv.Value, nil, out)
			case jsast.AssignProp:
				w.walkExpr(pv.Value, nil, out)
			case jsast.GetterProp:
				if pv.Body != nil {
					w.walkStmt(pv.Body, nil, out)
				}
			case jsast.SetterProp:
				if pv.Body != nil {
					w.walkStmt(pv.Body, nil, out)
				}
			case jsast.MethodProp:
				if pv.Body != nil {
					w.walkStmt(pv.Body, nil, out)
				}
			case jsast.SpreadProp:
				w.walkExpr(pv.Value, nil, out)
			case jsast.ShorthandProp:
				// identifier only, nothing to descend into
			}
		}
	case *jsast.Unary:
		w.walkExpr(v.Arg, nil, out)
	case *jsast.Update:
		w.walkExpr(v.Arg, nil, out)
	case *jsast.Bin:
		w.walkExpr(v.Left, nil, out)
		w.walkExpr(v.Right, nil, out)
	case *jsast.Assign:
		w.walkExpr(v.Right, nil, out)
	case *jsast.Member:
		w.walkExpr(v.Obj, nil, out)
	case *jsast.Cond:
		w.walkExpr(v.Test, nil, out)
		w.walkExpr(v.Cons, nil, out)
		w.walkExpr(v.Alt, nil, out)
	case *jsast.New:
		w.walkExpr(v.Callee, nil, out)
		for _, a := range v.Args {
			w.walkExpr(a, nil, out)
		}
	case *jsast.Call:
		// The callee is only scanned for zero-argument calls; a call
		// with arguments is a use of the query, not a place one is
		// defined.
		if len(v.Args) == 0 {
			w.walkExpr(v.Callee, nil, out)
		}
		for _, a := range v.Args {
			w.walkExpr(a, nil, out)
		}
	case *jsast.Seq:
		for i, inner := range v.Exprs {
			if i == len(v.Exprs)-1 {
				w.walkExpr(inner, binding, out)
			} else {
				w.walkExpr(inner, nil, out)
			}
		}
	case *jsast.Tpl:
		for _, inner := range v.Exprs {
			w.walkExpr(inner, nil, out)
		}
	case *jsast.Arrow:
		if v.Body != nil {
			w.walkExpr(v.Body, nil, out)
		}
		if v.BlockBody != nil {
			w.walkStmt(v.BlockBody, nil, out)
		}
		for _, p := range v.Params {
			if ap, ok := p.(jsast.AssignPat); ok && ap.Default != nil {
				w.walkExpr(ap.Default, nil, out)
			}
		}
	case *jsast.FunctionExpr:
		if v.Body != nil {
			w.walkStmt(v.Body, nil, out)
		}
	case *jsast.ClassExpr:
		if v.Class != nil {
			w.walkClass(v.Class, out)
		}
	case *jsast.Yield:
		if v.Arg != nil {
			w.walkExpr(v.Arg, nil, out)
		}
	case *jsast.Await:
		// Pass-through: `await sql\`...\`` and `const x = await sql\`...\``
		// both keep the binding name reaching the tagged template.
		w.walkExpr(v.Arg, binding, out)
	case *jsast.Paren:
		w.walkExpr(v.Expr, binding, out)
	case *jsast.Wrapper:
		w.walkExpr(v.Expr, binding, out)
	case *jsast.OptChainMember:
		w.walkExpr(v.Obj, nil, out)
	case *jsast.OptChainCall:
		w.walkExpr(v.Callee, nil, out)
		for _, a := range v.Args {
			w.walkExpr(a, nil, out)
		}
	}
}

func (w *Walker) extractTaggedTemplate(t *jsast.TaggedTemplate, binding *string, out *[]SQL) {
	if !w.tagMatches(t.Tag) {
		return
	}

	switch w.Mode {
	case PerTemplate:
		var b strings.Builder
		for i, q := range t.Quasis {
			b.WriteString(q)
			if i < len(t.Exprs) {
				b.WriteString(holeMarker)
			}
		}
		sp := t.Span()
		if len(t.QuasiPos) > 0 {
			sp = t.QuasiPos[0]
		}
		*out = append(*out, SQL{
			Query:       b.String(),
			BindingName: binding,
			Span:        sp,
			ImportAlias: w.ImportAlias,
			Dynamic:     len(t.Exprs) > 0,
		})
	default: // PerQuasi
		for i, q := range t.Quasis {
			sp := t.Span()
			if i < len(t.QuasiPos) {
				sp = t.QuasiPos[i]
			}
			*out = append(*out, SQL{
				Query:       q,
				BindingName: binding,
				Span:        sp,
				ImportAlias: w.ImportAlias,
			})
		}
	}
}

// tagMatches reports whether a tagged template's tag expression refers
// to the configured import alias, either directly (`sql\`...\``) or
// through a chain of member accesses and calls whose object or callee
// leads to it (`sql.raw\`...\``, `sql()\`...\``). Only the object side of
// a member access is examined, so `db.sql\`...\`` matches only if `db`
// does. The identifier only has to contain the alias as a substring, so
// a renamed import like `sqlTag` still matches the default alias `sql`.
func (w *Walker) tagMatches(tag jsast.Expr) bool {
	switch v := tag.(type) {
	case *jsast.Ident:
		return strings.Contains(v.Name, w.ImportAlias)
	case *jsast.Member:
		return w.tagMatches(v.Obj)
	case *jsast.Call:
		return w.tagMatches(v.Callee)
	default:
		return false
	}
}
