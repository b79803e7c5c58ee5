// Package pgsql parses Postgres DML statements into the sqlparse
// intermediate representation, using pganalyze/pg_query_go, a binding
// around Postgres's own parser grammar.
package pgsql

import (
	"fmt"

	pgquery "github.com/pganalyze/pg_query_go/v5"

	"sqlxts/internal/sqlparse"
)

// Parser parses Postgres SQL text. It carries no state between calls;
// pg_query_go's Parse function is self-contained per invocation.
type Parser struct{}

func New() *Parser { return &Parser{} }

func (p *Parser) Parse(sql string) (*sqlparse.Query, error) {
	result, err := pgquery.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("postgres parse error: %w", err)
	}
	if len(result.Stmts) != 1 {
		return nil, fmt.Errorf("expected exactly one statement, got %d", len(result.Stmts))
	}

	node := result.Stmts[0].Stmt
	if node == nil {
		return nil, fmt.Errorf("empty statement")
	}

	c := &converter{seen: make(map[int32]bool)}
	switch n := node.Node.(type) {
	case *pgquery.Node_SelectStmt:
		return c.convertSelect(n.SelectStmt)
	case *pgquery.Node_InsertStmt:
		return c.convertInsert(n.InsertStmt)
	case *pgquery.Node_UpdateStmt:
		return c.convertUpdate(n.UpdateStmt)
	case *pgquery.Node_DeleteStmt:
		return c.convertDelete(n.DeleteStmt)
	default:
		return nil, fmt.Errorf("unsupported statement kind %T", node.Node)
	}
}

type converter struct {
	seen         map[int32]bool
	placeholders []int
}

func (c *converter) noteParam(n int32) {
	if !c.seen[n] {
		c.seen[n] = true
		c.placeholders = append(c.placeholders, int(n))
	}
}

func (c *converter) convertSelect(stmt *pgquery.SelectStmt) (*sqlparse.Query, error) {
	q := &sqlparse.Query{Kind: sqlparse.Select}

	var tbls []*sqlparse.TableRef
	for _, f := range stmt.FromClause {
		tbls = append(tbls, collectTables(f)...)
	}
	if len(tbls) > 0 {
		q.From = tbls[0]
		q.Joins = derefAll(tbls[1:])
	}

	q.Columns = c.convertTargetList(stmt.TargetList)

	if stmt.WhereClause != nil {
		q.WhereExprs = append(q.WhereExprs, c.convertExpr(stmt.WhereClause))
	}

	q.Placeholders = c.placeholders
	return q, nil
}

// convertTargetList converts a SELECT target list or a RETURNING
// clause, both of which pg_query_go represents the same way: a slice of
// ResTarget nodes pairing an optional alias with a value expression.
func (c *converter) convertTargetList(list []*pgquery.Node) []sqlparse.SelectItem {
	var items []sqlparse.SelectItem
	for _, t := range list {
		res := t.GetResTarget()
		if res == nil {
			continue
		}
		if isStarTarget(res.Val) {
			items = append(items, sqlparse.SelectItem{Expr: sqlparse.ValueExpr{Kind: sqlparse.ValueStar}})
			continue
		}
		items = append(items, sqlparse.SelectItem{Alias: res.Name, Expr: c.convertExpr(res.Val)})
	}
	return items
}

func isStarTarget(n *pgquery.Node) bool {
	ref := n.GetColumnRef()
	if ref == nil {
		return false
	}
	for _, f := range ref.Fields {
		if f.GetAStar() != nil {
			return true
		}
	}
	return false
}

func derefAll(refs []*sqlparse.TableRef) []sqlparse.TableRef {
	out := make([]sqlparse.TableRef, 0, len(refs))
	for _, r := range refs {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// collectTables descends a FROM-clause entry, which may be a plain
// range var or a (possibly multiply) joined tree, collecting every
// plain table reference left-to-right.
func collectTables(n *pgquery.Node) []*sqlparse.TableRef {
	if n == nil {
		return nil
	}
	if rv := n.GetRangeVar(); rv != nil {
		return []*sqlparse.TableRef{{Schema: rv.Schemaname, Name: rv.Relname}}
	}
	if j := n.GetJoinExpr(); j != nil {
		var out []*sqlparse.TableRef
		out = append(out, collectTables(j.Larg)...)
		out = append(out, collectTables(j.Rarg)...)
		return out
	}
	return nil
}

func (c *converter) convertInsert(stmt *pgquery.InsertStmt) (*sqlparse.Query, error) {
	q := &sqlparse.Query{Kind: sqlparse.Insert}

	if stmt.Relation != nil {
		q.InsertTable = &sqlparse.TableRef{Schema: stmt.Relation.Schemaname, Name: stmt.Relation.Relname}
	}

	for _, col := range stmt.Cols {
		if res := col.GetResTarget(); res != nil {
			q.InsertColumns = append(q.InsertColumns, res.Name)
		}
	}

	if stmt.SelectStmt != nil {
		if sel := stmt.SelectStmt.GetSelectStmt(); sel != nil {
			for _, row := range sel.ValuesLists {
				var r sqlparse.InsertRow
				if list := row.GetList(); list != nil {
					for _, v := range list.Items {
						r.Values = append(r.Values, c.convertExpr(v))
					}
				}
				q.Rows = append(q.Rows, r)
			}
		}
	}

	if len(stmt.ReturningList) > 0 {
		q.Returning = true
		q.Columns = c.convertTargetList(stmt.ReturningList)
	}

	q.Placeholders = c.placeholders
	return q, nil
}

func (c *converter) convertUpdate(stmt *pgquery.UpdateStmt) (*sqlparse.Query, error) {
	q := &sqlparse.Query{Kind: sqlparse.Update}

	if stmt.Relation != nil {
		q.Target = &sqlparse.TableRef{Schema: stmt.Relation.Schemaname, Name: stmt.Relation.Relname}
	}

	var joined []*sqlparse.TableRef
	for _, f := range stmt.FromClause {
		joined = append(joined, collectTables(f)...)
	}
	q.Joins = derefAll(joined)

	for _, t := range stmt.TargetList {
		res := t.GetResTarget()
		if res == nil {
			continue
		}
		q.Set = append(q.Set, sqlparse.SetClause{Column: res.Name, Value: c.convertExpr(res.Val)})
	}

	if stmt.WhereClause != nil {
		q.WhereExprs = append(q.WhereExprs, c.convertExpr(stmt.WhereClause))
	}

	if len(stmt.ReturningList) > 0 {
		q.Returning = true
		q.Columns = c.convertTargetList(stmt.ReturningList)
	}

	q.Placeholders = c.placeholders
	return q, nil
}

func (c *converter) convertDelete(stmt *pgquery.DeleteStmt) (*sqlparse.Query, error) {
	q := &sqlparse.Query{Kind: sqlparse.Delete}

	if stmt.Relation != nil {
		q.Target = &sqlparse.TableRef{Schema: stmt.Relation.Schemaname, Name: stmt.Relation.Relname}
	}

	var joined []*sqlparse.TableRef
	for _, f := range stmt.UsingClause {
		joined = append(joined, collectTables(f)...)
	}
	q.Joins = derefAll(joined)

	if stmt.WhereClause != nil {
		q.WhereExprs = append(q.WhereExprs, c.convertExpr(stmt.WhereClause))
	}

	if len(stmt.ReturningList) > 0 {
		q.Returning = true
		q.Columns = c.convertTargetList(stmt.ReturningList)
	}

	q.Placeholders = c.placeholders
	return q, nil
}

func (c *converter) convertExpr(n *pgquery.Node) sqlparse.ValueExpr {
	if n == nil {
		return sqlparse.ValueExpr{Kind: sqlparse.ValueNull}
	}
	switch v := n.Node.(type) {
	case *pgquery.Node_ParamRef:
		c.noteParam(v.ParamRef.Number)
		return sqlparse.ValueExpr{Kind: sqlparse.ValuePlaceholder, Placeholder: int(v.ParamRef.Number)}
	case *pgquery.Node_ColumnRef:
		table, col := columnRefParts(v.ColumnRef)
		return sqlparse.ValueExpr{Kind: sqlparse.ValueColumn, Table: table, Column: col}
	case *pgquery.Node_AConst:
		if v.AConst.Isnull {
			return sqlparse.ValueExpr{Kind: sqlparse.ValueNull}
		}
		return literalFromAConst(v.AConst)
	case *pgquery.Node_FuncCall:
		name := funcName(v.FuncCall)
		args := make([]sqlparse.ValueExpr, 0, len(v.FuncCall.Args))
		for _, a := range v.FuncCall.Args {
			args = append(args, c.convertExpr(a))
		}
		return sqlparse.ValueExpr{Kind: sqlparse.ValueFunctionCall, FuncName: name, Args: args}
	case *pgquery.Node_BoolExpr:
		// AND/OR/NOT trees: keep descending so every placeholder under
		// the boolean tree is recorded with its comparison partner.
		args := make([]sqlparse.ValueExpr, 0, len(v.BoolExpr.Args))
		for _, a := range v.BoolExpr.Args {
			args = append(args, c.convertExpr(a))
		}
		return sqlparse.ValueExpr{Kind: sqlparse.ValueFunctionCall, FuncName: "<binop>", Args: args}
	case *pgquery.Node_AExpr:
		left := c.convertExpr(v.AExpr.Lexpr)
		right := c.convertExpr(v.AExpr.Rexpr)
		if left.Kind == sqlparse.ValueColumn && right.Kind == sqlparse.ValuePlaceholder {
			right.Column, right.Table = left.Column, left.Table
			return right
		}
		if right.Kind == sqlparse.ValueColumn && left.Kind == sqlparse.ValuePlaceholder {
			left.Column, left.Table = right.Column, right.Table
			return left
		}
		return sqlparse.ValueExpr{Kind: sqlparse.ValueFunctionCall, FuncName: "<binop>", Args: []sqlparse.ValueExpr{left, right}}
	case *pgquery.Node_CaseExpr:
		var args []sqlparse.ValueExpr
		for _, when := range v.CaseExpr.Args {
			if cw := when.GetCaseWhen(); cw != nil {
				args = append(args, c.convertExpr(cw.Result))
			}
		}
		if v.CaseExpr.Defresult != nil {
			args = append(args, c.convertExpr(v.CaseExpr.Defresult))
		}
		return sqlparse.ValueExpr{Kind: sqlparse.ValueCase, Args: args}
	case *pgquery.Node_CoalesceExpr:
		args := make([]sqlparse.ValueExpr, 0, len(v.CoalesceExpr.Args))
		for _, a := range v.CoalesceExpr.Args {
			args = append(args, c.convertExpr(a))
		}
		return sqlparse.ValueExpr{Kind: sqlparse.ValueFunctionCall, FuncName: "coalesce", Args: args}
	default:
		return sqlparse.ValueExpr{Kind: sqlparse.ValueNull}
	}
}

func columnRefParts(ref *pgquery.ColumnRef) (table, column string) {
	var parts []string
	for _, f := range ref.Fields {
		if s := f.GetString_(); s != nil {
			parts = append(parts, s.Sval)
		}
	}
	switch len(parts) {
	case 1:
		return "", parts[0]
	case 2:
		return parts[0], parts[1]
	default:
		return "", ""
	}
}

func funcName(call *pgquery.FuncCall) string {
	for _, f := range call.Funcname {
		if s := f.GetString_(); s != nil {
			return s.Sval
		}
	}
	return ""
}

func literalFromAConst(c *pgquery.A_Const) sqlparse.ValueExpr {
	switch {
	case c.GetIval() != nil, c.GetFval() != nil:
		return sqlparse.ValueExpr{Kind: sqlparse.ValueLiteral, LiteralKind: sqlparse.LitNumber}
	case c.GetBoolval() != nil:
		return sqlparse.ValueExpr{Kind: sqlparse.ValueLiteral, LiteralKind: sqlparse.LitBoolean}
	case c.GetSval() != nil:
		return sqlparse.ValueExpr{Kind: sqlparse.ValueLiteral, LiteralKind: sqlparse.LitString}
	default:
		return sqlparse.ValueExpr{Kind: sqlparse.ValueLiteral, LiteralKind: sqlparse.LitString}
	}
}
