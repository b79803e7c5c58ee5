// Package mysqlsql parses MySQL/MariaDB/TiDB DML statements into the
// sqlparse intermediate representation. It wraps pingcap/tidb/pkg/parser
// for SELECT/INSERT/UPDATE/DELETE, with `?` placeholders recovered from
// the parser's test_driver ParamMarkerExpr nodes.
package mysqlsql

import (
	"fmt"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	"github.com/pingcap/tidb/pkg/parser/test_driver"

	"sqlxts/internal/sqlparse"
)

// Parser wraps a reusable tidb SQL parser instance.
type Parser struct {
	p *parser.Parser
}

func New() *Parser {
	return &Parser{p: parser.New()}
}

// Parse parses a single MySQL DML statement into the common IR. It
// returns an error if the text does not parse as exactly one supported
// statement.
func (mp *Parser) Parse(sql string) (*sqlparse.Query, error) {
	stmtNodes, _, err := mp.p.Parse(sql, "", "")
	if err != nil {
		return nil, fmt.Errorf("mysql parse error: %w", err)
	}
	if len(stmtNodes) != 1 {
		return nil, fmt.Errorf("expected exactly one statement, got %d", len(stmtNodes))
	}

	c := &converter{ordinal: 0}
	switch stmt := stmtNodes[0].(type) {
	case *ast.SelectStmt:
		return c.convertSelect(stmt)
	case *ast.InsertStmt:
		return c.convertInsert(stmt)
	case *ast.UpdateStmt:
		return c.convertUpdate(stmt)
	case *ast.DeleteStmt:
		return c.convertDelete(stmt)
	default:
		return nil, fmt.Errorf("unsupported statement kind %T", stmt)
	}
}

// converter assigns sequential 1-based ordinals to `?` placeholders in
// the order they are visited, matching MySQL's own binding order.
type converter struct {
	ordinal      int
	placeholders []int
}

func (c *converter) nextOrdinal() int {
	c.ordinal++
	c.placeholders = append(c.placeholders, c.ordinal)
	return c.ordinal
}

func (c *converter) convertSelect(stmt *ast.SelectStmt) (*sqlparse.Query, error) {
	q := &sqlparse.Query{Kind: sqlparse.Select}

	if stmt.From != nil && stmt.From.TableRefs != nil {
		tbls := allTableNames(stmt.From.TableRefs)
		if len(tbls) > 0 {
			q.From = tbls[0]
			q.Joins = derefAll(tbls[1:])
		}
	}

	if stmt.Fields != nil {
		for _, f := range stmt.Fields.Fields {
			if f.WildCard != nil {
				q.Columns = append(q.Columns, sqlparse.SelectItem{Expr: sqlparse.ValueExpr{Kind: sqlparse.ValueStar}})
				continue
			}
			alias := ""
			if f.AsName.O != "" {
				alias = f.AsName.O
			}
			q.Columns = append(q.Columns, sqlparse.SelectItem{Alias: alias, Expr: c.convertExpr(f.Expr)})
		}
	}

	if stmt.Where != nil {
		q.WhereExprs = append(q.WhereExprs, c.convertExpr(stmt.Where))
	}

	q.Placeholders = c.placeholders
	return q, nil
}

func (c *converter) convertInsert(stmt *ast.InsertStmt) (*sqlparse.Query, error) {
	q := &sqlparse.Query{Kind: sqlparse.Insert}

	if stmt.Table != nil && stmt.Table.TableRefs != nil {
		if tbls := allTableNames(stmt.Table.TableRefs); len(tbls) > 0 {
			q.InsertTable = tbls[0]
		}
	}

	for _, col := range stmt.Columns {
		q.InsertColumns = append(q.InsertColumns, col.Name.O)
	}

	if stmt.Setlist {
		if len(stmt.Lists) == 1 {
			for i, expr := range stmt.Lists[0] {
				if i >= len(stmt.Columns) {
					break
				}
				q.Set = append(q.Set, sqlparse.SetClause{
					Column: stmt.Columns[i].Name.O,
					Value:  c.convertExpr(expr),
				})
			}
		}
	} else {
		for _, row := range stmt.Lists {
			var r sqlparse.InsertRow
			for _, expr := range row {
				r.Values = append(r.Values, c.convertExpr(expr))
			}
			q.Rows = append(q.Rows, r)
		}
	}

	q.Placeholders = c.placeholders
	return q, nil
}

func (c *converter) convertUpdate(stmt *ast.UpdateStmt) (*sqlparse.Query, error) {
	q := &sqlparse.Query{Kind: sqlparse.Update}

	if stmt.TableRefs != nil && stmt.TableRefs.TableRefs != nil {
		tbls := allTableNames(stmt.TableRefs.TableRefs)
		if len(tbls) > 0 {
			q.Target = tbls[0]
			q.Joins = derefAll(tbls[1:])
		}
	}

	for _, assign := range stmt.List {
		q.Set = append(q.Set, sqlparse.SetClause{
			Table:  assign.Column.Table.O,
			Column: assign.Column.Name.O,
			Value:  c.convertExpr(assign.Expr),
		})
	}

	if stmt.Where != nil {
		q.WhereExprs = append(q.WhereExprs, c.convertExpr(stmt.Where))
	}

	q.Placeholders = c.placeholders
	return q, nil
}

func (c *converter) convertDelete(stmt *ast.DeleteStmt) (*sqlparse.Query, error) {
	q := &sqlparse.Query{Kind: sqlparse.Delete}

	if stmt.TableRefs != nil && stmt.TableRefs.TableRefs != nil {
		tbls := allTableNames(stmt.TableRefs.TableRefs)
		if len(tbls) > 0 {
			q.Target = tbls[0]
			q.Joins = derefAll(tbls[1:])
		}
	}

	if stmt.Where != nil {
		q.WhereExprs = append(q.WhereExprs, c.convertExpr(stmt.Where))
	}

	q.Placeholders = c.placeholders
	return q, nil
}

func (c *converter) convertExpr(expr ast.ExprNode) sqlparse.ValueExpr {
	switch e := expr.(type) {
	case *test_driver.ParamMarkerExpr:
		return sqlparse.ValueExpr{Kind: sqlparse.ValuePlaceholder, Placeholder: c.nextOrdinal()}
	case *ast.ColumnNameExpr:
		table := ""
		if e.Name.Table.O != "" {
			table = e.Name.Table.O
		}
		return sqlparse.ValueExpr{Kind: sqlparse.ValueColumn, Column: e.Name.Name.O, Table: table}
	case *ast.FuncCallExpr:
		args := make([]sqlparse.ValueExpr, 0, len(e.Args))
		for _, a := range e.Args {
			args = append(args, c.convertExpr(a))
		}
		return sqlparse.ValueExpr{Kind: sqlparse.ValueFunctionCall, FuncName: e.FnName.O, Args: args}
	case *ast.BinaryOperationExpr:
		// WHERE-clause comparisons: walk both sides so placeholders
		// inside them are still assigned ordinals. For an `=` between a
		// column and a placeholder, the column is copied onto the
		// placeholder so the analyzer can type it from that column.
		left := c.convertExpr(e.L)
		right := c.convertExpr(e.R)
		if e.Op == opcode.EQ {
			if left.Kind == sqlparse.ValueColumn && right.Kind == sqlparse.ValuePlaceholder {
				right.Column, right.Table = left.Column, left.Table
				return right
			}
			if right.Kind == sqlparse.ValueColumn && left.Kind == sqlparse.ValuePlaceholder {
				left.Column, left.Table = right.Column, right.Table
				return left
			}
		}
		return sqlparse.ValueExpr{Kind: sqlparse.ValueFunctionCall, FuncName: "<binop>", Args: []sqlparse.ValueExpr{left, right}}
	case *test_driver.ValueExpr:
		return literalFromDatum(e)
	case *ast.CaseExpr:
		var args []sqlparse.ValueExpr
		for _, when := range e.WhenClauses {
			args = append(args, c.convertExpr(when.Result))
		}
		if e.ElseClause != nil {
			args = append(args, c.convertExpr(e.ElseClause))
		}
		return sqlparse.ValueExpr{Kind: sqlparse.ValueCase, Args: args}
	default:
		return sqlparse.ValueExpr{Kind: sqlparse.ValueNull}
	}
}

func literalFromDatum(e *test_driver.ValueExpr) sqlparse.ValueExpr {
	switch e.Datum.Kind() {
	case test_driver.KindNull:
		return sqlparse.ValueExpr{Kind: sqlparse.ValueNull}
	case test_driver.KindInt64, test_driver.KindUint64, test_driver.KindFloat32, test_driver.KindFloat64, test_driver.KindMysqlDecimal:
		return sqlparse.ValueExpr{Kind: sqlparse.ValueLiteral, LiteralKind: sqlparse.LitNumber}
	case test_driver.KindString, test_driver.KindBytes:
		return sqlparse.ValueExpr{Kind: sqlparse.ValueLiteral, LiteralKind: sqlparse.LitString}
	default:
		return sqlparse.ValueExpr{Kind: sqlparse.ValueLiteral, LiteralKind: sqlparse.LitString}
	}
}

// allTableNames descends a join tree left-to-right, collecting every
// plain table reference it finds. The first entry is the query's
// primary table; any further entries are additional joined tables a
// qualified column reference may resolve against.
func allTableNames(node ast.ResultSetNode) []*sqlparse.TableRef {
	switch n := node.(type) {
	case *ast.Join:
		var out []*sqlparse.TableRef
		if n.Left != nil {
			out = append(out, allTableNames(n.Left)...)
		}
		if n.Right != nil {
			out = append(out, allTableNames(n.Right)...)
		}
		return out
	case *ast.TableSource:
		return allTableNames(n.Source)
	case *ast.TableName:
		schema := ""
		if n.Schema.O != "" {
			schema = n.Schema.O
		}
		return []*sqlparse.TableRef{{Schema: schema, Name: n.Name.O}}
	default:
		return nil
	}
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
