// Package mysqlcatalog implements catalog.Source against a live MySQL,
// MariaDB, or TiDB server via information_schema.columns, one table per
// lookup.
package mysqlcatalog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"sqlxts/internal/catalog"
)

type Source struct {
	db *sql.DB
}

// Open opens a pooled connection to a MySQL-family server. dsn follows
// go-sql-driver/mysql's DSN syntax.
func Open(ctx context.Context, dsn string) (*Source, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql catalog source: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql catalog source: %w", err)
	}
	return &Source{db: db}, nil
}

func (s *Source) Columns(ctx context.Context, schema, table string) ([]catalog.Column, error) {
	schemaExpr := "DATABASE()"
	args := []any{table}
	if schema != "" {
		schemaExpr = "?"
		args = []any{schema, table}
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT column_name, column_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = %s AND table_name = ?
		ORDER BY ordinal_position
	`, schemaExpr), args...)
	if err != nil {
		return nil, fmt.Errorf("introspect columns for %s: %w", table, err)
	}
	defer rows.Close()

	var cols []catalog.Column
	for rows.Next() {
		var name, colType, nullable string
		if err := rows.Scan(&name, &colType, &nullable); err != nil {
			return nil, err
		}
		cols = append(cols, catalog.Column{
			Name:       name,
			NativeType: colType,
			Nullable:   nullable == "YES",
		})
	}
	return cols, rows.Err()
}

func (s *Source) Close() error {
	return s.db.Close()
}
