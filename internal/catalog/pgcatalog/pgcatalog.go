// Package pgcatalog implements catalog.Source against a live PostgreSQL
// server using jackc/pgx/v5. The introspection query is the
// information_schema equivalent of the pg_catalog joins other tools in
// this ecosystem issue for table introspection, trimmed to just the
// column name, native type, and nullability this tool needs.
package pgcatalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"sqlxts/internal/catalog"
)

type Source struct {
	pool          *pgxpool.Pool
	defaultSchema string
}

// Open opens a pooled connection to a Postgres server. searchPath, if
// non-empty, supplies the default schema for unqualified table lookups;
// a comma-separated search path uses its first entry.
func Open(ctx context.Context, dsn, searchPath string) (*Source, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres catalog source: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres catalog source: %w", err)
	}
	return &Source{pool: pool, defaultSchema: firstSchema(searchPath)}, nil
}

func firstSchema(searchPath string) string {
	first, _, _ := strings.Cut(searchPath, ",")
	return strings.TrimSpace(first)
}

func (s *Source) Columns(ctx context.Context, schema, table string) ([]catalog.Column, error) {
	if schema == "" {
		schema = s.defaultSchema
	}
	if schema == "" {
		schema = "public"
	}

	rows, err := s.pool.Query(ctx, `
		SELECT column_name, udt_name, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("introspect columns for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []catalog.Column
	for rows.Next() {
		var name, udtName, nullable string
		if err := rows.Scan(&name, &udtName, &nullable); err != nil {
			return nil, err
		}
		cols = append(cols, catalog.Column{
			Name:       name,
			NativeType: udtName,
			Nullable:   nullable == "YES",
		})
	}
	return cols, rows.Err()
}

func (s *Source) Close() error {
	s.pool.Close()
	return nil
}
