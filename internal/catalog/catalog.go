// Package catalog implements the schema catalog: a cached, read-through
// view over live database metadata, shared read-mostly across all file
// workers behind a reader-preferring lock.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Column is one column of a table as reported by information_schema (or
// the dialect-equivalent system view): name, native type string exactly
// as the database reports it, and nullability. No other metadata is
// tracked - indexes, defaults, and constraints are out of scope for type
// checking.
type Column struct {
	Name       string
	NativeType string
	Nullable   bool
}

// Table is an ordered list of columns for one schema-qualified table.
type Table struct {
	Schema  string
	Name    string
	Columns []Column
}

// Source performs the actual live-database lookup for one DatabaseKind.
// Implementations live in mysqlcatalog and pgcatalog.
type Source interface {
	// Columns returns the ordered columns of a table. schema may be
	// empty, in which case the source applies its dialect's default
	// resolution (DATABASE() for MySQL, search_path for Postgres).
	Columns(ctx context.Context, schema, table string) ([]Column, error)
	Close() error
}

// Catalog is the read-through, cached view file workers query against.
// It is safe for concurrent use: reads take a shared lock, a cache miss
// upgrades to an exclusive lock only around the single entry being
// filled in, never around the whole lookup.
type Catalog struct {
	source Source
	mu     sync.RWMutex
	tables map[tableKey]*Table
}

type tableKey struct{ schema, name string }

func New(source Source) *Catalog {
	return &Catalog{source: source, tables: make(map[tableKey]*Table)}
}

// Lookup returns a table's columns, fetching and caching them on first
// access. Subsequent calls for the same (schema, table) pair within the
// process never hit the database again.
func (c *Catalog) Lookup(ctx context.Context, schema, table string) (*Table, error) {
	key := tableKey{schema, table}

	c.mu.RLock()
	t, ok := c.tables[key]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}

	cols, err := c.source.Columns(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("unknown table %q", qualify(schema, table))
	}

	fresh := &Table{Schema: schema, Name: table, Columns: cols}

	c.mu.Lock()
	c.tables[key] = fresh
	c.mu.Unlock()

	return fresh, nil
}

// Column looks up a single column by name within a table, case-
// insensitively, mirroring typical SQL identifier folding.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

func qualify(schema, table string) string {
	if schema == "" {
		return table
	}
	return schema + "." + table
}

func (c *Catalog) Close() error {
	return c.source.Close()
}
