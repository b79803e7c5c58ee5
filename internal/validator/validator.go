// Package validator runs a per-query `EXPLAIN` round trip that converts
// database-reported errors into span-tagged diagnostics without ever
// executing a query's side effects. One cached, pooled connection is
// shared by every file worker; PingContext on open, explicit Close on
// exit.
package validator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"

	"sqlxts/internal/diagnostic"
	"sqlxts/internal/span"
)

// DefaultTimeout is the per-query EXPLAIN timeout a Validator is opened
// with, and the fallback when its Timeout field is not positive.
const DefaultTimeout = 10 * time.Second

// Validator sends `EXPLAIN <query>` for one DatabaseKind over a single
// cached, pooled connection shared by every file worker.
type Validator struct {
	Timeout time.Duration

	mysql *sql.DB
	pg    *pgxpool.Pool
}

// OpenMySQL connects to a MySQL-family server for validation. The
// returned Validator must be closed once the run finishes.
func OpenMySQL(ctx context.Context, dsn string) (*Validator, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql validator connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql validator connection: %w", err)
	}
	return &Validator{Timeout: DefaultTimeout, mysql: db}, nil
}

// OpenPostgres connects to a Postgres server for validation.
func OpenPostgres(ctx context.Context, dsn string) (*Validator, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres validator connection: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres validator connection: %w", err)
	}
	return &Validator{Timeout: DefaultTimeout, pg: pool}, nil
}

// Close releases the underlying pooled connection. Safe to call on a
// zero-value or already-closed Validator.
func (v *Validator) Close() error {
	if v == nil {
		return nil
	}
	if v.mysql != nil {
		return v.mysql.Close()
	}
	if v.pg != nil {
		v.pg.Close()
	}
	return nil
}

// Validate runs `EXPLAIN query`, retrying once on a connection-level
// failure before surfacing a diagnostic. It never returns a Go error:
// every failure mode becomes a single Diagnostic (or none, on
// success), so one bad SQL never aborts the run.
func (v *Validator) Validate(ctx context.Context, query string, sp span.Span) *diagnostic.Diagnostic {
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := v.explain(ctx, query)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		d := diagnostic.New(diagnostic.ValidationTimeout, sp, fmt.Sprintf("EXPLAIN timed out after %s", timeout))
		return &d
	}
	if isConnectionLoss(err) {
		// Retry once. A second connection-level failure is fatal for
		// this SQL only, not for the run.
		err = v.explain(ctx, query)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			d := diagnostic.New(diagnostic.ValidationTimeout, sp, fmt.Sprintf("EXPLAIN timed out after %s", timeout))
			return &d
		}
	}

	d := diagnostic.New(diagnostic.ValidationFailed, sp, err.Error())
	return &d
}

func (v *Validator) explain(ctx context.Context, query string) error {
	explainSQL := "EXPLAIN " + query
	if v.mysql != nil {
		rows, err := v.mysql.QueryContext(ctx, explainSQL)
		if err != nil {
			return err
		}
		return rows.Close()
	}
	rows, err := v.pg.Query(ctx, explainSQL)
	if err != nil {
		return err
	}
	rows.Close()
	return rows.Err()
}

// isConnectionLoss reports whether err looks like the connection itself
// dropped (as opposed to the database rejecting the query), the only
// case worth a retry.
func isConnectionLoss(err error) bool {
	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.Canceled)
}
