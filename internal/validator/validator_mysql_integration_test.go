package validator

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"sqlxts/internal/diagnostic"
	"sqlxts/internal/span"
)

func TestValidateMySQLIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	dsn := setupMySQL(t)

	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close DB connection: %v", err)
		}
	})

	_, err = db.ExecContext(ctx, `
		CREATE TABLE items (
			id INT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL
		)
	`)
	require.NoError(t, err)

	v, err := OpenMySQL(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := v.Close(); err != nil {
			t.Errorf("failed to close validator: %v", err)
		}
	})

	sp := span.Span{File: "queries.ts", StartLine: 1, StartCol: 1}

	t.Run("valid query passes", func(t *testing.T) {
		assert.Nil(t, v.Validate(ctx, "SELECT id, name FROM items WHERE id = 1", sp))
	})

	t.Run("unknown table is a ValidationFailed diagnostic", func(t *testing.T) {
		d := v.Validate(ctx, "SELECT * FROM no_such_table", sp)
		require.NotNil(t, d)
		assert.Equal(t, diagnostic.ValidationFailed, d.Kind)
		assert.Equal(t, sp, d.Span)
	})

	t.Run("syntax error is a ValidationFailed diagnostic", func(t *testing.T) {
		d := v.Validate(ctx, "SELEC id FROM items", sp)
		require.NotNil(t, d)
		assert.Equal(t, diagnostic.ValidationFailed, d.Kind)
	})

	t.Run("invalid DSN fails to open", func(t *testing.T) {
		_, err := OpenMySQL(ctx, "invalid:user@tcp(127.0.0.1:1)/nope")
		assert.Error(t, err)
	})

	t.Run("close without open is safe", func(t *testing.T) {
		var zero *Validator
		assert.NoError(t, zero.Close())
	})
}

func setupMySQL(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	mysqlContainer, err := mysql.Run(ctx, "mysql:8.0",
		mysql.WithDatabase("testdb"),
		mysql.WithUsername("root"),
		mysql.WithPassword("testpass"),
	)
	require.NoError(t, err, "failed to start MySQL container")

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(mysqlContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := mysqlContainer.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err, "failed to get connection string")
	return dsn
}
