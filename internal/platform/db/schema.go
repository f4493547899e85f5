package db

import (
	"context"
	"fmt"
	"io/fs"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidSchemaName reports whether name is safe to interpolate as an identifier.
func ValidSchemaName(name string) bool {
	return schemaNamePattern.MatchString(name)
}

// EnsureSchema creates schema if needed and applies every pending migration
// from migrations to it. It returns the number of migrations applied.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, schema string, migrations fs.FS) (int, error) {
	if !ValidSchemaName(schema) {
		return 0, fmt.Errorf("invalid schema name: %s", schema)
	}

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return 0, fmt.Errorf("create schema %s: %w", schema, err)
	}

	n, err := NewMigrator(pool, migrations).Up(ctx, schema)
	if err != nil {
		return n, fmt.Errorf("run migrations for %s: %w", schema, err)
	}
	return n, nil
}
