package messages

import (
	_ "embed"
	"strings"

	"github.com/jackc/pgx/v5"
)

//go:embed schema/postgres.sql
var postgresSchema string

//go:embed schema/sqlite.sql
var sqliteSchema string

// PostgresSchemaSQL renders the Postgres DDL for the given schema name.
func PostgresSchemaSQL(schema string) string {
	return strings.ReplaceAll(postgresSchema, "{{schema}}", pgx.Identifier{schema}.Sanitize())
}

// SQLiteSchemaSQL returns the SQLite DDL.
func SQLiteSchemaSQL() string {
	return sqliteSchema
}
