package query

import "strconv"

// Dialect abstracts the SQL syntax differences needed for query building.
// Each database backend provides an implementation. The default is SQLite.
type Dialect interface {
	// Placeholder returns the parameter placeholder for the given 1-based index.
	// SQLite returns "?" (ignoring the index), PostgreSQL returns "$1", "$2", etc.
	Placeholder(index int) string
}

// sqliteDialect is the default dialect, producing SQLite-compatible SQL.
type sqliteDialect struct{}

func (sqliteDialect) Placeholder(index int) string { return "?" }

// postgresDialect produces numbered placeholders for the pgx stdlib driver.
type postgresDialect struct{}

func (postgresDialect) Placeholder(index int) string {
	return "$" + strconv.Itoa(index)
}

// DefaultDialect is used when a query is built without an explicit dialect.
var DefaultDialect Dialect = sqliteDialect{}

// PostgresDialect produces PostgreSQL-compatible SQL.
var PostgresDialect Dialect = postgresDialect{}
