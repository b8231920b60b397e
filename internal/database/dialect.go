package database

// Dialect abstracts all database-specific SQL generation.
// Each case database backend (SQLite, PostgreSQL) implements this interface.
type Dialect interface {
	// DriverName returns the database/sql driver name (e.g. "sqlite", "pgx").
	DriverName() string

	// DSN returns the data source name for opening a connection.
	// For SQLite this is the file path; for PostgreSQL it is a connection string.
	DSN(pathOrConnStr string) string

	// Placeholder returns the parameter placeholder for the given 1-based index.
	// SQLite: "?" (ignoring index), PostgreSQL: "$1", "$2", etc.
	Placeholder(index int) string

	// SupportsLastInsertID reports whether sql.Result.LastInsertId works for
	// this backend. When false, inserts that need the new row id must append
	// ReturningClause and use QueryRow instead.
	SupportsLastInsertID() bool

	// ReturningClause returns the SQL fragment appended to an INSERT to read
	// back the generated id column ("" for backends where LastInsertId works).
	ReturningClause(idColumn string) string

	// IsUniqueViolation reports whether err is a unique-constraint violation.
	// Realm and account creation relies on this to recover from insert races.
	IsUniqueViolation(err error) bool

	// CreateDbInfoTableSQL returns DDL for the tsk_db_info table.
	CreateDbInfoTableSQL() string

	// CreateHostsTableSQL returns DDL for the tsk_hosts table.
	CreateHostsTableSQL() string

	// CreateRealmsTableSQL returns DDL for the tsk_os_account_realms table.
	// realm_signature carries the UNIQUE constraint that backs race recovery.
	CreateRealmsTableSQL() string

	// CreateAccountsTableSQL returns DDL for the tsk_os_accounts table.
	CreateAccountsTableSQL() string

	// CreateDataSourcesTableSQL returns DDL for the tsk_data_sources table.
	CreateDataSourcesTableSQL() string

	// CreateContentTableSQL returns DDL for the tsk_content table.
	CreateContentTableSQL() string

	// CreateAttributeTypesTableSQL returns DDL for blackboard_attribute_types.
	CreateAttributeTypesTableSQL() string

	// CreateArtifactsTableSQL returns DDL for blackboard_artifacts.
	CreateArtifactsTableSQL() string

	// CreateAttributesTableSQL returns DDL for blackboard_attributes.
	CreateAttributesTableSQL() string
}
