package database

import "strings"

// SQLiteDialect implements the Dialect interface for SQLite case databases.
type SQLiteDialect struct{}

func (d *SQLiteDialect) DriverName() string                     { return "sqlite" }
func (d *SQLiteDialect) DSN(pathOrConnStr string) string        { return pathOrConnStr }
func (d *SQLiteDialect) Placeholder(index int) string           { return "?" }
func (d *SQLiteDialect) SupportsLastInsertID() bool             { return true }
func (d *SQLiteDialect) ReturningClause(idColumn string) string { return "" }

func (d *SQLiteDialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite surfaces SQLITE_CONSTRAINT_UNIQUE as a plain error
	// string; there is no exported error type to inspect.
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}

func (d *SQLiteDialect) CreateDbInfoTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS tsk_db_info (
		schema_ver INTEGER, case_uuid TEXT
	)`
}

func (d *SQLiteDialect) CreateHostsTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS tsk_hosts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		db_status INTEGER NOT NULL DEFAULT 0
	)`
}

func (d *SQLiteDialect) CreateRealmsTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS tsk_os_account_realms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		realm_name TEXT,
		realm_addr TEXT,
		realm_signature TEXT NOT NULL UNIQUE,
		scope_host_id INTEGER,
		scope_confidence INTEGER NOT NULL,
		db_status INTEGER NOT NULL DEFAULT 0,
		merged_into INTEGER,
		FOREIGN KEY(scope_host_id) REFERENCES tsk_hosts(id),
		FOREIGN KEY(merged_into) REFERENCES tsk_os_account_realms(id)
	)`
}

func (d *SQLiteDialect) CreateAccountsTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS tsk_os_accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		login_name TEXT,
		full_name TEXT,
		addr TEXT,
		signature TEXT NOT NULL UNIQUE,
		realm_id INTEGER NOT NULL,
		db_status INTEGER NOT NULL DEFAULT 0,
		merged_into INTEGER,
		FOREIGN KEY(realm_id) REFERENCES tsk_os_account_realms(id),
		FOREIGN KEY(merged_into) REFERENCES tsk_os_accounts(id)
	)`
}

func (d *SQLiteDialect) CreateDataSourcesTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS tsk_data_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host_id INTEGER,
		device_id TEXT,
		name TEXT,
		time_zone TEXT,
		FOREIGN KEY(host_id) REFERENCES tsk_hosts(id)
	)`
}

func (d *SQLiteDialect) CreateContentTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS tsk_content (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		data_source_id INTEGER,
		kind INTEGER NOT NULL,
		name TEXT,
		path TEXT,
		size INTEGER,
		FOREIGN KEY(data_source_id) REFERENCES tsk_data_sources(id)
	)`
}

func (d *SQLiteDialect) CreateAttributeTypesTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS blackboard_attribute_types (
		attribute_type_id INTEGER PRIMARY KEY,
		type_name TEXT NOT NULL UNIQUE,
		display_name TEXT,
		value_type INTEGER NOT NULL
	)`
}

func (d *SQLiteDialect) CreateArtifactsTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS blackboard_artifacts (
		artifact_id INTEGER PRIMARY KEY AUTOINCREMENT,
		artifact_type_id INTEGER NOT NULL,
		content_id INTEGER,
		data_source_id INTEGER,
		FOREIGN KEY(content_id) REFERENCES tsk_content(id),
		FOREIGN KEY(data_source_id) REFERENCES tsk_data_sources(id)
	)`
}

func (d *SQLiteDialect) CreateAttributesTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS blackboard_attributes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		artifact_id INTEGER NOT NULL,
		attribute_type_id INTEGER NOT NULL,
		source TEXT,
		value_type INTEGER NOT NULL,
		value_int32 INTEGER,
		value_int64 INTEGER,
		value_double REAL,
		value_text TEXT,
		value_byte BLOB,
		FOREIGN KEY(artifact_id) REFERENCES blackboard_artifacts(artifact_id),
		FOREIGN KEY(attribute_type_id) REFERENCES blackboard_attribute_types(attribute_type_id)
	)`
}
