package database

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// pgUniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresDialect implements the Dialect interface for PostgreSQL case
// databases. Multi-user cases share one PostgreSQL database the same way a
// single-user case owns a SQLite file; all SQL differences live here.
type PostgresDialect struct{}

func (d *PostgresDialect) DriverName() string              { return "pgx" }
func (d *PostgresDialect) DSN(pathOrConnStr string) string { return pathOrConnStr }

func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *PostgresDialect) SupportsLastInsertID() bool { return false }

func (d *PostgresDialect) ReturningClause(idColumn string) string {
	return " RETURNING " + idColumn
}

func (d *PostgresDialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

func (d *PostgresDialect) CreateDbInfoTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS tsk_db_info (
		schema_ver INTEGER, case_uuid TEXT
	)`
}

func (d *PostgresDialect) CreateHostsTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS tsk_hosts (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		db_status INTEGER NOT NULL DEFAULT 0
	)`
}

func (d *PostgresDialect) CreateRealmsTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS tsk_os_account_realms (
		id BIGSERIAL PRIMARY KEY,
		realm_name TEXT,
		realm_addr TEXT,
		realm_signature TEXT NOT NULL UNIQUE,
		scope_host_id BIGINT REFERENCES tsk_hosts(id),
		scope_confidence INTEGER NOT NULL,
		db_status INTEGER NOT NULL DEFAULT 0,
		merged_into BIGINT REFERENCES tsk_os_account_realms(id)
	)`
}

func (d *PostgresDialect) CreateAccountsTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS tsk_os_accounts (
		id BIGSERIAL PRIMARY KEY,
		login_name TEXT,
		full_name TEXT,
		addr TEXT,
		signature TEXT NOT NULL UNIQUE,
		realm_id BIGINT NOT NULL REFERENCES tsk_os_account_realms(id),
		db_status INTEGER NOT NULL DEFAULT 0,
		merged_into BIGINT REFERENCES tsk_os_accounts(id)
	)`
}

func (d *PostgresDialect) CreateDataSourcesTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS tsk_data_sources (
		id BIGSERIAL PRIMARY KEY,
		host_id BIGINT REFERENCES tsk_hosts(id),
		device_id TEXT,
		name TEXT,
		time_zone TEXT
	)`
}

func (d *PostgresDialect) CreateContentTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS tsk_content (
		id BIGSERIAL PRIMARY KEY,
		data_source_id BIGINT REFERENCES tsk_data_sources(id),
		kind INTEGER NOT NULL,
		name TEXT,
		path TEXT,
		size BIGINT
	)`
}

func (d *PostgresDialect) CreateAttributeTypesTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS blackboard_attribute_types (
		attribute_type_id BIGINT PRIMARY KEY,
		type_name TEXT NOT NULL UNIQUE,
		display_name TEXT,
		value_type INTEGER NOT NULL
	)`
}

func (d *PostgresDialect) CreateArtifactsTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS blackboard_artifacts (
		artifact_id BIGSERIAL PRIMARY KEY,
		artifact_type_id INTEGER NOT NULL,
		content_id BIGINT REFERENCES tsk_content(id),
		data_source_id BIGINT REFERENCES tsk_data_sources(id)
	)`
}

func (d *PostgresDialect) CreateAttributesTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS blackboard_attributes (
		id BIGSERIAL PRIMARY KEY,
		artifact_id BIGINT NOT NULL REFERENCES blackboard_artifacts(artifact_id),
		attribute_type_id BIGINT NOT NULL REFERENCES blackboard_attribute_types(attribute_type_id),
		source TEXT,
		value_type INTEGER NOT NULL,
		value_int32 INTEGER,
		value_int64 BIGINT,
		value_double DOUBLE PRECISION,
		value_text TEXT,
		value_byte BYTEA
	)`
}
