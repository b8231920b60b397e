// Package database provides connection, schema, locking, and transaction
// management for a case database. It owns every SQL-dialect difference between
// the SQLite and PostgreSQL backends; the datamodel managers above it are
// backend-agnostic.
package database

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SchemaVersion is the case database schema version written to tsk_db_info.
const SchemaVersion = 1

// Queryer is the subset of database/sql operations shared by *sql.DB and
// *sql.Tx. Manager code that must run either standalone or inside a
// caller-supplied transaction is written against this interface.
type Queryer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// DB is an open case database: one shared connection pool, the dialect for
// its backend, and the case-wide read/write lock.
//
// The lock is a plain RWMutex, reentrant by convention rather than by
// mechanism: only exported manager methods acquire it, and they never call
// other exported methods while holding it. Internal helpers take a Queryer
// and assume their caller holds the appropriate lock.
type DB struct {
	conn    *sql.DB
	dialect Dialect
	lock    sync.RWMutex
}

// Open opens an existing case database using the given driver
// ("sqlite" or "postgres").
func Open(driver, pathOrConnStr string) (*DB, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(d.DriverName(), d.DSN(pathOrConnStr))
	if err != nil {
		return nil, fmt.Errorf("opening case database: %w", err)
	}

	// Verify the connection works
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to case database: %w", err)
	}

	return &DB{conn: conn, dialect: d}, nil
}

// Create creates a new case database with the full schema and returns it
// open. For SQLite, pathOrConnStr is the file path for the new database; for
// PostgreSQL the database must already exist and this creates the tables.
func Create(driver, pathOrConnStr string) (*DB, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(d.DriverName(), d.DSN(pathOrConnStr))
	if err != nil {
		return nil, fmt.Errorf("creating case database: %w", err)
	}

	db := &DB{conn: conn, dialect: d}
	if err := db.createSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying *sql.DB.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Dialect returns the SQL dialect for this database's backend.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// AcquireReadLock takes the case-wide lock shared. Pure multi-statement reads
// hold this so they observe a consistent view against concurrent writers.
func (db *DB) AcquireReadLock() { db.lock.RLock() }

// ReleaseReadLock releases the shared lock.
func (db *DB) ReleaseReadLock() { db.lock.RUnlock() }

// AcquireWriteLock takes the case-wide lock exclusive. Every write path,
// including multi-statement merges, holds this end-to-end so no reader
// observes a partial update.
func (db *DB) AcquireWriteLock() { db.lock.Lock() }

// ReleaseWriteLock releases the exclusive lock.
func (db *DB) ReleaseWriteLock() { db.lock.Unlock() }

// Transaction wraps a database transaction for multi-statement atomicity.
// The case-wide write lock is held from BeginTransaction until Commit or
// Rollback, so no reader ever observes a partial multi-statement update.
type Transaction struct {
	db   *DB
	tx   *sql.Tx
	done bool
}

// BeginTransaction starts a transaction on the case database and takes the
// case-wide write lock for its lifetime. Manager methods that accept a
// *Transaction rely on that lock and must not re-acquire it.
func (db *DB) BeginTransaction() (*Transaction, error) {
	db.AcquireWriteLock()
	tx, err := db.conn.Begin()
	if err != nil {
		db.ReleaseWriteLock()
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &Transaction{db: db, tx: tx}, nil
}

// Conn returns the transaction as a Queryer for statement execution.
func (t *Transaction) Conn() Queryer { return t.tx }

// Commit commits the transaction and releases the write lock.
func (t *Transaction) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.db.ReleaseWriteLock()
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Rollback rolls the transaction back and releases the write lock. Safe to
// call after Commit so it can run in a defer.
func (t *Transaction) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.db.ReleaseWriteLock()
	return t.tx.Rollback()
}

// InsertReturningID runs an INSERT and returns the generated row id, hiding
// the LastInsertId vs RETURNING split between backends. insertSQL must not
// already contain a RETURNING clause.
func (db *DB) InsertReturningID(q Queryer, insertSQL, idColumn string, args ...interface{}) (int64, error) {
	if db.dialect.SupportsLastInsertID() {
		res, err := q.Exec(insertSQL, args...)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}

	var id int64
	err := q.QueryRow(insertSQL+db.dialect.ReturningClause(idColumn), args...).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// IsUniqueViolation reports whether err is a unique-constraint violation on
// this backend.
func (db *DB) IsUniqueViolation(err error) bool {
	return db.dialect.IsUniqueViolation(err)
}

// Placeholder returns the backend's parameter placeholder for a 1-based index.
func (db *DB) Placeholder(index int) string {
	return db.dialect.Placeholder(index)
}

// createSchema builds all case tables and records schema version + case UUID.
// Table creation uses IF NOT EXISTS throughout so re-running against an
// existing case is harmless.
func (db *DB) createSchema() error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ddl := []struct {
		name string
		sql  string
	}{
		{"tsk_db_info", db.dialect.CreateDbInfoTableSQL()},
		{"tsk_hosts", db.dialect.CreateHostsTableSQL()},
		{"tsk_os_account_realms", db.dialect.CreateRealmsTableSQL()},
		{"tsk_os_accounts", db.dialect.CreateAccountsTableSQL()},
		{"tsk_data_sources", db.dialect.CreateDataSourcesTableSQL()},
		{"tsk_content", db.dialect.CreateContentTableSQL()},
		{"blackboard_attribute_types", db.dialect.CreateAttributeTypesTableSQL()},
		{"blackboard_artifacts", db.dialect.CreateArtifactsTableSQL()},
		{"blackboard_attributes", db.dialect.CreateAttributesTableSQL()},
	}
	for _, stmt := range ddl {
		if _, err := tx.Exec(stmt.sql); err != nil {
			return fmt.Errorf("creating %s table: %w", stmt.name, err)
		}
	}

	// Only stamp db_info on first creation.
	var rows int
	if err := tx.QueryRow("SELECT COUNT(*) FROM tsk_db_info").Scan(&rows); err != nil {
		return fmt.Errorf("checking tsk_db_info: %w", err)
	}
	if rows == 0 {
		_, err = tx.Exec(
			"INSERT INTO tsk_db_info (schema_ver, case_uuid) VALUES ("+
				db.dialect.Placeholder(1)+", "+db.dialect.Placeholder(2)+")",
			SchemaVersion, uuid.NewString(),
		)
		if err != nil {
			return fmt.Errorf("inserting db info: %w", err)
		}
	}

	return tx.Commit()
}

// CaseUUID returns the unique id stamped into the database at creation time.
func (db *DB) CaseUUID() (string, error) {
	var id string
	err := db.conn.QueryRow("SELECT case_uuid FROM tsk_db_info").Scan(&id)
	if err != nil {
		return "", fmt.Errorf("reading case uuid: %w", err)
	}
	return id, nil
}

func dialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite":
		return &SQLiteDialect{}, nil
	case "postgres":
		return &PostgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
}
