package database

import (
	"os"
	"path/filepath"
	"testing"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func createTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Create("sqlite", tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndOpen(t *testing.T) {
	path := tempDBPath(t)

	// Create a new database
	db, err := Create("sqlite", path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	uuid1, err := db.CaseUUID()
	if err != nil {
		t.Fatalf("CaseUUID failed: %v", err)
	}
	if uuid1 == "" {
		t.Fatal("expected a case uuid to be stamped at creation")
	}
	db.Close()

	// Verify the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}

	// Reopen it and check the identity survived
	db2, err := Open("sqlite", path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db2.Close()

	uuid2, err := db2.CaseUUID()
	if err != nil {
		t.Fatalf("CaseUUID after reopen failed: %v", err)
	}
	if uuid2 != uuid1 {
		t.Errorf("case uuid changed across reopen: %q vs %q", uuid1, uuid2)
	}
}

func TestCreateTwicePreservesIdentity(t *testing.T) {
	path := tempDBPath(t)

	db, err := Create("sqlite", path)
	if err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	uuid1, _ := db.CaseUUID()
	db.Close()

	// Creating over an existing database must not re-stamp it.
	db2, err := Create("sqlite", path)
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
	defer db2.Close()

	uuid2, _ := db2.CaseUUID()
	if uuid2 != uuid1 {
		t.Errorf("second Create re-stamped the case uuid: %q vs %q", uuid1, uuid2)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := Create("oracle", "whatever"); err == nil {
		t.Fatal("expected an error for an unsupported driver")
	}
}

func TestInsertReturningID(t *testing.T) {
	db := createTestDB(t)

	id1, err := db.InsertReturningID(db.Conn(),
		"INSERT INTO tsk_hosts (name) VALUES (?)", "id", "host-a")
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	id2, err := db.InsertReturningID(db.Conn(),
		"INSERT INTO tsk_hosts (name) VALUES (?)", "id", "host-b")
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if id1 <= 0 || id2 <= id1 {
		t.Errorf("expected increasing positive ids, got %d then %d", id1, id2)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := createTestDB(t)

	if _, err := db.Conn().Exec("INSERT INTO tsk_hosts (name) VALUES (?)", "dup"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	_, err := db.Conn().Exec("INSERT INTO tsk_hosts (name) VALUES (?)", "dup")
	if err == nil {
		t.Fatal("expected a unique constraint failure")
	}
	if !db.IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation did not recognize: %v", err)
	}
	if db.IsUniqueViolation(nil) {
		t.Error("IsUniqueViolation(nil) should be false")
	}
}

func TestTransactionCommit(t *testing.T) {
	db := createTestDB(t)

	tx, err := db.BeginTransaction()
	if err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	if _, err := tx.Conn().Exec("INSERT INTO tsk_hosts (name) VALUES (?)", "committed"); err != nil {
		t.Fatalf("insert in tx failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	var n int
	if err := db.Conn().QueryRow("SELECT COUNT(*) FROM tsk_hosts WHERE name = ?", "committed").Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 committed row, got %d", n)
	}
}

func TestTransactionRollback(t *testing.T) {
	db := createTestDB(t)

	tx, err := db.BeginTransaction()
	if err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	if _, err := tx.Conn().Exec("INSERT INTO tsk_hosts (name) VALUES (?)", "rolled-back"); err != nil {
		t.Fatalf("insert in tx failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	var n int
	if err := db.Conn().QueryRow("SELECT COUNT(*) FROM tsk_hosts WHERE name = ?", "rolled-back").Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected rollback to discard the row, found %d", n)
	}
}

func TestTransactionReleasesLock(t *testing.T) {
	db := createTestDB(t)

	tx, err := db.BeginTransaction()
	if err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	// Rollback after Commit must not double-release the case lock.
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback after Commit failed: %v", err)
	}

	// If the lock leaked, this would deadlock.
	db.AcquireWriteLock()
	db.ReleaseWriteLock()
}

func TestPostgresDialectSQL(t *testing.T) {
	d := &PostgresDialect{}

	if got := d.Placeholder(3); got != "$3" {
		t.Errorf("Placeholder(3) = %q, want $3", got)
	}
	if d.SupportsLastInsertID() {
		t.Error("postgres should not claim LastInsertId support")
	}
	if got := d.ReturningClause("artifact_id"); got != " RETURNING artifact_id" {
		t.Errorf("ReturningClause = %q", got)
	}
}

func TestSQLiteDialectSQL(t *testing.T) {
	d := &SQLiteDialect{}

	if got := d.Placeholder(3); got != "?" {
		t.Errorf("Placeholder(3) = %q, want ?", got)
	}
	if !d.SupportsLastInsertID() {
		t.Error("sqlite should claim LastInsertId support")
	}
}
