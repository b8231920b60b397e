// Package casedb is the data model core of a forensic case database. It
// stores evidence identity (hosts, OS account realms, OS accounts), analysis
// results (blackboard artifacts and attributes), and the event type taxonomy
// used for timeline classification, over SQLite or PostgreSQL.
package casedb

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cdtdelta/casedb/internal/database"
	"github.com/cdtdelta/casedb/internal/ingest"
	"github.com/cdtdelta/casedb/internal/query"
)

// Case is one open case database and the set of managers working on it.
// A Case is safe for concurrent use: writes serialize on a case-wide lock.
type Case struct {
	db  *database.DB
	log *zap.SugaredLogger

	hosts      *HostManager
	realms     *RealmManager
	accounts   *OsAccountManager
	content    *ContentManager
	blackboard *Blackboard
}

// Option adjusts how a Case is opened.
type Option func(*Case)

// WithLogger installs a logger. Without it the case logs nowhere.
func WithLogger(l *zap.Logger) Option {
	return func(c *Case) {
		c.log = l.Sugar()
	}
}

// CreateCase creates a new case database with the full schema and opens it.
// driver is "sqlite" or "postgres"; pathOrConnStr is the database file path
// or connection string respectively.
func CreateCase(driver, pathOrConnStr string, opts ...Option) (*Case, error) {
	db, err := database.Create(driver, pathOrConnStr)
	if err != nil {
		return nil, err
	}
	return newCase(db, opts)
}

// OpenCase opens an existing case database.
func OpenCase(driver, pathOrConnStr string, opts ...Option) (*Case, error) {
	db, err := database.Open(driver, pathOrConnStr)
	if err != nil {
		return nil, err
	}
	return newCase(db, opts)
}

func newCase(db *database.DB, opts []Option) (*Case, error) {
	c := &Case{db: db, log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(c)
	}

	c.hosts = &HostManager{db: db, log: c.log}
	c.accounts = &OsAccountManager{db: db, log: c.log}
	c.realms = &RealmManager{db: db, accounts: c.accounts, log: c.log}
	c.content = &ContentManager{db: db, log: c.log}

	types := newAttributeTypeRegistry(db)
	if err := types.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("loading attribute types: %w", err)
	}
	c.blackboard = &Blackboard{db: db, types: types, content: c.content, log: c.log}

	return c, nil
}

// Close closes the underlying database.
func (c *Case) Close() error {
	return c.db.Close()
}

// UUID returns the unique id stamped into the case at creation time.
func (c *Case) UUID() (string, error) {
	return c.db.CaseUUID()
}

func (c *Case) Hosts() *HostManager { return c.hosts }
func (c *Case) Realms() *RealmManager { return c.realms }
func (c *Case) Accounts() *OsAccountManager { return c.accounts }
func (c *Case) Content() *ContentManager { return c.content }
func (c *Case) Blackboard() *Blackboard { return c.blackboard }

// BeginTransaction starts a write transaction holding the case-wide write
// lock until Commit or Rollback.
func (c *Case) BeginTransaction() (*database.Transaction, error) {
	return c.db.BeginTransaction()
}

// NewAccountQuery returns an account search query builder matched to the
// case's SQL dialect. Pass pageSize 0 for no pagination.
func (c *Case) NewAccountQuery(pageSize int) *query.Query {
	d := query.DefaultDialect
	if c.db.Dialect().DriverName() == "pgx" {
		d = query.PostgresDialect
	}
	return query.New(d, pageSize)
}

// AccountSearchHit is one row of an account search: the account plus the
// identifying fields of its realm.
type AccountSearchHit struct {
	Account   OsAccount
	RealmName string
	RealmAddr string
}

// FindOsAccounts runs an account search query and returns the matching
// accounts with their realm identity.
func (c *Case) FindOsAccounts(q *query.Query) ([]AccountSearchHit, error) {
	sqlStr, args := q.Build()

	c.db.AcquireReadLock()
	defer c.db.ReleaseReadLock()

	rows, err := c.db.Conn().Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("searching accounts: %w", err)
	}
	defer rows.Close()

	var hits []AccountSearchHit
	for rows.Next() {
		var h AccountSearchHit
		var login, full, addr, realmName, realmAddr sql.NullString
		if err := rows.Scan(&h.Account.ID, &login, &full, &addr,
			&h.Account.Signature, &h.Account.RealmID, &h.Account.DbStatus,
			&realmName, &realmAddr); err != nil {
			return nil, fmt.Errorf("scanning account row: %w", err)
		}
		h.Account.LoginName = login.String
		h.Account.FullName = full.String
		h.Account.Addr = addr.String
		h.RealmName = realmName.String
		h.RealmAddr = realmAddr.String
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// CountOsAccounts returns the number of accounts matching a search query,
// ignoring its pagination.
func (c *Case) CountOsAccounts(q *query.Query) (int, error) {
	sqlStr, args := q.BuildCount()

	c.db.AcquireReadLock()
	defer c.db.ReleaseReadLock()

	var n int
	if err := c.db.Conn().QueryRow(sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting accounts: %w", err)
	}
	return n, nil
}

// ImportSummary reports the outcome of an account listing import.
type ImportSummary struct {
	Hosts     int
	Realms    int
	Accounts  int
	Skipped   int
	RowErrors []ingest.RowError
}

// ImportAccountsCSV ingests an account listing CSV (host, login, sid,
// realm_name, scope), resolving each row into a host, realm, and account.
// Rows with a group SID or failing validation are reported in the summary
// and skipped; database errors abort the import.
func (c *Case) ImportAccountsCSV(path string) (*ImportSummary, error) {
	parsed, err := ingest.ReadAccounts(path, 0, func(n int) {
		c.log.Infow("importing accounts", "path", path, "parsed", n)
	})
	if err != nil {
		return nil, err
	}

	summary := &ImportSummary{
		Skipped:   parsed.Skipped,
		RowErrors: parsed.RowErrors,
	}
	seenHosts := make(map[int64]bool)
	seenRealms := make(map[int64]bool)
	seenAccounts := make(map[int64]bool)

	for _, rec := range parsed.Records {
		host, err := c.hosts.NewHost(rec.Host)
		if err != nil {
			return summary, fmt.Errorf("row %d: %w", rec.Line, err)
		}
		if !seenHosts[host.ID] {
			seenHosts[host.ID] = true
			summary.Hosts++
		}

		realm, err := c.realms.GetOrCreateWindowsRealm(rec.SID, rec.RealmName, host, scopeFromString(rec.Scope))
		if err != nil {
			if c.rowLevel(err) {
				summary.Skipped++
				summary.RowErrors = append(summary.RowErrors, ingest.RowError{Line: rec.Line, Err: err})
				continue
			}
			return summary, fmt.Errorf("row %d: %w", rec.Line, err)
		}
		if !seenRealms[realm.ID] {
			seenRealms[realm.ID] = true
			summary.Realms++
		}

		account, err := c.accounts.GetOrCreateWindowsAccount(rec.SID, rec.Login, realm)
		if err != nil {
			if c.rowLevel(err) {
				summary.Skipped++
				summary.RowErrors = append(summary.RowErrors, ingest.RowError{Line: rec.Line, Err: err})
				continue
			}
			return summary, fmt.Errorf("row %d: %w", rec.Line, err)
		}
		if !seenAccounts[account.ID] {
			seenAccounts[account.ID] = true
			summary.Accounts++
		}
	}

	c.log.Infow("account import finished", "path", path,
		"hosts", summary.Hosts, "realms", summary.Realms,
		"accounts", summary.Accounts, "skipped", summary.Skipped)
	return summary, nil
}

// rowLevel reports whether an import error is confined to one row.
func (c *Case) rowLevel(err error) bool {
	var notUser *NotUserSIDError
	return IsValidationError(err) || errors.As(err, &notUser)
}

func scopeFromString(s string) RealmScope {
	switch s {
	case "local":
		return ScopeLocal
	case "domain":
		return ScopeDomain
	}
	return ScopeUnknown
}
