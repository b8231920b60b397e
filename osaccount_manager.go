package casedb

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/cdtdelta/casedb/internal/database"
)

// OsAccountManager owns the OS accounts scoped to realms. Besides
// create/lookup it provides the merge hook the realm manager invokes when two
// realms turn out to be the same identity.
type OsAccountManager struct {
	db  *database.DB
	log *zap.SugaredLogger
}

const accountSelect = `SELECT id, login_name, full_name, addr, signature,
		realm_id, db_status, merged_into
	FROM tsk_os_accounts`

// GetOrCreateWindowsAccount resolves or creates an account in the given realm
// from Windows evidence. sid may be empty only if loginName is not; group
// SIDs are rejected with NotUserSIDError. Idempotent under concurrent
// creators via uniqueness-race re-query.
func (m *OsAccountManager) GetOrCreateWindowsAccount(sid, loginName string, realm *Realm) (*OsAccount, error) {
	if realm == nil {
		return nil, validationErrorf("a realm is required to create an account")
	}
	if sid == "" && loginName == "" {
		return nil, validationErrorf("either a SID or a login name is required to create an account")
	}
	if sid != "" {
		if err := validateUserSID(sid); err != nil {
			return nil, err
		}
	}

	m.db.AcquireWriteLock()
	defer m.db.ReleaseWriteLock()

	conn := m.db.Conn()
	acct, err := m.accountInRealm(conn, sid, loginName, realm.ID)
	if err != nil {
		return nil, err
	}
	if acct != nil {
		return acct, nil
	}
	return m.createAccount(conn, sid, loginName, realm)
}

// createAccount inserts a new account. On a uniqueness race it re-queries and
// returns the concurrent winner. Caller holds the write lock.
func (m *OsAccountManager) createAccount(q database.Queryer, sid, loginName string, realm *Realm) (*OsAccount, error) {
	sig, err := accountSignature(realm.ID, sid, loginName)
	if err != nil {
		return nil, err
	}

	id, err := m.db.InsertReturningID(q,
		"INSERT INTO tsk_os_accounts (login_name, addr, signature, realm_id)"+
			" VALUES ("+placeholders(m.db, 4)+")", "id",
		nullable(loginName), nullable(sid), sig, realm.ID,
	)
	if err != nil {
		if m.db.IsUniqueViolation(err) {
			m.log.Debugw("account insert lost race, re-querying",
				"sid", sid, "login", loginName, "realm_id", realm.ID)
			if acct, qerr := m.accountInRealm(q, sid, loginName, realm.ID); qerr == nil && acct != nil {
				return acct, nil
			}
		}
		return nil, fmt.Errorf("creating account (sid=%s, login=%s, realm=%d): %w",
			sid, loginName, realm.ID, err)
	}

	return &OsAccount{
		ID: id, LoginName: loginName, Addr: sid,
		Signature: sig, RealmID: realm.ID, DbStatus: RealmActive,
	}, nil
}

// AccountByID returns the account with the given row id. Must exist.
func (m *OsAccountManager) AccountByID(id int64) (*OsAccount, error) {
	m.db.AcquireReadLock()
	defer m.db.ReleaseReadLock()

	acct, err := m.scanOne(m.db.Conn(), accountSelect+" WHERE id = "+m.db.Placeholder(1), id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("account id %d: %w", id, ErrNotFound)
	}
	return acct, nil
}

// AccountsByRealm returns the ACTIVE accounts currently scoped to a realm.
func (m *OsAccountManager) AccountsByRealm(realm *Realm) ([]*OsAccount, error) {
	if realm == nil {
		return nil, validationErrorf("a realm is required to list accounts")
	}
	m.db.AcquireReadLock()
	defer m.db.ReleaseReadLock()
	return m.activeAccountsInRealm(m.db.Conn(), realm.ID)
}

// MergeAccountsForRealms moves every ACTIVE account of the source realm into
// the destination realm inside the caller's transaction. Accounts whose
// identity already exists in the destination are merged into that account;
// the rest are re-pointed. Idempotent: a second run finds no ACTIVE accounts
// left on the source realm.
func (m *OsAccountManager) MergeAccountsForRealms(sourceRealm, destRealm *Realm, tx *database.Transaction) error {
	if sourceRealm == nil || destRealm == nil {
		return validationErrorf("both a source and a destination realm are required to merge accounts")
	}
	return m.mergeAccountsForRealms(tx.Conn(), sourceRealm, destRealm)
}

func (m *OsAccountManager) mergeAccountsForRealms(q database.Queryer, sourceRealm, destRealm *Realm) error {
	sourceAccts, err := m.activeAccountsInRealm(q, sourceRealm.ID)
	if err != nil {
		return err
	}
	destAccts, err := m.activeAccountsInRealm(q, destRealm.ID)
	if err != nil {
		return err
	}

	byAddr := make(map[string]*OsAccount)
	byLogin := make(map[string]*OsAccount)
	for _, a := range destAccts {
		if a.Addr != "" {
			byAddr[lower(a.Addr)] = a
		}
		if a.LoginName != "" {
			byLogin[lower(a.LoginName)] = a
		}
	}

	for _, src := range sourceAccts {
		dest := m.matchDestAccount(src, byAddr, byLogin)
		if dest != nil {
			if err := m.mergeAccounts(q, src, dest); err != nil {
				return err
			}
			continue
		}
		if err := m.repointAccount(q, src, destRealm.ID); err != nil {
			return err
		}
	}
	return nil
}

// matchDestAccount applies the same identity rules as realms: address is the
// stronger signal, and two different addresses are never unified by login
// name alone.
func (m *OsAccountManager) matchDestAccount(src *OsAccount, byAddr, byLogin map[string]*OsAccount) *OsAccount {
	if src.Addr != "" {
		if dest, ok := byAddr[lower(src.Addr)]; ok {
			return dest
		}
	}
	if src.LoginName == "" {
		return nil
	}
	dest, ok := byLogin[lower(src.LoginName)]
	if !ok {
		return nil
	}
	if src.Addr != "" && dest.Addr != "" {
		// Both sides claim different addresses; distinct identities.
		return nil
	}
	return dest
}

// mergeAccounts marks src MERGED into dest and backfills dest's empty
// identity fields from src, recomputing dest's signature while it is still
// ACTIVE.
func (m *OsAccountManager) mergeAccounts(q database.Queryer, src, dest *OsAccount) error {
	m.log.Infow("merging accounts", "source_id", src.ID, "dest_id", dest.ID)

	_, err := q.Exec(
		"UPDATE tsk_os_accounts SET db_status = "+m.db.Placeholder(1)+
			", merged_into = "+m.db.Placeholder(2)+
			", signature = "+m.db.Placeholder(3)+
			" WHERE id = "+m.db.Placeholder(4),
		int(RealmMerged), dest.ID, mergedSignature(), src.ID,
	)
	if err != nil {
		return fmt.Errorf("marking account %d merged: %w", src.ID, err)
	}

	newLogin := dest.LoginName
	if newLogin == "" {
		newLogin = src.LoginName
	}
	newFull := dest.FullName
	if newFull == "" {
		newFull = src.FullName
	}
	newAddr := dest.Addr
	if newAddr == "" {
		newAddr = src.Addr
	}
	sig, err := accountSignature(dest.RealmID, newAddr, newLogin)
	if err != nil {
		return err
	}

	_, err = q.Exec(
		"UPDATE tsk_os_accounts SET login_name = "+m.db.Placeholder(1)+
			", full_name = "+m.db.Placeholder(2)+
			", addr = "+m.db.Placeholder(3)+
			", signature = CASE WHEN db_status = "+m.db.Placeholder(4)+
			" THEN "+m.db.Placeholder(5)+" ELSE signature END"+
			" WHERE id = "+m.db.Placeholder(6),
		nullable(newLogin), nullable(newFull), nullable(newAddr),
		int(RealmActive), sig, dest.ID,
	)
	if err != nil {
		return fmt.Errorf("backfilling account %d from %d: %w", dest.ID, src.ID, err)
	}
	return nil
}

// repointAccount moves an account to a new realm, recomputing its signature
// for the new scope.
func (m *OsAccountManager) repointAccount(q database.Queryer, acct *OsAccount, realmID int64) error {
	sig, err := accountSignature(realmID, acct.Addr, acct.LoginName)
	if err != nil {
		return err
	}
	_, err = q.Exec(
		"UPDATE tsk_os_accounts SET realm_id = "+m.db.Placeholder(1)+
			", signature = "+m.db.Placeholder(2)+
			" WHERE id = "+m.db.Placeholder(3),
		realmID, sig, acct.ID,
	)
	if err != nil {
		return fmt.Errorf("repointing account %d to realm %d: %w", acct.ID, realmID, err)
	}
	return nil
}

// accountInRealm finds an ACTIVE account in the realm by address first, then
// by login name. A login match is rejected when the query supplied an address
// and the match records a different one.
func (m *OsAccountManager) accountInRealm(q database.Queryer, addr, loginName string, realmID int64) (*OsAccount, error) {
	if addr != "" {
		acct, err := m.scanOne(q,
			accountSelect+" WHERE realm_id = "+m.db.Placeholder(1)+
				" AND LOWER(addr) = LOWER("+m.db.Placeholder(2)+")"+
				" AND db_status = "+m.db.Placeholder(3),
			realmID, addr, int(RealmActive))
		if err != nil || acct != nil {
			return acct, err
		}
	}

	if loginName == "" {
		return nil, nil
	}
	acct, err := m.scanOne(q,
		accountSelect+" WHERE realm_id = "+m.db.Placeholder(1)+
			" AND LOWER(login_name) = LOWER("+m.db.Placeholder(2)+")"+
			" AND db_status = "+m.db.Placeholder(3),
		realmID, loginName, int(RealmActive))
	if err != nil {
		return nil, err
	}
	if acct != nil && addr != "" && acct.Addr != "" {
		return nil, nil
	}
	return acct, nil
}

func (m *OsAccountManager) activeAccountsInRealm(q database.Queryer, realmID int64) ([]*OsAccount, error) {
	rows, err := q.Query(
		accountSelect+" WHERE realm_id = "+m.db.Placeholder(1)+
			" AND db_status = "+m.db.Placeholder(2)+" ORDER BY id",
		realmID, int(RealmActive))
	if err != nil {
		return nil, fmt.Errorf("querying accounts of realm %d: %w", realmID, err)
	}
	defer rows.Close()

	var accts []*OsAccount
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accts = append(accts, acct)
	}
	return accts, rows.Err()
}

func (m *OsAccountManager) scanOne(q database.Queryer, query string, args ...interface{}) (*OsAccount, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	acct, err := scanAccount(rows)
	if err != nil {
		return nil, err
	}
	return acct, rows.Err()
}

func scanAccount(rows *sql.Rows) (*OsAccount, error) {
	var (
		a          OsAccount
		login      sql.NullString
		full       sql.NullString
		addr       sql.NullString
		mergedInto sql.NullInt64
	)
	err := rows.Scan(&a.ID, &login, &full, &addr, &a.Signature,
		&a.RealmID, &a.DbStatus, &mergedInto)
	if err != nil {
		return nil, fmt.Errorf("scanning account row: %w", err)
	}
	a.LoginName = login.String
	a.FullName = full.String
	a.Addr = addr.String
	a.MergedInto = mergedInto.Int64
	return &a, nil
}
