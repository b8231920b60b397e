package casedb

import (
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cdtdelta/casedb/internal/database"
)

// RealmUpdateStatus is the tri-state outcome of UpdateRealm.
type RealmUpdateStatus int

const (
	// RealmUpdateNoChange means every requested fill-in was already set.
	RealmUpdateNoChange RealmUpdateStatus = iota
	// RealmUpdated means at least one empty field was filled in.
	RealmUpdated
	// RealmUpdateMerged is reserved for callers that escalate a conflicting
	// fill-in into a merge. UpdateRealm itself never produces it: overwriting
	// confirmed identity fields is disallowed, and merging stays an explicit
	// operation (MergeRealms / MoveOrMergeRealm).
	RealmUpdateMerged
)

// RealmManager creates, looks up, updates, and merges realms from identity
// evidence discovered incrementally across data sources.
//
// All exported methods either take the case-wide lock themselves or accept a
// *database.Transaction, whose lifetime already holds the write lock.
type RealmManager struct {
	db       *database.DB
	accounts *OsAccountManager
	log      *zap.SugaredLogger
}

const realmSelect = `SELECT realms.id, realms.realm_name, realms.realm_addr,
		realms.realm_signature, realms.scope_host_id, hosts.name,
		realms.scope_confidence, realms.db_status, realms.merged_into
	FROM tsk_os_account_realms realms
		LEFT JOIN tsk_hosts hosts ON realms.scope_host_id = hosts.id`

// GetOrCreateWindowsRealm resolves or creates a realm from Windows identity
// evidence. accountSID is a user/group SID whose domain sub-authority becomes
// the realm address; it may be empty only if realmName is not. Use
// ScopeUnknown if the scope is not known and the manager will infer it.
//
// Creation is idempotent under concurrent callers: an insert that loses a
// uniqueness race re-queries and returns the winner.
func (m *RealmManager) GetOrCreateWindowsRealm(accountSID, realmName string, host *Host, scope RealmScope) (*Realm, error) {
	if host == nil {
		return nil, validationErrorf("a referring host is required to create a realm")
	}
	if accountSID == "" && realmName == "" {
		return nil, validationErrorf("either an address or a name is required to create a realm")
	}

	var realmAddr string
	if accountSID != "" {
		if err := validateUserSID(accountSID); err != nil {
			return nil, err
		}
		addr, err := windowsRealmAddr(accountSID)
		if err != nil {
			return nil, err
		}
		realmAddr = addr
	}

	m.db.AcquireWriteLock()
	defer m.db.ReleaseWriteLock()

	conn := m.db.Conn()
	realm, err := m.windowsRealm(conn, realmAddr, realmName, host)
	if err != nil {
		return nil, err
	}
	if realm != nil {
		return realm, nil
	}

	return m.createRealm(conn, realmAddr, realmName, host, scope)
}

// WindowsRealm looks up a realm by a user/group SID and/or realm name,
// without creating anything. Returns nil if no matching realm exists.
func (m *RealmManager) WindowsRealm(accountSID, realmName string, host *Host) (*Realm, error) {
	if host == nil {
		return nil, validationErrorf("a referring host is required to get a realm")
	}
	if accountSID == "" && realmName == "" {
		return nil, validationErrorf("either an address or a name is required to get a realm")
	}

	var realmAddr string
	if accountSID != "" {
		if err := validateUserSID(accountSID); err != nil {
			return nil, err
		}
		addr, err := windowsRealmAddr(accountSID)
		if err != nil {
			return nil, err
		}
		realmAddr = addr
	}

	m.db.AcquireReadLock()
	defer m.db.ReleaseReadLock()
	return m.windowsRealm(m.db.Conn(), realmAddr, realmName, host)
}

// RealmByID returns the realm with the given row id. The realm must exist.
func (m *RealmManager) RealmByID(id int64) (*Realm, error) {
	m.db.AcquireReadLock()
	defer m.db.ReleaseReadLock()
	return m.realmByID(m.db.Conn(), id)
}

// UpdateRealm fills in the realm's empty name and/or address fields. A field
// that already holds a different value is left untouched: overwriting
// confirmed identity evidence is disallowed, so a conflicting fill-in is a
// documented no-op, not an error. This method never performs identity
// merging.
//
// After any field is set, the signature is recomputed and rewritten, but only
// while the row is still ACTIVE, so a concurrently-merged realm keeps its
// placeholder signature.
func (m *RealmManager) UpdateRealm(realm *Realm, realmName, realmAddr string) (RealmUpdateStatus, *Realm, error) {
	if realm == nil {
		return RealmUpdateNoChange, nil, validationErrorf("a realm is required to update")
	}

	m.db.AcquireWriteLock()
	defer m.db.ReleaseWriteLock()
	return m.updateRealm(m.db.Conn(), realm, realmName, realmAddr)
}

// MoveOrMergeRealm relocates a realm discovered under one host context to
// destHost. If the destination host already has a realm for the same
// identity, source is merged into it; otherwise source is simply re-scoped to
// destHost in place. Runs inside the caller's transaction.
//
// Returns the realm the source ended up as: the merge destination, or the
// moved source itself.
func (m *RealmManager) MoveOrMergeRealm(source *Realm, destHost *Host, tx *database.Transaction) (*Realm, error) {
	if source == nil {
		return nil, validationErrorf("a source realm is required")
	}
	if destHost == nil {
		return nil, validationErrorf("a destination host is required")
	}
	q := tx.Conn()

	var matchByAddr, matchByName *Realm
	var err error
	if source.Addr != "" {
		matchByAddr, err = m.realmByAddr(q, source.Addr, destHost)
		if err != nil {
			return nil, err
		}
		if matchByAddr != nil && matchByAddr.ID == source.ID {
			matchByAddr = nil
		}
	}
	if source.Name != "" {
		matchByName, err = m.realmByName(q, source.Name, destHost)
		if err != nil {
			return nil, err
		}
		if matchByName != nil && matchByName.ID == source.ID {
			matchByName = nil
		}
	}

	dest, err := m.resolveMoveTarget(q, source, matchByAddr, matchByName)
	if err != nil {
		return nil, err
	}

	if dest != nil {
		if err := m.MergeRealms(source, dest, tx); err != nil {
			return nil, err
		}
		return m.realmByID(q, dest.ID)
	}

	// No identity collision at the destination: move in place.
	return m.moveRealm(q, source, destHost)
}

// resolveMoveTarget applies the destination-resolution rules for a realm
// moving to a new host, given the address match and name match found there.
func (m *RealmManager) resolveMoveTarget(q database.Queryer, source, matchByAddr, matchByName *Realm) (*Realm, error) {
	switch {
	case matchByAddr != nil && matchByName != nil && matchByAddr.ID == matchByName.ID:
		return matchByAddr, nil

	case matchByAddr != nil && matchByName != nil:
		if matchByName.Addr == "" {
			// The name match has no address of its own, so the address match
			// is the same identity under its stronger signal. Fold the name
			// match in first, then land the source on the combined realm.
			if err := m.mergeRealms(q, matchByName, matchByAddr); err != nil {
				return nil, err
			}
			return m.realmByID(q, matchByAddr.ID)
		}
		// The name match has a different address recorded; address is
		// authoritative, leave it untouched.
		return matchByAddr, nil

	case matchByAddr != nil:
		return matchByAddr, nil

	case matchByName != nil:
		// An unresolvable address conflict (both sides claim different
		// addresses) means the name match is a different identity.
		if source.Addr != "" && matchByName.Addr != "" {
			return nil, nil
		}
		return matchByName, nil

	default:
		return nil, nil
	}
}

// MergeRealms merges source into dest inside the caller's transaction:
// every OS account of source is reassigned or merged into dest, source
// becomes MERGED with a placeholder signature, and dest's empty identity
// fields are backfilled from source. All-or-nothing: any error leaves the
// transaction to be rolled back with source still ACTIVE.
func (m *RealmManager) MergeRealms(source, dest *Realm, tx *database.Transaction) error {
	if source == nil || dest == nil {
		return validationErrorf("both a source and a destination realm are required to merge")
	}
	return m.mergeRealms(tx.Conn(), source, dest)
}

func (m *RealmManager) mergeRealms(q database.Queryer, source, dest *Realm) error {
	m.log.Infow("merging realms",
		"source_id", source.ID, "dest_id", dest.ID,
		"source_sig", source.Signature, "dest_sig", dest.Signature)

	// Statement order is fixed: accounts first, then the MERGED mark, then
	// the backfill. Even a dirty read mid-transaction could never observe a
	// MERGED realm with unmoved accounts.
	if err := m.accounts.mergeAccountsForRealms(q, source, dest); err != nil {
		return fmt.Errorf("merging accounts of realm %d into %d: %w", source.ID, dest.ID, err)
	}

	_, err := q.Exec(
		"UPDATE tsk_os_account_realms SET db_status = "+m.db.Placeholder(1)+
			", merged_into = "+m.db.Placeholder(2)+
			", realm_signature = "+m.db.Placeholder(3)+
			" WHERE id = "+m.db.Placeholder(4),
		int(RealmMerged), dest.ID, mergedSignature(), source.ID,
	)
	if err != nil {
		return fmt.Errorf("marking realm %d merged: %w", source.ID, err)
	}

	// Backfill whatever identity evidence the destination was missing.
	if _, _, err := m.updateRealm(q, dest, source.Name, source.Addr); err != nil {
		return fmt.Errorf("backfilling realm %d from %d: %w", dest.ID, source.ID, err)
	}
	return nil
}

// updateRealm is the fill-only update shared by UpdateRealm and the merge
// backfill. Caller holds the write lock.
func (m *RealmManager) updateRealm(q database.Queryer, realm *Realm, realmName, realmAddr string) (RealmUpdateStatus, *Realm, error) {
	status := RealmUpdateNoChange

	newName := realm.Name
	if realmName != "" && realm.Name == "" {
		newName = realmName
		status = RealmUpdated
	}
	newAddr := realm.Addr
	if realmAddr != "" && realm.Addr == "" {
		newAddr = realmAddr
		status = RealmUpdated
	}

	if status == RealmUpdateNoChange {
		return status, realm, nil
	}

	sig, err := realmSignature(newAddr, newName, realm.ScopeHost)
	if err != nil {
		return RealmUpdateNoChange, realm, err
	}

	// The signature is only rewritten while the row is still ACTIVE, so a
	// realm merged by a concurrent caller keeps its placeholder signature.
	_, err = q.Exec(
		"UPDATE tsk_os_account_realms SET realm_name = "+m.db.Placeholder(1)+
			", realm_addr = "+m.db.Placeholder(2)+
			", realm_signature = CASE WHEN db_status = "+m.db.Placeholder(3)+
			" THEN "+m.db.Placeholder(4)+" ELSE realm_signature END"+
			" WHERE id = "+m.db.Placeholder(5),
		nullable(newName), nullable(newAddr), int(RealmActive), sig, realm.ID,
	)
	if err != nil {
		return RealmUpdateNoChange, realm, fmt.Errorf(
			"updating realm %d (name=%s, addr=%s): %w", realm.ID, newName, newAddr, err)
	}

	updated, err := m.realmByID(q, realm.ID)
	if err != nil {
		return RealmUpdateNoChange, realm, err
	}
	return status, updated, nil
}

// moveRealm re-scopes a realm to a new host in place, recomputing the
// signature for the new scope. Caller holds the write lock.
func (m *RealmManager) moveRealm(q database.Queryer, source *Realm, destHost *Host) (*Realm, error) {
	sig, err := realmSignature(source.Addr, source.Name, destHost)
	if err != nil {
		return nil, err
	}
	_, err = q.Exec(
		"UPDATE tsk_os_account_realms SET scope_host_id = "+m.db.Placeholder(1)+
			", realm_signature = "+m.db.Placeholder(2)+
			" WHERE id = "+m.db.Placeholder(3),
		destHost.ID, sig, source.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("moving realm %d to host %d: %w", source.ID, destHost.ID, err)
	}
	return m.realmByID(q, source.ID)
}

// windowsRealm resolves a realm by address first, then by name, under the
// host-scoping rule. A name match is rejected when the query supplied an
// address and the matched realm already records a different one: two distinct
// addresses are never silently unified by name alone.
func (m *RealmManager) windowsRealm(q database.Queryer, realmAddr, realmName string, host *Host) (*Realm, error) {
	if realmAddr != "" {
		realm, err := m.realmByAddr(q, realmAddr, host)
		if err != nil {
			return nil, err
		}
		if realm != nil {
			return realm, nil
		}
	}

	if realmName == "" {
		return nil, nil
	}
	realm, err := m.realmByName(q, realmName, host)
	if err != nil {
		return nil, err
	}
	if realm != nil && realmAddr != "" && realm.Addr != "" {
		// The address search above already missed, so this realm's address
		// differs from the query's.
		return nil, nil
	}
	return realm, nil
}

// createRealm inserts a new realm, deciding scope per the caller's request.
// On a uniqueness race it re-queries and returns the concurrent winner.
// Caller holds the write lock.
func (m *RealmManager) createRealm(q database.Queryer, realmAddr, realmName string, host *Host, scope RealmScope) (*Realm, error) {
	var scopeHost *Host
	confidence := ConfidenceKnown

	switch scope {
	case ScopeDomain:
		scopeHost = nil
	case ScopeLocal:
		scopeHost = host
	case ScopeUnknown:
		// A host realistically has at most one real local-account realm.
		// Once that one is known, further realm references from the host are
		// assumed to be domains.
		known, err := m.isHostRealmKnown(q, host, SpecialWindowsRealmAddr)
		if err != nil {
			return nil, err
		}
		if known {
			scopeHost = nil
		} else {
			scopeHost = host
			confidence = ConfidenceInferred
		}
	default:
		return nil, validationErrorf("invalid realm scope %d", scope)
	}

	// Special Windows accounts are never domain accounts; their shared realm
	// is always local to the referring host.
	if realmAddr == SpecialWindowsRealmAddr {
		scopeHost = host
		confidence = ConfidenceKnown
	}

	sig, err := realmSignature(realmAddr, realmName, scopeHost)
	if err != nil {
		return nil, err
	}

	var scopeHostID interface{}
	if scopeHost != nil {
		scopeHostID = scopeHost.ID
	}

	id, err := m.db.InsertReturningID(q,
		"INSERT INTO tsk_os_account_realms (realm_name, realm_addr, realm_signature, scope_host_id, scope_confidence)"+
			" VALUES ("+placeholders(m.db, 5)+")", "id",
		nullable(realmName), nullable(realmAddr), sig, scopeHostID, int(confidence),
	)
	if err != nil {
		if m.db.IsUniqueViolation(err) {
			// A concurrent creator inserted the same identity first.
			m.log.Debugw("realm insert lost race, re-querying",
				"addr", realmAddr, "name", realmName)
			if realm, qerr := m.requeryAfterRace(q, realmAddr, realmName, host); qerr == nil && realm != nil {
				return realm, nil
			}
		}
		return nil, fmt.Errorf("creating realm (addr=%s, name=%s, host=%s): %w",
			realmAddr, realmName, host.Name, err)
	}

	return &Realm{
		ID:              id,
		Name:            realmName,
		Addr:            realmAddr,
		Signature:       sig,
		ScopeHost:       scopeHost,
		ScopeConfidence: confidence,
		DbStatus:        RealmActive,
	}, nil
}

func (m *RealmManager) requeryAfterRace(q database.Queryer, realmAddr, realmName string, host *Host) (*Realm, error) {
	if realmAddr != "" {
		if realm, err := m.realmByAddr(q, realmAddr, host); err != nil || realm != nil {
			return realm, err
		}
	}
	if realmName != "" {
		return m.realmByName(q, realmName, host)
	}
	return nil, nil
}

// realmByAddr finds an ACTIVE realm by address under the host-scoping rule: a
// stored realm matches when its scope host is exactly the given host or when
// it is domain-scoped. Host-specific matches are preferred over domain ones.
func (m *RealmManager) realmByAddr(q database.Queryer, realmAddr string, host *Host) (*Realm, error) {
	return m.realmByKey(q, "realms.realm_addr", realmAddr, host)
}

// realmByName is realmByAddr for the name column.
func (m *RealmManager) realmByName(q database.Queryer, realmName string, host *Host) (*Realm, error) {
	return m.realmByKey(q, "realms.realm_name", realmName, host)
}

func (m *RealmManager) realmByKey(q database.Queryer, column, value string, host *Host) (*Realm, error) {
	query := realmSelect +
		" WHERE LOWER(" + column + ") = LOWER(" + m.db.Placeholder(1) + ")" +
		" AND (realms.scope_host_id = " + m.db.Placeholder(2) + " OR realms.scope_host_id IS NULL)" +
		" AND realms.db_status = " + m.db.Placeholder(3) +
		" ORDER BY (realms.scope_host_id IS NOT NULL) DESC, realms.id"

	rows, err := q.Query(query, value, host.ID, int(RealmActive))
	if err != nil {
		return nil, fmt.Errorf("querying realms by %s = %s: %w", column, value, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	realm, err := scanRealm(rows)
	if err != nil {
		return nil, err
	}
	return realm, rows.Err()
}

func (m *RealmManager) realmByID(q database.Queryer, id int64) (*Realm, error) {
	rows, err := q.Query(realmSelect+" WHERE realms.id = "+m.db.Placeholder(1), id)
	if err != nil {
		return nil, fmt.Errorf("querying realm %d: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("realm id %d: %w", id, ErrNotFound)
	}
	return scanRealm(rows)
}

// isHostRealmKnown reports whether the host already has an ACTIVE host-scoped
// realm with KNOWN confidence. Realms whose address equals excludeAddr do not
// count; the Windows path excludes the shared special-accounts realm, which
// every host carries without it being the host's "real" local realm.
func (m *RealmManager) isHostRealmKnown(q database.Queryer, host *Host, excludeAddr string) (bool, error) {
	query := "SELECT 1 FROM tsk_os_account_realms realms" +
		" WHERE realms.scope_host_id = " + m.db.Placeholder(1) +
		" AND realms.scope_confidence = " + m.db.Placeholder(2) +
		" AND realms.db_status = " + m.db.Placeholder(3)
	args := []interface{}{host.ID, int(ConfidenceKnown), int(RealmActive)}
	if excludeAddr != "" {
		query += " AND (realms.realm_addr IS NULL OR LOWER(realms.realm_addr) <> LOWER(" + m.db.Placeholder(4) + "))"
		args = append(args, excludeAddr)
	}

	var one int
	err := q.QueryRow(query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking known realm for host %s: %w", host.Name, err)
	}
	return true, nil
}

// scanRealm reads one row of a realmSelect query.
func scanRealm(rows *sql.Rows) (*Realm, error) {
	var (
		r          Realm
		name       sql.NullString
		addr       sql.NullString
		hostID     sql.NullInt64
		hostName   sql.NullString
		mergedInto sql.NullInt64
	)
	err := rows.Scan(&r.ID, &name, &addr, &r.Signature, &hostID, &hostName,
		&r.ScopeConfidence, &r.DbStatus, &mergedInto)
	if err != nil {
		return nil, fmt.Errorf("scanning realm row: %w", err)
	}
	r.Name = name.String
	r.Addr = addr.String
	if hostID.Valid {
		r.ScopeHost = &Host{ID: hostID.Int64, Name: hostName.String}
	}
	r.MergedInto = mergedInto.Int64
	return &r, nil
}

// nullable maps "" to SQL NULL so empty identity fields stay NULL in the
// database rather than becoming empty strings.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// placeholders builds "?, ?, ..." or "$1, $2, ..." for n parameters.
func placeholders(db *database.DB, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = db.Placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}
