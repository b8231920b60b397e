package casedb

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/cdtdelta/casedb/internal/database"
)

// Host represents one computer/disk image in the case. Hosts anchor
// host-scoped realms and data sources.
type Host struct {
	ID   int64
	Name string
}

// HostManager creates and looks up hosts.
type HostManager struct {
	db  *database.DB
	log *zap.SugaredLogger
}

// NewHost returns the host with the given name, creating it if it does not
// exist. Creation is idempotent under concurrent callers: a unique-constraint
// failure falls back to re-querying the winner.
func (m *HostManager) NewHost(name string) (*Host, error) {
	if name == "" {
		return nil, validationErrorf("a host name is required to create a host")
	}

	m.db.AcquireWriteLock()
	defer m.db.ReleaseWriteLock()

	conn := m.db.Conn()
	if h, err := m.hostByName(conn, name); err != nil {
		return nil, err
	} else if h != nil {
		return h, nil
	}
	return m.createHost(conn, name)
}

// createHost inserts a new host. On a uniqueness race it re-queries and
// returns the concurrent winner. Caller holds the write lock.
func (m *HostManager) createHost(q database.Queryer, name string) (*Host, error) {
	id, err := m.db.InsertReturningID(q,
		"INSERT INTO tsk_hosts (name) VALUES ("+m.db.Placeholder(1)+")", "id", name)
	if err != nil {
		if m.db.IsUniqueViolation(err) {
			// Concurrent creator won the insert; return its row.
			m.log.Debugw("host insert lost race, re-querying", "name", name)
			if h, qerr := m.hostByName(q, name); qerr == nil && h != nil {
				return h, nil
			}
		}
		return nil, fmt.Errorf("creating host %s: %w", name, err)
	}

	return &Host{ID: id, Name: name}, nil
}

// HostByName returns the host with the given name, or nil if none exists.
func (m *HostManager) HostByName(name string) (*Host, error) {
	m.db.AcquireReadLock()
	defer m.db.ReleaseReadLock()
	return m.hostByName(m.db.Conn(), name)
}

// HostByID returns the host with the given row id. The host must exist.
func (m *HostManager) HostByID(id int64) (*Host, error) {
	m.db.AcquireReadLock()
	defer m.db.ReleaseReadLock()

	h := &Host{}
	err := m.db.Conn().QueryRow(
		"SELECT id, name FROM tsk_hosts WHERE id = "+m.db.Placeholder(1), id,
	).Scan(&h.ID, &h.Name)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("host id %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting host %d: %w", id, err)
	}
	return h, nil
}

func (m *HostManager) hostByName(q database.Queryer, name string) (*Host, error) {
	h := &Host{}
	err := q.QueryRow(
		"SELECT id, name FROM tsk_hosts WHERE LOWER(name) = LOWER("+m.db.Placeholder(1)+")", name,
	).Scan(&h.ID, &h.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting host %s: %w", name, err)
	}
	return h, nil
}
