package casedb

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRealm(t *testing.T, c *Case, host *Host, sid, name string) *Realm {
	t.Helper()
	r, err := c.Realms().GetOrCreateWindowsRealm(sid, name, host, ScopeDomain)
	require.NoError(t, err)
	return r
}

func TestGetOrCreateWindowsAccountIdempotent(t *testing.T) {
	c := newTestCase(t)
	host := newHost(t, c, "WORKSTATION1")
	realm := newTestRealm(t, c, host, corpUserSID, "CORP")

	a1, err := c.Accounts().GetOrCreateWindowsAccount(corpUserSID, "jdoe", realm)
	require.NoError(t, err)
	assert.Equal(t, corpUserSID, a1.Addr)
	assert.Equal(t, "jdoe", a1.LoginName)
	assert.Equal(t, realm.ID, a1.RealmID)
	assert.Equal(t, RealmActive, a1.DbStatus)

	// Same SID again: same account.
	a2, err := c.Accounts().GetOrCreateWindowsAccount(corpUserSID, "", realm)
	require.NoError(t, err)
	assert.Equal(t, a1.ID, a2.ID)

	// Login-only reference, case-insensitive.
	a3, err := c.Accounts().GetOrCreateWindowsAccount("", "JDoe", realm)
	require.NoError(t, err)
	assert.Equal(t, a1.ID, a3.ID)
}

// Drives the insert path against an identity that already has a row,
// simulating the interleaving where a concurrent writer persists the same
// account between this caller's lookup miss and its insert.
func TestCreateAccountRecoversFromInsertRace(t *testing.T) {
	c := newTestCase(t)
	host := newHost(t, c, "WORKSTATION1")
	realm := newTestRealm(t, c, host, corpUserSID, "CORP")

	a1, err := c.Accounts().GetOrCreateWindowsAccount(corpUserSID, "jdoe", realm)
	require.NoError(t, err)

	c.db.AcquireWriteLock()
	defer c.db.ReleaseWriteLock()
	a2, err := c.Accounts().createAccount(c.db.Conn(), corpUserSID, "jdoe", realm)
	require.NoError(t, err)
	assert.Equal(t, a1.ID, a2.ID, "loser of the insert race resolves to the winner's row")
}

func TestGetOrCreateWindowsAccountValidation(t *testing.T) {
	c := newTestCase(t)
	host := newHost(t, c, "WORKSTATION1")
	realm := newTestRealm(t, c, host, corpUserSID, "CORP")

	_, err := c.Accounts().GetOrCreateWindowsAccount("", "", realm)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	_, err = c.Accounts().GetOrCreateWindowsAccount(corpUserSID, "jdoe", nil)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	var notUser *NotUserSIDError
	_, err = c.Accounts().GetOrCreateWindowsAccount("S-1-5-32-544", "", realm)
	require.ErrorAs(t, err, &notUser)
}

func TestAccountLoginMatchRejectedOnAddrConflict(t *testing.T) {
	c := newTestCase(t)
	host := newHost(t, c, "WORKSTATION1")
	realm := newTestRealm(t, c, host, corpUserSID, "CORP")

	a1, err := c.Accounts().GetOrCreateWindowsAccount(corpUserSID, "jdoe", realm)
	require.NoError(t, err)

	// Same login, different SID: a different account.
	a2, err := c.Accounts().GetOrCreateWindowsAccount(corpDomainSID+"-1002", "jdoe", realm)
	require.NoError(t, err)
	assert.NotEqual(t, a1.ID, a2.ID)
}

func TestAccountByID(t *testing.T) {
	c := newTestCase(t)
	host := newHost(t, c, "WORKSTATION1")
	realm := newTestRealm(t, c, host, corpUserSID, "CORP")

	a, err := c.Accounts().GetOrCreateWindowsAccount(corpUserSID, "jdoe", realm)
	require.NoError(t, err)

	got, err := c.Accounts().AccountByID(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Signature, got.Signature)

	_, err = c.Accounts().AccountByID(99999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMergeAccountsForRealms(t *testing.T) {
	c := newTestCase(t)
	host := newHost(t, c, "WORKSTATION1")

	source, err := c.Realms().GetOrCreateWindowsRealm("", "CORP", host, ScopeLocal)
	require.NoError(t, err)
	dest := newTestRealm(t, c, host, corpUserSID, "")

	// jdoe exists on both sides: same SID, so the pair merges.
	srcJdoe, err := c.Accounts().GetOrCreateWindowsAccount(corpUserSID, "jdoe", source)
	require.NoError(t, err)
	destJdoe, err := c.Accounts().GetOrCreateWindowsAccount(corpUserSID, "", dest)
	require.NoError(t, err)

	// asmith only exists on the source side: re-pointed, not merged.
	srcAsmith, err := c.Accounts().GetOrCreateWindowsAccount("", "asmith", source)
	require.NoError(t, err)

	// bjones exists on both sides by login, but with conflicting SIDs:
	// kept apart.
	srcBjones, err := c.Accounts().GetOrCreateWindowsAccount(corpDomainSID+"-1003", "bjones", source)
	require.NoError(t, err)
	destBjones, err := c.Accounts().GetOrCreateWindowsAccount(corpDomainSID+"-1004", "bjones", dest)
	require.NoError(t, err)

	tx, err := c.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, c.Accounts().MergeAccountsForRealms(source, dest, tx))
	require.NoError(t, tx.Commit())

	// srcJdoe became a MERGED tombstone; destJdoe picked up the login name.
	mergedJdoe, err := c.Accounts().AccountByID(srcJdoe.ID)
	require.NoError(t, err)
	assert.Equal(t, RealmMerged, mergedJdoe.DbStatus)
	assert.Equal(t, destJdoe.ID, mergedJdoe.MergedInto)
	assert.True(t, strings.HasPrefix(mergedJdoe.Signature, "MERGED-"))

	survivor, err := c.Accounts().AccountByID(destJdoe.ID)
	require.NoError(t, err)
	assert.Equal(t, RealmActive, survivor.DbStatus)
	assert.Equal(t, "jdoe", survivor.LoginName, "login backfilled from the merged account")

	// asmith moved realms with a recomputed signature.
	movedAsmith, err := c.Accounts().AccountByID(srcAsmith.ID)
	require.NoError(t, err)
	assert.Equal(t, dest.ID, movedAsmith.RealmID)
	assert.Equal(t, RealmActive, movedAsmith.DbStatus)

	// Both bjones survive as distinct accounts in the destination realm.
	b1, err := c.Accounts().AccountByID(srcBjones.ID)
	require.NoError(t, err)
	b2, err := c.Accounts().AccountByID(destBjones.ID)
	require.NoError(t, err)
	assert.Equal(t, RealmActive, b1.DbStatus)
	assert.Equal(t, RealmActive, b2.DbStatus)
	assert.Equal(t, dest.ID, b1.RealmID)
	assert.Equal(t, dest.ID, b2.RealmID)

	// Idempotent: a second merge pass finds nothing ACTIVE on the source.
	tx2, err := c.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, c.Accounts().MergeAccountsForRealms(source, dest, tx2))
	require.NoError(t, tx2.Commit())

	accts, err := c.Accounts().AccountsByRealm(dest)
	require.NoError(t, err)
	assert.Len(t, accts, 4, "jdoe survivor, asmith, and both bjones")
}
