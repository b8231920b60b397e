package casedb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdtdelta/casedb/internal/query"
)

func querySimple(t *testing.T, field, value string) *query.Predicate {
	t.Helper()
	p := query.Simple(field, query.Equal, value)
	require.NotNil(t, p, "predicate field %q rejected", field)
	return p
}

func newTestCase(t *testing.T) *Case {
	t.Helper()
	c, err := CreateCase("sqlite", filepath.Join(t.TempDir(), "case.db"))
	require.NoError(t, err, "failed to create test case")
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCaseUUIDStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "case.db")

	c, err := CreateCase("sqlite", path)
	require.NoError(t, err)
	uuid1, err := c.UUID()
	require.NoError(t, err)
	require.NotEmpty(t, uuid1)
	require.NoError(t, c.Close())

	c2, err := OpenCase("sqlite", path)
	require.NoError(t, err)
	defer c2.Close()

	uuid2, err := c2.UUID()
	require.NoError(t, err)
	assert.Equal(t, uuid1, uuid2, "case uuid must survive reopen")
}

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImportAccountsCSV(t *testing.T) {
	c := newTestCase(t)

	path := writeTempCSV(t, `host,login,sid,realm_name,scope
WORKSTATION1,jdoe,S-1-5-21-1068982347-2694400559-2308204523-1001,CORP,domain
WORKSTATION1,asmith,S-1-5-21-1068982347-2694400559-2308204523-1002,CORP,domain
WORKSTATION2,jdoe,S-1-5-21-1068982347-2694400559-2308204523-1001,CORP,domain
WORKSTATION1,,S-1-5-32-544,,local
WORKSTATION1,localadmin,,WORKSTATION1,local
`)

	summary, err := c.ImportAccountsCSV(path)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Hosts)
	assert.Equal(t, 2, summary.Realms, "CORP plus the local realm")
	assert.Equal(t, 3, summary.Accounts, "jdoe, asmith, localadmin")
	assert.Equal(t, 1, summary.Skipped, "the Builtin Administrators group row")
	require.Len(t, summary.RowErrors, 1)
	assert.Equal(t, 5, summary.RowErrors[0].Line)

	// Re-importing the same file must not create anything new.
	again, err := c.ImportAccountsCSV(path)
	require.NoError(t, err)
	assert.Equal(t, summary.Realms, again.Realms)
	assert.Equal(t, summary.Accounts, again.Accounts)
}

func TestImportAccountsCSVBadHeader(t *testing.T) {
	c := newTestCase(t)

	path := writeTempCSV(t, "host,user,sid\nWORKSTATION1,jdoe,S-1-5-21-1-2-3-500\n")
	_, err := c.ImportAccountsCSV(path)
	require.Error(t, err)
}

func TestFindOsAccounts(t *testing.T) {
	c := newTestCase(t)

	path := writeTempCSV(t, `host,login,sid,realm_name,scope
WORKSTATION1,jdoe,S-1-5-21-1068982347-2694400559-2308204523-1001,CORP,domain
WORKSTATION1,asmith,S-1-5-21-1068982347-2694400559-2308204523-1002,CORP,domain
WORKSTATION1,localadmin,,WORKSTATION1,local
`)
	_, err := c.ImportAccountsCSV(path)
	require.NoError(t, err)

	q := c.NewAccountQuery(0)
	q.AddPredicate(querySimple(t, "realm_name", "CORP"))
	q.AddPredicate(querySimple(t, "db_status", "0"))
	require.NoError(t, q.OrderBy("login_name"))

	hits, err := c.FindOsAccounts(q)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "asmith", hits[0].Account.LoginName)
	assert.Equal(t, "jdoe", hits[1].Account.LoginName)
	assert.Equal(t, "CORP", hits[0].RealmName)
	assert.Equal(t, "S-1-5-21-1068982347-2694400559-2308204523", hits[0].RealmAddr)

	n, err := c.CountOsAccounts(q)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
