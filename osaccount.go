package casedb

import (
	"fmt"
	"strings"
)

// OsAccount is an operating-system account recovered from evidence. Every
// account belongs to exactly one realm at a time; a merge re-points the
// survivors and retains the losers as MERGED rows.
type OsAccount struct {
	ID         int64
	LoginName  string // empty if unknown
	FullName   string // empty if unknown
	Addr       string // unique id within the realm, e.g. a full Windows SID
	Signature  string
	RealmID    int64
	DbStatus   RealmDbStatus
	MergedInto int64
}

// accountSignature derives the uniqueness signature for an active account:
// realmID_(addr|loginName). Mirrors realm signatures; exists purely for the
// storage layer's unique constraint.
func accountSignature(realmID int64, addr, loginName string) (string, error) {
	key := addr
	if key == "" {
		key = strings.ToLower(loginName)
	}
	if key == "" {
		return "", validationErrorf("account address and login name can't both be empty")
	}
	return fmt.Sprintf("%d_%s", realmID, key), nil
}

func lower(s string) string { return strings.ToLower(s) }
