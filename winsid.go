package casedb

import (
	"strconv"
	"strings"
)

// SpecialWindowsRealmAddr is the shared realm address for every host's
// special Windows accounts (SYSTEM, LOCAL SERVICE, ...). Special accounts are
// never domain accounts; realms with this address are always host-scoped.
const SpecialWindowsRealmAddr = "SPECIAL_WINDOWS_ACCOUNTS"

// backupSIDPostfix marks the SID of a backed-up account, e.g. "S-1-5-18.bak".
// It is stripped before any classification.
const backupSIDPostfix = ".bak"

// Special Windows account SIDs. These are handled outside normal domain/local
// scoping: all of them map to the shared special-accounts realm.
var specialSIDs = map[string]bool{
	"S-1-5-18": true, // Local System
	"S-1-5-19": true, // Local Service
	"S-1-5-20": true, // Network Service
}

// SID prefixes for Windows virtual accounts, treated as special.
var specialSIDPrefixes = []string{
	"S-1-5-80", // Virtual Service accounts
	"S-1-5-82", // AppPoolIdentity virtual accounts
	"S-1-5-83", // Virtual Machine virtual accounts
	"S-1-5-90", // Windows Manager virtual accounts
	"S-1-5-94", // WinRM virtual accounts
	"S-1-5-96", // Font Driver Host virtual accounts
}

// Sub-authorities in this range under S-1-5 are reserved for service and
// virtual accounts, all special.
const (
	specialSubAuthMin = 80
	specialSubAuthMax = 111
)

// Windows uses SIDs for groups as well as users. Group SIDs never become OS
// accounts, so identity resolution rejects them up front.
var groupSIDs = map[string]bool{
	"S-1-0-0": true, // Null
	"S-1-1-0": true, // Everyone
	"S-1-2-0": true, // Local
	"S-1-2-1": true, // Console Logon
	"S-1-3-1": true, // Creator
	"S-1-3-4": true, // Owner rights
	"S-1-5-1": true, // Dialup
	"S-1-5-2": true, // Network
	"S-1-5-3": true, // Batch
	"S-1-5-4": true, // Interactive
	"S-1-5-6": true, // Service
	"S-1-5-7": true, // Anonymous

	"S-1-5-9":  true, // Enterprise Domain Controllers
	"S-1-5-11": true, // Authenticated Users
	"S-1-5-12": true, // Restricted Code
	"S-1-5-13": true, // Terminal Server Users
	"S-1-5-14": true, // Remote Interactive Logon
	"S-1-5-15": true, // This Organization

	"S-1-5-80-0": true, // All Services
	"S-1-5-83-0": true, // NT Virtual Machine\Virtual Machines
	"S-1-5-90-0": true, // Windows Manager Group
}

// SID prefixes that always denote groups.
var groupSIDPrefixes = []string{
	"S-1-5-32", // Builtin
	"S-1-5-87", // Task ID
}

// Domain-relative RIDs that denote well-known groups (Domain Admins, Domain
// Users, ...). A SID under the S-1-5 authority ending in one of these is a
// group SID.
var domainGroupRIDSuffixes = []string{
	"-498", "-512", "-513", "-514", "-515", "-516", "-517", "-518",
	"-519", "-520", "-521", "-522", "-526", "-527", "-533", "-571", "-572",
}

const windowsDomainSIDPrefix = "S-1-5"

// minimum "-"-separated segments for a regular account SID: S-1-x-y-z
const minSIDSegments = 5

// stripBackupPostfix removes the ".bak" postfix a backed-up account SID
// carries, so backup SIDs classify like their live counterparts.
func stripBackupPostfix(sid string) string {
	return strings.TrimSuffix(sid, backupSIDPostfix)
}

// isWindowsSpecialSID reports whether sid denotes a special Windows account.
func isWindowsSpecialSID(sid string) bool {
	sid = stripBackupPostfix(sid)
	if specialSIDs[sid] {
		return true
	}
	for _, prefix := range specialSIDPrefixes {
		if strings.HasPrefix(sid, prefix) {
			return true
		}
	}
	if rest, ok := strings.CutPrefix(sid, windowsDomainSIDPrefix+"-"); ok {
		subAuthStr, _, _ := strings.Cut(rest, "-")
		if subAuth, err := strconv.Atoi(subAuthStr); err == nil &&
			subAuth >= specialSubAuthMin && subAuth <= specialSubAuthMax {
			return true
		}
	}
	return false
}

// isWindowsGroupSID reports whether sid denotes a group rather than a user.
func isWindowsGroupSID(sid string) bool {
	sid = stripBackupPostfix(sid)
	if groupSIDs[sid] {
		return true
	}
	for _, prefix := range groupSIDPrefixes {
		if strings.HasPrefix(sid, prefix) {
			return true
		}
	}
	if strings.HasPrefix(sid, windowsDomainSIDPrefix) {
		for _, suffix := range domainGroupRIDSuffixes {
			if strings.HasSuffix(sid, suffix) {
				return true
			}
		}
	}
	return false
}

// windowsRealmAddr derives the realm address for a user/group SID.
//
// Special account SIDs map to the shared SpecialWindowsRealmAddr. Regular
// SIDs are truncated to the domain sub-authority: everything before the final
// "-RID" segment. A SID with fewer than minSIDSegments segments is malformed.
func windowsRealmAddr(sid string) (string, error) {
	sid = stripBackupPostfix(sid)
	// Realms copied between cases may carry the special address itself in
	// place of a SID.
	if isWindowsSpecialSID(sid) || sid == SpecialWindowsRealmAddr {
		return SpecialWindowsRealmAddr, nil
	}

	if strings.Count(sid, "-") < minSIDSegments-1 {
		return "", validationErrorf("invalid SID %s for a host/domain", sid)
	}
	return sid[:strings.LastIndex(sid, "-")], nil
}

// validateUserSID rejects SIDs that cannot belong to a user account.
func validateUserSID(sid string) error {
	if isWindowsGroupSID(sid) {
		return &NotUserSIDError{SID: sid}
	}
	return nil
}
