package casedb

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RealmScope is the caller's assertion about where a realm is visible.
type RealmScope int

const (
	// ScopeUnknown lets the realm manager infer the scope from what it
	// already knows about the referring host.
	ScopeUnknown RealmScope = iota
	// ScopeLocal scopes the realm to the referring host.
	ScopeLocal
	// ScopeDomain makes the realm visible to every host in the case.
	ScopeDomain
)

// ScopeConfidence records whether a realm's scope was asserted by explicit
// evidence or derived by default-case reasoning.
type ScopeConfidence int

const (
	ConfidenceKnown ScopeConfidence = iota
	ConfidenceInferred
)

func (c ScopeConfidence) String() string {
	if c == ConfidenceInferred {
		return "Inferred"
	}
	return "Known"
}

// RealmDbStatus is a realm's lifecycle state. The only transition is
// ACTIVE -> MERGED, exactly once, never reversed.
type RealmDbStatus int

const (
	RealmActive RealmDbStatus = iota
	RealmMerged
)

func (s RealmDbStatus) String() string {
	if s == RealmMerged {
		return "Merged"
	}
	return "Active"
}

// Realm is a domain or per-host scope for OS account identities. A realm is
// identified by its address (e.g. a Windows SID sub-authority) and/or its
// name, conditioned on the scope host: ScopeHost == nil means domain-scoped
// and visible from every host.
//
// Realm values are immutable snapshots of a database row; update operations
// return a fresh value rather than mutating in place.
type Realm struct {
	ID              int64
	Name            string // empty if unknown
	Addr            string // empty if unknown
	Signature       string
	ScopeHost       *Host // nil for domain-scoped realms
	ScopeConfidence ScopeConfidence
	DbStatus        RealmDbStatus
	MergedInto      int64 // destination realm id, 0 unless DbStatus is RealmMerged
}

// realmSignature derives the uniqueness signature for an active realm:
// (addr|name)_(hostID|"DOMAIN"). The signature exists purely so the storage
// layer can enforce row-level uniqueness over independently-nullable columns.
// Name lookups are case-insensitive, so the name key is lower-cased to make
// the unique constraint agree with them.
func realmSignature(addr, name string, scopeHost *Host) (string, error) {
	key := addr
	if key == "" {
		key = strings.ToLower(name)
	}
	if key == "" {
		return "", validationErrorf("realm address and name can't both be empty")
	}

	scope := "DOMAIN"
	if scopeHost != nil {
		scope = fmt.Sprintf("%d", scopeHost.ID)
	}
	return fmt.Sprintf("%s_%s", key, scope), nil
}

// mergedSignature returns a random placeholder signature for a merged row so
// the unique constraint never blocks a new realm from reusing the old one.
func mergedSignature() string {
	return "MERGED-" + uuid.NewString()
}
