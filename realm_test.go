package casedb

import "testing"

func TestRealmSignature(t *testing.T) {
	host := &Host{ID: 7, Name: "host1"}

	byAddr, err := realmSignature("S-1-5-21-111", "CORP", nil)
	if err != nil {
		t.Fatal(err)
	}
	if byAddr != "S-1-5-21-111_DOMAIN" {
		t.Errorf("address signature = %q", byAddr)
	}

	hostScoped, err := realmSignature("S-1-5-21-111", "", host)
	if err != nil {
		t.Fatal(err)
	}
	if hostScoped != "S-1-5-21-111_7" {
		t.Errorf("host-scoped signature = %q", hostScoped)
	}

	if _, err := realmSignature("", "", host); !IsValidationError(err) {
		t.Errorf("expected a validation error for an empty identity, got %v", err)
	}
}

// Name lookups are LOWER()-insensitive, so two name spellings that resolve to
// the same realm must also collide on the unique signature. Login names get
// the same treatment in account signatures.
func TestSignatureNameKeyIsCaseInsensitive(t *testing.T) {
	upper, err := realmSignature("", "CORP", nil)
	if err != nil {
		t.Fatal(err)
	}
	lower, err := realmSignature("", "corp", nil)
	if err != nil {
		t.Fatal(err)
	}
	if upper != lower {
		t.Errorf("realm signatures differ by name case: %q vs %q", upper, lower)
	}

	acctUpper, err := accountSignature(3, "", "JDoe")
	if err != nil {
		t.Fatal(err)
	}
	acctLower, err := accountSignature(3, "", "jdoe")
	if err != nil {
		t.Fatal(err)
	}
	if acctUpper != acctLower {
		t.Errorf("account signatures differ by login case: %q vs %q", acctUpper, acctLower)
	}
}
