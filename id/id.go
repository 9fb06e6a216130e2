// Package id generates and parses the TypeID-based identifiers used for
// accounts, journal entries, budgets and operational documents.
//
// IDs are K-sortable (UUIDv7-based), globally unique and URL-safe in the
// format "prefix_suffix". The ledger packages carry them as plain strings so
// that stores and wire formats never depend on this package.
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

const (
	PrefixAccount  Prefix = "acct" // Chart of accounts node
	PrefixEntry    Prefix = "je"   // Journal entry
	PrefixBudget   Prefix = "bdg"  // Monthly budget
	PrefixDocument Prefix = "doc"  // Operational sales document
)

// New generates a new identifier with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) string {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// Parse validates s as a TypeID and returns its prefix.
func Parse(s string) (Prefix, error) {
	if s == "" {
		return "", fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("id: parse %q: %w", s, err)
	}
	return Prefix(tid.Prefix()), nil
}

// ParseWithPrefix validates s and checks that its prefix matches expected.
func ParseWithPrefix(s string, expected Prefix) error {
	got, err := Parse(s)
	if err != nil {
		return err
	}
	if got != expected {
		return fmt.Errorf("id: expected prefix %q, got %q", expected, got)
	}
	return nil
}

// NewAccountID generates a new account ID.
func NewAccountID() string { return New(PrefixAccount) }

// NewEntryID generates a new journal entry ID.
func NewEntryID() string { return New(PrefixEntry) }

// NewBudgetID generates a new budget ID.
func NewBudgetID() string { return New(PrefixBudget) }

// NewDocumentID generates a new sales document ID.
func NewDocumentID() string { return New(PrefixDocument) }
