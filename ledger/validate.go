/*
validate.go - Double-entry rules for a candidate set of journal lines

PURPOSE:
  Decides whether a set of lines may become (or remain) a journal entry.
  Pure function over the lines and an account lookup: no I/O, no clock.
  Called on draft creation, on every draft edit, and again at post time
  against the then-current chart of accounts.

RULES (checked in order, first failure wins):
  1. min_lines         At least two lines
  2. unknown_account   Every line references an existing, non-trashed account
  3. inactive_account  ...that is active (skipped with AllowInactive)
  4. group_account     ...that is a leaf, never a group
  5. invalid_amount    debit >= 0, credit >= 0, exactly one side non-zero
  6. unbalanced        |sum(debit) - sum(credit)| <= Epsilon

SEE ALSO:
  - errors.go:  ValidationError and ValidationRule
  - journal.go: Calls ValidateEntry on create, edit and post
  - closing.go: Calls ValidateEntry with AllowInactive
*/
package ledger

import (
	"fmt"
)

// AccountLookup resolves an account by ID. ok is false for unknown IDs.
type AccountLookup func(id AccountID) (Account, bool)

// ValidateOptions relaxes individual rules.
type ValidateOptions struct {
	// AllowInactive accepts deactivated leaf accounts. The year-end close
	// must zero an account even after it was deactivated.
	AllowInactive bool
}

// LookupFromAccounts builds an AccountLookup over a slice.
func LookupFromAccounts(accounts []Account) AccountLookup {
	byID := make(map[AccountID]Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	return func(id AccountID) (Account, bool) {
		a, ok := byID[id]
		return a, ok
	}
}

// ValidateEntry checks lines against the double-entry rules and returns
// the first violation as a *ValidationError, or nil.
func ValidateEntry(lines []JournalLine, lookup AccountLookup, opts ValidateOptions) error {
	if len(lines) < 2 {
		return &ValidationError{
			Rule:   RuleMinLines,
			Reason: fmt.Sprintf("an entry needs at least 2 lines, got %d", len(lines)),
			Line:   -1,
		}
	}

	for i, l := range lines {
		acct, ok := lookup(l.AccountID)
		if !ok || acct.IsTrashed() {
			return &ValidationError{
				Rule:      RuleUnknownAccount,
				Reason:    fmt.Sprintf("account %q does not exist", l.AccountID),
				Line:      i,
				AccountID: l.AccountID,
			}
		}
		if !acct.IsActive && !opts.AllowInactive {
			return &ValidationError{
				Rule:      RuleInactiveAccount,
				Reason:    fmt.Sprintf("account %s %q is inactive", acct.Code, acct.Name),
				Line:      i,
				AccountID: l.AccountID,
			}
		}
		if acct.IsGroup {
			return &ValidationError{
				Rule:      RuleGroupAccount,
				Reason:    fmt.Sprintf("account %s %q is a group and cannot take postings", acct.Code, acct.Name),
				Line:      i,
				AccountID: l.AccountID,
			}
		}
	}

	for i, l := range lines {
		if reason := amountProblem(l); reason != "" {
			return &ValidationError{
				Rule:      RuleInvalidAmount,
				Reason:    reason,
				Line:      i,
				AccountID: l.AccountID,
			}
		}
	}

	debit, credit := LineTotals(lines)
	if debit.Sub(credit).Abs().GreaterThan(Epsilon) {
		return &ValidationError{
			Rule:   RuleUnbalanced,
			Reason: fmt.Sprintf("debits %s do not equal credits %s", debit.StringFixed(2), credit.StringFixed(2)),
			Line:   -1,
		}
	}
	return nil
}

func amountProblem(l JournalLine) string {
	switch {
	case l.Debit.IsNegative() || l.Credit.IsNegative():
		return "amounts must not be negative"
	case l.Debit.IsZero() && l.Credit.IsZero():
		return "line has neither a debit nor a credit"
	case l.Debit.IsPositive() && l.Credit.IsPositive():
		return "line has both a debit and a credit"
	}
	return ""
}
