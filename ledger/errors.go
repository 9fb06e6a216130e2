/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is on the sentinels and errors.As on the
  structured types, which carry the context needed for a useful message.

ERROR CATEGORIES:
  1. Validation errors  - A set of lines breaks a double-entry rule
  2. Posting errors     - Draft -> Posted transition refused
  3. Edit errors        - Draft edit/delete refused
  4. Closing errors     - Fiscal-year close refused
  5. Structural errors  - Chart of accounts would become malformed
  6. Store errors       - Missing rows, uniqueness, lost races

USAGE:
    if errors.Is(err, ledger.ErrAlreadyPosted) {
        // idempotent caller: nothing to do
    }

    var ve *ledger.ValidationError
    if errors.As(err, &ve) {
        log.Printf("line %d: %s", ve.Line, ve.Reason)
    }

SEE ALSO:
  - validate.go: Produces ValidationError
  - journal.go:  Produces PostingError and EditError
  - closing.go:  Produces ClosingError
  - chart.go:    Produces StructuralViolation
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of every ValidationError.
	ErrValidation = errors.New("journal entry validation failed")

	// ErrAccountNotFound is returned when a referenced account doesn't exist
	// or sits in the recycle bin.
	ErrAccountNotFound = errors.New("account not found")

	// ErrEntryNotFound is returned when a referenced entry doesn't exist.
	ErrEntryNotFound = errors.New("journal entry not found")

	// ErrAlreadyPosted is returned by a second post of the same entry.
	ErrAlreadyPosted = errors.New("journal entry already posted")

	// ErrNotDraft is returned when a draft-only operation targets a posted entry.
	ErrNotDraft = errors.New("journal entry is not a draft")

	// ErrNotPosted is returned when reversing an entry that was never posted.
	ErrNotPosted = errors.New("journal entry is not posted")

	// ErrAlreadyReversed is returned when reversing an entry a second time.
	ErrAlreadyReversed = errors.New("journal entry already reversed")

	// ErrMachineGenerated is returned when editing or deleting an entry that
	// a source document owns.
	ErrMachineGenerated = errors.New("journal entry is owned by a source document")

	// ErrPeriodClosed is returned for dates on or before the closing watermark.
	ErrPeriodClosed = errors.New("period is closed")

	// ErrClosingInProgress is returned while a fiscal-year close holds the lock.
	ErrClosingInProgress = errors.New("fiscal year closing in progress")

	// ErrYearAlreadyClosed is returned when closing a year twice.
	ErrYearAlreadyClosed = errors.New("fiscal year already closed")

	// ErrInvalidClosingDate is returned when the closing date lies outside
	// the fiscal year being closed or precedes posted activity in that year.
	ErrInvalidClosingDate = errors.New("invalid closing date")

	// ErrMissingAccountMapping is returned when a system account (retained
	// earnings) or an account referenced by a line cannot be resolved.
	ErrMissingAccountMapping = errors.New("missing account mapping")

	// ErrDraftsInPeriod is returned when closing a year that still has drafts.
	ErrDraftsInPeriod = errors.New("draft entries remain in period")

	// ErrNothingToClose is returned when no revenue or expense balance exists.
	ErrNothingToClose = errors.New("no revenue or expense balances to close")

	// ErrDuplicateCode is returned when an account code is already taken.
	ErrDuplicateCode = errors.New("account code already exists")

	// ErrTypeChange is returned when an update would change an account's type.
	ErrTypeChange = errors.New("account type cannot change")

	// ErrNonZeroBalance is returned when trashing an account with a balance.
	ErrNonZeroBalance = errors.New("account balance is not zero")

	// ErrAccountInUse is returned when converting a referenced leaf to a group.
	ErrAccountInUse = errors.New("account is referenced by journal lines")

	// ErrStructure is the root of every StructuralViolation.
	ErrStructure = errors.New("chart of accounts structure violation")

	// ErrConcurrentModification is returned when a conditional write loses a race.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidInput is returned for malformed arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationRule names the double-entry rule a set of lines broke.
type ValidationRule string

const (
	RuleMinLines        ValidationRule = "min_lines"
	RuleUnknownAccount  ValidationRule = "unknown_account"
	RuleInactiveAccount ValidationRule = "inactive_account"
	RuleGroupAccount    ValidationRule = "group_account"
	RuleInvalidAmount   ValidationRule = "invalid_amount"
	RuleUnbalanced      ValidationRule = "unbalanced"
)

// ValidationError describes the first rule a candidate entry violated.
// Line is the zero-based line index, or -1 when the rule is entry-wide.
type ValidationError struct {
	Rule      ValidationRule
	Reason    string
	Line      int
	AccountID AccountID
}

func (e *ValidationError) Error() string {
	if e.Line >= 0 {
		return fmt.Sprintf("%s: line %d: %s", e.Rule, e.Line+1, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Rule, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// =============================================================================
// LIFECYCLE ERRORS
// =============================================================================

// PostingError wraps the reason a Draft -> Posted transition was refused.
type PostingError struct {
	EntryID EntryID
	Err     error
}

func (e *PostingError) Error() string {
	return fmt.Sprintf("post %s: %v", e.EntryID, e.Err)
}

func (e *PostingError) Unwrap() error {
	return e.Err
}

// EditError wraps the reason a draft edit or delete was refused.
type EditError struct {
	EntryID EntryID
	Err     error
}

func (e *EditError) Error() string {
	return fmt.Sprintf("edit %s: %v", e.EntryID, e.Err)
}

func (e *EditError) Unwrap() error {
	return e.Err
}

// ClosingError wraps the reason a fiscal-year close was refused or aborted.
type ClosingError struct {
	Year int
	Err  error
}

func (e *ClosingError) Error() string {
	return fmt.Sprintf("close fiscal year %d: %v", e.Year, e.Err)
}

func (e *ClosingError) Unwrap() error {
	return e.Err
}

// =============================================================================
// STRUCTURAL ERRORS
// =============================================================================

// ViolationKind names a chart-of-accounts structural problem.
type ViolationKind string

const (
	ViolationCycle            ViolationKind = "cycle"
	ViolationDuplicateCode    ViolationKind = "duplicate_code"
	ViolationLeafWithChild    ViolationKind = "leaf_with_children"
	ViolationParentNotGroup   ViolationKind = "parent_not_group"
	ViolationTypeMismatch     ViolationKind = "type_mismatch"
	ViolationGroupHasChildren ViolationKind = "group_has_children"
)

// StructuralViolation describes one way the account tree is (or would
// become) malformed.
type StructuralViolation struct {
	Kind      ViolationKind
	AccountID AccountID
	Code      string
	Detail    string
}

func (e *StructuralViolation) Error() string {
	return fmt.Sprintf("%s: account %s (%s): %s", e.Kind, e.AccountID, e.Code, e.Detail)
}

func (e *StructuralViolation) Unwrap() error {
	return ErrStructure
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidClosingDate) ||
		errors.Is(err, ErrStructure) ||
		errors.Is(err, ErrTypeChange)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrEntryNotFound)
}

// IsConflict returns true if the error reflects the current state of the
// ledger rather than the request itself.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyPosted) ||
		errors.Is(err, ErrNotDraft) ||
		errors.Is(err, ErrNotPosted) ||
		errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrMachineGenerated) ||
		errors.Is(err, ErrPeriodClosed) ||
		errors.Is(err, ErrClosingInProgress) ||
		errors.Is(err, ErrYearAlreadyClosed) ||
		errors.Is(err, ErrDraftsInPeriod) ||
		errors.Is(err, ErrNothingToClose) ||
		errors.Is(err, ErrMissingAccountMapping) ||
		errors.Is(err, ErrDuplicateCode) ||
		errors.Is(err, ErrNonZeroBalance) ||
		errors.Is(err, ErrAccountInUse) ||
		errors.Is(err, ErrConcurrentModification)
}
