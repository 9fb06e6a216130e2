/*
types.go - Core domain types for the general ledger

PURPOSE:
  Defines the vocabulary shared by every ledger component: accounts,
  journal entries and their lines, provenance tags, and the closing state.
  Nothing in this file performs I/O.

KEY CONCEPTS:
  Account:       Node in the chart of accounts (group or postable leaf)
  JournalEntry:  Double-entry record with a Draft -> Posted lifecycle
  JournalLine:   One debit OR one credit against a leaf account
  Source:        Which producer created an entry (manual, invoice, closing...)

AMOUNTS:
  All amounts are decimal.Decimal. Debit and credit are both non-negative;
  exactly one of them is non-zero on a valid line. The sign of a balance
  depends on the account type (see SignedAmount in balance.go).

DATES:
  Entry dates are civil dates stored as UTC midnight. Use Day() to
  normalize any time.Time before comparing against period boundaries.

SEE ALSO:
  - validate.go: Rules a set of lines must satisfy
  - journal.go:  Lifecycle operations on entries
  - tree.go:     Parent/child structure of accounts
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance for the debit/credit balance check.
var Epsilon = decimal.New(1, -4)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AccountID identifies an account. The empty AccountID means "no parent".
type AccountID string

// EntryID identifies a journal entry.
type EntryID string

// =============================================================================
// ACCOUNT
// =============================================================================

// AccountType classifies an account. It never changes after creation.
type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountEquity    AccountType = "equity"
	AccountRevenue   AccountType = "revenue"
	AccountExpense   AccountType = "expense"
)

// Valid reports whether t is one of the five account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountAsset, AccountLiability, AccountEquity, AccountRevenue, AccountExpense:
		return true
	}
	return false
}

// IsDebitNormal reports whether debits increase the account's balance.
func (t AccountType) IsDebitNormal() bool {
	return t == AccountAsset || t == AccountExpense
}

// IsTemporary reports whether the account is zeroed by the year-end close.
func (t AccountType) IsTemporary() bool {
	return t == AccountRevenue || t == AccountExpense
}

// Account is a node of the chart of accounts.
type Account struct {
	ID       AccountID
	Code     string
	Name     string
	Type     AccountType
	ParentID AccountID
	IsGroup  bool
	IsActive bool

	// Balance is a cache of the posted-line aggregate. It can always be
	// rebuilt by Aggregator.RecalculateAll.
	Balance decimal.Decimal

	DeletedAt      *time.Time
	DeletionReason string
	CreatedAt      time.Time
}

// IsTrashed reports whether the account sits in the recycle bin.
func (a Account) IsTrashed() bool {
	return a.DeletedAt != nil
}

// IsPostable reports whether journal lines may reference the account.
func (a Account) IsPostable() bool {
	return !a.IsGroup && a.IsActive && !a.IsTrashed()
}

// =============================================================================
// JOURNAL ENTRY
// =============================================================================

// EntryStatus is the lifecycle state of an entry. Posted is terminal.
type EntryStatus string

const (
	StatusDraft  EntryStatus = "draft"
	StatusPosted EntryStatus = "posted"
)

// Source records which producer created an entry. It is set once at
// creation and drives the edit/delete permissions.
type Source string

const (
	SourceManual              Source = "manual"
	SourceSalesInvoice        Source = "sales_invoice"
	SourcePurchaseInvoice     Source = "purchase_invoice"
	SourceSalesReturn         Source = "sales_return"
	SourceReceipt             Source = "receipt"
	SourcePayment             Source = "payment"
	SourcePayroll             Source = "payroll"
	SourceDepreciation        Source = "depreciation"
	SourceTransfer            Source = "transfer"
	SourceInventoryAdjustment Source = "inventory_adjustment"
	SourceCheque              Source = "cheque"
	SourceClosing             Source = "closing"
	SourceReversal            Source = "reversal"
)

// referencePrefixes maps legacy reference prefixes to sources.
// Order matters: PAYROLL- must be tested before PAY-.
var referencePrefixes = []struct {
	prefix string
	source Source
}{
	{"INV-", SourceSalesInvoice},
	{"PINV-", SourcePurchaseInvoice},
	{"PUR-", SourcePurchaseInvoice},
	{"SR-", SourceSalesReturn},
	{"RCT-", SourceReceipt},
	{"PAYROLL-", SourcePayroll},
	{"PAY-", SourcePayment},
	{"DEP-", SourceDepreciation},
	{"TRN-", SourceTransfer},
	{"ADJ-", SourceInventoryAdjustment},
	{"CHQ-", SourceCheque},
	{"CLOSE-", SourceClosing},
}

// SourceFromReference derives a source from a legacy reference string.
// Unrecognized references are manual.
func SourceFromReference(ref string) Source {
	upper := strings.ToUpper(strings.TrimSpace(ref))
	for _, p := range referencePrefixes {
		if strings.HasPrefix(upper, p.prefix) {
			return p.source
		}
	}
	return SourceManual
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceSalesInvoice, SourcePurchaseInvoice, SourceSalesReturn,
		SourceReceipt, SourcePayment, SourcePayroll, SourceDepreciation, SourceTransfer,
		SourceInventoryAdjustment, SourceCheque, SourceClosing, SourceReversal:
		return true
	}
	return false
}

// IsManual reports whether entries of this source are user-maintained.
func (s Source) IsManual() bool {
	return s == SourceManual
}

// JournalLine is one side of a double-entry record.
type JournalLine struct {
	AccountID    AccountID
	Description  string
	Debit        decimal.Decimal
	Credit       decimal.Decimal
	CostCenterID string
}

// JournalEntry is a dated, balanced set of lines.
type JournalEntry struct {
	ID          EntryID
	Date        time.Time
	Description string
	Reference   string
	Source      Source
	Status      EntryStatus
	Lines       []JournalLine
	ReversalOf  EntryID
	CreatedAt   time.Time
	PostedAt    *time.Time
}

// IsPosted reports whether the entry is in its terminal state.
func (e JournalEntry) IsPosted() bool {
	return e.Status == StatusPosted
}

// Totals returns the sum of debits and the sum of credits.
func (e JournalEntry) Totals() (debit, credit decimal.Decimal) {
	return LineTotals(e.Lines)
}

// LineTotals sums both sides of a set of lines.
func LineTotals(lines []JournalLine) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, l := range lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// PostedLine is a line of a posted entry, flattened with its entry's
// date and source for aggregation queries.
type PostedLine struct {
	EntryID   EntryID
	Date      time.Time
	Source    Source
	AccountID AccountID
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// EntryFilter selects entries in Store.ListEntries. Zero fields match all.
type EntryFilter struct {
	Status *EntryStatus
	Source *Source
	From   *time.Time
	To     *time.Time
}

// =============================================================================
// CLOSING STATE
// =============================================================================

// ClosingState is the persisted state of the fiscal-year closing process.
type ClosingState struct {
	// LastClosedDate is the watermark: no entry may be created, edited or
	// posted on or before it.
	LastClosedDate *time.Time

	// InProgressYear is the fiscal year currently being closed, 0 if none.
	InProgressYear int
}

// IsClosed reports whether date falls on or before the watermark.
func (s ClosingState) IsClosed(date time.Time) bool {
	return s.LastClosedDate != nil && !Day(date).After(*s.LastClosedDate)
}

// Day truncates t to a UTC civil date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a UTC civil date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
