/*
store.go - Persistence interface for the chart, the journal and closing state

PURPOSE:
  Defines the interface between the ledger logic and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.
  Every method takes a context and every implementation must be safe for
  concurrent use.

KEY INTERFACES:
  Store:    Accounts, entries with their lines, closing state
  TxStore:  Store plus WithTx for atomic multi-step operations

POSTED ENTRIES ARE IMMUTABLE:
  The Store has no method that changes a posted entry:
  - ReplaceDraft and DeleteDraft fail with ErrNotDraft on posted entries
  - MarkPosted is a conditional draft -> posted transition; the loser of a
    race gets ErrAlreadyPosted
  SQL implementations back this with triggers so that even ad-hoc SQL
  cannot rewrite a posted row.

UNIQUENESS:
  Account codes are unique across live AND trashed accounts, so a restored
  account can never collide. CreateAccount returns ErrDuplicateCode.

CLOSING LOCK:
  AcquireClosingLock is a conditional write that succeeds for exactly one
  caller; it is taken OUTSIDE the closing transaction so that concurrent
  Post transactions observe it. LockClosingState is called first inside the
  closing transaction and serializes it against in-flight posts.

IMPLEMENTATIONS:
  - ledger/store/memory.go:     In-memory for tests and demos
  - store/sqlite/sqlite.go:     Embedded SQLite
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - journal.go: Lifecycle operations built on Store
  - closing.go: Uses the closing lock and watermark
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Interface for ledger persistence
// =============================================================================

// Store handles persistence of accounts, entries and closing state.
type Store interface {
	// CreateAccount inserts a new account. Returns ErrDuplicateCode if the
	// code is taken by any account, live or trashed.
	CreateAccount(ctx context.Context, a Account) error

	// UpdateAccount overwrites the structural fields of an account (code,
	// name, parent, group flag, active flag, trash fields). The cached
	// balance is not touched. Returns ErrTypeChange if a.Type differs from
	// the stored type.
	UpdateAccount(ctx context.Context, a Account) error

	// DeleteAccount permanently removes an account. Only trashed accounts
	// without journal lines may be removed.
	DeleteAccount(ctx context.Context, id AccountID) error

	// GetAccount returns ErrAccountNotFound for unknown IDs.
	GetAccount(ctx context.Context, id AccountID) (Account, error)

	// ListAccounts returns accounts ordered by code.
	ListAccounts(ctx context.Context, includeTrashed bool) ([]Account, error)

	// AccountHasLines reports whether any journal line, draft or posted,
	// references the account.
	AccountHasLines(ctx context.Context, id AccountID) (bool, error)

	// AddBalanceDeltas adds each delta to the account's cached balance.
	AddBalanceDeltas(ctx context.Context, deltas map[AccountID]decimal.Decimal) error

	// SetBalances overwrites cached balances.
	SetBalances(ctx context.Context, balances map[AccountID]decimal.Decimal) error

	// InsertEntry persists a new entry with its lines.
	InsertEntry(ctx context.Context, e JournalEntry) error

	// GetEntry returns a consistent snapshot of an entry and its lines.
	GetEntry(ctx context.Context, id EntryID) (JournalEntry, error)

	// ReplaceDraft atomically replaces header fields and lines of a draft.
	ReplaceDraft(ctx context.Context, e JournalEntry) error

	// DeleteDraft removes a draft and its lines.
	DeleteDraft(ctx context.Context, id EntryID) error

	// MarkPosted transitions a draft to posted. Returns ErrAlreadyPosted if
	// the entry is no longer a draft.
	MarkPosted(ctx context.Context, id EntryID, postedAt time.Time) error

	// ListEntries returns matching entries with lines, ordered by date.
	ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error)

	// PostedLines returns lines of posted entries dated within the optional
	// inclusive bounds.
	PostedLines(ctx context.Context, from, to *time.Time) ([]PostedLine, error)

	// ClosingState returns the watermark and the in-progress lock.
	ClosingState(ctx context.Context) (ClosingState, error)

	// LockClosingState is ClosingState with an exclusive row lock where the
	// backend supports one. Only meaningful inside WithTx.
	LockClosingState(ctx context.Context) (ClosingState, error)

	// SetLastClosedDate moves the watermark.
	SetLastClosedDate(ctx context.Context, date time.Time) error

	// AcquireClosingLock marks year as being closed. Returns
	// ErrClosingInProgress if any closing already holds the lock.
	AcquireClosingLock(ctx context.Context, year int) error

	// ReleaseClosingLock clears the lock if year holds it.
	ReleaseClosingLock(ctx context.Context, year int) error
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
