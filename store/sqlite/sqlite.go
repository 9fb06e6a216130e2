/*
Package sqlite provides a SQLite-backed implementation of the ledger and
budget storage interfaces.

PURPOSE:
  Implements ledger.TxStore, budget.Store and budget.DocumentStore on an
  embedded SQLite database. It is the default driver of the server and the
  store the integration tests run against (":memory:").

IMMUTABILITY ENFORCEMENT:
  Posted entries are protected twice:
  - Every write on journal_entries / journal_lines is conditional on
    status = 'draft'
  - Triggers abort any UPDATE or DELETE of a posted entry and any change
    to its lines, so ad-hoc SQL cannot rewrite history either

KEY TABLES:
  accounts:              Chart of accounts, code UNIQUE across live and trash
  journal_entries:       Entry headers with status and source
  journal_lines:         Ordered lines (line_no) of each entry
  closing_state:         Single row: watermark + in-progress closing year
  budgets, budget_items: Monthly budgets, replaced wholesale
  sales_documents, sales_document_items: Operational documents for actuals

AMOUNTS:
  Decimals are stored as TEXT and parsed with shopspring/decimal, so no
  amount ever passes through a float.

CONCURRENCY:
  SQLite allows one writer. Store serialises WithTx (and every write, which
  runs in its own transaction) with a sync.RWMutex; plain reads take the
  read lock. Inside a transaction every query goes through the *sql.Tx, so
  nothing re-enters the mutex.

WAL MODE:
  File databases are opened with WAL so readers do not block the writer.
  ":memory:" databases are pinned to a single connection, since each new
  connection would otherwise see its own empty database.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  journal := ledger.NewJournal(store)

SEE ALSO:
  - ledger/store.go:          Interface definitions
  - ledger/store/memory.go:   In-memory implementation
  - store/postgres:           Same contract on PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/budget"
	"github.com/warp/ledger-engine/ledger"
)

// Store implements the ledger and budget storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ ledger.TxStore       = (*Store)(nil)
	_ ledger.Store         = (*conn)(nil)
	_ budget.Store         = (*Store)(nil)
	_ budget.DocumentStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Chart of accounts
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('asset','liability','equity','revenue','expense')),
		parent_id TEXT NOT NULL DEFAULT '',
		is_group INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		balance TEXT NOT NULL DEFAULT '0',
		deleted_at TEXT,
		deletion_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_parent
		ON accounts(parent_id);

	-- Journal entries
	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('draft','posted')),
		reversal_of TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		posted_at TEXT
	);

	-- Hot path: posted lines by date for balances and closing
	CREATE INDEX IF NOT EXISTS idx_entries_status_date
		ON journal_entries(status, date);
	CREATE INDEX IF NOT EXISTS idx_entries_source
		ON journal_entries(source);

	CREATE TABLE IF NOT EXISTS journal_lines (
		entry_id TEXT NOT NULL REFERENCES journal_entries(id) ON DELETE CASCADE,
		line_no INTEGER NOT NULL,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		description TEXT NOT NULL DEFAULT '',
		debit TEXT NOT NULL DEFAULT '0',
		credit TEXT NOT NULL DEFAULT '0',
		cost_center_id TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (entry_id, line_no)
	);

	CREATE INDEX IF NOT EXISTS idx_lines_account
		ON journal_lines(account_id);

	-- Closing watermark and logical lock (single row)
	CREATE TABLE IF NOT EXISTS closing_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_closed_date TEXT,
		in_progress_year INTEGER NOT NULL DEFAULT 0
	);
	INSERT OR IGNORE INTO closing_state (id) VALUES (1);

	-- Budgets
	CREATE TABLE IF NOT EXISTS budgets (
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		id TEXT NOT NULL UNIQUE,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (year, month)
	);

	CREATE TABLE IF NOT EXISTS budget_items (
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		position INTEGER NOT NULL,
		type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		target_name TEXT NOT NULL DEFAULT '',
		planned TEXT NOT NULL,
		PRIMARY KEY (year, month, position),
		FOREIGN KEY (year, month) REFERENCES budgets(year, month) ON DELETE CASCADE
	);

	-- Sales documents (operational boundary for budget actuals)
	CREATE TABLE IF NOT EXISTS sales_documents (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		customer_id TEXT NOT NULL DEFAULT '',
		salesperson_id TEXT NOT NULL DEFAULT '',
		total TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_documents_date
		ON sales_documents(date);

	CREATE TABLE IF NOT EXISTS sales_document_items (
		document_id TEXT NOT NULL REFERENCES sales_documents(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		PRIMARY KEY (document_id, position)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(triggers)
	return err
}

// triggers back the draft-only writes so that posted history cannot be
// rewritten by any statement.
const triggers = `
	-- CRITICAL: posted entries are immutable
	CREATE TRIGGER IF NOT EXISTS trg_posted_entry_no_update
	BEFORE UPDATE ON journal_entries
	WHEN OLD.status = 'posted'
	BEGIN
		SELECT RAISE(ABORT, 'posted journal entry is immutable');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_posted_entry_no_delete
	BEFORE DELETE ON journal_entries
	WHEN OLD.status = 'posted'
	BEGIN
		SELECT RAISE(ABORT, 'posted journal entry is immutable');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_posted_lines_no_update
	BEFORE UPDATE ON journal_lines
	WHEN (SELECT status FROM journal_entries WHERE id = OLD.entry_id) = 'posted'
	BEGIN
		SELECT RAISE(ABORT, 'lines of a posted journal entry are immutable');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_posted_lines_no_delete
	BEFORE DELETE ON journal_lines
	WHEN (SELECT status FROM journal_entries WHERE id = OLD.entry_id) = 'posted'
	BEGIN
		SELECT RAISE(ABORT, 'lines of a posted journal entry are immutable');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_posted_lines_no_insert
	BEFORE INSERT ON journal_lines
	WHEN (SELECT status FROM journal_entries WHERE id = NEW.entry_id) = 'posted'
	BEGIN
		SELECT RAISE(ABORT, 'lines of a posted journal entry are immutable');
	END;
`

// =============================================================================
// TRANSACTIONS
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements ledger.Store over a querier. It never touches the mutex.
type conn struct {
	q querier
}

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	return s.withTx(ctx, func(c *conn) error { return fn(c) })
}

func (s *Store) withTx(ctx context.Context, fn func(c *conn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

func (s *Store) read(fn func(c *conn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&conn{q: s.db})
}

// Reset drops all data and restores an empty closing state. Used by the
// demo scenario loader.
func (s *Store) Reset(ctx context.Context) error {
	return s.withTx(ctx, func(c *conn) error {
		for _, stmt := range []string{
			"DROP TRIGGER IF EXISTS trg_posted_entry_no_delete",
			"DROP TRIGGER IF EXISTS trg_posted_lines_no_delete",
			"DELETE FROM journal_lines",
			"DELETE FROM journal_entries",
			"DELETE FROM accounts",
			"DELETE FROM budget_items",
			"DELETE FROM budgets",
			"DELETE FROM sales_document_items",
			"DELETE FROM sales_documents",
			"UPDATE closing_state SET last_closed_date = NULL, in_progress_year = 0",
			triggers,
		} {
			if _, err := c.q.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
		}
		return nil
	})
}

// =============================================================================
// LEDGER STORE - delegating methods; writes run in their own transaction
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) error {
	return s.withTx(ctx, func(c *conn) error { return c.CreateAccount(ctx, a) })
}

func (s *Store) UpdateAccount(ctx context.Context, a ledger.Account) error {
	return s.withTx(ctx, func(c *conn) error { return c.UpdateAccount(ctx, a) })
}

func (s *Store) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	return s.withTx(ctx, func(c *conn) error { return c.DeleteAccount(ctx, id) })
}

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (a ledger.Account, err error) {
	err = s.read(func(c *conn) error {
		a, err = c.GetAccount(ctx, id)
		return err
	})
	return a, err
}

func (s *Store) ListAccounts(ctx context.Context, includeTrashed bool) (out []ledger.Account, err error) {
	err = s.read(func(c *conn) error {
		out, err = c.ListAccounts(ctx, includeTrashed)
		return err
	})
	return out, err
}

func (s *Store) AccountHasLines(ctx context.Context, id ledger.AccountID) (used bool, err error) {
	err = s.read(func(c *conn) error {
		used, err = c.AccountHasLines(ctx, id)
		return err
	})
	return used, err
}

func (s *Store) AddBalanceDeltas(ctx context.Context, deltas map[ledger.AccountID]decimal.Decimal) error {
	return s.withTx(ctx, func(c *conn) error { return c.AddBalanceDeltas(ctx, deltas) })
}

func (s *Store) SetBalances(ctx context.Context, balances map[ledger.AccountID]decimal.Decimal) error {
	return s.withTx(ctx, func(c *conn) error { return c.SetBalances(ctx, balances) })
}

func (s *Store) InsertEntry(ctx context.Context, e ledger.JournalEntry) error {
	return s.withTx(ctx, func(c *conn) error { return c.InsertEntry(ctx, e) })
}

func (s *Store) GetEntry(ctx context.Context, id ledger.EntryID) (e ledger.JournalEntry, err error) {
	err = s.read(func(c *conn) error {
		e, err = c.GetEntry(ctx, id)
		return err
	})
	return e, err
}

func (s *Store) ReplaceDraft(ctx context.Context, e ledger.JournalEntry) error {
	return s.withTx(ctx, func(c *conn) error { return c.ReplaceDraft(ctx, e) })
}

func (s *Store) DeleteDraft(ctx context.Context, id ledger.EntryID) error {
	return s.withTx(ctx, func(c *conn) error { return c.DeleteDraft(ctx, id) })
}

func (s *Store) MarkPosted(ctx context.Context, id ledger.EntryID, postedAt time.Time) error {
	return s.withTx(ctx, func(c *conn) error { return c.MarkPosted(ctx, id, postedAt) })
}

func (s *Store) ListEntries(ctx context.Context, filter ledger.EntryFilter) (out []ledger.JournalEntry, err error) {
	err = s.read(func(c *conn) error {
		out, err = c.ListEntries(ctx, filter)
		return err
	})
	return out, err
}

func (s *Store) PostedLines(ctx context.Context, from, to *time.Time) (out []ledger.PostedLine, err error) {
	err = s.read(func(c *conn) error {
		out, err = c.PostedLines(ctx, from, to)
		return err
	})
	return out, err
}

func (s *Store) ClosingState(ctx context.Context) (st ledger.ClosingState, err error) {
	err = s.read(func(c *conn) error {
		st, err = c.ClosingState(ctx)
		return err
	})
	return st, err
}

func (s *Store) LockClosingState(ctx context.Context) (ledger.ClosingState, error) {
	return s.ClosingState(ctx)
}

func (s *Store) SetLastClosedDate(ctx context.Context, date time.Time) error {
	return s.withTx(ctx, func(c *conn) error { return c.SetLastClosedDate(ctx, date) })
}

func (s *Store) AcquireClosingLock(ctx context.Context, year int) error {
	return s.withTx(ctx, func(c *conn) error { return c.AcquireClosingLock(ctx, year) })
}

func (s *Store) ReleaseClosingLock(ctx context.Context, year int) error {
	return s.withTx(ctx, func(c *conn) error { return c.ReleaseClosingLock(ctx, year) })
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, code, name, type, parent_id, is_group, is_active, balance,
	deleted_at, deletion_reason, created_at`

func (c *conn) CreateAccount(ctx context.Context, a ledger.Account) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(a.ID), a.Code, a.Name, string(a.Type), string(a.ParentID),
		a.IsGroup, a.IsActive, a.Balance.String(),
		nullTime(a.DeletedAt), a.DeletionReason, formatTime(a.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateCode, a.Code)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (c *conn) UpdateAccount(ctx context.Context, a ledger.Account) error {
	cur, err := c.GetAccount(ctx, a.ID)
	if err != nil {
		return err
	}
	if cur.Type != a.Type {
		return ledger.ErrTypeChange
	}
	_, err = c.q.ExecContext(ctx, `
		UPDATE accounts
		SET code = ?, name = ?, parent_id = ?, is_group = ?, is_active = ?,
		    deleted_at = ?, deletion_reason = ?
		WHERE id = ?`,
		a.Code, a.Name, string(a.ParentID), a.IsGroup, a.IsActive,
		nullTime(a.DeletedAt), a.DeletionReason, string(a.ID),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateCode, a.Code)
		}
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

func (c *conn) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	cur, err := c.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	used, err := c.AccountHasLines(ctx, id)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("%w: %s", ledger.ErrAccountInUse, cur.Code)
	}
	_, err = c.q.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", string(id))
	return err
}

func (c *conn) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", string(id))
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
	}
	return a, err
}

func (c *conn) ListAccounts(ctx context.Context, includeTrashed bool) ([]ledger.Account, error) {
	query := "SELECT " + accountColumns + " FROM accounts"
	if !includeTrashed {
		query += " WHERE deleted_at IS NULL"
	}
	query += " ORDER BY code"

	rows, err := c.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (c *conn) AccountHasLines(ctx context.Context, id ledger.AccountID) (bool, error) {
	var n int
	err := c.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM journal_lines WHERE account_id = ?", string(id),
	).Scan(&n)
	return n > 0, err
}

func (c *conn) AddBalanceDeltas(ctx context.Context, deltas map[ledger.AccountID]decimal.Decimal) error {
	for id, d := range deltas {
		a, err := c.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if err := c.setBalance(ctx, id, a.Balance.Add(d)); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) SetBalances(ctx context.Context, balances map[ledger.AccountID]decimal.Decimal) error {
	if _, err := c.q.ExecContext(ctx, "UPDATE accounts SET balance = '0'"); err != nil {
		return fmt.Errorf("failed to reset balances: %w", err)
	}
	for id, b := range balances {
		if err := c.setBalance(ctx, id, b); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) setBalance(ctx context.Context, id ledger.AccountID, b decimal.Decimal) error {
	if _, err := c.q.ExecContext(ctx,
		"UPDATE accounts SET balance = ? WHERE id = ?", b.String(), string(id),
	); err != nil {
		return fmt.Errorf("failed to update balance of %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(r scanner) (ledger.Account, error) {
	var (
		a         ledger.Account
		id        string
		typ       string
		parentID  string
		balance   string
		deletedAt sql.NullString
		createdAt string
	)
	err := r.Scan(&id, &a.Code, &a.Name, &typ, &parentID, &a.IsGroup, &a.IsActive,
		&balance, &deletedAt, &a.DeletionReason, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan account: %w", err)
	}
	a.ID = ledger.AccountID(id)
	a.Type = ledger.AccountType(typ)
	a.ParentID = ledger.AccountID(parentID)
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return a, fmt.Errorf("account %s: bad balance %q: %w", id, balance, err)
	}
	a.DeletedAt = parseNullTime(deletedAt)
	a.CreatedAt = parseTime(createdAt)
	return a, nil
}

// =============================================================================
// JOURNAL ENTRIES
// =============================================================================

const entryColumns = `id, date, description, reference, source, status, reversal_of,
	created_at, posted_at`

func (c *conn) InsertEntry(ctx context.Context, e ledger.JournalEntry) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO journal_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, 'draft', ?, ?, NULL)`,
		string(e.ID), formatDate(e.Date), e.Description, e.Reference, string(e.Source),
		string(e.ReversalOf), formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}
	if err := c.insertLines(ctx, e.ID, e.Lines); err != nil {
		return err
	}
	if e.Status == ledger.StatusPosted {
		at := e.CreatedAt
		if e.PostedAt != nil {
			at = *e.PostedAt
		}
		return c.MarkPosted(ctx, e.ID, at)
	}
	return nil
}

func (c *conn) insertLines(ctx context.Context, id ledger.EntryID, lines []ledger.JournalLine) error {
	for i, l := range lines {
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO journal_lines
			(entry_id, line_no, account_id, description, debit, credit, cost_center_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(id), i, string(l.AccountID), l.Description,
			l.Debit.String(), l.Credit.String(), l.CostCenterID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert journal line %d: %w", i, err)
		}
	}
	return nil
}

func (c *conn) GetEntry(ctx context.Context, id ledger.EntryID) (ledger.JournalEntry, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM journal_entries WHERE id = ?", string(id))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.JournalEntry{}, fmt.Errorf("%w: %s", ledger.ErrEntryNotFound, id)
	}
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	if e.Lines, err = c.loadLines(ctx, e.ID); err != nil {
		return ledger.JournalEntry{}, err
	}
	return e, nil
}

func (c *conn) loadLines(ctx context.Context, id ledger.EntryID) ([]ledger.JournalLine, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT account_id, description, debit, credit, cost_center_id
		FROM journal_lines WHERE entry_id = ? ORDER BY line_no`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query journal lines: %w", err)
	}
	defer rows.Close()

	var out []ledger.JournalLine
	for rows.Next() {
		var (
			l             ledger.JournalLine
			accountID     string
			debit, credit string
		)
		if err := rows.Scan(&accountID, &l.Description, &debit, &credit, &l.CostCenterID); err != nil {
			return nil, fmt.Errorf("failed to scan journal line: %w", err)
		}
		l.AccountID = ledger.AccountID(accountID)
		l.Debit = parseAmount(debit)
		l.Credit = parseAmount(credit)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (c *conn) ReplaceDraft(ctx context.Context, e ledger.JournalEntry) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE journal_entries SET date = ?, description = ?, reference = ?
		WHERE id = ? AND status = 'draft'`,
		formatDate(e.Date), e.Description, e.Reference, string(e.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update draft: %w", err)
	}
	if err := c.draftOnly(ctx, res, e.ID); err != nil {
		return err
	}
	if _, err := c.q.ExecContext(ctx, "DELETE FROM journal_lines WHERE entry_id = ?", string(e.ID)); err != nil {
		return fmt.Errorf("failed to replace draft lines: %w", err)
	}
	return c.insertLines(ctx, e.ID, e.Lines)
}

func (c *conn) DeleteDraft(ctx context.Context, id ledger.EntryID) error {
	res, err := c.q.ExecContext(ctx, "DELETE FROM journal_entries WHERE id = ? AND status = 'draft'", string(id))
	if err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return c.draftOnly(ctx, res, id)
}

func (c *conn) MarkPosted(ctx context.Context, id ledger.EntryID, postedAt time.Time) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE journal_entries SET status = 'posted', posted_at = ?
		WHERE id = ? AND status = 'draft'`,
		formatTime(postedAt), string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to post entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := c.GetEntry(ctx, id); err != nil {
		return err
	}
	return ledger.ErrAlreadyPosted
}

// draftOnly turns a conditional write that matched no row into
// ErrEntryNotFound or ErrNotDraft.
func (c *conn) draftOnly(ctx context.Context, res sql.Result, id ledger.EntryID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := c.GetEntry(ctx, id); err != nil {
		return err
	}
	return ledger.ErrNotDraft
}

func (c *conn) ListEntries(ctx context.Context, f ledger.EntryFilter) ([]ledger.JournalEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.Source != nil {
		where = append(where, "source = ?")
		args = append(args, string(*f.Source))
	}
	if f.From != nil {
		where = append(where, "date >= ?")
		args = append(args, formatDate(*f.From))
	}
	if f.To != nil {
		where = append(where, "date <= ?")
		args = append(args, formatDate(*f.To))
	}
	query := "SELECT " + entryColumns + " FROM journal_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, created_at, id"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal entries: %w", err)
	}
	var out []ledger.JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Lines are loaded after the cursor is closed: a ":memory:" store has a
	// single connection.
	for i := range out {
		if out[i].Lines, err = c.loadLines(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *conn) PostedLines(ctx context.Context, from, to *time.Time) ([]ledger.PostedLine, error) {
	query := `
		SELECT e.id, e.date, e.source, l.account_id, l.debit, l.credit
		FROM journal_lines l
		JOIN journal_entries e ON e.id = l.entry_id
		WHERE e.status = 'posted'`
	var args []any
	if from != nil {
		query += " AND e.date >= ?"
		args = append(args, formatDate(*from))
	}
	if to != nil {
		query += " AND e.date <= ?"
		args = append(args, formatDate(*to))
	}
	query += " ORDER BY e.date, e.created_at, e.id, l.line_no"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query posted lines: %w", err)
	}
	defer rows.Close()

	var out []ledger.PostedLine
	for rows.Next() {
		var (
			pl                          ledger.PostedLine
			entryID, date, source, acct string
			debit, credit               string
		)
		if err := rows.Scan(&entryID, &date, &source, &acct, &debit, &credit); err != nil {
			return nil, fmt.Errorf("failed to scan posted line: %w", err)
		}
		pl.EntryID = ledger.EntryID(entryID)
		pl.Date = parseDate(date)
		pl.Source = ledger.Source(source)
		pl.AccountID = ledger.AccountID(acct)
		pl.Debit = parseAmount(debit)
		pl.Credit = parseAmount(credit)
		out = append(out, pl)
	}
	return out, rows.Err()
}

func scanEntry(r scanner) (ledger.JournalEntry, error) {
	var (
		e                                  ledger.JournalEntry
		id, date, source, status, reversal string
		createdAt                          string
		postedAt                           sql.NullString
	)
	err := r.Scan(&id, &date, &e.Description, &e.Reference, &source, &status, &reversal, &createdAt, &postedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan journal entry: %w", err)
	}
	e.ID = ledger.EntryID(id)
	e.Date = parseDate(date)
	e.Source = ledger.Source(source)
	e.Status = ledger.EntryStatus(status)
	e.ReversalOf = ledger.EntryID(reversal)
	e.CreatedAt = parseTime(createdAt)
	e.PostedAt = parseNullTime(postedAt)
	return e, nil
}

// =============================================================================
// CLOSING STATE
// =============================================================================

func (c *conn) ClosingState(ctx context.Context) (ledger.ClosingState, error) {
	var (
		st   ledger.ClosingState
		last sql.NullString
	)
	err := c.q.QueryRowContext(ctx,
		"SELECT last_closed_date, in_progress_year FROM closing_state WHERE id = 1",
	).Scan(&last, &st.InProgressYear)
	if err != nil {
		return st, fmt.Errorf("failed to read closing state: %w", err)
	}
	if last.Valid {
		d := parseDate(last.String)
		st.LastClosedDate = &d
	}
	return st, nil
}

// LockClosingState needs no row lock: the transaction already holds the
// store's write mutex and SQLite has a single writer.
func (c *conn) LockClosingState(ctx context.Context) (ledger.ClosingState, error) {
	return c.ClosingState(ctx)
}

func (c *conn) SetLastClosedDate(ctx context.Context, date time.Time) error {
	_, err := c.q.ExecContext(ctx,
		"UPDATE closing_state SET last_closed_date = ? WHERE id = 1", formatDate(date))
	return err
}

func (c *conn) AcquireClosingLock(ctx context.Context, year int) error {
	res, err := c.q.ExecContext(ctx,
		"UPDATE closing_state SET in_progress_year = ? WHERE id = 1 AND in_progress_year = 0", year)
	if err != nil {
		return fmt.Errorf("failed to acquire closing lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: another closing holds the lock", ledger.ErrClosingInProgress)
	}
	return nil
}

func (c *conn) ReleaseClosingLock(ctx context.Context, year int) error {
	_, err := c.q.ExecContext(ctx,
		"UPDATE closing_state SET in_progress_year = 0 WHERE id = 1 AND in_progress_year = ?", year)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func formatDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(time.DateOnly, s)
	return t
}

// timeLayout is fixed-width so that timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
