/*
Package postgres provides a PostgreSQL-backed implementation of the ledger
and budget storage interfaces using pgx.

PURPOSE:
  The multi-writer production backend. Unlike SQLite there is no process
  mutex: concurrency is left to PostgreSQL row locks and conditional
  writes.

CONCURRENCY:
  - MarkPosted is UPDATE ... WHERE status = 'draft'. Under READ COMMITTED
    a second poster blocks on the row, re-evaluates the predicate and
    matches nothing, so it gets ErrAlreadyPosted.
  - ClosingState reads the closing row FOR SHARE, so every posting
    transaction holds a share lock on it until commit.
  - AcquireClosingLock and LockClosingState (FOR UPDATE) therefore wait for
    in-flight postings, and postings that start afterwards see the lock.
  - AddBalanceDeltas is a single relative UPDATE per account.

AMOUNTS:
  Stored as NUMERIC. Decimals travel as text in both directions
  ($n::text::numeric on the way in, ::text on the way out) so no value
  passes through float64.

IMMUTABILITY:
  Same rule as the SQLite store: PL/pgSQL triggers reject any change to a
  posted entry or its lines.

USAGE:
  store, err := postgres.New(ctx, "postgres://ledger@localhost/ledger")
  if err != nil {
      return err
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go:   Interface definitions
  - store/sqlite:      Embedded implementation with the same schema shape
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/budget"
	"github.com/warp/ledger-engine/ledger"
)

// Store implements the ledger and budget storage interfaces on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ ledger.TxStore       = (*Store)(nil)
	_ ledger.Store         = (*conn)(nil)
	_ budget.Store         = (*Store)(nil)
	_ budget.DocumentStore = (*Store)(nil)
)

// New connects to dsn, checks connectivity and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	type TEXT NOT NULL CHECK (type IN ('asset','liability','equity','revenue','expense')),
	parent_id TEXT NOT NULL DEFAULT '',
	is_group BOOLEAN NOT NULL DEFAULT FALSE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	balance NUMERIC NOT NULL DEFAULT 0,
	deleted_at TIMESTAMPTZ,
	deletion_reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_accounts_parent ON accounts(parent_id);

CREATE TABLE IF NOT EXISTS journal_entries (
	id TEXT PRIMARY KEY,
	date DATE NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	reference TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('draft','posted')),
	reversal_of TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	posted_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_entries_status_date ON journal_entries(status, date);
CREATE INDEX IF NOT EXISTS idx_entries_source ON journal_entries(source);

CREATE TABLE IF NOT EXISTS journal_lines (
	entry_id TEXT NOT NULL REFERENCES journal_entries(id) ON DELETE CASCADE,
	line_no INTEGER NOT NULL,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	description TEXT NOT NULL DEFAULT '',
	debit NUMERIC NOT NULL DEFAULT 0 CHECK (debit >= 0),
	credit NUMERIC NOT NULL DEFAULT 0 CHECK (credit >= 0),
	cost_center_id TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (entry_id, line_no)
);
CREATE INDEX IF NOT EXISTS idx_lines_account ON journal_lines(account_id);

CREATE OR REPLACE FUNCTION ledger_posted_entry_immutable() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'posted journal entry is immutable';
END;
$$ LANGUAGE plpgsql;

CREATE OR REPLACE FUNCTION ledger_posted_lines_immutable() RETURNS trigger AS $$
DECLARE
	eid TEXT;
BEGIN
	IF TG_OP = 'INSERT' THEN
		eid := NEW.entry_id;
	ELSE
		eid := OLD.entry_id;
	END IF;
	IF EXISTS (SELECT 1 FROM journal_entries WHERE id = eid AND status = 'posted') THEN
		RAISE EXCEPTION 'lines of a posted journal entry are immutable';
	END IF;
	IF TG_OP = 'DELETE' THEN
		RETURN OLD;
	END IF;
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_posted_entry_immutable ON journal_entries;
CREATE TRIGGER trg_posted_entry_immutable
	BEFORE UPDATE OR DELETE ON journal_entries
	FOR EACH ROW WHEN (OLD.status = 'posted')
	EXECUTE FUNCTION ledger_posted_entry_immutable();

DROP TRIGGER IF EXISTS trg_posted_lines_immutable ON journal_lines;
CREATE TRIGGER trg_posted_lines_immutable
	BEFORE INSERT OR UPDATE OR DELETE ON journal_lines
	FOR EACH ROW
	EXECUTE FUNCTION ledger_posted_lines_immutable();

CREATE TABLE IF NOT EXISTS closing_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	last_closed_date DATE,
	in_progress_year INTEGER NOT NULL DEFAULT 0
);
INSERT INTO closing_state (id) VALUES (1) ON CONFLICT DO NOTHING;

CREATE TABLE IF NOT EXISTS budgets (
	year INTEGER NOT NULL,
	month INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
	id TEXT NOT NULL UNIQUE,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (year, month)
);

CREATE TABLE IF NOT EXISTS budget_items (
	year INTEGER NOT NULL,
	month INTEGER NOT NULL,
	position INTEGER NOT NULL,
	type TEXT NOT NULL,
	target_id TEXT NOT NULL,
	target_name TEXT NOT NULL DEFAULT '',
	planned NUMERIC NOT NULL,
	PRIMARY KEY (year, month, position),
	FOREIGN KEY (year, month) REFERENCES budgets(year, month) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS sales_documents (
	id TEXT PRIMARY KEY,
	number TEXT NOT NULL UNIQUE,
	date DATE NOT NULL,
	status TEXT NOT NULL,
	customer_id TEXT NOT NULL DEFAULT '',
	salesperson_id TEXT NOT NULL DEFAULT '',
	total NUMERIC NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sales_documents_date ON sales_documents(date);

CREATE TABLE IF NOT EXISTS sales_document_items (
	document_id TEXT NOT NULL REFERENCES sales_documents(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	product_id TEXT NOT NULL,
	quantity NUMERIC NOT NULL,
	PRIMARY KEY (document_id, position)
);
`

// =============================================================================
// TRANSACTIONS
// =============================================================================

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type conn struct {
	q querier
}

// WithTx executes fn inside a READ COMMITTED transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	return s.withTx(ctx, func(c *conn) error { return fn(c) })
}

func (s *Store) withTx(ctx context.Context, fn func(c *conn) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&conn{q: tx})
	})
}

func (s *Store) direct() *conn {
	return &conn{q: s.pool}
}

// Reset truncates every table and clears the closing state. TRUNCATE does
// not fire row triggers.
func (s *Store) Reset(ctx context.Context) error {
	return s.withTx(ctx, func(c *conn) error {
		if _, err := c.q.Exec(ctx, `TRUNCATE journal_lines, journal_entries, accounts,
			budget_items, budgets, sales_document_items, sales_documents`); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		_, err := c.q.Exec(ctx, "UPDATE closing_state SET last_closed_date = NULL, in_progress_year = 0")
		return err
	})
}

// =============================================================================
// LEDGER STORE - reads hit the pool, multi-statement writes run in a tx
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) error {
	return s.direct().CreateAccount(ctx, a)
}

func (s *Store) UpdateAccount(ctx context.Context, a ledger.Account) error {
	return s.withTx(ctx, func(c *conn) error { return c.UpdateAccount(ctx, a) })
}

func (s *Store) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	return s.withTx(ctx, func(c *conn) error { return c.DeleteAccount(ctx, id) })
}

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	return s.direct().GetAccount(ctx, id)
}

func (s *Store) ListAccounts(ctx context.Context, includeTrashed bool) ([]ledger.Account, error) {
	return s.direct().ListAccounts(ctx, includeTrashed)
}

func (s *Store) AccountHasLines(ctx context.Context, id ledger.AccountID) (bool, error) {
	return s.direct().AccountHasLines(ctx, id)
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

func (s *Store) GetEntry(ctx context.Context, id ledger.EntryID) (ledger.JournalEntry, error) {
	return s.direct().GetEntry(ctx, id)
}

func (s *Store) ReplaceDraft(ctx context.Context, e ledger.JournalEntry) error {
	return s.withTx(ctx, func(c *conn) error { return c.ReplaceDraft(ctx, e) })
}

func (s *Store) DeleteDraft(ctx context.Context, id ledger.EntryID) error {
	return s.direct().DeleteDraft(ctx, id)
}

func (s *Store) MarkPosted(ctx context.Context, id ledger.EntryID, postedAt time.Time) error {
	return s.direct().MarkPosted(ctx, id, postedAt)
}

func (s *Store) ListEntries(ctx context.Context, filter ledger.EntryFilter) ([]ledger.JournalEntry, error) {
	return s.direct().ListEntries(ctx, filter)
}

func (s *Store) PostedLines(ctx context.Context, from, to *time.Time) ([]ledger.PostedLine, error) {
	return s.direct().PostedLines(ctx, from, to)
}

func (s *Store) ClosingState(ctx context.Context) (ledger.ClosingState, error) {
	return s.direct().readClosingState(ctx, "")
}

func (s *Store) LockClosingState(ctx context.Context) (ledger.ClosingState, error) {
	return s.ClosingState(ctx)
}

func (s *Store) SetLastClosedDate(ctx context.Context, date time.Time) error {
	return s.direct().SetLastClosedDate(ctx, date)
}

func (s *Store) AcquireClosingLock(ctx context.Context, year int) error {
	return s.direct().AcquireClosingLock(ctx, year)
}

func (s *Store) ReleaseClosingLock(ctx context.Context, year int) error {
	return s.direct().ReleaseClosingLock(ctx, year)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, code, name, type, parent_id, is_group, is_active, balance::text,
	deleted_at, deletion_reason, created_at`

func (c *conn) CreateAccount(ctx context.Context, a ledger.Account) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO accounts (id, code, name, type, parent_id, is_group, is_active, balance,
			deleted_at, deletion_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text::numeric, $9, $10, $11)`,
		string(a.ID), a.Code, a.Name, string(a.Type), string(a.ParentID),
		a.IsGroup, a.IsActive, a.Balance.String(), a.DeletedAt, a.DeletionReason, a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateCode, a.Code)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (c *conn) UpdateAccount(ctx context.Context, a ledger.Account) error {
	var typ string
	err := c.q.QueryRow(ctx, "SELECT type FROM accounts WHERE id = $1 FOR UPDATE", string(a.ID)).Scan(&typ)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, a.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to read account: %w", err)
	}
	if ledger.AccountType(typ) != a.Type {
		return ledger.ErrTypeChange
	}
	_, err = c.q.Exec(ctx, `
		UPDATE accounts
		SET code = $1, name = $2, parent_id = $3, is_group = $4, is_active = $5,
		    deleted_at = $6, deletion_reason = $7
		WHERE id = $8`,
		a.Code, a.Name, string(a.ParentID), a.IsGroup, a.IsActive,
		a.DeletedAt, a.DeletionReason, string(a.ID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateCode, a.Code)
		}
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

func (c *conn) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	a, err := c.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	used, err := c.AccountHasLines(ctx, id)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("%w: %s", ledger.ErrAccountInUse, a.Code)
	}
	_, err = c.q.Exec(ctx, "DELETE FROM accounts WHERE id = $1", string(id))
	return err
}

func (c *conn) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	a, err := scanAccount(c.q.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
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

	rows, err := c.q.Query(ctx, query)
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
	var used bool
	err := c.q.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM journal_lines WHERE account_id = $1)", string(id),
	).Scan(&used)
	return used, err
}

func (c *conn) AddBalanceDeltas(ctx context.Context, deltas map[ledger.AccountID]decimal.Decimal) error {
	for id, d := range deltas {
		tag, err := c.q.Exec(ctx,
			"UPDATE accounts SET balance = balance + $1::text::numeric WHERE id = $2", d.String(), string(id))
		if err != nil {
			return fmt.Errorf("failed to update balance of %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
		}
	}
	return nil
}

func (c *conn) SetBalances(ctx context.Context, balances map[ledger.AccountID]decimal.Decimal) error {
	if _, err := c.q.Exec(ctx, "UPDATE accounts SET balance = 0"); err != nil {
		return fmt.Errorf("failed to reset balances: %w", err)
	}
	for id, b := range balances {
		if _, err := c.q.Exec(ctx,
			"UPDATE accounts SET balance = $1::text::numeric WHERE id = $2", b.String(), string(id),
		); err != nil {
			return fmt.Errorf("failed to set balance of %s: %w", id, err)
		}
	}
	return nil
}

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		a                      ledger.Account
		id, typ, parentID, bal string
	)
	err := row.Scan(&id, &a.Code, &a.Name, &typ, &parentID, &a.IsGroup, &a.IsActive,
		&bal, &a.DeletedAt, &a.DeletionReason, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan account: %w", err)
	}
	a.ID = ledger.AccountID(id)
	a.Type = ledger.AccountType(typ)
	a.ParentID = ledger.AccountID(parentID)
	a.Balance = parseAmount(bal)
	a.CreatedAt = a.CreatedAt.UTC()
	if a.DeletedAt != nil {
		t := a.DeletedAt.UTC()
		a.DeletedAt = &t
	}
	return a, nil
}

// =============================================================================
// JOURNAL ENTRIES
// =============================================================================

const entryColumns = `id, date, description, reference, source, status, reversal_of,
	created_at, posted_at`

func (c *conn) InsertEntry(ctx context.Context, e ledger.JournalEntry) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO journal_entries (id, date, description, reference, source, status,
			reversal_of, created_at, posted_at)
		VALUES ($1, $2, $3, $4, $5, 'draft', $6, $7, NULL)`,
		string(e.ID), e.Date, e.Description, e.Reference, string(e.Source),
		string(e.ReversalOf), e.CreatedAt,
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
		_, err := c.q.Exec(ctx, `
			INSERT INTO journal_lines
			(entry_id, line_no, account_id, description, debit, credit, cost_center_id)
			VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7)`,
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
	e, err := scanEntry(c.q.QueryRow(ctx, "SELECT "+entryColumns+" FROM journal_entries WHERE id = $1", string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.JournalEntry{}, fmt.Errorf("%w: %s", ledger.ErrEntryNotFound, id)
	}
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	entries := []ledger.JournalEntry{e}
	if err := c.attachLines(ctx, entries); err != nil {
		return ledger.JournalEntry{}, err
	}
	return entries[0], nil
}

// attachLines loads the lines of every entry in one query.
func (c *conn) attachLines(ctx context.Context, entries []ledger.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, len(entries))
	index := make(map[ledger.EntryID]int, len(entries))
	for i, e := range entries {
		ids[i] = string(e.ID)
		index[e.ID] = i
	}

	rows, err := c.q.Query(ctx, `
		SELECT entry_id, account_id, description, debit::text, credit::text, cost_center_id
		FROM journal_lines WHERE entry_id = ANY($1)
		ORDER BY entry_id, line_no`, ids)
	if err != nil {
		return fmt.Errorf("failed to query journal lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l                ledger.JournalLine
			entryID, account string
			debit, credit    string
		)
		if err := rows.Scan(&entryID, &account, &l.Description, &debit, &credit, &l.CostCenterID); err != nil {
			return fmt.Errorf("failed to scan journal line: %w", err)
		}
		l.AccountID = ledger.AccountID(account)
		l.Debit = parseAmount(debit)
		l.Credit = parseAmount(credit)
		i := index[ledger.EntryID(entryID)]
		entries[i].Lines = append(entries[i].Lines, l)
	}
	return rows.Err()
}

func (c *conn) ReplaceDraft(ctx context.Context, e ledger.JournalEntry) error {
	tag, err := c.q.Exec(ctx, `
		UPDATE journal_entries SET date = $1, description = $2, reference = $3
		WHERE id = $4 AND status = 'draft'`,
		e.Date, e.Description, e.Reference, string(e.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update draft: %w", err)
	}
	if err := c.draftOnly(ctx, tag, e.ID); err != nil {
		return err
	}
	if _, err := c.q.Exec(ctx, "DELETE FROM journal_lines WHERE entry_id = $1", string(e.ID)); err != nil {
		return fmt.Errorf("failed to replace draft lines: %w", err)
	}
	return c.insertLines(ctx, e.ID, e.Lines)
}

func (c *conn) DeleteDraft(ctx context.Context, id ledger.EntryID) error {
	tag, err := c.q.Exec(ctx, "DELETE FROM journal_entries WHERE id = $1 AND status = 'draft'", string(id))
	if err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return c.draftOnly(ctx, tag, id)
}

func (c *conn) MarkPosted(ctx context.Context, id ledger.EntryID, postedAt time.Time) error {
	tag, err := c.q.Exec(ctx, `
		UPDATE journal_entries SET status = 'posted', posted_at = $1
		WHERE id = $2 AND status = 'draft'`, postedAt, string(id))
	if err != nil {
		return fmt.Errorf("failed to post entry: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := c.GetEntry(ctx, id); err != nil {
		return err
	}
	return ledger.ErrAlreadyPosted
}

func (c *conn) draftOnly(ctx context.Context, tag pgconn.CommandTag, id ledger.EntryID) error {
	if tag.RowsAffected() == 1 {
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
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.Source != nil {
		add("source = $%d", string(*f.Source))
	}
	if f.From != nil {
		add("date >= $%d", *f.From)
	}
	if f.To != nil {
		add("date <= $%d", *f.To)
	}
	query := "SELECT " + entryColumns + " FROM journal_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, created_at, id"

	rows, err := c.q.Query(ctx, query, args...)
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
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := c.attachLines(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *conn) PostedLines(ctx context.Context, from, to *time.Time) ([]ledger.PostedLine, error) {
	query := `
		SELECT e.id, e.date, e.source, l.account_id, l.debit::text, l.credit::text
		FROM journal_lines l
		JOIN journal_entries e ON e.id = l.entry_id
		WHERE e.status = 'posted'`
	var args []any
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND e.date >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND e.date <= $%d", len(args))
	}
	query += " ORDER BY e.date, e.created_at, e.id, l.line_no"

	rows, err := c.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query posted lines: %w", err)
	}
	defer rows.Close()

	var out []ledger.PostedLine
	for rows.Next() {
		var (
			pl                    ledger.PostedLine
			entryID, source, acct string
			debit, credit         string
		)
		if err := rows.Scan(&entryID, &pl.Date, &source, &acct, &debit, &credit); err != nil {
			return nil, fmt.Errorf("failed to scan posted line: %w", err)
		}
		pl.EntryID = ledger.EntryID(entryID)
		pl.Date = ledger.Day(pl.Date)
		pl.Source = ledger.Source(source)
		pl.AccountID = ledger.AccountID(acct)
		pl.Debit = parseAmount(debit)
		pl.Credit = parseAmount(credit)
		out = append(out, pl)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (ledger.JournalEntry, error) {
	var (
		e                            ledger.JournalEntry
		id, source, status, reversal string
	)
	err := row.Scan(&id, &e.Date, &e.Description, &e.Reference, &source, &status, &reversal,
		&e.CreatedAt, &e.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan journal entry: %w", err)
	}
	e.ID = ledger.EntryID(id)
	e.Date = ledger.Day(e.Date)
	e.Source = ledger.Source(source)
	e.Status = ledger.EntryStatus(status)
	e.ReversalOf = ledger.EntryID(reversal)
	e.CreatedAt = e.CreatedAt.UTC()
	if e.PostedAt != nil {
		t := e.PostedAt.UTC()
		e.PostedAt = &t
	}
	return e, nil
}

// =============================================================================
// CLOSING STATE
// =============================================================================

// readClosingState reads the single closing row with an optional locking
// clause.
func (c *conn) readClosingState(ctx context.Context, lock string) (ledger.ClosingState, error) {
	var (
		st   ledger.ClosingState
		last *time.Time
	)
	err := c.q.QueryRow(ctx,
		"SELECT last_closed_date, in_progress_year FROM closing_state WHERE id = 1 "+lock,
	).Scan(&last, &st.InProgressYear)
	if err != nil {
		return st, fmt.Errorf("failed to read closing state: %w", err)
	}
	if last != nil {
		d := ledger.Day(*last)
		st.LastClosedDate = &d
	}
	return st, nil
}

// ClosingState takes a share lock: a posting transaction keeps the closing
// row pinned until it commits.
func (c *conn) ClosingState(ctx context.Context) (ledger.ClosingState, error) {
	return c.readClosingState(ctx, "FOR SHARE")
}

func (c *conn) LockClosingState(ctx context.Context) (ledger.ClosingState, error) {
	return c.readClosingState(ctx, "FOR UPDATE")
}

func (c *conn) SetLastClosedDate(ctx context.Context, date time.Time) error {
	_, err := c.q.Exec(ctx, "UPDATE closing_state SET last_closed_date = $1 WHERE id = 1", date)
	return err
}

func (c *conn) AcquireClosingLock(ctx context.Context, year int) error {
	tag, err := c.q.Exec(ctx,
		"UPDATE closing_state SET in_progress_year = $1 WHERE id = 1 AND in_progress_year = 0", year)
	if err != nil {
		return fmt.Errorf("failed to acquire closing lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: another closing holds the lock", ledger.ErrClosingInProgress)
	}
	return nil
}

func (c *conn) ReleaseClosingLock(ctx context.Context, year int) error {
	_, err := c.q.Exec(ctx,
		"UPDATE closing_state SET in_progress_year = 0 WHERE id = 1 AND in_progress_year = $1", year)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func parseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
