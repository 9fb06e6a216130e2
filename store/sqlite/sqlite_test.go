package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/budget"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

type testLedger struct {
	ctx     context.Context
	store   *Store
	chart   *ledger.Chart
	journal *ledger.Journal
	agg     *ledger.Aggregator
	closer  *ledger.Closer
	ids     map[string]ledger.AccountID
}

// newTestLedger builds a five-account chart:
// 1 Assets > 11 Cash, 3 Equity > 32 Retained earnings, 4 Revenue > 41 Sales,
// 5 Expenses > 51 Rent.
func newTestLedger(t *testing.T) *testLedger {
	t.Helper()
	return newTestLedgerOn(t, newTestStore(t))
}

func newTestLedgerOn(t *testing.T, s *Store) *testLedger {
	t.Helper()
	l := &testLedger{
		ctx:     context.Background(),
		store:   s,
		chart:   ledger.NewChart(s),
		journal: ledger.NewJournal(s),
		agg:     ledger.NewAggregator(s),
		closer:  ledger.NewCloser(s, ledger.DefaultRetainedEarningsCode),
		ids:     map[string]ledger.AccountID{},
	}
	for _, root := range []ledger.NewAccount{
		{Code: "1", Name: "Assets", Type: ledger.AccountAsset, IsGroup: true},
		{Code: "3", Name: "Equity", Type: ledger.AccountEquity, IsGroup: true},
		{Code: "4", Name: "Revenue", Type: ledger.AccountRevenue, IsGroup: true},
		{Code: "5", Name: "Expenses", Type: ledger.AccountExpense, IsGroup: true},
	} {
		a, err := l.chart.AddAccount(l.ctx, root)
		require.NoError(t, err)
		l.ids[root.Code] = a.ID
	}
	for _, leaf := range []struct{ code, name, parent string }{
		{"11", "Cash", "1"},
		{"32", "Retained earnings", "3"},
		{"41", "Sales", "4"},
		{"51", "Rent", "5"},
	} {
		a, err := l.chart.AddAccount(l.ctx, ledger.NewAccount{Code: leaf.code, Name: leaf.name, ParentID: l.ids[leaf.parent]})
		require.NoError(t, err)
		l.ids[leaf.code] = a.ID
	}
	return l
}

func (l *testLedger) input(date time.Time, debit, credit string, amount int64) ledger.EntryInput {
	return ledger.EntryInput{
		Date: date,
		Lines: []ledger.JournalLine{
			{AccountID: l.ids[debit], Debit: decimal.NewFromInt(amount), Credit: decimal.Zero},
			{AccountID: l.ids[credit], Debit: decimal.Zero, Credit: decimal.NewFromInt(amount)},
		},
	}
}

func (l *testLedger) balance(t *testing.T, code string) decimal.Decimal {
	t.Helper()
	a, err := l.store.GetAccount(l.ctx, l.ids[code])
	require.NoError(t, err)
	return a.Balance
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// =============================================================================
// LEDGER FLOW
// =============================================================================

func TestStore_PostAggregateAndClose(t *testing.T) {
	// GIVEN: 2024 sales of 1,000 and rent of 400 on SQLite
	// WHEN: Closing 2024
	// THEN: Retained earnings hold 600 and 2024 no longer accepts postings

	l := newTestLedger(t)
	_, err := l.journal.PostEntry(l.ctx, l.input(ledger.Date(2024, 3, 1), "11", "41", 1000))
	require.NoError(t, err)
	_, err = l.journal.PostEntry(l.ctx, l.input(ledger.Date(2024, 4, 1), "51", "11", 400))
	require.NoError(t, err)

	assertDecimal(t, "600", l.balance(t, "11"))
	assertDecimal(t, "1000", l.balance(t, "41"))
	assertDecimal(t, "1000", l.balance(t, "4"), "group rollup")

	from, to := ledger.Date(2024, 4, 1), ledger.Date(2024, 4, 30)
	april, err := l.agg.AccountBalance(l.ctx, l.ids["11"], &from, &to)
	require.NoError(t, err)
	assertDecimal(t, "-400", april)

	report, err := l.closer.CloseFiscalYear(l.ctx, 2024, time.Time{})
	require.NoError(t, err)
	assertDecimal(t, "600", report.NetIncome)
	assertDecimal(t, "600", l.balance(t, "32"))
	assertDecimal(t, "0", l.balance(t, "41"))
	assertDecimal(t, "0", l.balance(t, "51"))

	_, err = l.journal.PostEntry(l.ctx, l.input(ledger.Date(2024, 12, 1), "11", "41", 1))
	assert.ErrorIs(t, err, ledger.ErrPeriodClosed)

	_, err = l.closer.CloseFiscalYear(l.ctx, 2024, time.Time{})
	assert.ErrorIs(t, err, ledger.ErrYearAlreadyClosed)

	summary, err := l.agg.RecalculateAll(l.ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.AccountsFixed, "cached balances agree with the journal")
}

func TestStore_ConcurrentPostOfOneDraft(t *testing.T) {
	// GIVEN: One draft
	// WHEN: Eight goroutines post it at once
	// THEN: Exactly one wins and the balance moves once

	l := newTestLedger(t)
	draftID, err := l.journal.CreateDraft(l.ctx, l.input(ledger.Date(2025, 1, 5), "11", "41", 250))
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		conflict int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.journal.Post(l.ctx, draftID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ledger.ErrAlreadyPosted):
				conflict++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 7, conflict)
	assertDecimal(t, "250", l.balance(t, "11"))
}

func TestStore_ListEntriesFilters(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.journal.PostEntry(l.ctx, l.input(ledger.Date(2025, 2, 1), "11", "41", 10))
	require.NoError(t, err)
	_, err = l.journal.CreateDraft(l.ctx, l.input(ledger.Date(2025, 1, 1), "11", "41", 20))
	require.NoError(t, err)

	all, err := l.journal.Entries(l.ctx, ledger.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, ledger.Date(2025, 1, 1), all[0].Date, "ordered by date")
	require.Len(t, all[0].Lines, 2)
	assertDecimal(t, "20", all[0].Lines[0].Debit)

	posted := ledger.StatusPosted
	only, err := l.journal.Entries(l.ctx, ledger.EntryFilter{Status: &posted})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.NotNil(t, only[0].PostedAt)
}

// =============================================================================
// IMMUTABILITY
// =============================================================================

func TestStore_TriggersProtectPostedEntries(t *testing.T) {
	// GIVEN: A posted entry
	// WHEN: Raw SQL tries to rewrite it or its lines
	// THEN: Every statement is aborted

	l := newTestLedger(t)
	id, err := l.journal.PostEntry(l.ctx, l.input(ledger.Date(2025, 1, 5), "11", "41", 100))
	require.NoError(t, err)

	for _, stmt := range []string{
		"UPDATE journal_entries SET description = 'rewritten' WHERE id = ?",
		"DELETE FROM journal_entries WHERE id = ?",
		"UPDATE journal_lines SET debit = '1' WHERE entry_id = ?",
		"DELETE FROM journal_lines WHERE entry_id = ?",
	} {
		_, err := l.store.db.Exec(stmt, string(id))
		require.Error(t, err, stmt)
		assert.Contains(t, err.Error(), "immutable", stmt)
	}

	_, err = l.store.db.Exec(`INSERT INTO journal_lines (entry_id, line_no, account_id, debit, credit)
		VALUES (?, 9, ?, '1', '0')`, string(id), string(l.ids["11"]))
	require.Error(t, err)

	entry, err := l.journal.Entry(l.ctx, id)
	require.NoError(t, err)
	assert.Len(t, entry.Lines, 2)
}

func TestStore_DraftOnlyWrites(t *testing.T) {
	l := newTestLedger(t)
	id, err := l.journal.PostEntry(l.ctx, l.input(ledger.Date(2025, 1, 5), "11", "41", 100))
	require.NoError(t, err)

	err = l.store.MarkPosted(l.ctx, id, time.Now())
	assert.ErrorIs(t, err, ledger.ErrAlreadyPosted)

	entry, err := l.store.GetEntry(l.ctx, id)
	require.NoError(t, err)
	entry.Description = "changed"
	assert.ErrorIs(t, l.store.ReplaceDraft(l.ctx, entry), ledger.ErrNotDraft)
	assert.ErrorIs(t, l.store.DeleteDraft(l.ctx, id), ledger.ErrNotDraft)

	assert.ErrorIs(t, l.store.MarkPosted(l.ctx, "missing", time.Now()), ledger.ErrEntryNotFound)
	assert.ErrorIs(t, l.store.DeleteDraft(l.ctx, "missing"), ledger.ErrEntryNotFound)
}

func TestStore_EditAndDeleteDraft(t *testing.T) {
	l := newTestLedger(t)
	id, err := l.journal.CreateDraft(l.ctx, l.input(ledger.Date(2025, 1, 5), "11", "41", 100))
	require.NoError(t, err)

	require.NoError(t, l.journal.EditDraft(l.ctx, id, l.input(ledger.Date(2025, 1, 6), "51", "11", 70)))
	entry, err := l.journal.Entry(l.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.Date(2025, 1, 6), entry.Date)
	assert.Equal(t, l.ids["51"], entry.Lines[0].AccountID)
	assertDecimal(t, "70", entry.Lines[0].Debit)

	require.NoError(t, l.journal.DeleteDraft(l.ctx, id))
	_, err = l.journal.Entry(l.ctx, id)
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestStore_AccountConstraints(t *testing.T) {
	l := newTestLedger(t)

	err := l.store.CreateAccount(l.ctx, ledger.Account{
		ID: "acc_dup", Code: "11", Name: "Dup", Type: ledger.AccountAsset,
		IsActive: true, CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateCode)

	cash, err := l.store.GetAccount(l.ctx, l.ids["11"])
	require.NoError(t, err)
	cash.Type = ledger.AccountExpense
	assert.ErrorIs(t, l.store.UpdateAccount(l.ctx, cash), ledger.ErrTypeChange)

	_, err = l.store.GetAccount(l.ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = l.journal.PostEntry(l.ctx, l.input(ledger.Date(2025, 1, 5), "11", "41", 1))
	require.NoError(t, err)
	assert.ErrorIs(t, l.store.DeleteAccount(l.ctx, l.ids["11"]), ledger.ErrAccountInUse)
}

func TestStore_TrashedAccountsKeepTheirCode(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.chart.TrashAccount(l.ctx, l.ids["51"], "unused"))

	live, err := l.store.ListAccounts(l.ctx, false)
	require.NoError(t, err)
	assert.Len(t, live, 7)

	all, err := l.store.ListAccounts(l.ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 8)

	trashed, err := l.store.GetAccount(l.ctx, l.ids["51"])
	require.NoError(t, err)
	require.NotNil(t, trashed.DeletedAt)
	assert.Equal(t, "unused", trashed.DeletionReason)

	code, err := l.chart.NextCode(l.ctx, l.ids["5"])
	require.NoError(t, err)
	assert.Equal(t, "52", code, "a trashed code is never reissued")
}

func TestStore_BalanceWrites(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.store.AddBalanceDeltas(l.ctx, map[ledger.AccountID]decimal.Decimal{
		l.ids["11"]: decimal.RequireFromString("10.25"),
	}))
	assertDecimal(t, "10.25", l.balance(t, "11"))

	err := l.store.AddBalanceDeltas(l.ctx, map[ledger.AccountID]decimal.Decimal{"missing": decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	require.NoError(t, l.store.SetBalances(l.ctx, map[ledger.AccountID]decimal.Decimal{
		l.ids["41"]: decimal.NewFromInt(3),
	}))
	assertDecimal(t, "0", l.balance(t, "11"), "accounts missing from the map are zeroed")
	assertDecimal(t, "3", l.balance(t, "41"))
}

// =============================================================================
// TRANSACTIONS AND CLOSING LOCK
// =============================================================================

func TestStore_WithTxRollsBack(t *testing.T) {
	l := newTestLedger(t)
	boom := errors.New("boom")

	err := l.store.WithTx(l.ctx, func(s ledger.Store) error {
		if err := s.AddBalanceDeltas(l.ctx, map[ledger.AccountID]decimal.Decimal{l.ids["11"]: decimal.NewFromInt(5)}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assertDecimal(t, "0", l.balance(t, "11"))
}

func TestStore_ClosingLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AcquireClosingLock(ctx, 2024))
	assert.ErrorIs(t, s.AcquireClosingLock(ctx, 2025), ledger.ErrClosingInProgress)

	require.NoError(t, s.ReleaseClosingLock(ctx, 2025))
	state, err := s.ClosingState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2024, state.InProgressYear, "only the holder releases")

	require.NoError(t, s.ReleaseClosingLock(ctx, 2024))
	require.NoError(t, s.SetLastClosedDate(ctx, ledger.Date(2024, 12, 31)))
	state, err = s.ClosingState(ctx)
	require.NoError(t, err)
	assert.Zero(t, state.InProgressYear)
	require.NotNil(t, state.LastClosedDate)
	assert.Equal(t, ledger.Date(2024, 12, 31), *state.LastClosedDate)
}

// =============================================================================
// BUDGETS AND DOCUMENTS
// =============================================================================

func TestStore_BudgetReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetBudget(ctx, 2025, time.March)
	assert.ErrorIs(t, err, budget.ErrBudgetNotFound)

	require.NoError(t, s.SaveBudget(ctx, budget.Budget{
		ID: "bud_1", Year: 2025, Month: time.March, UpdatedAt: time.Now(),
		Items: []budget.Item{
			{Type: budget.TargetCustomer, TargetID: "acme", Planned: decimal.RequireFromString("1000.50")},
			{Type: budget.TargetProduct, TargetID: "widget", Planned: decimal.NewFromInt(4)},
		},
	}))
	require.NoError(t, s.SaveBudget(ctx, budget.Budget{
		ID: "bud_1", Year: 2025, Month: time.March, UpdatedAt: time.Now(),
		Items: []budget.Item{
			{Type: budget.TargetSalesperson, TargetID: "alice", TargetName: "Alice", Planned: decimal.NewFromInt(7)},
		},
	}))

	got, err := s.GetBudget(ctx, 2025, time.March)
	require.NoError(t, err)
	assert.Equal(t, "bud_1", got.ID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Alice", got.Items[0].TargetName)
	assertDecimal(t, "7", got.Items[0].Planned)
}

func TestStore_SalesDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := budget.SalesDocument{
		ID: "doc_1", Number: "INV-1", Date: ledger.Date(2025, 3, 2), Status: budget.DocumentIssued,
		CustomerID: "acme", SalespersonID: "alice", Total: decimal.RequireFromString("99.99"),
		Items: []budget.SalesItem{{ProductID: "widget", Quantity: decimal.NewFromInt(3)}},
	}
	require.NoError(t, s.SaveSalesDocument(ctx, doc))
	require.NoError(t, s.SaveSalesDocument(ctx, budget.SalesDocument{
		ID: "doc_2", Number: "INV-2", Date: ledger.Date(2025, 4, 1), Status: budget.DocumentPaid, Total: decimal.NewFromInt(1),
	}))

	dup := doc
	dup.ID = "doc_3"
	assert.ErrorIs(t, s.SaveSalesDocument(ctx, dup), budget.ErrDuplicateNumber)

	docs, err := s.SalesDocuments(ctx, ledger.Date(2025, 3, 1), ledger.Date(2025, 3, 31))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "INV-1", docs[0].Number)
	assertDecimal(t, "99.99", docs[0].Total)
	require.Len(t, docs[0].Items, 1)
	assertDecimal(t, "3", docs[0].Items[0].Quantity)
}

func TestStore_BudgetVarianceOnSQLite(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.journal.PostEntry(l.ctx, l.input(ledger.Date(2025, 3, 3), "11", "41", 900))
	require.NoError(t, err)

	m := budget.NewManager(l.store, l.store, l.agg)
	_, err = m.SaveBudget(l.ctx, 2025, time.March, []budget.Item{
		{Type: budget.TargetAccount, TargetID: string(l.ids["41"]), Planned: decimal.NewFromInt(1000)},
	})
	require.NoError(t, err)

	report, err := m.Variance(l.ctx, 2025, time.March)
	require.NoError(t, err)
	require.Len(t, report.Lines, 1)
	assertDecimal(t, "900", report.Lines[0].Actual)
	assert.Equal(t, budget.StatusWarning, report.Lines[0].Status)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestStore_Reset(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.journal.PostEntry(l.ctx, l.input(ledger.Date(2025, 1, 5), "11", "41", 100))
	require.NoError(t, err)
	require.NoError(t, l.store.AcquireClosingLock(l.ctx, 2025))

	require.NoError(t, l.store.Reset(l.ctx))

	accounts, err := l.store.ListAccounts(l.ctx, true)
	require.NoError(t, err)
	assert.Empty(t, accounts)
	state, err := l.store.ClosingState(l.ctx)
	require.NoError(t, err)
	assert.Zero(t, state.InProgressYear)

	// Triggers are back after the reset.
	fresh := newTestLedgerOn(t, l.store)
	id, err := fresh.journal.PostEntry(fresh.ctx, fresh.input(ledger.Date(2025, 1, 5), "11", "41", 1))
	require.NoError(t, err)
	_, err = l.store.db.Exec("DELETE FROM journal_entries WHERE id = ?", string(id))
	assert.Error(t, err)
}

func TestStore_FileDatabaseSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.SetLastClosedDate(ctx, ledger.Date(2023, 12, 31)))
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	state, err := s.ClosingState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state.LastClosedDate)
	assert.Equal(t, ledger.Date(2023, 12, 31), *state.LastClosedDate)
}
