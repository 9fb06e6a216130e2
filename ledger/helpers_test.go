package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	ctx     context.Context
	store   *store.Memory
	chart   *ledger.Chart
	journal *ledger.Journal
	agg     *ledger.Aggregator
	closer  *ledger.Closer
	ids     map[string]ledger.AccountID // by code
}

func newFixture(t *testing.T, opts ...ledger.Option) *fixture {
	t.Helper()
	s := store.NewMemory()
	f := &fixture{
		ctx:     context.Background(),
		store:   s,
		chart:   ledger.NewChart(s, opts...),
		journal: ledger.NewJournal(s, opts...),
		agg:     ledger.NewAggregator(s, opts...),
		closer:  ledger.NewCloser(s, "32", opts...),
		ids:     make(map[string]ledger.AccountID),
	}
	return f
}

// seedChart creates a small five-branch chart:
//
//	1 Assets        11 Cash, 12 Receivables
//	2 Liabilities   21 Payables
//	3 Equity        31 Capital, 32 Retained earnings
//	4 Revenue       41 Sales, 42 Service income
//	5 Expenses      51 Cost of goods, 52 Salaries
func (f *fixture) seedChart(t *testing.T) *fixture {
	t.Helper()
	groups := []struct {
		code, name string
		typ        ledger.AccountType
	}{
		{"1", "Assets", ledger.AccountAsset},
		{"2", "Liabilities", ledger.AccountLiability},
		{"3", "Equity", ledger.AccountEquity},
		{"4", "Revenue", ledger.AccountRevenue},
		{"5", "Expenses", ledger.AccountExpense},
	}
	for _, g := range groups {
		f.add(t, g.code, g.name, g.typ, "", true)
	}
	leaves := []struct{ code, name, parent string }{
		{"11", "Cash", "1"},
		{"12", "Receivables", "1"},
		{"21", "Payables", "2"},
		{"31", "Capital", "3"},
		{"32", "Retained earnings", "3"},
		{"41", "Sales", "4"},
		{"42", "Service income", "4"},
		{"51", "Cost of goods", "5"},
		{"52", "Salaries", "5"},
	}
	for _, l := range leaves {
		f.add(t, l.code, l.name, "", l.parent, false)
	}
	return f
}

func (f *fixture) add(t *testing.T, code, name string, typ ledger.AccountType, parentCode string, group bool) ledger.AccountID {
	t.Helper()
	a, err := f.chart.AddAccount(f.ctx, ledger.NewAccount{
		Code:     code,
		Name:     name,
		Type:     typ,
		ParentID: f.ids[parentCode],
		IsGroup:  group,
	})
	require.NoError(t, err)
	f.ids[a.Code] = a.ID
	return a.ID
}

func (f *fixture) id(code string) ledger.AccountID {
	return f.ids[code]
}

func (f *fixture) balance(t *testing.T, code string) decimal.Decimal {
	t.Helper()
	a, err := f.store.GetAccount(f.ctx, f.id(code))
	require.NoError(t, err)
	return a.Balance
}

// assertYearClosed checks that every revenue and expense leaf nets to zero
// over the fiscal year.
func (f *fixture) assertYearClosed(t *testing.T, year int) {
	t.Helper()
	period := f.closer.FiscalYear(year)
	accounts, err := f.store.ListAccounts(f.ctx, true)
	require.NoError(t, err)
	for _, a := range accounts {
		if a.IsGroup || !a.Type.IsTemporary() {
			continue
		}
		got, err := f.agg.AccountBalance(f.ctx, a.ID, &period.Start, &period.End)
		require.NoError(t, err)
		assertDecimal(t, "0", got, "%s balance for %d", a.Code, year)
	}
}

// postEntry creates and posts a two-line entry.
func (f *fixture) postEntry(t *testing.T, date time.Time, debitCode, creditCode, amount string) ledger.EntryID {
	t.Helper()
	id, err := f.journal.PostEntry(f.ctx, ledger.EntryInput{
		Date:        date,
		Description: "test entry",
		Lines: []ledger.JournalLine{
			dr(f.id(debitCode), amount),
			cr(f.id(creditCode), amount),
		},
	})
	require.NoError(t, err)
	return id
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dr(id ledger.AccountID, amount string) ledger.JournalLine {
	return ledger.JournalLine{AccountID: id, Debit: dec(amount), Credit: decimal.Zero}
}

func cr(id ledger.AccountID, amount string) ledger.JournalLine {
	return ledger.JournalLine{AccountID: id, Debit: decimal.Zero, Credit: dec(amount)}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}
