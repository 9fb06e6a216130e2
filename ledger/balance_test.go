package ledger_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
)

func TestSignedAmount(t *testing.T) {
	assertDecimal(t, "70", ledger.SignedAmount(ledger.AccountAsset, dec("100"), dec("30")))
	assertDecimal(t, "70", ledger.SignedAmount(ledger.AccountExpense, dec("100"), dec("30")))
	assertDecimal(t, "-70", ledger.SignedAmount(ledger.AccountRevenue, dec("100"), dec("30")))
	assertDecimal(t, "-70", ledger.SignedAmount(ledger.AccountLiability, dec("100"), dec("30")))
	assertDecimal(t, "-70", ledger.SignedAmount(ledger.AccountEquity, dec("100"), dec("30")))
}

func TestBalances_IncrementalMatchesRecompute(t *testing.T) {
	// GIVEN: A random sequence of posted entries and leftover drafts
	// WHEN: Comparing cached balances with a full recompute
	// THEN: Every account, group or leaf, agrees

	f := newFixture(t).seedChart(t)
	leaves := []string{"11", "12", "21", "31", "41", "42", "51", "52"}
	rng := rand.New(rand.NewSource(11))

	for i := 0; i < 100; i++ {
		debit := leaves[rng.Intn(len(leaves))]
		credit := leaves[rng.Intn(len(leaves))]
		amount := decimal.New(int64(1+rng.Intn(500000)), -2).String()
		date := ledger.Date(2024, time.Month(1+rng.Intn(12)), 1+rng.Intn(28))
		if rng.Intn(5) == 0 {
			_, err := f.journal.CreateDraft(f.ctx, ledger.EntryInput{
				Date:  date,
				Lines: []ledger.JournalLine{dr(f.id(debit), amount), cr(f.id(credit), amount)},
			})
			require.NoError(t, err)
			continue
		}
		f.postEntry(t, date, debit, credit, amount)
	}

	computed, err := f.agg.Balances(f.ctx, nil, nil)
	require.NoError(t, err)
	accounts, err := f.chart.Accounts(f.ctx, true)
	require.NoError(t, err)
	for _, a := range accounts {
		assert.Truef(t, a.Balance.Equal(computed[a.ID]), "%s cached %s computed %s", a.Code, a.Balance, computed[a.ID])
	}

	summary, err := f.agg.RecalculateAll(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.AccountsFixed)
	assertDecimal(t, "0", summary.DiscrepancyTotal)
}

func TestRecalculateAll_RepairsDrift(t *testing.T) {
	// GIVEN: Cash cached 5 too high
	// WHEN: Recalculating
	// THEN: The drift is reported and repaired; a second run finds nothing

	f := newFixture(t).seedChart(t)
	f.postEntry(t, ledger.Date(2024, 1, 10), "11", "41", "100")
	require.NoError(t, f.store.AddBalanceDeltas(f.ctx, map[ledger.AccountID]decimal.Decimal{f.id("11"): dec("5")}))
	assertDecimal(t, "105", f.balance(t, "11"))

	summary, err := f.agg.RecalculateAll(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.AccountsFixed)
	assertDecimal(t, "5", summary.DiscrepancyTotal)
	assertDecimal(t, "100", f.balance(t, "11"))
	assertDecimal(t, "100", f.balance(t, "1"))

	summary, err = f.agg.RecalculateAll(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.AccountsFixed)
}

func TestAccountBalance_DateRange(t *testing.T) {
	f := newFixture(t).seedChart(t)
	f.postEntry(t, ledger.Date(2024, 1, 10), "11", "41", "100")
	f.postEntry(t, ledger.Date(2024, 2, 10), "11", "41", "40")
	f.postEntry(t, ledger.Date(2024, 3, 10), "52", "11", "25")

	jan31 := ledger.Date(2024, 1, 31)
	b, err := f.agg.AccountBalance(f.ctx, f.id("11"), nil, &jan31)
	require.NoError(t, err)
	assertDecimal(t, "100", b, "balance at date")

	feb := ledger.MonthPeriod(2024, time.February)
	b, err = f.agg.AccountBalance(f.ctx, f.id("41"), &feb.Start, &feb.End)
	require.NoError(t, err)
	assertDecimal(t, "40", b)

	b, err = f.agg.AccountBalance(f.ctx, f.id("1"), nil, nil)
	require.NoError(t, err)
	assertDecimal(t, "115", b, "group rollup")

	_, err = f.agg.AccountBalance(f.ctx, "acct_missing", nil, nil)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestBalances_ReparentMovesGroupRollup(t *testing.T) {
	// GIVEN: Cash under Assets with balance 100, and an empty sub-group
	// WHEN: Moving Cash under the sub-group
	// THEN: The sub-group carries the balance; Assets still does

	f := newFixture(t).seedChart(t)
	f.postEntry(t, ledger.Date(2024, 1, 10), "11", "41", "100")
	f.add(t, "13", "Current assets", "", "1", true)

	require.NoError(t, f.chart.ReparentAccount(f.ctx, f.id("11"), f.id("13")))

	assertDecimal(t, "100", f.balance(t, "13"))
	assertDecimal(t, "100", f.balance(t, "1"))
	assertDecimal(t, "100", f.balance(t, "11"))
}

func TestTrialBalance_TotalsAndClosingExclusion(t *testing.T) {
	// GIVEN: A closed 2024
	// WHEN: Running the trial balance with and without closing entries
	// THEN: Both balance; the pre-close view still shows revenue activity

	f := newFixture(t).seedChart(t)
	f.seedYear(t)
	_, err := f.closer.CloseFiscalYear(f.ctx, 2024, time.Time{})
	require.NoError(t, err)

	full, err := f.agg.TrialBalance(f.ctx, ledger.TrialBalanceOptions{})
	require.NoError(t, err)
	assert.True(t, full.TotalDebit.Equal(full.TotalCredit))

	pre, err := f.agg.TrialBalance(f.ctx, ledger.TrialBalanceOptions{ExcludeClosing: true})
	require.NoError(t, err)
	assert.True(t, pre.TotalDebit.Equal(pre.TotalCredit))
	assertDecimal(t, "160000", pre.TotalDebit)

	rows := map[string]ledger.TrialBalanceRow{}
	for _, r := range pre.Rows {
		rows[r.Account.Code] = r
	}
	assertDecimal(t, "70000", rows["41"].Balance)
	_, hasRE := rows["32"]
	assert.False(t, hasRE, "retained earnings only moves in the closing entry")

	for _, r := range full.Rows {
		if r.Account.Code == "41" {
			assertDecimal(t, "0", r.Balance)
		}
	}
}
