package factory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
)

func TestDefaultChart_SeedsAValidTree(t *testing.T) {
	// GIVEN: An empty ledger
	// WHEN: Seeding the bundled chart twice
	// THEN: Every account exists once, the tree has no violations and the
	//       system accounts resolve to postable leaves

	ctx := context.Background()
	s := store.NewMemory()
	chart := ledger.NewChart(s)

	defs, err := DefaultChart()
	require.NoError(t, err)

	created, err := Seed(ctx, chart, defs)
	require.NoError(t, err)
	assert.Equal(t, len(defs.Accounts), created)

	again, err := Seed(ctx, chart, defs)
	require.NoError(t, err)
	assert.Zero(t, again, "seeding is idempotent")

	violations, _, err := chart.ValidateStructure(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)

	accounts, err := chart.Accounts(ctx, false)
	require.NoError(t, err)
	byCode := map[string]ledger.Account{}
	for _, a := range accounts {
		byCode[a.Code] = a
	}
	for _, code := range []string{SystemAccounts.Cash, SystemAccounts.SalesRevenue, SystemAccounts.COGS, SystemAccounts.RetainedEarnings} {
		a, ok := byCode[code]
		require.True(t, ok, code)
		assert.False(t, a.IsGroup, code)
	}
	assert.Equal(t, ledger.AccountEquity, byCode["32"].Type)
	assert.Equal(t, ledger.AccountExpense, byCode["5312"].Type, "children inherit the root type")
}

func TestDefaultChart_SupportsClosing(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	chart := ledger.NewChart(s)
	defs, err := DefaultChart()
	require.NoError(t, err)
	_, err = Seed(ctx, chart, defs)
	require.NoError(t, err)

	accounts, err := chart.Accounts(ctx, false)
	require.NoError(t, err)
	id := map[string]ledger.AccountID{}
	for _, a := range accounts {
		id[a.Code] = a.ID
	}

	_, err = ledger.NewJournal(s).PostEntry(ctx, ledger.EntryInput{
		Date: ledger.Date(2024, 5, 1),
		Lines: []ledger.JournalLine{
			{AccountID: id[SystemAccounts.Cash], Debit: decimal.NewFromInt(500), Credit: decimal.Zero},
			{AccountID: id[SystemAccounts.SalesRevenue], Debit: decimal.Zero, Credit: decimal.NewFromInt(500)},
		},
	})
	require.NoError(t, err)

	report, err := ledger.NewCloser(s, SystemAccounts.RetainedEarnings).CloseFiscalYear(ctx, 2024, ledger.Date(2024, 12, 31))
	require.NoError(t, err)
	assert.True(t, report.NetIncome.Equal(decimal.NewFromInt(500)))
}

func TestParseChart_Errors(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"malformed", `{"accounts": [`, "failed to parse"},
		{"empty", `{"accounts": []}`, "no accounts"},
		{"root without type", `{"accounts": [{"code": "1", "name": "A"}]}`, "invalid type"},
		{"parent after child", `{"accounts": [
			{"code": "11", "name": "B", "parent_code": "1"},
			{"code": "1", "name": "A", "type": "asset", "is_group": true}]}`, "before it is defined"},
		{"leaf parent", `{"accounts": [
			{"code": "1", "name": "A", "type": "asset"},
			{"code": "11", "name": "B", "parent_code": "1"}]}`, "not a group"},
		{"type mismatch", `{"accounts": [
			{"code": "1", "name": "A", "type": "asset", "is_group": true},
			{"code": "11", "name": "B", "type": "expense", "parent_code": "1"}]}`, "under asset parent"},
		{"duplicate", `{"accounts": [
			{"code": "1", "name": "A", "type": "asset", "is_group": true},
			{"code": "1", "name": "B", "type": "asset"}]}`, "duplicate code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChart([]byte(tt.json))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSeed_KeepsExistingAccounts(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	chart := ledger.NewChart(s)
	_, err := chart.AddAccount(ctx, ledger.NewAccount{Code: "1", Name: "My assets", Type: ledger.AccountAsset, IsGroup: true})
	require.NoError(t, err)

	created, err := Seed(ctx, chart, ChartJSON{Accounts: []AccountJSON{
		{Code: "1", Name: "Assets", Type: "asset", IsGroup: true},
		{Code: "11", Name: "Cash", ParentCode: "1"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	accounts, err := chart.Accounts(ctx, false)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "My assets", accounts[0].Name)
}
