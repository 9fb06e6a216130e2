/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
  Tests that each scenario loads on the SQLite store and leaves the ledger
  in the documented state, so scenarios double as integration tests.
*/
package api

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/store/sqlite"
)

func setupScenarioAPI(t *testing.T) *testAPI {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return newTestAPIOn(t, s)
}

func (a *testAPI) loadScenario(id string) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestScenario_AllScenariosLoadWithoutError(t *testing.T) {
	api := setupScenarioAPI(t)
	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			api.loadScenario(s.ID)

			rec := api.do(http.MethodGet, "/api/scenarios/current", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, s.ID, decodeAs[ScenarioDTO](t, rec).ID)

			rec = api.do(http.MethodGet, "/api/accounts/structure", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.True(t, decodeAs[StructureDTO](t, rec).Valid)

			rec = api.do(http.MethodGet, "/api/reports/trial-balance", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.True(t, decodeAs[TrialBalanceDTO](t, rec).Balanced)
		})
	}
}

func TestScenario_TradingYear(t *testing.T) {
	api := setupScenarioAPI(t)
	api.loadScenario("trading-year")

	rec := api.do(http.MethodGet, "/api/entries?status=posted", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]EntryDTO](t, rec), 11)

	rec = api.do(http.MethodGet, "/api/entries?status=draft", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	drafts := decodeAs[[]EntryDTO](t, rec)
	require.Len(t, drafts, 1)
	assert.Equal(t, "2025-01-05", drafts[0].Date)

	rec = api.do(http.MethodGet, "/api/entries?source=payroll", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]EntryDTO](t, rec), 1, "PAYROLL- references are tagged as payroll")
}

func TestScenario_YearEndClose(t *testing.T) {
	// GIVEN: The trading year
	// WHEN: The year-end-close scenario loads
	// THEN: Net income 15120 - 10850 = 4270 sits in retained earnings and
	//       2024 is locked

	api := setupScenarioAPI(t)
	api.loadScenario("year-end-close")

	rec := api.do(http.MethodGet, "/api/admin/closing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-12-31", decodeAs[ClosingStateDTO](t, rec).LastClosedDate)

	rec = api.do(http.MethodGet, "/api/entries?source=closing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	closing := decodeAs[[]EntryDTO](t, rec)
	require.Len(t, closing, 1)
	assert.True(t, closing[0].TotalDebit.Equal(closing[0].TotalCredit))

	rec = api.do(http.MethodGet, "/api/accounts?trashed=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, a := range decodeAs[[]AccountDTO](t, rec) {
		switch {
		case a.Code == "32":
			assert.True(t, a.Balance.Equal(decimal.NewFromInt(4270)), "retained earnings %s", a.Balance)
		case a.Type == "revenue" || a.Type == "expense":
			assert.True(t, a.Balance.IsZero(), "%s still has %s", a.Code, a.Balance)
		}
	}

	rec = api.do(http.MethodPost, "/api/admin/close-year", CloseYearRequest{Year: 2024})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestScenario_BudgetReview(t *testing.T) {
	api := setupScenarioAPI(t)
	api.loadScenario("budget-review")

	rec := api.do(http.MethodGet, "/api/budgets/2024/3/variance", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeAs[VarianceDTO](t, rec)
	require.Len(t, report.Lines, 4)

	want := []int64{6800, 3900, 4200, 80}
	for i, line := range report.Lines {
		assert.True(t, line.Actual.Equal(decimal.NewFromInt(want[i])), "%s actual %s", line.TargetName, line.Actual)
	}
}

func TestScenario_UnknownAndReset(t *testing.T) {
	api := setupScenarioAPI(t)

	rec := api.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	api.loadScenario("trading-year")
	rec = api.do(http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodGet, "/api/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeAs[[]EntryDTO](t, rec))

	rec = api.do(http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null\n", rec.Body.String())
}
