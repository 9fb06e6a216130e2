/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the ledger with realistic
  data for testing and demos. Each scenario seeds the default chart and
  posts a set of entries that demonstrate specific features.

AVAILABLE SCENARIOS:
  chart-only:     The bundled chart of accounts with no activity
  trading-year:   A year of sales, purchases, payroll and one open draft
  year-end-close: The trading year, closed into retained earnings
  budget-review:  One month of activity with a budget and sales documents

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Seed the default chart via factory
 3. Post entries through the journal, like any producer would
 4. Optionally close the year or save a budget

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "year-end-close"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, accts)
 3. Add case to LoadScenario handler

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and error mapping
  - factory/chart.go: Default chart and system account codes
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/budget"
	"github.com/warp/ledger-engine/factory"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "chart-only",
		Name:        "Chart Only",
		Description: "Default trading company chart of accounts with no activity",
	},
	{
		ID:          "trading-year",
		Name:        "Trading Year",
		Description: "Sales, purchases, payroll and expenses across 2024 with one open draft",
	},
	{
		ID:          "year-end-close",
		Name:        "Year-End Close",
		Description: "The 2024 trading year closed into retained earnings",
	},
	{
		ID:          "budget-review",
		Name:        "Budget Review",
		Description: "March 2024 activity against an account and salesperson budget",
	},
}

// ScenarioYear is the fiscal year the demo scenarios post into.
const ScenarioYear = 2024

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the ledger and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	var load func(context.Context, *scenarioAccounts) error
	switch req.ScenarioID {
	case "chart-only":
		load = func(context.Context, *scenarioAccounts) error { return nil }
	case "trading-year":
		load = h.loadTradingYearScenario
	case "year-end-close":
		load = h.loadYearEndCloseScenario
	case "budget-review":
		load = h.loadBudgetReviewScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("no scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	accts, err := h.seedDefaultChart(ctx)
	if err == nil {
		err = load(ctx, accts)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	h.log.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// scenarioAccounts resolves chart codes to account IDs.
type scenarioAccounts struct {
	byCode map[string]ledger.AccountID
}

func (s *scenarioAccounts) id(code string) ledger.AccountID {
	return s.byCode[code]
}

func (h *Handler) seedDefaultChart(ctx context.Context) (*scenarioAccounts, error) {
	defs, err := factory.DefaultChart()
	if err != nil {
		return nil, err
	}
	if _, err := factory.Seed(ctx, h.chart, defs); err != nil {
		return nil, err
	}
	accounts, err := h.chart.Accounts(ctx, false)
	if err != nil {
		return nil, err
	}
	accts := &scenarioAccounts{byCode: make(map[string]ledger.AccountID, len(accounts))}
	for _, a := range accounts {
		accts.byCode[a.Code] = a.ID
	}
	return accts, nil
}

// demoEntry is a two-line entry: debit one account, credit another.
type demoEntry struct {
	date        time.Time
	reference   string
	description string
	debit       string
	credit      string
	amount      int64
}

func (h *Handler) postDemoEntries(ctx context.Context, accts *scenarioAccounts, entries []demoEntry) error {
	for _, e := range entries {
		amount := decimal.NewFromInt(e.amount)
		_, err := h.journal.PostEntry(ctx, ledger.EntryInput{
			Date:        e.date,
			Description: e.description,
			Reference:   e.reference,
			Lines: []ledger.JournalLine{
				{AccountID: accts.id(e.debit), Debit: amount, Credit: decimal.Zero},
				{AccountID: accts.id(e.credit), Debit: decimal.Zero, Credit: amount},
			},
		})
		if err != nil {
			return fmt.Errorf("post %s: %w", e.reference, err)
		}
	}
	return nil
}

func (h *Handler) loadTradingYearScenario(ctx context.Context, accts *scenarioAccounts) error {
	sys := factory.SystemAccounts
	y := ScenarioYear
	entries := []demoEntry{
		{ledger.Date(y, 1, 2), "OPEN-001", "Owner capital contribution", "1232", "31", 50000},
		{ledger.Date(y, 1, 15), "PUR-001", "Stock purchase", "1213", sys.Suppliers, 12000},
		{ledger.Date(y, 2, 10), "INV-001", "Sale to retail customer", sys.Customers, sys.SalesRevenue, 9000},
		{ledger.Date(y, 2, 10), "INV-001-COGS", "Cost of goods sold", sys.COGS, "1213", 5400},
		{ledger.Date(y, 3, 5), "RCT-001", "Customer payment", "1232", sys.Customers, 9000},
		{ledger.Date(y, 3, 31), "PAYROLL-2024-03", "March salaries", sys.Salaries, "1232", 3500},
		{ledger.Date(y, 6, 12), "INV-002", "Cash sale", sys.Cash, sys.SalesRevenue, 6000},
		{ledger.Date(y, 6, 30), "PAY-001", "Supplier payment", sys.Suppliers, "1232", 12000},
		{ledger.Date(y, 9, 1), "", "Electricity bill", "535", sys.Cash, 450},
		{ledger.Date(y, 11, 20), "", "Bank interest", "1232", "423", 120},
		{ledger.Date(y, 12, 31), "DEP-2024", "Annual depreciation", "533", "112", 1500},
	}
	if err := h.postDemoEntries(ctx, accts, entries); err != nil {
		return err
	}

	_, err := h.journal.CreateDraft(ctx, ledger.EntryInput{
		Date:        ledger.Date(y+1, 1, 5),
		Description: "Prepaid rent (awaiting approval)",
		Lines: []ledger.JournalLine{
			{AccountID: accts.id("535"), Debit: decimal.NewFromInt(800), Credit: decimal.Zero},
			{AccountID: accts.id(sys.Cash), Debit: decimal.Zero, Credit: decimal.NewFromInt(800)},
		},
	})
	return err
}

func (h *Handler) loadYearEndCloseScenario(ctx context.Context, accts *scenarioAccounts) error {
	if err := h.loadTradingYearScenario(ctx, accts); err != nil {
		return err
	}
	period := h.closer.FiscalYear(ScenarioYear)
	_, err := h.closer.CloseFiscalYear(ctx, ScenarioYear, period.End)
	return err
}

func (h *Handler) loadBudgetReviewScenario(ctx context.Context, accts *scenarioAccounts) error {
	sys := factory.SystemAccounts
	y := ScenarioYear
	entries := []demoEntry{
		{ledger.Date(y, 3, 4), "INV-101", "Wholesale order", sys.Customers, sys.SalesRevenue, 4200},
		{ledger.Date(y, 3, 18), "INV-102", "Retail sales", sys.Cash, sys.SalesRevenue, 2600},
		{ledger.Date(y, 3, 31), "PAYROLL-2024-03", "March salaries", sys.Salaries, "1232", 3900},
	}
	if err := h.postDemoEntries(ctx, accts, entries); err != nil {
		return err
	}

	docs := []budget.SalesDocument{
		{Number: "INV-101", Date: ledger.Date(y, 3, 4), CustomerID: "cust-acme", SalespersonID: "sp-maria", Total: decimal.NewFromInt(4200),
			Items: []budget.SalesItem{{ProductID: "prod-widget", Quantity: decimal.NewFromInt(60)}}},
		{Number: "INV-102", Date: ledger.Date(y, 3, 18), CustomerID: "cust-walkin", SalespersonID: "sp-omar", Total: decimal.NewFromInt(2600),
			Items: []budget.SalesItem{{ProductID: "prod-widget", Quantity: decimal.NewFromInt(20)}, {ProductID: "prod-gadget", Quantity: decimal.NewFromInt(10)}}},
	}
	for _, d := range docs {
		if _, err := h.budgets.RecordSale(ctx, d); err != nil {
			return err
		}
	}

	_, err := h.budgets.SaveBudget(ctx, y, time.March, []budget.Item{
		{Type: budget.TargetAccount, TargetID: string(accts.id(sys.SalesRevenue)), TargetName: "Sales revenue", Planned: decimal.NewFromInt(8000)},
		{Type: budget.TargetAccount, TargetID: string(accts.id(sys.Salaries)), TargetName: "Basic salaries", Planned: decimal.NewFromInt(3500)},
		{Type: budget.TargetSalesperson, TargetID: "sp-maria", TargetName: "Maria", Planned: decimal.NewFromInt(4000)},
		{Type: budget.TargetProduct, TargetID: "prod-widget", TargetName: "Widget", Planned: decimal.NewFromInt(100)},
	})
	return err
}
