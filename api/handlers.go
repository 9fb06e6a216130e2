/*
handlers.go - HTTP API handlers for the general ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the ledger and budget packages.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                  Chart as a tree with balances
                                          (?trashed=true for a flat list
                                          including the recycle bin)
    POST   /api/accounts                  Add account
    GET    /api/accounts/structure        Structural check of the chart
    GET    /api/accounts/{id}             Get account
    GET    /api/accounts/{id}/balance     Balance (?from=&to=)
    POST   /api/accounts/{id}/reparent    Move under another group
    POST   /api/accounts/{id}/rename      Rename
    POST   /api/accounts/{id}/activate    Allow postings
    POST   /api/accounts/{id}/deactivate  Block postings
    DELETE /api/accounts/{id}             Move to recycle bin (?reason=)
    POST   /api/accounts/{id}/restore     Restore from recycle bin

  Entries:
    GET    /api/entries                   List (?status=&source=&from=&to=)
    POST   /api/entries                   Create draft ("post": true posts)
    POST   /api/entries/validate          Dry-run validation
    GET    /api/entries/{id}              Get entry
    PUT    /api/entries/{id}              Edit draft
    DELETE /api/entries/{id}              Delete draft
    POST   /api/entries/{id}/post         Post draft
    POST   /api/entries/{id}/reverse      Post a reversing entry

  Reports and admin:
    GET    /api/reports/trial-balance     (?from=&to=&exclude_closing=)
    POST   /api/admin/recalculate         Rebuild cached balances
    POST   /api/admin/close-year          Close (or preview) a fiscal year
    GET    /api/admin/closing             Closing watermark and lock

  Budgets:
    GET    /api/budgets/{year}/{month}
    PUT    /api/budgets/{year}/{month}
    GET    /api/budgets/{year}/{month}/variance
    POST   /api/documents/sales           Record a sales document

ARCHITECTURE:
  Handler struct holds all dependencies:
  - store: The backend (memory, SQLite or Postgres)
  - chart, journal, agg, closer: ledger services over the store
  - budgets: budget manager reading balances through agg

ERROR HANDLING:
  Errors are returned as {"error", "details", "rule"} with status:
  - 400: Malformed request or invalid input
  - 422: Entry validation or chart structure rule broken (rule is set)
  - 404: Account, entry or budget not found
  - 409: Conflict with ledger state (posted, closed, duplicate, locked)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/warp/ledger-engine/budget"
	"github.com/warp/ledger-engine/ledger"
)

// Backend is the storage the API runs on. The memory, SQLite and Postgres
// stores all satisfy it.
type Backend interface {
	ledger.TxStore
	budget.Store
	budget.DocumentStore
	Reset(ctx context.Context) error
}

// Settings carries the accounting conventions the handlers apply.
type Settings struct {
	RetainedEarningsCode string
	Fiscal               ledger.FiscalCalendar
	Logger               zerolog.Logger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	store   Backend
	chart   *ledger.Chart
	journal *ledger.Journal
	agg     *ledger.Aggregator
	closer  *ledger.Closer
	budgets *budget.Manager
	log     zerolog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over store.
func NewHandler(store Backend, s Settings) *Handler {
	if s.RetainedEarningsCode == "" {
		s.RetainedEarningsCode = ledger.DefaultRetainedEarningsCode
	}
	opts := []ledger.Option{ledger.WithLogger(s.Logger), ledger.WithFiscalCalendar(s.Fiscal)}
	agg := ledger.NewAggregator(store, opts...)
	return &Handler{
		store:   store,
		chart:   ledger.NewChart(store, opts...),
		journal: ledger.NewJournal(store, opts...),
		agg:     agg,
		closer:  ledger.NewCloser(store, s.RetainedEarningsCode, opts...),
		budgets: budget.NewManager(store, store, agg, budget.WithLogger(s.Logger)),
		log:     s.Logger,
	}
}

// Aggregator exposes the balance aggregator for the drift reconciler.
func (h *Handler) Aggregator() *ledger.Aggregator {
	return h.agg
}

// =============================================================================
// ACCOUNT ENDPOINTS
// =============================================================================

// ListAccounts returns the chart as a tree of live accounts, or every
// account (trash included) as a flat list when ?trashed=true.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.URL.Query().Get("trashed") == "true" {
		accounts, err := h.chart.Accounts(ctx, true)
		if err != nil {
			h.fail(w, r, "Failed to list accounts", err)
			return
		}
		dtos := make([]AccountDTO, len(accounts))
		for i, a := range accounts {
			dtos[i] = toAccountDTO(a)
		}
		writeJSON(w, http.StatusOK, dtos)
		return
	}

	forest, err := h.chart.Tree(ctx)
	if err != nil {
		h.fail(w, r, "Failed to build account tree", err)
		return
	}
	var toDTO func(n *ledger.Node) AccountDTO
	toDTO = func(n *ledger.Node) AccountDTO {
		dto := toAccountDTO(n.Account)
		for _, c := range n.Children {
			dto.Children = append(dto.Children, toDTO(c))
		}
		return dto
	}
	roots := make([]AccountDTO, 0, len(forest.Roots))
	for _, n := range forest.Roots {
		roots = append(roots, toDTO(n))
	}
	writeJSON(w, http.StatusOK, roots)
}

// CreateAccount adds an account to the chart.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !decode(w, r, &req) {
		return
	}
	acct, err := h.chart.AddAccount(r.Context(), req.toNewAccount())
	if err != nil {
		h.fail(w, r, "Failed to create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acct))
}

// GetStructure reports structural violations and re-rooted accounts.
func (h *Handler) GetStructure(w http.ResponseWriter, r *http.Request) {
	violations, warnings, err := h.chart.ValidateStructure(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to validate chart", err)
		return
	}
	dto := StructureDTO{
		Valid:      len(violations) == 0,
		Violations: make([]ViolationDTO, len(violations)),
		Warnings:   make([]TreeWarningDTO, len(warnings)),
	}
	for i, v := range violations {
		dto.Violations[i] = ViolationDTO{Kind: string(v.Kind), AccountID: string(v.AccountID), Code: v.Code, Detail: v.Detail}
	}
	for i, tw := range warnings {
		dto.Warnings[i] = TreeWarningDTO{AccountID: string(tw.AccountID), ParentID: string(tw.ParentID), Reason: tw.Reason}
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetAccount returns one account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.chart.Account(r.Context(), accountID(r))
	if err != nil {
		h.fail(w, r, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// GetAccountBalance computes an account's balance from posted lines.
func (h *Handler) GetAccountBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDatePtr(q.Get("from"))
	if err != nil {
		h.fail(w, r, "Invalid from date", err)
		return
	}
	to, err := parseDatePtr(q.Get("to"))
	if err != nil {
		h.fail(w, r, "Invalid to date", err)
		return
	}
	id := accountID(r)
	balance, err := h.agg.AccountBalance(r.Context(), id, from, to)
	if err != nil {
		h.fail(w, r, "Failed to compute balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID: string(id),
		From:      q.Get("from"),
		To:        q.Get("to"),
		Balance:   balance,
	})
}

// ReparentAccount moves an account under another group.
func (h *Handler) ReparentAccount(w http.ResponseWriter, r *http.Request) {
	var req ReparentRequest
	if !decode(w, r, &req) {
		return
	}
	h.updateAccount(w, r, "Failed to move account", func(ctx context.Context, id ledger.AccountID) error {
		return h.chart.ReparentAccount(ctx, id, ledger.AccountID(req.ParentID))
	})
}

// RenameAccount changes an account's display name.
func (h *Handler) RenameAccount(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if !decode(w, r, &req) {
		return
	}
	h.updateAccount(w, r, "Failed to rename account", func(ctx context.Context, id ledger.AccountID) error {
		return h.chart.RenameAccount(ctx, id, req.Name)
	})
}

// ActivateAccount allows postings to an account again.
func (h *Handler) ActivateAccount(w http.ResponseWriter, r *http.Request) {
	h.updateAccount(w, r, "Failed to activate account", h.chart.ActivateAccount)
}

// DeactivateAccount blocks new postings to an account.
func (h *Handler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	h.updateAccount(w, r, "Failed to deactivate account", h.chart.DeactivateAccount)
}

// TrashAccount moves an account to the recycle bin.
func (h *Handler) TrashAccount(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	h.updateAccount(w, r, "Failed to delete account", func(ctx context.Context, id ledger.AccountID) error {
		return h.chart.TrashAccount(ctx, id, reason)
	})
}

// RestoreAccount takes an account out of the recycle bin.
func (h *Handler) RestoreAccount(w http.ResponseWriter, r *http.Request) {
	h.updateAccount(w, r, "Failed to restore account", h.chart.RestoreAccount)
}

// updateAccount runs fn on the {id} account and answers with the result.
func (h *Handler) updateAccount(w http.ResponseWriter, r *http.Request, message string, fn func(context.Context, ledger.AccountID) error) {
	ctx := r.Context()
	id := accountID(r)
	if err := fn(ctx, id); err != nil {
		h.fail(w, r, message, err)
		return
	}
	accounts, err := h.chart.Accounts(ctx, true)
	if err != nil {
		h.fail(w, r, message, err)
		return
	}
	for _, a := range accounts {
		if a.ID == id {
			writeJSON(w, http.StatusOK, toAccountDTO(a))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ENTRY ENDPOINTS
// =============================================================================

// ListEntries lists journal entries by date.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter ledger.EntryFilter
	if s := q.Get("status"); s != "" {
		status := ledger.EntryStatus(s)
		filter.Status = &status
	}
	if s := q.Get("source"); s != "" {
		source := ledger.Source(s)
		filter.Source = &source
	}
	var err error
	if filter.From, err = parseDatePtr(q.Get("from")); err != nil {
		h.fail(w, r, "Invalid from date", err)
		return
	}
	if filter.To, err = parseDatePtr(q.Get("to")); err != nil {
		h.fail(w, r, "Invalid to date", err)
		return
	}

	entries, err := h.journal.Entries(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list entries", err)
		return
	}
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEntry stores a draft, or posts it atomically when "post" is set.
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.fail(w, r, "Invalid entry", err)
		return
	}

	ctx := r.Context()
	var id ledger.EntryID
	if req.Post {
		id, err = h.journal.PostEntry(ctx, in)
	} else {
		id, err = h.journal.CreateDraft(ctx, in)
	}
	if err != nil {
		h.fail(w, r, "Failed to create entry", err)
		return
	}
	h.writeEntry(w, r, http.StatusCreated, id)
}

// ValidateEntry checks lines against the chart without storing anything.
func (h *Handler) ValidateEntry(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.journal.ValidateEntry(r.Context(), fromLineDTOs(req.Lines)); err != nil {
		h.fail(w, r, "Entry is not valid", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// GetEntry returns one entry with its lines.
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	h.writeEntry(w, r, http.StatusOK, entryID(r))
}

// EditDraft replaces a manual draft's header and lines.
func (h *Handler) EditDraft(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.fail(w, r, "Invalid entry", err)
		return
	}
	id := entryID(r)
	if err := h.journal.EditDraft(r.Context(), id, in); err != nil {
		h.fail(w, r, "Failed to edit entry", err)
		return
	}
	h.writeEntry(w, r, http.StatusOK, id)
}

// DeleteDraft removes a manual draft.
func (h *Handler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	if err := h.journal.DeleteDraft(r.Context(), entryID(r)); err != nil {
		h.fail(w, r, "Failed to delete entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostEntry posts a draft.
func (h *Handler) PostEntry(w http.ResponseWriter, r *http.Request) {
	id := entryID(r)
	if err := h.journal.Post(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to post entry", err)
		return
	}
	h.writeEntry(w, r, http.StatusOK, id)
}

// ReverseEntry posts the mirror image of a posted entry.
func (h *Handler) ReverseEntry(w http.ResponseWriter, r *http.Request) {
	var req ReverseRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		h.fail(w, r, "Invalid reversal date", err)
		return
	}
	id, err := h.journal.Reverse(r.Context(), entryID(r), date, req.Reason)
	if err != nil {
		h.fail(w, r, "Failed to reverse entry", err)
		return
	}
	h.writeEntry(w, r, http.StatusCreated, id)
}

func (h *Handler) writeEntry(w http.ResponseWriter, r *http.Request, status int, id ledger.EntryID) {
	entry, err := h.journal.Entry(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get entry", err)
		return
	}
	writeJSON(w, status, toEntryDTO(entry))
}

// =============================================================================
// REPORT AND ADMIN ENDPOINTS
// =============================================================================

// GetTrialBalance sums posted activity per leaf account.
func (h *Handler) GetTrialBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var opts ledger.TrialBalanceOptions
	var err error
	if opts.From, err = parseDatePtr(q.Get("from")); err != nil {
		h.fail(w, r, "Invalid from date", err)
		return
	}
	if opts.To, err = parseDatePtr(q.Get("to")); err != nil {
		h.fail(w, r, "Invalid to date", err)
		return
	}
	if s := q.Get("exclude_closing"); s != "" {
		if opts.ExcludeClosing, err = strconv.ParseBool(s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid exclude_closing", err)
			return
		}
	}

	tb, err := h.agg.TrialBalance(r.Context(), opts)
	if err != nil {
		h.fail(w, r, "Failed to build trial balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toTrialBalanceDTO(tb))
}

// Recalculate rebuilds every cached balance from posted lines.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	summary, err := h.agg.RecalculateAll(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to recalculate balances", err)
		return
	}
	writeJSON(w, http.StatusOK, RecalcDTO{
		AccountsFixed:    summary.AccountsFixed,
		DiscrepancyTotal: summary.DiscrepancyTotal,
	})
}

// CloseYear closes a fiscal year, or previews the close.
func (h *Handler) CloseYear(w http.ResponseWriter, r *http.Request) {
	var req CloseYearRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.ClosingDate)
	if err != nil {
		h.fail(w, r, "Invalid closing date", err)
		return
	}

	ctx := r.Context()
	var report ledger.ClosingReport
	if req.Preview {
		report, err = h.closer.PreviewClose(ctx, req.Year, date)
	} else {
		report, err = h.closer.CloseFiscalYear(ctx, req.Year, date)
	}
	if err != nil {
		h.fail(w, r, "Failed to close fiscal year", err)
		return
	}
	status := http.StatusCreated
	if req.Preview {
		status = http.StatusOK
	}
	writeJSON(w, status, toClosingReportDTO(report))
}

// GetClosingState returns the closing watermark and lock.
func (h *Handler) GetClosingState(w http.ResponseWriter, r *http.Request) {
	state, err := h.closer.State(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to read closing state", err)
		return
	}
	writeJSON(w, http.StatusOK, toClosingStateDTO(state))
}

// =============================================================================
// BUDGET ENDPOINTS
// =============================================================================

// GetBudget returns a month's budget.
func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	year, month, ok := budgetMonth(w, r)
	if !ok {
		return
	}
	b, err := h.budgets.Budget(r.Context(), year, month)
	if err != nil {
		h.fail(w, r, "Failed to get budget", err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetDTO(b))
}

// SaveBudget replaces a month's budget items.
func (h *Handler) SaveBudget(w http.ResponseWriter, r *http.Request) {
	year, month, ok := budgetMonth(w, r)
	if !ok {
		return
	}
	var req SaveBudgetRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.budgets.SaveBudget(r.Context(), year, month, req.toItems())
	if err != nil {
		h.fail(w, r, "Failed to save budget", err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetDTO(b))
}

// GetVariance compares a month's plan with actuals.
func (h *Handler) GetVariance(w http.ResponseWriter, r *http.Request) {
	year, month, ok := budgetMonth(w, r)
	if !ok {
		return
	}
	report, err := h.budgets.Variance(r.Context(), year, month)
	if err != nil {
		h.fail(w, r, "Failed to compute variance", err)
		return
	}
	writeJSON(w, http.StatusOK, toVarianceDTO(report))
}

// RecordSale stores a sales document for budget actuals.
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req SalesDocumentRequest
	if !decode(w, r, &req) {
		return
	}
	doc, err := req.toDocument()
	if err != nil {
		h.fail(w, r, "Invalid sales document", err)
		return
	}
	doc, err = h.budgets.RecordSale(r.Context(), doc)
	if err != nil {
		h.fail(w, r, "Failed to record sales document", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSalesDocumentDTO(doc))
}

func budgetMonth(w http.ResponseWriter, r *http.Request) (int, time.Month, bool) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return 0, 0, false
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return 0, 0, false
	}
	return year, time.Month(month), true
}

// =============================================================================
// HELPERS
// =============================================================================

func accountID(r *http.Request) ledger.AccountID {
	return ledger.AccountID(chi.URLParam(r, "id"))
}

func entryID(r *http.Request) ledger.EntryID {
	return ledger.EntryID(chi.URLParam(r, "id"))
}

// decode reads a JSON body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps a ledger or budget error to its HTTP status and writes it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, rule := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg(message)
	}
	resp := ErrorResponse{Error: message, Details: err.Error(), Rule: rule}
	writeJSON(w, status, resp)
}

// statusFor returns the HTTP status for err and, for rule violations, the
// name of the broken rule.
func statusFor(err error) (int, string) {
	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		return http.StatusUnprocessableEntity, string(verr.Rule)
	}
	var serr *ledger.StructuralViolation
	if errors.As(err, &serr) {
		return http.StatusUnprocessableEntity, string(serr.Kind)
	}
	switch {
	case ledger.IsNotFound(err), errors.Is(err, budget.ErrBudgetNotFound), errors.Is(err, budget.ErrDocumentNotFound):
		return http.StatusNotFound, ""
	case ledger.IsConflict(err), errors.Is(err, budget.ErrDuplicateNumber):
		return http.StatusConflict, ""
	case ledger.IsClientError(err):
		return http.StatusBadRequest, ""
	}
	return http.StatusInternalServerError, ""
}
