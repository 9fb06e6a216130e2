/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS AND DATES:
  Amounts are decimal.Decimal, which encodes as a JSON string ("1500.25")
  and decodes from either a string or a number. Dates are "YYYY-MM-DD".

TYPES:
  Accounts:
    AccountDTO, CreateAccountRequest, ReparentRequest, RenameRequest,
    StructureDTO, BalanceDTO

  Entries:
    EntryDTO, LineDTO, EntryRequest, ValidateRequest, ReverseRequest

  Reports and admin:
    TrialBalanceDTO, RecalcDTO, CloseYearRequest, ClosingReportDTO,
    ClosingStateDTO

  Budgets:
    BudgetDTO, BudgetItemDTO, SaveBudgetRequest, VarianceDTO,
    SalesDocumentRequest

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done by the ledger and budget packages, not in DTOs.
  Decoding only rejects malformed dates.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/budget"
	"github.com/warp/ledger-engine/ledger"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Rule    string `json:"rule,omitempty"`
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountDTO represents an account, optionally with its subtree.
type AccountDTO struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	ParentID       string          `json:"parent_id,omitempty"`
	IsGroup        bool            `json:"is_group"`
	IsActive       bool            `json:"is_active"`
	Balance        decimal.Decimal `json:"balance"`
	DeletedAt      *time.Time      `json:"deleted_at,omitempty"`
	DeletionReason string          `json:"deletion_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Children       []AccountDTO    `json:"children,omitempty"`
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:             string(a.ID),
		Code:           a.Code,
		Name:           a.Name,
		Type:           string(a.Type),
		ParentID:       string(a.ParentID),
		IsGroup:        a.IsGroup,
		IsActive:       a.IsActive,
		Balance:        a.Balance,
		DeletedAt:      a.DeletedAt,
		DeletionReason: a.DeletionReason,
		CreatedAt:      a.CreatedAt,
	}
}

// CreateAccountRequest is the body of POST /api/accounts. An empty code
// asks the chart to allocate the next free child code.
type CreateAccountRequest struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	ParentID string `json:"parent_id"`
	IsGroup  bool   `json:"is_group"`
}

// UnmarshalJSON accepts the older parent_account field as an alias for
// parent_id.
func (r *CreateAccountRequest) UnmarshalJSON(data []byte) error {
	type plain CreateAccountRequest
	var aux struct {
		plain
		ParentAccount string `json:"parent_account"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = CreateAccountRequest(aux.plain)
	if r.ParentID == "" {
		r.ParentID = aux.ParentAccount
	}
	return nil
}

func (r CreateAccountRequest) toNewAccount() ledger.NewAccount {
	return ledger.NewAccount{
		Code:     strings.TrimSpace(r.Code),
		Name:     r.Name,
		Type:     ledger.AccountType(r.Type),
		ParentID: ledger.AccountID(r.ParentID),
		IsGroup:  r.IsGroup,
	}
}

// ReparentRequest moves an account. An empty parent_id makes it a root.
type ReparentRequest struct {
	ParentID string `json:"parent_id"`
}

// RenameRequest renames an account.
type RenameRequest struct {
	Name string `json:"name"`
}

// ViolationDTO is one structural problem of the chart.
type ViolationDTO struct {
	Kind      string `json:"kind"`
	AccountID string `json:"account_id"`
	Code      string `json:"code"`
	Detail    string `json:"detail"`
}

// TreeWarningDTO is an account the tree builder had to re-root.
type TreeWarningDTO struct {
	AccountID string `json:"account_id"`
	ParentID  string `json:"parent_id"`
	Reason    string `json:"reason"`
}

// StructureDTO is the result of a chart structure check.
type StructureDTO struct {
	Valid      bool             `json:"valid"`
	Violations []ViolationDTO   `json:"violations"`
	Warnings   []TreeWarningDTO `json:"warnings"`
}

// BalanceDTO is an account balance over an optional date range.
type BalanceDTO struct {
	AccountID string          `json:"account_id"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
}

// =============================================================================
// JOURNAL ENTRIES
// =============================================================================

// LineDTO is one journal line.
type LineDTO struct {
	AccountID    string          `json:"account_id"`
	Description  string          `json:"description,omitempty"`
	Debit        decimal.Decimal `json:"debit"`
	Credit       decimal.Decimal `json:"credit"`
	CostCenterID string          `json:"cost_center_id,omitempty"`
}

// EntryDTO represents a journal entry in API responses.
type EntryDTO struct {
	ID          string          `json:"id"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Reference   string          `json:"reference,omitempty"`
	Source      string          `json:"source"`
	Status      string          `json:"status"`
	Lines       []LineDTO       `json:"lines"`
	TotalDebit  decimal.Decimal `json:"total_debit"`
	TotalCredit decimal.Decimal `json:"total_credit"`
	ReversalOf  string          `json:"reversal_of,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	PostedAt    *time.Time      `json:"posted_at,omitempty"`
}

func toEntryDTO(e ledger.JournalEntry) EntryDTO {
	debit, credit := e.Totals()
	return EntryDTO{
		ID:          string(e.ID),
		Date:        formatDate(e.Date),
		Description: e.Description,
		Reference:   e.Reference,
		Source:      string(e.Source),
		Status:      string(e.Status),
		Lines:       toLineDTOs(e.Lines),
		TotalDebit:  debit,
		TotalCredit: credit,
		ReversalOf:  string(e.ReversalOf),
		CreatedAt:   e.CreatedAt,
		PostedAt:    e.PostedAt,
	}
}

func toLineDTOs(lines []ledger.JournalLine) []LineDTO {
	out := make([]LineDTO, len(lines))
	for i, l := range lines {
		out[i] = LineDTO{
			AccountID:    string(l.AccountID),
			Description:  l.Description,
			Debit:        l.Debit,
			Credit:       l.Credit,
			CostCenterID: l.CostCenterID,
		}
	}
	return out
}

func fromLineDTOs(lines []LineDTO) []ledger.JournalLine {
	out := make([]ledger.JournalLine, len(lines))
	for i, l := range lines {
		out[i] = ledger.JournalLine{
			AccountID:    ledger.AccountID(l.AccountID),
			Description:  l.Description,
			Debit:        l.Debit,
			Credit:       l.Credit,
			CostCenterID: l.CostCenterID,
		}
	}
	return out
}

// EntryRequest is the body of POST /api/entries and PUT /api/entries/{id}.
// Post asks for an atomic create-and-post.
type EntryRequest struct {
	Date        string    `json:"date"`
	Description string    `json:"description"`
	Reference   string    `json:"reference"`
	Source      string    `json:"source"`
	Lines       []LineDTO `json:"lines"`
	Post        bool      `json:"post"`
}

func (r EntryRequest) toInput() (ledger.EntryInput, error) {
	date, err := parseDate(r.Date)
	if err != nil {
		return ledger.EntryInput{}, err
	}
	return ledger.EntryInput{
		Date:        date,
		Description: r.Description,
		Reference:   r.Reference,
		Source:      ledger.Source(r.Source),
		Lines:       fromLineDTOs(r.Lines),
	}, nil
}

// ValidateRequest is the body of POST /api/entries/validate.
type ValidateRequest struct {
	Lines []LineDTO `json:"lines"`
}

// ReverseRequest is the body of POST /api/entries/{id}/reverse. An empty
// date reverses as of today.
type ReverseRequest struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

// =============================================================================
// REPORTS AND ADMIN
// =============================================================================

// TrialBalanceRowDTO is one leaf account's activity.
type TrialBalanceRowDTO struct {
	AccountID string          `json:"account_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Balance   decimal.Decimal `json:"balance"`
}

// TrialBalanceDTO is a trial balance with grand totals.
type TrialBalanceDTO struct {
	Rows        []TrialBalanceRowDTO `json:"rows"`
	TotalDebit  decimal.Decimal      `json:"total_debit"`
	TotalCredit decimal.Decimal      `json:"total_credit"`
	Balanced    bool                 `json:"balanced"`
}

func toTrialBalanceDTO(tb ledger.TrialBalance) TrialBalanceDTO {
	rows := make([]TrialBalanceRowDTO, len(tb.Rows))
	for i, r := range tb.Rows {
		rows[i] = TrialBalanceRowDTO{
			AccountID: string(r.Account.ID),
			Code:      r.Account.Code,
			Name:      r.Account.Name,
			Type:      string(r.Account.Type),
			Debit:     r.Debit,
			Credit:    r.Credit,
			Balance:   r.Balance,
		}
	}
	return TrialBalanceDTO{
		Rows:        rows,
		TotalDebit:  tb.TotalDebit,
		TotalCredit: tb.TotalCredit,
		Balanced:    tb.TotalDebit.Sub(tb.TotalCredit).Abs().LessThan(ledger.Epsilon),
	}
}

// RecalcDTO reports the drift a recalculation repaired.
type RecalcDTO struct {
	AccountsFixed    int             `json:"accounts_fixed"`
	DiscrepancyTotal decimal.Decimal `json:"discrepancy_total"`
}

// CloseYearRequest is the body of POST /api/admin/close-year. Preview
// computes the closing entry without writing it.
type CloseYearRequest struct {
	Year        int    `json:"year"`
	ClosingDate string `json:"closing_date"`
	Preview     bool   `json:"preview"`
}

// ClosingReportDTO describes a completed or previewed close.
type ClosingReportDTO struct {
	Year           int             `json:"year"`
	PeriodStart    string          `json:"period_start"`
	PeriodEnd      string          `json:"period_end"`
	ClosingDate    string          `json:"closing_date"`
	EntryID        string          `json:"entry_id,omitempty"`
	Reference      string          `json:"reference"`
	TotalRevenue   decimal.Decimal `json:"total_revenue"`
	TotalExpense   decimal.Decimal `json:"total_expense"`
	NetIncome      decimal.Decimal `json:"net_income"`
	AccountsClosed int             `json:"accounts_closed"`
	Lines          []LineDTO       `json:"lines"`
}

func toClosingReportDTO(r ledger.ClosingReport) ClosingReportDTO {
	return ClosingReportDTO{
		Year:           r.Year,
		PeriodStart:    formatDate(r.Period.Start),
		PeriodEnd:      formatDate(r.Period.End),
		ClosingDate:    formatDate(r.ClosingDate),
		EntryID:        string(r.EntryID),
		Reference:      r.Reference,
		TotalRevenue:   r.TotalRevenue,
		TotalExpense:   r.TotalExpense,
		NetIncome:      r.NetIncome,
		AccountsClosed: r.AccountsClosed,
		Lines:          toLineDTOs(r.Lines),
	}
}

// ClosingStateDTO is the persisted closing watermark and lock.
type ClosingStateDTO struct {
	LastClosedDate string `json:"last_closed_date,omitempty"`
	InProgressYear int    `json:"in_progress_year,omitempty"`
}

func toClosingStateDTO(s ledger.ClosingState) ClosingStateDTO {
	dto := ClosingStateDTO{InProgressYear: s.InProgressYear}
	if s.LastClosedDate != nil {
		dto.LastClosedDate = formatDate(*s.LastClosedDate)
	}
	return dto
}

// =============================================================================
// BUDGETS
// =============================================================================

// BudgetItemDTO is one planned target of a monthly budget.
type BudgetItemDTO struct {
	Type       string          `json:"type"`
	TargetID   string          `json:"target_id"`
	TargetName string          `json:"target_name,omitempty"`
	Planned    decimal.Decimal `json:"planned"`
}

// BudgetDTO represents a monthly budget.
type BudgetDTO struct {
	ID        string          `json:"id"`
	Year      int             `json:"year"`
	Month     int             `json:"month"`
	Items     []BudgetItemDTO `json:"items"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func toBudgetDTO(b budget.Budget) BudgetDTO {
	items := make([]BudgetItemDTO, len(b.Items))
	for i, it := range b.Items {
		items[i] = toBudgetItemDTO(it)
	}
	return BudgetDTO{ID: b.ID, Year: b.Year, Month: int(b.Month), Items: items, UpdatedAt: b.UpdatedAt}
}

func toBudgetItemDTO(it budget.Item) BudgetItemDTO {
	return BudgetItemDTO{Type: string(it.Type), TargetID: it.TargetID, TargetName: it.TargetName, Planned: it.Planned}
}

// SaveBudgetRequest replaces every item of a month's budget.
type SaveBudgetRequest struct {
	Items []BudgetItemDTO `json:"items"`
}

func (r SaveBudgetRequest) toItems() []budget.Item {
	items := make([]budget.Item, len(r.Items))
	for i, it := range r.Items {
		items[i] = budget.Item{
			Type:       budget.ItemType(it.Type),
			TargetID:   it.TargetID,
			TargetName: it.TargetName,
			Planned:    it.Planned,
		}
	}
	return items
}

// VarianceLineDTO compares one item's plan with its actual.
type VarianceLineDTO struct {
	BudgetItemDTO
	Actual        decimal.Decimal `json:"actual"`
	Variance      decimal.Decimal `json:"variance"`
	PercentOfPlan decimal.Decimal `json:"percent_of_plan"`
	Status        string          `json:"status"`
}

// VarianceDTO is a budget variance report.
type VarianceDTO struct {
	BudgetID    string            `json:"budget_id"`
	Year        int               `json:"year"`
	Month       int               `json:"month"`
	PeriodStart string            `json:"period_start"`
	PeriodEnd   string            `json:"period_end"`
	Lines       []VarianceLineDTO `json:"lines"`
}

func toVarianceDTO(r budget.Report) VarianceDTO {
	lines := make([]VarianceLineDTO, len(r.Lines))
	for i, l := range r.Lines {
		lines[i] = VarianceLineDTO{
			BudgetItemDTO: toBudgetItemDTO(l.Item),
			Actual:        l.Actual,
			Variance:      l.Variance,
			PercentOfPlan: l.PercentOfPlan,
			Status:        string(l.Status),
		}
	}
	return VarianceDTO{
		BudgetID:    r.BudgetID,
		Year:        r.Year,
		Month:       int(r.Month),
		PeriodStart: formatDate(r.Period.Start),
		PeriodEnd:   formatDate(r.Period.End),
		Lines:       lines,
	}
}

// SalesItemDTO is one product line of a sales document.
type SalesItemDTO struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// SalesDocumentRequest is the body of POST /api/documents/sales.
type SalesDocumentRequest struct {
	Number        string          `json:"number"`
	Date          string          `json:"date"`
	Status        string          `json:"status"`
	CustomerID    string          `json:"customer_id"`
	SalespersonID string          `json:"salesperson_id"`
	Total         decimal.Decimal `json:"total"`
	Items         []SalesItemDTO  `json:"items"`
}

// SalesDocumentDTO represents a stored sales document.
type SalesDocumentDTO struct {
	ID string `json:"id"`
	SalesDocumentRequest
}

func (r SalesDocumentRequest) toDocument() (budget.SalesDocument, error) {
	date, err := parseDate(r.Date)
	if err != nil {
		return budget.SalesDocument{}, err
	}
	items := make([]budget.SalesItem, len(r.Items))
	for i, it := range r.Items {
		items[i] = budget.SalesItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return budget.SalesDocument{
		Number:        r.Number,
		Date:          date,
		Status:        budget.DocumentStatus(r.Status),
		CustomerID:    r.CustomerID,
		SalespersonID: r.SalespersonID,
		Total:         r.Total,
		Items:         items,
	}, nil
}

func toSalesDocumentDTO(d budget.SalesDocument) SalesDocumentDTO {
	items := make([]SalesItemDTO, len(d.Items))
	for i, it := range d.Items {
		items[i] = SalesItemDTO{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return SalesDocumentDTO{
		ID: d.ID,
		SalesDocumentRequest: SalesDocumentRequest{
			Number:        d.Number,
			Date:          formatDate(d.Date),
			Status:        string(d.Status),
			CustomerID:    d.CustomerID,
			SalespersonID: d.SalespersonID,
			Total:         d.Total,
			Items:         items,
		},
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// DATES
// =============================================================================

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

// parseDate accepts "YYYY-MM-DD". The empty string yields the zero time,
// which the ledger rejects where a date is mandatory.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ledger.ErrInvalidInput, s)
	}
	return t, nil
}

// parseDatePtr is parseDate for optional query bounds.
func parseDatePtr(s string) (*time.Time, error) {
	t, err := parseDate(s)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}
