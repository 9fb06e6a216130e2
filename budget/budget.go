/*
budget.go - Monthly budgets and their variance against actuals

PURPOSE:
  A budget is a list of planned amounts for one calendar month, each aimed
  at a target: a ledger account, a salesperson, a customer or a product.
  The variance projection compares each plan with what actually happened
  in that month. It is read-only: nothing here writes to the ledger.

ACTUALS:
  account:      |posted balance movement of the account in the month|
                (groups roll up their leaves, drafts never count)
  salesperson:  sum of Total of non-draft sales documents they own
  customer:     sum of Total of non-draft sales documents billed to them
  product:      sum of quantities sold on non-draft sales documents

STATUS:
  percentOfPlan = actual / planned x 100  (0 when nothing was planned)
    > 100  -> danger
    > 85   -> warning
    else   -> success

SEE ALSO:
  - store.go:             Persistence and document boundary
  - ledger/balance.go:    Aggregator.AccountBalance used for account targets
*/
package budget

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/ledger"
)

// ItemType names what a budget item is planned against.
type ItemType string

const (
	TargetAccount     ItemType = "account"
	TargetSalesperson ItemType = "salesperson"
	TargetCustomer    ItemType = "customer"
	TargetProduct     ItemType = "product"
)

// Valid returns true for the known target types.
func (t ItemType) Valid() bool {
	switch t {
	case TargetAccount, TargetSalesperson, TargetCustomer, TargetProduct:
		return true
	}
	return false
}

// Item is one planned amount. Planned is money for every type except
// product, where it is a quantity.
type Item struct {
	Type       ItemType
	TargetID   string
	TargetName string
	Planned    decimal.Decimal
}

// Budget is the plan for one month. It is always saved whole.
type Budget struct {
	ID        string
	Year      int
	Month     time.Month
	Items     []Item
	UpdatedAt time.Time
}

// Period returns the calendar month the budget covers.
func (b Budget) Period() ledger.Period {
	return ledger.MonthPeriod(b.Year, b.Month)
}

// =============================================================================
// SALES DOCUMENTS - the operational boundary feeding non-account actuals
// =============================================================================

// DocumentStatus is the lifecycle state of a sales document.
type DocumentStatus string

const (
	DocumentDraft     DocumentStatus = "draft"
	DocumentIssued    DocumentStatus = "issued"
	DocumentPaid      DocumentStatus = "paid"
	DocumentCancelled DocumentStatus = "cancelled"
)

// Valid returns true for the known statuses.
func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentDraft, DocumentIssued, DocumentPaid, DocumentCancelled:
		return true
	}
	return false
}

// CountsAsActual reports whether a document in this status contributes to
// actuals. Drafts are not sales yet.
func (s DocumentStatus) CountsAsActual() bool {
	return s != DocumentDraft
}

// SalesItem is one product line of a sales document.
type SalesItem struct {
	ProductID string
	Quantity  decimal.Decimal
}

// SalesDocument is an invoice (or similar) produced outside the ledger.
type SalesDocument struct {
	ID            string
	Number        string
	Date          time.Time
	Status        DocumentStatus
	CustomerID    string
	SalespersonID string
	Total         decimal.Decimal
	Items         []SalesItem
}

// =============================================================================
// VARIANCE
// =============================================================================

// Status classifies how much of the plan has been used.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusDanger  Status = "danger"
)

var (
	hundred          = decimal.NewFromInt(100)
	warningThreshold = decimal.NewFromInt(85)
)

// StatusFor classifies a percent-of-plan value.
func StatusFor(percent decimal.Decimal) Status {
	switch {
	case percent.GreaterThan(hundred):
		return StatusDanger
	case percent.GreaterThan(warningThreshold):
		return StatusWarning
	default:
		return StatusSuccess
	}
}

// Line is one item of a variance report.
type Line struct {
	Item          Item
	Actual        decimal.Decimal
	Variance      decimal.Decimal // planned - actual
	PercentOfPlan decimal.Decimal
	Status        Status
}

// NewLine computes variance, percent of plan and status for item.
func NewLine(item Item, actual decimal.Decimal) Line {
	percent := decimal.Zero
	if !item.Planned.IsZero() {
		percent = actual.Div(item.Planned).Mul(hundred).Round(2)
	}
	return Line{
		Item:          item,
		Actual:        actual,
		Variance:      item.Planned.Sub(actual),
		PercentOfPlan: percent,
		Status:        StatusFor(percent),
	}
}

// Report is the variance of one month's budget.
type Report struct {
	BudgetID string
	Year     int
	Month    time.Month
	Period   ledger.Period
	Lines    []Line
}

// validateItems checks a candidate item list before it replaces a budget.
func validateItems(items []Item) error {
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		if !it.Type.Valid() {
			return fmt.Errorf("%w: item %d has unknown type %q", ErrInvalidBudget, i, it.Type)
		}
		if it.TargetID == "" {
			return fmt.Errorf("%w: item %d has no target", ErrInvalidBudget, i)
		}
		if it.Planned.IsNegative() {
			return fmt.Errorf("%w: item %d plans a negative amount", ErrInvalidBudget, i)
		}
		key := string(it.Type) + "/" + it.TargetID
		if seen[key] {
			return fmt.Errorf("%w: %s planned twice", ErrInvalidBudget, key)
		}
		seen[key] = true
	}
	return nil
}

func validateMonth(year int, month time.Month) error {
	if year < 1 || month < time.January || month > time.December {
		return fmt.Errorf("%w: %d-%02d is not a month", ErrInvalidBudget, year, month)
	}
	return nil
}
