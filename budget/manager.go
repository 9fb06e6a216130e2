package budget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/id"
	"github.com/warp/ledger-engine/ledger"
)

// Manager saves budgets, records sales documents and projects variance.
type Manager struct {
	store    Store
	docs     DocumentStore
	balances BalanceSource
	log      zerolog.Logger
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a budget manager.
func NewManager(store Store, docs DocumentStore, balances BalanceSource, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		docs:     docs,
		balances: balances,
		log:      zerolog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// BUDGETS
// =============================================================================

// SaveBudget replaces the budget of (year, month) with items.
func (m *Manager) SaveBudget(ctx context.Context, year int, month time.Month, items []Item) (Budget, error) {
	if err := validateMonth(year, month); err != nil {
		return Budget{}, err
	}
	if err := validateItems(items); err != nil {
		return Budget{}, err
	}

	b := Budget{
		ID:        id.NewBudgetID(),
		Year:      year,
		Month:     month,
		Items:     append([]Item(nil), items...),
		UpdatedAt: m.now(),
	}
	existing, err := m.store.GetBudget(ctx, year, month)
	switch {
	case err == nil:
		b.ID = existing.ID
	case !errors.Is(err, ErrBudgetNotFound):
		return Budget{}, fmt.Errorf("load budget %d-%02d: %w", year, month, err)
	}
	if err := m.store.SaveBudget(ctx, b); err != nil {
		return Budget{}, fmt.Errorf("save budget %d-%02d: %w", year, month, err)
	}
	m.log.Info().Int("year", year).Int("month", int(month)).Int("items", len(items)).Msg("budget saved")
	return b, nil
}

// Budget returns the budget of (year, month).
func (m *Manager) Budget(ctx context.Context, year int, month time.Month) (Budget, error) {
	if err := validateMonth(year, month); err != nil {
		return Budget{}, err
	}
	return m.store.GetBudget(ctx, year, month)
}

// Variance compares the budget of (year, month) with the month's actuals.
func (m *Manager) Variance(ctx context.Context, year int, month time.Month) (Report, error) {
	b, err := m.Budget(ctx, year, month)
	if err != nil {
		return Report{}, err
	}
	period := b.Period()

	var docs []SalesDocument
	if needsDocuments(b.Items) {
		if docs, err = m.docs.SalesDocuments(ctx, period.Start, period.End); err != nil {
			return Report{}, fmt.Errorf("load sales documents: %w", err)
		}
	}

	report := Report{BudgetID: b.ID, Year: year, Month: month, Period: period}
	for _, item := range b.Items {
		actual, err := m.actual(ctx, item, period, docs)
		if err != nil {
			return Report{}, err
		}
		report.Lines = append(report.Lines, NewLine(item, actual))
	}
	return report, nil
}

func (m *Manager) actual(ctx context.Context, item Item, period ledger.Period, docs []SalesDocument) (decimal.Decimal, error) {
	if item.Type == TargetAccount {
		b, err := m.balances.AccountBalance(ctx, ledger.AccountID(item.TargetID), &period.Start, &period.End)
		if err != nil {
			return decimal.Zero, fmt.Errorf("actual for account %s: %w", item.TargetID, err)
		}
		return b.Abs(), nil
	}

	sum := decimal.Zero
	for _, d := range docs {
		if !d.Status.CountsAsActual() {
			continue
		}
		switch item.Type {
		case TargetSalesperson:
			if d.SalespersonID == item.TargetID {
				sum = sum.Add(d.Total)
			}
		case TargetCustomer:
			if d.CustomerID == item.TargetID {
				sum = sum.Add(d.Total)
			}
		case TargetProduct:
			for _, it := range d.Items {
				if it.ProductID == item.TargetID {
					sum = sum.Add(it.Quantity)
				}
			}
		}
	}
	return sum, nil
}

func needsDocuments(items []Item) bool {
	for _, it := range items {
		if it.Type != TargetAccount {
			return true
		}
	}
	return false
}

// =============================================================================
// SALES DOCUMENTS
// =============================================================================

// RecordSale stores a sales document so it counts towards salesperson,
// customer and product actuals.
func (m *Manager) RecordSale(ctx context.Context, doc SalesDocument) (SalesDocument, error) {
	doc.Number = strings.TrimSpace(doc.Number)
	if doc.Number == "" {
		return SalesDocument{}, fmt.Errorf("%w: document number is required", ledger.ErrInvalidInput)
	}
	if doc.Date.IsZero() {
		return SalesDocument{}, fmt.Errorf("%w: document date is required", ledger.ErrInvalidInput)
	}
	if doc.Status == "" {
		doc.Status = DocumentIssued
	}
	if !doc.Status.Valid() {
		return SalesDocument{}, fmt.Errorf("%w: document status %q", ledger.ErrInvalidInput, doc.Status)
	}
	if doc.Total.IsNegative() {
		return SalesDocument{}, fmt.Errorf("%w: document total is negative", ledger.ErrInvalidInput)
	}
	for _, it := range doc.Items {
		if it.ProductID == "" || !it.Quantity.IsPositive() {
			return SalesDocument{}, fmt.Errorf("%w: document items need a product and a positive quantity", ledger.ErrInvalidInput)
		}
	}
	if doc.ID == "" {
		doc.ID = id.NewDocumentID()
	}
	doc.Date = ledger.Day(doc.Date)

	if err := m.docs.SaveSalesDocument(ctx, doc); err != nil {
		return SalesDocument{}, err
	}
	m.log.Debug().Str("document_id", doc.ID).Str("number", doc.Number).Msg("sales document recorded")
	return doc, nil
}
