package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/warp/ledger-engine/budget"
)

// =============================================================================
// BUDGET STORE - budget.Store and budget.DocumentStore on the memory store
// =============================================================================

type budgetKey struct {
	year  int
	month time.Month
}

// SaveBudget replaces the budget stored for b's month.
func (m *Memory) SaveBudget(_ context.Context, b budget.Budget) error {
	return m.write(func(s *memState) error {
		b.Items = append([]budget.Item(nil), b.Items...)
		s.budgets[budgetKey{b.Year, b.Month}] = b
		return nil
	})
}

// GetBudget returns the budget of (year, month).
func (m *Memory) GetBudget(_ context.Context, year int, month time.Month) (b budget.Budget, err error) {
	err = m.read(func(s *memState) error {
		stored, ok := s.budgets[budgetKey{year, month}]
		if !ok {
			return fmt.Errorf("%w: %d-%02d", budget.ErrBudgetNotFound, year, month)
		}
		b = stored
		b.Items = append([]budget.Item(nil), stored.Items...)
		return nil
	})
	return b, err
}

// SaveSalesDocument inserts or replaces a document by ID. Numbers are
// unique across documents.
func (m *Memory) SaveSalesDocument(_ context.Context, doc budget.SalesDocument) error {
	return m.write(func(s *memState) error {
		for _, d := range s.documents {
			if d.Number == doc.Number && d.ID != doc.ID {
				return fmt.Errorf("%w: %s", budget.ErrDuplicateNumber, doc.Number)
			}
		}
		doc.Items = append([]budget.SalesItem(nil), doc.Items...)
		s.documents[doc.ID] = doc
		return nil
	})
}

// SalesDocuments returns documents dated within [from, to] ordered by date
// and number.
func (m *Memory) SalesDocuments(_ context.Context, from, to time.Time) (out []budget.SalesDocument, err error) {
	err = m.read(func(s *memState) error {
		for _, d := range s.documents {
			if d.Date.Before(from) || d.Date.After(to) {
				continue
			}
			d.Items = append([]budget.SalesItem(nil), d.Items...)
			out = append(out, d)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Number < out[j].Number
	})
	return out, err
}
