package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/ledger-engine/budget"
)

// =============================================================================
// BUDGETS
// =============================================================================

// SaveBudget replaces the budget of b's month, items included.
func (s *Store) SaveBudget(ctx context.Context, b budget.Budget) error {
	return s.withTx(ctx, func(c *conn) error {
		if _, err := c.q.ExecContext(ctx,
			"DELETE FROM budgets WHERE year = ? AND month = ?", b.Year, int(b.Month),
		); err != nil {
			return fmt.Errorf("failed to clear budget: %w", err)
		}
		if _, err := c.q.ExecContext(ctx,
			"INSERT INTO budgets (year, month, id, updated_at) VALUES (?, ?, ?, ?)",
			b.Year, int(b.Month), b.ID, formatTime(b.UpdatedAt),
		); err != nil {
			return fmt.Errorf("failed to insert budget: %w", err)
		}
		for i, it := range b.Items {
			if _, err := c.q.ExecContext(ctx, `
				INSERT INTO budget_items (year, month, position, type, target_id, target_name, planned)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				b.Year, int(b.Month), i, string(it.Type), it.TargetID, it.TargetName, it.Planned.String(),
			); err != nil {
				return fmt.Errorf("failed to insert budget item %d: %w", i, err)
			}
		}
		return nil
	})
}

// GetBudget returns the budget of (year, month).
func (s *Store) GetBudget(ctx context.Context, year int, month time.Month) (budget.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := budget.Budget{Year: year, Month: month}
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, updated_at FROM budgets WHERE year = ? AND month = ?", year, int(month),
	).Scan(&b.ID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return budget.Budget{}, fmt.Errorf("%w: %d-%02d", budget.ErrBudgetNotFound, year, month)
	}
	if err != nil {
		return budget.Budget{}, fmt.Errorf("failed to read budget: %w", err)
	}
	b.UpdatedAt = parseTime(updatedAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, target_id, target_name, planned
		FROM budget_items WHERE year = ? AND month = ? ORDER BY position`, year, int(month))
	if err != nil {
		return budget.Budget{}, fmt.Errorf("failed to query budget items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it           budget.Item
			typ, planned string
		)
		if err := rows.Scan(&typ, &it.TargetID, &it.TargetName, &planned); err != nil {
			return budget.Budget{}, fmt.Errorf("failed to scan budget item: %w", err)
		}
		it.Type = budget.ItemType(typ)
		it.Planned = parseAmount(planned)
		b.Items = append(b.Items, it)
	}
	return b, rows.Err()
}

// =============================================================================
// SALES DOCUMENTS
// =============================================================================

// SaveSalesDocument inserts or replaces a document by ID.
func (s *Store) SaveSalesDocument(ctx context.Context, doc budget.SalesDocument) error {
	return s.withTx(ctx, func(c *conn) error {
		if _, err := c.q.ExecContext(ctx, "DELETE FROM sales_documents WHERE id = ?", doc.ID); err != nil {
			return fmt.Errorf("failed to replace sales document: %w", err)
		}
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO sales_documents (id, number, date, status, customer_id, salesperson_id, total)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			doc.ID, doc.Number, formatDate(doc.Date), string(doc.Status),
			doc.CustomerID, doc.SalespersonID, doc.Total.String(),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: %s", budget.ErrDuplicateNumber, doc.Number)
			}
			return fmt.Errorf("failed to insert sales document: %w", err)
		}
		for i, it := range doc.Items {
			if _, err := c.q.ExecContext(ctx, `
				INSERT INTO sales_document_items (document_id, position, product_id, quantity)
				VALUES (?, ?, ?, ?)`,
				doc.ID, i, it.ProductID, it.Quantity.String(),
			); err != nil {
				return fmt.Errorf("failed to insert sales document item %d: %w", i, err)
			}
		}
		return nil
	})
}

// SalesDocuments returns documents dated within [from, to] ordered by date
// and number.
func (s *Store) SalesDocuments(ctx context.Context, from, to time.Time) ([]budget.SalesDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, date, status, customer_id, salesperson_id, total
		FROM sales_documents
		WHERE date >= ? AND date <= ?
		ORDER BY date, number`, formatDate(from), formatDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query sales documents: %w", err)
	}

	var docs []budget.SalesDocument
	for rows.Next() {
		var (
			d                   budget.SalesDocument
			date, status, total string
		)
		if err := rows.Scan(&d.ID, &d.Number, &date, &status, &d.CustomerID, &d.SalespersonID, &total); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan sales document: %w", err)
		}
		d.Date = parseDate(date)
		d.Status = budget.DocumentStatus(status)
		d.Total = parseAmount(total)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range docs {
		items, err := s.documentItems(ctx, docs[i].ID)
		if err != nil {
			return nil, err
		}
		docs[i].Items = items
	}
	return docs, nil
}

func (s *Store) documentItems(ctx context.Context, docID string) ([]budget.SalesItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, quantity FROM sales_document_items
		WHERE document_id = ? ORDER BY position`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales document items: %w", err)
	}
	defer rows.Close()

	var out []budget.SalesItem
	for rows.Next() {
		var (
			it  budget.SalesItem
			qty string
		)
		if err := rows.Scan(&it.ProductID, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan sales document item: %w", err)
		}
		it.Quantity = parseAmount(qty)
		out = append(out, it)
	}
	return out, rows.Err()
}
