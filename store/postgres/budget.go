package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/warp/ledger-engine/budget"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// BUDGETS
// =============================================================================

func (s *Store) SaveBudget(ctx context.Context, b budget.Budget) error {
	return s.withTx(ctx, func(c *conn) error {
		if _, err := c.q.Exec(ctx,
			"DELETE FROM budgets WHERE year = $1 AND month = $2", b.Year, int(b.Month),
		); err != nil {
			return fmt.Errorf("failed to clear budget: %w", err)
		}
		if _, err := c.q.Exec(ctx,
			"INSERT INTO budgets (year, month, id, updated_at) VALUES ($1, $2, $3, $4)",
			b.Year, int(b.Month), b.ID, b.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert budget: %w", err)
		}

		batch := &pgx.Batch{}
		for i, it := range b.Items {
			batch.Queue(`
				INSERT INTO budget_items (year, month, position, type, target_id, target_name, planned)
				VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric)`,
				b.Year, int(b.Month), i, string(it.Type), it.TargetID, it.TargetName, it.Planned.String())
		}
		return c.sendBatch(ctx, batch)
	})
}

func (s *Store) GetBudget(ctx context.Context, year int, month time.Month) (budget.Budget, error) {
	b := budget.Budget{Year: year, Month: month}
	err := s.pool.QueryRow(ctx,
		"SELECT id, updated_at FROM budgets WHERE year = $1 AND month = $2", year, int(month),
	).Scan(&b.ID, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return budget.Budget{}, fmt.Errorf("%w: %d-%02d", budget.ErrBudgetNotFound, year, month)
	}
	if err != nil {
		return budget.Budget{}, fmt.Errorf("failed to read budget: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT type, target_id, target_name, planned::text
		FROM budget_items WHERE year = $1 AND month = $2 ORDER BY position`, year, int(month))
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

func (s *Store) SaveSalesDocument(ctx context.Context, doc budget.SalesDocument) error {
	return s.withTx(ctx, func(c *conn) error {
		if _, err := c.q.Exec(ctx, "DELETE FROM sales_documents WHERE id = $1", doc.ID); err != nil {
			return fmt.Errorf("failed to replace sales document: %w", err)
		}
		_, err := c.q.Exec(ctx, `
			INSERT INTO sales_documents (id, number, date, status, customer_id, salesperson_id, total)
			VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric)`,
			doc.ID, doc.Number, doc.Date, string(doc.Status),
			doc.CustomerID, doc.SalespersonID, doc.Total.String(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", budget.ErrDuplicateNumber, doc.Number)
			}
			return fmt.Errorf("failed to insert sales document: %w", err)
		}

		batch := &pgx.Batch{}
		for i, it := range doc.Items {
			batch.Queue(`
				INSERT INTO sales_document_items (document_id, position, product_id, quantity)
				VALUES ($1, $2, $3, $4::text::numeric)`,
				doc.ID, i, it.ProductID, it.Quantity.String())
		}
		return c.sendBatch(ctx, batch)
	})
}

func (s *Store) SalesDocuments(ctx context.Context, from, to time.Time) ([]budget.SalesDocument, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.number, d.date, d.status, d.customer_id, d.salesperson_id, d.total::text,
		       i.product_id, i.quantity::text
		FROM sales_documents d
		LEFT JOIN sales_document_items i ON i.document_id = d.id
		WHERE d.date >= $1 AND d.date <= $2
		ORDER BY d.date, d.number, i.position`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales documents: %w", err)
	}
	defer rows.Close()

	var docs []budget.SalesDocument
	for rows.Next() {
		var (
			d             budget.SalesDocument
			status, total string
			product, qty  *string
		)
		if err := rows.Scan(&d.ID, &d.Number, &d.Date, &status, &d.CustomerID, &d.SalespersonID, &total,
			&product, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan sales document: %w", err)
		}
		if n := len(docs); n == 0 || docs[n-1].ID != d.ID {
			d.Date = ledger.Day(d.Date)
			d.Status = budget.DocumentStatus(status)
			d.Total = parseAmount(total)
			docs = append(docs, d)
		}
		if product != nil && qty != nil {
			last := &docs[len(docs)-1]
			last.Items = append(last.Items, budget.SalesItem{ProductID: *product, Quantity: parseAmount(*qty)})
		}
	}
	return docs, rows.Err()
}

// sendBatch runs every queued statement and reports the first failure.
func (c *conn) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	br := c.q.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("batch statement %d: %w", i, err)
		}
	}
	return br.Close()
}
