package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/ledger"
)

var (
	ErrBudgetNotFound   = errors.New("budget not found")
	ErrDocumentNotFound = errors.New("sales document not found")
	ErrDuplicateNumber  = errors.New("sales document number already used")

	// ErrInvalidBudget also matches ledger.ErrInvalidInput so the HTTP
	// layer maps it like any other bad input.
	ErrInvalidBudget = fmt.Errorf("%w: invalid budget", ledger.ErrInvalidInput)
)

// Store persists budgets. SaveBudget replaces whatever was stored for the
// budget's (Year, Month).
type Store interface {
	SaveBudget(ctx context.Context, b Budget) error
	GetBudget(ctx context.Context, year int, month time.Month) (Budget, error)
}

// DocumentSource reads sales documents dated within [from, to].
type DocumentSource interface {
	SalesDocuments(ctx context.Context, from, to time.Time) ([]SalesDocument, error)
}

// DocumentStore is a DocumentSource that also accepts new documents.
type DocumentStore interface {
	DocumentSource
	SaveSalesDocument(ctx context.Context, doc SalesDocument) error
}

// BalanceSource answers account balance questions. *ledger.Aggregator
// satisfies it.
type BalanceSource interface {
	AccountBalance(ctx context.Context, id ledger.AccountID, from, to *time.Time) (decimal.Decimal, error)
}
