package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
)

type countingRecalc struct {
	calls atomic.Int32
	err   error
}

func (c *countingRecalc) RecalculateAll(context.Context) (ledger.RecalcSummary, error) {
	c.calls.Add(1)
	return ledger.RecalcSummary{AccountsFixed: 1, DiscrepancyTotal: decimal.NewFromInt(5)}, c.err
}

func TestReconciler_RunsOnStartAndTick(t *testing.T) {
	rc := &countingRecalc{}
	rec := NewReconciler(rc, zerolog.Nop())
	rec.Interval = 10 * time.Millisecond

	rec.Start()
	rec.Start() // second start is a no-op
	require.Eventually(t, func() bool { return rc.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	rec.Stop()

	after := rc.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, rc.calls.Load(), "no runs after Stop")
	rec.Stop() // idempotent
}

func TestReconciler_Disabled(t *testing.T) {
	rc := &countingRecalc{}
	rec := NewReconciler(rc, zerolog.Nop())
	rec.Enabled = false

	rec.Start()
	rec.Stop()
	assert.Zero(t, rc.calls.Load())
}

func TestReconciler_RunNow(t *testing.T) {
	rc := &countingRecalc{}
	rec := NewReconciler(rc, zerolog.Nop())

	summary, err := rec.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AccountsFixed)

	rc.err = errors.New("database is locked")
	_, err = rec.RunNow(context.Background())
	assert.Error(t, err)
}

func TestReconciler_RepairsDrift(t *testing.T) {
	// GIVEN: A posted entry whose cached balance was tampered with
	// WHEN: The reconciler runs against the real aggregator
	// THEN: The cache matches the posted lines again

	api := newTestAPI(t)
	c := api.seedChart()
	ctx := context.Background()
	_, err := api.handler.journal.PostEntry(ctx, ledger.EntryInput{
		Date: ledger.Date(2024, 1, 2),
		Lines: []ledger.JournalLine{
			{AccountID: ledger.AccountID(c.cash), Debit: decimal.NewFromInt(40), Credit: decimal.Zero},
			{AccountID: ledger.AccountID(c.sales), Debit: decimal.Zero, Credit: decimal.NewFromInt(40)},
		},
	})
	require.NoError(t, err)
	require.NoError(t, api.handler.store.AddBalanceDeltas(ctx, map[ledger.AccountID]decimal.Decimal{
		ledger.AccountID(c.cash): decimal.NewFromInt(7),
	}))

	summary, err := NewReconciler(api.handler.Aggregator(), zerolog.Nop()).RunNow(ctx)
	require.NoError(t, err)
	assert.Positive(t, summary.AccountsFixed)

	acct, err := api.handler.chart.Account(ctx, ledger.AccountID(c.cash))
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(decimal.NewFromInt(40)))
}
