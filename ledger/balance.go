/*
balance.go - Balance aggregation from posted journal lines

PURPOSE:
  Derives account balances from posted lines. Two paths produce the same
  numbers:
    - Full recompute:  ComputeBalances over every posted line
    - Incremental:     BalanceDeltas applied at post time
  RecalculateAll rebuilds the cached balances from the full recompute and
  reports how far the cache had drifted.

SIGN CONVENTION:
  Debit-normal (asset, expense):               debit - credit
  Credit-normal (liability, equity, revenue):  credit - debit

GROUP BALANCES:
  A group's balance is the sum of the balances of every leaf below it.
  Incremental posting therefore adds a leaf's signed delta to the leaf
  and to each of its ancestors.

DRAFTS:
  Only lines of posted entries ever contribute. Draft lines are invisible
  to every function in this file.

SEE ALSO:
  - tree.go:    Ancestors / Descendants used for rollups
  - journal.go: Applies BalanceDeltas when posting
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SignedAmount returns the balance effect of a debit/credit pair on an
// account of type t.
func SignedAmount(t AccountType, debit, credit decimal.Decimal) decimal.Decimal {
	if t.IsDebitNormal() {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}

// BalanceDeltas returns the cached-balance change caused by posting lines:
// each leaf's signed delta, also applied to every ancestor of that leaf.
func BalanceDeltas(f *Forest, lines []JournalLine) map[AccountID]decimal.Decimal {
	deltas := make(map[AccountID]decimal.Decimal)
	for _, l := range lines {
		n, ok := f.Node(l.AccountID)
		if !ok {
			continue
		}
		d := SignedAmount(n.Account.Type, l.Debit, l.Credit)
		deltas[l.AccountID] = deltas[l.AccountID].Add(d)
		for _, a := range f.Ancestors(l.AccountID) {
			deltas[a.Account.ID] = deltas[a.Account.ID].Add(d)
		}
	}
	return deltas
}

// ComputeBalances returns the balance of every account in the forest from
// the given posted lines. Accounts without activity map to zero.
func ComputeBalances(f *Forest, lines []PostedLine) map[AccountID]decimal.Decimal {
	leaf := make(map[AccountID]decimal.Decimal, f.Len())
	for _, l := range lines {
		n, ok := f.Node(l.AccountID)
		if !ok {
			continue
		}
		leaf[l.AccountID] = leaf[l.AccountID].Add(SignedAmount(n.Account.Type, l.Debit, l.Credit))
	}

	out := make(map[AccountID]decimal.Decimal, f.Len())
	var rollup func(n *Node) decimal.Decimal
	rollup = func(n *Node) decimal.Decimal {
		sum := leaf[n.Account.ID]
		for _, c := range n.Children {
			sum = sum.Add(rollup(c))
		}
		out[n.Account.ID] = sum
		return sum
	}
	for _, r := range f.Roots {
		rollup(r)
	}
	return out
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// RecalcSummary reports the drift RecalculateAll repaired.
type RecalcSummary struct {
	AccountsFixed    int
	DiscrepancyTotal decimal.Decimal
}

// Aggregator answers balance queries against a store.
type Aggregator struct {
	store TxStore
	log   zerolog.Logger
}

// NewAggregator creates an aggregator over store.
func NewAggregator(store TxStore, opts ...Option) *Aggregator {
	s := newSettings(opts)
	return &Aggregator{store: store, log: s.log}
}

// AccountBalance returns the balance of one account (a group's is the
// rollup of its leaves) over posted lines dated within the optional
// inclusive bounds. A nil from with a non-nil to is a balance at date.
func (a *Aggregator) AccountBalance(ctx context.Context, id AccountID, from, to *time.Time) (decimal.Decimal, error) {
	balances, err := a.Balances(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	b, ok := balances[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return b, nil
}

// Balances returns the balance of every account, live or trashed, over
// posted lines dated within the optional bounds.
func (a *Aggregator) Balances(ctx context.Context, from, to *time.Time) (map[AccountID]decimal.Decimal, error) {
	accounts, err := a.store.ListAccounts(ctx, true)
	if err != nil {
		return nil, err
	}
	lines, err := a.store.PostedLines(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return ComputeBalances(BuildTree(accounts), lines), nil
}

// RecalculateAll overwrites every cached balance with the value computed
// from posted lines. It is safe to run at any time: it reads only posted
// data and the last writer wins.
func (a *Aggregator) RecalculateAll(ctx context.Context) (RecalcSummary, error) {
	var summary RecalcSummary
	err := a.store.WithTx(ctx, func(s Store) error {
		var err error
		summary, err = recalculate(ctx, s)
		return err
	})
	if err != nil {
		return RecalcSummary{}, err
	}
	a.log.Info().
		Int("accounts_fixed", summary.AccountsFixed).
		Str("discrepancy_total", summary.DiscrepancyTotal.String()).
		Msg("balances recalculated")
	return summary, nil
}

func recalculate(ctx context.Context, s Store) (RecalcSummary, error) {
	accounts, err := s.ListAccounts(ctx, true)
	if err != nil {
		return RecalcSummary{}, err
	}
	lines, err := s.PostedLines(ctx, nil, nil)
	if err != nil {
		return RecalcSummary{}, err
	}
	computed := ComputeBalances(BuildTree(accounts), lines)

	summary := RecalcSummary{DiscrepancyTotal: decimal.Zero}
	for _, acct := range accounts {
		diff := acct.Balance.Sub(computed[acct.ID]).Abs()
		if !diff.IsZero() {
			summary.AccountsFixed++
			summary.DiscrepancyTotal = summary.DiscrepancyTotal.Add(diff)
		}
	}
	if err := s.SetBalances(ctx, computed); err != nil {
		return RecalcSummary{}, err
	}
	return summary, nil
}

// =============================================================================
// TRIAL BALANCE
// =============================================================================

// TrialBalanceRow is one leaf account's activity in a trial balance.
type TrialBalanceRow struct {
	Account Account
	Debit   decimal.Decimal
	Credit  decimal.Decimal
	Balance decimal.Decimal
}

// TrialBalance lists leaf activity with grand totals. Totals balance
// whenever every posted entry balanced.
type TrialBalance struct {
	Rows        []TrialBalanceRow
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

// TrialBalanceOptions filters the lines of a trial balance.
type TrialBalanceOptions struct {
	From, To *time.Time

	// ExcludeClosing drops closing entries, giving the pre-close view an
	// income statement needs.
	ExcludeClosing bool
}

// TrialBalance sums posted activity per leaf account.
func (a *Aggregator) TrialBalance(ctx context.Context, opts TrialBalanceOptions) (TrialBalance, error) {
	accounts, err := a.store.ListAccounts(ctx, true)
	if err != nil {
		return TrialBalance{}, err
	}
	lines, err := a.store.PostedLines(ctx, opts.From, opts.To)
	if err != nil {
		return TrialBalance{}, err
	}

	type sums struct{ debit, credit decimal.Decimal }
	byAccount := make(map[AccountID]*sums)
	for _, l := range lines {
		if opts.ExcludeClosing && l.Source == SourceClosing {
			continue
		}
		s, ok := byAccount[l.AccountID]
		if !ok {
			s = &sums{}
			byAccount[l.AccountID] = s
		}
		s.debit = s.debit.Add(l.Debit)
		s.credit = s.credit.Add(l.Credit)
	}

	tb := TrialBalance{TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, acct := range BuildTree(accounts).Accounts() {
		s, ok := byAccount[acct.ID]
		if acct.IsGroup || !ok {
			continue
		}
		tb.Rows = append(tb.Rows, TrialBalanceRow{
			Account: acct,
			Debit:   s.debit,
			Credit:  s.credit,
			Balance: SignedAmount(acct.Type, s.debit, s.credit),
		})
		tb.TotalDebit = tb.TotalDebit.Add(s.debit)
		tb.TotalCredit = tb.TotalCredit.Add(s.credit)
	}
	return tb, nil
}
