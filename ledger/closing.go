/*
closing.go - Fiscal-year closing: roll revenue and expense into retained earnings

PURPOSE:
  Zeroes every temporary (revenue, expense) leaf for a fiscal year with a
  single posted closing entry, moves the net result to the configured
  retained-earnings account, and advances the watermark so nothing can be
  posted into the closed year afterwards.

PROCEDURE:
  1. Take the logical closing lock (outside the transaction, so concurrent
     Post calls see it and refuse entries dated in this year)
  2. In ONE store transaction:
     a. Lock the closing state row; refuse an already closed year
     b. Refuse a closing date outside the fiscal year, or one followed by
        posted activity later in the same year
     c. Refuse if any draft is dated on or before the fiscal year end
     d. Resolve retained earnings by code (a live equity leaf)
     e. Net debit - credit per temporary leaf over the whole fiscal year
     f. Build lines: positive net -> credit, negative net -> debit;
        the difference goes to retained earnings on the opposite side
     g. Validate, insert, mark posted, apply balance deltas
     h. Move the watermark to the fiscal year end
  3. Release the lock

  Any failure in step 2 rolls back every write of the close.

EXAMPLE:
  Revenue 100,000 (credit) and expenses 60,000 (debit) in 2024 give:
    Dr Revenue          100,000
    Cr Expenses                   60,000
    Cr Retained earnings          40,000

SEE ALSO:
  - period.go:  FiscalCalendar year boundaries
  - journal.go: applyPosting shared with Post
  - store.go:   Closing lock and watermark contract
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultRetainedEarningsCode is the chart code used when none is configured.
const DefaultRetainedEarningsCode = "32"

// ClosingReport describes a completed (or previewed) close.
type ClosingReport struct {
	Year           int
	Period         Period
	ClosingDate    time.Time
	EntryID        EntryID
	Reference      string
	TotalRevenue   decimal.Decimal
	TotalExpense   decimal.Decimal
	NetIncome      decimal.Decimal
	AccountsClosed int
	Lines          []JournalLine
}

// Closer runs the fiscal-year close.
type Closer struct {
	store                TxStore
	retainedEarningsCode string
	log                  zerolog.Logger
	fiscal               FiscalCalendar
	now                  func() time.Time
	newEntryID           func() EntryID
}

// NewCloser creates a Closer that books the net result to the account with
// code retainedEarningsCode.
func NewCloser(store TxStore, retainedEarningsCode string, opts ...Option) *Closer {
	s := newSettings(opts)
	if retainedEarningsCode == "" {
		retainedEarningsCode = DefaultRetainedEarningsCode
	}
	return &Closer{
		store:                store,
		retainedEarningsCode: retainedEarningsCode,
		log:                  s.log,
		fiscal:               s.fiscal,
		now:                  s.now,
		newEntryID:           s.newEntryID,
	}
}

// ClosingReference is the reference carried by the closing entry of year.
func ClosingReference(year int) string {
	return fmt.Sprintf("CLOSE-%d", year)
}

// State returns the current watermark and lock.
func (c *Closer) State(ctx context.Context) (ClosingState, error) {
	return c.store.ClosingState(ctx)
}

// FiscalYear returns the period of the named fiscal year.
func (c *Closer) FiscalYear(year int) Period {
	return c.fiscal.Year(year)
}

// CloseFiscalYear closes year as of closingDate (the fiscal year end when
// zero). A year is closed at most once.
func (c *Closer) CloseFiscalYear(ctx context.Context, year int, closingDate time.Time) (ClosingReport, error) {
	period := c.fiscal.Year(year)
	if closingDate.IsZero() {
		closingDate = period.End
	}
	closingDate = Day(closingDate)

	if err := c.store.AcquireClosingLock(ctx, year); err != nil {
		return ClosingReport{}, &ClosingError{Year: year, Err: err}
	}
	defer func() {
		if err := c.store.ReleaseClosingLock(context.WithoutCancel(ctx), year); err != nil {
			c.log.Error().Err(err).Int("year", year).Msg("failed to release closing lock")
		}
	}()

	var report ClosingReport
	err := c.store.WithTx(ctx, func(s Store) error {
		state, err := s.LockClosingState(ctx)
		if err != nil {
			return err
		}
		if err := c.checkNotClosed(ctx, s, state, year, period, closingDate); err != nil {
			return err
		}

		report, err = c.prepare(ctx, s, year, period, closingDate)
		if err != nil {
			return err
		}

		accounts, err := s.ListAccounts(ctx, true)
		if err != nil {
			return err
		}
		entry := JournalEntry{
			ID:          c.newEntryID(),
			Date:        closingDate,
			Description: fmt.Sprintf("Closing entry for fiscal year %d", year),
			Reference:   report.Reference,
			Source:      SourceClosing,
			Status:      StatusDraft,
			Lines:       report.Lines,
			CreatedAt:   c.now(),
		}
		if err := ValidateEntry(entry.Lines, LookupFromAccounts(accounts), ValidateOptions{AllowInactive: true}); err != nil {
			return err
		}
		if err := s.InsertEntry(ctx, entry); err != nil {
			return err
		}
		if err := applyPosting(ctx, s, entry, accounts, c.now()); err != nil {
			return err
		}
		if err := s.SetLastClosedDate(ctx, period.End); err != nil {
			return err
		}
		report.EntryID = entry.ID
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Int("year", year).Msg("fiscal year close aborted")
		return ClosingReport{}, &ClosingError{Year: year, Err: err}
	}

	c.log.Info().
		Int("year", year).
		Str("entry_id", string(report.EntryID)).
		Str("net_income", report.NetIncome.String()).
		Int("accounts_closed", report.AccountsClosed).
		Msg("fiscal year closed")
	return report, nil
}

// PreviewClose computes the closing entry for year without writing.
func (c *Closer) PreviewClose(ctx context.Context, year int, closingDate time.Time) (ClosingReport, error) {
	period := c.fiscal.Year(year)
	if closingDate.IsZero() {
		closingDate = period.End
	}
	closingDate = Day(closingDate)

	var report ClosingReport
	err := c.store.WithTx(ctx, func(s Store) error {
		state, err := s.ClosingState(ctx)
		if err != nil {
			return err
		}
		if err := c.checkNotClosed(ctx, s, state, year, period, closingDate); err != nil {
			return err
		}
		report, err = c.prepare(ctx, s, year, period, closingDate)
		return err
	})
	if err != nil {
		return ClosingReport{}, &ClosingError{Year: year, Err: err}
	}
	return report, nil
}

func (c *Closer) checkNotClosed(ctx context.Context, s Store, state ClosingState, year int, period Period, closingDate time.Time) error {
	if !period.Contains(closingDate) {
		return fmt.Errorf("%w: %s not in %s", ErrInvalidClosingDate, closingDate.Format(time.DateOnly), period)
	}
	if state.LastClosedDate != nil && !state.LastClosedDate.Before(period.End) {
		return ErrYearAlreadyClosed
	}
	if state.IsClosed(closingDate) {
		return fmt.Errorf("%w: watermark %s", ErrYearAlreadyClosed, state.LastClosedDate.Format(time.DateOnly))
	}

	closing := SourceClosing
	prior, err := s.ListEntries(ctx, EntryFilter{Source: &closing})
	if err != nil {
		return err
	}
	ref := ClosingReference(year)
	for _, e := range prior {
		if e.Reference == ref {
			return fmt.Errorf("%w: entry %s", ErrYearAlreadyClosed, e.ID)
		}
	}
	return nil
}

// prepare computes the closing lines for the whole fiscal year. Drafts from
// earlier years also block, since the watermark would strand them.
func (c *Closer) prepare(ctx context.Context, s Store, year int, period Period, closingDate time.Time) (ClosingReport, error) {
	from, to := period.Start, period.End

	draft := StatusDraft
	drafts, err := s.ListEntries(ctx, EntryFilter{Status: &draft, To: &to})
	if err != nil {
		return ClosingReport{}, err
	}
	if len(drafts) > 0 {
		return ClosingReport{}, fmt.Errorf("%w: %d drafts dated on or before %s", ErrDraftsInPeriod,
			len(drafts), to.Format(time.DateOnly))
	}

	if closingDate.Before(period.End) {
		after := closingDate.AddDate(0, 0, 1)
		posted := StatusPosted
		later, err := s.ListEntries(ctx, EntryFilter{Status: &posted, From: &after, To: &to})
		if err != nil {
			return ClosingReport{}, err
		}
		if len(later) > 0 {
			return ClosingReport{}, fmt.Errorf("%w: %d posted entries dated after %s", ErrInvalidClosingDate,
				len(later), closingDate.Format(time.DateOnly))
		}
	}

	accounts, err := s.ListAccounts(ctx, true)
	if err != nil {
		return ClosingReport{}, err
	}
	byID := make(map[AccountID]Account, len(accounts))
	var retained *Account
	for i, a := range accounts {
		byID[a.ID] = a
		if a.Code == c.retainedEarningsCode && !a.IsTrashed() {
			retained = &accounts[i]
		}
	}
	if retained == nil {
		return ClosingReport{}, fmt.Errorf("%w: retained earnings code %q not in chart", ErrMissingAccountMapping, c.retainedEarningsCode)
	}
	if retained.Type != AccountEquity || retained.IsGroup {
		return ClosingReport{}, fmt.Errorf("%w: retained earnings %q must be an equity leaf", ErrMissingAccountMapping, retained.Code)
	}

	lines, err := s.PostedLines(ctx, &from, &to)
	if err != nil {
		return ClosingReport{}, err
	}

	net := make(map[AccountID]decimal.Decimal)
	report := ClosingReport{
		Year:         year,
		Period:       period,
		ClosingDate:  closingDate,
		Reference:    ClosingReference(year),
		TotalRevenue: decimal.Zero,
		TotalExpense: decimal.Zero,
	}
	for _, l := range lines {
		acct, ok := byID[l.AccountID]
		if !ok {
			return ClosingReport{}, fmt.Errorf("%w: line of entry %s references unknown account %s",
				ErrMissingAccountMapping, l.EntryID, l.AccountID)
		}
		if !acct.Type.IsTemporary() {
			continue
		}
		net[acct.ID] = net[acct.ID].Add(l.Debit.Sub(l.Credit))
		if acct.Type == AccountRevenue {
			report.TotalRevenue = report.TotalRevenue.Add(l.Credit.Sub(l.Debit))
		} else {
			report.TotalExpense = report.TotalExpense.Add(l.Debit.Sub(l.Credit))
		}
	}

	ids := make([]AccountID, 0, len(net))
	for id, n := range net {
		if !n.IsZero() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return byID[ids[i]].Code < byID[ids[j]].Code })

	closingLines := make([]JournalLine, 0, len(ids)+1)
	totalDebit, totalCredit := decimal.Zero, decimal.Zero
	for _, id := range ids {
		n := net[id]
		line := JournalLine{AccountID: id, Description: "Close " + byID[id].Name, Debit: decimal.Zero, Credit: decimal.Zero}
		if n.IsPositive() {
			line.Credit = n
			totalCredit = totalCredit.Add(n)
		} else {
			line.Debit = n.Neg()
			totalDebit = totalDebit.Add(n.Neg())
		}
		closingLines = append(closingLines, line)
	}
	if len(closingLines) == 0 {
		return ClosingReport{}, ErrNothingToClose
	}

	report.NetIncome = totalDebit.Sub(totalCredit)
	switch {
	case report.NetIncome.IsPositive():
		closingLines = append(closingLines, JournalLine{
			AccountID: retained.ID, Description: "Net income", Debit: decimal.Zero, Credit: report.NetIncome,
		})
	case report.NetIncome.IsNegative():
		closingLines = append(closingLines, JournalLine{
			AccountID: retained.ID, Description: "Net loss", Debit: report.NetIncome.Neg(), Credit: decimal.Zero,
		})
	}
	report.Lines = closingLines
	report.AccountsClosed = len(ids)
	return report, nil
}
