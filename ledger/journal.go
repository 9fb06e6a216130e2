/*
journal.go - Posting engine: the Draft -> Posted lifecycle of journal entries

PURPOSE:
  The only way entries enter and move through the ledger. Producers (the
  manual entry screen, invoice and voucher modules, import tools) create
  drafts or post directly; the engine validates, enforces the closing
  watermark, and keeps cached balances in step with posted lines.

STATE MACHINE:
    (none) --CreateDraft--> draft --Post--> posted
                             |  ^
                   EditDraft +--+   DeleteDraft --> (none)
  posted is terminal. Corrections to a posted entry are made with Reverse,
  which posts a mirror-image entry tagged SourceReversal.

INVARIANTS:
  1. Every persisted entry passed ValidateEntry at its last write
  2. Post re-validates against the current chart before transitioning
  3. At most one Post of an entry succeeds (store-level conditional write);
     every other caller gets a PostingError wrapping ErrAlreadyPosted
  4. No entry is created, edited or posted on or before the watermark
  5. No entry is posted into a fiscal year while that year is being closed
  6. Only manual entries can be edited or deleted through the ledger

EXAMPLE:
  j := ledger.NewJournal(store, ledger.WithLogger(log))
  id, err := j.CreateDraft(ctx, ledger.EntryInput{
      Date: ledger.Date(2025, 3, 1), Description: "Office rent",
      Lines: []ledger.JournalLine{
          {AccountID: rent, Debit: decimal.NewFromInt(900)},
          {AccountID: bank, Credit: decimal.NewFromInt(900)},
      },
  })
  err = j.Post(ctx, id)

SEE ALSO:
  - validate.go: Rules applied on every write
  - balance.go:  BalanceDeltas applied on post
  - closing.go:  Constructs and posts the closing entry itself
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// EntryInput is a candidate entry supplied by a producer.
type EntryInput struct {
	Date        time.Time
	Description string
	Reference   string

	// Source tags the producer. When empty it is derived from Reference.
	Source Source
	Lines  []JournalLine
}

// Journal is the posting engine.
type Journal struct {
	store      TxStore
	log        zerolog.Logger
	fiscal     FiscalCalendar
	now        func() time.Time
	newEntryID func() EntryID
}

// NewJournal creates a posting engine over store.
func NewJournal(store TxStore, opts ...Option) *Journal {
	s := newSettings(opts)
	return &Journal{
		store:      store,
		log:        s.log,
		fiscal:     s.fiscal,
		now:        s.now,
		newEntryID: s.newEntryID,
	}
}

// =============================================================================
// READS
// =============================================================================

// Entry returns a single entry with its lines.
func (j *Journal) Entry(ctx context.Context, id EntryID) (JournalEntry, error) {
	return j.store.GetEntry(ctx, id)
}

// Entries returns entries matching filter.
func (j *Journal) Entries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error) {
	return j.store.ListEntries(ctx, filter)
}

// ValidateEntry checks candidate lines against the current chart without
// persisting anything.
func (j *Journal) ValidateEntry(ctx context.Context, lines []JournalLine) error {
	accounts, err := j.store.ListAccounts(ctx, true)
	if err != nil {
		return err
	}
	return ValidateEntry(lines, LookupFromAccounts(accounts), ValidateOptions{})
}

// =============================================================================
// DRAFTS
// =============================================================================

// CreateDraft validates and persists a new draft entry.
func (j *Journal) CreateDraft(ctx context.Context, in EntryInput) (EntryID, error) {
	entry, err := j.newEntry(in)
	if err != nil {
		return "", err
	}
	err = j.store.WithTx(ctx, func(s Store) error {
		return j.insertDraft(ctx, s, entry)
	})
	if err != nil {
		return "", err
	}
	j.log.Debug().Str("entry_id", string(entry.ID)).Str("source", string(entry.Source)).Msg("draft created")
	return entry.ID, nil
}

// PostEntry creates and posts an entry in one transaction. Document
// modules that never keep drafts use this.
func (j *Journal) PostEntry(ctx context.Context, in EntryInput) (EntryID, error) {
	entry, err := j.newEntry(in)
	if err != nil {
		return "", err
	}
	err = j.store.WithTx(ctx, func(s Store) error {
		if err := j.insertDraft(ctx, s, entry); err != nil {
			return err
		}
		return j.post(ctx, s, entry.ID)
	})
	if err != nil {
		return "", err
	}
	j.log.Info().Str("entry_id", string(entry.ID)).Str("source", string(entry.Source)).Msg("journal entry posted")
	return entry.ID, nil
}

// EditDraft replaces the header and lines of a manual draft.
func (j *Journal) EditDraft(ctx context.Context, id EntryID, in EntryInput) error {
	err := j.store.WithTx(ctx, func(s Store) error {
		existing, err := s.GetEntry(ctx, id)
		if err != nil {
			return &EditError{EntryID: id, Err: err}
		}
		if err := editable(existing); err != nil {
			return &EditError{EntryID: id, Err: err}
		}

		state, err := s.ClosingState(ctx)
		if err != nil {
			return err
		}
		date := Day(in.Date)
		if state.IsClosed(existing.Date) || state.IsClosed(date) {
			return &EditError{EntryID: id, Err: ErrPeriodClosed}
		}

		accounts, err := s.ListAccounts(ctx, true)
		if err != nil {
			return err
		}
		if err := ValidateEntry(in.Lines, LookupFromAccounts(accounts), ValidateOptions{}); err != nil {
			return &EditError{EntryID: id, Err: err}
		}

		existing.Date = date
		existing.Description = in.Description
		existing.Reference = in.Reference
		existing.Lines = cloneLines(in.Lines)
		if err := s.ReplaceDraft(ctx, existing); err != nil {
			return &EditError{EntryID: id, Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}
	j.log.Debug().Str("entry_id", string(id)).Msg("draft edited")
	return nil
}

// DeleteDraft removes a manual draft. Posted entries are never deleted.
func (j *Journal) DeleteDraft(ctx context.Context, id EntryID) error {
	err := j.store.WithTx(ctx, func(s Store) error {
		existing, err := s.GetEntry(ctx, id)
		if err != nil {
			return &EditError{EntryID: id, Err: err}
		}
		if err := editable(existing); err != nil {
			return &EditError{EntryID: id, Err: err}
		}
		if err := s.DeleteDraft(ctx, id); err != nil {
			return &EditError{EntryID: id, Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}
	j.log.Debug().Str("entry_id", string(id)).Msg("draft deleted")
	return nil
}

func editable(e JournalEntry) error {
	if e.IsPosted() {
		return ErrNotDraft
	}
	if !e.Source.IsManual() {
		return ErrMachineGenerated
	}
	return nil
}

// =============================================================================
// POSTING
// =============================================================================

// Post transitions a draft to posted and applies its balance effects.
// A second Post of the same entry returns a PostingError wrapping
// ErrAlreadyPosted and changes nothing.
func (j *Journal) Post(ctx context.Context, id EntryID) error {
	err := j.store.WithTx(ctx, func(s Store) error {
		return j.post(ctx, s, id)
	})
	if err != nil {
		j.log.Debug().Err(err).Str("entry_id", string(id)).Msg("post refused")
		return err
	}
	j.log.Info().Str("entry_id", string(id)).Msg("journal entry posted")
	return nil
}

func (j *Journal) post(ctx context.Context, s Store, id EntryID) error {
	entry, err := s.GetEntry(ctx, id)
	if err != nil {
		return &PostingError{EntryID: id, Err: err}
	}
	if entry.IsPosted() {
		return &PostingError{EntryID: id, Err: ErrAlreadyPosted}
	}

	state, err := s.ClosingState(ctx)
	if err != nil {
		return err
	}
	if state.InProgressYear != 0 && state.InProgressYear == j.fiscal.YearOf(entry.Date) {
		return &PostingError{EntryID: id, Err: ErrClosingInProgress}
	}
	if state.IsClosed(entry.Date) {
		return &PostingError{EntryID: id, Err: ErrPeriodClosed}
	}

	accounts, err := s.ListAccounts(ctx, true)
	if err != nil {
		return err
	}
	if err := ValidateEntry(entry.Lines, LookupFromAccounts(accounts), ValidateOptions{}); err != nil {
		return &PostingError{EntryID: id, Err: err}
	}

	if err := applyPosting(ctx, s, entry, accounts, j.now()); err != nil {
		return &PostingError{EntryID: id, Err: err}
	}
	return nil
}

// applyPosting performs the conditional transition and the incremental
// balance update. The caller has already validated the entry.
func applyPosting(ctx context.Context, s Store, entry JournalEntry, accounts []Account, at time.Time) error {
	if err := s.MarkPosted(ctx, entry.ID, at); err != nil {
		return err
	}
	return s.AddBalanceDeltas(ctx, BalanceDeltas(BuildTree(accounts), entry.Lines))
}

// =============================================================================
// REVERSAL
// =============================================================================

// Reverse posts a mirror image of a posted entry dated date (today when
// zero). The original stays untouched; the pair nets to zero.
func (j *Journal) Reverse(ctx context.Context, id EntryID, date time.Time, reason string) (EntryID, error) {
	if date.IsZero() {
		date = j.now()
	}
	var reversalID EntryID
	err := j.store.WithTx(ctx, func(s Store) error {
		original, err := s.GetEntry(ctx, id)
		if err != nil {
			return &PostingError{EntryID: id, Err: err}
		}
		if !original.IsPosted() {
			return &PostingError{EntryID: id, Err: ErrNotPosted}
		}
		if original.Source == SourceClosing || original.Source == SourceReversal {
			return &PostingError{EntryID: id, Err: ErrMachineGenerated}
		}

		reversed := SourceReversal
		existing, err := s.ListEntries(ctx, EntryFilter{Source: &reversed})
		if err != nil {
			return err
		}
		for _, e := range existing {
			if e.ReversalOf == id {
				return &PostingError{EntryID: id, Err: ErrAlreadyReversed}
			}
		}

		lines := make([]JournalLine, len(original.Lines))
		for i, l := range original.Lines {
			lines[i] = JournalLine{
				AccountID:    l.AccountID,
				Description:  l.Description,
				Debit:        l.Credit,
				Credit:       l.Debit,
				CostCenterID: l.CostCenterID,
			}
		}
		description := "Reversal of " + string(id)
		if reason != "" {
			description += ": " + reason
		}
		entry := JournalEntry{
			ID:          j.newEntryID(),
			Date:        Day(date),
			Description: description,
			Reference:   original.Reference,
			Source:      SourceReversal,
			Status:      StatusDraft,
			Lines:       lines,
			ReversalOf:  id,
			CreatedAt:   j.now(),
		}
		if err := j.insertDraft(ctx, s, entry); err != nil {
			return err
		}
		reversalID = entry.ID
		return j.post(ctx, s, entry.ID)
	})
	if err != nil {
		return "", err
	}
	j.log.Info().Str("entry_id", string(id)).Str("reversal_id", string(reversalID)).Msg("journal entry reversed")
	return reversalID, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (j *Journal) newEntry(in EntryInput) (JournalEntry, error) {
	if in.Date.IsZero() {
		return JournalEntry{}, fmt.Errorf("%w: entry date is required", ErrInvalidInput)
	}
	source := in.Source
	if source == "" {
		source = SourceFromReference(in.Reference)
	}
	if !source.Valid() {
		return JournalEntry{}, fmt.Errorf("%w: unknown source %q", ErrInvalidInput, source)
	}
	if source == SourceClosing || source == SourceReversal {
		return JournalEntry{}, fmt.Errorf("%w: source %q is reserved", ErrInvalidInput, source)
	}
	return JournalEntry{
		ID:          j.newEntryID(),
		Date:        Day(in.Date),
		Description: in.Description,
		Reference:   in.Reference,
		Source:      source,
		Status:      StatusDraft,
		Lines:       cloneLines(in.Lines),
		CreatedAt:   j.now(),
	}, nil
}

func (j *Journal) insertDraft(ctx context.Context, s Store, entry JournalEntry) error {
	state, err := s.ClosingState(ctx)
	if err != nil {
		return err
	}
	if state.IsClosed(entry.Date) {
		return fmt.Errorf("create entry dated %s: %w", entry.Date.Format(time.DateOnly), ErrPeriodClosed)
	}
	accounts, err := s.ListAccounts(ctx, true)
	if err != nil {
		return err
	}
	if err := ValidateEntry(entry.Lines, LookupFromAccounts(accounts), ValidateOptions{}); err != nil {
		return err
	}
	return s.InsertEntry(ctx, entry)
}

func cloneLines(lines []JournalLine) []JournalLine {
	out := make([]JournalLine, len(lines))
	for i, l := range lines {
		if l.Debit.IsZero() {
			l.Debit = decimal.Zero
		}
		if l.Credit.IsZero() {
			l.Credit = decimal.Zero
		}
		out[i] = l
	}
	return out
}

// IsPostingConflict reports whether err means the entry was already posted
// by someone else.
func IsPostingConflict(err error) bool {
	var pe *PostingError
	return errors.As(err, &pe) && errors.Is(pe.Err, ErrAlreadyPosted)
}
