package ledger_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// DRAFT -> POSTED
// =============================================================================

func TestJournal_SalesEntryUpdatesLeavesAndGroups(t *testing.T) {
	// GIVEN: Cash and Sales leaves under their groups
	// WHEN: Posting Dr Cash 1500 / Cr Sales 1500
	// THEN: Cash +1500 (debit-normal), Sales +1500 (credit-normal), groups follow

	f := newFixture(t).seedChart(t)

	id, err := f.journal.CreateDraft(f.ctx, ledger.EntryInput{
		Date:      ledger.Date(2024, 3, 15),
		Reference: "INV-0001",
		Lines:     []ledger.JournalLine{dr(f.id("11"), "1500"), cr(f.id("41"), "1500")},
	})
	require.NoError(t, err)

	assertDecimal(t, "0", f.balance(t, "11"), "drafts do not affect balances")

	require.NoError(t, f.journal.Post(f.ctx, id))

	assertDecimal(t, "1500", f.balance(t, "11"))
	assertDecimal(t, "1500", f.balance(t, "41"))
	assertDecimal(t, "1500", f.balance(t, "1"))
	assertDecimal(t, "1500", f.balance(t, "4"))

	entry, err := f.journal.Entry(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPosted, entry.Status)
	assert.Equal(t, ledger.SourceSalesInvoice, entry.Source)
	assert.NotNil(t, entry.PostedAt)
}

func TestJournal_PostTwice_SecondFails(t *testing.T) {
	f := newFixture(t).seedChart(t)
	id, err := f.journal.CreateDraft(f.ctx, ledger.EntryInput{
		Date:  ledger.Date(2024, 1, 2),
		Lines: []ledger.JournalLine{dr(f.id("11"), "10"), cr(f.id("31"), "10")},
	})
	require.NoError(t, err)

	require.NoError(t, f.journal.Post(f.ctx, id))
	err = f.journal.Post(f.ctx, id)

	var pe *ledger.PostingError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, ledger.ErrAlreadyPosted)
	assert.True(t, ledger.IsPostingConflict(err))
	assertDecimal(t, "10", f.balance(t, "11"), "balance applied once")
}

func TestJournal_ConcurrentPost_ExactlyOneSucceeds(t *testing.T) {
	// GIVEN: One draft
	// WHEN: Eight goroutines post it at once
	// THEN: Exactly one succeeds, the others see ErrAlreadyPosted, balances move once

	f := newFixture(t).seedChart(t)
	id, err := f.journal.CreateDraft(f.ctx, ledger.EntryInput{
		Date:  ledger.Date(2024, 5, 1),
		Lines: []ledger.JournalLine{dr(f.id("11"), "250"), cr(f.id("41"), "250")},
	})
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.journal.Post(f.ctx, id)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ledger.ErrAlreadyPosted)
	}
	assert.Equal(t, 1, successes)
	assertDecimal(t, "250", f.balance(t, "11"))
	assertDecimal(t, "250", f.balance(t, "41"))
}

func TestJournal_CreateDraft_RejectsInvalid(t *testing.T) {
	f := newFixture(t).seedChart(t)

	_, err := f.journal.CreateDraft(f.ctx, ledger.EntryInput{
		Date:  ledger.Date(2024, 1, 2),
		Lines: []ledger.JournalLine{dr(f.id("11"), "100"), cr(f.id("41"), "90")},
	})
	var ve *ledger.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ledger.RuleUnbalanced, ve.Rule)

	entries, err := f.journal.Entries(f.ctx, ledger.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing persisted")
}

func TestJournal_CreateDraft_RejectsReservedSource(t *testing.T) {
	f := newFixture(t).seedChart(t)

	_, err := f.journal.CreateDraft(f.ctx, ledger.EntryInput{
		Date:      ledger.Date(2024, 1, 2),
		Reference: "CLOSE-2024",
		Lines:     []ledger.JournalLine{dr(f.id("41"), "1"), cr(f.id("32"), "1")},
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestJournal_PostRevalidatesAgainstCurrentChart(t *testing.T) {
	// GIVEN: A valid draft
	// WHEN: One of its accounts is deactivated before posting
	// THEN: Post fails with the validation rule and nothing changes

	f := newFixture(t).seedChart(t)
	id, err := f.journal.CreateDraft(f.ctx, ledger.EntryInput{
		Date:  ledger.Date(2024, 1, 2),
		Lines: []ledger.JournalLine{dr(f.id("11"), "100"), cr(f.id("42"), "100")},
	})
	require.NoError(t, err)
	require.NoError(t, f.chart.DeactivateAccount(f.ctx, f.id("42")))

	err = f.journal.Post(f.ctx, id)

	var ve *ledger.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ledger.RuleInactiveAccount, ve.Rule)
	entry, err := f.journal.Entry(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDraft, entry.Status)
	assertDecimal(t, "0", f.balance(t, "11"))
}

// =============================================================================
// EDIT / DELETE
// =============================================================================

func TestJournal_EditThenPost(t *testing.T) {
	// GIVEN: Draft Dr Rent 500 / Cr Cash 500 (using Salaries as the expense)
	// WHEN: Edited to 600/600 and posted
	// THEN: Balances reflect 600 only

	f := newFixture(t).seedChart(t)
	id, err := f.journal.CreateDraft(f.ctx, ledger.EntryInput{
		Date:  ledger.Date(2024, 2, 1),
		Lines: []ledger.JournalLine{dr(f.id("52"), "500"), cr(f.id("11"), "500")},
	})
	require.NoError(t, err)

	err = f.journal.EditDraft(f.ctx, id, ledger.EntryInput{
		Date:        ledger.Date(2024, 2, 1),
		Description: "rent, corrected",
		Lines:       []ledger.JournalLine{dr(f.id("52"), "600"), cr(f.id("11"), "600")},
	})
	require.NoError(t, err)
	require.NoError(t, f.journal.Post(f.ctx, id))

	assertDecimal(t, "600", f.balance(t, "52"))
	assertDecimal(t, "-600", f.balance(t, "11"))

	entry, err := f.journal.Entry(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "rent, corrected", entry.Description)
	require.Len(t, entry.Lines, 2)
}

func TestJournal_PostedEntryIsImmutable(t *testing.T) {
	// GIVEN: A posted entry
	// WHEN: Editing or deleting it
	// THEN: Both are refused and the entry is unchanged

	f := newFixture(t).seedChart(t)
	id := f.postEntry(t, ledger.Date(2024, 4, 1), "11", "31", "100")

	err := f.journal.EditDraft(f.ctx, id, ledger.EntryInput{
		Date:  ledger.Date(2024, 4, 1),
		Lines: []ledger.JournalLine{dr(f.id("11"), "1"), cr(f.id("31"), "1")},
	})
	var ee *ledger.EditError
	require.ErrorAs(t, err, &ee)
	assert.ErrorIs(t, err, ledger.ErrNotDraft)

	err = f.journal.DeleteDraft(f.ctx, id)
	assert.ErrorIs(t, err, ledger.ErrNotDraft)

	entry, err := f.journal.Entry(f.ctx, id)
	require.NoError(t, err)
	assertDecimal(t, "100", entry.Lines[0].Debit)
	assertDecimal(t, "100", f.balance(t, "11"))
}

func TestJournal_MachineGeneratedDraftCannotBeEdited(t *testing.T) {
	f := newFixture(t).seedChart(t)
	id, err := f.journal.CreateDraft(f.ctx, ledger.EntryInput{
		Date:      ledger.Date(2024, 1, 5),
		Reference: "INV-0042",
		Lines:     []ledger.JournalLine{dr(f.id("12"), "80"), cr(f.id("41"), "80")},
	})
	require.NoError(t, err)

	err = f.journal.EditDraft(f.ctx, id, ledger.EntryInput{
		Date:  ledger.Date(2024, 1, 5),
		Lines: []ledger.JournalLine{dr(f.id("12"), "81"), cr(f.id("41"), "81")},
	})
	assert.ErrorIs(t, err, ledger.ErrMachineGenerated)

	err = f.journal.DeleteDraft(f.ctx, id)
	assert.ErrorIs(t, err, ledger.ErrMachineGenerated)

	require.NoError(t, f.journal.Post(f.ctx, id), "the owner can still post it")
}

func TestJournal_DeleteDraft(t *testing.T) {
	f := newFixture(t).seedChart(t)
	id, err := f.journal.CreateDraft(f.ctx, ledger.EntryInput{
		Date:  ledger.Date(2024, 1, 5),
		Lines: []ledger.JournalLine{dr(f.id("11"), "1"), cr(f.id("31"), "1")},
	})
	require.NoError(t, err)

	require.NoError(t, f.journal.DeleteDraft(f.ctx, id))

	_, err = f.journal.Entry(f.ctx, id)
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

// =============================================================================
// REVERSAL
// =============================================================================

func TestJournal_ReverseNetsToZero(t *testing.T) {
	f := newFixture(t).seedChart(t)
	id := f.postEntry(t, ledger.Date(2024, 6, 1), "11", "41", "300")

	revID, err := f.journal.Reverse(f.ctx, id, ledger.Date(2024, 6, 2), "wrong customer")
	require.NoError(t, err)

	assertDecimal(t, "0", f.balance(t, "11"))
	assertDecimal(t, "0", f.balance(t, "41"))

	rev, err := f.journal.Entry(f.ctx, revID)
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceReversal, rev.Source)
	assert.Equal(t, id, rev.ReversalOf)
	assert.True(t, rev.IsPosted())

	_, err = f.journal.Reverse(f.ctx, id, ledger.Date(2024, 6, 3), "again")
	assert.ErrorIs(t, err, ledger.ErrAlreadyReversed)
}

func TestJournal_ReverseDraftRefused(t *testing.T) {
	f := newFixture(t).seedChart(t)
	id, err := f.journal.CreateDraft(f.ctx, ledger.EntryInput{
		Date:  ledger.Date(2024, 1, 5),
		Lines: []ledger.JournalLine{dr(f.id("11"), "1"), cr(f.id("31"), "1")},
	})
	require.NoError(t, err)

	_, err = f.journal.Reverse(f.ctx, id, ledger.Date(2024, 1, 6), "")
	assert.ErrorIs(t, err, ledger.ErrNotPosted)
}
