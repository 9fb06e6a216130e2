package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// ADD
// =============================================================================

func TestAddAccount_GeneratesCodeAndInheritsType(t *testing.T) {
	// GIVEN: Group "13" with children 131 and 132
	// WHEN: Adding a child without code or type
	// THEN: It gets code 133 and the asset type

	f := newFixture(t).seedChart(t)
	f.add(t, "13", "Receivables group", "", "1", true)
	f.add(t, "131", "Trade", "", "13", false)
	f.add(t, "132", "Other", "", "13", false)

	a, err := f.chart.AddAccount(f.ctx, ledger.NewAccount{Name: "Staff", ParentID: f.id("13")})
	require.NoError(t, err)

	assert.Equal(t, "133", a.Code)
	assert.Equal(t, ledger.AccountAsset, a.Type)
	assert.True(t, a.IsActive)
	assert.True(t, a.IsPostable())
	assert.Contains(t, string(a.ID), "acct_")
}

func TestAddAccount_GeneratedCodeSkipsTrashed(t *testing.T) {
	f := newFixture(t).seedChart(t)
	f.add(t, "53", "Rent", "", "5", false)
	require.NoError(t, f.chart.TrashAccount(f.ctx, f.id("53"), "typo"))

	code, err := f.chart.NextCode(f.ctx, f.id("5"))
	require.NoError(t, err)
	assert.Equal(t, "54", code, "53 stays reserved while trashed")
}

func TestAddAccount_Refusals(t *testing.T) {
	f := newFixture(t).seedChart(t)

	_, err := f.chart.AddAccount(f.ctx, ledger.NewAccount{Name: "Petty cash", ParentID: f.id("11")})
	var sv *ledger.StructuralViolation
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, ledger.ViolationParentNotGroup, sv.Kind)

	_, err = f.chart.AddAccount(f.ctx, ledger.NewAccount{Name: "Loan", Type: ledger.AccountLiability, ParentID: f.id("1")})
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, ledger.ViolationTypeMismatch, sv.Kind)

	_, err = f.chart.AddAccount(f.ctx, ledger.NewAccount{Code: "11", Name: "Cash again", ParentID: f.id("1")})
	assert.ErrorIs(t, err, ledger.ErrDuplicateCode)

	_, err = f.chart.AddAccount(f.ctx, ledger.NewAccount{Name: "  ", ParentID: f.id("1")})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = f.chart.AddAccount(f.ctx, ledger.NewAccount{Name: "Orphan", ParentID: "acct_missing"})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = f.chart.AddAccount(f.ctx, ledger.NewAccount{Name: "Root without type"})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

// =============================================================================
// UPDATE
// =============================================================================

func TestReparentAccount_Refusals(t *testing.T) {
	f := newFixture(t).seedChart(t)
	f.add(t, "13", "Current", "", "1", true)

	err := f.chart.ReparentAccount(f.ctx, f.id("1"), f.id("13"))
	var sv *ledger.StructuralViolation
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, ledger.ViolationCycle, sv.Kind)

	err = f.chart.ReparentAccount(f.ctx, f.id("11"), f.id("2"))
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, ledger.ViolationTypeMismatch, sv.Kind)

	err = f.chart.ReparentAccount(f.ctx, f.id("11"), f.id("12"))
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, ledger.ViolationParentNotGroup, sv.Kind)
}

func TestSetGroup(t *testing.T) {
	// GIVEN: A leaf with posted lines and a group with children
	// WHEN: Flipping each
	// THEN: Both are refused; an unused leaf converts freely

	f := newFixture(t).seedChart(t)
	f.postEntry(t, ledger.Date(2024, 1, 1), "11", "31", "10")

	assert.ErrorIs(t, f.chart.SetGroup(f.ctx, f.id("11"), true), ledger.ErrAccountInUse)

	err := f.chart.SetGroup(f.ctx, f.id("1"), false)
	var sv *ledger.StructuralViolation
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, ledger.ViolationGroupHasChildren, sv.Kind)

	require.NoError(t, f.chart.SetGroup(f.ctx, f.id("12"), true))
	a, err := f.chart.Account(f.ctx, f.id("12"))
	require.NoError(t, err)
	assert.True(t, a.IsGroup)
}

func TestRenameAndActivation(t *testing.T) {
	f := newFixture(t).seedChart(t)

	require.NoError(t, f.chart.RenameAccount(f.ctx, f.id("11"), "Cash on hand"))
	require.NoError(t, f.chart.DeactivateAccount(f.ctx, f.id("11")))

	a, err := f.chart.Account(f.ctx, f.id("11"))
	require.NoError(t, err)
	assert.Equal(t, "Cash on hand", a.Name)
	assert.False(t, a.IsActive)
	assert.False(t, a.IsPostable())

	require.NoError(t, f.chart.ActivateAccount(f.ctx, f.id("11")))
	a, err = f.chart.Account(f.ctx, f.id("11"))
	require.NoError(t, err)
	assert.True(t, a.IsActive)

	assert.ErrorIs(t, f.chart.RenameAccount(f.ctx, f.id("11"), ""), ledger.ErrInvalidInput)
}

// =============================================================================
// TRASH
// =============================================================================

func TestTrashRestorePurge(t *testing.T) {
	f := newFixture(t).seedChart(t)
	f.add(t, "53", "Rent", "", "5", false)

	require.NoError(t, f.chart.TrashAccount(f.ctx, f.id("53"), "not needed"))

	live, err := f.chart.Accounts(f.ctx, false)
	require.NoError(t, err)
	for _, a := range live {
		assert.NotEqual(t, "53", a.Code)
	}
	a, err := f.chart.Account(f.ctx, f.id("53"))
	require.NoError(t, err)
	assert.True(t, a.IsTrashed())
	assert.Equal(t, "not needed", a.DeletionReason)

	require.NoError(t, f.chart.RestoreAccount(f.ctx, f.id("53")))
	a, err = f.chart.Account(f.ctx, f.id("53"))
	require.NoError(t, err)
	assert.False(t, a.IsTrashed())

	assert.ErrorIs(t, f.chart.PurgeAccount(f.ctx, f.id("53")), ledger.ErrInvalidInput, "live accounts are not purged")

	require.NoError(t, f.chart.TrashAccount(f.ctx, f.id("53"), "again"))
	require.NoError(t, f.chart.PurgeAccount(f.ctx, f.id("53")))
	_, err = f.chart.Account(f.ctx, f.id("53"))
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestTrashAccount_Refusals(t *testing.T) {
	f := newFixture(t).seedChart(t)
	f.postEntry(t, ledger.Date(2024, 1, 1), "11", "31", "10")

	assert.ErrorIs(t, f.chart.TrashAccount(f.ctx, f.id("11"), ""), ledger.ErrNonZeroBalance)

	err := f.chart.TrashAccount(f.ctx, f.id("2"), "")
	var sv *ledger.StructuralViolation
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, ledger.ViolationGroupHasChildren, sv.Kind)
}

func TestEmptyTrash_KeepsAccountsWithHistory(t *testing.T) {
	// GIVEN: Two trashed accounts, one with reversed postings (zero balance)
	// WHEN: Emptying the trash
	// THEN: Only the one without journal lines is purged

	f := newFixture(t).seedChart(t)
	id := f.postEntry(t, ledger.Date(2024, 1, 1), "42", "11", "10")
	_, err := f.journal.Reverse(f.ctx, id, ledger.Date(2024, 1, 2), "")
	require.NoError(t, err)
	f.add(t, "53", "Rent", "", "5", false)
	require.NoError(t, f.chart.TrashAccount(f.ctx, f.id("42"), ""))
	require.NoError(t, f.chart.TrashAccount(f.ctx, f.id("53"), ""))

	removed, err := f.chart.EmptyTrash(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	_, err = f.chart.Account(f.ctx, f.id("42"))
	assert.NoError(t, err)
	_, err = f.chart.Account(f.ctx, f.id("53"))
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestRestoreAccount_ParentMustBeLive(t *testing.T) {
	f := newFixture(t).seedChart(t)
	f.add(t, "13", "Current", "", "1", true)
	f.add(t, "131", "Float", "", "13", false)
	require.NoError(t, f.chart.TrashAccount(f.ctx, f.id("131"), ""))
	require.NoError(t, f.chart.TrashAccount(f.ctx, f.id("13"), ""))

	err := f.chart.RestoreAccount(f.ctx, f.id("131"))
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}
