/*
chart.go - Chart of accounts maintenance

PURPOSE:
  Mutating operations on the account tree. Every operation re-reads the
  chart inside a store transaction, checks the structural rules against
  that snapshot, and only then writes.

RULES:
  - The parent of any account is a live group account
  - A child's type equals its parent's type; an account's type never changes
  - Reparenting never creates a cycle
  - A leaf with journal lines cannot become a group
  - A group with children cannot become a leaf
  - Only accounts with a zero balance and no live children go to the trash
  - Codes are unique across live and trashed accounts

CODE GENERATION:
  When AddAccount gets no code it asks the forest for the next child code,
  skips candidates already taken (trashed accounts included) and retries a
  bounded number of times if a concurrent insert wins the unique constraint.

SEE ALSO:
  - tree.go:  Forest queries used here
  - store.go: Unique code contract
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const maxCodeAttempts = 5

// NewAccount describes an account to create.
type NewAccount struct {
	Code     string // generated from the parent when empty
	Name     string
	Type     AccountType // inherited from the parent when empty
	ParentID AccountID
	IsGroup  bool
}

// Chart maintains the chart of accounts.
type Chart struct {
	store        TxStore
	log          zerolog.Logger
	now          func() time.Time
	newAccountID func() AccountID
}

// NewChart creates a chart service over store.
func NewChart(store TxStore, opts ...Option) *Chart {
	s := newSettings(opts)
	return &Chart{store: store, log: s.log, now: s.now, newAccountID: s.newAccountID}
}

// =============================================================================
// READS
// =============================================================================

// Account returns one account, trashed or not.
func (c *Chart) Account(ctx context.Context, id AccountID) (Account, error) {
	return c.store.GetAccount(ctx, id)
}

// Accounts returns the chart ordered by code.
func (c *Chart) Accounts(ctx context.Context, includeTrashed bool) ([]Account, error) {
	return c.store.ListAccounts(ctx, includeTrashed)
}

// Tree returns the live chart as a forest.
func (c *Chart) Tree(ctx context.Context) (*Forest, error) {
	accounts, err := c.store.ListAccounts(ctx, false)
	if err != nil {
		return nil, err
	}
	return BuildTree(accounts), nil
}

// ValidateStructure reports structural violations and the accounts the
// tree builder had to re-root.
func (c *Chart) ValidateStructure(ctx context.Context) ([]StructuralViolation, []TreeWarning, error) {
	f, err := c.Tree(ctx)
	if err != nil {
		return nil, nil, err
	}
	return f.Validate(), f.Warnings, nil
}

// NextCode proposes the next free code under parentID.
func (c *Chart) NextCode(ctx context.Context, parentID AccountID) (string, error) {
	all, err := c.store.ListAccounts(ctx, true)
	if err != nil {
		return "", err
	}
	return nextFreeCode(all, parentID)
}

// =============================================================================
// CREATE
// =============================================================================

// AddAccount creates an account under in.ParentID.
func (c *Chart) AddAccount(ctx context.Context, in NewAccount) (Account, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Code = strings.TrimSpace(in.Code)
	if in.Name == "" {
		return Account{}, fmt.Errorf("%w: account name is required", ErrInvalidInput)
	}

	var created Account
	var err error
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		err = c.store.WithTx(ctx, func(s Store) error {
			a, txErr := c.addAccount(ctx, s, in)
			created = a
			return txErr
		})
		if err == nil || in.Code != "" || !errors.Is(err, ErrDuplicateCode) {
			break
		}
		c.log.Debug().Int("attempt", attempt).Msg("generated account code taken, retrying")
	}
	if err != nil {
		return Account{}, err
	}
	c.log.Info().Str("account_id", string(created.ID)).Str("code", created.Code).Msg("account created")
	return created, nil
}

func (c *Chart) addAccount(ctx context.Context, s Store, in NewAccount) (Account, error) {
	all, err := s.ListAccounts(ctx, true)
	if err != nil {
		return Account{}, err
	}

	acctType := in.Type
	if in.ParentID != "" {
		parent, err := liveParent(all, in.ParentID)
		if err != nil {
			return Account{}, err
		}
		if acctType == "" {
			acctType = parent.Type
		}
		if acctType != parent.Type {
			return Account{}, &StructuralViolation{
				Kind:      ViolationTypeMismatch,
				AccountID: parent.ID,
				Code:      parent.Code,
				Detail:    fmt.Sprintf("child type %s differs from parent type %s", acctType, parent.Type),
			}
		}
	}
	if !acctType.Valid() {
		return Account{}, fmt.Errorf("%w: account type %q", ErrInvalidInput, acctType)
	}

	code := in.Code
	if code == "" {
		if code, err = nextFreeCode(all, in.ParentID); err != nil {
			return Account{}, err
		}
	}

	a := Account{
		ID:        c.newAccountID(),
		Code:      code,
		Name:      in.Name,
		Type:      acctType,
		ParentID:  in.ParentID,
		IsGroup:   in.IsGroup,
		IsActive:  true,
		Balance:   decimal.Zero,
		CreatedAt: c.now(),
	}
	if err := s.CreateAccount(ctx, a); err != nil {
		return Account{}, err
	}
	return a, nil
}

// nextFreeCode asks the live forest for a candidate and bumps it past any
// code held by a trashed account.
func nextFreeCode(all []Account, parentID AccountID) (string, error) {
	var live []Account
	taken := make(map[string]bool, len(all))
	for _, a := range all {
		taken[a.Code] = true
		if !a.IsTrashed() {
			live = append(live, a)
		}
	}
	code, err := BuildTree(live).NextChildCode(parentID)
	if err != nil {
		return "", err
	}

	prefix := ""
	if parentID != "" {
		for _, a := range live {
			if a.ID == parentID {
				prefix = a.Code
			}
		}
	}
	n, _ := strconv.Atoi(code[len(prefix):])
	for taken[code] {
		n++
		code = prefix + strconv.Itoa(n)
	}
	return code, nil
}

func liveParent(all []Account, parentID AccountID) (Account, error) {
	for _, a := range all {
		if a.ID != parentID {
			continue
		}
		if a.IsTrashed() {
			break
		}
		if !a.IsGroup {
			return Account{}, &StructuralViolation{
				Kind:      ViolationParentNotGroup,
				AccountID: a.ID,
				Code:      a.Code,
				Detail:    "parent must be a group account",
			}
		}
		return a, nil
	}
	return Account{}, fmt.Errorf("%w: parent %s", ErrAccountNotFound, parentID)
}

// =============================================================================
// UPDATE
// =============================================================================

// ReparentAccount moves id under newParent ("" makes it a root) and
// rebuilds cached balances so group rollups follow the move.
func (c *Chart) ReparentAccount(ctx context.Context, id, newParent AccountID) error {
	err := c.store.WithTx(ctx, func(s Store) error {
		all, err := s.ListAccounts(ctx, true)
		if err != nil {
			return err
		}
		acct, err := liveAccount(all, id)
		if err != nil {
			return err
		}
		if newParent != "" {
			parent, err := liveParent(all, newParent)
			if err != nil {
				return err
			}
			if parent.Type != acct.Type {
				return &StructuralViolation{
					Kind:      ViolationTypeMismatch,
					AccountID: acct.ID,
					Code:      acct.Code,
					Detail:    fmt.Sprintf("cannot move %s account under %s group", acct.Type, parent.Type),
				}
			}
		}
		if BuildTree(all).WouldCycle(id, newParent) {
			return &StructuralViolation{
				Kind:      ViolationCycle,
				AccountID: acct.ID,
				Code:      acct.Code,
				Detail:    fmt.Sprintf("%s is the account itself or one of its descendants", newParent),
			}
		}

		acct.ParentID = newParent
		if err := s.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		_, err = recalculate(ctx, s)
		return err
	})
	if err != nil {
		return err
	}
	c.log.Info().Str("account_id", string(id)).Str("parent_id", string(newParent)).Msg("account reparented")
	return nil
}

// RenameAccount changes an account's display name.
func (c *Chart) RenameAccount(ctx context.Context, id AccountID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: account name is required", ErrInvalidInput)
	}
	return c.update(ctx, id, func(_ Store, a *Account) error {
		a.Name = name
		return nil
	})
}

// DeactivateAccount blocks new postings to the account. Existing lines and
// balances are unaffected.
func (c *Chart) DeactivateAccount(ctx context.Context, id AccountID) error {
	return c.update(ctx, id, func(_ Store, a *Account) error {
		a.IsActive = false
		return nil
	})
}

// ActivateAccount re-allows postings to the account.
func (c *Chart) ActivateAccount(ctx context.Context, id AccountID) error {
	return c.update(ctx, id, func(_ Store, a *Account) error {
		a.IsActive = true
		return nil
	})
}

// SetGroup converts between leaf and group.
func (c *Chart) SetGroup(ctx context.Context, id AccountID, isGroup bool) error {
	return c.update(ctx, id, func(s Store, a *Account) error {
		if a.IsGroup == isGroup {
			return nil
		}
		if isGroup {
			used, err := s.AccountHasLines(ctx, id)
			if err != nil {
				return err
			}
			if used {
				return ErrAccountInUse
			}
		} else if n, err := liveChildren(ctx, s, id); err != nil {
			return err
		} else if n > 0 {
			return &StructuralViolation{
				Kind:      ViolationGroupHasChildren,
				AccountID: a.ID,
				Code:      a.Code,
				Detail:    fmt.Sprintf("group has %d children", n),
			}
		}
		a.IsGroup = isGroup
		return nil
	})
}

func (c *Chart) update(ctx context.Context, id AccountID, fn func(Store, *Account) error) error {
	err := c.store.WithTx(ctx, func(s Store) error {
		a, err := s.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if a.IsTrashed() {
			return fmt.Errorf("%w: %s is in the trash", ErrAccountNotFound, id)
		}
		if err := fn(s, &a); err != nil {
			return err
		}
		return s.UpdateAccount(ctx, a)
	})
	if err != nil {
		return err
	}
	c.log.Debug().Str("account_id", string(id)).Msg("account updated")
	return nil
}

// =============================================================================
// TRASH
// =============================================================================

// TrashAccount moves an account with a zero balance and no live children
// to the recycle bin. Its code stays reserved until it is purged.
func (c *Chart) TrashAccount(ctx context.Context, id AccountID, reason string) error {
	err := c.store.WithTx(ctx, func(s Store) error {
		a, err := s.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if a.IsTrashed() {
			return nil
		}
		if !a.Balance.IsZero() {
			return fmt.Errorf("%w: %s has balance %s", ErrNonZeroBalance, a.Code, a.Balance.String())
		}
		n, err := liveChildren(ctx, s, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return &StructuralViolation{
				Kind:      ViolationGroupHasChildren,
				AccountID: a.ID,
				Code:      a.Code,
				Detail:    fmt.Sprintf("move or trash %d children first", n),
			}
		}
		now := c.now()
		a.DeletedAt = &now
		a.DeletionReason = reason
		return s.UpdateAccount(ctx, a)
	})
	if err != nil {
		return err
	}
	c.log.Info().Str("account_id", string(id)).Str("reason", reason).Msg("account moved to trash")
	return nil
}

// RestoreAccount brings an account back from the recycle bin. Its parent
// must still be live.
func (c *Chart) RestoreAccount(ctx context.Context, id AccountID) error {
	err := c.store.WithTx(ctx, func(s Store) error {
		a, err := s.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if !a.IsTrashed() {
			return nil
		}
		if a.ParentID != "" {
			all, err := s.ListAccounts(ctx, true)
			if err != nil {
				return err
			}
			if _, err := liveParent(all, a.ParentID); err != nil {
				return err
			}
		}
		a.DeletedAt = nil
		a.DeletionReason = ""
		return s.UpdateAccount(ctx, a)
	})
	if err != nil {
		return err
	}
	c.log.Info().Str("account_id", string(id)).Msg("account restored")
	return nil
}

// PurgeAccount permanently deletes a trashed account that no journal line
// references.
func (c *Chart) PurgeAccount(ctx context.Context, id AccountID) error {
	return c.store.WithTx(ctx, func(s Store) error {
		return purge(ctx, s, id)
	})
}

// EmptyTrash purges every trashed account without journal lines and
// returns how many were removed.
func (c *Chart) EmptyTrash(ctx context.Context) (int, error) {
	removed := 0
	err := c.store.WithTx(ctx, func(s Store) error {
		all, err := s.ListAccounts(ctx, true)
		if err != nil {
			return err
		}
		for _, a := range all {
			if !a.IsTrashed() {
				continue
			}
			err := purge(ctx, s, a.ID)
			if errors.Is(err, ErrAccountInUse) {
				continue
			}
			if err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.log.Info().Int("removed", removed).Msg("trash emptied")
	return removed, nil
}

func purge(ctx context.Context, s Store, id AccountID) error {
	a, err := s.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if !a.IsTrashed() {
		return fmt.Errorf("%w: %s is not in the trash", ErrInvalidInput, a.Code)
	}
	used, err := s.AccountHasLines(ctx, id)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("%w: %s", ErrAccountInUse, a.Code)
	}
	return s.DeleteAccount(ctx, id)
}

func liveAccount(all []Account, id AccountID) (Account, error) {
	for _, a := range all {
		if a.ID == id && !a.IsTrashed() {
			return a, nil
		}
	}
	return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
}

func liveChildren(ctx context.Context, s Store, id AccountID) (int, error) {
	all, err := s.ListAccounts(ctx, false)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range all {
		if a.ParentID == id {
			n++
		}
	}
	return n, nil
}
