// Package store provides the in-memory implementation of the ledger and
// budget storage contracts, used by tests and the "memory" database driver.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/budget"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.TxStore in process memory. All state lives in a
// memState guarded by mu; WithTx holds the write lock for the whole
// callback and restores a snapshot on error.
type Memory struct {
	mu    sync.RWMutex
	state *memState
}

var (
	_ ledger.TxStore       = (*Memory)(nil)
	_ ledger.Store         = (*memState)(nil)
	_ budget.Store         = (*Memory)(nil)
	_ budget.DocumentStore = (*Memory)(nil)
)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

type memState struct {
	accounts map[ledger.AccountID]ledger.Account
	codes    map[string]ledger.AccountID
	entries  map[ledger.EntryID]ledger.JournalEntry
	closing  ledger.ClosingState

	budgets   map[budgetKey]budget.Budget
	documents map[string]budget.SalesDocument
}

func newMemState() *memState {
	return &memState{
		accounts:  make(map[ledger.AccountID]ledger.Account),
		codes:     make(map[string]ledger.AccountID),
		entries:   make(map[ledger.EntryID]ledger.JournalEntry),
		budgets:   make(map[budgetKey]budget.Budget),
		documents: make(map[string]budget.SalesDocument),
	}
}

func (m *Memory) read(fn func(*memState) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.state)
}

func (m *Memory) write(fn func(*memState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

func (m *Memory) CreateAccount(ctx context.Context, a ledger.Account) error {
	return m.write(func(s *memState) error { return s.CreateAccount(ctx, a) })
}

func (m *Memory) UpdateAccount(ctx context.Context, a ledger.Account) error {
	return m.write(func(s *memState) error { return s.UpdateAccount(ctx, a) })
}

func (m *Memory) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	return m.write(func(s *memState) error { return s.DeleteAccount(ctx, id) })
}

func (m *Memory) GetAccount(ctx context.Context, id ledger.AccountID) (a ledger.Account, err error) {
	err = m.read(func(s *memState) error { a, err = s.GetAccount(ctx, id); return err })
	return a, err
}

func (m *Memory) ListAccounts(ctx context.Context, includeTrashed bool) (out []ledger.Account, err error) {
	err = m.read(func(s *memState) error { out, err = s.ListAccounts(ctx, includeTrashed); return err })
	return out, err
}

func (m *Memory) AccountHasLines(ctx context.Context, id ledger.AccountID) (used bool, err error) {
	err = m.read(func(s *memState) error { used, err = s.AccountHasLines(ctx, id); return err })
	return used, err
}

func (m *Memory) AddBalanceDeltas(ctx context.Context, deltas map[ledger.AccountID]decimal.Decimal) error {
	return m.write(func(s *memState) error { return s.AddBalanceDeltas(ctx, deltas) })
}

func (m *Memory) SetBalances(ctx context.Context, balances map[ledger.AccountID]decimal.Decimal) error {
	return m.write(func(s *memState) error { return s.SetBalances(ctx, balances) })
}

func (m *Memory) InsertEntry(ctx context.Context, e ledger.JournalEntry) error {
	return m.write(func(s *memState) error { return s.InsertEntry(ctx, e) })
}

func (m *Memory) GetEntry(ctx context.Context, id ledger.EntryID) (e ledger.JournalEntry, err error) {
	err = m.read(func(s *memState) error { e, err = s.GetEntry(ctx, id); return err })
	return e, err
}

func (m *Memory) ReplaceDraft(ctx context.Context, e ledger.JournalEntry) error {
	return m.write(func(s *memState) error { return s.ReplaceDraft(ctx, e) })
}

func (m *Memory) DeleteDraft(ctx context.Context, id ledger.EntryID) error {
	return m.write(func(s *memState) error { return s.DeleteDraft(ctx, id) })
}

func (m *Memory) MarkPosted(ctx context.Context, id ledger.EntryID, postedAt time.Time) error {
	return m.write(func(s *memState) error { return s.MarkPosted(ctx, id, postedAt) })
}

func (m *Memory) ListEntries(ctx context.Context, filter ledger.EntryFilter) (out []ledger.JournalEntry, err error) {
	err = m.read(func(s *memState) error { out, err = s.ListEntries(ctx, filter); return err })
	return out, err
}

func (m *Memory) PostedLines(ctx context.Context, from, to *time.Time) (out []ledger.PostedLine, err error) {
	err = m.read(func(s *memState) error { out, err = s.PostedLines(ctx, from, to); return err })
	return out, err
}

func (m *Memory) ClosingState(ctx context.Context) (st ledger.ClosingState, err error) {
	err = m.read(func(s *memState) error { st, err = s.ClosingState(ctx); return err })
	return st, err
}

func (m *Memory) LockClosingState(ctx context.Context) (ledger.ClosingState, error) {
	return m.ClosingState(ctx)
}

func (m *Memory) SetLastClosedDate(ctx context.Context, date time.Time) error {
	return m.write(func(s *memState) error { return s.SetLastClosedDate(ctx, date) })
}

func (m *Memory) AcquireClosingLock(ctx context.Context, year int) error {
	return m.write(func(s *memState) error { return s.AcquireClosingLock(ctx, year) })
}

func (m *Memory) ReleaseClosingLock(ctx context.Context, year int) error {
	return m.write(func(s *memState) error { return s.ReleaseClosingLock(ctx, year) })
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(m.state); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.codes {
		c.codes[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = cloneEntry(v)
	}
	c.closing = s.closing
	for k, v := range s.budgets {
		c.budgets[k] = v
	}
	for k, v := range s.documents {
		c.documents[k] = v
	}
	return c
}

// Reset drops all data. Used by the demo scenario loader.
func (m *Memory) Reset(_ context.Context) error {
	return m.write(func(s *memState) error {
		*s = *newMemState()
		return nil
	})
}

// =============================================================================
// UNLOCKED STATE - memState implements ledger.Store; callers hold mu
// =============================================================================

func (s *memState) CreateAccount(_ context.Context, a ledger.Account) error {
	if _, dup := s.codes[a.Code]; dup {
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateCode, a.Code)
	}
	if _, dup := s.accounts[a.ID]; dup {
		return fmt.Errorf("account %s already exists", a.ID)
	}
	s.accounts[a.ID] = a
	s.codes[a.Code] = a.ID
	return nil
}

func (s *memState) UpdateAccount(_ context.Context, a ledger.Account) error {
	cur, ok := s.accounts[a.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, a.ID)
	}
	if cur.Type != a.Type {
		return ledger.ErrTypeChange
	}
	if cur.Code != a.Code {
		if _, dup := s.codes[a.Code]; dup {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateCode, a.Code)
		}
		delete(s.codes, cur.Code)
		s.codes[a.Code] = a.ID
	}
	a.Balance = cur.Balance
	a.CreatedAt = cur.CreatedAt
	s.accounts[a.ID] = a
	return nil
}

func (s *memState) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	cur, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
	}
	used, err := s.AccountHasLines(ctx, id)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("%w: %s", ledger.ErrAccountInUse, cur.Code)
	}
	delete(s.accounts, id)
	delete(s.codes, cur.Code)
	return nil
}

func (s *memState) GetAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
	}
	return a, nil
}

func (s *memState) ListAccounts(_ context.Context, includeTrashed bool) ([]ledger.Account, error) {
	out := make([]ledger.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if a.IsTrashed() && !includeTrashed {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memState) AccountHasLines(_ context.Context, id ledger.AccountID) (bool, error) {
	for _, e := range s.entries {
		for _, l := range e.Lines {
			if l.AccountID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *memState) AddBalanceDeltas(_ context.Context, deltas map[ledger.AccountID]decimal.Decimal) error {
	for id := range deltas {
		if _, ok := s.accounts[id]; !ok {
			return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
		}
	}
	for id, d := range deltas {
		a := s.accounts[id]
		a.Balance = a.Balance.Add(d)
		s.accounts[id] = a
	}
	return nil
}

func (s *memState) SetBalances(_ context.Context, balances map[ledger.AccountID]decimal.Decimal) error {
	for id, a := range s.accounts {
		b, ok := balances[id]
		if !ok {
			b = decimal.Zero
		}
		a.Balance = b
		s.accounts[id] = a
	}
	return nil
}

func (s *memState) InsertEntry(_ context.Context, e ledger.JournalEntry) error {
	if _, dup := s.entries[e.ID]; dup {
		return fmt.Errorf("journal entry %s already exists", e.ID)
	}
	s.entries[e.ID] = cloneEntry(e)
	return nil
}

func (s *memState) GetEntry(_ context.Context, id ledger.EntryID) (ledger.JournalEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return ledger.JournalEntry{}, fmt.Errorf("%w: %s", ledger.ErrEntryNotFound, id)
	}
	return cloneEntry(e), nil
}

func (s *memState) ReplaceDraft(_ context.Context, e ledger.JournalEntry) error {
	cur, ok := s.entries[e.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrEntryNotFound, e.ID)
	}
	if cur.IsPosted() {
		return ledger.ErrNotDraft
	}
	e.Status = ledger.StatusDraft
	e.Source = cur.Source
	e.CreatedAt = cur.CreatedAt
	s.entries[e.ID] = cloneEntry(e)
	return nil
}

func (s *memState) DeleteDraft(_ context.Context, id ledger.EntryID) error {
	cur, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrEntryNotFound, id)
	}
	if cur.IsPosted() {
		return ledger.ErrNotDraft
	}
	delete(s.entries, id)
	return nil
}

func (s *memState) MarkPosted(_ context.Context, id ledger.EntryID, postedAt time.Time) error {
	cur, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrEntryNotFound, id)
	}
	if cur.IsPosted() {
		return ledger.ErrAlreadyPosted
	}
	cur.Status = ledger.StatusPosted
	cur.PostedAt = &postedAt
	s.entries[id] = cur
	return nil
}

func (s *memState) ListEntries(_ context.Context, f ledger.EntryFilter) ([]ledger.JournalEntry, error) {
	var out []ledger.JournalEntry
	for _, e := range s.entries {
		if f.Status != nil && e.Status != *f.Status {
			continue
		}
		if f.Source != nil && e.Source != *f.Source {
			continue
		}
		if !inRange(e.Date, f.From, f.To) {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	sortEntries(out)
	return out, nil
}

func (s *memState) PostedLines(_ context.Context, from, to *time.Time) ([]ledger.PostedLine, error) {
	var entries []ledger.JournalEntry
	for _, e := range s.entries {
		if e.IsPosted() && inRange(e.Date, from, to) {
			entries = append(entries, e)
		}
	}
	sortEntries(entries)

	var out []ledger.PostedLine
	for _, e := range entries {
		for _, l := range e.Lines {
			out = append(out, ledger.PostedLine{
				EntryID:   e.ID,
				Date:      e.Date,
				Source:    e.Source,
				AccountID: l.AccountID,
				Debit:     l.Debit,
				Credit:    l.Credit,
			})
		}
	}
	return out, nil
}

func (s *memState) ClosingState(_ context.Context) (ledger.ClosingState, error) {
	st := s.closing
	if st.LastClosedDate != nil {
		d := *st.LastClosedDate
		st.LastClosedDate = &d
	}
	return st, nil
}

func (s *memState) LockClosingState(ctx context.Context) (ledger.ClosingState, error) {
	return s.ClosingState(ctx)
}

func (s *memState) SetLastClosedDate(_ context.Context, date time.Time) error {
	d := ledger.Day(date)
	s.closing.LastClosedDate = &d
	return nil
}

func (s *memState) AcquireClosingLock(_ context.Context, year int) error {
	if s.closing.InProgressYear != 0 {
		return fmt.Errorf("%w: year %d", ledger.ErrClosingInProgress, s.closing.InProgressYear)
	}
	s.closing.InProgressYear = year
	return nil
}

func (s *memState) ReleaseClosingLock(_ context.Context, year int) error {
	if s.closing.InProgressYear == year {
		s.closing.InProgressYear = 0
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func cloneEntry(e ledger.JournalEntry) ledger.JournalEntry {
	e.Lines = append([]ledger.JournalLine(nil), e.Lines...)
	if e.PostedAt != nil {
		t := *e.PostedAt
		e.PostedAt = &t
	}
	return e
}

func inRange(d time.Time, from, to *time.Time) bool {
	if from != nil && d.Before(ledger.Day(*from)) {
		return false
	}
	if to != nil && d.After(ledger.Day(*to)) {
		return false
	}
	return true
}

func sortEntries(entries []ledger.JournalEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}
