package mutation

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"zerosum/internal/core"
	"zerosum/internal/ledger"
	"zerosum/internal/remote"
)

// State is a copy of every budget document held locally.
type State struct {
	Accounts     map[string]core.Account
	Categories   map[string]core.CategoryMetadata
	Allocations  map[string]core.MonthlyAllocation
	Transactions map[string]core.Transaction
}

func newState() State {
	return State{
		Accounts:     make(map[string]core.Account),
		Categories:   make(map[string]core.CategoryMetadata),
		Allocations:  make(map[string]core.MonthlyAllocation),
		Transactions: make(map[string]core.Transaction),
	}
}

func (s State) clone() State {
	out := State{
		Accounts:     make(map[string]core.Account, len(s.Accounts)),
		Categories:   make(map[string]core.CategoryMetadata, len(s.Categories)),
		Allocations:  make(map[string]core.MonthlyAllocation, len(s.Allocations)),
		Transactions: make(map[string]core.Transaction, len(s.Transactions)),
	}
	for k, v := range s.Accounts {
		out.Accounts[k] = v
	}
	for k, v := range s.Categories {
		out.Categories[k] = v
	}
	for k, v := range s.Allocations {
		out.Allocations[k] = v
	}
	for k, v := range s.Transactions {
		out.Transactions[k] = v
	}
	return out
}

// CategoryList returns categories with ready-to-assign first, then
// spending categories by name, then CC-payment categories by name.
func (s State) CategoryList() []core.CategoryMetadata {
	out := make([]core.CategoryMetadata, 0, len(s.Categories))
	for _, c := range s.Categories {
		out = append(out, c)
	}
	rank := func(c core.CategoryMetadata) int {
		switch {
		case c.IsRta:
			return 0
		case c.IsCcPayment:
			return 2
		}
		return 1
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := rank(out[i]), rank(out[j])
		if ri != rj {
			return ri < rj
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AccountList returns accounts by name.
func (s State) AccountList() []core.Account {
	out := make([]core.Account, 0, len(s.Accounts))
	for _, a := range s.Accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TransactionList returns transactions newest first.
func (s State) TransactionList() []core.Transaction {
	out := make([]core.Transaction, 0, len(s.Transactions))
	for _, t := range s.Transactions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s State) allocationList() []core.MonthlyAllocation {
	out := make([]core.MonthlyAllocation, 0, len(s.Allocations))
	for _, a := range s.Allocations {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RTA returns the ready-to-assign category.
func (s State) RTA() (core.CategoryMetadata, bool) {
	for _, c := range s.CategoryList() {
		if c.IsRta {
			return c, true
		}
	}
	return core.CategoryMetadata{}, false
}

// CategoryByName finds a category by case-insensitive name.
func (s State) CategoryByName(name string) (core.CategoryMetadata, bool) {
	for _, c := range s.CategoryList() {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c, true
		}
	}
	return core.CategoryMetadata{}, false
}

// CCPaymentFor returns the payment category linked to a card account.
func (s State) CCPaymentFor(accountID string) (core.CategoryMetadata, bool) {
	for _, c := range s.Categories {
		if c.IsCcPayment && c.LinkedAccountID == accountID {
			return c, true
		}
	}
	return core.CategoryMetadata{}, false
}

// References reports whether any transaction is linked to the category,
// either by id or by its name on legacy documents.
func (s State) References(c core.CategoryMetadata) bool {
	for _, t := range s.Transactions {
		if t.CategoryID == c.ID || (t.CategoryID == "" && t.Category == c.Name) {
			return true
		}
	}
	return false
}

// View is the optimistic local copy of the budget. Readers get copies;
// every change notifies the registered listeners.
type View struct {
	mu            sync.RWMutex
	state         State
	inflight      map[string]int
	remotePending map[string]bool
	listeners     []func()
}

func NewView() *View {
	return &View{
		state:         newState(),
		inflight:      make(map[string]int),
		remotePending: make(map[string]bool),
	}
}

// OnChange registers fn to run after every change. fn must not block.
func (v *View) OnChange(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listeners = append(v.listeners, fn)
}

func (v *View) notify() {
	v.mu.RLock()
	ls := append([]func(){}, v.listeners...)
	v.mu.RUnlock()
	for _, fn := range ls {
		fn()
	}
}

// Snapshot returns a deep copy of the current state.
func (v *View) Snapshot() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.clone()
}

// Restore replaces the state with s.
func (v *View) Restore(s State) {
	v.mu.Lock()
	v.state = s.clone()
	v.mu.Unlock()
	v.notify()
}

func (v *View) apply(fn func(*State), ids []string) {
	v.mu.Lock()
	fn(&v.state)
	for _, id := range ids {
		v.inflight[id]++
	}
	v.mu.Unlock()
	v.notify()
}

func (v *View) settle(ids []string) {
	v.mu.Lock()
	v.release(ids)
	v.mu.Unlock()
	v.notify()
}

// rollback restores s and clears the in-flight marks of ids in one step.
func (v *View) rollback(s State, ids []string) {
	v.mu.Lock()
	v.state = s.clone()
	v.release(ids)
	v.mu.Unlock()
	v.notify()
}

func (v *View) release(ids []string) {
	for _, id := range ids {
		if v.inflight[id] <= 1 {
			delete(v.inflight, id)
		} else {
			v.inflight[id]--
		}
	}
}

// ApplySnapshot replaces one collection with a pushed remote snapshot.
func (v *View) ApplySnapshot(snap remote.Snapshot) error {
	v.mu.Lock()
	for id := range v.remotePending {
		if _, ok := snap.Pending[id]; !ok {
			delete(v.remotePending, id)
		}
	}
	for id := range snap.Pending {
		v.remotePending[id] = true
	}
	var err error
	switch snap.Collection {
	case remote.Accounts:
		err = replace(snap, v.state.Accounts, func(a core.Account) string { return a.ID })
	case remote.Categories:
		err = replace(snap, v.state.Categories, func(c core.CategoryMetadata) string { return c.ID })
	case remote.Allocations:
		err = replace(snap, v.state.Allocations, func(a core.MonthlyAllocation) string { return a.ID })
	case remote.Transactions:
		err = replace(snap, v.state.Transactions, func(t core.Transaction) string { return t.ID })
	default:
		err = fmt.Errorf("unknown collection %q", snap.Collection)
	}
	v.mu.Unlock()
	if err != nil {
		return err
	}
	v.notify()
	return nil
}

func replace[T any](snap remote.Snapshot, into map[string]T, id func(T) string) error {
	docs, err := remote.DecodeAll[T](snap.Docs)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", snap.Collection, err)
	}
	for k := range into {
		delete(into, k)
	}
	for _, d := range docs {
		into[id(d)] = d
	}
	return nil
}

// Pending reports whether a document has a write not yet confirmed.
func (v *View) Pending(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.inflight[id] > 0 || v.remotePending[id]
}

// Transactions returns transactions newest first with IsPending set.
func (v *View) Transactions() []core.Transaction {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := v.state.TransactionList()
	for i := range out {
		out[i].IsPending = v.inflight[out[i].ID] > 0 || v.remotePending[out[i].ID]
	}
	return out
}

func (v *View) Transaction(id string) (core.Transaction, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	t, ok := v.state.Transactions[id]
	t.IsPending = v.inflight[id] > 0 || v.remotePending[id]
	return t, ok
}

func (v *View) Accounts() []core.Account {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.AccountList()
}

func (v *View) Categories() []core.CategoryMetadata {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.CategoryList()
}

// LedgerInput exposes the view to the ledger service.
func (v *View) LedgerInput() ledger.Input {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return ledger.Input{
		Categories:   v.state.CategoryList(),
		Allocations:  v.state.allocationList(),
		Transactions: v.state.TransactionList(),
		Accounts:     v.state.AccountList(),
	}
}
