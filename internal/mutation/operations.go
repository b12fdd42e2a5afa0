package mutation

import (
	"sort"
	"strings"

	"zerosum/internal/core"
	"zerosum/internal/ledger"
	"zerosum/internal/remote"
)

// StartingBalancePayee names the transaction that opens an account.
const StartingBalancePayee = "Starting Balance"

// operation is a replayable mutation. Its fields are the persisted payload;
// document ids are fixed before the first attempt so a replay writes the
// same documents.
type operation interface {
	name() string
	describe() (Type, Entity, string)
	plan(s State) (plan, error)
}

// plan is the remote batch for one attempt and the matching local change.
type plan struct {
	ops   []remote.Op
	apply func(*State)
	ids   []string
}

var registry = map[string]func() operation{
	opAddTransaction:    func() operation { return &addTransaction{} },
	opUpdateTransaction: func() operation { return &updateTransaction{} },
	opAddCategory:       func() operation { return &addCategory{} },
	opUpdateCategory:    func() operation { return &updateCategory{} },
	opDeleteCategory:    func() operation { return &deleteCategory{} },
	opSetAllocation:     func() operation { return &setAllocation{} },
	opAddAccount:        func() operation { return &addAccount{} },
	opReconcileAccount:  func() operation { return &reconcileAccount{} },
	opEnsureCCPayment:   func() operation { return &ensureCCPayment{} },
	opSeed:              func() operation { return &seed{} },
}

const (
	opAddTransaction    = "add_transaction"
	opUpdateTransaction = "update_transaction"
	opAddCategory       = "add_category"
	opUpdateCategory    = "update_category"
	opDeleteCategory    = "delete_category"
	opSetAllocation     = "set_allocation"
	opAddAccount        = "add_account"
	opReconcileAccount  = "reconcile_account"
	opEnsureCCPayment   = "ensure_cc_payment"
	opSeed              = "seed"
)

func balanceOps(deltas map[string]int64) []remote.Op {
	ids := make([]string, 0, len(deltas))
	for id, d := range deltas {
		if d != 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	ops := make([]remote.Op, 0, len(ids))
	for _, id := range ids {
		ops = append(ops, remote.Increment(remote.Accounts, id, "balance", deltas[id]))
	}
	return ops
}

func applyBalances(s *State, deltas map[string]int64) {
	for id, d := range deltas {
		if a, ok := s.Accounts[id]; ok {
			a.Balance += d
			s.Accounts[id] = a
		}
	}
}

func deltaKeys(deltas map[string]int64) []string {
	out := make([]string, 0, len(deltas))
	for id, d := range deltas {
		if d != 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func checkAccounts(s State, deltas map[string]int64) error {
	for id, d := range deltas {
		if _, ok := s.Accounts[id]; !ok && d != 0 {
			return notFound("account %s not found", id)
		}
	}
	return nil
}

// linkCategory fills CategoryID and the display name from whichever of the
// two is set.
func linkCategory(s State, t *core.Transaction) error {
	switch {
	case t.CategoryID != "":
		c, ok := s.Categories[t.CategoryID]
		if !ok {
			return notFound("category %s not found", t.CategoryID)
		}
		t.Category = c.Name
	case strings.TrimSpace(t.Category) != "":
		c, ok := s.CategoryByName(t.Category)
		if !ok {
			return notFound("category %q not found", t.Category)
		}
		t.CategoryID = c.ID
		t.Category = c.Name
	}
	return nil
}

func nameTaken(s State, name, exceptID string) bool {
	for _, c := range s.Categories {
		if c.ID != exceptID && strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

type addTransaction struct {
	Tx core.Transaction `json:"transaction"`
}

func (o *addTransaction) name() string { return opAddTransaction }
func (o *addTransaction) describe() (Type, Entity, string) {
	return TypeAdd, EntityTransaction, o.Tx.ID
}

func (o *addTransaction) plan(s State) (plan, error) {
	tx := o.Tx
	tx.IsPending = false
	if err := tx.Validate(); err != nil {
		return plan{}, invalid(err, "transaction is invalid")
	}
	if _, exists := s.Transactions[tx.ID]; exists {
		return plan{}, conflict("transaction %s already exists", tx.ID)
	}
	if _, ok := s.Accounts[tx.AccountID]; !ok {
		return plan{}, notFound("account %s not found", tx.AccountID)
	}
	if err := linkCategory(s, &tx); err != nil {
		return plan{}, err
	}
	deltas := ledger.BalanceDeltas(tx, s.CategoryList())
	if err := checkAccounts(s, deltas); err != nil {
		return plan{}, err
	}

	ops := append([]remote.Op{remote.SetDoc(remote.Transactions, tx.ID, tx)}, balanceOps(deltas)...)
	return plan{
		ops: ops,
		apply: func(st *State) {
			st.Transactions[tx.ID] = tx
			applyBalances(st, deltas)
		},
		ids: append([]string{tx.ID}, deltaKeys(deltas)...),
	}, nil
}

type updateTransaction struct {
	ID    string                `json:"id"`
	Patch core.TransactionPatch `json:"patch"`
}

func (o *updateTransaction) name() string { return opUpdateTransaction }
func (o *updateTransaction) describe() (Type, Entity, string) {
	return TypeUpdate, EntityTransaction, o.ID
}

func (o *updateTransaction) plan(s State) (plan, error) {
	old, ok := s.Transactions[o.ID]
	if !ok {
		return plan{}, notFound("transaction %s not found", o.ID)
	}
	p := o.Patch
	switch {
	case p.CategoryID != nil && *p.CategoryID != "":
		c, ok := s.Categories[*p.CategoryID]
		if !ok {
			return plan{}, notFound("category %s not found", *p.CategoryID)
		}
		p.Category = core.Ptr(c.Name)
	case p.CategoryID != nil:
		p.Category = core.Ptr("")
	case p.Category != nil && strings.TrimSpace(*p.Category) != "":
		c, ok := s.CategoryByName(*p.Category)
		if !ok {
			return plan{}, notFound("category %q not found", *p.Category)
		}
		p.CategoryID = core.Ptr(c.ID)
		p.Category = core.Ptr(c.Name)
	}
	if p.Empty() {
		return plan{}, nil
	}

	next := p.Apply(old)
	next.IsPending = false
	if err := next.Validate(); err != nil {
		return plan{}, invalid(err, "transaction is invalid")
	}
	if _, ok := s.Accounts[next.AccountID]; !ok {
		return plan{}, notFound("account %s not found", next.AccountID)
	}

	cats := s.CategoryList()
	deltas := ledger.BalanceDeltas(next, cats)
	for id, d := range ledger.BalanceDeltas(old, cats) {
		deltas[id] -= d
	}
	if err := checkAccounts(s, deltas); err != nil {
		return plan{}, err
	}

	ops := append([]remote.Op{remote.Update(remote.Transactions, o.ID, p.Fields())}, balanceOps(deltas)...)
	return plan{
		ops: ops,
		apply: func(st *State) {
			st.Transactions[next.ID] = next
			applyBalances(st, deltas)
		},
		ids: append([]string{o.ID}, deltaKeys(deltas)...),
	}, nil
}

type addCategory struct {
	Category core.CategoryMetadata `json:"category"`
	Month    core.Month            `json:"month,omitempty"`
	Budgeted int64                 `json:"budgeted,omitempty"`
}

func (o *addCategory) name() string { return opAddCategory }
func (o *addCategory) describe() (Type, Entity, string) {
	return TypeAdd, EntityCategory, o.Category.ID
}

func (o *addCategory) plan(s State) (plan, error) {
	c := o.Category
	if err := c.Validate(); err != nil {
		return plan{}, invalid(err, "category is invalid")
	}
	if _, exists := s.Categories[c.ID]; exists {
		return plan{}, conflict("category %s already exists", c.ID)
	}
	if nameTaken(s, c.Name, "") {
		return plan{}, conflict("a category named %q already exists", c.Name)
	}
	if _, ok := s.RTA(); ok && c.IsRta {
		return plan{}, conflict("a ready-to-assign category already exists")
	}
	if c.IsCcPayment {
		a, ok := s.Accounts[c.LinkedAccountID]
		if !ok {
			return plan{}, notFound("account %s not found", c.LinkedAccountID)
		}
		if !a.IsCreditCard() {
			return plan{}, invalid(nil, "account %q is not a credit card", a.Name)
		}
		if _, linked := s.CCPaymentFor(a.ID); linked {
			return plan{}, conflict("credit card %q already has a payment category", a.Name)
		}
	}

	ops := []remote.Op{remote.SetDoc(remote.Categories, c.ID, c)}
	ids := []string{c.ID}
	var alloc *core.MonthlyAllocation
	if o.Budgeted != 0 {
		if err := o.Month.Validate(); err != nil {
			return plan{}, invalid(err, "budget month is invalid")
		}
		if c.IsRta {
			return plan{}, forbidden("ready-to-assign cannot be budgeted")
		}
		a := core.MonthlyAllocation{ID: core.AllocationID(o.Month, c.ID), Month: o.Month, CategoryID: c.ID, Budgeted: o.Budgeted}
		alloc = &a
		ops = append(ops, remote.SetDoc(remote.Allocations, a.ID, a))
		ids = append(ids, a.ID)
	}
	return plan{
		ops: ops,
		apply: func(st *State) {
			st.Categories[c.ID] = c
			if alloc != nil {
				st.Allocations[alloc.ID] = *alloc
			}
		},
		ids: ids,
	}, nil
}

type updateCategory struct {
	ID    string             `json:"id"`
	Patch core.CategoryPatch `json:"patch"`
}

func (o *updateCategory) name() string { return opUpdateCategory }
func (o *updateCategory) describe() (Type, Entity, string) {
	return TypeUpdate, EntityCategory, o.ID
}

func (o *updateCategory) plan(s State) (plan, error) {
	old, ok := s.Categories[o.ID]
	if !ok {
		return plan{}, notFound("category %s not found", o.ID)
	}
	renamed := o.Patch.Name != nil && *o.Patch.Name != old.Name
	if old.IsRta && renamed {
		return plan{}, forbidden("ready-to-assign cannot be renamed")
	}
	fields := o.Patch.Fields()
	if len(fields) == 0 {
		return plan{}, nil
	}
	next := o.Patch.Apply(old)
	if err := next.Validate(); err != nil {
		return plan{}, invalid(err, "category is invalid")
	}
	if renamed && nameTaken(s, next.Name, old.ID) {
		return plan{}, conflict("a category named %q already exists", next.Name)
	}

	ops := []remote.Op{remote.Update(remote.Categories, o.ID, fields)}
	var relabel []string
	if renamed {
		for _, t := range s.TransactionList() {
			if t.CategoryID == old.ID {
				relabel = append(relabel, t.ID)
				ops = append(ops, remote.Update(remote.Transactions, t.ID, map[string]any{"category": next.Name}))
			}
		}
	}
	return plan{
		ops: ops,
		apply: func(st *State) {
			st.Categories[o.ID] = next
			for _, id := range relabel {
				t := st.Transactions[id]
				t.Category = next.Name
				st.Transactions[id] = t
			}
		},
		ids: append([]string{o.ID}, relabel...),
	}, nil
}

type deleteCategory struct {
	ID string `json:"id"`
}

func (o *deleteCategory) name() string { return opDeleteCategory }
func (o *deleteCategory) describe() (Type, Entity, string) {
	return TypeDelete, EntityCategory, o.ID
}

func (o *deleteCategory) plan(s State) (plan, error) {
	c, ok := s.Categories[o.ID]
	if !ok {
		return plan{}, notFound("category %s not found", o.ID)
	}
	if c.IsRta {
		return plan{}, forbidden("ready-to-assign cannot be deleted")
	}
	if c.IsCcPayment {
		if _, ok := s.Accounts[c.LinkedAccountID]; ok {
			return plan{}, forbidden("payment category of an open credit card cannot be deleted")
		}
	}
	if s.References(c) {
		return plan{}, conflict("category %q is used by transactions", c.Name)
	}
	return plan{
		ops:   []remote.Op{remote.Delete(remote.Categories, c.ID)},
		apply: func(st *State) { delete(st.Categories, c.ID) },
		ids:   []string{c.ID},
	}, nil
}

type setAllocation struct {
	Month      core.Month `json:"month"`
	CategoryID string     `json:"categoryId"`
	Budgeted   int64      `json:"budgeted"`
}

func (o *setAllocation) name() string { return opSetAllocation }
func (o *setAllocation) describe() (Type, Entity, string) {
	return TypeUpdate, EntityAllocation, core.AllocationID(o.Month, o.CategoryID)
}

func (o *setAllocation) plan(s State) (plan, error) {
	if err := o.Month.Validate(); err != nil {
		return plan{}, invalid(err, "budget month is invalid")
	}
	c, ok := s.Categories[o.CategoryID]
	if !ok {
		return plan{}, notFound("category %s not found", o.CategoryID)
	}
	if c.IsRta {
		return plan{}, forbidden("ready-to-assign cannot be budgeted")
	}
	a := core.MonthlyAllocation{ID: core.AllocationID(o.Month, c.ID), Month: o.Month, CategoryID: c.ID, Budgeted: o.Budgeted}
	if cur, ok := s.Allocations[a.ID]; ok && cur == a {
		return plan{}, nil
	}
	return plan{
		ops:   []remote.Op{remote.SetDoc(remote.Allocations, a.ID, a)},
		apply: func(st *State) { st.Allocations[a.ID] = a },
		ids:   []string{a.ID},
	}, nil
}

type addAccount struct {
	Account           core.Account `json:"account"`
	StartingBalance   int64        `json:"startingBalance"`
	Date              string       `json:"date"`
	TransactionID     string       `json:"transactionId"`
	PaymentCategoryID string       `json:"paymentCategoryId,omitempty"`
}

func (o *addAccount) name() string { return opAddAccount }
func (o *addAccount) describe() (Type, Entity, string) {
	return TypeAdd, EntityAccount, o.Account.ID
}

func (o *addAccount) plan(s State) (plan, error) {
	a := o.Account
	a.Balance = o.StartingBalance
	if err := a.Validate(); err != nil {
		return plan{}, invalid(err, "account is invalid")
	}
	if _, exists := s.Accounts[a.ID]; exists {
		return plan{}, conflict("account %s already exists", a.ID)
	}
	for _, other := range s.Accounts {
		if strings.EqualFold(other.Name, a.Name) {
			return plan{}, conflict("an account named %q already exists", a.Name)
		}
	}
	if err := core.ValidateDate(o.Date); err != nil {
		return plan{}, invalid(err, "opening date is invalid")
	}

	ops := []remote.Op{remote.SetDoc(remote.Accounts, a.ID, a)}
	ids := []string{a.ID}
	var tx *core.Transaction
	if o.StartingBalance != 0 {
		rta, ok := s.RTA()
		if !ok {
			return plan{}, invalid(nil, "ready-to-assign category is missing")
		}
		t := core.Transaction{
			ID: o.TransactionID, Date: o.Date, Payee: StartingBalancePayee,
			CategoryID: rta.ID, Category: rta.Name, Amount: o.StartingBalance,
			AccountID: a.ID, Status: core.StatusCleared,
		}
		tx = &t
		ops = append(ops, remote.SetDoc(remote.Transactions, t.ID, t))
		ids = append(ids, t.ID)
	}
	var pay *core.CategoryMetadata
	if a.IsCreditCard() && o.PaymentCategoryID != "" {
		c := paymentCategory(o.PaymentCategoryID, a)
		pay = &c
		ops = append(ops, remote.SetDoc(remote.Categories, c.ID, c))
		ids = append(ids, c.ID)
	}
	return plan{
		ops: ops,
		apply: func(st *State) {
			st.Accounts[a.ID] = a
			if tx != nil {
				st.Transactions[tx.ID] = *tx
			}
			if pay != nil {
				st.Categories[pay.ID] = *pay
			}
		},
		ids: ids,
	}, nil
}

func paymentCategory(id string, card core.Account) core.CategoryMetadata {
	return core.CategoryMetadata{
		ID:              id,
		Name:            card.Name + " Payment",
		Color:           "bg-slate-400",
		Hex:             "#94a3b8",
		IsCcPayment:     true,
		LinkedAccountID: card.ID,
	}
}

type reconcileAccount struct {
	AccountID string `json:"accountId"`
}

func (o *reconcileAccount) name() string { return opReconcileAccount }
func (o *reconcileAccount) describe() (Type, Entity, string) {
	return TypeUpdate, EntityAccount, o.AccountID
}

func (o *reconcileAccount) plan(s State) (plan, error) {
	if _, ok := s.Accounts[o.AccountID]; !ok {
		return plan{}, notFound("account %s not found", o.AccountID)
	}
	var ids []string
	var ops []remote.Op
	for _, t := range s.TransactionList() {
		if t.AccountID == o.AccountID && t.Status == core.StatusCleared {
			ids = append(ids, t.ID)
			ops = append(ops, remote.Update(remote.Transactions, t.ID, map[string]any{"status": string(core.StatusReconciled)}))
		}
	}
	return plan{
		ops: ops,
		apply: func(st *State) {
			for _, id := range ids {
				t := st.Transactions[id]
				t.Status = core.StatusReconciled
				st.Transactions[id] = t
			}
		},
		ids: ids,
	}, nil
}

type ensureCCPayment struct {
	Categories []core.CategoryMetadata `json:"categories"`
}

func (o *ensureCCPayment) name() string { return opEnsureCCPayment }
func (o *ensureCCPayment) describe() (Type, Entity, string) {
	ids := make([]string, 0, len(o.Categories))
	for _, c := range o.Categories {
		ids = append(ids, c.ID)
	}
	return TypeAdd, EntityCategory, strings.Join(ids, ",")
}

func (o *ensureCCPayment) plan(s State) (plan, error) {
	var add []core.CategoryMetadata
	for _, c := range o.Categories {
		a, ok := s.Accounts[c.LinkedAccountID]
		if !ok || !a.IsCreditCard() {
			continue
		}
		if _, linked := s.CCPaymentFor(a.ID); linked {
			continue
		}
		add = append(add, c)
	}
	ops := make([]remote.Op, 0, len(add))
	ids := make([]string, 0, len(add))
	for _, c := range add {
		ops = append(ops, remote.SetDoc(remote.Categories, c.ID, c))
		ids = append(ids, c.ID)
	}
	return plan{
		ops: ops,
		apply: func(st *State) {
			for _, c := range add {
				st.Categories[c.ID] = c
			}
		},
		ids: ids,
	}, nil
}

type seed struct {
	Accounts     []core.Account           `json:"accounts"`
	Categories   []core.CategoryMetadata  `json:"categories"`
	Allocations  []core.MonthlyAllocation `json:"allocations"`
	Transactions []core.Transaction       `json:"transactions"`
}

func (o *seed) name() string { return opSeed }
func (o *seed) describe() (Type, Entity, string) {
	return TypeAdd, EntityAccount, "seed"
}

func (o *seed) plan(s State) (plan, error) {
	if len(s.Accounts) > 0 {
		return plan{}, nil
	}
	var ops []remote.Op
	var ids []string
	for _, c := range o.Categories {
		ops = append(ops, remote.SetDoc(remote.Categories, c.ID, c))
		ids = append(ids, c.ID)
	}
	for _, a := range o.Allocations {
		ops = append(ops, remote.SetDoc(remote.Allocations, a.ID, a))
		ids = append(ids, a.ID)
	}
	for _, a := range o.Accounts {
		ops = append(ops, remote.SetDoc(remote.Accounts, a.ID, a))
		ids = append(ids, a.ID)
	}
	for _, t := range o.Transactions {
		ops = append(ops, remote.SetDoc(remote.Transactions, t.ID, t))
		ids = append(ids, t.ID)
	}
	return plan{
		ops: ops,
		apply: func(st *State) {
			for _, c := range o.Categories {
				st.Categories[c.ID] = c
			}
			for _, a := range o.Allocations {
				st.Allocations[a.ID] = a
			}
			for _, a := range o.Accounts {
				st.Accounts[a.ID] = a
			}
			for _, t := range o.Transactions {
				st.Transactions[t.ID] = t
			}
		},
		ids: ids,
	}, nil
}
