// Package mutation applies budget edits optimistically to a local view,
// commits them to the remote store in one atomic batch and queues failed
// commits for retry.
package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"zerosum/internal/core"
	applog "zerosum/internal/log"
	"zerosum/internal/remote"
)

// Framework runs every budget write.
type Framework struct {
	store    remote.Store
	view     *View
	log      PendingLog
	notifier *Notifier
	logger   *applog.Logger
	newID    func() string
	now      func() time.Time

	// mu serialises mutations so a rollback never discards another
	// mutation's optimistic change.
	mu sync.Mutex

	rmu      sync.Mutex
	retrying map[string]bool
}

func New(store remote.Store, view *View, log PendingLog, notifier *Notifier) *Framework {
	return &Framework{
		store:    store,
		view:     view,
		log:      log,
		notifier: notifier,
		logger:   applog.Named(applog.ComponentMutation),
		newID:    uuid.NewString,
		now:      time.Now,
		retrying: make(map[string]bool),
	}
}

func (f *Framework) View() *View { return f.view }

func (f *Framework) Notifier() *Notifier { return f.notifier }

func (f *Framework) Store() remote.Store { return f.store }

// run executes op under mutation id. pm is the queue entry when op is a replay.
func (f *Framework) run(ctx context.Context, id string, op operation, pm *PendingMutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	before := f.view.Snapshot()
	p, err := op.plan(before)
	if err != nil {
		if pm != nil {
			f.recordRetryFailure(ctx, pm, err)
		}
		f.logger.WarnContext(ctx, "Mutation rejected", applog.FieldMutationID, id, "operation", op.name(), "error", err)
		return err
	}
	if len(p.ops) == 0 {
		if pm != nil {
			f.dequeue(ctx, id)
		}
		return nil
	}

	f.view.apply(p.apply, p.ids)
	err = f.store.Commit(ctx, remote.Batch{ID: id, Ops: p.ops})
	if err == nil {
		f.view.settle(p.ids)
		if pm != nil {
			f.dequeue(ctx, id)
		}
		f.logger.InfoContext(ctx, "Mutation committed",
			applog.FieldMutationID, id, "operation", op.name(), "ops", len(p.ops), "retry", pm != nil)
		return nil
	}

	f.view.rollback(before, p.ids)
	f.logger.WarnContext(ctx, "Mutation commit failed, rolled back",
		applog.FieldMutationID, id, "operation", op.name(), "retry", pm != nil, "error", err)

	if pm == nil {
		f.enqueue(ctx, id, op, err)
	} else {
		f.recordRetryFailure(ctx, pm, err)
	}
	f.notifier.Failure(fmt.Sprintf("Could not save %s; it was queued for retry", label(op)))
	return &CommitError{MutationID: id, Operation: op.name(), Err: err}
}

func (f *Framework) enqueue(ctx context.Context, id string, op operation, cause error) {
	payload, err := json.Marshal(op)
	if err != nil {
		f.logger.ErrorContext(ctx, "Failed to encode pending mutation", applog.FieldMutationID, id, "error", err)
		return
	}
	typ, entity, entityID := op.describe()
	pm := PendingMutation{
		ID:        id,
		Type:      typ,
		Entity:    entity,
		EntityID:  entityID,
		Operation: op.name(),
		Payload:   payload,
		Timestamp: f.now().UTC(),
		Attempts:  1,
		LastError: cause.Error(),
	}
	if err := f.log.Append(ctx, pm); err != nil {
		f.logger.ErrorContext(ctx, "Failed to queue pending mutation", applog.FieldMutationID, id, "error", err)
	}
}

func (f *Framework) recordRetryFailure(ctx context.Context, pm *PendingMutation, cause error) {
	pm.Attempts++
	pm.LastError = cause.Error()
	if err := f.log.Update(ctx, *pm); err != nil {
		f.logger.ErrorContext(ctx, "Failed to update pending mutation", applog.FieldMutationID, pm.ID, "error", err)
	}
}

func (f *Framework) dequeue(ctx context.Context, id string) {
	if err := f.log.Remove(ctx, id); err != nil {
		f.logger.ErrorContext(ctx, "Failed to remove pending mutation", applog.FieldMutationID, id, "error", err)
	}
}

func label(op operation) string {
	_, entity, _ := op.describe()
	return string(entity)
}

func decode(pm PendingMutation) (operation, error) {
	mk, ok := registry[pm.Operation]
	if !ok {
		return nil, fmt.Errorf("unknown operation %q", pm.Operation)
	}
	op := mk()
	if err := json.Unmarshal(pm.Payload, op); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", pm.Operation, err)
	}
	return op, nil
}

// AddTransaction records a new transaction. A missing ID is generated and a
// missing status defaults to uncleared.
func (f *Framework) AddTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if tx.ID == "" {
		tx.ID = f.newID()
	}
	if tx.Status == "" {
		tx.Status = core.StatusUncleared
	}
	if err := f.run(ctx, f.newID(), &addTransaction{Tx: tx}, nil); err != nil {
		return tx, err
	}
	saved, _ := f.view.Transaction(tx.ID)
	return saved, nil
}

// UpdateTransaction applies patch to transaction id.
func (f *Framework) UpdateTransaction(ctx context.Context, id string, patch core.TransactionPatch) (core.Transaction, error) {
	err := f.run(ctx, f.newID(), &updateTransaction{ID: id, Patch: patch}, nil)
	saved, _ := f.view.Transaction(id)
	return saved, err
}

// AddCategory creates a category, optionally budgeting it for month.
func (f *Framework) AddCategory(ctx context.Context, c core.CategoryMetadata, month core.Month, budgeted int64) (core.CategoryMetadata, error) {
	if c.ID == "" {
		c.ID = f.newID()
	}
	err := f.run(ctx, f.newID(), &addCategory{Category: c, Month: month, Budgeted: budgeted}, nil)
	return c, err
}

func (f *Framework) UpdateCategory(ctx context.Context, id string, patch core.CategoryPatch) error {
	return f.run(ctx, f.newID(), &updateCategory{ID: id, Patch: patch}, nil)
}

// DeleteCategory removes an unused category. Ready-to-assign and referenced
// categories are refused.
func (f *Framework) DeleteCategory(ctx context.Context, id string) error {
	return f.run(ctx, f.newID(), &deleteCategory{ID: id}, nil)
}

// SetAllocation upserts the budgeted amount of a category for month.
func (f *Framework) SetAllocation(ctx context.Context, month core.Month, categoryID string, budgeted int64) error {
	return f.run(ctx, f.newID(), &setAllocation{Month: month, CategoryID: categoryID, Budgeted: budgeted}, nil)
}

// AddAccount opens an account. A non-zero starting balance is recorded as
// a cleared transaction to ready-to-assign on date; credit cards get their
// payment category in the same batch.
func (f *Framework) AddAccount(ctx context.Context, a core.Account, startingBalance int64, date string) (core.Account, error) {
	if a.ID == "" {
		a.ID = f.newID()
	}
	op := &addAccount{Account: a, StartingBalance: startingBalance, Date: date, TransactionID: f.newID()}
	if a.IsCreditCard() {
		if _, linked := f.view.Snapshot().CCPaymentFor(a.ID); !linked {
			op.PaymentCategoryID = f.newID()
		}
	}
	a.Balance = startingBalance
	err := f.run(ctx, f.newID(), op, nil)
	return a, err
}

// ReconcileAccount marks every cleared transaction of the account reconciled
// and returns how many were changed.
func (f *Framework) ReconcileAccount(ctx context.Context, accountID string) (int, error) {
	n := 0
	for _, t := range f.view.Transactions() {
		if t.AccountID == accountID && t.Status == core.StatusCleared {
			n++
		}
	}
	if err := f.run(ctx, f.newID(), &reconcileAccount{AccountID: accountID}, nil); err != nil {
		return 0, err
	}
	return n, nil
}

// EnsureCCPaymentCategories creates the payment category of every credit
// card account that has none and returns how many were created.
func (f *Framework) EnsureCCPaymentCategories(ctx context.Context) (int, error) {
	st := f.view.Snapshot()
	var missing []core.CategoryMetadata
	for _, a := range st.AccountList() {
		if !a.IsCreditCard() {
			continue
		}
		if _, ok := st.CCPaymentFor(a.ID); ok {
			continue
		}
		missing = append(missing, paymentCategory(f.newID(), a))
	}
	if len(missing) == 0 {
		return 0, nil
	}
	if err := f.run(ctx, f.newID(), &ensureCCPayment{Categories: missing}, nil); err != nil {
		return 0, err
	}
	f.logger.InfoContext(ctx, "Created credit card payment categories", "count", len(missing))
	return len(missing), nil
}

// Seed writes the sample budget for month when the budget has no accounts.
// It reports whether anything was written.
func (f *Framework) Seed(ctx context.Context, month core.Month) (bool, error) {
	if err := month.Validate(); err != nil {
		return false, invalid(err, "seed month is invalid")
	}
	if len(f.view.Accounts()) > 0 {
		return false, nil
	}
	if err := f.run(ctx, f.newID(), sampleBudget(month, f.newID), nil); err != nil {
		return false, err
	}
	return true, nil
}

// Retry replays a queued mutation. On success the entry is removed; on
// failure the same entry is kept with its attempt count raised.
func (f *Framework) Retry(ctx context.Context, id string) error {
	f.rmu.Lock()
	if f.retrying[id] {
		f.rmu.Unlock()
		return ErrRetryInProgress
	}
	f.retrying[id] = true
	f.rmu.Unlock()
	defer func() {
		f.rmu.Lock()
		delete(f.retrying, id)
		f.rmu.Unlock()
	}()

	pm, err := f.log.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	op, err := decode(pm)
	if err != nil {
		f.recordRetryFailure(ctx, &pm, err)
		return err
	}
	return f.run(ctx, pm.ID, op, &pm)
}

// RetryReport summarises a RetryAll pass.
type RetryReport struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RetryAll retries every queued mutation, oldest first.
func (f *Framework) RetryAll(ctx context.Context) (RetryReport, error) {
	var rep RetryReport
	items, err := f.log.List(ctx)
	if err != nil {
		return rep, fmt.Errorf("list pending mutations: %w", err)
	}
	for _, pm := range items {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Attempted++
		err := f.Retry(ctx, pm.ID)
		switch {
		case err == nil:
			rep.Succeeded++
		case errors.Is(err, ErrRetryInProgress):
			rep.Attempted--
		default:
			rep.Failed++
		}
	}
	if rep.Attempted > 0 {
		f.logger.InfoContext(ctx, "Pending mutations retried",
			"attempted", rep.Attempted, "succeeded", rep.Succeeded, "failed", rep.Failed)
	}
	return rep, nil
}

// Abandon drops a queued mutation without applying it.
func (f *Framework) Abandon(ctx context.Context, id string) error {
	if _, err := f.log.Get(ctx, id); err != nil {
		return fmt.Errorf("abandon %s: %w", id, err)
	}
	if err := f.log.Remove(ctx, id); err != nil {
		return fmt.Errorf("abandon %s: %w", id, err)
	}
	f.logger.InfoContext(ctx, "Pending mutation abandoned", applog.FieldMutationID, id)
	return nil
}

// Pending lists queued mutations oldest first.
func (f *Framework) Pending(ctx context.Context) ([]PendingMutation, error) {
	return f.log.List(ctx)
}

// Retrying reports whether a retry of id is in flight.
func (f *Framework) Retrying(id string) bool {
	f.rmu.Lock()
	defer f.rmu.Unlock()
	return f.retrying[id]
}

// RetryingIDs lists the ids with a retry in flight.
func (f *Framework) RetryingIDs() []string {
	f.rmu.Lock()
	defer f.rmu.Unlock()
	out := make([]string, 0, len(f.retrying))
	for id := range f.retrying {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
