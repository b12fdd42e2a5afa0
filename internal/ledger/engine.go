// Package ledger derives per-category, per-month envelope balances from the
// raw budget documents.
package ledger

import (
	"fmt"
	"sort"

	"zerosum/internal/core"
)

// Input is the full document set the ledger is computed from.
type Input struct {
	Categories   []core.CategoryMetadata
	Allocations  []core.MonthlyAllocation
	Transactions []core.Transaction
	Accounts     []core.Account
	Target       core.Month
}

// Balance is one category's position in one month, in cents.
type Balance struct {
	Budgeted  int64 `json:"budgeted"`
	Activity  int64 `json:"activity"`
	Available int64 `json:"available"`
	Spent     int64 `json:"spent"`
}

// Result holds every computed month. Months maps month -> category id -> balance.
type Result struct {
	Months      map[core.Month]map[string]Balance
	Diagnostics []Diagnostic

	target     core.Month
	categories []core.CategoryMetadata
}

// Totals summarises a month for display.
type Totals struct {
	Budgeted      int64 `json:"budgeted"`
	Activity      int64 `json:"activity"`
	ReadyToAssign int64 `json:"readyToAssign"`
}

type categoryIndex struct {
	byID   map[string]core.CategoryMetadata
	byName map[string]string
}

func newCategoryIndex(categories []core.CategoryMetadata) categoryIndex {
	idx := categoryIndex{
		byID:   make(map[string]core.CategoryMetadata, len(categories)),
		byName: make(map[string]string, len(categories)),
	}
	for _, c := range categories {
		idx.byID[c.ID] = c
		if _, dup := idx.byName[c.Name]; !dup {
			idx.byName[c.Name] = c.ID
		}
	}
	return idx
}

// resolve returns the category id of t and whether the name fallback was used.
func (idx categoryIndex) resolve(t core.Transaction) (string, bool) {
	if t.CategoryID != "" {
		if _, ok := idx.byID[t.CategoryID]; ok {
			return t.CategoryID, false
		}
		return "", false
	}
	if id, ok := idx.byName[t.Category]; ok && t.Category != "" {
		return id, true
	}
	return "", false
}

// Compute runs the ledger over in. It never fails; anything that leaves the
// result incomplete is reported in Result.Diagnostics.
func Compute(in Input) Result {
	idx := newCategoryIndex(in.Categories)
	res := Result{
		Months:     make(map[core.Month]map[string]Balance),
		target:     in.Target,
		categories: in.Categories,
	}

	var rta *core.CategoryMetadata
	ccByAccount := make(map[string]string)
	for i := range in.Categories {
		c := in.Categories[i]
		switch {
		case c.IsRta && rta == nil:
			rta = &in.Categories[i]
		case c.IsRta:
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind:       DiagDuplicateRTA,
				CategoryID: c.ID,
				Message:    fmt.Sprintf("category %q is a second ready-to-assign category and is ignored", c.Name),
			})
		case c.IsCcPayment && c.LinkedAccountID != "":
			ccByAccount[c.LinkedAccountID] = c.ID
		}
	}
	if rta == nil {
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Kind:    DiagMissingRTA,
			Message: "no ready-to-assign category; unassigned money is not reported",
		})
	}

	cards := make(map[string]core.Account)
	for _, a := range in.Accounts {
		if !a.IsCreditCard() {
			continue
		}
		cards[a.ID] = a
		if _, ok := ccByAccount[a.ID]; !ok {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind:      DiagMissingCCPayment,
				AccountID: a.ID,
				Message:   fmt.Sprintf("credit card %q has no payment category; card spending is not reserved", a.Name),
			})
		}
	}

	activity := make(map[core.Month]map[string]int64)
	spent := make(map[core.Month]map[string]int64)
	cardOutflows := make(map[core.Month][]core.Transaction)
	for _, t := range in.Transactions {
		m := t.Month()
		if m.Validate() != nil {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind:          DiagInvalidDate,
				TransactionID: t.ID,
				Message:       fmt.Sprintf("transaction date %q is not a valid date", t.Date),
			})
			continue
		}
		id, legacy := idx.resolve(t)
		if id == "" {
			if t.Amount != 0 {
				res.Diagnostics = append(res.Diagnostics, Diagnostic{
					Kind:          DiagUnknownCategory,
					Month:         m,
					TransactionID: t.ID,
					Message:       fmt.Sprintf("transaction %q references unknown category %q", t.Payee, categoryLabel(t)),
				})
			}
			continue
		}
		if legacy {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind:          DiagLegacyNameLink,
				Month:         m,
				CategoryID:    id,
				TransactionID: t.ID,
				Message:       fmt.Sprintf("transaction %q is linked to category %q by name", t.Payee, t.Category),
			})
		}
		addTo(activity, m, id, t.Amount)
		if t.Amount < 0 {
			addTo(spent, m, id, -t.Amount)
		}
		if _, ok := cards[t.AccountID]; ok && t.Amount < 0 && idx.byID[id].IsSpending() {
			t.CategoryID = id
			cardOutflows[m] = append(cardOutflows[m], t)
		}
	}

	budget := make(map[core.Month]map[string]int64)
	for _, a := range in.Allocations {
		if a.Month.Validate() != nil {
			continue
		}
		addTo(budget, a.Month, a.CategoryID, a.Budgeted)
	}

	months := monthSet(activity, budget, in.Target)
	running := make(map[string]int64, len(in.Categories))

	for _, m := range months {
		out := make(map[string]Balance, len(in.Categories))
		var totalBudgeted int64

		for _, c := range in.Categories {
			if !c.IsSpending() {
				continue
			}
			b := Balance{
				Budgeted: budget[m][c.ID],
				Activity: activity[m][c.ID],
				Spent:    spent[m][c.ID],
			}
			b.Available = running[c.ID] + b.Budgeted + b.Activity
			totalBudgeted += b.Budgeted
			out[c.ID] = b
		}

		shifts := cardShifts(cardOutflows[m], out, ccByAccount)

		for _, c := range in.Categories {
			if !c.IsCcPayment {
				continue
			}
			b := Balance{
				Budgeted: budget[m][c.ID],
				Activity: activity[m][c.ID],
				Spent:    spent[m][c.ID],
			}
			b.Available = running[c.ID] + b.Budgeted + b.Activity + shifts[c.ID]
			out[c.ID] = b
		}

		if rta != nil {
			b := Balance{
				Budgeted: budget[m][rta.ID],
				Activity: activity[m][rta.ID],
				Spent:    spent[m][rta.ID],
			}
			b.Available = running[rta.ID] + b.Activity - totalBudgeted
			out[rta.ID] = b
		}

		for id, b := range out {
			running[id] = b.Available
		}
		res.Months[m] = out
	}

	res.Diagnostics = append(res.Diagnostics, driftDiagnostics(in.Accounts, in.Categories, in.Transactions)...)
	return res
}

// cardShifts moves the covered part of each credit card outflow into the
// payment category linked to the card. A spending category covers
// max(0, available + its card outflows) in total, handed out in date order;
// for a single outflow this is min(max(0, available+|amount|), |amount|).
func cardShifts(outflows []core.Transaction, spending map[string]Balance, ccByAccount map[string]string) map[string]int64 {
	shifts := make(map[string]int64)
	if len(outflows) == 0 {
		return shifts
	}
	sorted := make([]core.Transaction, len(outflows))
	copy(sorted, outflows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	charged := make(map[string]int64)
	for _, t := range sorted {
		if _, ok := ccByAccount[t.AccountID]; ok {
			charged[t.CategoryID] += -t.Amount
		}
	}
	cover := make(map[string]int64, len(charged))
	for id, total := range charged {
		cover[id] = max(0, spending[id].Available+total)
	}
	for _, t := range sorted {
		pay, ok := ccByAccount[t.AccountID]
		if !ok {
			continue
		}
		shift := min(cover[t.CategoryID], -t.Amount)
		cover[t.CategoryID] -= shift
		shifts[pay] += shift
	}
	return shifts
}

func addTo(m map[core.Month]map[string]int64, month core.Month, id string, v int64) {
	inner, ok := m[month]
	if !ok {
		inner = make(map[string]int64)
		m[month] = inner
	}
	inner[id] += v
}

func monthSet(activity, budget map[core.Month]map[string]int64, target core.Month) []core.Month {
	seen := make(map[core.Month]struct{}, len(activity)+len(budget)+1)
	for m := range activity {
		seen[m] = struct{}{}
	}
	for m := range budget {
		seen[m] = struct{}{}
	}
	if target.Validate() == nil {
		seen[target] = struct{}{}
	}
	months := make([]core.Month, 0, len(seen))
	for m := range seen {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i] < months[j] })
	return months
}

func categoryLabel(t core.Transaction) string {
	if t.CategoryID != "" {
		return t.CategoryID
	}
	return t.Category
}

// Balance returns a category's balance for month. Months the ledger never
// enumerated carry the latest earlier month forward.
func (r Result) Balance(month core.Month, categoryID string) Balance {
	if mb, ok := r.Months[month]; ok {
		return mb[categoryID]
	}
	var last core.Month
	for m := range r.Months {
		if m < month && m > last {
			last = m
		}
	}
	if last == "" {
		return Balance{}
	}
	return Balance{Available: r.Months[last][categoryID].Available}
}

// View projects month into derived categories, in metadata order.
func (r Result) View(month core.Month) []core.DerivedCategory {
	out := make([]core.DerivedCategory, 0, len(r.categories))
	for _, c := range r.categories {
		b := r.Balance(month, c.ID)
		out = append(out, core.DerivedCategory{
			CategoryMetadata: c,
			Month:            month,
			Budgeted:         b.Budgeted,
			Activity:         b.Activity,
			Available:        b.Available,
			Spent:            b.Spent,
		})
	}
	return out
}

// Totals sums the month's budgeted and activity over non-RTA categories and
// reports the ready-to-assign amount.
func (r Result) Totals(month core.Month) Totals {
	var t Totals
	seenRTA := false
	for _, c := range r.categories {
		b := r.Balance(month, c.ID)
		if c.IsRta {
			if !seenRTA {
				t.ReadyToAssign = b.Available
				seenRTA = true
			}
			continue
		}
		t.Budgeted += b.Budgeted
		t.Activity += b.Activity
	}
	return t
}

// Target is the month the result was computed for.
func (r Result) Target() core.Month { return r.target }
