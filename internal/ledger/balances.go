package ledger

import (
	"fmt"
	"sort"

	"zerosum/internal/core"
)

// DeriveBalances recomputes every account balance from the transaction set.
// A transaction categorised to a CC-payment category also credits the card
// account linked to that category.
func DeriveBalances(accounts []core.Account, categories []core.CategoryMetadata, txs []core.Transaction) map[string]int64 {
	linked := make(map[string]string)
	for _, c := range categories {
		if c.IsCcPayment && c.LinkedAccountID != "" {
			linked[c.ID] = c.LinkedAccountID
		}
	}
	idx := newCategoryIndex(categories)

	out := make(map[string]int64, len(accounts))
	for _, a := range accounts {
		out[a.ID] = 0
	}
	for _, t := range txs {
		out[t.AccountID] += t.Amount
		cat, _ := idx.resolve(t)
		if card, ok := linked[cat]; ok && card != t.AccountID {
			out[card] -= t.Amount
		}
	}
	return out
}

// BalanceDeltas returns the balance increments a transaction causes per account.
func BalanceDeltas(t core.Transaction, categories []core.CategoryMetadata) map[string]int64 {
	return DeriveBalances(nil, categories, []core.Transaction{t})
}

func driftDiagnostics(accounts []core.Account, categories []core.CategoryMetadata, txs []core.Transaction) []Diagnostic {
	derived := DeriveBalances(accounts, categories, txs)
	var diags []Diagnostic
	for _, a := range accounts {
		if d := derived[a.ID]; d != a.Balance {
			diags = append(diags, Diagnostic{
				Kind:      DiagBalanceDrift,
				AccountID: a.ID,
				Message:   fmt.Sprintf("account %q balance %d differs from transactions total %d", a.Name, a.Balance, d),
			})
		}
	}
	sort.SliceStable(diags, func(i, j int) bool { return diags[i].AccountID < diags[j].AccountID })
	return diags
}
