package mutation

import "zerosum/internal/core"

type sampleCategory struct {
	name, color, hex string
	budgeted         int64
}

var sampleCategories = []sampleCategory{
	{"Rent/Mortgage", "bg-blue-500", "#3b82f6", 150000},
	{"Electric", "bg-yellow-500", "#eab308", 12000},
	{"Internet", "bg-cyan-500", "#06b6d4", 8000},
	{"Auto Insurance", "bg-violet-500", "#8b5cf6", 10000},
	{"Dining Out", "bg-orange-500", "#f97316", 30000},
	{"Emergency Fund", "bg-emerald-500", "#10b981", 50000},
}

var sampleAccounts = []core.Account{
	{Name: "Checking", Type: core.AccountChecking, Balance: 320000},
	{Name: "Savings", Type: core.AccountSavings, Balance: 1500000},
	{Name: "Credit Card", Type: core.AccountCreditCard, Balance: -45000},
}

// sampleBudget builds the cold-start budget. Opening balances are
// starting-balance transactions to ready-to-assign so balances stay
// derivable from transactions.
func sampleBudget(month core.Month, newID func() string) *seed {
	s := &seed{}
	rta := core.CategoryMetadata{ID: newID(), Name: "Ready to Assign", Color: "bg-slate-500", Hex: "#64748b", IsRta: true}
	s.Categories = append(s.Categories, rta)

	for _, sc := range sampleCategories {
		c := core.CategoryMetadata{ID: newID(), Name: sc.name, Color: sc.color, Hex: sc.hex}
		s.Categories = append(s.Categories, c)
		s.Allocations = append(s.Allocations, core.MonthlyAllocation{
			ID: core.AllocationID(month, c.ID), Month: month, CategoryID: c.ID, Budgeted: sc.budgeted,
		})
	}

	for _, sa := range sampleAccounts {
		a := sa
		a.ID = newID()
		s.Accounts = append(s.Accounts, a)
		s.Transactions = append(s.Transactions, core.Transaction{
			ID: newID(), Date: month.FirstDay(), Payee: StartingBalancePayee,
			CategoryID: rta.ID, Category: rta.Name, Amount: a.Balance,
			AccountID: a.ID, Status: core.StatusCleared,
		})
		if a.IsCreditCard() {
			s.Categories = append(s.Categories, paymentCategory(newID(), a))
		}
	}
	return s
}
