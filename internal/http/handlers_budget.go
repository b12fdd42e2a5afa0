package http

import (
	"net/http"

	"zerosum/internal/core"
	"zerosum/internal/ledger"
)

// BudgetResponse is the budget screen for one month.
type BudgetResponse struct {
	ledger.MonthView
	Accounts     []core.Account     `json:"accounts"`
	Transactions []core.Transaction `json:"transactions"`
	RetryingIDs  []string           `json:"retryingIds"`
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	month, err := ParseMonthParam(r.URL.Query(), s.now())
	if err != nil {
		s.fail(w, r, "budget", err)
		return
	}
	view, err := s.ledger.View(r.Context(), month)
	if err != nil {
		s.fail(w, r, "budget", err)
		return
	}
	s.ledger.Prefetch(month)

	txs := []core.Transaction{}
	for _, t := range s.fw.View().Transactions() {
		if t.Month() == month {
			txs = append(txs, t)
		}
	}
	NewJSONResponse().Body(BudgetResponse{
		MonthView:    view,
		Accounts:     s.fw.View().Accounts(),
		Transactions: txs,
		RetryingIDs:  s.fw.RetryingIDs(),
	}).Write(w)
}

type allocationRequest struct {
	Month      core.Month `json:"month"`
	CategoryID string     `json:"categoryId"`
	Budgeted   int64      `json:"budgeted"`
}

func (s *Server) handleSetAllocation(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "set_allocation", err)
		return
	}
	req.CategoryID = sanitizeInput(req.CategoryID)
	if err := s.fw.SetAllocation(r.Context(), req.Month, req.CategoryID, req.Budgeted); err != nil {
		s.fail(w, r, "set_allocation", err)
		return
	}
	NewJSONResponse().Body(core.MonthlyAllocation{
		ID:         core.AllocationID(req.Month, req.CategoryID),
		Month:      req.Month,
		CategoryID: req.CategoryID,
		Budgeted:   req.Budgeted,
	}).Write(w)
}
