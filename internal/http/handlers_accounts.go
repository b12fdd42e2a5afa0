package http

import (
	"net/http"

	"zerosum/internal/core"
)

type accountRequest struct {
	Name            string           `json:"name"`
	Type            core.AccountType `json:"type"`
	StartingBalance int64            `json:"startingBalance"`
	// Date of the starting-balance transaction; today when empty.
	Date string `json:"date"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "add_account", err)
		return
	}
	date := sanitizeInput(req.Date)
	if date == "" {
		date = s.now().Format(core.DateLayout)
	}
	a, err := s.fw.AddAccount(r.Context(), core.Account{
		Name: sanitizeInput(req.Name),
		Type: req.Type,
	}, req.StartingBalance, date)
	if err != nil {
		s.fail(w, r, "add_account", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(a).Write(w)
}

func (s *Server) handleReconcileAccount(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r)
	if err != nil {
		s.fail(w, r, "reconcile_account", err)
		return
	}
	n, err := s.fw.ReconcileAccount(r.Context(), id)
	if err != nil {
		s.fail(w, r, "reconcile_account", err)
		return
	}
	NewJSONResponse().Body(map[string]int{"reconciled": n}).Write(w)
}
