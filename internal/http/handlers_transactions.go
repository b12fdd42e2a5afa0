package http

import (
	"net/http"

	"zerosum/internal/core"
)

type transactionRequest struct {
	Date       string                 `json:"date"`
	Payee      string                 `json:"payee"`
	CategoryID string                 `json:"categoryId"`
	Category   string                 `json:"category"`
	Amount     int64                  `json:"amount"`
	AccountID  string                 `json:"accountId"`
	Status     core.TransactionStatus `json:"status"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "add_transaction", err)
		return
	}
	tx, err := s.fw.AddTransaction(r.Context(), core.Transaction{
		Date:       sanitizeInput(req.Date),
		Payee:      sanitizeInput(req.Payee),
		CategoryID: sanitizeInput(req.CategoryID),
		Category:   sanitizeInput(req.Category),
		Amount:     req.Amount,
		AccountID:  sanitizeInput(req.AccountID),
		Status:     req.Status,
	})
	if err != nil {
		s.fail(w, r, "add_transaction", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(tx).Write(w)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r)
	if err != nil {
		s.fail(w, r, "update_transaction", err)
		return
	}
	var patch core.TransactionPatch
	if err := DecodeJSON(w, r, &patch); err != nil {
		s.fail(w, r, "update_transaction", err)
		return
	}
	// Scan bookkeeping belongs to the scan queue.
	if patch.ScanRetryCount != nil || patch.ScanLastError != nil {
		s.fail(w, r, "update_transaction", badRequestf("scan fields are read-only"))
		return
	}
	sanitizePtr(patch.Payee)
	sanitizePtr(patch.Category)
	sanitizePtr(patch.CategoryID)
	sanitizePtr(patch.AccountID)
	sanitizePtr(patch.Date)

	tx, err := s.fw.UpdateTransaction(r.Context(), id, patch)
	if err != nil {
		s.fail(w, r, "update_transaction", err)
		return
	}
	NewJSONResponse().Body(tx).Write(w)
}
