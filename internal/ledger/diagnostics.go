package ledger

import (
	"fmt"

	"zerosum/internal/core"
)

// DiagnosticKind classifies an inconsistency found while computing the ledger.
type DiagnosticKind string

const (
	// DiagMissingRTA means no category is flagged as Ready to Assign.
	DiagMissingRTA DiagnosticKind = "missing_rta"
	// DiagDuplicateRTA means more than one category is flagged as Ready to Assign.
	DiagDuplicateRTA DiagnosticKind = "duplicate_rta"
	// DiagMissingCCPayment means a credit card account has no linked payment category.
	DiagMissingCCPayment DiagnosticKind = "missing_cc_payment"
	// DiagUnknownCategory means a transaction could not be matched to any category.
	DiagUnknownCategory DiagnosticKind = "unknown_category"
	// DiagLegacyNameLink means a transaction was matched through its category name.
	DiagLegacyNameLink DiagnosticKind = "legacy_name_link"
	// DiagInvalidDate means a transaction date could not be placed in a month.
	DiagInvalidDate DiagnosticKind = "invalid_date"
	// DiagBalanceDrift means a stored account balance disagrees with its transactions.
	DiagBalanceDrift DiagnosticKind = "balance_drift"
)

// Diagnostic reports a condition that left part of the ledger incomplete.
type Diagnostic struct {
	Kind          DiagnosticKind `json:"kind"`
	Month         core.Month     `json:"month,omitempty"`
	CategoryID    string         `json:"categoryId,omitempty"`
	AccountID     string         `json:"accountId,omitempty"`
	TransactionID string         `json:"transactionId,omitempty"`
	Message       string         `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

// Has reports whether any diagnostic of kind k is present.
func Has(diags []Diagnostic, k DiagnosticKind) bool {
	for _, d := range diags {
		if d.Kind == k {
			return true
		}
	}
	return false
}
