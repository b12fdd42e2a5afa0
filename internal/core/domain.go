package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	AccountChecking   AccountType = "Checking"
	AccountSavings    AccountType = "Savings"
	AccountCreditCard AccountType = "Credit Card"
	AccountCash       AccountType = "Cash"

	TargetMonthly       TargetType = "monthly"
	TargetBalance       TargetType = "balance"
	TargetBalanceByDate TargetType = "balance_by_date"

	StatusUncleared  TransactionStatus = "uncleared"
	StatusCleared    TransactionStatus = "cleared"
	StatusReconciled TransactionStatus = "reconciled"

	ScanNone      ScanStatus = ""
	ScanPending   ScanStatus = "pending"
	ScanScanning  ScanStatus = "scanning"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// DateLayout is the wire format of transaction and target dates.
const DateLayout = "2006-01-02"

type (
	AccountType       string
	TargetType        string
	TransactionStatus string
	ScanStatus        string

	// Account balances are signed cents.
	Account struct {
		ID      string      `bson:"_id" json:"id"`
		Name    string      `bson:"name" json:"name"`
		Type    AccountType `bson:"type" json:"type"`
		Balance int64       `bson:"balance" json:"balance"`
	}

	CategoryMetadata struct {
		ID              string     `bson:"_id" json:"id"`
		Name            string     `bson:"name" json:"name"`
		Color           string     `bson:"color,omitempty" json:"color,omitempty"`
		Hex             string     `bson:"hex,omitempty" json:"hex,omitempty"`
		IsRta           bool       `bson:"isRta" json:"isRta"`
		IsCcPayment     bool       `bson:"isCcPayment" json:"isCcPayment"`
		LinkedAccountID string     `bson:"linkedAccountId,omitempty" json:"linkedAccountId,omitempty"`
		TargetType      TargetType `bson:"targetType,omitempty" json:"targetType,omitempty"`
		TargetAmount    int64      `bson:"targetAmount,omitempty" json:"targetAmount,omitempty"`
		TargetDate      string     `bson:"targetDate,omitempty" json:"targetDate,omitempty"`
	}

	// MonthlyAllocation is keyed by AllocationID(month, categoryID).
	MonthlyAllocation struct {
		ID         string `bson:"_id" json:"id"`
		Month      Month  `bson:"month" json:"month"`
		CategoryID string `bson:"categoryId" json:"categoryId"`
		Budgeted   int64  `bson:"budgeted" json:"budgeted"`
	}

	// Transaction links its category by CategoryID. Category holds the display
	// name at write time and is only used to resolve documents written before
	// ids were stored.
	Transaction struct {
		ID             string            `bson:"_id" json:"id"`
		Date           string            `bson:"date" json:"date"`
		Payee          string            `bson:"payee" json:"payee"`
		CategoryID     string            `bson:"categoryId,omitempty" json:"categoryId,omitempty"`
		Category       string            `bson:"category" json:"category"`
		Amount         int64             `bson:"amount" json:"amount"`
		AccountID      string            `bson:"accountId" json:"accountId"`
		Status         TransactionStatus `bson:"status" json:"status"`
		ScanStatus     ScanStatus        `bson:"scanStatus,omitempty" json:"scanStatus,omitempty"`
		ScanRetryCount int               `bson:"scanRetryCount,omitempty" json:"scanRetryCount,omitempty"`
		ScanLastError  string            `bson:"scanLastError,omitempty" json:"scanLastError,omitempty"`
		IsPending      bool              `bson:"-" json:"isPending"`
	}

	// DerivedCategory is a category's ledger position for one month. Never persisted.
	DerivedCategory struct {
		CategoryMetadata
		Month     Month `json:"month"`
		Budgeted  int64 `json:"budgeted"`
		Activity  int64 `json:"activity"`
		Available int64 `json:"available"`
		Spent     int64 `json:"spent"`
	}
)

var (
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyName        = errors.New("empty name")
	ErrEmptyAccount     = errors.New("empty account")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrInvalidType      = errors.New("invalid type")
	ErrInvalidTarget    = errors.New("invalid target")
	ErrNameTooLong      = errors.New("name too long (max 100 characters)")
	ErrPayeeTooLong     = errors.New("payee too long (max 200 characters)")
	ErrInvalidScanState = errors.New("invalid scan status")
)

// AllocationID is the document id of the allocation for a category in a month.
func AllocationID(month Month, categoryID string) string {
	return string(month) + "_" + categoryID
}

// ValidateDate checks a YYYY-MM-DD date string.
func ValidateDate(s string) error {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return nil
}

func (t AccountType) Valid() bool {
	switch t {
	case AccountChecking, AccountSavings, AccountCreditCard, AccountCash:
		return true
	}
	return false
}

func (t TargetType) Valid() bool {
	switch t {
	case "", TargetMonthly, TargetBalance, TargetBalanceByDate:
		return true
	}
	return false
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusUncleared, StatusCleared, StatusReconciled:
		return true
	}
	return false
}

func (s ScanStatus) Valid() bool {
	switch s {
	case ScanNone, ScanPending, ScanScanning, ScanCompleted, ScanFailed:
		return true
	}
	return false
}

// IsCreditCard reports whether outflows on the account are funded through a
// CC-payment category.
func (a Account) IsCreditCard() bool {
	return a.Type == AccountCreditCard
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	if len(a.Name) > 100 {
		return ErrNameTooLong
	}
	if !a.Type.Valid() {
		return fmt.Errorf("%w: account type %q", ErrInvalidType, a.Type)
	}
	return nil
}

// IsSpending reports whether the category is a plain envelope (neither RTA nor CC payment).
func (c CategoryMetadata) IsSpending() bool {
	return !c.IsRta && !c.IsCcPayment
}

func (c CategoryMetadata) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if len(c.Name) > 100 {
		return ErrNameTooLong
	}
	if c.IsRta && c.IsCcPayment {
		return fmt.Errorf("%w: category cannot be both RTA and CC payment", ErrInvalidType)
	}
	if c.IsCcPayment && c.LinkedAccountID == "" {
		return fmt.Errorf("%w: CC payment category needs a linked account", ErrEmptyAccount)
	}
	if !c.TargetType.Valid() {
		return fmt.Errorf("%w: target type %q", ErrInvalidTarget, c.TargetType)
	}
	if c.TargetAmount < 0 {
		return fmt.Errorf("%w: negative target amount", ErrInvalidTarget)
	}
	if c.TargetType == TargetBalanceByDate {
		if err := ValidateDate(c.TargetDate); err != nil {
			return fmt.Errorf("%w: balance_by_date needs a target date", ErrInvalidTarget)
		}
	}
	return nil
}

func (a MonthlyAllocation) Validate() error {
	if err := a.Month.Validate(); err != nil {
		return err
	}
	if a.CategoryID == "" {
		return errors.New("allocation needs a category")
	}
	return nil
}

func (t Transaction) Validate() error {
	if err := ValidateDate(t.Date); err != nil {
		return err
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrEmptyAccount
	}
	if len(t.Payee) > 200 {
		return ErrPayeeTooLong
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, t.Status)
	}
	if !t.ScanStatus.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidScanState, t.ScanStatus)
	}
	return nil
}

// Month returns the ledger month the transaction posts to.
func (t Transaction) Month() Month {
	return MonthOf(t.Date)
}

// IsOutflow reports whether the transaction takes money out of its account.
func (t Transaction) IsOutflow() bool {
	return t.Amount < 0
}

// AwaitingScan reports whether an automatic scan sweep should pick the
// transaction up given the retry bound.
func (t Transaction) AwaitingScan(maxRetries int) bool {
	switch t.ScanStatus {
	case ScanPending:
		return true
	case ScanFailed:
		return t.ScanRetryCount < maxRetries
	}
	return false
}
