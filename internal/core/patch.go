package core

// TransactionPatch is a partial transaction update. Nil fields are left untouched.
type TransactionPatch struct {
	Date           *string            `json:"date,omitempty"`
	Payee          *string            `json:"payee,omitempty"`
	CategoryID     *string            `json:"categoryId,omitempty"`
	Category       *string            `json:"category,omitempty"`
	Amount         *int64             `json:"amount,omitempty"`
	AccountID      *string            `json:"accountId,omitempty"`
	Status         *TransactionStatus `json:"status,omitempty"`
	ScanStatus     *ScanStatus        `json:"scanStatus,omitempty"`
	ScanRetryCount *int               `json:"scanRetryCount,omitempty"`
	ScanLastError  *string            `json:"scanLastError,omitempty"`
}

// Apply returns a copy of t with the patch applied.
func (p TransactionPatch) Apply(t Transaction) Transaction {
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.Payee != nil {
		t.Payee = *p.Payee
	}
	if p.CategoryID != nil {
		t.CategoryID = *p.CategoryID
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.AccountID != nil {
		t.AccountID = *p.AccountID
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.ScanStatus != nil {
		t.ScanStatus = *p.ScanStatus
	}
	if p.ScanRetryCount != nil {
		t.ScanRetryCount = *p.ScanRetryCount
	}
	if p.ScanLastError != nil {
		t.ScanLastError = *p.ScanLastError
	}
	return t
}

// Fields returns the set fields keyed by their document names.
func (p TransactionPatch) Fields() map[string]any {
	f := map[string]any{}
	if p.Date != nil {
		f["date"] = *p.Date
	}
	if p.Payee != nil {
		f["payee"] = *p.Payee
	}
	if p.CategoryID != nil {
		f["categoryId"] = *p.CategoryID
	}
	if p.Category != nil {
		f["category"] = *p.Category
	}
	if p.Amount != nil {
		f["amount"] = *p.Amount
	}
	if p.AccountID != nil {
		f["accountId"] = *p.AccountID
	}
	if p.Status != nil {
		f["status"] = string(*p.Status)
	}
	if p.ScanStatus != nil {
		f["scanStatus"] = string(*p.ScanStatus)
	}
	if p.ScanRetryCount != nil {
		f["scanRetryCount"] = *p.ScanRetryCount
	}
	if p.ScanLastError != nil {
		f["scanLastError"] = *p.ScanLastError
	}
	return f
}

// Empty reports whether the patch changes nothing.
func (p TransactionPatch) Empty() bool {
	return len(p.Fields()) == 0
}

// CategoryPatch is a partial category update.
type CategoryPatch struct {
	Name         *string     `json:"name,omitempty"`
	Color        *string     `json:"color,omitempty"`
	Hex          *string     `json:"hex,omitempty"`
	TargetType   *TargetType `json:"targetType,omitempty"`
	TargetAmount *int64      `json:"targetAmount,omitempty"`
	TargetDate   *string     `json:"targetDate,omitempty"`
}

func (p CategoryPatch) Apply(c CategoryMetadata) CategoryMetadata {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Color != nil {
		c.Color = *p.Color
	}
	if p.Hex != nil {
		c.Hex = *p.Hex
	}
	if p.TargetType != nil {
		c.TargetType = *p.TargetType
	}
	if p.TargetAmount != nil {
		c.TargetAmount = *p.TargetAmount
	}
	if p.TargetDate != nil {
		c.TargetDate = *p.TargetDate
	}
	return c
}

func (p CategoryPatch) Fields() map[string]any {
	f := map[string]any{}
	if p.Name != nil {
		f["name"] = *p.Name
	}
	if p.Color != nil {
		f["color"] = *p.Color
	}
	if p.Hex != nil {
		f["hex"] = *p.Hex
	}
	if p.TargetType != nil {
		f["targetType"] = string(*p.TargetType)
	}
	if p.TargetAmount != nil {
		f["targetAmount"] = *p.TargetAmount
	}
	if p.TargetDate != nil {
		f["targetDate"] = *p.TargetDate
	}
	return f
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T { return &v }
