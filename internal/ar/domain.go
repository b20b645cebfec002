package ar

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Allocation errors.
var (
	ErrInvalidAmount      = shared.NewKindError(shared.ErrValidation, "ar: allocation amount must be positive with at most 2 decimals")
	ErrEmptyBatch         = shared.NewKindError(shared.ErrValidation, "ar: batch requires at least one allocation")
	ErrAllocationNotFound = shared.NewKindError(shared.ErrNotFound, "ar: allocation not found")
	ErrReceiptNotFound    = shared.NewKindError(shared.ErrNotFound, "ar: receipt not found")
	ErrInvoiceNotFound    = shared.NewKindError(shared.ErrNotFound, "ar: invoice not found")
	ErrOverAllocation     = shared.NewKindError(shared.ErrStateConflict, "ar: amount exceeds outstanding balance")
	ErrNotPosted          = shared.NewKindError(shared.ErrStateConflict, "ar: document is not posted")
	ErrCustomerMismatch   = shared.NewKindError(shared.ErrStateConflict, "ar: receipt and invoice belong to different customers")
)

// Allocation earmarks part of a receipt against one invoice.
type Allocation struct {
	ID        int64           `json:"id"`
	ReceiptID int64           `json:"receipt_id"`
	InvoiceID int64           `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Notes     string          `json:"notes,omitempty"`
	BatchID   *uuid.UUID      `json:"batch_id,omitempty"`
	CreatedBy int64           `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

// AllocateInput requests one allocation.
type AllocateInput struct {
	ReceiptID int64
	InvoiceID int64
	Amount    decimal.Decimal
	Notes     string
	CreatedBy int64
}

// Validate rejects malformed input before a transaction opens.
func (in AllocateInput) Validate() error {
	if in.ReceiptID <= 0 {
		return fmt.Errorf("%w: receipt id required", shared.ErrValidation)
	}
	if in.InvoiceID <= 0 {
		return fmt.Errorf("%w: invoice id required", shared.ErrValidation)
	}
	if !in.Amount.IsPositive() || !in.Amount.Equal(shared.Round2(in.Amount)) {
		return fmt.Errorf("%w: got %s", ErrInvalidAmount, in.Amount.String())
	}
	if in.CreatedBy <= 0 {
		return fmt.Errorf("%w: acting user required", shared.ErrValidation)
	}
	return nil
}

// BatchInput applies several allocations atomically.
type BatchInput struct {
	Items     []AllocateInput
	CreatedBy int64
}

// BatchResult reports an applied batch.
type BatchResult struct {
	BatchID     uuid.UUID    `json:"batch_id"`
	Count       int          `json:"count"`
	Allocations []Allocation `json:"allocations"`
}

// UnallocateInput removes an allocation.
type UnallocateInput struct {
	AllocationID int64
	Actor        int64
	Reason       string
}

// OpenInvoice is a posted invoice with a positive outstanding balance.
type OpenInvoice struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	CustomerID  int64           `json:"customer_id"`
	InvoiceDate time.Time       `json:"invoice_date"`
	DueDate     *time.Time      `json:"due_date,omitempty"`
	Total       decimal.Decimal `json:"total"`
	Allocated   decimal.Decimal `json:"allocated"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// AllocationFilter narrows allocation listings. Zero fields are ignored.
type AllocationFilter struct {
	ReceiptID  int64
	InvoiceID  int64
	CustomerID int64
}

// outstanding returns total minus allocated, rounded to currency precision.
func outstanding(total, allocated decimal.Decimal) decimal.Decimal {
	return shared.Round2(total.Sub(allocated))
}
