// Package documents models the source documents the ledger posts from.
package documents

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Kind enumerates postable document types.
type Kind string

const (
	KindSalesInvoice Kind = "sales_invoice"
	KindReceipt      Kind = "receipt"
)

// ErrUnknownKind indicates an unsupported document type.
var ErrUnknownKind = shared.NewKindError(shared.ErrValidation, "documents: unknown document type")

// ErrDocumentNotFound indicates the referenced document is absent.
var ErrDocumentNotFound = shared.NewKindError(shared.ErrNotFound, "documents: document not found")

// ParseKind validates a raw document type.
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindSalesInvoice, KindReceipt:
		return Kind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
}

// Ref is a polymorphic pointer to a source document.
type Ref struct {
	Kind Kind
	ID   int64
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%d", r.Kind, r.ID)
}

// PostingStatus tracks whether a document has ledger effect.
type PostingStatus string

const (
	StatusDraft    PostingStatus = "draft"
	StatusPosted   PostingStatus = "posted"
	StatusReversed PostingStatus = "reversed"
)

// SalesInvoice is a billed obligation owed by a customer.
type SalesInvoice struct {
	ID            int64
	Number        string
	CustomerID    int64
	InvoiceDate   time.Time
	DueDate       *time.Time
	Subtotal      decimal.Decimal
	TaxAmount     decimal.Decimal
	Total         decimal.Decimal
	PostingStatus PostingStatus
	JournalID     *int64
}

// AgingDate returns the date aging is measured from.
func (i SalesInvoice) AgingDate() time.Time {
	if i.DueDate != nil {
		return *i.DueDate
	}
	return i.InvoiceDate
}

// Receipt is cash or bank money received from a customer.
type Receipt struct {
	ID               int64
	Number           string
	CustomerID       int64
	ReceiptDate      time.Time
	Amount           decimal.Decimal
	DepositAccountID *int64
	PostingStatus    PostingStatus
	JournalID        *int64
}

// Document is a tagged union over the postable kinds. Exactly one of
// Invoice or Receipt is set, matching Kind.
type Document struct {
	Kind    Kind
	Invoice *SalesInvoice
	Receipt *Receipt
}

// FromInvoice wraps an invoice.
func FromInvoice(inv SalesInvoice) Document {
	return Document{Kind: KindSalesInvoice, Invoice: &inv}
}

// FromReceipt wraps a receipt.
func FromReceipt(rc Receipt) Document {
	return Document{Kind: KindReceipt, Receipt: &rc}
}

// Ref returns the document reference.
func (d Document) Ref() Ref {
	return Ref{Kind: d.Kind, ID: d.ID()}
}

// ID returns the document id.
func (d Document) ID() int64 {
	switch d.Kind {
	case KindSalesInvoice:
		return d.Invoice.ID
	case KindReceipt:
		return d.Receipt.ID
	}
	return 0
}

// Number returns the human document number.
func (d Document) Number() string {
	switch d.Kind {
	case KindSalesInvoice:
		return d.Invoice.Number
	case KindReceipt:
		return d.Receipt.Number
	}
	return ""
}

// Date returns the accounting date of the document.
func (d Document) Date() time.Time {
	switch d.Kind {
	case KindSalesInvoice:
		return d.Invoice.InvoiceDate
	case KindReceipt:
		return d.Receipt.ReceiptDate
	}
	return time.Time{}
}

// Status returns the posting status.
func (d Document) Status() PostingStatus {
	switch d.Kind {
	case KindSalesInvoice:
		return d.Invoice.PostingStatus
	case KindReceipt:
		return d.Receipt.PostingStatus
	}
	return ""
}

// JournalID returns the journal of the current posting, if any.
func (d Document) JournalID() *int64 {
	switch d.Kind {
	case KindSalesInvoice:
		return d.Invoice.JournalID
	case KindReceipt:
		return d.Receipt.JournalID
	}
	return nil
}
