package mappings

import (
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
)

// AccountMapping links integration keys to ledger accounts.
type AccountMapping struct {
	Module    string    `json:"module"`
	Key       string    `json:"key"`
	AccountID int64     `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Slot identifies one row of account_mappings.
type Slot struct {
	Module string
	Key    string
}

func (s Slot) String() string {
	return s.Module + ":" + s.Key
}

// Module names are the upper-cased document kind.
const (
	ModuleSalesInvoice = "SALES_INVOICE"
	ModuleReceipt      = "RECEIPT"
	ModuleClosing      = "CLOSING"
)

var (
	SlotInvoiceReceivable = Slot{Module: ModuleSalesInvoice, Key: "sales_invoice.receivable"}
	SlotInvoiceRevenue    = Slot{Module: ModuleSalesInvoice, Key: "sales_invoice.revenue"}
	SlotInvoiceTaxPayable = Slot{Module: ModuleSalesInvoice, Key: "sales_invoice.tax_payable"}
	SlotReceiptCash       = Slot{Module: ModuleReceipt, Key: "receipt.cash"}
	SlotReceiptReceivable = Slot{Module: ModuleReceipt, Key: "receipt.receivable"}
	SlotRetainedEarnings  = Slot{Module: ModuleClosing, Key: "closing.retained_earnings"}
)

// ModuleFor returns the mapping module of a document kind.
func ModuleFor(kind documents.Kind) string {
	switch kind {
	case documents.KindSalesInvoice:
		return ModuleSalesInvoice
	case documents.KindReceipt:
		return ModuleReceipt
	}
	return ""
}
