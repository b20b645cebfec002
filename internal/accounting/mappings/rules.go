package mappings

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	kinds "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// PlannedLine is a journal line whose account may still be a mapping slot.
type PlannedLine struct {
	Slot        Slot
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// Plan is the unresolved posting of one document.
type Plan struct {
	Description string
	Lines       []PlannedLine
}

// Rule maps a document to its posting plan.
type Rule func(doc documents.Document) (Plan, error)

var rules = map[documents.Kind]Rule{
	documents.KindSalesInvoice: salesInvoiceRule,
	documents.KindReceipt:      receiptRule,
}

// PlanFor applies the rule registered for the document kind.
func PlanFor(doc documents.Document) (Plan, error) {
	rule, ok := rules[doc.Kind]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", documents.ErrUnknownKind, doc.Kind)
	}
	return rule(doc)
}

// Slots lists the distinct mapping slots the plan needs resolved.
func (p Plan) Slots() []Slot {
	seen := make(map[Slot]struct{})
	var out []Slot
	for _, line := range p.Lines {
		if line.AccountID != 0 {
			continue
		}
		if _, ok := seen[line.Slot]; ok {
			continue
		}
		seen[line.Slot] = struct{}{}
		out = append(out, line.Slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Resolve substitutes account ids for slots.
func (p Plan) Resolve(resolved map[Slot]int64) ([]journals.PostingLineInput, error) {
	out := make([]journals.PostingLineInput, 0, len(p.Lines))
	for _, line := range p.Lines {
		accountID := line.AccountID
		if accountID == 0 {
			id, ok := resolved[line.Slot]
			if !ok || id == 0 {
				return nil, fmt.Errorf("%w: %s", shared.ErrMappingNotFound, line.Slot)
			}
			accountID = id
		}
		out = append(out, journals.PostingLineInput{
			AccountID:   accountID,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
		})
	}
	return out, nil
}

var errNonPositive = kinds.NewKindError(kinds.ErrValidation, "documents: amount must be positive")

func salesInvoiceRule(doc documents.Document) (Plan, error) {
	inv := doc.Invoice
	if inv == nil {
		return Plan{}, errors.New("mappings: sales invoice payload missing")
	}
	total := kinds.Round2(inv.Total)
	subtotal := kinds.Round2(inv.Subtotal)
	tax := kinds.Round2(inv.TaxAmount)
	if !total.IsPositive() {
		return Plan{}, fmt.Errorf("%w: invoice %s total %s", errNonPositive, inv.Number, total.StringFixed(2))
	}
	if subtotal.IsNegative() || tax.IsNegative() {
		return Plan{}, fmt.Errorf("%w: invoice %s has negative subtotal or tax", errNonPositive, inv.Number)
	}
	plan := Plan{
		Description: fmt.Sprintf("Sales invoice %s", inv.Number),
		Lines: []PlannedLine{
			{Slot: SlotInvoiceReceivable, Debit: total, Credit: decimal.Zero, Description: "Accounts receivable"},
			{Slot: SlotInvoiceRevenue, Debit: decimal.Zero, Credit: subtotal, Description: "Revenue"},
		},
	}
	if tax.IsPositive() {
		plan.Lines = append(plan.Lines, PlannedLine{Slot: SlotInvoiceTaxPayable, Debit: decimal.Zero, Credit: tax, Description: "Tax payable"})
	}
	return plan, nil
}

func receiptRule(doc documents.Document) (Plan, error) {
	rc := doc.Receipt
	if rc == nil {
		return Plan{}, errors.New("mappings: receipt payload missing")
	}
	amount := kinds.Round2(rc.Amount)
	if !amount.IsPositive() {
		return Plan{}, fmt.Errorf("%w: receipt %s amount %s", errNonPositive, rc.Number, amount.StringFixed(2))
	}
	cash := PlannedLine{Slot: SlotReceiptCash, Debit: amount, Credit: decimal.Zero, Description: "Cash/bank"}
	if rc.DepositAccountID != nil && *rc.DepositAccountID > 0 {
		cash.AccountID = *rc.DepositAccountID
	}
	return Plan{
		Description: fmt.Sprintf("Receipt %s", rc.Number),
		Lines: []PlannedLine{
			cash,
			{Slot: SlotReceiptReceivable, Debit: decimal.Zero, Credit: amount, Description: "Accounts receivable"},
		},
	}, nil
}
