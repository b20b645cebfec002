package journals

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	kinds "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// MaxRoundingDrift is the largest imbalance Reconcile will absorb.
var MaxRoundingDrift = kinds.Cent

// PostingLineInput describes a journal line for posting request.
type PostingLineInput struct {
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	Date        time.Time
	Description string
	SourceType  string
	SourceID    int64
	ReversalOf  *int64
	PostedBy    int64
	Lines       []PostingLineInput
}

// Validate ensures posting input meets minimum criteria.
func (in PostingInput) Validate() error {
	if in.Date.IsZero() {
		return fmt.Errorf("%w: journal date required", kinds.ErrValidation)
	}
	if in.SourceType == "" {
		return fmt.Errorf("%w: source type required", kinds.ErrValidation)
	}
	if in.PostedBy <= 0 {
		return shared.ErrActorRequired
	}
	if len(in.Lines) < 2 {
		return shared.ErrTooFewLines
	}
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("%w: line %d missing account", shared.ErrInvalidLine, idx+1)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("%w: line %d negative amount", shared.ErrInvalidLine, idx+1)
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return fmt.Errorf("%w: line %d", shared.ErrInvalidLine, idx+1)
		}
	}
	debit, credit := Totals(in.Lines)
	if !debit.Equal(credit) {
		return fmt.Errorf("%w: debit %s credit %s", shared.ErrUnbalanced, debit.StringFixed(2), credit.StringFixed(2))
	}
	return nil
}

// Totals sums both sides.
func Totals(lines []PostingLineInput) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, line := range lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

// Reconcile rounds every line to currency precision and absorbs a residual
// imbalance of at most MaxRoundingDrift into the largest line on the short
// side. Zero-amount lines are dropped.
func Reconcile(lines []PostingLineInput) ([]PostingLineInput, error) {
	out := make([]PostingLineInput, 0, len(lines))
	for _, line := range lines {
		line.Debit = kinds.Round2(line.Debit)
		line.Credit = kinds.Round2(line.Credit)
		if line.Debit.IsZero() && line.Credit.IsZero() {
			continue
		}
		out = append(out, line)
	}
	debit, credit := Totals(out)
	diff := debit.Sub(credit)
	if diff.IsZero() {
		return out, nil
	}
	if diff.Abs().GreaterThan(MaxRoundingDrift) {
		return nil, fmt.Errorf("%w: debit %s credit %s", shared.ErrUnbalanced, debit.StringFixed(2), credit.StringFixed(2))
	}
	creditShort := diff.IsPositive()
	target := -1
	for idx, line := range out {
		amount := line.Debit
		if creditShort {
			amount = line.Credit
		}
		if !amount.IsPositive() {
			continue
		}
		if target < 0 {
			target = idx
			continue
		}
		best := out[target].Debit
		if creditShort {
			best = out[target].Credit
		}
		if amount.GreaterThan(best) {
			target = idx
		}
	}
	if target < 0 {
		return nil, fmt.Errorf("%w: no line to absorb rounding", shared.ErrUnbalanced)
	}
	if creditShort {
		out[target].Credit = out[target].Credit.Add(diff)
	} else {
		out[target].Debit = out[target].Debit.Sub(diff)
	}
	return out, nil
}
