package journals

import (
	"fmt"
	"time"
)

// FiscalYear returns the fiscal year label for date, where the fiscal year
// starts on the first day of startMonth and is named after its ending year.
// A startMonth of 1 (or out of range) means calendar years.
func FiscalYear(date time.Time, startMonth int) int {
	if startMonth <= 1 || startMonth > 12 {
		return date.Year()
	}
	if int(date.Month()) >= startMonth {
		return date.Year() + 1
	}
	return date.Year()
}

// FormatNumber renders the human readable journal number.
func FormatNumber(fiscalYear int, seq int64) string {
	return fmt.Sprintf("JE-%d-%06d", fiscalYear, seq)
}

// ReverseLines swaps debit and credit on every line, keeping order.
func ReverseLines(lines []JournalLine) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, PostingLineInput{
			AccountID:   line.AccountID,
			Debit:       line.Credit,
			Credit:      line.Debit,
			Description: line.Description,
		})
	}
	return out
}

// DefaultReversalDescription labels a reversal entry.
func DefaultReversalDescription(original JournalEntry, reason string) string {
	return fmt.Sprintf("Reversal of %s: %s", original.Number, reason)
}
