package journals

import (
	"time"

	"github.com/shopspring/decimal"
)

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusDraft    JournalStatus = "draft"
	JournalStatusPosted   JournalStatus = "posted"
	JournalStatusReversed JournalStatus = "reversed"
)

// SourcePeriodClose tags closing entries generated by the period manager.
const SourcePeriodClose = "period_close"

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID             int64           `json:"id"`
	Number         string          `json:"number"`
	Sequence       int64           `json:"sequence"`
	FiscalYear     int             `json:"fiscal_year"`
	Date           time.Time       `json:"date"`
	Description    string          `json:"description"`
	SourceType     string          `json:"source_type"`
	SourceID       int64           `json:"source_id"`
	ReversalOf     *int64          `json:"reversal_of,omitempty"`
	TotalDebit     decimal.Decimal `json:"total_debit"`
	TotalCredit    decimal.Decimal `json:"total_credit"`
	Status         JournalStatus   `json:"status"`
	PostedBy       int64           `json:"posted_by"`
	PostedAt       time.Time       `json:"posted_at"`
	ReversedBy     *int64          `json:"reversed_by,omitempty"`
	ReversedAt     *time.Time      `json:"reversed_at,omitempty"`
	ReversalReason *string         `json:"reversal_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Lines          []JournalLine   `json:"lines,omitempty"`
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	ID          int64           `json:"id"`
	JournalID   int64           `json:"journal_id"`
	LineNo      int             `json:"line_no"`
	AccountID   int64           `json:"account_id"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description,omitempty"`
}

// Filter narrows journal listings.
type Filter struct {
	From       *time.Time
	To         *time.Time
	SourceType string
	SourceID   int64
	Status     JournalStatus
}
