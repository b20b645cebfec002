package periods

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	kinds "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen     PeriodStatus = kinds.PeriodStatusOpen
	PeriodStatusClosed   PeriodStatus = kinds.PeriodStatusClosed
	PeriodStatusArchived PeriodStatus = kinds.PeriodStatusArchived
)

// ErrInvalidMonth indicates a year/month outside the calendar.
var ErrInvalidMonth = kinds.NewKindError(kinds.ErrValidation, "accounting: invalid period year/month")

// Period represents one fiscal month.
type Period struct {
	ID               int64        `json:"id"`
	Year             int          `json:"year"`
	Month            int          `json:"month"`
	StartDate        time.Time    `json:"start_date"`
	EndDate          time.Time    `json:"end_date"`
	Status           PeriodStatus `json:"status"`
	ClosedBy         *int64       `json:"closed_by,omitempty"`
	ClosedAt         *time.Time   `json:"closed_at,omitempty"`
	ArchivedBy       *int64       `json:"archived_by,omitempty"`
	ArchivedAt       *time.Time   `json:"archived_at,omitempty"`
	ClosingJournalID *int64       `json:"closing_journal_id,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// NewMonthly derives an open period for year/month.
func NewMonthly(year, month int) (Period, error) {
	if month < 1 || month > 12 || year < 1900 || year > 9999 {
		return Period{}, fmt.Errorf("%w: %d-%d", ErrInvalidMonth, year, month)
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return Period{
		Year:      year,
		Month:     month,
		StartDate: start,
		EndDate:   start.AddDate(0, 1, -1),
		Status:    PeriodStatusOpen,
	}, nil
}

// Code renders the period as YYYY-MM.
func (p Period) Code() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Contains reports whether date falls inside the period, inclusive.
func (p Period) Contains(date time.Time) bool {
	d := kinds.DateOnly(date)
	return !d.Before(kinds.DateOnly(p.StartDate)) && !d.After(kinds.DateOnly(p.EndDate))
}

// PostingCheck is the outcome of the posting gate.
type PostingCheck struct {
	Allowed bool    `json:"allowed"`
	Period  *Period `json:"period,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// Evaluate applies the posting gate to date given the covering period, which may be nil.
func Evaluate(period *Period, date time.Time) PostingCheck {
	day := kinds.DateOnly(date).Format(kinds.DateLayout)
	if period == nil {
		return PostingCheck{Reason: fmt.Sprintf("no accounting period covers %s", day)}
	}
	if !period.Contains(date) {
		return PostingCheck{Period: period, Reason: fmt.Sprintf("period %s does not cover %s", period.Code(), day)}
	}
	if period.Status != PeriodStatusOpen {
		return PostingCheck{Period: period, Reason: fmt.Sprintf("period %s is %s", period.Code(), period.Status)}
	}
	return PostingCheck{Allowed: true, Period: period}
}

// Err converts a rejected check into ErrPeriodClosed.
func (c PostingCheck) Err() error {
	if c.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", shared.ErrPeriodClosed, c.Reason)
}
