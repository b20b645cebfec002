package ar

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Bucket labels in report order.
const (
	Bucket0To30  = "0-30"
	Bucket31To60 = "31-60"
	Bucket61To90 = "61-90"
	Bucket91Plus = "91+"
)

// AgingLine is an open invoice as read for the aging snapshot.
type AgingLine struct {
	InvoiceID   int64
	CustomerID  int64
	InvoiceDate time.Time
	DueDate     *time.Time
	Outstanding decimal.Decimal
}

// AgingBuckets holds outstanding amounts per bucket.
type AgingBuckets struct {
	Current    decimal.Decimal `json:"current"`
	Days31To60 decimal.Decimal `json:"31_60"`
	Days61To90 decimal.Decimal `json:"61_90"`
	Days91Plus decimal.Decimal `json:"91_plus"`
	Total      decimal.Decimal `json:"total"`
}

// AgingRow aggregates one customer.
type AgingRow struct {
	CustomerID int64 `json:"customer_id"`
	AgingBuckets
}

// AgingReport groups outstanding receivables by customer and bucket.
type AgingReport struct {
	AsOf   time.Time    `json:"as_of"`
	Rows   []AgingRow   `json:"rows"`
	Totals AgingBuckets `json:"totals"`
}

// BucketFor returns the bucket label for an invoice measured at asOf.
func BucketFor(asOf time.Time, line AgingLine) string {
	from := line.InvoiceDate
	if line.DueDate != nil {
		from = *line.DueDate
	}
	days := shared.DaysBetween(from, asOf)
	switch {
	case days <= 30:
		return Bucket0To30
	case days <= 60:
		return Bucket31To60
	case days <= 90:
		return Bucket61To90
	default:
		return Bucket91Plus
	}
}

func (b *AgingBuckets) add(bucket string, amount decimal.Decimal) {
	switch bucket {
	case Bucket0To30:
		b.Current = b.Current.Add(amount)
	case Bucket31To60:
		b.Days31To60 = b.Days31To60.Add(amount)
	case Bucket61To90:
		b.Days61To90 = b.Days61To90.Add(amount)
	default:
		b.Days91Plus = b.Days91Plus.Add(amount)
	}
	b.Total = b.Total.Add(amount)
}

func zeroBuckets() AgingBuckets {
	return AgingBuckets{Current: decimal.Zero, Days31To60: decimal.Zero, Days61To90: decimal.Zero, Days91Plus: decimal.Zero, Total: decimal.Zero}
}

// BuildAgingReport folds lines into per customer rows ordered by customer id.
func BuildAgingReport(asOf time.Time, lines []AgingLine) AgingReport {
	asOf = shared.DateOnly(asOf)
	report := AgingReport{AsOf: asOf, Rows: []AgingRow{}, Totals: zeroBuckets()}
	byCustomer := map[int64]*AgingRow{}
	for _, line := range lines {
		if !line.Outstanding.IsPositive() {
			continue
		}
		row, ok := byCustomer[line.CustomerID]
		if !ok {
			row = &AgingRow{CustomerID: line.CustomerID, AgingBuckets: zeroBuckets()}
			byCustomer[line.CustomerID] = row
		}
		bucket := BucketFor(asOf, line)
		row.add(bucket, line.Outstanding)
		report.Totals.add(bucket, line.Outstanding)
	}
	for _, row := range byCustomer {
		report.Rows = append(report.Rows, *row)
	}
	sort.Slice(report.Rows, func(i, j int) bool { return report.Rows[i].CustomerID < report.Rows[j].CustomerID })
	return report
}

// AgingReport computes receivable aging as of the given date.
func (s *Service) AgingReport(ctx context.Context, asOf time.Time, customerID int64) (AgingReport, error) {
	if asOf.IsZero() {
		return AgingReport{}, fmt.Errorf("%w: as_of date required", shared.ErrValidation)
	}
	lines, err := s.repo.AgingLines(ctx, shared.DateOnly(asOf), customerID)
	if err != nil {
		return AgingReport{}, err
	}
	return BuildAgingReport(asOf, lines), nil
}
