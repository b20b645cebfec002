package accounting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the operations available inside one ledger transaction.
// Lock methods take row locks that are held until the transaction ends.
type TxRepository interface {
	LockDocument(ctx context.Context, ref documents.Ref) (documents.Document, error)
	MarkDocumentPosted(ctx context.Context, ref documents.Ref, journalID int64) error
	MarkDocumentReversed(ctx context.Context, ref documents.Ref) error
	CountDocumentAllocations(ctx context.Context, ref documents.Ref) (int, error)

	// LockAccounts locks the accounts in ascending id order.
	LockAccounts(ctx context.Context, ids []int64) (map[int64]accounts.Account, error)
	AdjustAccountBalance(ctx context.Context, accountID int64, delta decimal.Decimal) error
	ResolveMappings(ctx context.Context, slots []mappings.Slot) (map[mappings.Slot]int64, error)

	// LockPeriodByDate share-locks the period covering date; nil when none does.
	LockPeriodByDate(ctx context.Context, date time.Time) (*periods.Period, error)
	GetPeriodForUpdate(ctx context.Context, periodID int64) (periods.Period, error)
	InsertPeriod(ctx context.Context, p periods.Period) (periods.Period, error)
	UpdatePeriodStatus(ctx context.Context, p periods.Period) error
	DeletePeriod(ctx context.Context, periodID int64) error
	CountJournalsBetween(ctx context.Context, from, to time.Time) (int, error)
	SumNominalMovements(ctx context.Context, from, to time.Time) ([]AccountMovement, error)

	NextJournalSequence(ctx context.Context, fiscalYear int) (int64, error)
	InsertJournal(ctx context.Context, entry journals.JournalEntry) (journals.JournalEntry, error)
	GetJournalForUpdate(ctx context.Context, journalID int64) (journals.JournalEntry, error)
	MarkJournalReversed(ctx context.Context, journalID, reversedBy int64, at time.Time, reason string) error
}

// AccountMovement is the debit/credit activity of one account over a range.
type AccountMovement struct {
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts ledger operations by outcome.
type MetricsPort interface {
	Observe(operation string, err error)
}

// Locker serialises critical sections across processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}
