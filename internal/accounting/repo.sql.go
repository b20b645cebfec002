package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	ledgererr "github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository implements RepositoryPort on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn in a READ COMMITTED transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

const invoiceColumns = `id, number, customer_id, invoice_date, due_date, subtotal, tax_amount, total, posting_status, journal_id`

const receiptColumns = `id, number, customer_id, receipt_date, amount, deposit_account_id, posting_status, journal_id`

func documentTable(kind documents.Kind) (string, error) {
	switch kind {
	case documents.KindSalesInvoice:
		return "sales_invoices", nil
	case documents.KindReceipt:
		return "receipts", nil
	}
	return "", fmt.Errorf("%w: %q", documents.ErrUnknownKind, kind)
}

func (r *txRepository) LockDocument(ctx context.Context, ref documents.Ref) (documents.Document, error) {
	var (
		doc documents.Document
		err error
	)
	switch ref.Kind {
	case documents.KindSalesInvoice:
		var inv documents.SalesInvoice
		err = r.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM sales_invoices WHERE id=$1 FOR UPDATE`, ref.ID).
			Scan(&inv.ID, &inv.Number, &inv.CustomerID, &inv.InvoiceDate, &inv.DueDate, &inv.Subtotal, &inv.TaxAmount, &inv.Total, &inv.PostingStatus, &inv.JournalID)
		doc = documents.FromInvoice(inv)
	case documents.KindReceipt:
		var rc documents.Receipt
		err = r.tx.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id=$1 FOR UPDATE`, ref.ID).
			Scan(&rc.ID, &rc.Number, &rc.CustomerID, &rc.ReceiptDate, &rc.Amount, &rc.DepositAccountID, &rc.PostingStatus, &rc.JournalID)
		doc = documents.FromReceipt(rc)
	default:
		return documents.Document{}, fmt.Errorf("%w: %q", documents.ErrUnknownKind, ref.Kind)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return documents.Document{}, fmt.Errorf("%w: %s", documents.ErrDocumentNotFound, ref)
		}
		return documents.Document{}, err
	}
	return doc, nil
}

func (r *txRepository) MarkDocumentPosted(ctx context.Context, ref documents.Ref, journalID int64) error {
	table, err := documentTable(ref.Kind)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `UPDATE `+table+` SET posting_status='posted', journal_id=$2, updated_at=NOW() WHERE id=$1`, ref.ID, journalID)
	return err
}

func (r *txRepository) MarkDocumentReversed(ctx context.Context, ref documents.Ref) error {
	table, err := documentTable(ref.Kind)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `UPDATE `+table+` SET posting_status='reversed', journal_id=NULL, updated_at=NOW() WHERE id=$1`, ref.ID)
	return err
}

func (r *txRepository) CountDocumentAllocations(ctx context.Context, ref documents.Ref) (int, error) {
	var column string
	switch ref.Kind {
	case documents.KindSalesInvoice:
		column = "invoice_id"
	case documents.KindReceipt:
		column = "receipt_id"
	default:
		return 0, fmt.Errorf("%w: %q", documents.ErrUnknownKind, ref.Kind)
	}
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM ar_allocations WHERE `+column+`=$1`, ref.ID).Scan(&n)
	return n, err
}

func (r *txRepository) LockAccounts(ctx context.Context, ids []int64) (map[int64]accounts.Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accounts.SelectColumns+` FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]accounts.Account, len(ids))
	for rows.Next() {
		a, err := accounts.Scan(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (r *txRepository) AdjustAccountBalance(ctx context.Context, accountID int64, delta decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE accounts SET balance = balance + $2, updated_at=NOW() WHERE id=$1`, accountID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ledgererr.ErrAccountNotFound, accountID)
	}
	return nil
}

func (r *txRepository) ResolveMappings(ctx context.Context, slots []mappings.Slot) (map[mappings.Slot]int64, error) {
	out := make(map[mappings.Slot]int64, len(slots))
	for _, slot := range slots {
		var accountID int64
		err := r.tx.QueryRow(ctx, `SELECT account_id FROM account_mappings WHERE module=$1 AND key=$2`, slot.Module, slot.Key).Scan(&accountID)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[slot] = accountID
	}
	return out, nil
}

func (r *txRepository) LockPeriodByDate(ctx context.Context, date time.Time) (*periods.Period, error) {
	p, err := periods.Scan(r.tx.QueryRow(ctx, `SELECT `+periods.SelectColumns+` FROM accounting_periods
WHERE $1::date BETWEEN start_date AND end_date FOR SHARE`, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, periodID int64) (periods.Period, error) {
	p, err := periods.Scan(r.tx.QueryRow(ctx, `SELECT `+periods.SelectColumns+` FROM accounting_periods WHERE id=$1 FOR UPDATE`, periodID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return periods.Period{}, fmt.Errorf("%w: id %d", ledgererr.ErrPeriodNotFound, periodID)
		}
		return periods.Period{}, err
	}
	return p, nil
}

func (r *txRepository) InsertPeriod(ctx context.Context, p periods.Period) (periods.Period, error) {
	out, err := periods.Scan(r.tx.QueryRow(ctx, `INSERT INTO accounting_periods (year, month, start_date, end_date, status)
VALUES ($1, $2, $3, $4, $5) RETURNING `+periods.SelectColumns, p.Year, p.Month, p.StartDate, p.EndDate, p.Status))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return periods.Period{}, fmt.Errorf("%w: %s", ledgererr.ErrPeriodExists, p.Code())
		}
		return periods.Period{}, err
	}
	return out, nil
}

func (r *txRepository) UpdatePeriodStatus(ctx context.Context, p periods.Period) error {
	_, err := r.tx.Exec(ctx, `UPDATE accounting_periods SET status=$2, closed_by=$3, closed_at=$4, archived_by=$5, archived_at=$6,
closing_journal_id=$7, updated_at=NOW() WHERE id=$1`, p.ID, p.Status, p.ClosedBy, p.ClosedAt, p.ArchivedBy, p.ArchivedAt, p.ClosingJournalID)
	return err
}

func (r *txRepository) DeletePeriod(ctx context.Context, periodID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM accounting_periods WHERE id=$1`, periodID)
	return err
}

func (r *txRepository) CountJournalsBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries WHERE date BETWEEN $1 AND $2`, from, to).Scan(&n)
	return n, err
}

func (r *txRepository) SumNominalMovements(ctx context.Context, from, to time.Time) ([]AccountMovement, error) {
	rows, err := r.tx.Query(ctx, `SELECT jl.account_id, COALESCE(SUM(jl.debit),0), COALESCE(SUM(jl.credit),0)
FROM journal_lines jl
JOIN journal_entries je ON je.id = jl.journal_id
JOIN accounts a ON a.id = jl.account_id
WHERE je.date BETWEEN $1 AND $2 AND a.type IN ('revenue','expense')
GROUP BY jl.account_id
ORDER BY jl.account_id`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountMovement
	for rows.Next() {
		var mv AccountMovement
		if err := rows.Scan(&mv.AccountID, &mv.Debit, &mv.Credit); err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

func (r *txRepository) NextJournalSequence(ctx context.Context, fiscalYear int) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_sequences (fiscal_year, last_value) VALUES ($1, 1)
ON CONFLICT (fiscal_year) DO UPDATE SET last_value = journal_sequences.last_value + 1
RETURNING last_value`, fiscalYear).Scan(&seq)
	return seq, err
}

func (r *txRepository) InsertJournal(ctx context.Context, entry journals.JournalEntry) (journals.JournalEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (number, sequence, fiscal_year, date, description, source_type, source_id,
reversal_of, total_debit, total_credit, status, posted_by, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING id, created_at`,
		entry.Number, entry.Sequence, entry.FiscalYear, entry.Date, entry.Description, entry.SourceType, entry.SourceID,
		entry.ReversalOf, entry.TotalDebit, entry.TotalCredit, entry.Status, entry.PostedBy, entry.PostedAt).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return journals.JournalEntry{}, err
	}
	batch := &pgx.Batch{}
	for _, line := range entry.Lines {
		batch.Queue(`INSERT INTO journal_lines (journal_id, line_no, account_id, debit, credit, description)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, entry.ID, line.LineNo, line.AccountID, line.Debit, line.Credit, line.Description)
	}
	results := r.tx.SendBatch(ctx, batch)
	for i := range entry.Lines {
		if err := results.QueryRow().Scan(&entry.Lines[i].ID); err != nil {
			_ = results.Close()
			return journals.JournalEntry{}, err
		}
		entry.Lines[i].JournalID = entry.ID
	}
	if err := results.Close(); err != nil {
		return journals.JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) GetJournalForUpdate(ctx context.Context, journalID int64) (journals.JournalEntry, error) {
	entry, err := journals.ScanEntry(r.tx.QueryRow(ctx, `SELECT `+journals.EntryColumns+` FROM journal_entries WHERE id=$1 FOR UPDATE`, journalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return journals.JournalEntry{}, fmt.Errorf("%w: id %d", ledgererr.ErrJournalNotFound, journalID)
		}
		return journals.JournalEntry{}, err
	}
	entry.Lines, err = journals.LoadLines(ctx, r.tx, journalID)
	if err != nil {
		return journals.JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) MarkJournalReversed(ctx context.Context, journalID, reversedBy int64, at time.Time, reason string) error {
	tag, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='reversed', reversed_by=$2, reversed_at=$3, reversal_reason=$4
WHERE id=$1 AND status='posted'`, journalID, reversedBy, at, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ledgererr.ErrJournalReversed, journalID)
	}
	return nil
}

// IntegrityViolation describes a ledger inconsistency found by a scan.
type IntegrityViolation struct {
	Kind   string `json:"kind"`
	Ref    string `json:"ref"`
	Detail string `json:"detail"`
}

// UnbalancedJournals returns entries whose lines do not sum to equal totals.
func (r *Repository) UnbalancedJournals(ctx context.Context) ([]IntegrityViolation, error) {
	rows, err := r.pool.Query(ctx, `SELECT je.number, je.total_debit, je.total_credit,
COALESCE(SUM(jl.debit),0), COALESCE(SUM(jl.credit),0)
FROM journal_entries je
LEFT JOIN journal_lines jl ON jl.journal_id = je.id
GROUP BY je.id
HAVING COALESCE(SUM(jl.debit),0) <> COALESCE(SUM(jl.credit),0)
    OR COALESCE(SUM(jl.debit),0) <> je.total_debit
ORDER BY je.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []IntegrityViolation
	for rows.Next() {
		var number string
		var totalDebit, totalCredit, lineDebit, lineCredit decimal.Decimal
		if err := rows.Scan(&number, &totalDebit, &totalCredit, &lineDebit, &lineCredit); err != nil {
			return nil, err
		}
		out = append(out, IntegrityViolation{
			Kind:   "unbalanced_journal",
			Ref:    number,
			Detail: fmt.Sprintf("header %s/%s lines %s/%s", totalDebit.StringFixed(2), totalCredit.StringFixed(2), lineDebit.StringFixed(2), lineCredit.StringFixed(2)),
		})
	}
	return out, rows.Err()
}

// AccountBalanceDrift returns accounts whose stored balance differs from the
// sum of their journal lines.
func (r *Repository) AccountBalanceDrift(ctx context.Context) ([]IntegrityViolation, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.code, a.balance,
CASE WHEN a.nature = 'credit' THEN COALESCE(SUM(jl.credit - jl.debit),0) ELSE COALESCE(SUM(jl.debit - jl.credit),0) END AS derived
FROM accounts a
LEFT JOIN journal_lines jl ON jl.account_id = a.id
GROUP BY a.id
HAVING a.balance <> CASE WHEN a.nature = 'credit' THEN COALESCE(SUM(jl.credit - jl.debit),0) ELSE COALESCE(SUM(jl.debit - jl.credit),0) END
ORDER BY a.code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []IntegrityViolation
	for rows.Next() {
		var code string
		var stored, derived decimal.Decimal
		if err := rows.Scan(&code, &stored, &derived); err != nil {
			return nil, err
		}
		out = append(out, IntegrityViolation{
			Kind:   "balance_drift",
			Ref:    code,
			Detail: fmt.Sprintf("stored %s derived %s", stored.StringFixed(2), derived.StringFixed(2)),
		})
	}
	return out, rows.Err()
}
