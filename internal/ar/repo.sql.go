package ar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx wraps callback in a READ COMMITTED transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const openInvoicesFrom = `
FROM sales_invoices i
LEFT JOIN (SELECT invoice_id, SUM(amount) AS allocated FROM ar_allocations GROUP BY invoice_id) a ON a.invoice_id = i.id
WHERE i.posting_status = 'posted'
  AND i.total - COALESCE(a.allocated, 0) > 0
  AND ($1::bigint = 0 OR i.customer_id = $1)`

// ListOpenInvoices returns posted invoices with remaining balance.
func (r *Repository) ListOpenInvoices(ctx context.Context, customerID int64, page shared.PageRequest) ([]OpenInvoice, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+openInvoicesFrom, customerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.number, i.customer_id, i.invoice_date, i.due_date, i.total, COALESCE(a.allocated, 0)`+
		openInvoicesFrom+` ORDER BY i.due_date ASC NULLS LAST, i.invoice_date, i.id LIMIT $2 OFFSET $3`,
		customerID, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	list := []OpenInvoice{}
	for rows.Next() {
		var inv OpenInvoice
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &inv.InvoiceDate, &inv.DueDate, &inv.Total, &inv.Allocated); err != nil {
			return nil, 0, err
		}
		inv.Outstanding = outstanding(inv.Total, inv.Allocated)
		list = append(list, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

const allocationColumns = `al.id, al.receipt_id, al.invoice_id, al.amount, al.notes, al.batch_id, al.created_by, al.created_at`

func scanAllocation(row pgx.Row) (Allocation, error) {
	var a Allocation
	err := row.Scan(&a.ID, &a.ReceiptID, &a.InvoiceID, &a.Amount, &a.Notes, &a.BatchID, &a.CreatedBy, &a.CreatedAt)
	return a, err
}

// ListAllocations returns allocations matching filter, newest first.
func (r *Repository) ListAllocations(ctx context.Context, filter AllocationFilter, page shared.PageRequest) ([]Allocation, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.ReceiptID > 0 {
		args = append(args, filter.ReceiptID)
		where = append(where, fmt.Sprintf("al.receipt_id = $%d", len(args)))
	}
	if filter.InvoiceID > 0 {
		args = append(args, filter.InvoiceID)
		where = append(where, fmt.Sprintf("al.invoice_id = $%d", len(args)))
	}
	if filter.CustomerID > 0 {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("rc.customer_id = $%d", len(args)))
	}
	from := ` FROM ar_allocations al JOIN receipts rc ON rc.id = al.receipt_id`
	if len(where) > 0 {
		from += ` WHERE ` + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+from, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, page.Limit(), page.Offset())
	query := `SELECT ` + allocationColumns + from +
		fmt.Sprintf(` ORDER BY al.created_at DESC, al.id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	list := []Allocation{}
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// AgingLines reads open invoices as of a date in a single statement.
func (r *Repository) AgingLines(ctx context.Context, asOf time.Time, customerID int64) ([]AgingLine, error) {
	rows, err := r.pool.Query(ctx, `
SELECT i.id, i.customer_id, i.invoice_date, i.due_date, i.total - COALESCE(a.allocated, 0)
FROM sales_invoices i
LEFT JOIN (SELECT invoice_id, SUM(amount) AS allocated FROM ar_allocations GROUP BY invoice_id) a ON a.invoice_id = i.id
WHERE i.posting_status = 'posted'
  AND i.invoice_date <= $1
  AND i.total - COALESCE(a.allocated, 0) > 0
  AND ($2::bigint = 0 OR i.customer_id = $2)
ORDER BY i.customer_id, i.id`, asOf, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []AgingLine
	for rows.Next() {
		var l AgingLine
		if err := rows.Scan(&l.InvoiceID, &l.CustomerID, &l.InvoiceDate, &l.DueDate, &l.Outstanding); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// ReceiptOutstanding returns receipt amount minus allocations.
func (r *Repository) ReceiptOutstanding(ctx context.Context, receiptID int64) (decimal.Decimal, error) {
	var amount, allocated decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT rc.amount, COALESCE((SELECT SUM(amount) FROM ar_allocations WHERE receipt_id = rc.id), 0)
FROM receipts rc WHERE rc.id = $1`, receiptID).Scan(&amount, &allocated)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: id %d", ErrReceiptNotFound, receiptID)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return outstanding(amount, allocated), nil
}

// InvoiceOutstanding returns invoice total minus allocations.
func (r *Repository) InvoiceOutstanding(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	var total, allocated decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT i.total, COALESCE((SELECT SUM(amount) FROM ar_allocations WHERE invoice_id = i.id), 0)
FROM sales_invoices i WHERE i.id = $1`, invoiceID).Scan(&total, &allocated)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: id %d", ErrInvoiceNotFound, invoiceID)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return outstanding(total, allocated), nil
}

// SaveAgingSnapshot replaces the stored snapshot rows for report.AsOf.
func (r *Repository) SaveAgingSnapshot(ctx context.Context, report AgingReport) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM ar_aging_snapshots WHERE as_of = $1`, report.AsOf); err != nil {
			return err
		}
		if len(report.Rows) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, row := range report.Rows {
			batch.Queue(`INSERT INTO ar_aging_snapshots (as_of, customer_id, current_amount, bucket_31_60, bucket_61_90, bucket_91_plus, total)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, report.AsOf, row.CustomerID, row.Current, row.Days31To60, row.Days61To90, row.Days91Plus, row.Total)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

type txRepo struct {
	tx pgx.Tx
}

func (r *txRepo) LockReceipts(ctx context.Context, ids []int64) (map[int64]documents.Receipt, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, number, customer_id, receipt_date, amount, deposit_account_id, posting_status, journal_id
FROM receipts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]documents.Receipt, len(ids))
	for rows.Next() {
		var rc documents.Receipt
		if err := rows.Scan(&rc.ID, &rc.Number, &rc.CustomerID, &rc.ReceiptDate, &rc.Amount, &rc.DepositAccountID, &rc.PostingStatus, &rc.JournalID); err != nil {
			return nil, err
		}
		out[rc.ID] = rc
	}
	return out, rows.Err()
}

func (r *txRepo) LockInvoices(ctx context.Context, ids []int64) (map[int64]documents.SalesInvoice, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, number, customer_id, invoice_date, due_date, subtotal, tax_amount, total, posting_status, journal_id
FROM sales_invoices WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]documents.SalesInvoice, len(ids))
	for rows.Next() {
		var inv documents.SalesInvoice
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &inv.InvoiceDate, &inv.DueDate, &inv.Subtotal, &inv.TaxAmount, &inv.Total, &inv.PostingStatus, &inv.JournalID); err != nil {
			return nil, err
		}
		out[inv.ID] = inv
	}
	return out, rows.Err()
}

func (r *txRepo) SumReceiptAllocations(ctx context.Context, receiptID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM ar_allocations WHERE receipt_id = $1`, receiptID).Scan(&sum)
	return sum, err
}

func (r *txRepo) SumInvoiceAllocations(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM ar_allocations WHERE invoice_id = $1`, invoiceID).Scan(&sum)
	return sum, err
}

func (r *txRepo) InsertAllocation(ctx context.Context, a Allocation) (Allocation, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO ar_allocations (receipt_id, invoice_id, amount, notes, batch_id, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`, a.ReceiptID, a.InvoiceID, a.Amount, a.Notes, a.BatchID, a.CreatedBy, a.CreatedAt).Scan(&a.ID)
	return a, err
}

func (r *txRepo) GetAllocation(ctx context.Context, id int64) (Allocation, error) {
	a, err := scanAllocation(r.tx.QueryRow(ctx, `SELECT `+allocationColumns+` FROM ar_allocations al WHERE al.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Allocation{}, fmt.Errorf("%w: id %d", ErrAllocationNotFound, id)
	}
	return a, err
}

func (r *txRepo) DeleteAllocation(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM ar_allocations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrAllocationNotFound, id)
	}
	return nil
}
