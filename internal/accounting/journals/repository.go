package journals

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	kinds "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// EntryColumns lists the journal_entries columns in ScanEntry order.
const EntryColumns = `id, number, sequence, fiscal_year, date, description, source_type, source_id, reversal_of,
total_debit, total_credit, status, posted_by, posted_at, reversed_by, reversed_at, reversal_reason, created_at`

// LineColumns lists the journal_lines columns in ScanLine order.
const LineColumns = `id, journal_id, line_no, account_id, debit, credit, description`

// ScanEntry reads one journal row selected with EntryColumns.
func ScanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.Number, &e.Sequence, &e.FiscalYear, &e.Date, &e.Description, &e.SourceType, &e.SourceID, &e.ReversalOf,
		&e.TotalDebit, &e.TotalCredit, &e.Status, &e.PostedBy, &e.PostedAt, &e.ReversedBy, &e.ReversedAt, &e.ReversalReason, &e.CreatedAt)
	return e, err
}

// ScanLine reads one line row selected with LineColumns.
func ScanLine(row pgx.Row) (JournalLine, error) {
	var l JournalLine
	err := row.Scan(&l.ID, &l.JournalID, &l.LineNo, &l.AccountID, &l.Debit, &l.Credit, &l.Description)
	return l, err
}

// Querier is satisfied by both pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LoadLines returns the lines of a journal ordered by line number.
func LoadLines(ctx context.Context, q Querier, journalID int64) ([]JournalLine, error) {
	rows, err := q.Query(ctx, `SELECT `+LineColumns+` FROM journal_lines WHERE journal_id=$1 ORDER BY line_no ASC`, journalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		line, err := ScanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// Repository encapsulates read-side DB operations for journals.
type Repository interface {
	List(ctx context.Context, filter Filter, page kinds.PageRequest) ([]JournalEntry, int, error)
	Get(ctx context.Context, id int64) (JournalEntry, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context, filter Filter, page kinds.PageRequest) ([]JournalEntry, int, error) {
	where, args := filterClause(filter)
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, page.Limit(), page.Offset())
	query := fmt.Sprintf(`SELECT %s FROM journal_entries%s ORDER BY date DESC, id DESC LIMIT $%d OFFSET $%d`, EntryColumns, where, len(args)-1, len(args))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		e, err := ScanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (JournalEntry, error) {
	e, err := ScanEntry(r.db.QueryRow(ctx, `SELECT `+EntryColumns+` FROM journal_entries WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, fmt.Errorf("%w: id %d", shared.ErrJournalNotFound, id)
		}
		return JournalEntry{}, err
	}
	lines, err := LoadLines(ctx, r.db, id)
	if err != nil {
		return JournalEntry{}, err
	}
	e.Lines = lines
	return e, nil
}

func filterClause(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.From != nil {
		add("date >= $%d", *f.From)
	}
	if f.To != nil {
		add("date <= $%d", *f.To)
	}
	if f.SourceType != "" {
		add("source_type = $%d", f.SourceType)
	}
	if f.SourceID != 0 {
		add("source_id = $%d", f.SourceID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
