package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// SelectColumns lists the period columns in Scan order.
const SelectColumns = `id, year, month, start_date, end_date, status, closed_by, closed_at, archived_by, archived_at, closing_journal_id, created_at, updated_at`

// Scan reads one period row selected with SelectColumns.
func Scan(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.Year, &p.Month, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedBy, &p.ClosedAt, &p.ArchivedBy, &p.ArchivedAt, &p.ClosingJournalID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

type Repository interface {
	List(ctx context.Context, year int) ([]Period, error)
	Get(ctx context.Context, id int64) (Period, error)
	// FindByDate returns the period covering date or ErrPeriodNotFound.
	FindByDate(ctx context.Context, date time.Time) (Period, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context, year int) ([]Period, error) {
	rows, err := r.db.Query(ctx, `SELECT `+SelectColumns+` FROM accounting_periods
WHERE ($1 = 0 OR year = $1) ORDER BY year, month`, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := Scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Period, error) {
	p, err := Scan(r.db.QueryRow(ctx, `SELECT `+SelectColumns+` FROM accounting_periods WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, fmt.Errorf("%w: id %d", shared.ErrPeriodNotFound, id)
		}
		return Period{}, err
	}
	return p, nil
}

func (r *repository) FindByDate(ctx context.Context, date time.Time) (Period, error) {
	p, err := Scan(r.db.QueryRow(ctx, `SELECT `+SelectColumns+` FROM accounting_periods
WHERE $1::date BETWEEN start_date AND end_date`, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}
