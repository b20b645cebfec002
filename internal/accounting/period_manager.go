package accounting

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	ledgererr "github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// CloseOptions tune period closing.
type CloseOptions struct {
	CreateClosingEntries bool
}

// PeriodManager drives the period state machine.
type PeriodManager struct {
	repo   RepositoryPort
	engine *Engine
	locker Locker
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewPeriodManager wires the manager. locker may be nil for single-process use.
func NewPeriodManager(repo RepositoryPort, engine *Engine, locker Locker, audit AuditPort, logger *slog.Logger) *PeriodManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeriodManager{repo: repo, engine: engine, locker: locker, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (m *PeriodManager) WithNow(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Create opens the period for year/month.
func (m *PeriodManager) Create(ctx context.Context, year, month int, actor int64) (periods.Period, error) {
	p, err := periods.NewMonthly(year, month)
	if err != nil {
		return periods.Period{}, err
	}
	err = m.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err = tx.InsertPeriod(ctx, p)
		return err
	})
	if err != nil {
		return periods.Period{}, err
	}
	m.record(ctx, actor, shared.AuditPeriodCreate, p, nil)
	return p, nil
}

// Close optionally books the closing entry and flips the period to closed,
// all in one transaction.
func (m *PeriodManager) Close(ctx context.Context, periodID, closedBy int64, opts CloseOptions) (periods.Period, error) {
	p, err := m.close(ctx, periodID, closedBy, opts)
	if m.engine != nil {
		m.engine.observe(OpClose, err)
	}
	if err != nil {
		return periods.Period{}, err
	}
	meta := map[string]any{"closing_entries": opts.CreateClosingEntries}
	if p.ClosingJournalID != nil {
		meta["closing_journal_id"] = *p.ClosingJournalID
	}
	m.logger.Info("period closed", slog.String("period", p.Code()), slog.Any("closing_journal_id", p.ClosingJournalID))
	m.record(ctx, closedBy, shared.AuditPeriodClose, p, meta)
	return p, nil
}

func (m *PeriodManager) close(ctx context.Context, periodID, closedBy int64, opts CloseOptions) (periods.Period, error) {
	if closedBy <= 0 {
		return periods.Period{}, ledgererr.ErrActorRequired
	}
	if m.locker != nil {
		release, err := m.locker.Acquire(ctx, shared.FinanceLockKey(periodID))
		if err != nil {
			return periods.Period{}, err
		}
		defer release()
	}
	var out periods.Period
	err := m.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if err := shared.ValidatePeriodTransition(string(p.Status), string(periods.PeriodStatusClosed)); err != nil {
			return err
		}
		if opts.CreateClosingEntries {
			if m.engine == nil {
				return fmt.Errorf("%w: closing entries need the posting engine", shared.ErrIntegrity)
			}
			entry, ok, err := m.engine.closingEntry(ctx, tx, p, closedBy)
			if err != nil {
				return err
			}
			if ok {
				p.ClosingJournalID = &entry.ID
			}
		}
		now := m.now()
		p.Status = periods.PeriodStatusClosed
		p.ClosedBy = &closedBy
		p.ClosedAt = &now
		if err := tx.UpdatePeriodStatus(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// Reopen moves a closed period back to open.
func (m *PeriodManager) Reopen(ctx context.Context, periodID, actor int64) (periods.Period, error) {
	p, err := m.transition(ctx, periodID, actor, periods.PeriodStatusOpen)
	if err != nil {
		return periods.Period{}, err
	}
	m.record(ctx, actor, shared.AuditPeriodReopen, p, nil)
	return p, nil
}

// Archive freezes a closed period permanently.
func (m *PeriodManager) Archive(ctx context.Context, periodID, actor int64) (periods.Period, error) {
	p, err := m.transition(ctx, periodID, actor, periods.PeriodStatusArchived)
	if err != nil {
		return periods.Period{}, err
	}
	m.record(ctx, actor, shared.AuditPeriodArchive, p, nil)
	return p, nil
}

func (m *PeriodManager) transition(ctx context.Context, periodID, actor int64, target periods.PeriodStatus) (periods.Period, error) {
	if actor <= 0 {
		return periods.Period{}, ledgererr.ErrActorRequired
	}
	var out periods.Period
	err := m.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if err := shared.ValidatePeriodTransition(string(p.Status), string(target)); err != nil {
			return err
		}
		now := m.now()
		switch target {
		case periods.PeriodStatusOpen:
			p.ClosedBy = nil
			p.ClosedAt = nil
		case periods.PeriodStatusArchived:
			p.ArchivedBy = &actor
			p.ArchivedAt = &now
		}
		p.Status = target
		if err := tx.UpdatePeriodStatus(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// Delete removes an open period that holds no journal entries.
func (m *PeriodManager) Delete(ctx context.Context, periodID, actor int64) error {
	var deleted periods.Period
	err := m.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if p.Status != periods.PeriodStatusOpen {
			return fmt.Errorf("%w: period %s is %s", shared.ErrStateConflict, p.Code(), p.Status)
		}
		n, err := tx.CountJournalsBetween(ctx, p.StartDate, p.EndDate)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s has %d", ledgererr.ErrPeriodHasJournals, p.Code(), n)
		}
		deleted = p
		return tx.DeletePeriod(ctx, p.ID)
	})
	if err != nil {
		return err
	}
	m.record(ctx, actor, shared.AuditPeriodDelete, deleted, nil)
	return nil
}

func (m *PeriodManager) record(ctx context.Context, actor int64, action string, p periods.Period, meta map[string]any) {
	if m.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["period"] = p.Code()
	meta["status"] = string(p.Status)
	if err := m.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "accounting_period",
		EntityID: strconv.FormatInt(p.ID, 10),
		Meta:     meta,
		At:       m.now(),
	}); err != nil {
		m.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
