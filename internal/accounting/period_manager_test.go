package accounting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	ledgererr "github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func newManager(f *fixture, locker Locker) *PeriodManager {
	mgr := NewPeriodManager(f.store, f.engine, locker, f.audit, nil)
	mgr.WithNow(func() time.Time { return fixedNow })
	return mgr
}

// seedExpense books a February expense paid in cash straight into the store.
func seedExpense(f *fixture, amount string) {
	f.store.state.nextJournal++
	id := f.store.state.nextJournal
	f.store.state.journals[id] = journals.JournalEntry{
		ID: id, Number: "JE-SEED", Date: day("2025-02-12"), SourceType: "manual", Status: journals.JournalStatusPosted,
		TotalDebit: amt(amount), TotalCredit: amt(amount),
		Lines: []journals.JournalLine{
			{JournalID: id, LineNo: 1, AccountID: acctExpense, Debit: amt(amount), Credit: amt("0")},
			{JournalID: id, LineNo: 2, AccountID: acctCash, Debit: amt("0"), Credit: amt(amount)},
		},
	}
}

func TestCreatePeriod(t *testing.T) {
	f := newFixture(t)
	mgr := newManager(f, nil)

	p, err := mgr.Create(context.Background(), 2025, 3, 3)
	require.NoError(t, err)
	require.Equal(t, periods.PeriodStatusOpen, p.Status)
	require.Equal(t, day("2025-03-01"), p.StartDate)
	require.Equal(t, day("2025-03-31"), p.EndDate)

	_, err = mgr.Create(context.Background(), 2025, 3, 3)
	require.ErrorIs(t, err, ledgererr.ErrPeriodExists)
	require.ErrorIs(t, err, shared.ErrStateConflict)

	_, err = mgr.Create(context.Background(), 2025, 13, 3)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCloseWithClosingEntry(t *testing.T) {
	f := newFixture(t)
	mgr := newManager(f, nil)
	_, err := f.engine.Post(context.Background(), documents.KindSalesInvoice, 1, 3)
	require.NoError(t, err)
	seedExpense(f, "600")

	closed, err := mgr.Close(context.Background(), f.feb.ID, 9, CloseOptions{CreateClosingEntries: true})
	require.NoError(t, err)
	require.Equal(t, periods.PeriodStatusClosed, closed.Status)
	require.Equal(t, int64(9), *closed.ClosedBy)
	require.Equal(t, fixedNow, *closed.ClosedAt)
	require.NotNil(t, closed.ClosingJournalID)

	snap := f.store.snapshot()
	entry := snap.journals[*closed.ClosingJournalID]
	require.Equal(t, journals.SourcePeriodClose, entry.SourceType)
	require.Equal(t, f.feb.ID, entry.SourceID)
	require.Equal(t, day("2025-02-28"), entry.Date)
	require.Equal(t, "1000.00", entry.TotalDebit.StringFixed(2))

	byAccount := map[int64]journals.JournalLine{}
	for _, line := range entry.Lines {
		byAccount[line.AccountID] = line
	}
	require.Equal(t, "1000.00", byAccount[acctRevenue].Debit.StringFixed(2))
	require.Equal(t, "600.00", byAccount[acctExpense].Credit.StringFixed(2))
	require.Equal(t, "400.00", byAccount[acctRetained].Credit.StringFixed(2))
	require.Equal(t, "0.00", snap.accounts[acctRevenue].Balance.StringFixed(2))
	require.Equal(t, "400.00", snap.accounts[acctRetained].Balance.StringFixed(2))
	require.Equal(t, periods.PeriodStatusClosed, snap.periods[f.feb.ID].Status)

	require.Contains(t, f.audit.actions(), shared.AuditPeriodClose)
	require.Equal(t, 1, f.metrics.count("period_close/success"))
}

func TestCloseWithoutActivitySkipsClosingEntry(t *testing.T) {
	f := newFixture(t)
	mgr := newManager(f, nil)
	closed, err := mgr.Close(context.Background(), f.feb.ID, 9, CloseOptions{CreateClosingEntries: true})
	require.NoError(t, err)
	require.Nil(t, closed.ClosingJournalID)
	require.Empty(t, f.store.snapshot().journals)
}

func TestCloseFailureKeepsPeriodOpen(t *testing.T) {
	f := newFixture(t)
	mgr := newManager(f, nil)
	_, err := f.engine.Post(context.Background(), documents.KindSalesInvoice, 1, 3)
	require.NoError(t, err)

	f.store.failNext("UpdatePeriodStatus", errors.New("serialization failure"))
	_, err = mgr.Close(context.Background(), f.feb.ID, 9, CloseOptions{CreateClosingEntries: true})
	require.Error(t, err)

	snap := f.store.snapshot()
	require.Equal(t, periods.PeriodStatusOpen, snap.periods[f.feb.ID].Status)
	require.Len(t, snap.journals, 1)
	require.Equal(t, int64(1), snap.sequences[2025])
	require.Equal(t, "1000.00", snap.accounts[acctRevenue].Balance.StringFixed(2))
	require.Equal(t, 1, f.metrics.count("period_close/failure"))
}

func TestCloseRequiresRetainedEarningsMapping(t *testing.T) {
	f := newFixture(t)
	mgr := newManager(f, nil)
	_, err := f.engine.Post(context.Background(), documents.KindSalesInvoice, 1, 3)
	require.NoError(t, err)
	delete(f.store.state.mappings, mappings.SlotRetainedEarnings)

	_, err = mgr.Close(context.Background(), f.feb.ID, 9, CloseOptions{CreateClosingEntries: true})
	require.ErrorIs(t, err, ledgererr.ErrMappingNotFound)
	require.Equal(t, periods.PeriodStatusOpen, f.store.snapshot().periods[f.feb.ID].Status)
}

func TestReopenThenRecloseOnlyClosesNewActivity(t *testing.T) {
	f := newFixture(t)
	mgr := newManager(f, nil)
	_, err := f.engine.Post(context.Background(), documents.KindSalesInvoice, 1, 3)
	require.NoError(t, err)
	_, err = mgr.Close(context.Background(), f.feb.ID, 9, CloseOptions{CreateClosingEntries: true})
	require.NoError(t, err)

	reopened, err := mgr.Reopen(context.Background(), f.feb.ID, 9)
	require.NoError(t, err)
	require.Equal(t, periods.PeriodStatusOpen, reopened.Status)
	require.Nil(t, reopened.ClosedBy)
	require.Nil(t, reopened.ClosedAt)

	f.store.addInvoice(documents.SalesInvoice{ID: 5, Number: "INV-0005", CustomerID: 7, InvoiceDate: day("2025-02-25"), Subtotal: amt("500"), Total: amt("500")})
	_, err = f.engine.Post(context.Background(), documents.KindSalesInvoice, 5, 3)
	require.NoError(t, err)

	closed, err := mgr.Close(context.Background(), f.feb.ID, 9, CloseOptions{CreateClosingEntries: true})
	require.NoError(t, err)
	entry := f.store.snapshot().journals[*closed.ClosingJournalID]
	require.Equal(t, "500.00", entry.TotalDebit.StringFixed(2))
	require.Equal(t, "1500.00", f.balance(acctRetained))
	require.Equal(t, "0.00", f.balance(acctRevenue))
}

func TestPeriodTransitions(t *testing.T) {
	f := newFixture(t)
	mgr := newManager(f, nil)

	_, err := mgr.Archive(context.Background(), f.feb.ID, 9)
	require.ErrorIs(t, err, shared.ErrInvalidPeriodTransition)

	_, err = mgr.Reopen(context.Background(), f.feb.ID, 9)
	require.ErrorIs(t, err, shared.ErrStateConflict)

	_, err = mgr.Close(context.Background(), f.feb.ID, 9, CloseOptions{})
	require.NoError(t, err)
	_, err = mgr.Close(context.Background(), f.feb.ID, 9, CloseOptions{})
	require.ErrorIs(t, err, shared.ErrInvalidPeriodTransition)

	archived, err := mgr.Archive(context.Background(), f.feb.ID, 9)
	require.NoError(t, err)
	require.Equal(t, periods.PeriodStatusArchived, archived.Status)
	require.Equal(t, int64(9), *archived.ArchivedBy)

	_, err = mgr.Reopen(context.Background(), f.feb.ID, 9)
	require.ErrorIs(t, err, shared.ErrInvalidPeriodTransition)
	_, err = f.engine.Post(context.Background(), documents.KindSalesInvoice, 1, 3)
	require.ErrorIs(t, err, ledgererr.ErrPeriodClosed)

	_, err = mgr.Close(context.Background(), 404, 9, CloseOptions{})
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = mgr.Close(context.Background(), f.feb.ID, 0, CloseOptions{})
	require.ErrorIs(t, err, ledgererr.ErrActorRequired)
}

func TestDeletePeriod(t *testing.T) {
	f := newFixture(t)
	mgr := newManager(f, nil)

	_, err := f.engine.Post(context.Background(), documents.KindSalesInvoice, 1, 3)
	require.NoError(t, err)
	err = mgr.Delete(context.Background(), f.feb.ID, 9)
	require.ErrorIs(t, err, ledgererr.ErrPeriodHasJournals)

	err = mgr.Delete(context.Background(), f.jan.ID, 9)
	require.ErrorIs(t, err, shared.ErrStateConflict)

	march, err := mgr.Create(context.Background(), 2025, 3, 9)
	require.NoError(t, err)
	require.NoError(t, mgr.Delete(context.Background(), march.ID, 9))
	require.NotContains(t, f.store.snapshot().periods, march.ID)
	require.Contains(t, f.audit.actions(), shared.AuditPeriodDelete)
}

func TestCloseRespectsDistributedLock(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := shared.NewRedisLocker(client, time.Minute)
	release, err := locker.Acquire(context.Background(), shared.FinanceLockKey(f.feb.ID))
	require.NoError(t, err)

	mgr := newManager(f, locker)
	_, err = mgr.Close(context.Background(), f.feb.ID, 9, CloseOptions{})
	require.ErrorIs(t, err, shared.ErrLockBusy)
	require.Equal(t, periods.PeriodStatusOpen, f.store.snapshot().periods[f.feb.ID].Status)

	release()
	_, err = mgr.Close(context.Background(), f.feb.ID, 9, CloseOptions{})
	require.NoError(t, err)
	require.False(t, mr.Exists(shared.FinanceLockKey(f.feb.ID)))
}
