package accounting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	ledgererr "github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// memState is the committed content of memStore.
type memState struct {
	invoices    map[int64]documents.SalesInvoice
	receipts    map[int64]documents.Receipt
	allocations map[documents.Ref]int
	accounts    map[int64]accounts.Account
	mappings    map[mappings.Slot]int64
	periods     map[int64]periods.Period
	sequences   map[int]int64
	journals    map[int64]journals.JournalEntry
	nextPeriod  int64
	nextJournal int64
	nextLine    int64
}

func (s *memState) clone() *memState {
	out := &memState{
		invoices:    make(map[int64]documents.SalesInvoice, len(s.invoices)),
		receipts:    make(map[int64]documents.Receipt, len(s.receipts)),
		allocations: make(map[documents.Ref]int, len(s.allocations)),
		accounts:    make(map[int64]accounts.Account, len(s.accounts)),
		mappings:    make(map[mappings.Slot]int64, len(s.mappings)),
		periods:     make(map[int64]periods.Period, len(s.periods)),
		sequences:   make(map[int]int64, len(s.sequences)),
		journals:    make(map[int64]journals.JournalEntry, len(s.journals)),
		nextPeriod:  s.nextPeriod,
		nextJournal: s.nextJournal,
		nextLine:    s.nextLine,
	}
	for k, v := range s.invoices {
		out.invoices[k] = v
	}
	for k, v := range s.receipts {
		out.receipts[k] = v
	}
	for k, v := range s.allocations {
		out.allocations[k] = v
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.mappings {
		out.mappings[k] = v
	}
	for k, v := range s.periods {
		out.periods[k] = v
	}
	for k, v := range s.sequences {
		out.sequences[k] = v
	}
	for k, v := range s.journals {
		v.Lines = append([]journals.JournalLine(nil), v.Lines...)
		out.journals[k] = v
	}
	return out
}

// memStore emulates the Postgres repository. One store-wide mutex stands in
// for row locks, so transactions are fully serialised; a failed transaction
// discards its working copy.
type memStore struct {
	mu     sync.Mutex
	state  *memState
	failOn map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		state: &memState{
			invoices:    map[int64]documents.SalesInvoice{},
			receipts:    map[int64]documents.Receipt{},
			allocations: map[documents.Ref]int{},
			accounts:    map[int64]accounts.Account{},
			mappings:    map[mappings.Slot]int64{},
			periods:     map[int64]periods.Period{},
			sequences:   map[int]int64{},
			journals:    map[int64]journals.JournalEntry{},
		},
		failOn: map[string]error{},
	}
}

func (m *memStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(ctx, &memTx{state: work, failOn: m.failOn}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// snapshot returns a copy of the committed state.
func (m *memStore) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) failNext(method string, err error) {
	m.mu.Lock()
	m.failOn[method] = err
	m.mu.Unlock()
}

func (m *memStore) addAccount(a accounts.Account) {
	if a.Nature == "" {
		a.Nature = accounts.NatureDebit
	}
	a.IsActive = true
	m.state.accounts[a.ID] = a
}

func (m *memStore) addPeriod(year, month int, status periods.PeriodStatus) periods.Period {
	p, err := periods.NewMonthly(year, month)
	if err != nil {
		panic(err)
	}
	m.state.nextPeriod++
	p.ID = m.state.nextPeriod
	p.Status = status
	m.state.periods[p.ID] = p
	return p
}

func (m *memStore) addInvoice(inv documents.SalesInvoice) {
	if inv.PostingStatus == "" {
		inv.PostingStatus = documents.StatusDraft
	}
	m.state.invoices[inv.ID] = inv
}

func (m *memStore) addReceipt(rc documents.Receipt) {
	if rc.PostingStatus == "" {
		rc.PostingStatus = documents.StatusDraft
	}
	m.state.receipts[rc.ID] = rc
}

type memTx struct {
	state  *memState
	failOn map[string]error
}

func (t *memTx) fail(method string) error {
	if err, ok := t.failOn[method]; ok {
		delete(t.failOn, method)
		return err
	}
	return nil
}

func (t *memTx) LockDocument(_ context.Context, ref documents.Ref) (documents.Document, error) {
	switch ref.Kind {
	case documents.KindSalesInvoice:
		inv, ok := t.state.invoices[ref.ID]
		if !ok {
			return documents.Document{}, fmt.Errorf("%w: %s", documents.ErrDocumentNotFound, ref)
		}
		return documents.FromInvoice(inv), nil
	case documents.KindReceipt:
		rc, ok := t.state.receipts[ref.ID]
		if !ok {
			return documents.Document{}, fmt.Errorf("%w: %s", documents.ErrDocumentNotFound, ref)
		}
		return documents.FromReceipt(rc), nil
	}
	return documents.Document{}, documents.ErrUnknownKind
}

func (t *memTx) setDocument(ref documents.Ref, status documents.PostingStatus, journalID *int64) {
	switch ref.Kind {
	case documents.KindSalesInvoice:
		inv := t.state.invoices[ref.ID]
		inv.PostingStatus, inv.JournalID = status, journalID
		t.state.invoices[ref.ID] = inv
	case documents.KindReceipt:
		rc := t.state.receipts[ref.ID]
		rc.PostingStatus, rc.JournalID = status, journalID
		t.state.receipts[ref.ID] = rc
	}
}

func (t *memTx) MarkDocumentPosted(_ context.Context, ref documents.Ref, journalID int64) error {
	if err := t.fail("MarkDocumentPosted"); err != nil {
		return err
	}
	t.setDocument(ref, documents.StatusPosted, &journalID)
	return nil
}

func (t *memTx) MarkDocumentReversed(_ context.Context, ref documents.Ref) error {
	t.setDocument(ref, documents.StatusReversed, nil)
	return nil
}

func (t *memTx) CountDocumentAllocations(_ context.Context, ref documents.Ref) (int, error) {
	return t.state.allocations[ref], nil
}

func (t *memTx) LockAccounts(_ context.Context, ids []int64) (map[int64]accounts.Account, error) {
	out := make(map[int64]accounts.Account, len(ids))
	for _, id := range ids {
		if a, ok := t.state.accounts[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (t *memTx) AdjustAccountBalance(_ context.Context, accountID int64, delta decimal.Decimal) error {
	if err := t.fail("AdjustAccountBalance"); err != nil {
		return err
	}
	a, ok := t.state.accounts[accountID]
	if !ok {
		return ledgererr.ErrAccountNotFound
	}
	a.Balance = a.Balance.Add(delta)
	t.state.accounts[accountID] = a
	return nil
}

func (t *memTx) ResolveMappings(_ context.Context, slots []mappings.Slot) (map[mappings.Slot]int64, error) {
	out := make(map[mappings.Slot]int64, len(slots))
	for _, slot := range slots {
		if id, ok := t.state.mappings[slot]; ok {
			out[slot] = id
		}
	}
	return out, nil
}

func (t *memTx) LockPeriodByDate(_ context.Context, date time.Time) (*periods.Period, error) {
	for _, p := range t.state.periods {
		if p.Contains(date) {
			return &p, nil
		}
	}
	return nil, nil
}

func (t *memTx) GetPeriodForUpdate(_ context.Context, periodID int64) (periods.Period, error) {
	p, ok := t.state.periods[periodID]
	if !ok {
		return periods.Period{}, fmt.Errorf("%w: id %d", ledgererr.ErrPeriodNotFound, periodID)
	}
	return p, nil
}

func (t *memTx) InsertPeriod(_ context.Context, p periods.Period) (periods.Period, error) {
	for _, existing := range t.state.periods {
		if existing.Year == p.Year && existing.Month == p.Month {
			return periods.Period{}, fmt.Errorf("%w: %s", ledgererr.ErrPeriodExists, p.Code())
		}
	}
	t.state.nextPeriod++
	p.ID = t.state.nextPeriod
	t.state.periods[p.ID] = p
	return p, nil
}

func (t *memTx) UpdatePeriodStatus(_ context.Context, p periods.Period) error {
	if err := t.fail("UpdatePeriodStatus"); err != nil {
		return err
	}
	t.state.periods[p.ID] = p
	return nil
}

func (t *memTx) DeletePeriod(_ context.Context, periodID int64) error {
	delete(t.state.periods, periodID)
	return nil
}

func (t *memTx) CountJournalsBetween(_ context.Context, from, to time.Time) (int, error) {
	n := 0
	for _, e := range t.state.journals {
		if !e.Date.Before(from) && !e.Date.After(to) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) SumNominalMovements(_ context.Context, from, to time.Time) ([]AccountMovement, error) {
	sums := map[int64]*AccountMovement{}
	for _, e := range t.state.journals {
		if e.Date.Before(from) || e.Date.After(to) {
			continue
		}
		for _, l := range e.Lines {
			if !t.state.accounts[l.AccountID].Type.IsNominal() {
				continue
			}
			mv, ok := sums[l.AccountID]
			if !ok {
				mv = &AccountMovement{AccountID: l.AccountID}
				sums[l.AccountID] = mv
			}
			mv.Debit = mv.Debit.Add(l.Debit)
			mv.Credit = mv.Credit.Add(l.Credit)
		}
	}
	out := make([]AccountMovement, 0, len(sums))
	for _, mv := range sums {
		out = append(out, *mv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (t *memTx) NextJournalSequence(_ context.Context, fiscalYear int) (int64, error) {
	t.state.sequences[fiscalYear]++
	return t.state.sequences[fiscalYear], nil
}

func (t *memTx) InsertJournal(_ context.Context, entry journals.JournalEntry) (journals.JournalEntry, error) {
	if err := t.fail("InsertJournal"); err != nil {
		return journals.JournalEntry{}, err
	}
	t.state.nextJournal++
	entry.ID = t.state.nextJournal
	entry.CreatedAt = entry.PostedAt
	entry.Lines = append([]journals.JournalLine(nil), entry.Lines...)
	for i := range entry.Lines {
		t.state.nextLine++
		entry.Lines[i].ID = t.state.nextLine
		entry.Lines[i].JournalID = entry.ID
	}
	t.state.journals[entry.ID] = entry
	return entry, nil
}

func (t *memTx) GetJournalForUpdate(_ context.Context, journalID int64) (journals.JournalEntry, error) {
	e, ok := t.state.journals[journalID]
	if !ok {
		return journals.JournalEntry{}, fmt.Errorf("%w: id %d", ledgererr.ErrJournalNotFound, journalID)
	}
	e.Lines = append([]journals.JournalLine(nil), e.Lines...)
	return e, nil
}

func (t *memTx) MarkJournalReversed(_ context.Context, journalID, reversedBy int64, at time.Time, reason string) error {
	e, ok := t.state.journals[journalID]
	if !ok || e.Status != journals.JournalStatusPosted {
		return fmt.Errorf("%w: id %d", ledgererr.ErrJournalReversed, journalID)
	}
	e.Status = journals.JournalStatusReversed
	e.ReversedBy = &reversedBy
	e.ReversedAt = &at
	e.ReversalReason = &reason
	t.state.journals[journalID] = e
	return nil
}

// auditRecorder captures audit logs in memory.
type auditRecorder struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *auditRecorder) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *auditRecorder) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

// metricsRecorder counts operation outcomes.
type metricsRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *metricsRecorder) Observe(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.counts[op+"/"+outcome]++
}

func (m *metricsRecorder) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}
