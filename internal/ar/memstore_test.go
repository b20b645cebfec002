package ar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// memStore emulates the PostgreSQL repository. WithTx holds a store-wide
// mutex, so concurrent transactions behave as if fully serialised by row
// locks, and works on a copy that is committed only when fn succeeds.
type memStore struct {
	mu        sync.Mutex
	state     memState
	failOn    string
	failErr   error
	lockOrder [][]int64
}

type memState struct {
	invoices    map[int64]documents.SalesInvoice
	receipts    map[int64]documents.Receipt
	allocations map[int64]Allocation
	nextID      int64
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		invoices:    map[int64]documents.SalesInvoice{},
		receipts:    map[int64]documents.Receipt{},
		allocations: map[int64]Allocation{},
	}}
}

func (s memState) clone() memState {
	out := memState{
		invoices:    make(map[int64]documents.SalesInvoice, len(s.invoices)),
		receipts:    make(map[int64]documents.Receipt, len(s.receipts)),
		allocations: make(map[int64]Allocation, len(s.allocations)),
		nextID:      s.nextID,
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
	return out
}

func (s *memStore) addInvoice(inv documents.SalesInvoice) {
	if inv.PostingStatus == "" {
		inv.PostingStatus = documents.StatusPosted
	}
	s.state.invoices[inv.ID] = inv
}

func (s *memStore) addReceipt(rc documents.Receipt) {
	if rc.PostingStatus == "" {
		rc.PostingStatus = documents.StatusPosted
	}
	s.state.receipts[rc.ID] = rc
}

func (s *memStore) failNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn, s.failErr = method, err
}

func (s *memStore) snapshot() memState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *memStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{store: s, state: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *memStore) invoiceAllocated(state memState, id int64) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range state.allocations {
		if a.InvoiceID == id {
			sum = sum.Add(a.Amount)
		}
	}
	return sum
}

func (s *memStore) receiptAllocated(state memState, id int64) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range state.allocations {
		if a.ReceiptID == id {
			sum = sum.Add(a.Amount)
		}
	}
	return sum
}

func (s *memStore) ListOpenInvoices(_ context.Context, customerID int64, page shared.PageRequest) ([]OpenInvoice, int, error) {
	st := s.snapshot()
	var list []OpenInvoice
	for _, inv := range st.invoices {
		if inv.PostingStatus != documents.StatusPosted || (customerID > 0 && inv.CustomerID != customerID) {
			continue
		}
		allocated := s.invoiceAllocated(st, inv.ID)
		left := outstanding(inv.Total, allocated)
		if !left.IsPositive() {
			continue
		}
		list = append(list, OpenInvoice{ID: inv.ID, Number: inv.Number, CustomerID: inv.CustomerID, InvoiceDate: inv.InvoiceDate,
			DueDate: inv.DueDate, Total: inv.Total, Allocated: allocated, Outstanding: left})
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch {
		case a.DueDate != nil && b.DueDate == nil:
			return true
		case a.DueDate == nil && b.DueDate != nil:
			return false
		case a.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		case !a.InvoiceDate.Equal(b.InvoiceDate):
			return a.InvoiceDate.Before(b.InvoiceDate)
		}
		return a.ID < b.ID
	})
	return window(list, page), len(list), nil
}

func (s *memStore) ListAllocations(_ context.Context, filter AllocationFilter, page shared.PageRequest) ([]Allocation, int, error) {
	st := s.snapshot()
	var list []Allocation
	for _, a := range st.allocations {
		if filter.ReceiptID > 0 && a.ReceiptID != filter.ReceiptID {
			continue
		}
		if filter.InvoiceID > 0 && a.InvoiceID != filter.InvoiceID {
			continue
		}
		if filter.CustomerID > 0 && st.receipts[a.ReceiptID].CustomerID != filter.CustomerID {
			continue
		}
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return window(list, page), len(list), nil
}

func (s *memStore) AgingLines(_ context.Context, asOf time.Time, customerID int64) ([]AgingLine, error) {
	st := s.snapshot()
	var lines []AgingLine
	for _, inv := range st.invoices {
		if inv.PostingStatus != documents.StatusPosted || inv.InvoiceDate.After(asOf) {
			continue
		}
		if customerID > 0 && inv.CustomerID != customerID {
			continue
		}
		left := outstanding(inv.Total, s.invoiceAllocated(st, inv.ID))
		if !left.IsPositive() {
			continue
		}
		lines = append(lines, AgingLine{InvoiceID: inv.ID, CustomerID: inv.CustomerID, InvoiceDate: inv.InvoiceDate, DueDate: inv.DueDate, Outstanding: left})
	}
	return lines, nil
}

func (s *memStore) ReceiptOutstanding(_ context.Context, id int64) (decimal.Decimal, error) {
	st := s.snapshot()
	rc, ok := st.receipts[id]
	if !ok {
		return decimal.Zero, ErrReceiptNotFound
	}
	return outstanding(rc.Amount, s.receiptAllocated(st, id)), nil
}

func (s *memStore) InvoiceOutstanding(_ context.Context, id int64) (decimal.Decimal, error) {
	st := s.snapshot()
	inv, ok := st.invoices[id]
	if !ok {
		return decimal.Zero, ErrInvoiceNotFound
	}
	return outstanding(inv.Total, s.invoiceAllocated(st, id)), nil
}

func window[T any](list []T, page shared.PageRequest) []T {
	start := page.Offset()
	if start >= len(list) {
		return []T{}
	}
	end := start + page.Limit()
	if end > len(list) {
		end = len(list)
	}
	return list[start:end]
}

type memTx struct {
	store *memStore
	state memState
}

func (t *memTx) fail(method string) error {
	if t.store.failOn == method {
		err := t.store.failErr
		t.store.failOn, t.store.failErr = "", nil
		return err
	}
	return nil
}

func (t *memTx) LockReceipts(_ context.Context, ids []int64) (map[int64]documents.Receipt, error) {
	t.store.lockOrder = append(t.store.lockOrder, append([]int64(nil), ids...))
	out := map[int64]documents.Receipt{}
	for _, id := range ids {
		if rc, ok := t.state.receipts[id]; ok {
			out[id] = rc
		}
	}
	return out, nil
}

func (t *memTx) LockInvoices(_ context.Context, ids []int64) (map[int64]documents.SalesInvoice, error) {
	t.store.lockOrder = append(t.store.lockOrder, append([]int64(nil), ids...))
	out := map[int64]documents.SalesInvoice{}
	for _, id := range ids {
		if inv, ok := t.state.invoices[id]; ok {
			out[id] = inv
		}
	}
	return out, nil
}

func (t *memTx) SumReceiptAllocations(_ context.Context, id int64) (decimal.Decimal, error) {
	return t.store.receiptAllocated(t.state, id), nil
}

func (t *memTx) SumInvoiceAllocations(_ context.Context, id int64) (decimal.Decimal, error) {
	return t.store.invoiceAllocated(t.state, id), nil
}

func (t *memTx) InsertAllocation(_ context.Context, a Allocation) (Allocation, error) {
	if err := t.fail("InsertAllocation"); err != nil {
		return Allocation{}, err
	}
	t.state.nextID++
	a.ID = t.state.nextID
	t.state.allocations[a.ID] = a
	return a, nil
}

func (t *memTx) GetAllocation(_ context.Context, id int64) (Allocation, error) {
	a, ok := t.state.allocations[id]
	if !ok {
		return Allocation{}, fmt.Errorf("%w: id %d", ErrAllocationNotFound, id)
	}
	return a, nil
}

func (t *memTx) DeleteAllocation(_ context.Context, id int64) error {
	if _, ok := t.state.allocations[id]; !ok {
		return fmt.Errorf("%w: id %d", ErrAllocationNotFound, id)
	}
	delete(t.state.allocations, id)
	return nil
}

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
