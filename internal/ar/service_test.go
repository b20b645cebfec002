package ar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var fixedNow = time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(s string) time.Time {
	t, err := shared.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func datePtr(s string) *time.Time {
	t := day(s)
	return &t
}

type fixture struct {
	store   *memStore
	svc     *Service
	audit   *auditRecorder
	metrics *metricsRecorder
}

// newFixture seeds customer 7 with a 1000 invoice and receipts of 600 and
// 500, customer 8 with a 300 invoice and a 300 receipt, plus unposted
// documents 4.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	store.addInvoice(documents.SalesInvoice{ID: 1, Number: "INV-0001", CustomerID: 7, InvoiceDate: day("2025-01-10"), DueDate: datePtr("2025-02-09"), Total: amt("1000")})
	store.addInvoice(documents.SalesInvoice{ID: 3, Number: "INV-0003", CustomerID: 8, InvoiceDate: day("2025-02-01"), Total: amt("300")})
	store.addInvoice(documents.SalesInvoice{ID: 4, Number: "INV-0004", CustomerID: 7, InvoiceDate: day("2025-02-01"), Total: amt("50"), PostingStatus: documents.StatusDraft})
	store.addReceipt(documents.Receipt{ID: 1, Number: "RCV-0001", CustomerID: 7, ReceiptDate: day("2025-02-20"), Amount: amt("600")})
	store.addReceipt(documents.Receipt{ID: 2, Number: "RCV-0002", CustomerID: 7, ReceiptDate: day("2025-02-21"), Amount: amt("500")})
	store.addReceipt(documents.Receipt{ID: 3, Number: "RCV-0003", CustomerID: 8, ReceiptDate: day("2025-02-22"), Amount: amt("300")})
	store.addReceipt(documents.Receipt{ID: 4, Number: "RCV-0004", CustomerID: 7, ReceiptDate: day("2025-02-23"), Amount: amt("80"), PostingStatus: documents.StatusReversed})

	audit := &auditRecorder{}
	metrics := &metricsRecorder{}
	svc := NewService(store, audit, metrics, nil)
	svc.WithNow(func() time.Time { return fixedNow })
	return &fixture{store: store, svc: svc, audit: audit, metrics: metrics}
}

func (f *fixture) allocate(receiptID, invoiceID int64, amount string) (Allocation, error) {
	return f.svc.Allocate(context.Background(), AllocateInput{ReceiptID: receiptID, InvoiceID: invoiceID, Amount: amt(amount), CreatedBy: 3})
}

func (f *fixture) invoiceLeft(t *testing.T, id int64) string {
	t.Helper()
	left, err := f.svc.InvoiceOutstanding(context.Background(), id)
	require.NoError(t, err)
	return left.StringFixed(2)
}

func (f *fixture) receiptLeft(t *testing.T, id int64) string {
	t.Helper()
	left, err := f.svc.ReceiptOutstanding(context.Background(), id)
	require.NoError(t, err)
	return left.StringFixed(2)
}

func TestAllocateAcrossReceiptsUntilSettled(t *testing.T) {
	f := newFixture(t)

	a, err := f.allocate(1, 1, "600")
	require.NoError(t, err)
	require.Equal(t, int64(3), a.CreatedBy)
	require.Equal(t, fixedNow, a.CreatedAt)
	require.Nil(t, a.BatchID)
	require.Equal(t, "400.00", f.invoiceLeft(t, 1))
	require.Equal(t, "0.00", f.receiptLeft(t, 1))

	_, err = f.allocate(2, 1, "400")
	require.NoError(t, err)
	require.Equal(t, "0.00", f.invoiceLeft(t, 1))
	require.Equal(t, "100.00", f.receiptLeft(t, 2))

	_, err = f.allocate(2, 1, "100")
	require.ErrorIs(t, err, ErrOverAllocation)
	require.ErrorIs(t, err, shared.ErrStateConflict)
	require.Contains(t, err.Error(), "INV-0001 outstanding 0.00")

	require.Len(t, f.store.snapshot().allocations, 2)
	require.Equal(t, 2, f.metrics.count("allocate/success"))
	require.Equal(t, 1, f.metrics.count("allocate/failure"))
	require.Equal(t, []string{shared.AuditARAllocate, shared.AuditARAllocate}, f.audit.actions())
}

func TestAllocateRejectsReceiptOverdraw(t *testing.T) {
	f := newFixture(t)
	_, err := f.allocate(1, 1, "600.01")
	require.ErrorIs(t, err, ErrOverAllocation)
	require.Contains(t, err.Error(), "RCV-0001 outstanding 600.00")
	require.Empty(t, f.store.snapshot().allocations)
}

func TestAllocateValidation(t *testing.T) {
	f := newFixture(t)
	cases := []AllocateInput{
		{InvoiceID: 1, Amount: amt("10"), CreatedBy: 3},
		{ReceiptID: 1, Amount: amt("10"), CreatedBy: 3},
		{ReceiptID: 1, InvoiceID: 1, Amount: amt("0"), CreatedBy: 3},
		{ReceiptID: 1, InvoiceID: 1, Amount: amt("-5"), CreatedBy: 3},
		{ReceiptID: 1, InvoiceID: 1, Amount: amt("10")},
	}
	for _, in := range cases {
		_, err := f.svc.Allocate(context.Background(), in)
		require.ErrorIs(t, err, shared.ErrValidation)
	}

	// Sub-cent amounts are rounded half away from zero before validation.
	a, err := f.allocate(1, 1, "10.005")
	require.NoError(t, err)
	require.Equal(t, "10.01", a.Amount.StringFixed(2))
}

func TestAllocateRequiresPostedDocumentsOfOneCustomer(t *testing.T) {
	f := newFixture(t)

	_, err := f.allocate(3, 1, "10")
	require.ErrorIs(t, err, ErrCustomerMismatch)
	require.ErrorIs(t, err, shared.ErrStateConflict)

	_, err = f.allocate(1, 4, "10")
	require.ErrorIs(t, err, ErrNotPosted)

	_, err = f.allocate(4, 1, "10")
	require.ErrorIs(t, err, ErrNotPosted)
	require.Contains(t, err.Error(), "reversed")

	_, err = f.allocate(99, 1, "10")
	require.ErrorIs(t, err, ErrReceiptNotFound)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.allocate(1, 99, "10")
	require.ErrorIs(t, err, ErrInvoiceNotFound)

	require.Empty(t, f.store.snapshot().allocations)
}

func TestConcurrentAllocationsNeverOverdrawReceipt(t *testing.T) {
	store := newMemStore()
	store.addReceipt(documents.Receipt{ID: 1, Number: "RCV-0001", CustomerID: 7, Amount: amt("1000")})
	const n = 8
	for i := int64(1); i <= n; i++ {
		store.addInvoice(documents.SalesInvoice{ID: i, Number: "INV", CustomerID: 7, InvoiceDate: day("2025-01-01"), Total: amt("300")})
	}
	svc := NewService(store, nil, nil, nil)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := int64(1); i <= n; i++ {
		wg.Add(1)
		go func(invoiceID int64) {
			defer wg.Done()
			_, err := svc.Allocate(context.Background(), AllocateInput{ReceiptID: 1, InvoiceID: invoiceID, Amount: amt("300"), CreatedBy: 3})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrOverAllocation):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 3, succeeded)
	require.Equal(t, n-3, conflicts)
	left, err := svc.ReceiptOutstanding(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "100.00", left.StringFixed(2))
}

func TestConcurrentAllocationsOnOneInvoice(t *testing.T) {
	store := newMemStore()
	store.addInvoice(documents.SalesInvoice{ID: 1, Number: "INV-0001", CustomerID: 7, InvoiceDate: day("2025-01-01"), Total: amt("1000")})
	const n = 10
	for i := int64(1); i <= n; i++ {
		store.addReceipt(documents.Receipt{ID: i, Number: "RCV", CustomerID: 7, Amount: amt("250")})
	}
	svc := NewService(store, nil, nil, nil)

	var wg sync.WaitGroup
	for i := int64(1); i <= n; i++ {
		wg.Add(1)
		go func(receiptID int64) {
			defer wg.Done()
			_, _ = svc.Allocate(context.Background(), AllocateInput{ReceiptID: receiptID, InvoiceID: 1, Amount: amt("250"), CreatedBy: 3})
		}(i)
	}
	wg.Wait()

	total := decimal.Zero
	for _, a := range store.snapshot().allocations {
		total = total.Add(a.Amount)
	}
	require.Equal(t, "1000.00", total.StringFixed(2))
	require.Len(t, store.snapshot().allocations, 4)
}

func TestUnallocateRestoresOutstanding(t *testing.T) {
	f := newFixture(t)
	beforeInvoice, beforeReceipt := f.invoiceLeft(t, 1), f.receiptLeft(t, 2)

	a, err := f.allocate(2, 1, "250.50")
	require.NoError(t, err)
	require.Equal(t, "749.50", f.invoiceLeft(t, 1))

	removed, err := f.svc.Unallocate(context.Background(), UnallocateInput{AllocationID: a.ID, Actor: 4, Reason: "wrong invoice"})
	require.NoError(t, err)
	require.Equal(t, a, removed)
	require.Equal(t, beforeInvoice, f.invoiceLeft(t, 1))
	require.Equal(t, beforeReceipt, f.receiptLeft(t, 2))

	again, err := f.allocate(2, 1, "250.50")
	require.NoError(t, err)
	require.NotEqual(t, a.ID, again.ID)
	require.Equal(t, "749.50", f.invoiceLeft(t, 1))

	_, err = f.svc.Unallocate(context.Background(), UnallocateInput{AllocationID: a.ID, Actor: 4})
	require.ErrorIs(t, err, ErrAllocationNotFound)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.Unallocate(context.Background(), UnallocateInput{AllocationID: again.ID})
	require.ErrorIs(t, err, shared.ErrValidation)

	require.Contains(t, f.audit.actions(), shared.AuditARUnallocate)
	require.Equal(t, 1, f.metrics.count("unallocate/success"))
	require.Equal(t, 2, f.metrics.count("unallocate/failure"))
}

func TestAllocateBatchSharesBatchID(t *testing.T) {
	f := newFixture(t)
	batchID := uuid.MustParse("2f1c6a40-95d8-4a4e-9f53-2b0c6f1d8a11")
	f.svc.batchID = func() uuid.UUID { return batchID }

	res, err := f.svc.AllocateBatch(context.Background(), BatchInput{
		CreatedBy: 5,
		Items: []AllocateInput{
			{ReceiptID: 3, InvoiceID: 3, Amount: amt("300")},
			{ReceiptID: 1, InvoiceID: 1, Amount: amt("200"), Notes: "  partial  "},
			{ReceiptID: 2, InvoiceID: 1, Amount: amt("500")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, batchID, res.BatchID)
	require.Equal(t, 3, res.Count)
	for _, a := range res.Allocations {
		require.Equal(t, batchID, *a.BatchID)
		require.Equal(t, int64(5), a.CreatedBy)
	}
	require.Equal(t, "partial", res.Allocations[1].Notes)
	require.Equal(t, "300.00", f.invoiceLeft(t, 1))
	require.Equal(t, "0.00", f.invoiceLeft(t, 3))

	lockOrder := f.store.lockOrder
	require.Equal(t, []int64{1, 2, 3}, lockOrder[0])
	require.Equal(t, []int64{1, 3}, lockOrder[1])
	require.Equal(t, []string{shared.AuditARAllocateBatch}, f.audit.actions())
}

func TestAllocateBatchRollsBackOnAnyFailure(t *testing.T) {
	f := newFixture(t)

	// Each item fits on its own; together they overdraw receipt 1.
	_, err := f.svc.AllocateBatch(context.Background(), BatchInput{
		CreatedBy: 5,
		Items: []AllocateInput{
			{ReceiptID: 1, InvoiceID: 1, Amount: amt("400")},
			{ReceiptID: 1, InvoiceID: 1, Amount: amt("300")},
		},
	})
	require.ErrorIs(t, err, ErrOverAllocation)
	require.Contains(t, err.Error(), "item 2")
	require.Empty(t, f.store.snapshot().allocations)

	_, err = f.svc.AllocateBatch(context.Background(), BatchInput{
		CreatedBy: 5,
		Items: []AllocateInput{
			{ReceiptID: 3, InvoiceID: 3, Amount: amt("100")},
			{ReceiptID: 1, InvoiceID: 3, Amount: amt("100")},
		},
	})
	require.ErrorIs(t, err, ErrCustomerMismatch)
	require.Empty(t, f.store.snapshot().allocations)

	f.store.failNext("InsertAllocation", errors.New("connection reset"))
	_, err = f.svc.AllocateBatch(context.Background(), BatchInput{
		CreatedBy: 5,
		Items:     []AllocateInput{{ReceiptID: 3, InvoiceID: 3, Amount: amt("100")}},
	})
	require.EqualError(t, err, "connection reset")
	require.Empty(t, f.store.snapshot().allocations)

	_, err = f.svc.AllocateBatch(context.Background(), BatchInput{CreatedBy: 5})
	require.ErrorIs(t, err, ErrEmptyBatch)

	_, err = f.svc.AllocateBatch(context.Background(), BatchInput{
		CreatedBy: 5,
		Items:     []AllocateInput{{ReceiptID: 3, InvoiceID: 3, Amount: amt("1")}, {ReceiptID: 3, Amount: amt("1")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "item 2")

	require.Equal(t, 5, f.metrics.count("allocate_batch/failure"))
	require.Empty(t, f.audit.actions())
}

func TestListOpenInvoicesAndAllocations(t *testing.T) {
	f := newFixture(t)
	_, err := f.allocate(3, 3, "300")
	require.NoError(t, err)
	_, err = f.allocate(1, 1, "100")
	require.NoError(t, err)

	open, page, err := f.svc.ListOpenInvoices(context.Background(), 0, shared.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Len(t, open, 1)
	require.Equal(t, "900.00", open[0].Outstanding.StringFixed(2))
	require.Equal(t, "100.00", open[0].Allocated.StringFixed(2))

	list, page, err := f.svc.ListAllocations(context.Background(), AllocationFilter{CustomerID: 7}, shared.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, int64(1), list[0].ReceiptID)

	list, _, err = f.svc.ListAllocations(context.Background(), AllocationFilter{}, shared.PageRequest{Page: 1, PerPage: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, int64(2), list[0].ID)
}
