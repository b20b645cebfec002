package ar

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Operation names reported to MetricsPort.
const (
	OpAllocate      = "allocate"
	OpAllocateBatch = "allocate_batch"
	OpUnallocate    = "unallocate"
)

// RepositoryPort defines data access methods for AR.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListOpenInvoices(ctx context.Context, customerID int64, page shared.PageRequest) ([]OpenInvoice, int, error)
	ListAllocations(ctx context.Context, filter AllocationFilter, page shared.PageRequest) ([]Allocation, int, error)
	// AgingLines returns open invoices as of asOf in one statement snapshot.
	AgingLines(ctx context.Context, asOf time.Time, customerID int64) ([]AgingLine, error)
	ReceiptOutstanding(ctx context.Context, receiptID int64) (decimal.Decimal, error)
	InvoiceOutstanding(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
}

// TxRepository exposes the operations available inside one allocation transaction.
type TxRepository interface {
	// LockReceipts and LockInvoices take FOR UPDATE locks in ascending id order.
	LockReceipts(ctx context.Context, ids []int64) (map[int64]documents.Receipt, error)
	LockInvoices(ctx context.Context, ids []int64) (map[int64]documents.SalesInvoice, error)
	SumReceiptAllocations(ctx context.Context, receiptID int64) (decimal.Decimal, error)
	SumInvoiceAllocations(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
	InsertAllocation(ctx context.Context, a Allocation) (Allocation, error)
	GetAllocation(ctx context.Context, id int64) (Allocation, error)
	DeleteAllocation(ctx context.Context, id int64) error
}

// AuditPort records allocation events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts operations by outcome.
type MetricsPort interface {
	Observe(operation string, err error)
}

// Service handles AR allocation logic.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
	logger  *slog.Logger
	now     func() time.Time
	batchID func() uuid.UUID
}

// NewService builds Service instance. audit and metrics may be nil.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, metrics: metrics, logger: logger, now: time.Now, batchID: uuid.New}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Allocate earmarks amount of a receipt against an invoice.
func (s *Service) Allocate(ctx context.Context, in AllocateInput) (Allocation, error) {
	in.Amount = shared.Round2(in.Amount)
	var out []Allocation
	err := in.Validate()
	if err == nil {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var txErr error
			out, txErr = s.apply(ctx, tx, []AllocateInput{in}, nil)
			return txErr
		})
	}
	s.observe(OpAllocate, err)
	if err != nil {
		return Allocation{}, err
	}
	a := out[0]
	s.logger.Info("receipt allocated",
		slog.Int64("allocation_id", a.ID),
		slog.Int64("receipt_id", a.ReceiptID),
		slog.Int64("invoice_id", a.InvoiceID),
		slog.String("amount", a.Amount.StringFixed(2)),
	)
	s.record(ctx, in.CreatedBy, shared.AuditARAllocate, strconv.FormatInt(a.ID, 10), map[string]any{
		"receipt_id": a.ReceiptID,
		"invoice_id": a.InvoiceID,
		"amount":     a.Amount.StringFixed(2),
	})
	return a, nil
}

// AllocateBatch applies every item in one transaction. Any failing item
// rolls back the whole batch.
func (s *Service) AllocateBatch(ctx context.Context, in BatchInput) (BatchResult, error) {
	result, err := s.allocateBatch(ctx, in)
	s.observe(OpAllocateBatch, err)
	if err != nil {
		return BatchResult{}, err
	}
	s.logger.Info("batch allocated", slog.String("batch_id", result.BatchID.String()), slog.Int("count", result.Count))
	s.record(ctx, in.CreatedBy, shared.AuditARAllocateBatch, result.BatchID.String(), map[string]any{"count": result.Count})
	return result, nil
}

func (s *Service) allocateBatch(ctx context.Context, in BatchInput) (BatchResult, error) {
	if len(in.Items) == 0 {
		return BatchResult{}, ErrEmptyBatch
	}
	items := make([]AllocateInput, len(in.Items))
	for i, item := range in.Items {
		item.CreatedBy = in.CreatedBy
		item.Amount = shared.Round2(item.Amount)
		if err := item.Validate(); err != nil {
			return BatchResult{}, fmt.Errorf("item %d: %w", i+1, err)
		}
		items[i] = item
	}
	batchID := s.batchID()
	var out []Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var txErr error
		out, txErr = s.apply(ctx, tx, items, &batchID)
		return txErr
	})
	if err != nil {
		return BatchResult{}, err
	}
	return BatchResult{BatchID: batchID, Count: len(out), Allocations: out}, nil
}

// apply locks every receipt then every invoice in ascending id order,
// recomputes outstanding balances under those locks and inserts the rows.
func (s *Service) apply(ctx context.Context, tx TxRepository, items []AllocateInput, batchID *uuid.UUID) ([]Allocation, error) {
	receiptIDs := make([]int64, 0, len(items))
	invoiceIDs := make([]int64, 0, len(items))
	for _, item := range items {
		receiptIDs = append(receiptIDs, item.ReceiptID)
		invoiceIDs = append(invoiceIDs, item.InvoiceID)
	}
	receiptIDs = uniqueSorted(receiptIDs)
	invoiceIDs = uniqueSorted(invoiceIDs)

	receipts, err := tx.LockReceipts(ctx, receiptIDs)
	if err != nil {
		return nil, err
	}
	invoices, err := tx.LockInvoices(ctx, invoiceIDs)
	if err != nil {
		return nil, err
	}

	receiptLeft := make(map[int64]decimal.Decimal, len(receiptIDs))
	for _, id := range receiptIDs {
		rc, ok := receipts[id]
		if !ok {
			return nil, fmt.Errorf("%w: id %d", ErrReceiptNotFound, id)
		}
		if rc.PostingStatus != documents.StatusPosted {
			return nil, fmt.Errorf("%w: receipt %s is %s", ErrNotPosted, rc.Number, rc.PostingStatus)
		}
		allocated, err := tx.SumReceiptAllocations(ctx, id)
		if err != nil {
			return nil, err
		}
		receiptLeft[id] = outstanding(rc.Amount, allocated)
	}
	invoiceLeft := make(map[int64]decimal.Decimal, len(invoiceIDs))
	for _, id := range invoiceIDs {
		inv, ok := invoices[id]
		if !ok {
			return nil, fmt.Errorf("%w: id %d", ErrInvoiceNotFound, id)
		}
		if inv.PostingStatus != documents.StatusPosted {
			return nil, fmt.Errorf("%w: invoice %s is %s", ErrNotPosted, inv.Number, inv.PostingStatus)
		}
		allocated, err := tx.SumInvoiceAllocations(ctx, id)
		if err != nil {
			return nil, err
		}
		invoiceLeft[id] = outstanding(inv.Total, allocated)
	}

	now := s.now()
	out := make([]Allocation, 0, len(items))
	for i, item := range items {
		rc, inv := receipts[item.ReceiptID], invoices[item.InvoiceID]
		if rc.CustomerID != inv.CustomerID {
			return nil, itemErr(len(items), i, fmt.Errorf("%w: receipt %s customer %d, invoice %s customer %d",
				ErrCustomerMismatch, rc.Number, rc.CustomerID, inv.Number, inv.CustomerID))
		}
		if item.Amount.GreaterThan(invoiceLeft[inv.ID]) {
			return nil, itemErr(len(items), i, fmt.Errorf("%w: invoice %s outstanding %s, requested %s",
				ErrOverAllocation, inv.Number, invoiceLeft[inv.ID].StringFixed(2), item.Amount.StringFixed(2)))
		}
		if item.Amount.GreaterThan(receiptLeft[rc.ID]) {
			return nil, itemErr(len(items), i, fmt.Errorf("%w: receipt %s outstanding %s, requested %s",
				ErrOverAllocation, rc.Number, receiptLeft[rc.ID].StringFixed(2), item.Amount.StringFixed(2)))
		}
		a, err := tx.InsertAllocation(ctx, Allocation{
			ReceiptID: rc.ID,
			InvoiceID: inv.ID,
			Amount:    item.Amount,
			Notes:     strings.TrimSpace(item.Notes),
			BatchID:   batchID,
			CreatedBy: item.CreatedBy,
			CreatedAt: now,
		})
		if err != nil {
			return nil, err
		}
		invoiceLeft[inv.ID] = invoiceLeft[inv.ID].Sub(item.Amount)
		receiptLeft[rc.ID] = receiptLeft[rc.ID].Sub(item.Amount)
		out = append(out, a)
	}
	return out, nil
}

// Unallocate deletes an allocation after locking both of its documents.
func (s *Service) Unallocate(ctx context.Context, in UnallocateInput) (Allocation, error) {
	removed, err := s.unallocate(ctx, in)
	s.observe(OpUnallocate, err)
	if err != nil {
		return Allocation{}, err
	}
	s.logger.Info("allocation removed", slog.Int64("allocation_id", removed.ID), slog.String("amount", removed.Amount.StringFixed(2)))
	s.record(ctx, in.Actor, shared.AuditARUnallocate, strconv.FormatInt(removed.ID, 10), map[string]any{
		"receipt_id": removed.ReceiptID,
		"invoice_id": removed.InvoiceID,
		"amount":     removed.Amount.StringFixed(2),
		"reason":     strings.TrimSpace(in.Reason),
	})
	return removed, nil
}

func (s *Service) unallocate(ctx context.Context, in UnallocateInput) (Allocation, error) {
	if in.AllocationID <= 0 {
		return Allocation{}, fmt.Errorf("%w: allocation id required", shared.ErrValidation)
	}
	if in.Actor <= 0 {
		return Allocation{}, fmt.Errorf("%w: acting user required", shared.ErrValidation)
	}
	var removed Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.GetAllocation(ctx, in.AllocationID)
		if err != nil {
			return err
		}
		if _, err := tx.LockReceipts(ctx, []int64{a.ReceiptID}); err != nil {
			return err
		}
		if _, err := tx.LockInvoices(ctx, []int64{a.InvoiceID}); err != nil {
			return err
		}
		if err := tx.DeleteAllocation(ctx, a.ID); err != nil {
			return err
		}
		removed = a
		return nil
	})
	return removed, err
}

// ListOpenInvoices returns posted invoices with outstanding > 0, oldest due first.
func (s *Service) ListOpenInvoices(ctx context.Context, customerID int64, page shared.PageRequest) ([]OpenInvoice, shared.Pagination, error) {
	page = page.Normalize()
	list, total, err := s.repo.ListOpenInvoices(ctx, customerID, page)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, shared.NewPagination(page.Page, page.PerPage, total), nil
}

// ListAllocations returns allocations matching filter, newest first.
func (s *Service) ListAllocations(ctx context.Context, filter AllocationFilter, page shared.PageRequest) ([]Allocation, shared.Pagination, error) {
	page = page.Normalize()
	list, total, err := s.repo.ListAllocations(ctx, filter, page)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, shared.NewPagination(page.Page, page.PerPage, total), nil
}

// ReceiptOutstanding returns the unallocated part of a receipt.
func (s *Service) ReceiptOutstanding(ctx context.Context, receiptID int64) (decimal.Decimal, error) {
	return s.repo.ReceiptOutstanding(ctx, receiptID)
}

// InvoiceOutstanding returns the unpaid part of an invoice.
func (s *Service) InvoiceOutstanding(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	return s.repo.InvoiceOutstanding(ctx, invoiceID)
}

func (s *Service) observe(op string, err error) {
	if s.metrics != nil {
		s.metrics.Observe(op, err)
	}
}

func (s *Service) record(ctx context.Context, actor int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "ar_allocation",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func itemErr(total, idx int, err error) error {
	if total == 1 {
		return err
	}
	return fmt.Errorf("item %d: %w", idx+1, err)
}

func uniqueSorted(ids []int64) []int64 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:0]
	for i, id := range ids {
		if i > 0 && id == ids[i-1] {
			continue
		}
		out = append(out, id)
	}
	return out
}
