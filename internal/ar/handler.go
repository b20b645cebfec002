package ar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// IdempotencyPort guards write endpoints against replayed requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler manages AR endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	idem     IdempotencyPort
	validate *httpx.Validator
}

// NewHandler builds Handler instance. idem may be nil.
func NewHandler(logger *slog.Logger, service *Service, idem IdempotencyPort) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, idem: idem, validate: httpx.NewValidator()}
}

// MountRoutes registers AR routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/allocate", h.handleAllocate)
	r.Post("/allocate-batch", h.handleAllocateBatch)
	r.Post("/unallocate", h.handleUnallocate)

	r.Get("/aging", h.handleAging)
	r.Get("/open-invoices", h.handleOpenInvoices)
	r.Get("/allocations", h.handleListAllocations)
	r.Get("/receipts/{id}/outstanding", h.handleReceiptOutstanding)
	r.Get("/invoices/{id}/outstanding", h.handleInvoiceOutstanding)
}

type allocateRequest struct {
	ReceiptID int64           `json:"receipt_id" validate:"required,gt=0"`
	InvoiceID int64           `json:"invoice_id" validate:"required,gt=0"`
	Amount    decimal.Decimal `json:"amount"`
	Notes     string          `json:"notes,omitempty" validate:"max=500"`
}

func (req allocateRequest) input(actor int64) AllocateInput {
	return AllocateInput{ReceiptID: req.ReceiptID, InvoiceID: req.InvoiceID, Amount: req.Amount, Notes: req.Notes, CreatedBy: actor}
}

type batchRequest struct {
	Items []allocateRequest `json:"items" validate:"required,min=1,max=500,dive"`
}

type unallocateRequest struct {
	AllocationID int64  `json:"allocation_id" validate:"required,gt=0"`
	Reason       string `json:"reason,omitempty" validate:"max=500"`
}

type outstandingResponse struct {
	ID          int64  `json:"id"`
	Outstanding string `json:"outstanding"`
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	var req allocateRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.idempotent(w, r, "ar.allocate", func() (int, any, error) {
		a, err := h.service.Allocate(r.Context(), req.input(actor))
		return http.StatusCreated, a, err
	})
}

func (h *Handler) handleAllocateBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	var req batchRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := BatchInput{CreatedBy: actor, Items: make([]AllocateInput, 0, len(req.Items))}
	for _, item := range req.Items {
		in.Items = append(in.Items, item.input(actor))
	}
	h.idempotent(w, r, "ar.allocate_batch", func() (int, any, error) {
		res, err := h.service.AllocateBatch(r.Context(), in)
		return http.StatusCreated, res, err
	})
}

func (h *Handler) handleUnallocate(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	var req unallocateRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.idempotent(w, r, "ar.unallocate", func() (int, any, error) {
		a, err := h.service.Unallocate(r.Context(), UnallocateInput{AllocationID: req.AllocationID, Actor: actor, Reason: req.Reason})
		return http.StatusOK, a, err
	})
}

func (h *Handler) handleAging(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	asOf := shared.DateOnly(h.service.now())
	if raw := q.Get("as_of"); raw != "" {
		parsed, err := shared.ParseDate(raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: as_of must be YYYY-MM-DD", shared.ErrValidation))
			return
		}
		asOf = parsed
	}
	customerID, err := optionalID(q.Get("customer_id"), "customer_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.AgingReport(r.Context(), asOf, customerID)
	if err != nil {
		h.logger.Error("aging report", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleOpenInvoices(w http.ResponseWriter, r *http.Request) {
	customerID, err := optionalID(r.URL.Query().Get("customer_id"), "customer_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, page, err := h.service.ListOpenInvoices(r.Context(), customerID, shared.PageFromQuery(r.URL.Query()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": list, "pagination": page})
}

func (h *Handler) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		filter AllocationFilter
		err    error
	)
	if filter.ReceiptID, err = optionalID(q.Get("receipt_id"), "receipt_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.InvoiceID, err = optionalID(q.Get("invoice_id"), "invoice_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.CustomerID, err = optionalID(q.Get("customer_id"), "customer_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, page, err := h.service.ListAllocations(r.Context(), filter, shared.PageFromQuery(q))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"allocations": list, "pagination": page})
}

func (h *Handler) handleReceiptOutstanding(w http.ResponseWriter, r *http.Request) {
	h.outstanding(w, r, h.service.ReceiptOutstanding)
}

func (h *Handler) handleInvoiceOutstanding(w http.ResponseWriter, r *http.Request) {
	h.outstanding(w, r, h.service.InvoiceOutstanding)
}

func (h *Handler) outstanding(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) (decimal.Decimal, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	amount, err := fn(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, outstandingResponse{ID: id, Outstanding: amount.StringFixed(2)})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

// idempotent runs fn once per Idempotency-Key. The key is released when fn
// fails so the client may retry.
func (h *Handler) idempotent(w http.ResponseWriter, r *http.Request, module string, fn func() (int, any, error)) {
	key := strings.TrimSpace(r.Header.Get(shared.IdempotencyHeader))
	if key != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), key, module); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	status, body, err := fn()
	if err != nil {
		if key != "" && h.idem != nil {
			if delErr := h.idem.Delete(r.Context(), key); delErr != nil {
				h.logger.Warn("release idempotency key", slog.String("module", module), slog.Any("error", delErr))
			}
		}
		level := slog.LevelWarn
		if kind := shared.KindOf(err); kind == nil || kind == shared.ErrIntegrity {
			level = slog.LevelError
		}
		h.logger.Log(r.Context(), level, module+" failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, status, body)
}

func optionalID(raw, name string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", shared.ErrValidation, name)
	}
	return id, nil
}
