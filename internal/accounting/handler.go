package accounting

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler wires ledger endpoints.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	periods  *PeriodManager
	calendar *periods.Service
	journals *journals.Handler
	accounts *accounts.Handler
	chart    *accounts.Service
	mappings mappings.Repository
	validate *httpx.Validator
}

// HandlerDeps groups the collaborators of Handler.
type HandlerDeps struct {
	Engine        *Engine
	PeriodManager *PeriodManager
	Periods       *periods.Service
	Journals      *journals.Service
	Accounts      *accounts.Service
	Mappings      mappings.Repository
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, deps HandlerDeps) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		engine:   deps.Engine,
		periods:  deps.PeriodManager,
		calendar: deps.Periods,
		journals: journals.NewHandler(logger, deps.Journals),
		accounts: accounts.NewHandler(logger, deps.Accounts),
		chart:    deps.Accounts,
		mappings: deps.Mappings,
		validate: httpx.NewValidator(),
	}
}

// MountRoutes registers HTTP routes for the ledger module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/post/{type}/{id}", h.handlePost)
	r.Post("/reverse/{type}/{id}", h.handleReverse)
	r.Route("/journals", h.journals.MountRoutes)
	r.Get("/accounts", h.accounts.List)
	r.Get("/mappings", h.handleListMappings)
	r.Get("/trial-balance", h.handleTrialBalance)

	r.Route("/periods", func(r chi.Router) {
		r.Get("/", h.handleListPeriods)
		r.Post("/", h.handleCreatePeriod)
		r.Get("/check", h.handleCheckDate)
		r.Get("/{id}", h.handleGetPeriod)
		r.Post("/{id}/close", h.handleClosePeriod)
		r.Post("/{id}/reopen", h.handleReopenPeriod)
		r.Post("/{id}/archive", h.handleArchivePeriod)
		r.Delete("/{id}", h.handleDeletePeriod)
	})
}

type postingResponse struct {
	JournalID int64                  `json:"journal_id"`
	Number    string                 `json:"number"`
	Date      string                 `json:"date"`
	Lines     []journals.JournalLine `json:"lines"`
}

type reversalResponse struct {
	ReversalJournalID int64                  `json:"reversal_journal_id"`
	Number            string                 `json:"number"`
	ReversalOf        *int64                 `json:"reversal_of"`
	Date              string                 `json:"date"`
	Lines             []journals.JournalLine `json:"lines"`
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
	Date   string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type createPeriodRequest struct {
	Year  int `json:"year" validate:"required,gte=1900,lte=9999"`
	Month int `json:"month" validate:"required,gte=1,lte=12"`
}

type closePeriodRequest struct {
	CreateClosingEntries bool `json:"create_closing_entries"`
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	ref, err := documentRef(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.engine.Post(r.Context(), ref.Kind, ref.ID, actor)
	if err != nil {
		h.logFailure(r.Context(), "post document", ref, err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, postingResponse{
		JournalID: entry.ID,
		Number:    entry.Number,
		Date:      entry.Date.Format(shared.DateLayout),
		Lines:     entry.Lines,
	})
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	ref, err := documentRef(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := ReverseInput{Kind: ref.Kind, DocumentID: ref.ID, ReversedBy: actor, Reason: req.Reason}
	if req.Date != "" {
		d, err := shared.ParseDate(req.Date)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: date must be YYYY-MM-DD", shared.ErrValidation))
			return
		}
		in.Date = &d
	}
	entry, err := h.engine.Reverse(r.Context(), in)
	if err != nil {
		h.logFailure(r.Context(), "reverse document", ref, err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, reversalResponse{
		ReversalJournalID: entry.ID,
		Number:            entry.Number,
		ReversalOf:        entry.ReversalOf,
		Date:              entry.Date.Format(shared.DateLayout),
		Lines:             entry.Lines,
	})
}

func (h *Handler) handleListMappings(w http.ResponseWriter, r *http.Request) {
	list, err := h.mappings.List(r.Context())
	if err != nil {
		h.logger.Error("list mappings", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if list == nil {
		list = []mappings.AccountMapping{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"mappings": list})
}

func (h *Handler) handleTrialBalance(w http.ResponseWriter, r *http.Request) {
	list, err := h.chart.List(r.Context())
	if err != nil {
		h.logger.Error("trial balance", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	tb := reports.BuildTrialBalance(list)
	if !tb.Balanced {
		h.logger.Error("trial balance out of balance",
			slog.String("debit", tb.TotalDebit.StringFixed(2)),
			slog.String("credit", tb.TotalCredit.StringFixed(2)))
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) handleListPeriods(w http.ResponseWriter, r *http.Request) {
	year := 0
	if v := r.URL.Query().Get("year"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: year must be numeric", shared.ErrValidation))
			return
		}
		year = parsed
	}
	list, err := h.calendar.List(r.Context(), year)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if list == nil {
		list = []periods.Period{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": list})
}

func (h *Handler) handleGetPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.calendar.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleCheckDate(w http.ResponseWriter, r *http.Request) {
	date, err := shared.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: date must be YYYY-MM-DD", shared.ErrValidation))
		return
	}
	check, err := h.calendar.CanPostOnDate(r.Context(), date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, check)
}

func (h *Handler) handleCreatePeriod(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	var req createPeriodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.periods.Create(r.Context(), req.Year, req.Month, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) handleClosePeriod(w http.ResponseWriter, r *http.Request) {
	var req closePeriodRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	h.periodAction(w, r, func(id, actor int64) (periods.Period, error) {
		return h.periods.Close(r.Context(), id, actor, CloseOptions{CreateClosingEntries: req.CreateClosingEntries})
	})
}

func (h *Handler) handleReopenPeriod(w http.ResponseWriter, r *http.Request) {
	h.periodAction(w, r, func(id, actor int64) (periods.Period, error) {
		return h.periods.Reopen(r.Context(), id, actor)
	})
}

func (h *Handler) handleArchivePeriod(w http.ResponseWriter, r *http.Request) {
	h.periodAction(w, r, func(id, actor int64) (periods.Period, error) {
		return h.periods.Archive(r.Context(), id, actor)
	})
}

func (h *Handler) handleDeletePeriod(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.periods.Delete(r.Context(), id, actor); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) periodAction(w http.ResponseWriter, r *http.Request, fn func(id, actor int64) (periods.Period, error)) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := fn(id, actor)
	if err != nil {
		h.logger.Warn("period action failed", slog.Int64("period_id", id), slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) logFailure(ctx context.Context, op string, ref documents.Ref, err error) {
	level := slog.LevelWarn
	if shared.KindOf(err) == nil || shared.KindOf(err) == shared.ErrIntegrity {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, op+" failed", slog.String("document", ref.String()), slog.Any("error", err))
}

func documentRef(r *http.Request) (documents.Ref, error) {
	kind, err := documents.ParseKind(strings.TrimSpace(chi.URLParam(r, "type")))
	if err != nil {
		return documents.Ref{}, err
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		return documents.Ref{}, err
	}
	return documents.Ref{Kind: kind, ID: id}, nil
}
