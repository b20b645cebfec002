package journals

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	kinds "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, meta, err := h.service.List(r.Context(), filter, kinds.PageFromQuery(r.URL.Query()))
	if err != nil {
		h.logger.Error("list journals", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if entries == nil {
		entries = []JournalEntry{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"journals": entries, "pagination": meta})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid journal id", kinds.ErrValidation))
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	var f Filter
	if v := q.Get("from"); v != "" {
		d, err := kinds.ParseDate(v)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: from must be YYYY-MM-DD", kinds.ErrValidation)
		}
		f.From = &d
	}
	if v := q.Get("to"); v != "" {
		d, err := kinds.ParseDate(v)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: to must be YYYY-MM-DD", kinds.ErrValidation)
		}
		f.To = &d
	}
	f.SourceType = q.Get("source_type")
	if v := q.Get("source_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: source_id must be numeric", kinds.ErrValidation)
		}
		f.SourceID = id
	}
	switch status := JournalStatus(q.Get("status")); status {
	case "", JournalStatusDraft, JournalStatusPosted, JournalStatusReversed:
		f.Status = status
	default:
		return Filter{}, fmt.Errorf("%w: unknown status %q", kinds.ErrValidation, status)
	}
	return f, nil
}
