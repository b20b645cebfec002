package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobAndLedgerCollectors(t *testing.T) {
	metrics := NewMetrics()
	metrics.Ledger().Observe("post", nil)
	metrics.Jobs().Track("ledger:gl_integrity").End(nil)

	body := scrape(t, metrics)
	require.Contains(t, body, "odyssey_jobs_total")
	require.Contains(t, body, `odyssey_ledger_operations_total{operation="post",outcome="success"} 1`)
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.True(t, strings.Contains(body, `http_requests_total{code="418",route="/test"} 1`), body)
	require.Contains(t, body, `http_request_duration_seconds_bucket{route="/test"`)
}

func TestLedgerOutcomeLabels(t *testing.T) {
	metrics := NewMetrics()
	ledger := metrics.Ledger()

	ledger.Observe("allocate", fmt.Errorf("%w: amount", shared.ErrValidation))
	ledger.Observe("allocate", shared.NewKindError(shared.ErrStateConflict, "over"))
	ledger.Observe("allocate", shared.NewKindError(shared.ErrStateConflict, "over"))
	ledger.Observe("reverse", shared.NewKindError(shared.ErrNotFound, "gone"))
	ledger.Observe("post", shared.NewKindError(shared.ErrIntegrity, "unbalanced"))
	ledger.Observe("post", errors.New("conn reset"))

	require.Equal(t, 1.0, testutil.ToFloat64(ledger.operations.WithLabelValues("allocate", "invalid")))
	require.Equal(t, 2.0, testutil.ToFloat64(ledger.operations.WithLabelValues("allocate", "conflict")))
	require.Equal(t, 1.0, testutil.ToFloat64(ledger.operations.WithLabelValues("reverse", "not_found")))
	require.Equal(t, 1.0, testutil.ToFloat64(ledger.operations.WithLabelValues("post", "integrity")))
	require.Equal(t, 1.0, testutil.ToFloat64(ledger.operations.WithLabelValues("post", "error")))

	var nilLedger *LedgerMetrics
	nilLedger.Observe("post", nil)
}
