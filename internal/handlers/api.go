package handlers

import (
	stderrors "errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"spend-dashboard/internal/errors"
	"spend-dashboard/internal/observability"
	"spend-dashboard/internal/pipeline"
	"spend-dashboard/internal/reports"
	"spend-dashboard/internal/services"
)

const (
	version      = "1.0.0"
	monthLayout  = "2006-01"
	cacheControl = "private, max-age=60"
)

type APIHandlers struct {
	analytics *services.Analytics
	logger    *slog.Logger
}

func NewAPIHandlers(analytics *services.Analytics, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		analytics: analytics,
		logger:    logger,
	}
}

// appError maps service and pipeline failures onto API errors.
func appError(err error) *errors.AppError {
	var (
		appErr    *errors.AppError
		schemaErr *pipeline.SchemaError
	)
	switch {
	case stderrors.As(err, &appErr):
		return appErr
	case stderrors.As(err, &schemaErr):
		return errors.Schema(err)
	case stderrors.Is(err, reports.ErrUnknownMonth):
		return errors.NotFound("No completed transactions in the requested month")
	default:
		return errors.ServiceUnavailableWrap(err, "Transaction data is unavailable")
	}
}

// parseMonth validates the optional month query parameter.
func parseMonth(r *http.Request) (string, error) {
	month := r.URL.Query().Get("month")
	if month == "" {
		return "", nil
	}
	if _, err := time.Parse(monthLayout, month); err != nil {
		return "", errors.BadRequestWrap(err, "month must be formatted as YYYY-MM")
	}
	return month, nil
}

// withReport writes view(report) or the mapped error.
func (h *APIHandlers) withReport(w http.ResponseWriter, r *http.Request, view func(*reports.Report) any) {
	report, err := h.analytics.Report(r.Context())
	if err != nil {
		errors.WriteError(w, h.logger, appError(err), observability.GetRequestID(r.Context()))
		return
	}

	errors.WriteSuccessWithHeaders(w, view(report), map[string]string{
		"Cache-Control": cacheControl,
		"X-Report-ID":   report.ID,
	})
}

func (h *APIHandlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	h.withReport(w, r, func(rep *reports.Report) any { return rep })
}

// HandleView serves one named report view. name must be one of
// reports.Views other than monthly, which takes a month parameter.
func (h *APIHandlers) HandleView(name string) http.HandlerFunc {
	if name == "monthly" || !slices.Contains(reports.Views, name) {
		panic("handlers: no report view " + name)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		h.withReport(w, r, func(rep *reports.Report) any {
			v, _ := rep.View(name)
			return v
		})
	}
}

func (h *APIHandlers) HandleMonthly(w http.ResponseWriter, r *http.Request) {
	requestID := observability.GetRequestID(r.Context())

	month, err := parseMonth(r)
	if err != nil {
		errors.WriteError(w, h.logger, err, requestID)
		return
	}

	data, err := h.analytics.Monthly(r.Context(), month)
	if err != nil {
		errors.WriteError(w, h.logger, appError(err), requestID)
		return
	}

	errors.WriteSuccessWithHeaders(w, data, map[string]string{
		"Cache-Control": cacheControl,
	})
}

func (h *APIHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {

	healthData := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   version,
	}

	errors.WriteSuccess(w, healthData)
}

func (h *APIHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {

	stats := h.analytics.Stats()

	errors.WriteSuccess(w, stats)
}
