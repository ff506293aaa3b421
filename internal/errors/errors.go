package errors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

type ErrorCode string

const (
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeBadRequest     ErrorCode = "BAD_REQUEST"
	CodeRateLimit      ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
	CodeSchema         ErrorCode = "SCHEMA_ERROR"
)

var statusByCode = map[ErrorCode]int{
	CodeInternal:       http.StatusInternalServerError,
	CodeNotFound:       http.StatusNotFound,
	CodeBadRequest:     http.StatusBadRequest,
	CodeRateLimit:      http.StatusTooManyRequests,
	CodeServiceUnavail: http.StatusServiceUnavailable,
	CodeSchema:         http.StatusUnprocessableEntity,
}

// StatusCode maps a code to its HTTP status. Unknown codes are 500.
func StatusCode(code ErrorCode) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// AppError is the error shape every API and SSE failure is reported in.
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	StatusCode int       `json:"-"`
	Cause      error     `json:"-"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
}

func (e *AppError) Error() string {
	msg := string(e.Code) + ": " + e.Message
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches any AppError carrying the same code, so callers can test
// errors.Is(err, &AppError{Code: CodeNotFound}).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: StatusCode(code),
		Timestamp:  time.Now().UTC(),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	appErr := New(code, message)
	appErr.Cause = err
	return appErr
}

func Internal(message string) *AppError { return New(CodeInternal, message) }

func NotFound(message string) *AppError { return New(CodeNotFound, message) }

func BadRequestWrap(err error, message string) *AppError {
	return Wrap(err, CodeBadRequest, message)
}

func RateLimit(message string) *AppError { return New(CodeRateLimit, message) }

// Schema reports upstream data that lacks a required field in every row.
func Schema(err error) *AppError {
	appErr := Wrap(err, CodeSchema, "Upstream data is missing a required field")
	appErr.Details = err.Error()
	return appErr
}

// ServiceUnavailableWrap reports that no report could be produced, typically
// because the upstream fetch failed and nothing was cached.
func ServiceUnavailableWrap(err error, message string) *AppError {
	return Wrap(err, CodeServiceUnavail, message)
}

// From returns err as an AppError. Anything unclassified becomes an internal
// error whose message hides the cause.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeInternal, "An unexpected error occurred")
}

type ErrorResponse struct {
	Error   *AppError `json:"error"`
	Success bool      `json:"success"`
}

type SuccessResponse struct {
	Data    any  `json:"data"`
	Success bool `json:"success"`
}

func WriteError(w http.ResponseWriter, logger *slog.Logger, err error, requestID string) {
	appErr := From(err)
	appErr.RequestID = requestID

	level := slog.LevelError
	if appErr.StatusCode < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "request failed",
		"error_code", appErr.Code,
		"status_code", appErr.StatusCode,
		"message", appErr.Message,
		"cause", appErr.Cause,
		"request_id", requestID,
	)

	if werr := writeJSON(w, appErr.StatusCode, ErrorResponse{Error: appErr}); werr != nil {
		logger.Error("failed to encode error response", "error", werr, "request_id", requestID)
	}
}

func WriteSuccess(w http.ResponseWriter, data any) {
	if err := writeJSON(w, http.StatusOK, SuccessResponse{Data: data, Success: true}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func WriteSuccessWithHeaders(w http.ResponseWriter, data any, headers map[string]string) {
	for key, value := range headers {
		w.Header().Set(key, value)
	}
	WriteSuccess(w, data)
}

// writeJSON encodes before touching the response so an encoding failure can
// still be answered with a clean 500.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
