package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"approval/api/internal/authsvc"
	"approval/api/internal/graph"
	"approval/api/internal/metadata"
	"approval/api/internal/review"
	"approval/api/internal/snapshot"
	"approval/api/internal/store"
	"approval/api/internal/upstream"
)

// DomainError is a failure with a fixed HTTP status. Result, when set, is
// returned in the response envelope alongside the error message.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Result  any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func badRequest(message string) *DomainError {
	return domainError(http.StatusBadRequest, "BAD_REQUEST", message, nil)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, metadata.ErrNotFound), errors.Is(err, snapshot.ErrRootNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error(), nil
	case errors.Is(err, graph.ErrProjectNotFound), errors.Is(err, authsvc.ErrUserNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error(), nil
	case errors.Is(err, review.ErrInvalidStatus):
		return http.StatusBadRequest, "BAD_REQUEST", "invalid review status", nil
	case errors.Is(err, store.ErrUnknownField):
		return http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil
	}
	var upErr *upstream.Error
	var dispatchErr *review.DispatchError
	if errors.As(err, &dispatchErr) {
		details := map[string]any{"service": "pipeline"}
		if errors.As(err, &upErr) {
			details["status"] = upErr.StatusCode
			details["body"] = upErr.Body
		}
		return http.StatusBadGateway, "COPY_TRIGGER_FAILED", "review saved but copy could not be triggered", details
	}
	if errors.As(err, &upErr) {
		return http.StatusBadGateway, "UPSTREAM_FAILURE", upErr.Error(), map[string]any{
			"service": upErr.Service,
			"status":  upErr.StatusCode,
			"body":    upErr.Body,
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
