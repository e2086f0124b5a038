package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"canvas/api/internal/binding"
	"canvas/api/internal/builder"
	"canvas/api/internal/component"
	"canvas/api/internal/state"
	"canvas/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
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

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

var errorCodes = []struct {
	target error
	status int
	code   string
}{
	{component.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{component.ErrDuplicateID, http.StatusConflict, "DUPLICATE_ID"},
	{component.ErrInvalidParent, http.StatusUnprocessableEntity, "INVALID_PARENT"},
	{component.ErrCycle, http.StatusUnprocessableEntity, "CYCLE"},
	{component.ErrRootDeletion, http.StatusUnprocessableEntity, "ROOT_DELETION"},
	{component.ErrRootMove, http.StatusUnprocessableEntity, "ROOT_MOVE"},
	{component.ErrUnknownType, http.StatusUnprocessableEntity, "UNKNOWN_TYPE"},
	{component.ErrInvalidContent, http.StatusUnprocessableEntity, "INVALID_CONTENT"},
	{state.ErrPatchShape, http.StatusBadRequest, "PATCH_SHAPE"},
	{binding.ErrUnresolvedBinding, http.StatusUnprocessableEntity, "UNRESOLVED_BINDING"},
	{builder.ErrNoState, http.StatusConflict, "NO_STATE"},
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	for _, candidate := range errorCodes {
		if errors.Is(err, candidate.target) {
			return candidate.status, candidate.code, err.Error(), nil
		}
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
