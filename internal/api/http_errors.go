package api

import (
	"errors"
	"net/http"

	"simdeck/internal/core"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string                 `json:"error"`
	Code      string                 `json:"code,omitempty"`
	Category  string                 `json:"category,omitempty"`
	Retryable bool                   `json:"retryable,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func httpStatusForDomainError(err error) (int, bool) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}

	switch domErr.Category {
	case core.ErrCatValidation:
		return http.StatusUnprocessableEntity, true
	case core.ErrCatNotFound:
		return http.StatusNotFound, true
	case core.ErrCatConflict:
		return http.StatusConflict, true
	case core.ErrCatNetwork:
		return http.StatusBadGateway, true
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout, true
	default:
		return http.StatusInternalServerError, true
	}
}

// respondError maps a domain error to its HTTP status and JSON body. Errors
// without a domain classification become a plain 500.
func respondError(w http.ResponseWriter, err error) {
	var domErr *core.DomainError
	if status, ok := httpStatusForDomainError(err); ok && errors.As(err, &domErr) {
		respondJSON(w, status, errorBody{
			Error:     domErr.Message,
			Code:      domErr.Code,
			Category:  string(domErr.Category),
			Retryable: domErr.Retryable,
			Details:   domErr.Details,
		})
		return
	}
	respondJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
}

// respondErrorMessage sends a bare error with an explicit status.
func respondErrorMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorBody{Error: message})
}
