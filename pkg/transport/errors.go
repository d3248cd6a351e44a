package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/itsbakr/weave-tutor/pkg/activity"
	"github.com/itsbakr/weave-tutor/pkg/api"
	"github.com/itsbakr/weave-tutor/pkg/auth"
	"github.com/itsbakr/weave-tutor/pkg/deploy"
	"github.com/itsbakr/weave-tutor/pkg/storage"
)

// HTTPStatusFromError maps an APIError type to the corresponding HTTP status
// code. Transport-level errors (body too large, unsupported content type)
// are handled separately by the HTTP adapter.
func HTTPStatusFromError(err *api.APIError) int {
	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeConflict:
		return http.StatusConflict
	case api.ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	case api.ErrorTypeGeneratorError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorFrom converts an error returned by the service into an APIError.
// Unknown errors become server errors carrying the error text.
func ErrorFrom(err error) *api.APIError {
	var apiErr *api.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, storage.ErrNotFound):
		return api.NewNotFoundError(err.Error())
	case errors.Is(err, storage.ErrConflict):
		return api.NewConflictError(err.Error())
	case errors.Is(err, deploy.ErrInvalidArgument):
		return api.NewInvalidRequestError("", err.Error())
	case errors.Is(err, activity.ErrGeneration):
		return api.NewGeneratorError(err.Error())
	case errors.Is(err, auth.ErrTooManyRequests):
		return api.NewTooManyRequestsError(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return api.NewServerError("operation timed out")
	default:
		return api.NewServerError(err.Error())
	}
}

// WriteErrorResponse writes a JSON error response using the ErrorResponse
// wrapper format from pkg/api.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes an APIError response, deriving the HTTP status code
// from the error type.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}

// WriteError maps err with ErrorFrom and writes it.
func WriteError(w http.ResponseWriter, err error) {
	WriteAPIError(w, ErrorFrom(err))
}
