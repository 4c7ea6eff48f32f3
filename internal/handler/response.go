package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"submission_service/internal/errdefs"
	"submission_service/pkg/logging"
)

var BadRequestError = errors.New("bad request")

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, BadRequestError), errors.Is(err, errdefs.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, errdefs.ErrAuthentication):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, errdefs.ErrPermissionDenied):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, errdefs.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errdefs.ErrConflict), errors.Is(err, errdefs.ErrAlreadyExists):
		return http.StatusConflict, "conflict"
	case errors.Is(err, errdefs.ErrIntegrity):
		return http.StatusInternalServerError, "integrity_error"
	case errors.Is(err, errdefs.ErrDependency):
		return http.StatusServiceUnavailable, "dependency_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeErrorJSON(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(envelope{Error: &errorBody{Code: code, Message: message}})
}

// writeError maps err to a status. Server side details stay in the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode, code := mapError(err)
	message := err.Error()
	if statusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error(r.Context(), "request failed",
			zap.String("path", r.URL.Path), zap.Int("status", statusCode), zap.Error(err))
		switch code {
		case "integrity_error":
			message = errdefs.ErrIntegrity.Error()
		case "dependency_unavailable":
			message = "a required dependency is unavailable"
		default:
			message = http.StatusText(statusCode)
		}
	}
	writeErrorJSON(w, statusCode, code, message)
}

func parsePathParam(r *http.Request, key string) (string, error) {
	val := chi.URLParam(r, key)
	if val == "" {
		return "", fmt.Errorf("missing path param %s: %w", key, BadRequestError)
	}
	return val, nil
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val, err := parsePathParam(r, key)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s is not a valid id: %w", key, BadRequestError)
	}
	return id, nil
}

func parseVersionParam(r *http.Request) (int, error) {
	val, err := parsePathParam(r, "version")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("version must be a positive integer: %w", BadRequestError)
	}
	return n, nil
}
