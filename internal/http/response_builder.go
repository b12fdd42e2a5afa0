// Package http serves the JSON API over the mutation framework and the
// ledger service.
//
// This file builds JSON responses and maps domain errors to status codes.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"zerosum/internal/adapters"
	"zerosum/internal/core"
	"zerosum/internal/mutation"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	if err := json.NewEncoder(w).Encode(b.body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// QueuedBody answers a mutation whose commit failed and was queued.
type QueuedBody struct {
	Queued     bool   `json:"queued"`
	MutationID string `json:"mutationId"`
	Operation  string `json:"operation"`
	Error      string `json:"error"`
}

// ErrorResponse creates a standard JSON error response.
func ErrorResponse(statusCode int, code, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(ErrorBody{Error: message, Code: code})
}

func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, "bad_request", message)
}

func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, "not_found", message)
}

func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, "internal", message)
}

// ErrorFor maps an operation error to its response. Queued commits answer
// 202 with the mutation id so the client can follow the retry.
func ErrorFor(err error) *JSONResponseBuilder {
	var ve *mutation.ValidationError
	if errors.As(err, &ve) {
		return ErrorResponse(validationStatus(ve.Code), string(ve.Code), ve.Error())
	}
	var ce *mutation.CommitError
	if errors.As(err, &ce) {
		return NewJSONResponse().
			Status(http.StatusAccepted).
			Body(QueuedBody{Queued: true, MutationID: ce.MutationID, Operation: ce.Operation, Error: ce.Err.Error()})
	}
	var be *badRequest
	switch {
	case errors.As(err, &be):
		return BadRequestError(be.Error())
	case errors.Is(err, mutation.ErrNotQueued):
		return NotFoundError(err.Error())
	case errors.Is(err, mutation.ErrRetryInProgress):
		return ErrorResponse(http.StatusConflict, "retry_in_progress", err.Error())
	case errors.Is(err, adapters.ErrImageTooLarge):
		return ErrorResponse(http.StatusRequestEntityTooLarge, "too_large", err.Error())
	case errors.Is(err, adapters.ErrNotAnImage):
		return ErrorResponse(http.StatusUnsupportedMediaType, "unsupported_image", err.Error())
	case errors.Is(err, adapters.ErrEmptyImage), errors.Is(err, core.ErrInvalidMonth):
		return BadRequestError(err.Error())
	}
	return InternalServerError("internal error")
}

func validationStatus(code mutation.ValidationCode) int {
	switch code {
	case mutation.CodeNotFound:
		return http.StatusNotFound
	case mutation.CodeConflict:
		return http.StatusConflict
	case mutation.CodeForbidden:
		return http.StatusForbidden
	}
	return http.StatusBadRequest
}
