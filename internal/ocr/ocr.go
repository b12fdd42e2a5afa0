// Package ocr is the boundary to the receipt recognition service.
package ocr

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies a scan failure.
type Code string

const (
	CodeTimeout       Code = "SCAN_TIMEOUT"
	CodeUnscannable   Code = "SCAN_FAILED_UNSCANNABLE"
	CodeNotReceipt    Code = "SCAN_FAILED_NOT_RECEIPT"
	CodeServerError   Code = "SCAN_SERVER_ERROR"
	CodeImageNotFound Code = "IMAGE_NOT_FOUND"
)

// Receipt is what a scan extracted. Zero fields were not recognised.
// Amount is the receipt total in cents, unsigned as printed.
type Receipt struct {
	Payee    string `json:"payee"`
	Date     string `json:"date"`
	Amount   int64  `json:"amount"`
	Category string `json:"category,omitempty"`
}

// Scanner reads a receipt image. categories are the names the result's
// category may be chosen from.
type Scanner interface {
	Scan(ctx context.Context, image []byte, categories []string) (Receipt, error)
}

// ServiceError is a scan failure with its code. Message is sanitised.
type ServiceError struct {
	Code    Code
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches another ServiceError by code.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	return ok && t.Code == e.Code && t.Message == ""
}

var (
	// ErrTimeout matches any timed out scan.
	ErrTimeout = &ServiceError{Code: CodeTimeout}
	// ErrImageNotFound matches a scan whose cached image is missing.
	ErrImageNotFound = &ServiceError{Code: CodeImageNotFound}
)

// NewError wraps cause as a ServiceError with a sanitised message.
func NewError(code Code, cause error) *ServiceError {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return &ServiceError{Code: code, Message: Sanitize(msg)}
}

// CodeOf returns the scan code of err, SCAN_SERVER_ERROR for foreign errors.
func CodeOf(err error) Code {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeServerError
}

// Describe renders err as the "CODE: message" stored on a failed transaction.
func Describe(err error) string {
	var se *ServiceError
	if errors.As(err, &se) {
		return fmt.Sprintf("%s: %s", se.Code, Sanitize(se.Message))
	}
	return fmt.Sprintf("%s: %s", CodeServerError, Sanitize(err.Error()))
}
