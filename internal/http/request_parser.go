// This file parses and validates request data.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"zerosum/internal/core"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// badRequest marks a malformed request.
type badRequest struct {
	msg string
}

func (e *badRequest) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return &badRequest{msg: fmt.Sprintf(format, args...)}
}

// DecodeJSON reads a single JSON object from the request body into v.
// Unknown fields are rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return badRequestf("content type must be application/json")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return badRequestf("request body too large")
		case errors.Is(err, io.EOF):
			return badRequestf("request body is empty")
		}
		return badRequestf("invalid JSON: %v", err)
	}
	if dec.More() {
		return badRequestf("request body must hold a single JSON object")
	}
	return nil
}

// ParseMonthParam reads ?month=YYYY-MM, defaulting to the month of now.
func ParseMonthParam(query url.Values, now time.Time) (core.Month, error) {
	v := strings.TrimSpace(query.Get("month"))
	if v == "" {
		return core.MonthFromTime(now), nil
	}
	m, err := core.ParseMonth(v)
	if err != nil {
		return "", badRequestf("invalid month %q: want YYYY-MM", v)
	}
	return m, nil
}

// PathID returns the {id} path value, sanitised.
func PathID(r *http.Request) (string, error) {
	id := sanitizeInput(r.PathValue("id"))
	if id == "" {
		return "", badRequestf("missing id")
	}
	return id, nil
}

// sanitizeInput strips control characters other than tab and newlines and
// trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func sanitizePtr(s *string) {
	if s != nil {
		*s = sanitizeInput(*s)
	}
}
