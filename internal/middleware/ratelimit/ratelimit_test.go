package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiterWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := NewLimiter(Config{RequestsPerMinute: 2})
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Error("third request inside the window should be limited")
	}
	if !rl.Allow("b") {
		t.Error("other clients are tracked separately")
	}

	now = now.Add(time.Minute)
	if !rl.Allow("a") {
		t.Error("a new window should reset the count")
	}
	if m := rl.GetMetrics(); m.Limited != 1 || m.ClientCount != 2 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestLimiterDropsIdleClients(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerMinute: 1, IdleTimeout: time.Millisecond})
	rl.Allow("a")
	time.Sleep(5 * time.Millisecond)
	if n := rl.CleanExpired(); n != 1 {
		t.Errorf("CleanExpired() = %d, want 1", n)
	}
}

func TestMiddleware(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerMinute: 1})
	h := rl.Middleware(func(*http.Request) string { return "c" }, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) }))

	do := func(method string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, "/api/transactions", nil))
		return rec
	}

	if rec := do(http.MethodPost); rec.Code != http.StatusCreated {
		t.Fatalf("first POST = %d", rec.Code)
	}
	rec := do(http.MethodPost)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second POST = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	if rec := do(http.MethodGet); rec.Code != http.StatusCreated {
		t.Errorf("GET should bypass the limiter, got %d", rec.Code)
	}
}
