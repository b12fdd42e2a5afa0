package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"zerosum/internal/adapters"
	"zerosum/internal/cache"
	"zerosum/internal/core"
	"zerosum/internal/ledger"
	"zerosum/internal/middleware/ratelimit"
	"zerosum/internal/mutation"
	"zerosum/internal/remote/memory"
)

const testMonth = core.Month("2024-05")

type memImages struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memImages) Put(_ context.Context, id, _ string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = data
	return nil
}

func (m *memImages) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

type testEnv struct {
	store *memory.Store
	fw    *mutation.Framework
	srv   *Server
}

func newTestEnv(t *testing.T, rl ratelimit.Config) *testEnv {
	t.Helper()
	store := memory.New()
	view := mutation.NewView()
	fw := mutation.New(store, view, mutation.NewMemoryLog(), mutation.NewNotifier(time.Second, time.Minute))
	svc := ledger.NewService(view, cache.NewLRUCache[ledger.MonthView](12, 0), time.Hour)
	view.OnChange(svc.Invalidate)
	if _, err := fw.Seed(context.Background(), testMonth); err != nil {
		t.Fatalf("seed: %v", err)
	}

	intake := adapters.NewReceiptIntake(&memImages{data: map[string][]byte{}}, fw, nil)
	srv := NewServer(":0", Deps{
		Framework: fw,
		Ledger:    svc,
		Receipts:  intake,
		Ready:     store.Ping,
		RateLimit: rl,
	})
	srv.now = func() time.Time { return time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{store: store, fw: fw, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) account(t *testing.T, name string) core.Account {
	t.Helper()
	for _, a := range e.fw.View().Accounts() {
		if a.Name == name {
			return a
		}
	}
	t.Fatalf("account %q not found", name)
	return core.Account{}
}

func (e *testEnv) category(t *testing.T, name string) core.CategoryMetadata {
	t.Helper()
	c, ok := e.fw.View().Snapshot().CategoryByName(name)
	if !ok {
		t.Fatalf("category %q not found", name)
	}
	return c
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, ratelimit.Config{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := env.do(t, http.MethodGet, path, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	env.store.SetOffline(true)
	if rr := env.do(t, http.MethodGet, "/readyz", nil); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz offline status=%d, want 503", rr.Code)
	}
}

func TestBudget(t *testing.T) {
	env := newTestEnv(t, ratelimit.Config{})

	rr := env.do(t, http.MethodGet, "/api/budget", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("request id missing")
	}

	got := decode[BudgetResponse](t, rr)
	if got.Month != testMonth {
		t.Errorf("month = %q, want default %q", got.Month, testMonth)
	}
	if got.Totals.ReadyToAssign != 1515000 {
		t.Errorf("ReadyToAssign = %d, want 1515000", got.Totals.ReadyToAssign)
	}
	if len(got.Accounts) != 3 || len(got.Transactions) != 3 {
		t.Errorf("accounts=%d transactions=%d", len(got.Accounts), len(got.Transactions))
	}

	if rr := env.do(t, http.MethodGet, "/api/budget?month=2024-13", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid month status=%d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/api/budget?month=2024-06", nil)
	if got := decode[BudgetResponse](t, rr); len(got.Transactions) != 0 {
		t.Errorf("June should have no transactions, got %d", len(got.Transactions))
	}
}

func TestCreateAndUpdateTransaction(t *testing.T) {
	env := newTestEnv(t, ratelimit.Config{})
	checking := env.account(t, "Checking")
	dining := env.category(t, "Dining Out")

	rr := env.do(t, http.MethodPost, "/api/transactions", map[string]any{
		"date": "2024-05-10", "payee": " Corner Bistro\x00 ", "categoryId": dining.ID,
		"amount": -2500, "accountId": checking.ID,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	tx := decode[core.Transaction](t, rr)
	if tx.Payee != "Corner Bistro" {
		t.Errorf("payee = %q", tx.Payee)
	}
	if got := env.account(t, "Checking").Balance; got != checking.Balance-2500 {
		t.Errorf("balance = %d", got)
	}

	rr = env.do(t, http.MethodPatch, "/api/transactions/"+tx.ID, map[string]any{"amount": -3000})
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := env.account(t, "Checking").Balance; got != checking.Balance-3000 {
		t.Errorf("balance after patch = %d", got)
	}

	rr = env.do(t, http.MethodPatch, "/api/transactions/"+tx.ID, map[string]any{"scanLastError": "x"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("scan field patch status=%d", rr.Code)
	}
}

func TestTransactionErrors(t *testing.T) {
	env := newTestEnv(t, ratelimit.Config{})

	tests := []struct {
		name string
		body any
		want int
		code string
	}{
		{"malformed json", `{"date":`, http.StatusBadRequest, "bad_request"},
		{"unknown field", map[string]any{"memo": "x"}, http.StatusBadRequest, "bad_request"},
		{"invalid date", map[string]any{"date": "05/10/2024", "accountId": "a"}, http.StatusBadRequest, "invalid"},
		{"unknown account", map[string]any{"date": "2024-05-10", "accountId": "nope"}, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/transactions", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tt.want, rr.Body.String())
			}
			if got := decode[ErrorBody](t, rr); got.Code != tt.code {
				t.Errorf("code = %q, want %q", got.Code, tt.code)
			}
		})
	}

	if rr := env.do(t, http.MethodPatch, "/api/transactions/missing", map[string]any{"payee": "x"}); rr.Code != http.StatusNotFound {
		t.Errorf("patch missing status=%d", rr.Code)
	}
}

func TestQueuedMutationAndRetry(t *testing.T) {
	env := newTestEnv(t, ratelimit.Config{})
	checking := env.account(t, "Checking")

	env.store.SetOffline(true)
	rr := env.do(t, http.MethodPost, "/api/transactions", map[string]any{
		"date": "2024-05-11", "payee": "Bakery", "amount": -450, "accountId": checking.ID,
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	queued := decode[QueuedBody](t, rr)
	if !queued.Queued || queued.MutationID == "" {
		t.Fatalf("unexpected body %+v", queued)
	}
	if got := env.account(t, "Checking").Balance; got != checking.Balance {
		t.Errorf("failed commit should roll back, balance=%d", got)
	}

	list := decode[MutationsResponse](t, env.do(t, http.MethodGet, "/api/mutations", nil))
	if len(list.Pending) != 1 || list.Pending[0].ID != queued.MutationID {
		t.Fatalf("pending = %+v", list.Pending)
	}

	notes := decode[[]mutation.Notification](t, env.do(t, http.MethodGet, "/api/notifications", nil))
	if len(notes) != 1 || notes[0].Level != mutation.LevelError {
		t.Fatalf("notifications = %+v", notes)
	}
	if rr := env.do(t, http.MethodDelete, "/api/notifications/"+notes[0].ID, nil); rr.Code != http.StatusNoContent {
		t.Errorf("dismiss status=%d", rr.Code)
	}

	// Still offline: the retry is queued again.
	if rr := env.do(t, http.MethodPost, "/api/mutations/"+queued.MutationID+"/retry", nil); rr.Code != http.StatusAccepted {
		t.Errorf("offline retry status=%d", rr.Code)
	}

	env.store.SetOffline(false)
	if rr := env.do(t, http.MethodPost, "/api/mutations/"+queued.MutationID+"/retry", nil); rr.Code != http.StatusOK {
		t.Fatalf("retry status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := env.account(t, "Checking").Balance; got != checking.Balance-450 {
		t.Errorf("balance after retry = %d", got)
	}
	if rr := env.do(t, http.MethodPost, "/api/mutations/"+queued.MutationID+"/retry", nil); rr.Code != http.StatusNotFound {
		t.Errorf("second retry status=%d", rr.Code)
	}
}

func TestAbandonMutation(t *testing.T) {
	env := newTestEnv(t, ratelimit.Config{})
	env.store.SetOffline(true)
	rr := env.do(t, http.MethodPut, "/api/allocations", map[string]any{
		"month": testMonth, "categoryId": env.category(t, "Electric").ID, "budgeted": 1,
	})
	id := decode[QueuedBody](t, rr).MutationID

	if rr := env.do(t, http.MethodDelete, "/api/mutations/"+id, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("abandon status=%d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/api/mutations/"+id, nil); rr.Code != http.StatusNotFound {
		t.Errorf("abandon twice status=%d", rr.Code)
	}
}

func TestCategoriesAndAllocations(t *testing.T) {
	env := newTestEnv(t, ratelimit.Config{})

	rr := env.do(t, http.MethodPost, "/api/categories", map[string]any{"name": "Groceries", "budgeted": 40000})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	c := decode[core.CategoryMetadata](t, rr)

	budget := decode[BudgetResponse](t, env.do(t, http.MethodGet, "/api/budget?month=2024-05", nil))
	if budget.Totals.ReadyToAssign != 1515000-40000 {
		t.Errorf("RTA = %d", budget.Totals.ReadyToAssign)
	}

	if rr := env.do(t, http.MethodPost, "/api/categories", map[string]any{"name": "groceries"}); rr.Code != http.StatusConflict {
		t.Errorf("duplicate name status=%d", rr.Code)
	}

	rr = env.do(t, http.MethodPatch, "/api/categories/"+c.ID, map[string]any{"name": "Food"})
	if rr.Code != http.StatusOK || decode[core.CategoryMetadata](t, rr).Name != "Food" {
		t.Fatalf("rename status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPut, "/api/allocations", map[string]any{"month": "2024-05", "categoryId": c.ID, "budgeted": 10000})
	if rr.Code != http.StatusOK {
		t.Fatalf("allocation status=%d body=%s", rr.Code, rr.Body.String())
	}
	budget = decode[BudgetResponse](t, env.do(t, http.MethodGet, "/api/budget?month=2024-05", nil))
	if budget.Totals.ReadyToAssign != 1515000-10000 {
		t.Errorf("RTA after allocation = %d", budget.Totals.ReadyToAssign)
	}

	rta := env.category(t, "Ready to Assign")
	if rr := env.do(t, http.MethodDelete, "/api/categories/"+rta.ID, nil); rr.Code != http.StatusForbidden {
		t.Errorf("delete RTA status=%d", rr.Code)
	}
	if rr := env.do(t, http.MethodPut, "/api/allocations", map[string]any{"month": "2024-05", "categoryId": rta.ID, "budgeted": 1}); rr.Code != http.StatusForbidden {
		t.Errorf("budget RTA status=%d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/api/categories/"+c.ID, nil); rr.Code != http.StatusNoContent {
		t.Errorf("delete status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestAccounts(t *testing.T) {
	env := newTestEnv(t, ratelimit.Config{})

	rr := env.do(t, http.MethodPost, "/api/accounts", map[string]any{
		"name": "Travel Card", "type": "Credit Card", "startingBalance": -12000,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	card := decode[core.Account](t, rr)
	if _, ok := env.fw.View().Snapshot().CCPaymentFor(card.ID); !ok {
		t.Error("credit card should get a payment category")
	}

	checking := env.account(t, "Checking")
	rr = env.do(t, http.MethodPost, "/api/accounts/"+checking.ID+"/reconcile", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("reconcile status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := decode[map[string]int](t, rr)["reconciled"]; got != 1 {
		t.Errorf("reconciled = %d, want 1", got)
	}

	if rr := env.do(t, http.MethodPost, "/api/accounts/nope/reconcile", nil); rr.Code != http.StatusNotFound {
		t.Errorf("reconcile missing status=%d", rr.Code)
	}
}

func receiptRequest(t *testing.T, accountID string, image []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("accountId", accountID); err != nil {
		t.Fatal(err)
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "receipt.png")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(image); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/receipts", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadReceipt(t *testing.T) {
	env := newTestEnv(t, ratelimit.Config{})
	checking := env.account(t, "Checking")
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	rr := httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rr, receiptRequest(t, checking.ID, png))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	tx := decode[core.Transaction](t, rr)
	if tx.ScanStatus != core.ScanPending || tx.Date != "2024-05-15" {
		t.Errorf("unexpected transaction %+v", tx)
	}

	rr = httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rr, receiptRequest(t, checking.ID, nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing image status=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rr, receiptRequest(t, checking.ID, []byte("hello")))
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Errorf("text upload status=%d", rr.Code)
	}
}

func TestRateLimitAppliesToWrites(t *testing.T) {
	env := newTestEnv(t, ratelimit.Config{RequestsPerMinute: 2})
	body := map[string]any{"name": "x"}

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = env.do(t, http.MethodPost, "/api/categories", body)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("third write status=%d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
	if rr := env.do(t, http.MethodGet, "/api/budget", nil); rr.Code != http.StatusOK {
		t.Errorf("reads must not be limited, status=%d", rr.Code)
	}
}

func TestErrorFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&mutation.ValidationError{Code: mutation.CodeInvalid}, http.StatusBadRequest},
		{&mutation.ValidationError{Code: mutation.CodeForbidden}, http.StatusForbidden},
		{&mutation.CommitError{MutationID: "m", Operation: "x", Err: errors.New("down")}, http.StatusAccepted},
		{mutation.ErrRetryInProgress, http.StatusConflict},
		{adapters.ErrImageTooLarge, http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := ErrorFor(tt.err).statusCode; got != tt.want {
			t.Errorf("ErrorFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestParseMonthParam(t *testing.T) {
	now := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	if m, err := ParseMonthParam(map[string][]string{}, now); err != nil || m != "2025-02" {
		t.Errorf("default = %q, %v", m, err)
	}
	if _, err := ParseMonthParam(map[string][]string{"month": {"2025-2"}}, now); err == nil {
		t.Error("expected error for short month")
	}
	if got := sanitizeInput("  a\x01b\tc "); !strings.EqualFold(got, "ab\tc") {
		t.Errorf("sanitizeInput = %q", got)
	}
}
