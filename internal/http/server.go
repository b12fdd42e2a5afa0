package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"zerosum/internal/adapters"
	"zerosum/internal/core"
	"zerosum/internal/ledger"
	applog "zerosum/internal/log"
	"zerosum/internal/middleware/ratelimit"
	"zerosum/internal/middleware/security"
	"zerosum/internal/middleware/trace"
	"zerosum/internal/mutation"
)

// ReceiptSubmitter takes an uploaded receipt image.
type ReceiptSubmitter interface {
	Submit(ctx context.Context, r adapters.Receipt) (core.Transaction, error)
}

// Deps are the services the API serves.
type Deps struct {
	Framework *mutation.Framework
	Ledger    *ledger.Service
	Receipts  ReceiptSubmitter
	// Ready reports whether the process can serve writes.
	Ready  func(ctx context.Context) error
	Logger *applog.Logger
	// RateLimit configures the write limiter. Zero values take defaults.
	RateLimit ratelimit.Config
}

type Server struct {
	http.Server
	fw       *mutation.Framework
	ledger   *ledger.Service
	receipts ReceiptSubmitter
	ready    func(ctx context.Context) error
	log      *applog.StructuredLogger
	limiter  *ratelimit.Limiter
	tracer   *trace.Middleware
	now      func() time.Time

	shutdownOnce sync.Once
}

func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	clientIP := security.NewClientIP()

	s := &Server{
		fw:       deps.Framework,
		ledger:   deps.Ledger,
		receipts: deps.Receipts,
		ready:    deps.Ready,
		log:      applog.NewStructuredLogger(logger),
		limiter:  ratelimit.NewLimiter(deps.RateLimit),
		tracer:   trace.NewMiddleware(logger, clientIP.Extract),
		now:      time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/budget", s.handleBudget)
	mux.HandleFunc("PUT /api/allocations", s.handleSetAllocation)

	mux.HandleFunc("POST /api/transactions", s.handleCreateTransaction)
	mux.HandleFunc("PATCH /api/transactions/{id}", s.handleUpdateTransaction)

	mux.HandleFunc("POST /api/categories", s.handleCreateCategory)
	mux.HandleFunc("PATCH /api/categories/{id}", s.handleUpdateCategory)
	mux.HandleFunc("DELETE /api/categories/{id}", s.handleDeleteCategory)

	mux.HandleFunc("POST /api/accounts", s.handleCreateAccount)
	mux.HandleFunc("POST /api/accounts/{id}/reconcile", s.handleReconcileAccount)

	mux.HandleFunc("POST /api/receipts", s.handleUploadReceipt)

	mux.HandleFunc("GET /api/mutations", s.handleListMutations)
	mux.HandleFunc("POST /api/mutations/{id}/retry", s.handleRetryMutation)
	mux.HandleFunc("DELETE /api/mutations/{id}", s.handleAbandonMutation)

	mux.HandleFunc("GET /api/notifications", s.handleNotifications)
	mux.HandleFunc("DELETE /api/notifications/{id}", s.handleDismissNotification)

	limited := s.limiter.Middleware(clientIP.Extract, func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, try again later").Write(w)
	})

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.tracer.Middleware(security.Headers(limited(mux))),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown stops the server and cancels any scheduled ledger prefetch.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if s.ledger != nil {
			s.ledger.Close()
		}
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// Limiter exposes the write limiter so its table can join a cache sweep.
func (s *Server) Limiter() *ratelimit.Limiter {
	return s.limiter
}

// fail writes the response for err and logs what the client can't act on.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	var ce *mutation.CommitError
	var ve *mutation.ValidationError
	var br *badRequest
	switch {
	case errors.As(err, &ce):
		s.log.LogMutationQueued(r.Context(), ce.Operation, ce.MutationID, ce.Err)
	case errors.As(err, &ve), errors.As(err, &br):
		// Client errors are logged with the request by the tracer.
	default:
		resp := ErrorFor(err)
		if resp.statusCode >= http.StatusInternalServerError {
			fields := applog.NewFields().WithRequestID(trace.GetRequestID(r.Context()))
			s.log.LogError(r.Context(), "Request failed", err, applog.ComponentHTTP, operation, fields)
		}
		resp.Write(w)
		return
	}
	ErrorFor(err).Write(w)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			ErrorResponse(http.StatusServiceUnavailable, "not_ready", err.Error()).Write(w)
			return
		}
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}
