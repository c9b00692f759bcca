package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/gorilla/websocket"

	"budgetwatch/internal/alerts"
	"budgetwatch/internal/core"
	applog "budgetwatch/internal/log"
	"budgetwatch/internal/middleware/ratelimit"
	"budgetwatch/internal/middleware/security"
	"budgetwatch/internal/middleware/trace"
)

// ExpenseService is the ledger side of the Transaction Coordinator.
type ExpenseService interface {
	CreateExpense(ctx context.Context, owner string, in core.ExpenseInput) (core.Expense, []core.Alert, error)
	DeleteExpense(ctx context.Context, owner, id string) error
	ListExpenses(ctx context.Context, owner string, month core.MonthKey, limit int) ([]core.Expense, error)
}

// BudgetService manages budgets and reports them against cached spend.
type BudgetService interface {
	UpsertBudget(ctx context.Context, owner, category string, limit core.Money) (core.Budget, error)
	DeleteBudget(ctx context.Context, owner, category string) error
	ListBudgets(ctx context.Context, owner string, month core.MonthKey) ([]core.BudgetStatus, error)
}

// ReportService generates and reads monthly report snapshots.
type ReportService interface {
	Generate(ctx context.Context, owner string, month core.MonthKey) (*core.Report, error)
	ListReports(ctx context.Context, owner string, limit int) ([]core.Report, error)
	GetReport(ctx context.Context, owner, id string) (core.Report, error)
}

// Subscribers attaches live alert channels to owners.
type Subscribers interface {
	Register(owner string, ch alerts.Channel) (unregister func())
}

// Options wires the server to its collaborators.
type Options struct {
	Addr        string
	Expenses    ExpenseService
	Budgets     BudgetService
	Reports     ReportService
	Subscribers Subscribers
	// Ready backs /readyz; nil means always ready.
	Ready              func(ctx context.Context) error
	RateLimitPerMinute int
}

type Server struct {
	http.Server
	expenses    ExpenseService
	budgets     BudgetService
	reports     ReportService
	subscribers Subscribers
	ready       func(ctx context.Context) error

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	reporter *sentryhttp.Handler
	upgrader websocket.Upgrader

	// closing is closed on Shutdown so hijacked websocket connections end too.
	closing      chan struct{}
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(opts Options) *Server {
	mux := http.NewServeMux()
	detector := security.NewDetector()

	s := &Server{
		Server: http.Server{
			Addr:              opts.Addr,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		expenses:    opts.Expenses,
		budgets:     opts.Budgets,
		reports:     opts.Reports,
		subscribers: opts.Subscribers,
		ready:       opts.Ready,
		limiter:     ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector:    detector,
		tracer:      trace.NewMiddleware(detector.ExtractClientIP),
		reporter:    sentryhttp.New(sentryhttp.Options{Repanic: true}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		closing: make(chan struct{}),
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.Handle("GET /api/expenses", s.api(s.handleListExpenses))
	mux.Handle("POST /api/expenses", s.api(s.handleCreateExpense))
	mux.Handle("DELETE /api/expenses/{id}", s.api(s.handleDeleteExpense))

	mux.Handle("GET /api/budgets", s.api(s.handleListBudgets))
	mux.Handle("POST /api/budgets", s.api(s.handleUpsertBudget))
	mux.Handle("DELETE /api/budgets/{category}", s.api(s.handleDeleteBudget))

	mux.Handle("POST /api/reports/generate", s.api(s.handleGenerateReport))
	mux.Handle("GET /api/reports", s.api(s.handleListReports))
	mux.Handle("GET /api/reports/{id}", s.api(s.handleGetReport))
	mux.Handle("GET /api/reports/{id}/csv", s.api(s.handleExportReport))

	// No Sentry or rate limiting on the socket: it is long lived and hijacked.
	mux.Handle("GET /api/alerts/ws", requireOwner(http.HandlerFunc(s.handleAlertsSocket)))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	s.Handler = s.tracer.Middleware(headers.Middleware(detector.Middleware(mux)))
	return s
}

// api wraps an owner-scoped JSON handler with auth, rate limiting, panic
// recovery and error reporting.
func (s *Server) api(h http.HandlerFunc) http.Handler {
	limited := s.limiter.Middleware(s.rateLimitKey, func(w http.ResponseWriter, r *http.Request) {
		slog.WarnContext(r.Context(), "Rate limit exceeded",
			applog.FieldComponent, applog.ComponentRateLimit,
			applog.FieldPath, r.URL.Path)
		TooManyRequestsError().Write(w)
	})
	return recoverPanics(requireOwner(limited(s.reporter.Handle(h))))
}

// rateLimitKey buckets by owner, so users behind one proxy do not share a quota.
func (s *Server) rateLimitKey(r *http.Request) string {
	if owner := ownerFrom(r.Context()); owner != "" {
		return "owner:" + owner
	}
	return "ip:" + s.detector.ExtractClientIP(r)
}

// recoverPanics turns a handler panic into a 500 after Sentry has seen it.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.ErrorContext(r.Context(), "Handler panic", "panic", rec, applog.FieldPath, r.URL.Path)
				InternalServerError("internal error").Write(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops background routines, closes live sockets and drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		close(s.closing)
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// TraceMetrics exposes request counters for diagnostics.
func (s *Server) TraceMetrics() trace.Metrics {
	return s.tracer.GetMetrics()
}
