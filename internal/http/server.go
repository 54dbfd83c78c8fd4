// Package http exposes the ledger over a JSON API. All /api routes except
// registration and login require a Bearer token.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"tally/internal/auth"
	"tally/internal/cache"
	"tally/internal/ledger"
	"tally/internal/middleware/ratelimit"
	"tally/internal/middleware/security"
	"tally/internal/middleware/trace"
	"tally/internal/reports"
	"tally/internal/storage"
)

type Server struct {
	http.Server

	engine  *ledger.Engine
	authSvc *auth.Service
	tokens  *auth.TokenIssuer
	reports *reports.Service
	repo    *storage.Repository

	rateLimiter *ratelimit.Limiter
	reportCache *cache.LRUCache[*reports.Report]

	started      time.Time
	shutdownOnce sync.Once
}

type Config struct {
	Addr               string
	RateLimitPerMinute int
}

func NewServer(cfg Config, engine *ledger.Engine, authSvc *auth.Service, tokens *auth.TokenIssuer, reportsSvc *reports.Service, repo *storage.Repository) *Server {
	mux := http.NewServeMux()

	s := &Server{
		engine:      engine,
		authSvc:     authSvc,
		tokens:      tokens,
		reports:     reportsSvc,
		repo:        repo,
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		reportCache: cache.NewLRUCache[*reports.Report](200, 5*time.Minute),
		started:     time.Now(),
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)

	mux.Handle("GET /api/accounts", s.requireAuth(s.handleListAccounts))
	mux.Handle("POST /api/accounts/add-money", s.requireAuth(s.handleAddMoney))
	mux.Handle("POST /api/accounts/transfer", s.requireAuth(s.handleTransfer))
	mux.Handle("GET /api/balance", s.requireAuth(s.handleBalance))

	mux.Handle("GET /api/expenses", s.requireAuth(s.handleListExpenses))
	mux.Handle("POST /api/expenses", s.requireAuth(s.handleCreateExpense))
	mux.Handle("PUT /api/expenses/{id}", s.requireAuth(s.handleUpdateExpense))
	mux.Handle("DELETE /api/expenses/{id}", s.requireAuth(s.handleDeleteExpense))

	mux.Handle("GET /api/reports", s.requireAuth(s.handleReport))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	tracer := trace.NewMiddleware(security.ExtractClientIP)
	limited := s.rateLimiter.Middleware(security.ExtractClientIP)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           tracer.Middleware(headers.Middleware(limited(mux))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Shutdown()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).String(),
	})
}

// handleReady verifies the database answers before reporting ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := map[string]any{
		"rate_limiter": map[string]any{
			"active_clients": s.rateLimiter.ActiveClients(),
			"status":         "ok",
		},
		"report_cache": map[string]any{
			"entries": s.reportCache.Size(),
			"status":  "ok",
		},
	}

	if err := s.repo.Ping(ctx); err != nil {
		checks["database"] = "failed: " + err.Error()
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}
