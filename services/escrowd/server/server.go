package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"gigescrow/native/access"
	"gigescrow/native/bank"
	"gigescrow/native/orders"
	"gigescrow/services/escrowd/journal"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	Auth          AuthConfig
	RateLimit     RateLimit
}

// Deps are the components the API exposes.
type Deps struct {
	Controller *orders.Controller
	Ledger     *bank.Ledger
	Roles      *access.Registry
	Journal    *journal.Journal
	Logger     *slog.Logger
}

// Server hosts the escrow HTTP API.
type Server struct {
	cfg        Config
	controller *orders.Controller
	engine     *orders.Engine
	ledger     *bank.Ledger
	roles      *access.Registry
	journal    *journal.Journal
	auth       *Authenticator
	limiter    *RateLimiter
	logger     *slog.Logger
	router     http.Handler
	// inflight holds caller+key slots of idempotent requests being served.
	inflight sync.Map
}

// New constructs a configured HTTP server.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auth, err := NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:        cfg,
		controller: deps.Controller,
		engine:     deps.Controller.Engine(),
		ledger:     deps.Ledger,
		roles:      deps.Roles,
		journal:    deps.Journal,
		auth:       auth,
		limiter:    NewRateLimiter(cfg.RateLimit),
		logger:     logger.With("component", "http"),
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.auth.Middleware)
		api.Use(s.limiter.Middleware)
		api.Use(s.idempotent)

		api.Get("/status", s.handleStatus)
		api.Get("/tokens", s.handleListTokens)
		api.Get("/fee", s.handleGetFee)
		api.Get("/custody/{currency}", s.handleCustody)
		api.Get("/parties/{address}/orders", s.handlePartyOrders)

		api.Post("/orders", s.handleCreateOrder)
		api.Get("/orders/{id}", s.handleGetOrder)
		api.Post("/orders/{id}/start", s.handleStartOrder)
		api.Post("/orders/{id}/approve", s.handleApproveOrder)
		api.Post("/orders/{id}/cancel", s.handleCancelOrder)
		api.Post("/orders/{id}/judge", s.handleJudgeOrder)
		api.Put("/orders/{id}/contractor", s.handleUpdateContractor)

		api.Route("/admin", func(admin chi.Router) {
			admin.Post("/tokens", s.handleAddToken)
			admin.Delete("/tokens/{currency}", s.handleRemoveToken)
			admin.Put("/fee/percent", s.handleSetFeePercent)
			admin.Put("/fee/receiver", s.handleSetFeeReceiver)
			admin.Post("/withdraw", s.handleEmergencyWithdraw)
			admin.Post("/pause", s.handlePause)
			admin.Post("/resume", s.handleResume)
			admin.Get("/roles/{role}", s.handleListRole)
			admin.Post("/roles/{role}", s.handleGrantRole)
			admin.Delete("/roles/{role}/{address}", s.handleRevokeRole)
		})

		api.Route("/ledger", func(ledger chi.Router) {
			ledger.Get("/{currency}/{account}", s.handleBalance)
			ledger.Post("/credit", s.handleCredit)
			ledger.Post("/approve", s.handleApprove)
			ledger.Post("/blocked", s.handleSetBlocked)
		})

		api.Get("/events", s.handleListEvents)
		api.Get("/events/stream", s.handleEventStream)
	})

	return otelhttp.NewHandler(r, "escrowd")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "address", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "running"
	if !s.controller.IsRunning() {
		status = "suspended"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "system": status})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	roles := make([]string, 0, 2)
	for _, role := range []access.Role{access.RoleAdmin, access.RoleAdjudicator} {
		if s.controller.HasRole(caller, role) {
			roles = append(roles, string(role))
		}
	}
	writeJSON(w, http.StatusOK, statusView{
		Running:     s.controller.IsRunning(),
		LastOrderID: s.engine.LastOrderID(),
		Caller:      caller.Hex(),
		Roles:       roles,
	})
}

// requireAdmin gates operator helpers that live outside the order controller.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	caller, _ := Caller(r.Context())
	if s.controller.HasRole(caller, access.RoleAdmin) {
		return true
	}
	writeError(w, http.StatusForbidden, "unauthorized", "admin role required")
	return false
}

func roleParam(r *http.Request) (access.Role, error) {
	role, err := access.ParseRole(strings.TrimSpace(chi.URLParam(r, "role")))
	if err != nil {
		return "", fmt.Errorf("%w: %v", orders.ErrInvalidArgument, err)
	}
	return role, nil
}
