package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"payrun/internal/domain/audit"
	"payrun/internal/domain/auth"
	"payrun/internal/domain/notifications"
	"payrun/internal/domain/payroll"
	"payrun/internal/platform/config"
	cryptoutil "payrun/internal/platform/crypto"
	"payrun/internal/platform/db"
	"payrun/internal/platform/email"
	"payrun/internal/platform/metrics"
	"payrun/internal/requestctx"
	"payrun/internal/transport/http/api"
	audithandler "payrun/internal/transport/http/handlers/audit"
	authhandler "payrun/internal/transport/http/handlers/auth"
	notificationshandler "payrun/internal/transport/http/handlers/notifications"
	payrollhandler "payrun/internal/transport/http/handlers/payroll"
	"payrun/internal/transport/http/middleware"
)

// App bundles the wired service for ListenAndServe and for tests that
// drive the router directly.
type App struct {
	Config config.Config
	DB     *pgxpool.Pool
	Router http.Handler
}

func (a *App) Close() {
	a.DB.Close()
}

func Run() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config invalid: %v", err)
	}

	app, err := New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer app.Close()

	log.Printf("payrun server listening on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, app.Router); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db connect failed: %w", err)
	}

	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, cfg.MigrationsDir); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
	}
	if cfg.RunSeed {
		if err := db.Seed(ctx, pool, cfg); err != nil {
			pool.Close()
			return nil, fmt.Errorf("seed failed: %w", err)
		}
	}

	cryptoSvc, err := cryptoutil.New(cfg.DataEncryptionKey)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("encryption key invalid: %w", err)
	}

	authSvc := auth.NewService(auth.NewStore(pool))
	auditSvc := audit.New(pool)
	notifySvc := notifications.New(notifications.NewStore(pool), email.New(cfg))
	notifySvc.DefaultFrom = cfg.EmailFrom

	runStore := payroll.NewStore(pool, cryptoSvc)
	calculator := payroll.NewDBCalculator(runStore)
	distributor := payroll.NewPaymentDistributor(runStore, cfg.PayslipDir)
	orch := payroll.NewOrchestrator(
		runStore,
		authSvc,
		calculator,
		distributor,
		auditAdapter{svc: auditSvc},
		notifierAdapter{svc: notifySvc},
	)

	collector := metrics.New()
	idemStore := middleware.NewIdempotencyStore(pool)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	if cfg.MetricsEnabled {
		router.Use(middleware.Metrics(collector))
	}
	router.Use(middleware.Recoverer)
	router.Use(middleware.SecureHeaders(cfg.Environment == "production"))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.Auth(cfg.JWTSecret))
	router.Use(middleware.SensitiveMutationRateLimit(cfg.RateLimitPerMinute, time.Minute))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	router.With(middleware.RequirePermission(auth.PermMetricsRead, authSvc)).Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, collector.Snapshot(), middleware.GetRequestID(r.Context()))
	})

	router.Route("/api/v1", func(r chi.Router) {
		authHandler := authhandler.NewHandler(authSvc, cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, notifySvc)
		r.Post("/auth/login", authHandler.HandleLogin)
		r.Post("/auth/logout", authHandler.HandleLogout)
		r.Post("/auth/refresh", authHandler.HandleRefresh)
		r.Post("/auth/request-reset", authHandler.HandleRequestReset)
		r.Post("/auth/reset", authHandler.HandleResetPassword)

		payrollHandler := payrollhandler.NewHandler(runStore, orch, auditSvc, authSvc, idemStore)
		payrollHandler.RegisterRoutes(r)

		auditHandler := audithandler.NewHandler(auditSvc, authSvc)
		auditHandler.RegisterRoutes(r)

		notificationsHandler := notificationshandler.NewHandler(notifySvc)
		notificationsHandler.RegisterRoutes(r)
	})

	return &App{Config: cfg, DB: pool, Router: router}, nil
}

// auditAdapter bridges orchestrator audit entries onto the audit_events table.
// The client IP is not available at this layer and is left empty.
type auditAdapter struct {
	svc *audit.Service
}

func (a auditAdapter) Record(ctx context.Context, entry payroll.AuditEntry) error {
	return a.svc.Record(ctx, entry.ActorID, entry.Action, entry.RunID, entry.EmployeeID,
		entry.Justification, requestctx.GetRequestID(ctx), "", entry.Details)
}

type notifierAdapter struct {
	svc *notifications.Service
}

func (n notifierAdapter) RunEvent(ctx context.Context, runID, event, actorID string) {
	n.svc.NotifyRunEvent(ctx, runID, event, actorID)
}
