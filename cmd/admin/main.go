package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aurum-atelier/atelier-admin/internal/app"
	"github.com/aurum-atelier/atelier-admin/internal/audit"
	audithttp "github.com/aurum-atelier/atelier-admin/internal/audit/http"
	"github.com/aurum-atelier/atelier-admin/internal/editor"
	"github.com/aurum-atelier/atelier-admin/internal/observability"
	"github.com/aurum-atelier/atelier-admin/internal/platform/cache"
	"github.com/aurum-atelier/atelier-admin/internal/platform/db"
	"github.com/aurum-atelier/atelier-admin/internal/rbac"
	"github.com/aurum-atelier/atelier-admin/internal/roles"
	"github.com/aurum-atelier/atelier-admin/internal/shared"
	"github.com/aurum-atelier/atelier-admin/internal/users"
	"github.com/aurum-atelier/atelier-admin/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	catalog, err := app.LoadCatalog(cfg, logger)
	if err != nil {
		logger.Error("load permission catalog", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("permission catalog loaded", slog.Int("codes", catalog.Len()))

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics("admin")

	sessionManager := shared.NewSessionManager(redisClient, "atelier_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(dbpool)

	rbacRepo := rbac.NewRepository(dbpool, auditLogger)
	rbacService := rbac.NewService(rbacRepo, rbac.NewCache(redisClient, cfg.HeldCacheTTL), logger)
	rbacMiddleware := rbac.Middleware{
		Service: rbacService,
		Catalog: catalog,
		Logger:  logger,
		Metrics: rbac.NewMetrics(metrics.Registerer()),
		MaxAge:  cfg.HeldCacheTTL,
	}
	permissionsHandler := rbac.NewHandler(logger, catalog, rbacService, csrfManager, rbacMiddleware)

	editorService := editor.NewService(catalog, editor.NewRedisStore(redisClient, cfg.DraftTTL), rbacRepo, rbacService, logger)
	editorHandler := editor.NewHandler(logger, editorService, rbacMiddleware)

	usersService := users.NewService(users.NewRepository(dbpool), rbacRepo)
	usersHandler := users.NewHandler(logger, usersService, rbacMiddleware)

	rolesService := roles.NewService(roles.NewRepository(dbpool), catalog)
	rolesHandler := roles.NewHandler(logger, rolesService, rbacMiddleware)

	auditService := audit.NewService(audit.NewRepository(dbpool))
	auditHandler := audithttp.NewHandler(logger, auditService, rbacMiddleware)

	asynqOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient := jobs.NewClient(asynqOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	if _, err := jobClient.EnqueueCatalogSync(ctx, "startup"); err != nil {
		logger.Warn("enqueue catalog sync", slog.Any("error", err))
	}

	inspector := asynq.NewInspector(asynqOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger, rbacMiddleware)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		Metrics:            metrics,
		PermissionsHandler: permissionsHandler,
		EditorHandler:      editorHandler,
		UsersHandler:       usersHandler,
		RolesHandler:       rolesHandler,
		AuditHandler:       auditHandler,
		JobHandler:         jobHandler,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
