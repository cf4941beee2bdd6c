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

	"telecom-control-plane/internal/agent"
	"telecom-control-plane/internal/auth"
	"telecom-control-plane/internal/config"
	"telecom-control-plane/internal/httpapi"
	"telecom-control-plane/internal/orchestrator"
	"telecom-control-plane/internal/policy"
	"telecom-control-plane/internal/reconcile"
	"telecom-control-plane/internal/reporting"
	"telecom-control-plane/internal/store"
	"telecom-control-plane/internal/telephony"
	"telecom-control-plane/pkg/logger"
	"telecom-control-plane/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	st := store.NewPostgres(db)

	reconciler := reconcile.New(st, log)
	orch := orchestrator.New(st, orchestrator.TwilioResolver, cfg.App.PublicBaseURL, log)
	resolver := orchestrator.NewResolver(st, orch, log)

	worker := orchestrator.NewCampaignWorker(st, orch, rdb,
		cfg.Worker.CampaignInterval, cfg.Worker.CampaignDialCap, log)
	go worker.Run(rootCtx)

	h := httpapi.Handlers{
		Store:     st,
		Policy:    policy.New(st, log),
		Orch:      orch,
		Resolver:  resolver,
		Reporting: reporting.NewService(st),
		Presence:  agent.NewPresence(rdb),
		Auth:      authManager,
		Log:       log,
	}
	wh := &telephony.WebhookHandlers{
		Reconciler:    reconciler,
		Workspaces:    st,
		PublicBaseURL: cfg.App.PublicBaseURL,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, wh, st, authManager)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Let approved actions that are already executing reach the provider.
	resolver.Wait()

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
