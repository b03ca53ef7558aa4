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

	"servicecenter-platform/internal/agentsession"
	"servicecenter-platform/internal/audit"
	"servicecenter-platform/internal/auth"
	"servicecenter-platform/internal/cases"
	"servicecenter-platform/internal/config"
	"servicecenter-platform/internal/httpapi"
	"servicecenter-platform/internal/locking"
	"servicecenter-platform/internal/scheduler"
	"servicecenter-platform/internal/store/postgres"
	"servicecenter-platform/internal/telephony"
	"servicecenter-platform/pkg/logger"
	"servicecenter-platform/pkg/utils"

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

	locks, err := locking.NewRedis(rdb, locking.RedisOptions{TTL: cfg.Lock.TTL})
	if err != nil {
		log.Error("locking init failed", "err", err)
		os.Exit(1)
	}

	dispatcher, err := telephony.NewRedisDispatcher(rdb, "")
	if err != nil {
		log.Error("dispatcher init failed", "err", err)
		os.Exit(1)
	}

	store := postgres.NewStore(db)
	sessionSvc := agentsession.NewService(store.AgentSessions, store.Cases, locks)
	caseSvc := cases.NewService(store.Cases, sessionSvc, store.AgentSessions, store.Events, locks)
	sources := &scheduler.RepoSources{Cases: store.Cases, Sessions: store.AgentSessions, Events: store.Events}
	sweeper := scheduler.New(sources, sources, store.Cases, caseSvc, sessionSvc)

	h := httpapi.Handlers{
		Auth:      authManager,
		Sessions:  sessionSvc,
		Cases:     caseSvc,
		Scheduler: sweeper,
		Events:    store.Events,
		Telephony: telephony.NewActions(store.Events, dispatcher),
		Audit:     audit.NewService(store.Audit),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, auth.RequireAccessToken(authManager), h)

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
}
