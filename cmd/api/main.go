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

	"voicecall-platform/internal/audit"
	"voicecall-platform/internal/auth"
	"voicecall-platform/internal/billing"
	"voicecall-platform/internal/calllock"
	"voicecall-platform/internal/config"
	"voicecall-platform/internal/gateway"
	"voicecall-platform/internal/httpapi"
	"voicecall-platform/internal/mirror"
	"voicecall-platform/internal/notify"
	"voicecall-platform/internal/presence"
	"voicecall-platform/internal/push"
	"voicecall-platform/internal/rates"
	"voicecall-platform/internal/reconcile"
	"voicecall-platform/internal/reporting"
	"voicecall-platform/internal/session"
	"voicecall-platform/internal/status"
	"voicecall-platform/internal/wallet"
	"voicecall-platform/pkg/logger"
	"voicecall-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// rateSource adapts the rates service to the coordinator's contract.
type rateSource struct{ svc *rates.Service }

func (r rateSource) RateFor(ctx context.Context, t session.CallType, userID string) (int64, error) {
	return r.svc.RateFor(ctx, rates.CallType(t), userID)
}

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

	// Core state
	registry := presence.NewRegistry()
	statuses := status.NewStore()
	prefs := status.NewPostgresPrefRepo(db)
	engine := billing.NewEngine()
	sessions := session.NewStore()

	// Durable side
	walletSvc := wallet.NewService(db)
	mirrorWriter := mirror.NewWriter(mirror.NewPostgresRepo(db))
	mirrorWriter.Start()
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	tokenRepo := push.NewPostgresTokenRepo(db)

	var pusher session.Pusher
	var notifyPusher notify.Pusher
	if cfg.Push.Endpoint != "" {
		provider := push.NewHTTPProvider(cfg.Push.Endpoint, cfg.Push.APIKey, tokenRepo, cfg.Push.Timeout)
		pusher = provider
		notifyPusher = provider
	}

	dispatcher := &notify.Dispatcher{Registry: registry, Pusher: notifyPusher}
	ratesSvc := rates.NewService(nil, cfg.Call.AudioRateMilli, cfg.Call.VideoRateMilli)

	machine := session.NewMachine(session.Deps{
		Store:    sessions,
		Statuses: statuses,
		Prefs:    prefs,
		Registry: registry,
		Lock:     calllock.New(rdb, cfg.Call.LockTTL),
		Billing:  engine,
		Ledger:   wallet.CallLedger{Svc: walletSvc},
		Rates:    rateSource{svc: ratesSvc},
		Notifier: dispatcher,
		Pusher:   pusher,
		Auditor:  auditSvc,
		Mirror:   mirrorWriter,
		Config:   cfg.Call,
	})

	reconciler := reconcile.New(registry, statuses, engine, machine, cfg.Call)
	go reconciler.Run(rootCtx)

	resolver := &status.Resolver{Statuses: statuses, Prefs: prefs, Presence: registry}
	handlers := httpapi.Handlers{
		Auth:       authManager,
		Wallet:     walletSvc,
		Resolver:   resolver,
		Prefs:      prefs,
		Machine:    machine,
		Billing:    engine,
		Reports:    reporting.NewService(reporting.NewPostgresRepo(db)),
		PushTokens: tokenRepo,
		Audit:      auditSvc,
	}
	gw := &gateway.Gateway{Machine: machine, Registry: registry}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers, gw, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
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

	// Drain in-flight settlements, then flush the mirror queue.
	machine.Wait()
	mirrorWriter.Stop()

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
