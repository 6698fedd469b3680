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

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/agents"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/audit"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/auth"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/campaign"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/config"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/contacts"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/credit"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/dispatch"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/feeder"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/httpapi"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/placement"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/pricing"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/queue"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/reconcile"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/slots"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/pkg/logger"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
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

	// Redis is a fast path, not a dependency: without it the slot gate
	// grants everything and the durable ledger alone decides.
	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Warn("redis unavailable, continuing without fast gate", "err", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}

	// Repositories and services
	queueRepo := queue.NewRepository(db)
	campaignRepo := campaign.NewRepository(db)
	agentStore := agents.NewStore(db)
	contactStore := contacts.NewStore(db)
	creditSvc := credit.NewService(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	limits := slots.Limits{
		DefaultUserLimit: cfg.Scheduler.DefaultUserConcurrencyLimit,
		SystemLimit:      cfg.Scheduler.SystemConcurrencyLimit,
	}
	gate := slots.NewGate(rdb, 0)
	estimator := pricing.NewEstimator(1, cfg.Scheduler.EstimatedCallMinutes)
	provider := placement.NewBolnaProvider(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.PlacementTimeout)

	dispatchStore := dispatch.NewSQLStore(db, limits)
	dispatcher := dispatch.New(dispatchStore, queueRepo, agentStore, provider, gate,
		estimator, auditSvc, cfg.Scheduler, logger.Component(log, "dispatcher"))
	notifier := dispatch.NewNotifier(rdb, dispatcher.Wake, log)

	reconciler := reconcile.New(reconcile.NewSQLStore(db), gate, estimator,
		notifier.Notify, logger.Component(log, "reconciler"))
	watchdog := dispatch.NewWatchdog(dispatchStore, queueRepo, gate, auditSvc,
		cfg.Scheduler, dispatcher.Wake, logger.Component(log, "watchdog"))
	feed := feeder.New(campaignRepo, contactStore, queueRepo,
		cfg.Scheduler.FeederInterval, logger.Component(log, "feeder"))
	feed.Audit = auditSvc

	// Background loops
	go dispatcher.Run(rootCtx)
	go dispatcher.SubscribeWakes(rootCtx, rdb)
	go watchdog.Run(rootCtx)
	go feed.Run(rootCtx)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	handlers := httpapi.Handlers{
		Auth:               authManager,
		Queue:              queueRepo,
		Campaigns:          campaignRepo,
		Agents:             agentStore,
		Credit:             creditSvc,
		Audit:              auditSvc,
		DB:                 db,
		Redis:              rdb,
		Notify:             notifier.Notify,
		ClearCooldown:      dispatcher.ClearCooldown,
		DirectCallPriority: cfg.Scheduler.DirectCallPriority,
	}
	webhook := reconcile.WebhookHandler{
		Reconciler: reconciler,
		Secret:     cfg.Provider.WebhookSecret,
	}
	registerRoutes(r, auth.RequireAccessToken(authManager), handlers, webhook)

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

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
