package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/ledgergate/internal/app"
	"github.com/jmerrifield20/ledgergate/internal/config"
	"github.com/jmerrifield20/ledgergate/internal/handler"
	"github.com/jmerrifield20/ledgergate/internal/health"
	"github.com/jmerrifield20/ledgergate/internal/service"
)

func main() {
	configFile := flag.String("config", "", "path to a config file (default: ledgergate.yaml in configs/ or .)")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(*configFile, logger); err != nil {
		logger.Fatal("ledgergate exited with error", zap.Error(err))
	}
}

func run(configFile string, logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	v := config.New(configFile)
	found, err := config.Read(v)
	if err != nil {
		return err
	}
	if !found {
		logger.Warn("no config file found, using defaults and environment")
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := cfg.RequireLedger(); err != nil {
		return err
	}

	// ── Ledger client (shared, built once) ──────────────────────────────────
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	cred, err := app.Credential(cfg)
	if err != nil {
		return fmt.Errorf("azure credential: %w", err)
	}
	certs, err := app.CertStore(startCtx, cfg, logger)
	if err != nil {
		return err
	}
	if certs.Expired(time.Now()) {
		logger.Warn("ledger identity certificate has expired; delete it to refetch",
			zap.String("path", certs.Path()))
	}
	client, err := app.LedgerClient(cfg, certs, cred)
	if err != nil {
		return err
	}
	logger.Info("ledger client ready", zap.String("endpoint", client.Endpoint()))

	// ── Journal ──────────────────────────────────────────────────────────────
	jrnl, closeJournal, err := app.OpenJournal(startCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer closeJournal()

	// ── Services ─────────────────────────────────────────────────────────────
	svc := service.NewEntryService(client, logger)
	svc.SetPendingPolicy(service.PendingPolicy{
		Retries:  cfg.Ledger.PendingRetries,
		Interval: cfg.Ledger.PendingInterval,
		Timeout:  cfg.Ledger.PendingTimeout,
	})
	if err := svc.EnableCache(cfg.Ledger.EntryCacheSize); err != nil {
		return fmt.Errorf("entry cache: %w", err)
	}
	svc.SetRecorder(handler.ServiceMetrics{})
	if jrnl != nil {
		svc.SetJournal(jrnl)
	}

	checker := health.New(client, health.Config{
		CheckInterval: cfg.Health.Interval,
		FailThreshold: cfg.Health.FailThreshold,
	}, logger)
	checker.SetMetricsRecord(handler.RecordHealthCheck)

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	done := make(chan struct{})
	defer close(done)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.CORS(cfg.Server.CORSOrigins))
	router.Use(handler.SecurityHeaders())
	router.Use(handler.BodyLimit(cfg.Server.MaxUploadBytes))
	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		router.Use(handler.RateLimiter(rps, rps*2, done))
	}
	router.Use(handler.RequestID())
	router.Use(handler.PrometheusMiddleware())
	router.Use(handler.RequestLogger(logger))

	router.GET("/healthz", handler.Liveness)
	router.GET("/readyz", handler.Readiness(checker))
	router.GET("/metrics", handler.MetricsHandler())

	api := router.Group("/api")
	entryHandler := handler.NewEntryHandler(svc, logger)
	entryHandler.SetIdentitySource(certs)
	entryHandler.Register(api)
	if jrnl != nil {
		handler.NewJournalHandler(jrnl, logger).Register(api)
	}

	// ── Serve ────────────────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	healthQuit := make(chan os.Signal, 1)
	go checker.Start(healthQuit)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("ledgergate HTTP listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	select {
	case <-quit:
	case err := <-serveErr:
		healthQuit <- syscall.SIGTERM
		return fmt.Errorf("http listen: %w", err)
	}
	logger.Info("shutting down ledgergate...")
	healthQuit <- syscall.SIGTERM

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("ledgergate stopped")
	return nil
}
