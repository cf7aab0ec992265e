package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/memo-registry-api/api/swagger"
	"github.com/noah-isme/memo-registry-api/internal/handler"
	internalmiddleware "github.com/noah-isme/memo-registry-api/internal/middleware"
	"github.com/noah-isme/memo-registry-api/internal/repository"
	"github.com/noah-isme/memo-registry-api/internal/service"
	"github.com/noah-isme/memo-registry-api/pkg/cache"
	"github.com/noah-isme/memo-registry-api/pkg/config"
	"github.com/noah-isme/memo-registry-api/pkg/database"
	"github.com/noah-isme/memo-registry-api/pkg/events"
	"github.com/noah-isme/memo-registry-api/pkg/export"
	"github.com/noah-isme/memo-registry-api/pkg/jobs"
	"github.com/noah-isme/memo-registry-api/pkg/logger"
	"github.com/noah-isme/memo-registry-api/pkg/mail"
	corsmiddleware "github.com/noah-isme/memo-registry-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/memo-registry-api/pkg/middleware/requestid"
	"github.com/noah-isme/memo-registry-api/pkg/sheets"
	"github.com/noah-isme/memo-registry-api/pkg/storage"
)

// @title Memo Registry API
// @version 1.0.0
// @description Topic registration and final deposit for supervised memos
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @securityDefinitions.apikey AdminKey
// @in header
// @name X-Admin-Key

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	loc := cfg.Registration.Location()
	metrics := service.NewMetricsService()
	validate := validator.New()

	store, closeStore, err := openStore(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer closeStore()

	cacheRepo, closeCache := openCache(ctx, cfg, logr)
	defer closeCache()
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	gateway, err := service.NewSheetGateway(store, cacheSvc, metrics, service.SheetGatewayConfig{
		Tables: service.LedgerTables{
			Students:    cfg.Store.StudentsTable,
			Topics:      cfg.Store.TopicsTable,
			Credentials: cfg.Store.CredentialTable,
		},
		ReadRange:    cfg.Store.ReadRange,
		CallTimeout:  cfg.Store.CallTimeout,
		ReadRetries:  cfg.Store.ReadRetries,
		MirrorLedger: cfg.Registration.MirrorLedger,
		Location:     loc,
	}, logr)
	if err != nil {
		return fmt.Errorf("configure ledger gateway: %w", err)
	}

	files, err := storage.NewLocalStorage(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)
	pdf := export.NewPDFExporter()

	receipts := service.NewReceiptService(pdf, files, signer, service.ReceiptServiceConfig{
		BaseURL:  cfg.APIPrefix + "/receipts",
		Footer:   cfg.Mail.Footer,
		Location: loc,
	}, logr)

	notifier := service.NewNotificationService(gateway, nil, nil, metrics, service.NotificationConfig{
		SupportContact: cfg.Mail.SupportContact,
		Footer:         cfg.Mail.Footer,
		Location:       loc,
	}, logr)
	if sender := mail.NewSMTPSender(cfg.Mail); sender != nil {
		notifier.UseMailer(sender)
	} else {
		logr.Info("smtp not configured, supervisor mail disabled")
	}
	publisher, err := events.NewPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logr)
	if err != nil {
		logr.Warn("event publishing disabled", zap.Error(err))
	}
	if publisher != nil {
		defer publisher.Close() //nolint:errcheck
		notifier.UsePublisher(publisher)
	}

	queue := jobs.NewQueue("notifications", notifier.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Notify.Workers,
		MaxRetries: cfg.Notify.Retries,
		RetryDelay: 2 * time.Second,
		Logger:     logr,
	})
	// detached from ctx so queued mail survives the signal until Drain
	queue.Start(context.Background())
	notifier.UseQueue(queue)
	metrics.TrackPendingNotifications(func() int64 { return int64(queue.Pending()) })

	identity := service.NewIdentityService(gateway, validate, logr)
	resolver := service.NewClaimResolver(gateway, cfg.Registration.ClaimStrategy, logr)
	registrations := service.NewRegistrationService(gateway, identity, resolver, notifier, receipts, metrics, logr)
	sessions := service.NewSessionService(identity, service.SessionConfig{Secret: cfg.Session.Secret, TTL: cfg.Session.TTL}, logr)
	deposits := service.NewDepositService(gateway, files, signer, notifier, receipts, metrics, validate, logr, service.DepositServiceConfig{
		MaxFileSize: cfg.Storage.MaxDepositFileSize,
		FileBaseURL: cfg.APIPrefix + "/files",
	})
	topics := service.NewTopicService(gateway, export.NewCSVExporter(export.WithBOM()), pdf, loc, logr)
	reconciliation := service.NewReconciliationService(gateway, logr)
	reconciliation.UseArtifacts(files)

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, gateway)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.Routes{
		Registrations: handler.NewRegistrationHandler(registrations, sessions),
		Topics:        handler.NewTopicHandler(topics),
		Deposits:      handler.NewDepositHandler(deposits),
		Files:         handler.NewFileHandler(signer, files),
		Admin:         handler.NewAdminHandler(reconciliation, topics, gateway, metrics),
		Session:       internalmiddleware.ClaimSession(sessions),
		AdminKey:      internalmiddleware.AdminKey(cfg.Admin.APIKey),
	}.Register(r.Group(cfg.APIPrefix))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Env),
			zap.String("store", cfg.Store.Driver),
			zap.String("claim_strategy", registrations.Strategy()),
			zap.Bool("mirror_ledger", gateway.MirrorEnabled()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := queue.Drain(shutdownCtx); err != nil {
		logr.Warn("notification queue not drained", zap.Int("pending", queue.Pending()), zap.Error(err))
	}
	queue.Stop()
	return nil
}

// openStore returns the tabular store the ledgers live in. The memory driver is
// for local runs and demos and must be seeded.
func openStore(ctx context.Context, cfg *config.Config, logr *zap.Logger) (sheets.Store, func(), error) {
	var seed *sheets.Seed
	if cfg.Store.SeedFile != "" {
		s, err := sheets.LoadSeed(cfg.Store.SeedFile)
		if err != nil {
			return nil, nil, err
		}
		seed = s
	}

	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect ledger database: %w", err)
		}
		repo := repository.NewSheetRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("prepare ledger schema: %w", err)
		}
		if err := seed.Apply(ctx, repo); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("seed ledger database: %w", err)
		}
		logr.Info("ledger store ready", zap.String("driver", config.StoreDriverPostgres), zap.Bool("seeded", seed != nil))
		return repo, func() { _ = db.Close() }, nil
	case config.StoreDriverMemory:
		if seed == nil {
			return nil, nil, errors.New("memory store requires STORE_SEED_FILE")
		}
		mem := sheets.NewMemoryStore()
		if err := seed.Apply(ctx, mem); err != nil {
			return nil, nil, err
		}
		logr.Info("ledger store ready", zap.String("driver", config.StoreDriverMemory), zap.Int("tables", len(seed.Tables)))
		return mem, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// openCache prefers the shared Redis cache and falls back to process memory so
// a Redis outage never blocks startup.
func openCache(ctx context.Context, cfg *config.Config, logr *zap.Logger) (service.CacheRepository, func()) {
	if !cfg.Cache.UseRedis {
		return repository.NewMemoryCacheRepository(), func() {}
	}
	client, err := cache.NewRedis(ctx, cfg.Redis, logr)
	if err != nil {
		logr.Warn("redis unavailable, using in-process cache", zap.Error(err))
		return repository.NewMemoryCacheRepository(), func() {}
	}
	repo := repository.NewCacheRepository(client, "memo", logr)
	return repo, func() { _ = repo.Close() }
}
