package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"submission_service/internal/audit"
	"submission_service/internal/cache"
	"submission_service/internal/config"
	"submission_service/internal/domain"
	"submission_service/internal/envelope"
	"submission_service/internal/handler"
	"submission_service/internal/mail"
	"submission_service/internal/middleware"
	"submission_service/internal/notify"
	"submission_service/internal/registry"
	"submission_service/internal/repository"
	"submission_service/internal/scan"
	"submission_service/internal/service"
	"submission_service/internal/storage"
	"submission_service/internal/worker"
	"submission_service/pkg/db"
	"submission_service/pkg/kafka"
	"submission_service/pkg/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New()
	if err != nil {
		panic(fmt.Sprintf("cannot create config: %v", err))
	}

	logger, err := logging.NewForEnv(cfg.Environment)
	if err != nil {
		panic(fmt.Sprintf("cannot create logger: %v", err))
	}
	defer func() { _ = logger.Sync() }()

	pool, err := db.New(ctx, db.Config{
		URL:         cfg.PostgresURL,
		MaxConns:    cfg.PostgresMaxConn,
		MinConns:    cfg.PostgresMinConn,
		AutoMigrate: cfg.PostgresAutoMigrate,
	})
	if err != nil {
		logger.Fatal(ctx, "cannot connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	repo := newRepository(ctx, cfg, pool, logger)

	store, err := storage.NewLocal(cfg.StorageRoot)
	if err != nil {
		logger.Fatal(ctx, "cannot open storage root", zap.Error(err))
	}

	sealer := newSealer(ctx, cfg, logger)

	var scanner service.Scanner = scan.NewNoopScanner()
	if cfg.ClamAVHost != "" {
		scanner = scan.NewClamdScanner(scan.ClamdConfig{
			Host:    cfg.ClamAVHost,
			Port:    cfg.ClamAVPort,
			Timeout: cfg.ScanTimeout,
		}, logger)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.AuditDSN), 0o750); err != nil {
		logger.Fatal(ctx, "cannot create audit directory", zap.Error(err))
	}
	auditStore, err := audit.Open(cfg.AuditDSN)
	if err != nil {
		logger.Fatal(ctx, "cannot open audit log", zap.Error(err))
	}
	defer func() { _ = auditStore.Close() }()

	var registryCache cache.Cache = cache.NewMemory()
	if cfg.RedisURL != "" {
		redisConn := redis.NewClient(&redis.Options{
			Addr: cfg.RedisURL,
		})
		defer func() { _ = redisConn.Close() }()
		registryCache = cache.NewRedisCache(redisConn)
	}
	projects := registry.NewPostgres(pool)
	cachedProjects := registry.NewCached(projects, registryCache, cfg.RegistryCacheTTL)

	var notifier service.Notifier = notify.NewLogNotifier(logger)
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.KafkaBrokers})
		if err != nil {
			logger.Fatal(ctx, "cannot create kafka producer", zap.Error(err))
		}
		defer func() { _ = producer.Close() }()
		notifier = notify.NewKafkaNotifier(producer, cfg.KafkaNotifyTopic)
	}

	var mailer service.Mailer = mail.NewConsoleMailer(logger, cfg.AppName)
	if cfg.SendGridAPIKey != "" {
		mailer = mail.NewSendGridMailer(cfg.SendGridAPIKey, cfg.AppName, cfg.MailFrom)
	}

	queue := worker.New(worker.Config{Workers: cfg.QueueWorkers, Size: cfg.QueueSize}, logger)
	queue.Start()

	svc := service.New(service.Config{
		Environment:            cfg.Environment,
		AllowPlaintextFallback: cfg.AllowPlaintextFallback,
		DigestAlgorithm:        cfg.DigestAlgorithm,
	}, service.Deps{
		Repo:      repo,
		Registry:  cachedProjects,
		Directory: projects,
		Store:     store,
		Sealer:    sealer,
		Scanner:   scanner,
		Audit:     auditStore,
		Notifier:  notifier,
		Mailer:    mailer,
		Templates: mail.NewTemplates(cfg.AppName, cfg.FrontendBaseURL),
		Queue:     queue,
		Logger:    logger,
	})

	authMiddleware := middleware.NewAuthMiddleware([]byte(cfg.JWTSecret))
	submissionHandler := handler.NewSubmissionHandler(svc)
	auditHandler := handler.NewAuditHandler(auditStore)

	r := chi.NewRouter()
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/submissions", func(r chi.Router) {
		submissionHandler.RegisterRoutes(r, authMiddleware)
	})

	r.Route("/audit", func(r chi.Router) {
		auditHandler.RegisterRoutes(r, authMiddleware, middleware.RequireRole(domain.UserRoleAdmin))
	})

	port := fmt.Sprintf(":%d", cfg.HTTPPort)
	logger.Info(ctx, "Starting server", zap.String("port", port), zap.String("env", cfg.Environment))

	srv := &http.Server{
		Addr:              port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "cannot start http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info(ctx, "Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "server forced to shutdown", zap.Error(err))
	}
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "background queue did not drain", zap.Error(err))
	}
	logger.Info(ctx, "Server stopped")
}

func newRepository(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *logging.Logger) repository.SubmissionRepository {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn(ctx, "submissions are kept in memory and lost on restart")
		return repository.NewMemory()
	}
	return repository.NewPostgres(pool)
}

// newSealer returns nil when no key is available outside production. Uploads
// then fail unless the plaintext fallback is enabled.
func newSealer(ctx context.Context, cfg *config.Config, logger *logging.Logger) service.Sealer {
	key, insecure, err := envelope.ResolveKey(envelope.KeySource{
		Raw:                  cfg.FileEncryptionKey,
		Environment:          cfg.Environment,
		AllowInsecureZeroKey: cfg.AllowInsecureZeroKey,
	})
	if err != nil {
		if cfg.Production() {
			logger.Fatal(ctx, "encryption key unavailable", zap.Error(err))
		}
		logger.Warn(ctx, "encryption key unavailable, uploads cannot be sealed", zap.Error(err))
		return nil
	}
	if insecure {
		logger.Warn(ctx, "INSECURE: sealing with the all-zero development key")
	}
	codec, err := envelope.NewCodec(key)
	if err != nil {
		logger.Fatal(ctx, "cannot create envelope codec", zap.Error(err))
	}
	return codec
}
