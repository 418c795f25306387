// main.go: точка входа docgate.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/docgate/internal/api/handlers"
	"github.com/bigkaa/docgate/internal/api/middleware"
	"github.com/bigkaa/docgate/internal/config"
	"github.com/bigkaa/docgate/internal/database"
	"github.com/bigkaa/docgate/internal/gate"
	"github.com/bigkaa/docgate/internal/repository"
	"github.com/bigkaa/docgate/internal/server"
	"github.com/bigkaa/docgate/internal/service"
	"github.com/bigkaa/docgate/internal/ssoclient"
	"github.com/bigkaa/docgate/internal/storage/edgecache"
	"github.com/bigkaa/docgate/internal/storage/objectstore"
)

// Параметры проверки RS256 upload-токенов через JWKS.
const (
	jwksClientTimeout   = 10 * time.Second
	jwksRefreshInterval = 15 * time.Minute
	jwtLeeway           = 5 * time.Second
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("docgate запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store_backend", cfg.StoreBackend),
	)

	// 3. Миграции БД
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Репозитории
	fileRepo := repository.NewFileRepository(pool)
	popularityRepo := repository.NewPopularityRepository(pool)

	// 6. Объектное хранилище
	store, storeChecker, s3HealthURL, err := buildStore(cfg)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Объектное хранилище готово", slog.String("backend", cfg.StoreBackend))

	// 7. Edge cache: local LRU + опциональный Redis
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		logger.Info("Redis-уровень edge cache включён", slog.String("addr", cfg.RedisAddr))
	}
	cache := edgecache.New(edgecache.Config{
		MaxEntries:    cfg.CacheMaxEntries,
		TTL:           cfg.CacheTTL,
		MaxObjectSize: cfg.CacheMaxObjectSize,
		RedisPrefix:   cfg.RedisPrefix,
	}, redisClient, logger)

	// 8. Телеметрия: лог + опциональный NATS
	sinks := []service.TelemetrySink{service.NewLogSink(logger)}
	var natsSink *service.NATSSink
	if cfg.NATSURL != "" {
		natsSink, err = service.NewNATSSink(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			logger.Warn("NATS недоступен, телеметрия только в лог", slog.String("error", err.Error()))
		} else {
			defer natsSink.Close()
			sinks = append(sinks, natsSink)
		}
	}
	telemetry := service.NewTelemetry(sinks...)

	// 9. Фоновые задачи и счётчик популярности
	bg := service.NewBackground(logger)
	popularity, err := service.NewPopularityCounter(ctx, popularityRepo, logger)
	if err != nil {
		logger.Error("Ошибка инициализации счётчика популярности", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 10. Access Gate
	sessions := gate.NewSessionSigner(cfg.SessionSecret, cfg.SessionMaxAge, cfg.CookieSecure)
	accessGate := gate.New(cfg.AllowedNetworks, cfg.Token, sessions, cfg.TrustedProxyHeader, cfg.TrustedProxies)

	// 11. Бизнес-сервисы
	uploadSvc := service.NewUploadService(fileRepo, store, service.UploadConfig{
		MaxObjectSize: cfg.MaxObjectSize,
		UploaderQuota: cfg.UploaderQuota,
	}, logger)
	reconcileSvc := service.NewReconcileService(fileRepo, store, cfg.S3Bucket, cfg.MaxObjectSize, logger)
	publishSvc := service.NewPublishService(fileRepo, store, cfg.TagRemovalConcurrency, logger)
	deliverySvc := service.NewDeliveryService(store, accessGate, cache, popularity, telemetry, bg, cfg.SiteBaseURL, logger)

	// 12. Sweeper: Pending → Timeout, Uploaded → Expired
	sweeper := service.NewSweeperService(fileRepo, store, service.SweeperConfig{
		Interval:       cfg.SweepInterval,
		PendingTimeout: cfg.PendingTimeout,
		UploadedTTL:    cfg.UploadedTTL,
	}, deliverySvc.Invalidate, logger)
	sweeper.Start(ctx)

	// 13. Upload JWT: RS256 через JWKS или HS256 с общим секретом
	var uploaderAuth *middleware.UploaderAuth
	if cfg.UploadJWKSURL != "" {
		uploaderAuth, err = middleware.NewUploaderAuthJWKS(middleware.JWKSConfig{
			URL:             cfg.UploadJWKSURL,
			ClientTimeout:   jwksClientTimeout,
			RefreshInterval: jwksRefreshInterval,
			Leeway:          jwtLeeway,
		}, logger)
		if err != nil {
			logger.Error("Ошибка инициализации JWKS", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Upload JWT: RS256 через JWKS", slog.String("jwks_url", cfg.UploadJWKSURL))
	} else {
		uploaderAuth = middleware.NewUploaderAuthHS256(cfg.SessionSecret, jwtLeeway, logger)
	}

	// 14. Health checks
	checkers := []handlers.NamedChecker{
		{Name: "postgresql", Checker: database.NewReadinessChecker(pool)},
		{Name: "object-store", Checker: storeChecker},
	}
	if redisClient != nil {
		checkers = append(checkers, handlers.NamedChecker{
			Name: "redis", Checker: edgecache.NewReadinessChecker(redisClient), Optional: true,
		})
	}
	if natsSink != nil {
		checkers = append(checkers, handlers.NamedChecker{
			Name: "nats", Checker: service.NewNATSReadinessChecker(natsSink), Optional: true,
		})
	}

	// 15. API handler
	apiHandler := handlers.NewAPIHandler(handlers.Deps{
		Health:     handlers.NewHealthHandler(checkers...),
		Uploads:    uploadSvc,
		Reconciler: reconcileSvc,
		Publisher:  publishSvc,
		Files:      fileRepo,
		Delivery:   deliverySvc,
		Store:      store,
		Popularity: popularity,
		Gate:       accessGate,
		Sessions:   sessions,
		SSO:        ssoclient.New(cfg.SSOVerifyURL, ssoclient.DefaultTimeout, logger),
		Token:      cfg.Token,
	}, logger)

	// 16. topologymetrics: мониторинг зависимостей (PostgreSQL + S3)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"docgate",
		cfg.DephealthGroup,
		service.DephealthDeps{DB: pgDB, PGURL: cfg.DatabaseURL(), S3URL: s3HealthURL},
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	}

	// 17. HTTP-сервер
	router := server.NewRouter(apiHandler, server.Auth{
		Uploader: uploaderAuth.Middleware(),
		Store:    middleware.BearerToken(cfg.Token),
		Site:     middleware.BearerToken(cfg.SiteToken),
	},
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger, accessGate),
		middleware.CORS(cfg.CORSOrigins),
	)
	srv := server.New(cfg, logger, router)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
	}

	// 18. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	sweeper.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := bg.Wait(shutdownCtx); err != nil {
		logger.Warn("Не все фоновые задачи завершились", slog.String("error", err.Error()))
	}
	cancel()
	popularity.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("docgate остановлен")
}

// buildStore создаёт бэкенд хранилища, его проверку готовности и URL
// для topologymetrics (пустой для local).
func buildStore(cfg *config.Config) (objectstore.Store, handlers.ReadinessChecker, string, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendS3:
		s3, err := objectstore.NewS3(objectstore.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
			Region:    cfg.S3Region,
		})
		if err != nil {
			return nil, nil, "", err
		}
		return s3, objectstore.NewS3ReadinessChecker(s3), cfg.S3HealthURL(), nil
	default:
		local, err := objectstore.NewLocal(cfg.StoreLocalDir)
		if err != nil {
			return nil, nil, "", err
		}
		return local, objectstore.NewLocalReadinessChecker(local), "", nil
	}
}

// Проверка на этапе компиляции: сервисы удовлетворяют интерфейсам обработчиков.
var (
	_ handlers.Uploader           = (*service.UploadService)(nil)
	_ handlers.Reconciler         = (*service.ReconcileService)(nil)
	_ handlers.Publisher          = (*service.PublishService)(nil)
	_ handlers.Deliverer          = (*service.DeliveryService)(nil)
	_ handlers.RankLister         = (*service.PopularityCounter)(nil)
	_ handlers.UnpublishedLister  = repository.FileRepository(nil)
	_ handlers.CredentialVerifier = (*ssoclient.Client)(nil)
)
