// Точка входа tgvault — файлового хранилища поверх Telegram.
// Загружает конфигурацию, применяет миграции, создаёт ленивое подключение
// к PostgreSQL, выбирает Blob Backend (Telegram или S3), собирает
// сервисный слой и API handlers, запускает topologymetrics и
// HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/tgvault/internal/api/handlers"
	"github.com/bigkaa/tgvault/internal/api/middleware"
	"github.com/bigkaa/tgvault/internal/blob"
	fsblob "github.com/bigkaa/tgvault/internal/blob/fs"
	"github.com/bigkaa/tgvault/internal/blob/s3"
	"github.com/bigkaa/tgvault/internal/blob/telegram"
	"github.com/bigkaa/tgvault/internal/chunk"
	"github.com/bigkaa/tgvault/internal/config"
	"github.com/bigkaa/tgvault/internal/database"
	"github.com/bigkaa/tgvault/internal/repository"
	"github.com/bigkaa/tgvault/internal/server"
	"github.com/bigkaa/tgvault/internal/service"
)

// storageBackend — Blob Backend с проверкой доступности.
type storageBackend interface {
	blob.Backend
	Ping(ctx context.Context) error
}

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("tgvault запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("backend", cfg.Backend),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL: пул создаётся при первом запросе
	ctx := context.Background()
	db := database.NewLazy(cfg, logger)
	defer db.Close()

	// 5. Blob Backend
	backend, backendName, err := newBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка создания Blob Backend", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Repositories
	fileRepo := repository.NewFileRepository(db)
	folderRepo := repository.NewFolderRepository(db)

	// 7. Чанкование: разбиение при загрузке и сборка при скачивании
	uploader := chunk.NewUploader(backend, fileRepo, cfg.ChunkSize, cfg.UploadParallelism, logger)
	reassembler := chunk.NewReassembler(fileRepo, backend, logger)

	// 8. Services
	filesSvc := service.NewFileService(
		fileRepo, folderRepo, backend,
		uploader, reassembler,
		service.FileOptions{
			MaxObjectSize: cfg.MaxObjectSize,
			SpoolDir:      cfg.SpoolDir,
		},
		logger,
	)
	foldersSvc := service.NewFolderService(folderRepo, logger)

	// 9. Аутентификация (опционально, TV_AUTH_ENABLED=true)
	var (
		authSvc *service.AuthService
		jwtAuth *middleware.JWTAuth
	)
	if cfg.AuthEnabled {
		secret := []byte(cfg.JWTSecret)
		authSvc = service.NewAuthService(cfg.AdminEmail, cfg.AdminPassword, secret, cfg.JWTTTL, logger)
		jwtAuth = middleware.NewJWTAuth(secret, service.TokenIssuer, 5*time.Second, logger)
		logger.Info("JWT аутентификация включена",
			slog.String("issuer", service.TokenIssuer),
			slog.String("ttl", cfg.JWTTTL.String()),
		)
	} else {
		logger.Warn("Аутентификация отключена, API доступен без токена")
	}

	// 10. Readiness checkers (PostgreSQL + Blob Backend)
	pgChecker := database.NewReadinessChecker(db)
	backendChecker := service.NewBackendReadiness(backend)
	healthHandler := handlers.NewHealthHandler(pgChecker, backendChecker, backendName)

	// 11. API handler (реализует handlers.ServerInterface)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		filesSvc,
		foldersSvc,
		authSvc,
		jwtAuth,
		handlers.Options{
			MultipartMemory: cfg.MultipartMemory,
			MaxObjectSize:   cfg.MaxObjectSize,
			ChunkSize:       cfg.ChunkSize,
		},
		logger,
	)

	// 12. topologymetrics — мониторинг зависимостей (PostgreSQL + бэкенд)
	if dephealthSvc := startDephealth(ctx, cfg, db, backendName, logger); dephealthSvc != nil {
		defer dephealthSvc.Stop()
	}

	// 13. HTTP-сервер с JWT middleware
	srv := server.New(cfg, logger, apiHandler, jwtAuth)

	// 14. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("tgvault остановлен")
}

// newBackend создаёт Blob Backend по TV_BACKEND.
// Возвращает также имя зависимости для health и метрик.
func newBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storageBackend, string, error) {
	switch cfg.Backend {
	case config.BackendFS:
		s, err := fsblob.New(cfg.FSDataDir, cfg.BackendMaxObjectSize, logger)
		if err != nil {
			return nil, "", err
		}
		logger.Info("Blob Backend: локальный диск", slog.String("data_dir", cfg.FSDataDir))
		return s, "filesystem", nil
	case config.BackendS3:
		b, err := s3.New(ctx, s3.Options{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			UsePathStyle:  cfg.S3UsePathStyle,
			MaxObjectSize: cfg.BackendMaxObjectSize,
		}, logger)
		if err != nil {
			return nil, "", err
		}
		logger.Info("Blob Backend: S3", slog.String("bucket", cfg.S3Bucket))
		return b, "s3", nil
	default:
		c := telegram.New(telegram.Options{
			APIURL:        cfg.TelegramAPIURL,
			BotToken:      cfg.TelegramBotToken,
			ChatID:        cfg.TelegramChatID,
			RetryMax:      cfg.TelegramRetryMax,
			Timeout:       cfg.TelegramTimeout,
			MaxObjectSize: cfg.BackendMaxObjectSize,
			CacheSize:     cfg.ResolveCacheSize,
			CacheTTL:      cfg.ResolveCacheTTL,
		}, logger)
		logger.Info("Blob Backend: Telegram",
			slog.String("api_url", cfg.TelegramAPIURL),
			slog.String("chat_id", cfg.TelegramChatID),
		)
		return c, "telegram-bot-api", nil
	}
}

// startDephealth запускает мониторинг зависимостей.
// При недоступной БД или ошибке запуска сервис работает без мониторинга (nil).
func startDephealth(ctx context.Context, cfg *config.Config, db *database.Lazy, backendName string, logger *slog.Logger) *service.DephealthService {
	// pgcheck работает через *sql.DB поверх того же пула
	pool, err := db.Pool(ctx)
	if err != nil {
		logger.Warn("topologymetrics недоступен: нет подключения к PostgreSQL",
			slog.String("error", err.Error()),
		)
		return nil
	}

	dcfg := service.DephealthConfig{
		ServiceID:     "tgvault",
		Group:         cfg.DephealthGroup,
		DB:            stdlib.OpenDBFromPool(pool),
		PGConnURL:     cfg.DatabaseURL(),
		BackendName:   backendName,
		CheckInterval: cfg.DephealthCheckInterval,
	}
	if cfg.DephealthBackendURL != "" {
		// Load уже проверил URL
		u, _ := url.Parse(cfg.DephealthBackendURL)
		dcfg.BackendURL = u.Scheme + "://" + u.Host
		dcfg.BackendHealthPath = u.Path
	}

	dephealthSvc, err := service.NewDephealthService(dcfg, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		return nil
	}
	logger.Info("topologymetrics запущен",
		slog.String("group", cfg.DephealthGroup),
		slog.String("check_interval", cfg.DephealthCheckInterval.String()),
	)
	return dephealthSvc
}
