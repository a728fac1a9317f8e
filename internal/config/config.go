// Пакет config — загрузка и валидация конфигурации tgvault
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Типы Blob Backend.
const (
	BackendTelegram = "telegram"
	BackendS3       = "s3"
	BackendFS       = "fs"
)

// Config содержит все параметры конфигурации tgvault.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера. Загрузка чанка в 1 GiB требует большого значения.
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (0 — без ограничения, для длинных скачиваний)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера
	HTTPIdleTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Blob Backend ---

	// Тип бэкенда: telegram, s3, fs
	Backend string

	// Токен Telegram-бота
	TelegramBotToken string
	// Идентификатор канала/чата для хранения документов
	TelegramChatID string
	// Базовый URL Bot API (локальный Bot API server снимает лимит 50 MB)
	TelegramAPIURL string
	// Количество повторов идемпотентных запросов (getFile, скачивание)
	TelegramRetryMax int
	// Таймаут одного запроса к Bot API
	TelegramTimeout time.Duration

	// S3: endpoint (пусто — AWS), регион, бакет, учётные данные
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Каталог данных локального бэкенда (fs)
	FSDataDir string

	// --- Чанкование ---

	// Размер чанка для загрузки больших файлов
	ChunkSize int64
	// Максимальный размер целого (нечанкованного) файла
	MaxObjectSize int64
	// Лимит бэкенда на размер одного объекта
	BackendMaxObjectSize int64
	// Объём памяти для разбора multipart (остальное — во временные файлы)
	MultipartMemory int64
	// Количество параллельных загрузок чанков (1 — последовательно)
	UploadParallelism int
	// Каталог для временных файлов upload-large (пусто — os.TempDir)
	SpoolDir string

	// --- Кэш resolve (file_id → file_path) ---

	ResolveCacheSize int
	ResolveCacheTTL  time.Duration

	// --- Аутентификация ---

	// Включена проверка JWT на /api/v1/*
	AuthEnabled bool
	// Секрет HS256
	JWTSecret string
	// Время жизни выданного токена
	JWTTTL time.Duration
	// Учётные данные администратора
	AdminEmail    string
	AdminPassword string

	// --- Topology Metrics ---

	// Интервал проверки зависимостей (по умолчанию 15s)
	DephealthCheckInterval time.Duration
	// Группа в метриках topologymetrics
	DephealthGroup string
	// URL health-check бэкенда (пусто — бэкенд проверяется только в /health/ready)
	DephealthBackendURL string

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// TV_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("TV_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("TV_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("TV_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// TV_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("TV_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("TV_LOG_LEVEL: %w", err)
	}

	// TV_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("TV_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("TV_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("TV_HTTP_READ_TIMEOUT", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TV_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("TV_HTTP_WRITE_TIMEOUT", 0)
	if err != nil {
		return nil, fmt.Errorf("TV_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("TV_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TV_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	// TV_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("TV_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("TV_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("TV_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("TV_DB_NAME", "tgvault")
	cfg.DBUser, err = getEnvRequired("TV_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("TV_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("TV_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("TV_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Blob Backend ---

	// TV_BACKEND — тип бэкенда (по умолчанию telegram)
	cfg.Backend = strings.ToLower(getEnvDefault("TV_BACKEND", BackendTelegram))
	switch cfg.Backend {
	case BackendTelegram:
		cfg.TelegramBotToken, err = getEnvRequired("TV_TELEGRAM_BOT_TOKEN")
		if err != nil {
			return nil, err
		}
		cfg.TelegramChatID, err = getEnvRequired("TV_TELEGRAM_CHAT_ID")
		if err != nil {
			return nil, err
		}
	case BackendS3:
		cfg.S3Bucket, err = getEnvRequired("TV_S3_BUCKET")
		if err != nil {
			return nil, err
		}
		cfg.S3Endpoint = strings.TrimRight(getEnvDefault("TV_S3_ENDPOINT", ""), "/")
		if cfg.S3Endpoint != "" {
			if _, err := url.ParseRequestURI(cfg.S3Endpoint); err != nil {
				return nil, fmt.Errorf("TV_S3_ENDPOINT: некорректный URL %q", cfg.S3Endpoint)
			}
		}
		cfg.S3Region = getEnvDefault("TV_S3_REGION", "us-east-1")
		cfg.S3AccessKey = getEnvDefault("TV_S3_ACCESS_KEY", "")
		cfg.S3SecretKey = getEnvDefault("TV_S3_SECRET_KEY", "")
		cfg.S3UsePathStyle, err = getEnvBool("TV_S3_USE_PATH_STYLE", cfg.S3Endpoint != "")
		if err != nil {
			return nil, fmt.Errorf("TV_S3_USE_PATH_STYLE: %w", err)
		}
	case BackendFS:
		cfg.FSDataDir, err = getEnvRequired("TV_FS_DATA_DIR")
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("TV_BACKEND: недопустимое значение %q, допустимые: telegram, s3, fs", cfg.Backend)
	}

	cfg.TelegramAPIURL = strings.TrimRight(getEnvDefault("TV_TELEGRAM_API_URL", "https://api.telegram.org"), "/")
	cfg.TelegramRetryMax, err = getEnvInt("TV_TELEGRAM_RETRY_MAX", 3)
	if err != nil {
		return nil, fmt.Errorf("TV_TELEGRAM_RETRY_MAX: %w", err)
	}
	if cfg.TelegramRetryMax < 0 {
		return nil, fmt.Errorf("TV_TELEGRAM_RETRY_MAX: значение должно быть >= 0")
	}
	cfg.TelegramTimeout, err = getEnvDuration("TV_TELEGRAM_TIMEOUT", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TV_TELEGRAM_TIMEOUT: %w", err)
	}

	// --- Чанкование ---

	cfg.ChunkSize, err = getEnvSize("TV_CHUNK_SIZE", units.GiB)
	if err != nil {
		return nil, fmt.Errorf("TV_CHUNK_SIZE: %w", err)
	}
	cfg.MaxObjectSize, err = getEnvSize("TV_MAX_OBJECT_SIZE", 2*units.GiB)
	if err != nil {
		return nil, fmt.Errorf("TV_MAX_OBJECT_SIZE: %w", err)
	}
	cfg.BackendMaxObjectSize, err = getEnvSize("TV_BACKEND_MAX_OBJECT_SIZE", 2*units.GiB)
	if err != nil {
		return nil, fmt.Errorf("TV_BACKEND_MAX_OBJECT_SIZE: %w", err)
	}
	cfg.MultipartMemory, err = getEnvSize("TV_MULTIPART_MEMORY", 32*units.MiB)
	if err != nil {
		return nil, fmt.Errorf("TV_MULTIPART_MEMORY: %w", err)
	}
	cfg.UploadParallelism, err = getEnvInt("TV_UPLOAD_PARALLELISM", 1)
	if err != nil {
		return nil, fmt.Errorf("TV_UPLOAD_PARALLELISM: %w", err)
	}
	cfg.SpoolDir = getEnvDefault("TV_SPOOL_DIR", "")
	if err := cfg.validateChunking(); err != nil {
		return nil, err
	}

	// --- Кэш resolve ---

	cfg.ResolveCacheSize, err = getEnvInt("TV_RESOLVE_CACHE_SIZE", 4096)
	if err != nil {
		return nil, fmt.Errorf("TV_RESOLVE_CACHE_SIZE: %w", err)
	}
	if cfg.ResolveCacheSize < 1 {
		return nil, fmt.Errorf("TV_RESOLVE_CACHE_SIZE: значение должно быть >= 1")
	}
	// Telegram гарантирует жизнь file_path не меньше часа
	cfg.ResolveCacheTTL, err = getEnvDuration("TV_RESOLVE_CACHE_TTL", 50*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TV_RESOLVE_CACHE_TTL: %w", err)
	}

	// --- Аутентификация ---

	cfg.AuthEnabled, err = getEnvBool("TV_AUTH_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("TV_AUTH_ENABLED: %w", err)
	}
	cfg.JWTSecret = getEnvDefault("TV_JWT_SECRET", "")
	cfg.AdminEmail = getEnvDefault("TV_ADMIN_EMAIL", "")
	cfg.AdminPassword = getEnvDefault("TV_ADMIN_PASSWORD", "")
	if cfg.AuthEnabled {
		if len(cfg.JWTSecret) < 32 {
			return nil, fmt.Errorf("TV_JWT_SECRET: при TV_AUTH_ENABLED=true секрет должен быть не короче 32 байт")
		}
		if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
			return nil, fmt.Errorf("TV_ADMIN_EMAIL, TV_ADMIN_PASSWORD: обязательны при TV_AUTH_ENABLED=true")
		}
	}
	cfg.JWTTTL, err = getEnvDurationFallback("TV_JWT_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("TV_JWT_TTL: %w", err)
	}

	// --- Topology Metrics ---

	cfg.DephealthCheckInterval, err = getEnvDuration("TV_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TV_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("TV_DEPHEALTH_GROUP", "tgvault")
	cfg.DephealthBackendURL = getEnvDefault("TV_DEPHEALTH_BACKEND_URL", "")
	if cfg.DephealthBackendURL != "" {
		if _, err := url.ParseRequestURI(cfg.DephealthBackendURL); err != nil {
			return nil, fmt.Errorf("TV_DEPHEALTH_BACKEND_URL: некорректный URL %q", cfg.DephealthBackendURL)
		}
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("TV_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TV_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// validateChunking проверяет согласованность размеров:
// 0 < chunk ≤ лимит бэкенда, целый файл ≤ лимит бэкенда.
func (c *Config) validateChunking() error {
	if c.BackendMaxObjectSize <= 0 {
		return fmt.Errorf("TV_BACKEND_MAX_OBJECT_SIZE: значение должно быть > 0")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("TV_CHUNK_SIZE: значение должно быть > 0")
	}
	if c.ChunkSize > c.BackendMaxObjectSize {
		return fmt.Errorf("TV_CHUNK_SIZE: %s превышает лимит бэкенда %s",
			units.BytesSize(float64(c.ChunkSize)), units.BytesSize(float64(c.BackendMaxObjectSize)))
	}
	if c.MaxObjectSize <= 0 {
		return fmt.Errorf("TV_MAX_OBJECT_SIZE: значение должно быть > 0")
	}
	if c.MaxObjectSize > c.BackendMaxObjectSize {
		return fmt.Errorf("TV_MAX_OBJECT_SIZE: %s превышает лимит бэкенда %s",
			units.BytesSize(float64(c.MaxObjectSize)), units.BytesSize(float64(c.BackendMaxObjectSize)))
	}
	if c.MultipartMemory <= 0 {
		return fmt.Errorf("TV_MULTIPART_MEMORY: значение должно быть > 0")
	}
	if c.UploadParallelism < 1 || c.UploadParallelism > 16 {
		return fmt.Errorf("TV_UPLOAD_PARALLELISM: значение %d вне допустимого диапазона 1-16", c.UploadParallelism)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без учётных данных (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvSize возвращает размер в байтах. Принимает двоичные единицы
// (1GiB, 512MiB, 64k) и число байт.
func getEnvSize(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := units.RAMInBytes(val)
	if err != nil {
		return 0, fmt.Errorf("некорректный размер: %q (примеры: 1GiB, 512MiB, 1048576)", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvDurationFallback возвращает положительный time.Duration из переменной окружения.
// Если переменная не задана, используется fallbackVal.
func getEnvDurationFallback(key string, fallbackVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, fallbackVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
