// Пакет config: загрузка и валидация конфигурации docgate
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды объектного хранилища.
const (
	StoreBackendLocal = "local"
	StoreBackendS3    = "s3"
)

// Config содержит все параметры конфигурации docgate.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown (HTTP + фоновые задачи)
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Секреты ---

	// Общий bearer-секрет (X-Byrdocs-Token, webhook, /api/rank)
	Token string
	// Секрет подписи session cookie и HS256 upload-токенов
	SessionSecret string
	// Bearer-токен публикующего сайта (/api/file/*)
	SiteToken string

	// --- Upload JWT ---

	// URL JWKS для RS256 upload-токенов (опционально, иначе HS256)
	UploadJWKSURL string

	// --- Access Gate ---

	// Разрешённые сети (CIDR)
	AllowedNetworks []*net.IPNet
	// Заголовок с IP клиента от reverse proxy (пусто: RemoteAddr)
	TrustedProxyHeader string
	// Сети reverse proxy, от которых принимается TrustedProxyHeader
	TrustedProxies []*net.IPNet
	// Максимальный возраст session cookie
	SessionMaxAge time.Duration
	// Secure flag для cookie
	CookieSecure bool

	// --- Объектное хранилище ---

	// Бэкенд: local, s3
	StoreBackend string
	// Директория local-бэкенда
	StoreLocalDir string
	// Параметры S3-бэкенда (MinIO / S3-совместимый)
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
	S3Region    string

	// --- Edge cache ---

	// Максимум записей in-process LRU
	CacheMaxEntries int
	// TTL записи кэша
	CacheTTL time.Duration
	// Максимальный размер объекта, попадающего в кэш
	CacheMaxObjectSize int64
	// Адрес Redis для shared tier (пусто: только in-process)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// --- Телеметрия ---

	// URL NATS (пусто: телеметрия только в лог)
	NATSURL string
	// Subject для событий скачивания
	NATSSubject string

	// --- Жизненный цикл ---

	// Интервал запуска sweeper
	SweepInterval time.Duration
	// Время жизни Pending-записи
	PendingTimeout time.Duration
	// Время жизни неопубликованной Uploaded-записи
	UploadedTTL time.Duration
	// Максимальный размер собранного объекта
	MaxObjectSize int64
	// Квота неопубликованных байт на загрузившего
	UploaderQuota int64
	// Параллелизм снятия тегов при публикации
	TagRemovalConcurrency int

	// --- Прочее ---

	// Разрешённые CORS origins
	CORSOrigins []string
	// URL внешнего SSO-верификатора (пусто: вход только из разрешённых сетей)
	SSOVerifyURL string
	// Базовый URL сайта (scheme+host ключа кэша)
	SiteBaseURL string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// DG_PORT: порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("DG_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("DG_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("DG_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DG_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DG_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("DG_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DG_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.HTTPReadTimeout, err = getEnvDuration("DG_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("DG_HTTP_READ_TIMEOUT: %w", err)
	}
	// Запись ответа может длиться долго: скачивание файлов до 2 GiB
	if cfg.HTTPWriteTimeout, err = getEnvDuration("DG_HTTP_WRITE_TIMEOUT", 30*time.Minute); err != nil {
		return nil, fmt.Errorf("DG_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("DG_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("DG_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("DG_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("DG_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("DG_DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = getEnvInt("DG_DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("DG_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("DG_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("DG_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("DG_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("DG_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("DG_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Секреты ---

	if cfg.Token, err = getEnvRequired("DG_TOKEN"); err != nil {
		return nil, err
	}
	if cfg.SessionSecret, err = getEnvRequired("DG_SESSION_SECRET"); err != nil {
		return nil, err
	}
	if cfg.SiteToken, err = getEnvRequired("DG_SITE_TOKEN"); err != nil {
		return nil, err
	}
	cfg.UploadJWKSURL = getEnvDefault("DG_UPLOAD_JWKS_URL", "")

	// --- Access Gate ---

	cfg.AllowedNetworks, err = parseCIDRs(parseCSV(getEnvDefault("DG_ALLOWED_NETWORKS", "")))
	if err != nil {
		return nil, fmt.Errorf("DG_ALLOWED_NETWORKS: %w", err)
	}
	cfg.TrustedProxyHeader = getEnvDefault("DG_TRUSTED_PROXY_HEADER", "")
	cfg.TrustedProxies, err = parseCIDRs(parseCSV(getEnvDefault("DG_TRUSTED_PROXIES", "")))
	if err != nil {
		return nil, fmt.Errorf("DG_TRUSTED_PROXIES: %w", err)
	}
	if cfg.TrustedProxyHeader != "" && len(cfg.TrustedProxies) == 0 {
		return nil, fmt.Errorf("DG_TRUSTED_PROXY_HEADER: требуется DG_TRUSTED_PROXIES")
	}
	if cfg.SessionMaxAge, err = getEnvDuration("DG_SESSION_MAX_AGE", 30*24*time.Hour); err != nil {
		return nil, fmt.Errorf("DG_SESSION_MAX_AGE: %w", err)
	}
	if cfg.CookieSecure, err = getEnvBool("DG_COOKIE_SECURE", true); err != nil {
		return nil, fmt.Errorf("DG_COOKIE_SECURE: %w", err)
	}

	// --- Объектное хранилище ---

	cfg.StoreBackend = getEnvDefault("DG_STORE_BACKEND", StoreBackendLocal)
	switch cfg.StoreBackend {
	case StoreBackendLocal:
		cfg.StoreLocalDir = getEnvDefault("DG_STORE_LOCAL_DIR", "./data")
	case StoreBackendS3:
		if cfg.S3Endpoint, err = getEnvRequired("DG_S3_ENDPOINT"); err != nil {
			return nil, err
		}
		if cfg.S3AccessKey, err = getEnvRequired("DG_S3_ACCESS_KEY"); err != nil {
			return nil, err
		}
		if cfg.S3SecretKey, err = getEnvRequired("DG_S3_SECRET_KEY"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("DG_STORE_BACKEND: недопустимое значение %q, допустимые: local, s3", cfg.StoreBackend)
	}
	cfg.S3Bucket = getEnvDefault("DG_S3_BUCKET", "docgate")
	if cfg.S3UseSSL, err = getEnvBool("DG_S3_USE_SSL", true); err != nil {
		return nil, fmt.Errorf("DG_S3_USE_SSL: %w", err)
	}
	cfg.S3Region = getEnvDefault("DG_S3_REGION", "")

	// --- Edge cache ---

	if cfg.CacheMaxEntries, err = getEnvInt("DG_CACHE_MAX_ENTRIES", 1000); err != nil {
		return nil, fmt.Errorf("DG_CACHE_MAX_ENTRIES: %w", err)
	}
	if cfg.CacheMaxEntries < 1 {
		return nil, fmt.Errorf("DG_CACHE_MAX_ENTRIES: значение должно быть > 0")
	}
	if cfg.CacheTTL, err = getEnvDuration("DG_CACHE_TTL", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("DG_CACHE_TTL: %w", err)
	}
	if cfg.CacheMaxObjectSize, err = getEnvInt64("DG_CACHE_MAX_OBJECT_SIZE", 32<<20); err != nil {
		return nil, fmt.Errorf("DG_CACHE_MAX_OBJECT_SIZE: %w", err)
	}
	cfg.RedisAddr = getEnvDefault("DG_REDIS_ADDR", "")
	cfg.RedisPassword = getEnvDefault("DG_REDIS_PASSWORD", "")
	if cfg.RedisDB, err = getEnvInt("DG_REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("DG_REDIS_DB: %w", err)
	}
	cfg.RedisPrefix = getEnvDefault("DG_REDIS_PREFIX", "edge:")

	// --- Телеметрия ---

	cfg.NATSURL = getEnvDefault("DG_NATS_URL", "")
	cfg.NATSSubject = getEnvDefault("DG_NATS_SUBJECT", "docgate.downloads")

	// --- Жизненный цикл ---

	if cfg.SweepInterval, err = getEnvDuration("DG_SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, fmt.Errorf("DG_SWEEP_INTERVAL: %w", err)
	}
	if cfg.PendingTimeout, err = getEnvDuration("DG_PENDING_TIMEOUT", time.Hour); err != nil {
		return nil, fmt.Errorf("DG_PENDING_TIMEOUT: %w", err)
	}
	if cfg.UploadedTTL, err = getEnvDuration("DG_UPLOADED_TTL", 14*24*time.Hour); err != nil {
		return nil, fmt.Errorf("DG_UPLOADED_TTL: %w", err)
	}
	if cfg.MaxObjectSize, err = getEnvInt64("DG_MAX_OBJECT_SIZE", 2<<30); err != nil {
		return nil, fmt.Errorf("DG_MAX_OBJECT_SIZE: %w", err)
	}
	if cfg.UploaderQuota, err = getEnvInt64("DG_UPLOADER_QUOTA", 5<<30); err != nil {
		return nil, fmt.Errorf("DG_UPLOADER_QUOTA: %w", err)
	}
	if cfg.TagRemovalConcurrency, err = getEnvInt("DG_TAG_REMOVAL_CONCURRENCY", 5); err != nil {
		return nil, fmt.Errorf("DG_TAG_REMOVAL_CONCURRENCY: %w", err)
	}
	if cfg.TagRemovalConcurrency < 1 {
		return nil, fmt.Errorf("DG_TAG_REMOVAL_CONCURRENCY: значение должно быть > 0")
	}

	// --- Прочее ---

	cfg.CORSOrigins = parseCSV(getEnvDefault("DG_CORS_ORIGINS", ""))
	cfg.SSOVerifyURL = getEnvDefault("DG_SSO_VERIFY_URL", "")
	cfg.SiteBaseURL = strings.TrimRight(getEnvDefault("DG_SITE_BASE_URL", "http://localhost"), "/")
	if u, parseErr := url.Parse(cfg.SiteBaseURL); parseErr != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("DG_SITE_BASE_URL: некорректный URL %q", cfg.SiteBaseURL)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("DG_DEPHEALTH_GROUP", "docgate")
	if cfg.DephealthCheckInterval, err = getEnvDuration("DG_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("DG_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает URL подключения pgxpool.
func (c *Config) DatabaseDSN() string {
	return c.postgresURL("postgres")
}

// DatabaseURL возвращает URL PostgreSQL без учётных данных (для меток topologymetrics).
func (c *Config) DatabaseURL() string {
	u := url.URL{Scheme: "postgres", Host: c.dbHostPort(), Path: "/" + c.DBName}
	return u.String()
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return c.postgresURL("pgx5")
}

// postgresURL собирает URL подключения; пользователь и пароль
// экранируются по правилам userinfo.
func (c *Config) postgresURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     c.dbHostPort(),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.DBSSLMode}}.Encode(),
	}
	return u.String()
}

func (c *Config) dbHostPort() string {
	return net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort))
}

// S3HealthURL возвращает URL для HTTP-проверки S3-бэкенда.
func (c *Config) S3HealthURL() string {
	scheme := "http"
	if c.S3UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.S3Endpoint)
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

// getEnvInt64: как getEnvInt, но для размеров в байтах.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	if n <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
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

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// parseCIDRs разбирает список CIDR. Одиночный IP трактуется как /32 (/128).
func parseCIDRs(items []string) ([]*net.IPNet, error) {
	result := make([]*net.IPNet, 0, len(items))
	for _, item := range items {
		if !strings.Contains(item, "/") {
			ip := net.ParseIP(item)
			if ip == nil {
				return nil, fmt.Errorf("некорректный адрес %q", item)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			result = append(result, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(item)
		if err != nil {
			return nil, fmt.Errorf("некорректный CIDR %q", item)
		}
		result = append(result, ipNet)
	}
	return result, nil
}
