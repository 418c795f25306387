package config

import (
	"log/slog"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"
)

// allDGEnvVars: все переменные окружения, которые читает Load.
var allDGEnvVars = []string{
	"DG_PORT", "DG_LOG_LEVEL", "DG_LOG_FORMAT",
	"DG_HTTP_READ_TIMEOUT", "DG_HTTP_WRITE_TIMEOUT", "DG_HTTP_IDLE_TIMEOUT", "DG_SHUTDOWN_TIMEOUT",
	"DG_DB_HOST", "DG_DB_PORT", "DG_DB_NAME", "DG_DB_USER", "DG_DB_PASSWORD", "DG_DB_SSL_MODE",
	"DG_TOKEN", "DG_SESSION_SECRET", "DG_SITE_TOKEN", "DG_UPLOAD_JWKS_URL",
	"DG_ALLOWED_NETWORKS", "DG_TRUSTED_PROXY_HEADER", "DG_TRUSTED_PROXIES", "DG_SESSION_MAX_AGE", "DG_COOKIE_SECURE",
	"DG_STORE_BACKEND", "DG_STORE_LOCAL_DIR",
	"DG_S3_ENDPOINT", "DG_S3_ACCESS_KEY", "DG_S3_SECRET_KEY", "DG_S3_BUCKET", "DG_S3_USE_SSL", "DG_S3_REGION",
	"DG_CACHE_MAX_ENTRIES", "DG_CACHE_TTL", "DG_CACHE_MAX_OBJECT_SIZE",
	"DG_REDIS_ADDR", "DG_REDIS_PASSWORD", "DG_REDIS_DB", "DG_REDIS_PREFIX",
	"DG_NATS_URL", "DG_NATS_SUBJECT",
	"DG_SWEEP_INTERVAL", "DG_PENDING_TIMEOUT", "DG_UPLOADED_TTL",
	"DG_MAX_OBJECT_SIZE", "DG_UPLOADER_QUOTA", "DG_TAG_REMOVAL_CONCURRENCY",
	"DG_CORS_ORIGINS", "DG_SSO_VERIFY_URL", "DG_SITE_BASE_URL",
	"DG_DEPHEALTH_GROUP", "DG_DEPHEALTH_CHECK_INTERVAL",
}

// setEnvVars очищает все DG_* переменные, устанавливает переданные
// и восстанавливает исходное окружение по завершении теста.
func setEnvVars(t *testing.T, vars map[string]string) {
	t.Helper()

	originals := make(map[string]string)
	origSet := make(map[string]bool)
	for _, k := range allDGEnvVars {
		if v, ok := os.LookupEnv(k); ok {
			originals[k] = v
			origSet[k] = true
		}
		os.Unsetenv(k)
	}

	for k, v := range vars {
		os.Setenv(k, v)
	}

	t.Cleanup(func() {
		for _, k := range allDGEnvVars {
			if origSet[k] {
				os.Setenv(k, originals[k])
			} else {
				os.Unsetenv(k)
			}
		}
	})
}

// requiredEnvVars возвращает минимальный набор обязательных переменных.
func requiredEnvVars() map[string]string {
	return map[string]string{
		"DG_DB_HOST":        "localhost",
		"DG_DB_NAME":        "docgate",
		"DG_DB_USER":        "docgate",
		"DG_DB_PASSWORD":    "secret",
		"DG_TOKEN":          "shared-token",
		"DG_SESSION_SECRET": "session-secret",
		"DG_SITE_TOKEN":     "site-token",
	}
}

// withVars возвращает requiredEnvVars, дополненный extra.
func withVars(extra map[string]string) map[string]string {
	vars := requiredEnvVars()
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

func TestLoad_DefaultValues(t *testing.T) {
	setEnvVars(t, requiredEnvVars())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Port != 8040 {
		t.Errorf("Port: ожидалось 8040, получено %d", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel: ожидалось INFO, получено %v", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat: ожидалось 'json', получено %q", cfg.LogFormat)
	}
	if cfg.StoreBackend != StoreBackendLocal {
		t.Errorf("StoreBackend: ожидалось 'local', получено %q", cfg.StoreBackend)
	}
	if cfg.SessionMaxAge != 30*24*time.Hour {
		t.Errorf("SessionMaxAge: ожидалось 720h, получено %v", cfg.SessionMaxAge)
	}
	if cfg.SweepInterval != time.Hour {
		t.Errorf("SweepInterval: ожидалось 1h, получено %v", cfg.SweepInterval)
	}
	if cfg.PendingTimeout != time.Hour {
		t.Errorf("PendingTimeout: ожидалось 1h, получено %v", cfg.PendingTimeout)
	}
	if cfg.UploadedTTL != 14*24*time.Hour {
		t.Errorf("UploadedTTL: ожидалось 336h, получено %v", cfg.UploadedTTL)
	}
	if cfg.MaxObjectSize != 2*1024*1024*1024 {
		t.Errorf("MaxObjectSize: ожидалось 2 GiB, получено %d", cfg.MaxObjectSize)
	}
	if cfg.UploaderQuota != 5*1024*1024*1024 {
		t.Errorf("UploaderQuota: ожидалось 5 GiB, получено %d", cfg.UploaderQuota)
	}
	if cfg.TagRemovalConcurrency != 5 {
		t.Errorf("TagRemovalConcurrency: ожидалось 5, получено %d", cfg.TagRemovalConcurrency)
	}
	if cfg.TrustedProxyHeader != "" || len(cfg.TrustedProxies) != 0 {
		t.Errorf("по умолчанию IP клиента берётся из RemoteAddr: header=%q, proxies=%v",
			cfg.TrustedProxyHeader, cfg.TrustedProxies)
	}
	if !cfg.CookieSecure {
		t.Error("CookieSecure: ожидалось true")
	}
	if cfg.RedisAddr != "" {
		t.Errorf("RedisAddr: ожидалось пусто, получено %q", cfg.RedisAddr)
	}
	if len(cfg.AllowedNetworks) != 0 {
		t.Errorf("AllowedNetworks: ожидалось 0, получено %d", len(cfg.AllowedNetworks))
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	for _, key := range []string{"DG_DB_HOST", "DG_TOKEN", "DG_SESSION_SECRET", "DG_SITE_TOKEN"} {
		t.Run(key, func(t *testing.T) {
			vars := requiredEnvVars()
			delete(vars, key)
			setEnvVars(t, vars)

			_, err := Load()
			if err == nil {
				t.Fatalf("ожидалась ошибка при отсутствии %s", key)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("ошибка должна упоминать %s: %v", key, err)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"порт не число", "DG_PORT", "abc"},
		{"порт вне диапазона", "DG_PORT", "70000"},
		{"уровень логов", "DG_LOG_LEVEL", "verbose"},
		{"формат логов", "DG_LOG_FORMAT", "xml"},
		{"ssl mode", "DG_DB_SSL_MODE", "prefer"},
		{"бэкенд", "DG_STORE_BACKEND", "ftp"},
		{"CIDR", "DG_ALLOWED_NETWORKS", "10.0.0.0/33"},
		{"длительность", "DG_SWEEP_INTERVAL", "1 hour"},
		{"нулевая длительность", "DG_PENDING_TIMEOUT", "0s"},
		{"размер", "DG_MAX_OBJECT_SIZE", "-1"},
		{"параллелизм", "DG_TAG_REMOVAL_CONCURRENCY", "0"},
		{"bool", "DG_COOKIE_SECURE", "yes"},
		{"site url", "DG_SITE_BASE_URL", "not a url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnvVars(t, withVars(map[string]string{tt.key: tt.val}))

			_, err := Load()
			if err == nil {
				t.Fatalf("ожидалась ошибка для %s=%q", tt.key, tt.val)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("ошибка должна упоминать %s: %v", tt.key, err)
			}
		})
	}
}

func TestLoad_S3BackendRequiresCredentials(t *testing.T) {
	setEnvVars(t, withVars(map[string]string{"DG_STORE_BACKEND": "s3"}))

	if _, err := Load(); err == nil {
		t.Fatal("ожидалась ошибка: для s3 обязателен DG_S3_ENDPOINT")
	}

	setEnvVars(t, withVars(map[string]string{
		"DG_STORE_BACKEND": "s3",
		"DG_S3_ENDPOINT":   "minio:9000",
		"DG_S3_ACCESS_KEY": "access",
		"DG_S3_SECRET_KEY": "secret",
		"DG_S3_USE_SSL":    "false",
	}))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if cfg.S3Bucket != "docgate" {
		t.Errorf("S3Bucket: ожидалось 'docgate', получено %q", cfg.S3Bucket)
	}
	if cfg.S3HealthURL() != "http://minio:9000" {
		t.Errorf("S3HealthURL() = %q, ожидался http://minio:9000", cfg.S3HealthURL())
	}
}

func TestLoad_AllowedNetworks(t *testing.T) {
	setEnvVars(t, withVars(map[string]string{
		"DG_ALLOWED_NETWORKS": "10.0.0.0/8, 192.168.1.7 ,2001:db8::/32",
	}))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(cfg.AllowedNetworks) != 3 {
		t.Fatalf("AllowedNetworks: ожидалось 3, получено %d", len(cfg.AllowedNetworks))
	}
	if got := cfg.AllowedNetworks[1].String(); got != "192.168.1.7/32" {
		t.Errorf("одиночный IP: ожидалось 192.168.1.7/32, получено %s", got)
	}
}

func TestLoad_TrustedProxy(t *testing.T) {
	setEnvVars(t, withVars(map[string]string{
		"DG_TRUSTED_PROXY_HEADER": "X-Real-IP",
		"DG_TRUSTED_PROXIES":      "172.16.0.0/12, 127.0.0.1",
	}))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if cfg.TrustedProxyHeader != "X-Real-IP" {
		t.Errorf("TrustedProxyHeader: получено %q", cfg.TrustedProxyHeader)
	}
	if len(cfg.TrustedProxies) != 2 {
		t.Fatalf("TrustedProxies: ожидалось 2, получено %d", len(cfg.TrustedProxies))
	}
}

// TestLoad_TrustedProxyHeaderWithoutProxies: заголовок без списка прокси
// принимался бы от любого клиента.
func TestLoad_TrustedProxyHeaderWithoutProxies(t *testing.T) {
	setEnvVars(t, withVars(map[string]string{
		"DG_TRUSTED_PROXY_HEADER": "X-Real-IP",
	}))

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "DG_TRUSTED_PROXIES") {
		t.Fatalf("ожидалась ошибка DG_TRUSTED_PROXIES, получено %v", err)
	}
}

func TestParseCSV(t *testing.T) {
	got := parseCSV(" a, ,b,c ")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("parseCSV: ожидалось %v, получено %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("parseCSV[%d] = %q, ожидался %q", i, got[i], want[i])
		}
	}
	if parseCSV("") != nil {
		t.Error("parseCSV(\"\") должен возвращать nil")
	}
}

func TestDatabaseURLs(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		migrate string
		dsn     string
	}{
		{
			name:    "спецсимволы в пароле",
			cfg:     Config{DBHost: "db", DBPort: 5432, DBName: "docgate", DBUser: "user", DBPassword: "p@ss/word", DBSSLMode: "disable"},
			migrate: "pgx5://user:p%40ss%2Fword@db:5432/docgate?sslmode=disable",
			dsn:     "postgres://user:p%40ss%2Fword@db:5432/docgate?sslmode=disable",
		},
		{
			name:    "пробел и двоеточие",
			cfg:     Config{DBHost: "db", DBPort: 5432, DBName: "docgate", DBUser: "dg user", DBPassword: "a b:c?", DBSSLMode: "require"},
			migrate: "pgx5://dg%20user:a%20b%3Ac%3F@db:5432/docgate?sslmode=require",
			dsn:     "postgres://dg%20user:a%20b%3Ac%3F@db:5432/docgate?sslmode=require",
		},
		{
			name:    "IPv6-адрес",
			cfg:     Config{DBHost: "::1", DBPort: 6432, DBName: "docgate", DBUser: "u", DBPassword: "p", DBSSLMode: "disable"},
			migrate: "pgx5://u:p@[::1]:6432/docgate?sslmode=disable",
			dsn:     "postgres://u:p@[::1]:6432/docgate?sslmode=disable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.MigrateURL(); got != tt.migrate {
				t.Errorf("MigrateURL() = %q, ожидался %q", got, tt.migrate)
			}
			if got := tt.cfg.DatabaseDSN(); got != tt.dsn {
				t.Errorf("DatabaseDSN() = %q, ожидался %q", got, tt.dsn)
			}
			u, err := url.Parse(tt.cfg.MigrateURL())
			if err != nil {
				t.Fatalf("MigrateURL() не разбирается: %v", err)
			}
			if pw, _ := u.User.Password(); pw != tt.cfg.DBPassword || u.User.Username() != tt.cfg.DBUser {
				t.Errorf("учётные данные искажены: %q/%q", u.User.Username(), pw)
			}
		})
	}

	cfg := Config{DBHost: "db", DBPort: 5432, DBName: "docgate", DBUser: "u", DBPassword: "secret"}
	if got := cfg.DatabaseURL(); got != "postgres://db:5432/docgate" {
		t.Errorf("DatabaseURL() = %q", got)
	}
}
