// metrics.go: Prometheus HTTP метрики docgate.
// Регистрирует метрики: dg_http_requests_total, dg_http_request_duration_seconds.
// Бизнес-метрики (dg_downloads_total, dg_sweep_* и др.) регистрируются
// в сервисном слое.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dg_http_requests_total",
			Help: "Общее количество HTTP-запросов к docgate",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dg_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к docgate в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			status := strconv.Itoa(wrapped.statusCode)
			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath заменяет имена файлов на {path} для ограничения
// кардинальности метрик.
// /files/0123….pdf → /files/{path}
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/s3/files/"):
		return "/api/s3/files/{path}"
	case strings.HasPrefix(path, "/files/"):
		return "/files/{path}"
	case strings.HasPrefix(path, "/api/"), strings.HasPrefix(path, "/health/"), path == "/metrics":
		return path
	}
	return "other"
}
