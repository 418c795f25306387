// logging.go: журнал доступа docgate.
// Клиент определяется так же, как при проверке доступа к /files/*,
// секреты из query маскируются.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ClientIPResolver определяет адрес клиента запроса с учётом доверенных прокси.
type ClientIPResolver interface {
	ClientIP(r *http.Request) net.IP
}

// redactedParams: параметры query, значения которых не попадают в лог
// (/api/rank?token=).
var redactedParams = map[string]bool{
	"token": true,
}

const redactedValue = "***"

// responseWriter перехватывает статус и размер ответа.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap нужен http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// RequestLogger пишет запись журнала доступа на каждый запрос.
// Уровень: INFO для 1xx-3xx, WARN для 4xx, ERROR для 5xx.
func RequestLogger(logger *slog.Logger, clients ClientIPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			level := slog.LevelInfo
			switch {
			case wrapped.statusCode >= 500:
				level = slog.LevelError
			case wrapped.statusCode >= 400:
				level = slog.LevelWarn
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("route", normalizePath(r.URL.Path)),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
				slog.String("client_ip", clientAddr(clients, r)),
			}
			if q := redactQuery(r.URL.RawQuery); q != "" {
				attrs = append(attrs, slog.String("query", q))
			}
			if rng := r.Header.Get("Range"); rng != "" {
				attrs = append(attrs, slog.String("range", rng))
			}
			logger.LogAttrs(r.Context(), level, "HTTP запрос", attrs...)
		})
	}
}

func clientAddr(clients ClientIPResolver, r *http.Request) string {
	if clients != nil {
		if ip := clients.ClientIP(r); ip != nil {
			return ip.String()
		}
	}
	return r.RemoteAddr
}

// redactQuery возвращает query с замаскированными значениями секретов.
// Неразбираемый query целиком заменяется маской.
func redactQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return redactedValue
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range values[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			if redactedParams[strings.ToLower(k)] {
				b.WriteString(redactedValue)
			} else {
				b.WriteString(url.QueryEscape(v))
			}
		}
	}
	return b.String()
}
