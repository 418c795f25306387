// cors.go: CORS для фронтенда сайта.
// Разрешённые origin перечислены в DG_CORS_ORIGINS; для остальных
// заголовки не выставляются.
package middleware

import "net/http"

const (
	corsAllowMethods = "GET,HEAD,POST,PUT,PATCH,DELETE,OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type, Range, X-Byrdocs-Token"
	corsMaxAge       = "86400"
)

// CORS возвращает middleware с заголовками CORS для разрешённых origin.
// Preflight-запросы (OPTIONS) завершаются ответом 204.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Credentials", "true")
					h.Set("Access-Control-Allow-Methods", corsAllowMethods)
					h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
					h.Set("Access-Control-Max-Age", corsMaxAge)
					h.Add("Vary", "Origin")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
