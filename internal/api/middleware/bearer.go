// bearer.go: проверка статического Bearer-токена.
// DG_TOKEN: уведомления хранилища, DG_SITE_TOKEN: сайт публикации.
package middleware

import (
	"crypto/subtle"
	"net/http"

	apierrors "github.com/bigkaa/docgate/internal/api/errors"
)

// BearerToken возвращает middleware, требующий Authorization: Bearer <expected>.
func BearerToken(expected string) func(http.Handler) http.Handler {
	want := []byte(expected)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(w, r)
			if !ok {
				return
			}
			if len(want) == 0 || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
				apierrors.Unauthorized(w, "Неверный токен")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
